package socketio

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/edumarques81/stellar-playback/internal/domain/player"
	"github.com/edumarques81/stellar-playback/internal/domain/preload"
	"github.com/edumarques81/stellar-playback/internal/domain/preview"
)

// ErrUnavailable is returned for events whose backing service is not configured.
var ErrUnavailable = errors.New("service not available")

// replyFunc emits an event to the requesting client only.
type replyFunc func(event string, data any)

// command handles one client event. State changes are not replied to
// directly: they reach every client through the engine change broadcast.
type command func(ctx context.Context, p payload, reply replyFunc) error

// CacheStats is the pushCacheStats payload.
type CacheStats struct {
	Previews preview.Stats `json:"previews"`
	Buffers  preload.Stats `json:"buffers"`
}

// handle runs the command registered for event. Failures are reported to the
// requesting client as pushError.
func (s *Server) handle(event string, args []any, reply replyFunc) {
	cmd, ok := s.commands[event]
	if !ok {
		return
	}
	if err := cmd(s.ctx, parsePayload(args), reply); err != nil {
		log.Warn().Err(err).Str("event", event).Msg("Client event rejected")
		reply("pushError", map[string]interface{}{
			"event": event,
			"error": err.Error(),
		})
	}
}

func (s *Server) buildCommands() map[string]command {
	return map[string]command{
		// Reads
		"getState":         s.cmdGetState,
		"getQueue":         s.cmdGetQueue,
		"getContextTracks": s.cmdGetContextTracks,

		// Navigation
		"switchContext":   s.cmdSwitchContext,
		"playFromContext": s.cmdPlayFromContext,
		"next":            s.navigate(player.Next),
		"prev":            s.navigate(player.Prev),
		"trackEnded":      s.cmdTrackEnded,

		// Playback controls
		"play":       s.cmdPlay,
		"pause":      s.cmdPause,
		"stop":       s.cmdStop,
		"volume":     s.cmdVolume,
		"setShuffle": s.cmdSetShuffle,
		"setRepeat":  s.cmdSetRepeat,

		// Queue
		"addToQueue":        s.cmdAddToQueue,
		"removeFromQueue":   s.cmdRemoveFromQueue,
		"removeFromContext": s.cmdRemoveFromContext,
		"reorderQueue":      s.cmdReorderQueue,

		// Playlists
		"createPlaylist":        s.cmdCreatePlaylist,
		"deletePlaylist":        s.cmdDeletePlaylist,
		"renamePlaylist":        s.cmdRenamePlaylist,
		"addToPlaylist":         s.cmdAddToPlaylist,
		"removeFromPlaylist":    s.cmdRemoveFromPlaylist,
		"reorderPlaylistTracks": s.cmdReorderPlaylistTracks,

		// Read-only contexts
		"setAlbumContext":      s.cmdSetAlbumContext,
		"setCommunityPlaylist": s.cmdSetCommunityPlaylist,

		// Caches
		"prefetch":      s.cmdPrefetch,
		"getCacheStats": s.cmdGetCacheStats,
		"clearCache":    s.cmdClearCache,
	}
}

func (s *Server) cmdGetState(ctx context.Context, p payload, reply replyFunc) error {
	reply("pushState", s.statePayload())
	return nil
}

func (s *Server) cmdGetQueue(ctx context.Context, p payload, reply replyFunc) error {
	reply("pushQueue", s.queuePayload())
	return nil
}

func (s *Server) cmdGetContextTracks(ctx context.Context, p payload, reply replyFunc) error {
	c, err := p.contextID("context")
	if err != nil {
		return err
	}
	tracks, err := s.engine.Tracks(c)
	if err != nil {
		return err
	}
	reply("pushContextTracks", map[string]interface{}{
		"context":    c.String(),
		"modifiable": player.CanModify(c),
		"tracks":     tracks,
	})
	return nil
}

func (s *Server) cmdSwitchContext(ctx context.Context, p payload, reply replyFunc) error {
	c, err := p.contextID("context")
	if err != nil {
		return err
	}
	_, err = s.engine.SwitchContext(c)
	return err
}

func (s *Server) cmdPlayFromContext(ctx context.Context, p payload, reply replyFunc) error {
	c, err := p.contextID("context")
	if err != nil {
		return err
	}
	index, err := p.integer("index")
	if err != nil {
		return err
	}
	// The client may send the track it believes is at index; reject stale views.
	t, err := p.optTrack("track")
	if err != nil {
		return err
	}
	if t.ID != "" {
		tracks, err := s.engine.Tracks(c)
		if err != nil {
			return err
		}
		if index >= 0 && index < len(tracks) && tracks[index].ID != t.ID {
			return player.ErrTrackMismatch
		}
	}
	_, err = s.nav.PlayAt(ctx, c, index)
	return err
}

func (s *Server) navigate(dir player.Direction) command {
	return func(ctx context.Context, p payload, reply replyFunc) error {
		s.nav.Advance(ctx, dir)
		return nil
	}
}

func (s *Server) cmdTrackEnded(ctx context.Context, p payload, reply replyFunc) error {
	repeat := s.nav.TrackEnded(ctx)
	reply("pushTrackEnded", map[string]interface{}{"repeat": repeat})
	return nil
}

// cmdPlay resumes playback, or plays the given index of the active context.
func (s *Server) cmdPlay(ctx context.Context, p payload, reply replyFunc) error {
	if _, ok := p["value"]; ok {
		index, err := p.integer("value")
		if err != nil {
			return err
		}
		_, err = s.nav.PlayAt(ctx, s.engine.State().ActiveContext, index)
		return err
	}
	_, err := s.engine.SetPlaying(true)
	return err
}

func (s *Server) cmdPause(ctx context.Context, p payload, reply replyFunc) error {
	_, err := s.engine.SetPlaying(false)
	return err
}

func (s *Server) cmdStop(ctx context.Context, p payload, reply replyFunc) error {
	_, err := s.engine.Stop()
	return err
}

// cmdVolume takes a 0-100 value.
func (s *Server) cmdVolume(ctx context.Context, p payload, reply replyFunc) error {
	v, err := p.number("value")
	if err != nil {
		return err
	}
	_, err = s.engine.SetVolume(v / 100)
	return err
}

func (s *Server) cmdSetShuffle(ctx context.Context, p payload, reply replyFunc) error {
	on, err := p.boolean("value")
	if err != nil {
		return err
	}
	_, err = s.engine.SetShuffle(on)
	return err
}

func (s *Server) cmdSetRepeat(ctx context.Context, p payload, reply replyFunc) error {
	on, err := p.boolean("value")
	if err != nil {
		return err
	}
	_, err = s.engine.SetRepeat(on)
	return err
}

func (s *Server) cmdAddToQueue(ctx context.Context, p payload, reply replyFunc) error {
	t, err := p.track("track")
	if err != nil {
		return err
	}
	_, err = s.engine.AddToQueue(t, p.optBool("playNext", false))
	if err == nil && s.previews != nil && !t.HasPreview() {
		s.previews.Prefetch(t, preview.PriorityLow)
	}
	return err
}

func (s *Server) cmdRemoveFromQueue(ctx context.Context, p payload, reply replyFunc) error {
	index, err := p.integer("index")
	if err != nil {
		return err
	}
	_, err = s.engine.RemoveFromQueue(index)
	return err
}

func (s *Server) cmdRemoveFromContext(ctx context.Context, p payload, reply replyFunc) error {
	index, err := p.integer("index")
	if err != nil {
		return err
	}
	_, err = s.engine.RemoveFromContext(index)
	return err
}

func (s *Server) cmdReorderQueue(ctx context.Context, p payload, reply replyFunc) error {
	from, to, err := p.move()
	if err != nil {
		return err
	}
	_, err = s.engine.ReorderQueue(from, to)
	return err
}

func (s *Server) cmdCreatePlaylist(ctx context.Context, p payload, reply replyFunc) error {
	name, err := p.str("name")
	if err != nil {
		return err
	}
	tracks, err := p.tracks("tracks")
	if err != nil {
		return err
	}
	pl, _, err := s.engine.CreatePlaylist(name, tracks)
	if err != nil {
		return err
	}
	reply("pushPlaylistCreated", pl)
	return nil
}

func (s *Server) cmdDeletePlaylist(ctx context.Context, p payload, reply replyFunc) error {
	id, err := p.str("playlistId")
	if err != nil {
		return err
	}
	_, err = s.engine.DeletePlaylist(id)
	return err
}

func (s *Server) cmdRenamePlaylist(ctx context.Context, p payload, reply replyFunc) error {
	id, err := p.str("playlistId")
	if err != nil {
		return err
	}
	name, err := p.str("name")
	if err != nil {
		return err
	}
	_, err = s.engine.RenamePlaylist(id, name)
	return err
}

func (s *Server) cmdAddToPlaylist(ctx context.Context, p payload, reply replyFunc) error {
	id, err := p.str("playlistId")
	if err != nil {
		return err
	}
	t, err := p.track("track")
	if err != nil {
		return err
	}
	_, err = s.engine.AddToPlaylist(id, t)
	return err
}

func (s *Server) cmdRemoveFromPlaylist(ctx context.Context, p payload, reply replyFunc) error {
	id, err := p.str("playlistId")
	if err != nil {
		return err
	}
	index, err := p.integer("index")
	if err != nil {
		return err
	}
	_, err = s.engine.RemoveFromPlaylist(id, index)
	return err
}

func (s *Server) cmdReorderPlaylistTracks(ctx context.Context, p payload, reply replyFunc) error {
	id, err := p.str("playlistId")
	if err != nil {
		return err
	}
	from, to, err := p.move()
	if err != nil {
		return err
	}
	_, err = s.engine.ReorderPlaylistTracks(id, from, to)
	return err
}

func (s *Server) cmdSetAlbumContext(ctx context.Context, p payload, reply replyFunc) error {
	id, err := p.str("albumId")
	if err != nil {
		return err
	}
	tracks, err := p.tracks("tracks")
	if err != nil {
		return err
	}
	title, _ := p.str("title")
	artist, _ := p.str("artist")
	_, err = s.engine.SetAlbumContext(player.Album{
		ID:     id,
		Title:  strings.TrimSpace(title),
		Artist: artist,
		Tracks: tracks,
	})
	return err
}

func (s *Server) cmdSetCommunityPlaylist(ctx context.Context, p payload, reply replyFunc) error {
	tracks, err := p.tracks("tracks")
	if err != nil {
		return err
	}
	_, err = s.engine.SetCommunityPlaylist(tracks)
	return err
}

func (s *Server) cmdPrefetch(ctx context.Context, p payload, reply replyFunc) error {
	if s.previews == nil {
		return ErrUnavailable
	}
	t, err := p.track("track")
	if err != nil {
		return err
	}
	priority, _ := p.str("priority")
	s.previews.Prefetch(t, preview.ParsePriority(priority))
	return nil
}

func (s *Server) cmdGetCacheStats(ctx context.Context, p payload, reply replyFunc) error {
	reply("pushCacheStats", s.CacheStats())
	return nil
}

func (s *Server) cmdClearCache(ctx context.Context, p payload, reply replyFunc) error {
	if s.previews != nil {
		s.previews.Clear()
	}
	if s.buffers != nil {
		s.buffers.Clear()
	}
	log.Info().Msg("Caches cleared by client")
	reply("pushCacheStats", s.CacheStats())
	return nil
}

// CacheStats collects statistics from the configured caches.
func (s *Server) CacheStats() CacheStats {
	var stats CacheStats
	if s.previews != nil {
		stats.Previews = s.previews.Stats()
	}
	if s.buffers != nil {
		stats.Buffers = s.buffers.Stats()
	}
	return stats
}
