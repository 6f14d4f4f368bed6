package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/edumarques81/stellar-playback/internal/domain/player"
	"github.com/edumarques81/stellar-playback/internal/domain/preload"
	"github.com/edumarques81/stellar-playback/internal/domain/track"
	"github.com/edumarques81/stellar-playback/internal/transport/socketio"
	"github.com/edumarques81/stellar-playback/internal/version"
)

// audioPath is where preloaded buffers are served; the MPD output fetches
// them from here.
const audioPath = "/api/v1/audio/"

type statsSource interface {
	CacheStats() socketio.CacheStats
}

type bufferSource interface {
	Get(id string) (preload.Handle, bool)
}

type pinger interface {
	Ping() error
}

// routes holds what the HTTP endpoints read from. buffers and mpd may be nil.
type routes struct {
	engine    *player.Engine
	sockets   http.Handler
	stats     statsSource
	buffers   bufferSource
	mpd       pinger
	staticDir string
}

func (rt routes) handler() http.Handler {
	mux := http.NewServeMux()

	if rt.sockets != nil {
		mux.Handle("/socket.io/", rt.sockets)
	}
	mux.HandleFunc("/health", rt.health)
	mux.HandleFunc("/api/v1/version", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, version.GetInfo())
	})
	mux.HandleFunc("/api/v1/state", rt.state)
	mux.HandleFunc("/api/v1/cache/stats", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, rt.stats.CacheStats())
	})
	mux.HandleFunc("GET "+audioPath+"{id}", rt.audio)

	if rt.staticDir != "" {
		log.Info().Str("dir", rt.staticDir).Msg("Serving static files")
		mux.Handle("/", spaHandler(rt.staticDir))
	}

	return corsMiddleware(mux)
}

func (rt routes) health(w http.ResponseWriter, r *http.Request) {
	if rt.mpd == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "mpd": "disabled"})
		return
	}
	if err := rt.mpd.Ping(); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "error", "mpd": "disconnected"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "mpd": "connected"})
}

// state is the REST fallback for pushState/pushQueue.
func (rt routes) state(w http.ResponseWriter, r *http.Request) {
	s := rt.engine.State()
	body := s.ToJSON()
	queue := s.Queue
	if queue == nil {
		queue = []track.Ref{}
	}
	body["queue"] = queue
	writeJSON(w, http.StatusOK, body)
}

// audio serves a preloaded buffer. Range requests are honored so the output
// can seek.
func (rt routes) audio(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if rt.buffers == nil {
		http.Error(w, "preloading disabled", http.StatusNotFound)
		return
	}

	h, ok := rt.buffers.Get(id)
	if !ok {
		http.Error(w, "not preloaded", http.StatusNotFound)
		return
	}
	buf, ok := h.(interface{ Bytes() []byte })
	if !ok {
		http.Error(w, "buffer not readable", http.StatusInternalServerError)
		return
	}
	data := buf.Bytes()
	if data == nil {
		// Released between Get and Bytes.
		http.Error(w, "not preloaded", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", http.DetectContentType(data))
	http.ServeContent(w, r, id, time.Time{}, bytes.NewReader(data))
}

// spaHandler serves files from dir and falls back to index.html for unknown
// paths.
func spaHandler(dir string) http.Handler {
	fs := http.FileServer(http.Dir(dir))
	index := filepath.Join(dir, "index.html")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			http.ServeFile(w, r, index)
			return
		}
		if _, err := os.Stat(filepath.Join(dir, filepath.FromSlash(r.URL.Path))); os.IsNotExist(err) {
			http.ServeFile(w, r, index)
			return
		}
		fs.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("Failed to write JSON response")
	}
}
