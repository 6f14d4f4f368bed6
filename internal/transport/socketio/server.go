// Package socketio provides the Socket.io server for client communication.
package socketio

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/zishang520/socket.io/servers/socket/v3"
	"github.com/zishang520/socket.io/v3/pkg/types"

	"github.com/edumarques81/stellar-playback/internal/domain/player"
	"github.com/edumarques81/stellar-playback/internal/domain/preload"
	"github.com/edumarques81/stellar-playback/internal/domain/preview"
	"github.com/edumarques81/stellar-playback/internal/domain/track"
)

// DefaultBroadcastWindow is how long engine changes are collected before
// pushState/pushQueue go out.
const DefaultBroadcastWindow = 50 * time.Millisecond

// Navigator runs skips and track selection. *navigation.Coordinator satisfies it.
type Navigator interface {
	Advance(ctx context.Context, dir player.Direction) bool
	PlayAt(ctx context.Context, c player.ContextID, index int) (player.State, error)
	TrackEnded(ctx context.Context) (repeat bool)
}

// PreviewCache is the preview resolution cache. *preview.Cache satisfies it.
type PreviewCache interface {
	Prefetch(t track.Ref, priority preview.Priority)
	Stats() preview.Stats
	Clear()
}

// BufferCache is the audio preloader. *preload.Preloader satisfies it.
type BufferCache interface {
	Stats() preload.Stats
	Clear()
}

// Server handles Socket.io connections and events.
type Server struct {
	io        *socket.Server
	engine    *player.Engine
	nav       Navigator
	previews  PreviewCache
	buffers   BufferCache
	window    time.Duration
	debouncer *BroadcastDebouncer
	commands  map[string]command

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.RWMutex
	clients   map[string]*socket.Socket
	lastQueue []string // track ids of the last queue seen by Notify
}

// Option is a functional option for configuring the server.
type Option func(*Server)

// WithPreviewCache exposes preview prefetch and cache statistics to clients.
func WithPreviewCache(c PreviewCache) Option {
	return func(s *Server) {
		s.previews = c
	}
}

// WithBufferCache exposes preloader statistics to clients.
func WithBufferCache(c BufferCache) Option {
	return func(s *Server) {
		s.buffers = c
	}
}

// WithBroadcastWindow sets the debounce window for state broadcasts.
func WithBroadcastWindow(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.window = d
		}
	}
}

// NewServer creates a new Socket.io server.
func NewServer(engine *player.Engine, nav Navigator, opts ...Option) (*Server, error) {
	// Configure Socket.io server options
	sopts := socket.DefaultServerOptions()
	sopts.SetPingTimeout(20 * time.Second)
	sopts.SetPingInterval(25 * time.Second)
	sopts.SetCors(&types.Cors{
		Origin:      "*",
		Credentials: true,
	})

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		io:      socket.NewServer(nil, sopts),
		engine:  engine,
		nav:     nav,
		window:  DefaultBroadcastWindow,
		ctx:     ctx,
		cancel:  cancel,
		clients: make(map[string]*socket.Socket),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.debouncer = NewBroadcastDebouncer(s.window, s.BroadcastState, s.BroadcastQueue)
	s.commands = s.buildCommands()
	s.setupHandlers()

	return s, nil
}

// setupHandlers registers all Socket.io event handlers.
func (s *Server) setupHandlers() {
	s.io.On("connection", func(clients ...any) {
		client := clients[0].(*socket.Socket)
		clientID := string(client.Id())

		log.Info().Str("id", clientID).Msg("Client connected")

		s.mu.Lock()
		s.clients[clientID] = client
		s.mu.Unlock()

		// Send initial state after small delay
		go func() {
			time.Sleep(100 * time.Millisecond)
			s.pushQueue(client)
			s.pushState(client)
		}()

		client.On("disconnect", func(args ...any) {
			reason := ""
			if len(args) > 0 {
				if r, ok := args[0].(string); ok {
					reason = r
				}
			}
			log.Info().Str("id", clientID).Str("reason", reason).Msg("Client disconnected")

			s.mu.Lock()
			delete(s.clients, clientID)
			s.mu.Unlock()
		})

		reply := func(event string, data any) {
			client.Emit(event, data)
		}
		for name := range s.commands {
			client.On(name, func(args ...any) {
				log.Debug().Str("id", clientID).Interface("data", args).Msg(name)
				s.handle(name, args, reply)
			})
		}
	})
}

// Notify schedules a broadcast for an engine change. Use it as (part of) the
// engine's change hook.
func (s *Server) Notify(st player.State) {
	ids := make([]string, len(st.Queue))
	for i, t := range st.Queue {
		ids[i] = t.ID
	}

	s.mu.Lock()
	queueChanged := !slices.Equal(ids, s.lastQueue)
	s.lastQueue = ids
	s.mu.Unlock()

	if queueChanged {
		s.debouncer.Trigger(ChangeQueue)
	} else {
		s.debouncer.Trigger(ChangeState)
	}
}

func (s *Server) statePayload() map[string]interface{} {
	return s.engine.State().ToJSON()
}

func (s *Server) queuePayload() []track.Ref {
	queue := s.engine.State().Queue
	if queue == nil {
		queue = []track.Ref{}
	}
	return queue
}

// pushState sends current state to a client.
func (s *Server) pushState(client *socket.Socket) {
	client.Emit("pushState", s.statePayload())
}

// pushQueue sends current queue to a client.
func (s *Server) pushQueue(client *socket.Socket) {
	client.Emit("pushQueue", s.queuePayload())
}

// BroadcastState sends state to all connected clients.
func (s *Server) BroadcastState() {
	state := s.statePayload()
	s.io.Emit("pushState", state)

	if log.Debug().Enabled() {
		data, _ := json.Marshal(state)
		log.Debug().RawJSON("state", data).Int("clients", s.ClientCount()).Msg("Broadcast state")
	}
}

// BroadcastQueue sends queue to all connected clients.
func (s *Server) BroadcastQueue() {
	s.io.Emit("pushQueue", s.queuePayload())
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// ServeHTTP implements http.Handler for the Socket.io server.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.io.ServeHandler(nil).ServeHTTP(w, r)
}

// Close stops pending broadcasts and closes the Socket.io server.
func (s *Server) Close() error {
	s.cancel()
	s.debouncer.Stop()
	s.io.Close(nil)
	return nil
}
