package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/edumarques81/stellar-playback/internal/config"
	"github.com/edumarques81/stellar-playback/internal/domain/navigation"
	"github.com/edumarques81/stellar-playback/internal/domain/playback"
	"github.com/edumarques81/stellar-playback/internal/domain/player"
	"github.com/edumarques81/stellar-playback/internal/domain/preload"
	"github.com/edumarques81/stellar-playback/internal/domain/preview"
	"github.com/edumarques81/stellar-playback/internal/infra/cache"
	"github.com/edumarques81/stellar-playback/internal/infra/mpd"
	"github.com/edumarques81/stellar-playback/internal/infra/resolver"
	"github.com/edumarques81/stellar-playback/internal/transport/socketio"
	"github.com/edumarques81/stellar-playback/internal/version"
)

// serve wires the playback core and runs the HTTP server until ctx is done.
func serve(ctx context.Context, cfg *config.Config) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	log.Info().Msg("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	log.Info().Msgf("  %s", version.GetInfo().String())
	log.Info().Msg("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	log.Info().
		Int("port", cfg.Server.Port).
		Str("resolver", cfg.Resolver.BaseURL).
		Str("cache_db", cfg.Cache.DBPath).
		Bool("preload", cfg.Preload.Enabled).
		Bool("mpd", cfg.MPD.Enabled).
		Msg("Configuration")

	// Durable preview store. Without a database the cache runs in memory.
	var backend preview.Backend
	db := cache.NewDB(cfg.Cache.DBPath)
	if err := db.Open(); err != nil {
		log.Warn().Err(err).Str("path", db.Path()).Msg("Preview store unavailable, caching in memory only")
	} else {
		defer db.Close()
		backend = db
	}
	store := preview.NewDurableStore(backend, cfg.Cache.Namespace,
		preview.WithMaxItems(cfg.Cache.MaxStorageItems))

	userAgent := cfg.Resolver.UserAgent
	if userAgent == "" {
		userAgent = version.UserAgent()
	}

	client := resolver.NewClient(
		resolver.WithBaseURL(cfg.Resolver.BaseURL),
		resolver.WithUserAgent(userAgent),
		resolver.WithHTTPClient(&http.Client{Timeout: cfg.Resolver.Timeout}),
		resolver.WithRateLimit(cfg.Resolver.RequestsPerSecond),
	)
	previews := preview.NewCache(client, store,
		preview.WithSuccessTTL(cfg.Cache.SuccessTTL),
		preview.WithFailureTTL(cfg.Cache.FailureTTL),
		preview.WithTimeout(cfg.Cache.Timeout),
		preview.WithLowPriorityLimit(cfg.Cache.LowPriorityLimit),
		preview.WithLowPrioritySpacing(cfg.Cache.LowPrioritySpacing),
	)
	defer previews.Close()

	var preloader *preload.Preloader
	if cfg.Preload.Enabled {
		fetcher := resolver.NewAudioFetcher(
			resolver.WithAudioTimeout(cfg.Preload.Timeout),
			resolver.WithMaxBytes(cfg.Preload.MaxBytes),
			resolver.WithAudioUserAgent(userAgent),
		)
		preloader = preload.New(fetcher,
			preload.WithMaxBuffers(cfg.Preload.MaxBuffers),
			preload.WithConcurrency(cfg.Preload.Concurrency),
			preload.WithTimeout(cfg.Preload.Timeout),
		)
		defer preloader.Clear()
	}

	// Change hooks are registered below, before anything can mutate the engine.
	var hooks []func(player.State)
	engine := player.NewEngine(player.WithOnChange(func(s player.State) {
		for _, hook := range hooks {
			hook(s)
		}
	}))

	navOpts := []navigation.Option{navigation.WithPrefetcher(previews)}
	if preloader != nil {
		navOpts = append(navOpts,
			navigation.WithPreloader(preloader),
			navigation.WithPreloadAhead(cfg.Preload.Ahead),
		)
	}
	nav := navigation.New(engine, previews, navOpts...)
	defer nav.Close()

	sockOpts := []socketio.Option{
		socketio.WithPreviewCache(previews),
		socketio.WithBroadcastWindow(cfg.Server.BroadcastWindow),
	}
	if preloader != nil {
		sockOpts = append(sockOpts, socketio.WithBufferCache(preloader))
	}
	sockets, err := socketio.NewServer(engine, nav, sockOpts...)
	if err != nil {
		return fmt.Errorf("failed to create Socket.io server: %w", err)
	}
	defer sockets.Close()
	hooks = append(hooks, sockets.Notify)

	rt := routes{
		engine:    engine,
		sockets:   sockets,
		stats:     sockets,
		staticDir: cfg.Server.StaticDir,
	}
	if preloader != nil {
		rt.buffers = preloader
	}

	if cfg.MPD.Enabled {
		mpdClient := mpd.NewClient(cfg.MPD.Host, cfg.MPD.Port, cfg.MPD.Password)
		if err := mpdClient.Connect(); err != nil {
			return fmt.Errorf("failed to connect to MPD at %s: %w", mpdClient.Addr(), err)
		}
		defer mpdClient.Close()
		log.Info().Str("addr", mpdClient.Addr()).Msg("MPD connection verified")
		rt.mpd = mpdClient

		output := mpd.NewOutput(mpdClient)
		var bridgeOpts []playback.Option
		if preloader != nil {
			localBase := "http://127.0.0.1:" + strconv.Itoa(cfg.Server.Port) + strings.TrimSuffix(audioPath, "/")
			bridgeOpts = append(bridgeOpts, playback.WithBuffers(preloader, localBase))
		}
		bridge := playback.New(output, nav, bridgeOpts...)
		hooks = append(hooks, bridge.Notify)

		go bridge.Run(ctx)
		go func() {
			if err := output.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("MPD output watcher stopped")
			}
		}()
	}

	server := &http.Server{
		Addr:        ":" + strconv.Itoa(cfg.Server.Port),
		Handler:     rt.handler(),
		ReadTimeout: 30 * time.Second,
		// No WriteTimeout: audio buffers and long-polling transports stream.
	}

	// Graceful shutdown
	go func() {
		<-ctx.Done()
		log.Info().Msg("Shutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server shutdown error")
		}
	}()

	log.Info().Str("addr", server.Addr).Msg("HTTP server listening")
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server error: %w", err)
	}

	log.Info().Msg("Server stopped")
	return nil
}
