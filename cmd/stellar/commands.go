package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"github.com/edumarques81/stellar-playback/internal/config"
	"github.com/edumarques81/stellar-playback/internal/domain/preview"
	"github.com/edumarques81/stellar-playback/internal/infra/cache"
)

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP and Socket.io server (default)",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "port",
				Usage: "HTTP server port (overrides server.port)",
			},
			&cli.StringFlag{
				Name:  "static",
				Usage: "Directory to serve static files from (overrides server.static_dir)",
			},
			&cli.StringFlag{
				Name:  "resolver-url",
				Usage: "Preview resolver base URL (overrides resolver.base_url)",
			},
			&cli.StringFlag{
				Name:  "mpd-host",
				Usage: "MPD host (overrides mpd.host)",
			},
			&cli.IntFlag{
				Name:  "mpd-port",
				Usage: "MPD port (overrides mpd.port)",
			},
			&cli.StringFlag{
				Name:  "mpd-password",
				Usage: "MPD password (overrides mpd.password)",
			},
			&cli.BoolFlag{
				Name:  "no-mpd",
				Usage: "Run without an MPD output; clients play audio themselves",
			},
		},
		Action: serveAction,
	}
}

func serveAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	applyServeFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}
	return serve(ctx, cfg)
}

// applyServeFlags copies explicitly set flags over the file configuration.
func applyServeFlags(cmd *cli.Command, cfg *config.Config) {
	if cmd.IsSet("port") {
		cfg.Server.Port = int(cmd.Int("port"))
	}
	if cmd.IsSet("static") {
		cfg.Server.StaticDir = cmd.String("static")
	}
	if cmd.IsSet("resolver-url") {
		cfg.Resolver.BaseURL = cmd.String("resolver-url")
	}
	if cmd.IsSet("mpd-host") {
		cfg.MPD.Host = cmd.String("mpd-host")
	}
	if cmd.IsSet("mpd-port") {
		cfg.MPD.Port = int(cmd.Int("mpd-port"))
	}
	if cmd.IsSet("mpd-password") {
		cfg.MPD.Password = cmd.String("mpd-password")
	}
	if cmd.Bool("no-mpd") {
		cfg.MPD.Enabled = false
	}
}

func cacheCommand() *cli.Command {
	return &cli.Command{
		Name:  "cache",
		Usage: "Inspect or wipe the durable preview store",
		Commands: []*cli.Command{
			{
				Name:   "stats",
				Usage:  "Print durable store statistics as JSON",
				Action: cacheStatsAction,
			},
			{
				Name:   "clear",
				Usage:  "Remove every stored preview URL",
				Action: cacheClearAction,
			},
		},
	}
}

// storeStats is printed by "cache stats".
type storeStats struct {
	Database *cache.Stats `json:"database"`
	Previews int          `json:"previews"`
}

func openCacheDB(cmd *cli.Command) (*cache.DB, *config.Config, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	db := cache.NewDB(cfg.Cache.DBPath)
	if err := db.Open(); err != nil {
		return nil, nil, fmt.Errorf("failed to open cache database: %w", err)
	}
	return db, cfg, nil
}

func cacheStatsAction(ctx context.Context, cmd *cli.Command) error {
	db, cfg, err := openCacheDB(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	return writeCacheStats(os.Stdout, db, cfg.Cache.Namespace)
}

func writeCacheStats(w io.Writer, db *cache.DB, namespace string) error {
	dbStats, err := db.GetStats()
	if err != nil {
		return fmt.Errorf("failed to read cache stats: %w", err)
	}
	store := preview.NewDurableStore(db, namespace)

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(storeStats{Database: dbStats, Previews: store.Len()})
}

func cacheClearAction(ctx context.Context, cmd *cli.Command) error {
	db, cfg, err := openCacheDB(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.Delete(cfg.Cache.Namespace); err != nil {
		return fmt.Errorf("failed to clear preview store: %w", err)
	}
	log.Info().Str("path", db.Path()).Str("namespace", cfg.Cache.Namespace).Msg("Preview store cleared")
	return nil
}

func configCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Manage the configuration file",
		Commands: []*cli.Command{
			{
				Name:  "init",
				Usage: "Write the default configuration to --config (or the given path)",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "path"},
				},
				Action: configInitAction,
			},
		},
	}
}

func configInitAction(ctx context.Context, cmd *cli.Command) error {
	path := cmd.StringArg("path")
	if path == "" {
		path = cmd.String("config")
	}
	if err := config.CreateConfigFile(path); err != nil {
		return err
	}
	log.Info().Str("path", path).Msg("Config file created")
	return nil
}
