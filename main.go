package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"

	"github.com/5h1ro0o/loup-garou/config"
	"github.com/5h1ro0o/loup-garou/game"
	"github.com/5h1ro0o/loup-garou/hub"
	"github.com/5h1ro0o/loup-garou/room"
	"github.com/5h1ro0o/loup-garou/server"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Warn("no .env file found, using environment variables")
	}

	cmd := &cli.Command{
		Name:  "loup-garou",
		Usage: "multiplayer game session server",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "TOML or YAML config file", Sources: cli.EnvVars("LOUP_CONFIG")},
			&cli.StringFlag{Name: "host", Usage: "bind address for both TCP listeners", Sources: cli.EnvVars("LOUP_HOST")},
			&cli.IntFlag{Name: "port", Usage: "player listener port", Sources: cli.EnvVars("PORT", "LOUP_PORT")},
			&cli.IntFlag{Name: "admin-port", Usage: "admin listener port", Sources: cli.EnvVars("ADMIN_PORT", "LOUP_ADMIN_PORT")},
			&cli.StringFlag{Name: "http-addr", Usage: "status and websocket listener, empty to disable", Sources: cli.EnvVars("LOUP_HTTP_ADDR")},
			&cli.IntFlag{Name: "min-players", Usage: "players required to start a game", Sources: cli.EnvVars("LOUP_MIN_PLAYERS")},
			&cli.StringFlag{Name: "log-level", Usage: "debug, info, warn or error", Sources: cli.EnvVars("LOG_LEVEL")},
		},
		Action: run,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cmd.Run(ctx, os.Args); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return err
	}
	applyFlags(cfg, cmd)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	setupLogger(cfg.Logging.Level, cfg.Logging.Format)

	rooms := hub.New(roomFactory(cfg))
	srv := server.New(cfg, rooms)
	if err := srv.Listen(); err != nil {
		return err
	}
	slog.Info("server starting",
		"players", srv.PlayerAddr().String(),
		"admins", srv.AdminAddr().String(),
		"defaultRoom", cfg.Room.DefaultRoom,
		"minPlayers", cfg.Room.MinPlayers,
	)
	return srv.Serve(ctx)
}

// applyFlags overrides file values with flags set on the command line or in
// the environment.
func applyFlags(cfg *config.Config, cmd *cli.Command) {
	if cmd.IsSet("host") {
		cfg.Server.Host = cmd.String("host")
	}
	if cmd.IsSet("port") {
		cfg.Server.PlayerPort = int(cmd.Int("port"))
	}
	if cmd.IsSet("admin-port") {
		cfg.Server.AdminPort = int(cmd.Int("admin-port"))
	}
	if cmd.IsSet("http-addr") {
		cfg.Server.HTTPAddr = cmd.String("http-addr")
	}
	if cmd.IsSet("min-players") {
		cfg.Room.MinPlayers = int(cmd.Int("min-players"))
	}
	if cmd.IsSet("log-level") {
		cfg.Logging.Level = cmd.String("log-level")
	}
}

func roomFactory(cfg *config.Config) func(id string) *room.Room {
	roles := game.NewAssigner(cfg.Roles.WerewolfRatio, cfg.Roles.Seer, nil)
	return func(id string) *room.Room {
		return room.New(id,
			room.WithMinPlayers(cfg.Room.MinPlayers),
			room.WithRoles(roles),
			room.WithLogger(slog.Default().With("component", "room")),
		)
	}
}

func setupLogger(levelName, format string) {
	level := slog.LevelInfo
	switch strings.ToLower(levelName) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	if format == "json" {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, opts)))
		return
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, opts)))
}
