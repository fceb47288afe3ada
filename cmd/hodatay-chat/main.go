package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"

	"github.com/kgellert/hodatay-classroom/internal/chat/commands"
	"github.com/kgellert/hodatay-classroom/internal/chat/conversations"
	appConfig "github.com/kgellert/hodatay-classroom/internal/config"
	"github.com/kgellert/hodatay-classroom/internal/lib/logger/handlers/slogpretty"
)

const (
	envLocal = "local"
	envDev   = "dev"
)

func main() {
	_ = godotenv.Load("infra/.env")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	flags := &commands.Flags{}

	app := &cli.Command{
		Name:      "hodatay-chat",
		Usage:     "Talk to the classroom chat from a terminal",
		UsageText: "hodatay-chat [global options] command [command options]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "path to config file, env only when empty",
				Sources:     cli.EnvVars("CONFIG_PATH"),
				Destination: &flags.ConfigPath,
			},
			&cli.StringFlag{
				Name:        "env",
				Usage:       "log format (local, dev, prod)",
				Sources:     cli.EnvVars("ENV"),
				Value:       envLocal,
				Destination: &flags.Env,
			},
			&cli.Int64Flag{
				Name:        "user",
				Aliases:     []string{"u"},
				Usage:       "act as this user id",
				Sources:     cli.EnvVars("CHAT_USER_ID"),
				Destination: &flags.UserID,
			},
		},
		Before: func(ctx context.Context, c *cli.Command) (context.Context, error) {
			flags.Log = setupLogger(flags.Env)

			cfg, err := appConfig.LoadClient(flags.ConfigPath)
			if err != nil {
				return ctx, fmt.Errorf("load config: %w", err)
			}
			if flags.UserID != 0 {
				cfg.UserID = flags.UserID
			}
			if cfg.UserID <= 0 {
				return ctx, fmt.Errorf("user id is required, pass --user or set CHAT_USER_ID")
			}
			flags.UserID = cfg.UserID
			flags.Config = cfg

			flags.Client = conversations.New(cfg.BaseURL, cfg.UserID, cfg.RequestTimeout, flags.Log)
			return ctx, nil
		},
	}

	app = commands.NewChannelsCmd(flags).Register(app)
	app = commands.NewDmsCmd(flags).Register(app)
	app = commands.NewHistoryCmd(flags).Register(app)
	app = commands.NewSendCmd(flags).Register(app)
	app = commands.NewTailCmd(flags).Register(app)

	if err := app.Run(ctx, os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// setupLogger writes to stderr so command output stays clean on stdout.
func setupLogger(env string) *slog.Logger {
	switch env {
	case envLocal:
		opts := slogpretty.PrettyHandlerOptions{
			SlogOpts: &slog.HandlerOptions{Level: slog.LevelInfo},
		}
		return slog.New(opts.NewPrettyHandler(os.Stderr))
	case envDev:
		return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	default:
		return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	}
}
