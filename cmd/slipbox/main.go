package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/slipbox/internal"
	"github.com/starford/slipbox/internal/apperr"
	"github.com/starford/slipbox/internal/scan"
	pkgconfig "github.com/starford/slipbox/pkg/config"
)

var version = "dev"

func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.LoadWithDefaults(cmd.String("config"), "", cfg); err != nil {
		return nil, apperr.E(apperr.KindConfig, "config", err)
	}
	return cfg, nil
}

// withEngine loads the configuration, opens the engine with logs on stderr and
// hands it to fn.
func withEngine(ctx context.Context, cmd *cli.Command, fn func(context.Context, *internal.Engine) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	engine, err := internal.Open(cfg, internal.NewLogger(cfg, os.Stderr))
	if err != nil {
		return err
	}
	defer engine.Close()
	return fn(ctx, engine)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// exitCode maps failures to process exit codes: 2 for configuration and
// missing inputs, 3 for backend integrity, 1 otherwise.
func exitCode(err error) int {
	if scan.IsValidation(err) {
		return 2
	}
	switch apperr.KindOf(err) {
	case apperr.KindConfig:
		return 2
	case apperr.KindBackendIntegrity:
		return 3
	default:
		return 1
	}
}

func main() {
	cmd := &cli.Command{
		Name:    "slipbox",
		Usage:   "Index keyword markers in plain-text notes and materialize them as links",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
		},
		Commands: []*cli.Command{
			initCommand(),
			scanCommand(),
			lookupCommand(),
			checkCommand(),
			repairCommand(),
			rulesCommand(),
			suggestCommand(),
			reviewCommand(),
			applyCommand(),
			ignoreCommand(),
			serveCommand(),
			mcpCommand(),
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := cmd.Run(ctx, os.Args)
	stop()
	if err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(exitCode(err))
	}
}
