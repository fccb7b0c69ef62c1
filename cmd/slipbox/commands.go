package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/urfave/cli/v3"

	"github.com/starford/slipbox/internal"
	"github.com/starford/slipbox/internal/apperr"
	"github.com/starford/slipbox/internal/dictionary"
	"github.com/starford/slipbox/internal/mcpserver"
	"github.com/starford/slipbox/internal/scan"
)

var errUsage = errors.New("missing argument")

func requireArg(cmd *cli.Command, name string) (string, error) {
	v := cmd.Args().First()
	if v == "" {
		return "", apperr.E(apperr.KindConfig, cmd.Name, fmt.Errorf("%w: <%s>", errUsage, name))
	}
	return v, nil
}

func requireID(cmd *cli.Command) (int64, error) {
	raw, err := requireArg(cmd, "id")
	if err != nil {
		return 0, err
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.E(apperr.KindConfig, cmd.Name, fmt.Errorf("invalid suggestion id %q", raw))
	}
	return id, nil
}

func initCommand() *cli.Command {
	return &cli.Command{
		Name:  "init",
		Usage: "Create the notes directory, links root, rule file and config file",
		Action: func(_ context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			created, err := internal.Init(cfg, cmd.String("config"))
			for _, p := range created {
				fmt.Println("created", p)
			}
			return err
		},
	}
}

func scanCommand() *cli.Command {
	return &cli.Command{
		Name:      "scan",
		Usage:     "Index the collection, or a single note",
		ArgsUsage: "[note]",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withEngine(ctx, cmd, func(ctx context.Context, e *internal.Engine) error {
				svc := e.Service()
				var (
					report *scan.Report
					err    error
				)
				if note := cmd.Args().First(); note != "" {
					report, err = svc.ScanNote(ctx, note)
				} else {
					report, err = svc.Scan(ctx)
				}
				if report != nil {
					if perr := printJSON(report); perr != nil {
						return perr
					}
					if report.Diverged {
						fmt.Fprintln(os.Stderr, "warning: dictionary backends diverged; run `slipbox repair`")
					}
				}
				return err
			})
		},
	}
}

func lookupCommand() *cli.Command {
	return &cli.Command{
		Name:      "lookup",
		Usage:     "Show the dictionary entry of a note",
		ArgsUsage: "<note>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			note, err := requireArg(cmd, "note")
			if err != nil {
				return err
			}
			return withEngine(ctx, cmd, func(ctx context.Context, e *internal.Engine) error {
				entry, err := e.Service().Lookup(ctx, note)
				if err != nil {
					return err
				}
				return printJSON(entry)
			})
		},
	}
}

func checkCommand() *cli.Command {
	return &cli.Command{
		Name:  "check",
		Usage: "Run the dictionary integrity check",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withEngine(ctx, cmd, func(ctx context.Context, e *internal.Engine) error {
				anomalies, err := e.Service().Integrity(ctx)
				if err != nil {
					return err
				}
				if len(anomalies) == 0 {
					fmt.Println("ok")
					return nil
				}
				for _, a := range anomalies {
					fmt.Println(a)
				}
				return apperr.E(apperr.KindBackendIntegrity, "check", fmt.Errorf("%d anomalies found", len(anomalies)))
			})
		},
	}
}

func repairCommand() *cli.Command {
	return &cli.Command{
		Name:  "repair",
		Usage: "Back up the dictionary, then compact or rebuild it",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := internal.NewLogger(cfg, os.Stderr)
			var report *dictionary.RepairReport
			engine, err := internal.Open(cfg, logger)
			switch {
			case err == nil:
				defer engine.Close()
				report, err = engine.Service().Repair(ctx)
			case apperr.Is(err, apperr.KindBackendIntegrity):
				logger.Warn("dictionary unreadable, rebuilding the database file",
					slog.String("error", err.Error()))
				report, err = internal.RepairDictionary(ctx, cfg, logger)
			}
			if err != nil {
				return err
			}
			return printJSON(report)
		},
	}
}

func rulesCommand() *cli.Command {
	return &cli.Command{
		Name:  "rules",
		Usage: "Inspect or extend the keyword→folder rules",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "Print every rule",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return withEngine(ctx, cmd, func(_ context.Context, e *internal.Engine) error {
						rs, err := e.Service().Rules()
						if err != nil {
							return err
						}
						for _, r := range rs {
							fmt.Printf("%s: %s\n", r.Keyword, r.Folder)
						}
						return nil
					})
				},
			},
			{
				Name:      "add",
				Usage:     "Map a keyword to a folder",
				ArgsUsage: "<keyword> <folder>",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					keyword, folder := cmd.Args().Get(0), cmd.Args().Get(1)
					if keyword == "" || folder == "" {
						return apperr.E(apperr.KindConfig, "rules add", fmt.Errorf("%w: <keyword> <folder>", errUsage))
					}
					return withEngine(ctx, cmd, func(_ context.Context, e *internal.Engine) error {
						rule, err := e.Service().AddRule(keyword, folder)
						if err != nil {
							return err
						}
						fmt.Printf("added %s: %s\n", rule.Keyword, rule.Folder)
						return nil
					})
				},
			},
		},
	}
}

func suggestCommand() *cli.Command {
	return &cli.Command{
		Name:      "suggest",
		Usage:     "Request keyword suggestions for a note, or for every note",
		ArgsUsage: "[note]",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withEngine(ctx, cmd, func(ctx context.Context, e *internal.Engine) error {
				svc := e.Service()
				if note := cmd.Args().First(); note != "" {
					added, err := svc.Suggest(ctx, note)
					if err != nil {
						return err
					}
					return printJSON(added)
				}
				summary, err := svc.SuggestAll(ctx)
				if err != nil {
					return err
				}
				return printJSON(summary)
			})
		},
	}
}

func reviewCommand() *cli.Command {
	return &cli.Command{
		Name:      "review",
		Usage:     "List pending suggestions for a note",
		ArgsUsage: "<note>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			note, err := requireArg(cmd, "note")
			if err != nil {
				return err
			}
			return withEngine(ctx, cmd, func(ctx context.Context, e *internal.Engine) error {
				pending, err := e.Service().Review(ctx, note)
				if err != nil {
					return err
				}
				for _, s := range pending {
					fmt.Printf("%d\t%.2f\t%s\n", s.ID, s.Confidence, s.Keyword)
				}
				return nil
			})
		},
	}
}

func applyCommand() *cli.Command {
	return &cli.Command{
		Name:      "apply",
		Usage:     "Accept a suggestion and re-scan its note",
		ArgsUsage: "<id>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			id, err := requireID(cmd)
			if err != nil {
				return err
			}
			return withEngine(ctx, cmd, func(ctx context.Context, e *internal.Engine) error {
				res, err := e.Service().Apply(ctx, id)
				if res != nil {
					if perr := printJSON(res); perr != nil {
						return perr
					}
				}
				return err
			})
		},
	}
}

func ignoreCommand() *cli.Command {
	return &cli.Command{
		Name:      "ignore",
		Usage:     "Reject a suggestion",
		ArgsUsage: "<id>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			id, err := requireID(cmd)
			if err != nil {
				return err
			}
			return withEngine(ctx, cmd, func(ctx context.Context, e *internal.Engine) error {
				s, err := e.Service().Ignore(ctx, id)
				if err != nil {
					return err
				}
				fmt.Printf("ignored %d (%s)\n", s.ID, s.Keyword)
				return nil
			})
		},
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the HTTP API",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := internal.Run(ctx, internal.WithConfig(cfg)); err != nil {
				return fmt.Errorf("app run error: %w", err)
			}
			return nil
		},
	}
}

func mcpCommand() *cli.Command {
	return &cli.Command{
		Name:  "mcp",
		Usage: "Serve MCP tools over stdio",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withEngine(ctx, cmd, func(_ context.Context, e *internal.Engine) error {
				return mcpserver.New(e.Service(), version).ServeStdio()
			})
		},
	}
}
