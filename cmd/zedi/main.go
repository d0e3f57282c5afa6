package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/otomatty/zedi-sub000/internal"
	pkgconfig "github.com/otomatty/zedi-sub000/pkg/config"
)

var version = "dev"

// loadConfig reads the config file over the defaults. The default path may be
// missing; an explicit one must exist.
func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	configPath := cmd.String("config")

	cfg := internal.NewDefaultConfig()
	load := pkgconfig.LoadOptional[internal.Config]
	if cmd.IsSet("config") {
		load = pkgconfig.Load[internal.Config]
	}
	if err := load(configPath, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

func serve(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := internal.Serve(ctx, internal.WithConfig(cfg)); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}
	return nil
}

func syncDaemon(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	return internal.RunSync(ctx, internal.WithConfig(cfg))
}

func mcp(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	return internal.RunMCP(ctx, version, internal.WithConfig(cfg))
}

func importVault(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if path := cmd.String("vault"); path != "" {
		cfg.Vault.Path = path
	}
	if cmd.Bool("watch") {
		cfg.Vault.Watch = true
	}
	return internal.RunImport(ctx, internal.WithConfig(cfg))
}

func main() {
	cmd := &cli.Command{
		Name:    "zedi",
		Usage:   "Page sync server and local-first knowledge graph client",
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
			{
				Name:   "serve",
				Usage:  "Run the sync server",
				Action: serve,
			},
			{
				Name:   "sync",
				Usage:  "Run the client sync daemon against the Local Mirror",
				Action: syncDaemon,
			},
			{
				Name:   "mcp",
				Usage:  "Serve MCP tools over stdio from the Local Mirror",
				Action: mcp,
			},
			{
				Name:   "import",
				Usage:  "Import a Markdown vault into the Local Mirror",
				Action: importVault,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "vault",
						Usage: "Vault directory (overrides vault.path)",
					},
					&cli.BoolFlag{
						Name:  "watch",
						Usage: "Keep importing file changes",
					},
				},
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
