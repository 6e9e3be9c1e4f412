// Package invites parses invites service flags and launches the service.
package invites

import (
	"context"
	"flag"

	entrypoint "github.com/tabsplit/tabsplit/internal/platform/cmd"
	server "github.com/tabsplit/tabsplit/internal/services/invites/app"
)

// Config holds invites command configuration.
type Config struct {
	Port int `env:"TABSPLIT_INVITES_PORT" envDefault:"8091"`
}

// ParseConfig parses environment and flags into Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.IntVar(&cfg.Port, "port", cfg.Port, "The invites gRPC server port")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the invites gRPC service.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceInvites, func(context.Context) error {
		return server.Run(ctx, cfg.Port)
	})
}
