package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/soyeahso/chatstudio/internal/config"
	"github.com/soyeahso/chatstudio/internal/provider"
)

func newModelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List models available from the completion provider",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(paths.Config)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			client := providerFromConfig(cfg)
			models, err := client.ListModels(ctx)
			if err != nil {
				return err
			}

			for _, m := range models {
				marker := "  "
				if m == cfg.Provider.Model {
					marker = "* "
				}
				fmt.Printf("%s%s\n", marker, m)
			}
			return nil
		},
	}
}

// providerFromConfig builds the completion provider client.
func providerFromConfig(cfg config.Config) provider.Client {
	timeout := time.Duration(cfg.Provider.TimeoutSeconds) * time.Second
	return provider.NewGroqClient(cfg.Provider.BaseURL, cfg.Provider.APIKey, timeout, log)
}
