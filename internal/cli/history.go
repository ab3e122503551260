package cli

import (
	"context"
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/soyeahso/chatstudio/internal/config"
	"github.com/soyeahso/chatstudio/internal/domain"
	"github.com/soyeahso/chatstudio/internal/history"
)

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Manage the conversation history archive",
	}

	cmd.AddCommand(newHistoryServeCmd())
	cmd.AddCommand(newHistoryListCmd())
	cmd.AddCommand(newHistoryGetCmd())
	cmd.AddCommand(newHistoryDeleteCmd())

	return cmd
}

func newHistoryServeCmd() *cobra.Command {
	var (
		port int
		bind string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the history API server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(paths.Config)
			if err != nil {
				return err
			}

			if port != 0 {
				cfg.History.Port = port
			}
			if bind != "" {
				cfg.History.Bind = bind
			}

			issues := config.Validate(&cfg)
			if len(issues) > 0 {
				for _, issue := range issues {
					log.Error().Str("path", issue.Path).Msg(issue.Message)
				}
				return fmt.Errorf("config validation failed with %d issue(s)", len(issues))
			}

			if err := paths.EnsureDirs(); err != nil {
				return err
			}

			dbPath := cfg.History.DBPath
			if dbPath == "" {
				dbPath = filepath.Join(paths.Data, "history.db")
			}
			db, err := history.Open(dbPath, log)
			if err != nil {
				return fmt.Errorf("opening database: %w", err)
			}
			defer db.Close()
			log.Info().Str("path", dbPath).Msg("history database ready")

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			repo := history.NewSQLiteRepository(db)
			srv := history.NewServer(cfg.History, repo, log)
			return srv.Start(ctx)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "override listen port")
	cmd.Flags().StringVar(&bind, "bind", "", "override bind mode (loopback, lan, custom)")

	return cmd
}

func newHistoryListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List archived conversation records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := historyClient()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			recs, err := client.List(ctx)
			if err != nil {
				return err
			}
			if len(recs) == 0 {
				fmt.Println("No history records.")
				return nil
			}

			for _, rec := range recs {
				fmt.Printf("%s  %s  %d exchange(s)  %s\n",
					rec.ID, rec.StartTime.Format(time.RFC3339), len(rec.Messages), rec.Topic)
			}
			return nil
		},
	}
}

func newHistoryGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Print one archived conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := historyClient()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			rec, err := client.Get(ctx, args[0])
			if err != nil {
				return err
			}
			printRecord(rec)
			return nil
		},
	}
}

func newHistoryDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an archived conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := historyClient()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			rec, err := client.Delete(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Deleted %q (%s)\n", rec.Topic, rec.ID)
			return nil
		},
	}
}

func historyClient() (*history.Client, error) {
	cfg, err := config.Load(paths.Config)
	if err != nil {
		return nil, err
	}
	return history.NewClient(cfg.History.BaseURL, log), nil
}

func printRecord(rec domain.HistoryRecord) {
	fmt.Printf("Topic:  %s\n", rec.Topic)
	fmt.Printf("ID:     %s\n", rec.ID)
	fmt.Printf("User:   %s\n", rec.UserID)
	fmt.Printf("Start:  %s\n", rec.StartTime.Format(time.RFC3339))
	if rec.EndTime != nil {
		fmt.Printf("End:    %s\n", rec.EndTime.Format(time.RFC3339))
	}
	fmt.Println()
	for _, ex := range rec.Messages {
		fmt.Printf("> %s\n", ex.Message)
		if ex.Response != "" {
			fmt.Printf("  %s\n", ex.Response)
		}
	}
}
