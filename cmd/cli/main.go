package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kartikbazzad/bunbase/collab/internal/auth"
	"github.com/kartikbazzad/bunbase/collab/internal/bus"
	"github.com/kartikbazzad/bunbase/collab/internal/config"
	"github.com/kartikbazzad/bunbase/collab/internal/database"
	"github.com/kartikbazzad/bunbase/collab/internal/filetree"
	"github.com/kartikbazzad/bunbase/collab/internal/models"
	"github.com/kartikbazzad/bunbase/collab/internal/runner"
	"github.com/kartikbazzad/bunbase/collab/internal/sandbox"
	"github.com/kartikbazzad/bunbase/collab/pkg/logger"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:          "collab",
	Short:        "Collab workspace CLI",
	SilenceUsage: true,
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger.Init(cfg.Log)
	return cfg, nil
}

// --- token ---

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage bearer tokens",
}

var tokenIssueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Issue a bearer token for a user",
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, _ := cmd.Flags().GetString("user-id")
		email, _ := cmd.Flags().GetString("email")
		if userID == "" {
			return fmt.Errorf("--user-id is required")
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		jwt := auth.NewJWT(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
		token, err := jwt.Issue(models.Identity{UserID: userID, Email: email})
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

// --- migrate ---

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if path, _ := cmd.Flags().GetString("path"); path != "" {
			cfg.Database.MigrationsPath = path
		}
		if err := database.Migrate(cfg.Database); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Migrations applied")
		return nil
	},
}

// --- run ---

var runCmd = &cobra.Command{
	Use:   "run <tree.json>",
	Short: "Install and start a file tree locally, streaming its output",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		tree, err := filetree.Parse(data)
		if err != nil {
			return fmt.Errorf("invalid file tree: %w", err)
		}
		return runTree(cmd, cfg, tree)
	},
}

func runTree(cmd *cobra.Command, cfg *config.Config, tree filetree.Tree) error {
	out := cmd.OutOrStdout()
	done := make(chan runner.Phase, 1)
	var once sync.Once

	emit := func(ev bus.Event) {
		switch data := ev.Data.(type) {
		case runner.LogLine:
			fmt.Fprintln(out, data.Text)
		case runner.PreviewPayload:
			if data.URL != "" {
				fmt.Fprintf(out, "Preview: %s\n", data.URL)
			}
		case runner.StatusPayload:
			if data.Phase == runner.PhaseIdle || data.Phase == runner.PhaseError {
				once.Do(func() { done <- data.Phase })
			}
		}
	}

	provider := sandbox.NewLocalProvider(sandbox.LocalConfig{
		WorkDir:       cfg.Runner.WorkDir,
		PreviewHost:   cfg.Runner.PreviewHost,
		ReadyTimeout:  cfg.Runner.ReadyTimeout,
		ProbeInterval: cfg.Runner.ProbeInterval,
	}, logger.Component("sandbox"))
	o := runner.New(provider, runner.Config{
		Install: cfg.Runner.InstallCommand,
		Start:   cfg.Runner.StartCommand,
	}, emit, logger.Component("runner"))

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	o.Run(context.WithoutCancel(ctx), tree)
	select {
	case phase := <-done:
		o.Close()
		if phase == runner.PhaseError {
			return fmt.Errorf("run failed")
		}
		return nil
	case <-ctx.Done():
		o.Stop()
		return nil
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", ".env", "Config file path")

	tokenIssueCmd.Flags().String("user-id", "", "User id (token subject)")
	tokenIssueCmd.Flags().String("email", "", "User email")
	tokenCmd.AddCommand(tokenIssueCmd)

	migrateCmd.Flags().String("path", "", "Migrations directory (overrides config)")

	rootCmd.AddCommand(tokenCmd, migrateCmd, runCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
