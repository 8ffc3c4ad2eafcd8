package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/conductorctl/conductor/internal/config"
	"github.com/conductorctl/conductor/internal/logger"
	"github.com/conductorctl/conductor/internal/orchestrator"
	"github.com/conductorctl/conductor/internal/project"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <objective>",
		Short: "Plan and execute a new project from a natural-language objective",
		Args:  cobra.ExactArgs(1),
		RunE:  runRun,
	}
	cmd.Flags().String("strategy", "", "Dependency Analyzer grouping strategy override (conservative|balanced|aggressive)")
	cmd.Flags().String("mode", "", "Orchestrator execution mode override (sequential|parallel|hybrid)")
	cmd.Flags().Bool("verbose", false, "Enable debug logging")
	return cmd
}

func newResumeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resume <project_id>",
		Short: "Resume an existing project from its persisted state",
		Args:  cobra.ExactArgs(1),
		RunE:  runResume,
	}
	cmd.Flags().Bool("verbose", false, "Enable debug logging")
	return cmd
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.FromEnv()
	if err != nil {
		return cfg, fmt.Errorf("load config: %w", err)
	}
	if s, _ := cmd.Flags().GetString("strategy"); s != "" {
		cfg.Strategy = config.Strategy(s)
	}
	if m, _ := cmd.Flags().GetString("mode"); m != "" {
		cfg.Mode = config.Mode(m)
	}
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		logger.SetLevel(logger.DEBUG)
	}
	return cfg, nil
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	o, store, err := buildOrchestrator(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := o.Start(ctx, args[0], configSnapshotOf(cfg))
	return finish(cmd, store, p, err, ctx)
}

func runResume(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	o, store, err := buildOrchestrator(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := o.Run(ctx, args[0])
	return finish(cmd, store, p, err, ctx)
}

// finish reports the project's terminal status and maps it to an exit
// status: 0 complete, 1 failed, 2 planning error, 130 user cancellation.
func finish(cmd *cobra.Command, store *project.Store, p *project.Project, runErr error, ctx context.Context) error {
	if runErr != nil {
		if ctx.Err() != nil {
			os.Exit(130)
		}
		return runErr
	}
	if p == nil {
		return fmt.Errorf("orchestrator returned no project")
	}

	fmt.Fprintf(cmd.OutOrStdout(), "project %s: %s\n", p.ProjectID, p.Status)

	switch p.Status {
	case project.StatusComplete:
		os.Exit(0)
	case project.StatusFailed:
		if orchestrator.PlanningErrorStatus(store, p) {
			os.Exit(2)
		}
		os.Exit(1)
	}
	return nil
}
