package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kilianp07/dernego/app"
	"github.com/kilianp07/dernego/core/negotiation"
	"github.com/kilianp07/dernego/infra/logger"
)

// ErrInfeasible is returned by `run` when a negotiation ended infeasible.
var ErrInfeasible = errors.New("negotiation infeasible")

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run every configured negotiation once",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		_, err := runOnce(ctx)
		return err
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runOnce(ctx context.Context) (negotiation.Summary, error) {
	cfg, err := loadConfig()
	if err != nil {
		return negotiation.Summary{}, err
	}
	svc, err := app.New(cfg)
	if err != nil {
		return negotiation.Summary{}, err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			logger.New("main").Errorf("service close: %v", err)
		}
	}()
	summary, err := svc.Run(ctx)
	if err != nil {
		return summary, err
	}
	log := logger.New("main")
	for _, r := range summary.Results {
		log.Infof("%s: %s after %d rounds, objective %.6g", r.ID, r.Status, r.Rounds, r.Objective)
	}
	if summary.Infeasible() {
		return summary, fmt.Errorf("%w: %d of %d", ErrInfeasible, summary.Count(negotiation.StatusInfeasible), len(summary.Results))
	}
	return summary, nil
}
