package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	negapi "github.com/kilianp07/dernego/api/negotiation"
	"github.com/kilianp07/dernego/core/recorder"
	"github.com/kilianp07/dernego/infra/logger"
	"github.com/kilianp07/dernego/infra/metrics"
)

var serveRunFirst bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Expose Prometheus metrics and the record query API",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveRunFirst, "run", false, "run the configured negotiations before serving")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	log := logger.New("serve")

	if serveRunFirst {
		if _, err := runOnce(ctx); err != nil && !errors.Is(err, ErrInfeasible) {
			return err
		}
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := recorder.Open(cfg.Results)
	if err != nil {
		return err
	}
	defer store.Close()

	mux := http.NewServeMux()
	mux.Handle(negapi.RecordsPath, negapi.NewRecordsHandler(store, cfg.API.Token))
	srv := &http.Server{Addr: cfg.API.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Infof("metrics on %s/metrics", cfg.Metrics.PrometheusAddr)
		return metrics.StartPromServer(gctx, cfg.Metrics.PrometheusAddr)
	})
	g.Go(func() error {
		log.Infof("records API on %s%s", cfg.API.Addr, negapi.RecordsPath)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
