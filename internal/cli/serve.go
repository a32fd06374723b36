package cli

import (
	"context"
	"errors"
	"net/http"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	apihttp "costrologer/internal/http"
	applog "costrologer/internal/log"
	"costrologer/internal/ratelimit"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler, the event consumer and the HTTP API",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().Bool("no-http", false, "Do not start the HTTP API")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	noHTTP, _ := cmd.Flags().GetBool("no-http")

	a, err := newApp(ctx, cfg, transportQueue)
	if err != nil {
		return err
	}
	defer a.Close()

	logger.InfoContext(ctx, "Starting costrologer",
		"port", cfg.Port,
		"db_driver", cfg.DBDriver,
		"timezone", a.loc.String(),
		"jobs", a.scheduler.Jobs())

	g, gctx := errgroup.WithContext(ctx)

	workerLogger := logger.WithComponent(applog.ComponentWorker)
	if err := a.consumer.Start(applog.WithLogger(gctx, workerLogger), a.processor.Process); err != nil {
		return err
	}
	if err := a.scheduler.Start(gctx); err != nil {
		return err
	}

	var srv *apihttp.Server
	if !noHTTP {
		srv = apihttp.NewServer(":"+cfg.Port, apihttp.Deps{
			Ledger:     a.ledger,
			Jobs:       a.scheduler,
			Store:      a.repo,
			Limiter:    ratelimit.New(ratelimit.Config{PerMinute: cfg.APIRateLimit}),
			Logger:     logger,
			Location:   a.loc,
			AdminToken: cfg.AdminToken,
		})
		g.Go(func() error {
			logger.InfoContext(gctx, "HTTP server listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.InfoContext(ctx, "Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		var errs []error
		if srv != nil {
			errs = append(errs, srv.Shutdown(shutdownCtx))
		}
		errs = append(errs, a.scheduler.Stop(shutdownCtx))
		errs = append(errs, a.consumer.Stop(shutdownCtx))
		return errors.Join(errs...)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.InfoContext(ctx, "Shutdown complete")
	return nil
}
