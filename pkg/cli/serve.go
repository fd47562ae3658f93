package cli

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/actiongate/pkg/cli/config"
	httpctrl "github.com/secmon-lab/actiongate/pkg/controller/http"
	"github.com/secmon-lab/actiongate/pkg/service/worker"
	"github.com/secmon-lab/actiongate/pkg/utils/async"
	"github.com/secmon-lab/actiongate/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

const auditDrainTimeout = 5 * time.Second

func cmdServe() *cli.Command {
	var addr string
	var enableAdmin bool
	var maxBodyBytes int
	var rtCfg runtimeConfig
	var sentryCfg config.Sentry
	var telemetryCfg config.Telemetry

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "addr",
			Usage:       "HTTP server address",
			Value:       ":8080",
			Sources:     cli.EnvVars("ACTIONGATE_ADDR"),
			Destination: &addr,
		},
		&cli.BoolFlag{
			Name:        "admin",
			Usage:       "Expose the tenant provider binding routes",
			Value:       true,
			Sources:     cli.EnvVars("ACTIONGATE_ADMIN"),
			Destination: &enableAdmin,
		},
		&cli.IntFlag{
			Name:        "max-body-bytes",
			Usage:       "Maximum size of a request body",
			Value:       int(httpctrl.DefaultMaxBodyBytes),
			Sources:     cli.EnvVars("ACTIONGATE_MAX_BODY_BYTES"),
			Destination: &maxBodyBytes,
		},
	}

	flags = append(flags, rtCfg.Flags()...)
	flags = append(flags, sentryCfg.Flags()...)
	flags = append(flags, telemetryCfg.Flags()...)

	return &cli.Command{
		Name:    "serve",
		Aliases: []string{"s"},
		Usage:   "Start HTTP server",
		Flags:   flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			flushSentry, err := sentryCfg.Configure()
			if err != nil {
				return err
			}
			defer flushSentry()

			shutdownTracer, err := telemetryCfg.Configure()
			if err != nil {
				return err
			}
			defer func() {
				if err := shutdownTracer(context.Background()); err != nil {
					logging.Default().Error("failed to shutdown tracer", "error", err.Error())
				}
			}()

			rt, err := rtCfg.build(ctx)
			if err != nil {
				return err
			}
			defer rt.closer()

			sweeper := worker.NewIdempotencySweeper(rt.repo.Idempotency(), rtCfg.pipeline.SweepInterval())
			sweeper.Start(ctx)
			defer sweeper.Stop()

			server := &http.Server{
				Addr: addr,
				Handler: httpctrl.New(rt.uc,
					httpctrl.WithAdmin(enableAdmin),
					httpctrl.WithMaxBodyBytes(int64(maxBodyBytes)),
				),
				ReadHeaderTimeout: 30 * time.Second,
			}

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sigCh)

			errCh := make(chan error, 1)
			go func() {
				logging.Default().Info("Starting HTTP server", "addr", addr, "admin", enableAdmin)
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					errCh <- goerr.Wrap(err, "failed to start server")
				}
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
				logging.Default().Info("Context cancelled, shutting down")
			case sig := <-sigCh:
				logging.Default().Info("Received shutdown signal", "signal", sig)
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			if err := server.Shutdown(shutdownCtx); err != nil {
				return goerr.Wrap(err, "failed to shutdown server gracefully")
			}

			if !async.Wait(auditDrainTimeout) {
				logging.Default().Warn("Audit emission did not finish before shutdown", "timeout", auditDrainTimeout)
			}

			logging.Default().Info("Server shutdown completed")
			return nil
		},
	}
}
