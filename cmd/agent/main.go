// The agent command runs the kiosk provisioning agent: it loads the settings
// store, builds the module registry and orchestrator, reconciles statuses
// left over from before a reboot, and serves the web panel API.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/kioskops/provisioning-agent/common"
	"github.com/kioskops/provisioning-agent/enrollment"
	"github.com/kioskops/provisioning-agent/httpserver"
	"github.com/kioskops/provisioning-agent/modules"
	"github.com/kioskops/provisioning-agent/orchestrator"
	"github.com/kioskops/provisioning-agent/settings"
)

var flags []cli.Flag = []cli.Flag{
	&cli.StringFlag{
		Name:  "listen-addr",
		Value: "127.0.0.1:8080",
		Usage: "address to listen on for the panel API",
	},
	&cli.StringFlag{
		Name:  "metrics-addr",
		Value: "127.0.0.1:8090",
		Usage: "address to listen on for Prometheus metrics",
	},
	&cli.StringFlag{
		Name:  "settings-uri",
		Value: "file:///var/lib/kiosk/settings.json",
		Usage: "settings store location (file:// or bolt://)",
	},
	&cli.StringFlag{
		Name:  "approval-addr",
		Value: "",
		Usage: "base URL of the enrollment approval service",
	},
	&cli.StringFlag{
		Name:  "mok-key",
		Value: "/var/lib/shim-signed/mok/MOK.der",
		Usage: "machine owner key staged for secure boot enrollment",
	},
	&cli.BoolFlag{
		Name:  "log-json",
		Value: false,
		Usage: "log in JSON format",
	},
	&cli.BoolFlag{
		Name:  "log-debug",
		Value: false,
		Usage: "log debug messages",
	},
	&cli.BoolFlag{
		Name:  "log-uid",
		Value: false,
		Usage: "generate a uuid and add to all log messages",
	},
	&cli.StringFlag{
		Name:  "log-file",
		Value: "",
		Usage: "also log to this file, with rotation",
	},
	&cli.BoolFlag{
		Name:  "pprof",
		Value: false,
		Usage: "enable pprof debug endpoint",
	},
	&cli.Int64Flag{
		Name:  "drain-seconds",
		Value: 45,
		Usage: "seconds to wait in drain HTTP request",
	},
}

func main() {
	app := &cli.App{
		Name:  "agent",
		Usage: "Provision a kiosk machine through the web panel API",
		Flags: flags,
		Action: func(cCtx *cli.Context) error {
			listenAddr := cCtx.String("listen-addr")
			metricsAddr := cCtx.String("metrics-addr")
			settingsURI := cCtx.String("settings-uri")
			approvalAddr := cCtx.String("approval-addr")
			mokKeyPath := cCtx.String("mok-key")
			enablePprof := cCtx.Bool("pprof")
			drainDuration := time.Duration(cCtx.Int64("drain-seconds")) * time.Second

			logger := common.SetupLogger(&common.LoggingOpts{
				Debug:   cCtx.Bool("log-debug"),
				JSON:    cCtx.Bool("log-json"),
				Service: common.PackageName,
				Version: common.Version,
				LogFile: cCtx.String("log-file"),
			})
			if cCtx.Bool("log-uid") {
				logger = logger.With("uid", uuid.Must(uuid.NewRandom()).String())
			}

			store, err := settings.NewFromURI(settingsURI, logger)
			if err != nil {
				logger.Error("Failed to open settings store", "err", err)
				return err
			}

			var enrollClient *enrollment.Client
			if approvalAddr != "" {
				enrollClient = enrollment.NewClient(approvalAddr, logger)
			}

			registry, err := modules.DefaultRegistry(modules.Deps{
				Runner:      modules.NewExecRunner(logger),
				Store:       store,
				Enrollment:  enrollClient,
				Fingerprint: enrollment.NewHostFingerprinter(logger),
				MOKKeyPath:  mokKeyPath,
				Log:         logger,
			})
			if err != nil {
				logger.Error("Failed to build module registry", "err", err)
				return err
			}

			orch := orchestrator.New(registry, store, logger)

			logger.Info("Reconciling persisted module statuses")
			orch.Reconcile(context.Background())

			cfg := &httpserver.HTTPServerConfig{
				ListenAddr:               listenAddr,
				MetricsAddr:              metricsAddr,
				Log:                      logger,
				EnablePprof:              enablePprof,
				DrainDuration:            drainDuration,
				GracefulShutdownDuration: 30 * time.Second,
				ReadTimeout:              60 * time.Second,
				WriteTimeout:             30 * time.Second,
			}

			server, err := httpserver.New(cfg, httpserver.NewHandler(registry, orch, logger))
			if err != nil {
				logger.Error("Failed to create server", "err", err)
				return err
			}
			server.RunInBackground()

			exit := make(chan os.Signal, 1)
			signal.Notify(exit, os.Interrupt, syscall.SIGTERM)
			logger.Info("Agent is running", "listenAddress", listenAddr)
			<-exit
			logger.Info("Shutdown signal received")

			server.Shutdown()
			if err := store.Persist(); err != nil {
				logger.Error("Final settings persist failed", "err", err)
			}
			logger.Info("Agent shutdown complete")
			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
