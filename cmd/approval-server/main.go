// The approval-server command runs the enrollment approval service devices
// submit their fingerprints to, including the administrator decision API.
package main

import (
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/flashbots/go-utils/httplogger"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/kioskops/provisioning-agent/api/approval"
	"github.com/kioskops/provisioning-agent/common"
)

var flags []cli.Flag = []cli.Flag{
	&cli.StringFlag{
		Name:  "listen-addr",
		Value: "127.0.0.1:8081",
		Usage: "address to listen on for the enrollment API",
	},
	&cli.StringFlag{
		Name:  "store-path",
		Value: "",
		Usage: "bbolt database for enrollment records; empty keeps records in memory",
	},
	&cli.Int64Flag{
		Name:  "request-ttl-seconds",
		Value: 3600,
		Usage: "seconds an undecided request stays pending before it reads as expired",
	},
	&cli.Int64Flag{
		Name:  "register-cooldown-seconds",
		Value: 10,
		Usage: "minimum seconds between register calls per fingerprint",
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
}

func main() {
	app := &cli.App{
		Name:  "approval-server",
		Usage: "Serve the kiosk enrollment approval API",
		Flags: flags,
		Action: func(cCtx *cli.Context) error {
			logger := common.SetupLogger(&common.LoggingOpts{
				Debug:   cCtx.Bool("log-debug"),
				JSON:    cCtx.Bool("log-json"),
				Service: "approval-server",
				Version: common.Version,
			})
			if cCtx.Bool("log-uid") {
				logger = logger.With("uid", uuid.Must(uuid.NewRandom()).String())
			}

			var store approval.Store
			if path := cCtx.String("store-path"); path != "" {
				boltStore, err := approval.NewBoltStore(path)
				if err != nil {
					logger.Error("Failed to open enrollment store", "err", err)
					return err
				}
				defer boltStore.Close()
				store = boltStore
			} else {
				logger.Info("Using in-memory enrollment store; records will not survive restart")
				store = approval.NewMemoryStore()
			}

			handler := approval.NewHandler(store, approval.HandlerConfig{
				RequestTTL:       time.Duration(cCtx.Int64("request-ttl-seconds")) * time.Second,
				RegisterCooldown: time.Duration(cCtx.Int64("register-cooldown-seconds")) * time.Second,
			}, logger)

			mux := chi.NewRouter()
			mux.Group(func(r chi.Router) {
				r.Use(func(next http.Handler) http.Handler {
					return httplogger.LoggingMiddlewareSlog(logger, next)
				})
				handler.RegisterRoutes(r)
				handler.RegisterAdminRoutes(r)
			})

			srv := &http.Server{
				Addr:         cCtx.String("listen-addr"),
				Handler:      mux,
				ReadTimeout:  30 * time.Second,
				WriteTimeout: 30 * time.Second,
			}

			go func() {
				logger.Info("Starting approval server", "listenAddress", srv.Addr)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("Approval server failed", "err", err)
				}
			}()

			exit := make(chan os.Signal, 1)
			signal.Notify(exit, os.Interrupt, syscall.SIGTERM)
			<-exit
			logger.Info("Shutdown signal received")
			srv.Close()
			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
