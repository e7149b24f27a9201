package main

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

	"github.com/Stefanpicciani/Realtime-Translator-Conversation/internal/api"
	"github.com/Stefanpicciani/Realtime-Translator-Conversation/pkg/logger"
)

const shutdownTimeout = 10 * time.Second

var serveConnect bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the translator and its local control API",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveConnect, "connect", false, "Connect to the translation hub on startup")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	defer log.Sync()

	a, err := newApp(cfg, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if serveConnect {
		if err := a.orchestrator.Connect(ctx); err != nil {
			log.Warn("Initial connect failed, connect later through the API", logger.Error(err))
		}
	}

	router := api.NewRouter(a.orchestrator, a.metrics, cfg.Server, log)
	server := &http.Server{
		Addr:              cfg.Server.Address(),
		Handler:           router.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("API server listening", logger.String("address", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		// stop capture and leave the session before the API goes away
		a.close(shutdownCtx)
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
