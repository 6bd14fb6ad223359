package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"upcontacts/app"
	"upcontacts/internal/observability"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var (
		addr    string
		envFile string
		migrate bool
	)

	flagSet := pflag.NewFlagSet("upcontacts-api", pflag.ContinueOnError)
	flagSet.StringVar(&addr, "addr", "", "listen address (default \":$PORT\", PORT defaults to 8080)")
	flagSet.StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	flagSet.BoolVar(&migrate, "migrate", true, "apply pending schema migrations on startup")
	if err := flagSet.Parse(args); err != nil {
		return err
	}

	runtime, err := app.Build(app.Options{
		LoadDotEnv:    true,
		EnvFile:       envFile,
		RunMigrations: migrate,
	})
	if err != nil {
		return err
	}
	defer runtime.Close()

	if addr == "" {
		port := strings.TrimSpace(os.Getenv("PORT"))
		if port == "" {
			port = "8080"
		}
		addr = ":" + port
	}

	logger := observability.NewLogger()
	server := &http.Server{
		Addr:              addr,
		Handler:           runtime.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server_start", map[string]any{"addr": addr})
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	logger.Info("server_shutdown", nil)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
