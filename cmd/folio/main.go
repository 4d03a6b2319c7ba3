package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/weirdwool/folio"
	"github.com/weirdwool/folio/contentsync"
)

// version is set at build time via ldflags.
var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		if err := runServe(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "manifest":
		folder := ""
		if len(os.Args) > 2 {
			folder = os.Args[2]
		}
		if err := runManifest(folder); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "version":
		fmt.Printf("folio %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func runServe() error {
	cfg, err := folio.LoadConfig(folio.EnvOr("FOLIO_CONFIG", ""))
	if err != nil {
		return err
	}
	logger, err := folio.NewLogger(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := folio.New(cfg, folio.WithLogger(logger))
	defer app.Close()

	errCh := make(chan error, 1)
	go func() { errCh <- app.Start(ctx) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", zap.Error(err))
		return err
	}
	return <-errCh
}

func runManifest(folder string) error {
	cfg, err := folio.LoadConfig(folio.EnvOr("FOLIO_CONFIG", ""))
	if err != nil {
		return err
	}
	logger, err := folio.NewLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	svc := contentsync.New(cfg.Root, contentsync.WithLogger(logger))
	m, err := svc.WriteManifest(folder)
	if errors.Is(err, contentsync.ErrNotFound) {
		logger.Warn("gallery folder not found, wrote an empty manifest", zap.Error(err))
		return nil
	}
	if err != nil {
		return err
	}
	logger.Info("manifest written",
		zap.String("file", contentsync.ManifestFile),
		zap.String("folder", m.Folder),
		zap.Int("images", len(m.Images)))
	return nil
}

func printUsage() {
	fmt.Println(`folio - content service for the portfolio admin panel

Usage:
  folio <command> [arguments]

Commands:
  serve              Start the HTTP API
  manifest [folder]  Write the gallery manifest for folder
  version            Print the folio version
  help               Show this help message

Environment:
  FOLIO_CONFIG       Optional YAML config file
  ADMIN_PASSWORD     Admin login password
  GITHUB_TOKEN       Token used to propagate changes to the site repository`)
}
