// Command profilerd runs the keystroke-biometrics identification service.
//
// Usage:
//
//	profilerd serve    run the HTTP façade until SIGINT/SIGTERM
//	profilerd train    run one training pass over persisted sessions and exit
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"profilerd/internal/config"
	"profilerd/internal/logging"
	"profilerd/internal/service"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: profilerd <serve|train>")
		os.Exit(2)
	}

	switch os.Args[1] {
	case "serve":
		if err := cmdServe(); err != nil {
			fmt.Fprintln(os.Stderr, "profilerd: serve:", err)
			os.Exit(1)
		}
	case "train":
		if err := cmdTrain(); err != nil {
			fmt.Fprintln(os.Stderr, "profilerd: train:", err)
			os.Exit(1)
		}
	default:
		fmt.Fprintf(os.Stderr, "profilerd: unknown command %q\n", os.Args[1])
		os.Exit(2)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(config.ConfigPath())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*logging.Logger, error) {
	logCfg := logging.DefaultConfig()
	logCfg.Output = "both"
	logCfg.FilePath = cfg.LogPath
	logCfg.Component = "profilerd"
	log, err := logging.New(logCfg)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	logging.SetDefault(log)
	return log, nil
}

func cmdTrain() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Close()

	svc, err := service.New(cfg, log)
	if err != nil {
		return err
	}
	defer svc.Close()

	msg, err := svc.Train(context.Background())
	if err != nil {
		return err
	}
	fmt.Println(msg)
	return nil
}

func cmdServe() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Close()

	svc, err := service.New(cfg, log)
	if err != nil {
		return err
	}
	defer svc.Close()

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: svc.Handler(),
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("profilerd: listening", "addr", cfg.ListenAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case sig := <-sigChan:
			log.Info("profilerd: received signal, shutting down", "signal", sig.String())
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				log.Warn("profilerd: graceful shutdown failed", "error", err)
			}
			return nil
		case err := <-serveErr:
			return fmt.Errorf("http server: %w", err)
		case <-ticker.C:
			log.Info("profilerd: status", "uptime", time.Since(startTime).String())
			svc.RefreshAmbientMetrics()
			if n := svc.EvictExpiredSessions(); n > 0 {
				log.Info("profilerd: evicted expired identification sessions", "count", n)
			}
		case <-ctx.Done():
			return nil
		}
	}
}

var startTime = time.Now()
