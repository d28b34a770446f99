package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/handlers"
	"github.com/pterm/pterm"
	"github.com/pterm/pterm/putils"

	"github.com/theMahdiyarB/entekhablock/api"
	"github.com/theMahdiyarB/entekhablock/config"
	"github.com/theMahdiyarB/entekhablock/identity"
	"github.com/theMahdiyarB/entekhablock/ingest"
	"github.com/theMahdiyarB/entekhablock/ledger"
	"github.com/theMahdiyarB/entekhablock/metrics"
	"github.com/theMahdiyarB/entekhablock/poll"
)

func main() {
	demo := flag.Bool("demo", false, "run the offline chain demonstration and exit")
	flag.Parse()

	cfg := config.Load()
	logger, closeLog, err := buildLogger(cfg.LogFile)
	if err != nil {
		pterm.Error.Printfln("cannot open log file: %v", err)
		os.Exit(1)
	}
	defer closeLog()

	pterm.DefaultBigText.WithLetters(
		putils.LettersFromStringWithStyle("Entekhab", pterm.FgGreen.ToStyle()),
		putils.LettersFromStringWithStyle("lock", pterm.FgDarkGray.ToStyle()),
	).Render()

	if *demo {
		if err := runDemo(logger); err != nil {
			logger.Error("demo failed", "err", err)
			os.Exit(1)
		}
		return
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited", "err", err)
		os.Exit(1)
	}
}

func buildLogger(logFile string) (*slog.Logger, func(), error) {
	ptermLogger := pterm.DefaultLogger
	closeLog := func() {}
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, err
		}
		ptermLogger = *pterm.DefaultLogger.WithWriter(io.MultiWriter(os.Stderr, f))
		closeLog = func() { f.Close() }
	}
	return slog.New(pterm.NewSlogHandler(&ptermLogger)), closeLog, nil
}

func run(cfg config.Config, logger *slog.Logger) error {
	salt := cfg.VoterSalt
	if salt == "" {
		salt = identity.DefaultSalt
		logger.Warn("VOTER_HASH_SALT not set, using the built-in development salt")
	}
	if cfg.AdminToken == "" {
		logger.Warn("ADMIN_TOKEN not set, admin endpoints are disabled")
	}

	chain, err := ledger.New(
		ledger.WithDifficulty(cfg.Difficulty),
		ledger.WithStore(ledger.NewFileStore(cfg.StorePath)),
		ledger.WithLogger(logger),
	)
	if err != nil {
		return err
	}
	polls, err := poll.NewManager(cfg.PollsPath, poll.WithLogger(logger))
	if err != nil {
		return err
	}
	voters, err := identity.NewRegistry(cfg.VotersCSV, logger)
	if err != nil {
		return err
	}

	m := metrics.New(nil)
	server := api.NewServer(chain, polls, voters, api.Options{
		VoterSalt:  salt,
		AdminToken: cfg.AdminToken,
		Metrics:    m,
		Logger:     logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	consumerDone := make(chan struct{})
	if len(cfg.Brokers) > 0 {
		consumer, err := ingest.NewConsumer(ingest.Config{
			Brokers: cfg.Brokers,
			Topic:   cfg.Topic,
		}, chain, polls, logger)
		if err != nil {
			return err
		}
		go func() {
			defer close(consumerDone)
			consumer.Run(ctx)
		}()
	} else {
		close(consumerDone)
		logger.Info("KAFKA_BROKERS not set, vote ingestion from Kafka disabled")
	}

	httpServer := &http.Server{
		Addr:         cfg.BindAddr,
		Handler:      handlers.LoggingHandler(os.Stdout, server.Router()),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	if cfg.TLSEnabled {
		tlsConfig, err := api.SelfSignedTLSConfig(cfg.BindAddr)
		if err != nil {
			return err
		}
		httpServer.TLSConfig = tlsConfig
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("serving", "addr", cfg.BindAddr, "tls", cfg.TLSEnabled,
			"difficulty", chain.Difficulty(), "blocks", chain.Len())
		if cfg.TLSEnabled {
			serveErr <- httpServer.ListenAndServeTLS("", "")
		} else {
			serveErr <- httpServer.ListenAndServe()
		}
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "err", err)
	}
	<-consumerDone
	return nil
}
