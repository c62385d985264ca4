// Command h3server runs the reference responder: a minimal conformant
// HTTP/3 endpoint for pointing the probe at.
package main

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"

	"example.com/h3probe/internal/http3"

	"example.com/h3probe/internal/config"
	"example.com/h3probe/internal/logger"
	"example.com/h3probe/internal/responder"
	"example.com/h3probe/internal/testutil"
	"example.com/h3probe/internal/transport"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		listen     = flag.String("listen", "", "UDP address to bind (overrides config)")
		certFile   = flag.String("cert", "", "TLS certificate PEM path (overrides config)")
		keyFile    = flag.String("key", "", "TLS key PEM path (overrides config)")
		configPath = flag.String("config", "", "Path to a TOML configuration file")
		verbose    = flag.Bool("verbose", false, "Enable debug logging")
	)
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.LoadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
	}
	if *listen != "" {
		cfg.Server.Listen = listen
	}
	if *certFile != "" {
		cfg.Server.CertFile = certFile
	}
	if *keyFile != "" {
		cfg.Server.KeyFile = keyFile
	}
	if *verbose {
		lvl := config.LogLevelDebug
		cfg.Logging.Level = &lvl
	}
	log := logger.FromConfig(cfg, os.Stderr)

	tlsConf, err := serverTLSConfig(cfg)
	if err != nil {
		log.Error().Err(err).Msg("TLS setup failed")
		return 1
	}

	ln, err := transport.Listen(*cfg.Server.Listen, tlsConf)
	if err != nil {
		log.Error().Err(err).Msg("listen failed")
		return 1
	}
	defer ln.Close()
	log.Info().Str("addr", ln.Addr()).Msg("responder listening")

	resp := responder.New(responder.Options{
		Logger:            log.With().Str("component", "responder").Logger(),
		StaticBody:        []byte(*cfg.Server.StaticBody),
		EchoPath:          *cfg.Server.EchoPath,
		MaxRequestStreams: *cfg.Server.MaxRequestStreams,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	var active atomic.Int64
	maxConns := int64(*cfg.Server.MaxConnections)
	for {
		conn, err := ln.Accept(ctx)
		if err != nil {
			break
		}
		if active.Load() >= maxConns {
			log.Warn().Int64("active", active.Load()).Msg("refusing connection, limit reached")
			_ = conn.Close(http3.ErrCodeExcessiveLoad, "connection limit reached")
			continue
		}
		active.Add(1)
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer active.Add(-1)
			if err := resp.Serve(ctx, conn); err != nil && ctx.Err() == nil {
				log.Warn().Err(err).Msg("connection ended with error")
			}
		}()
	}
	wg.Wait()
	log.Info().Msg("responder stopped")
	return 0
}

// serverTLSConfig loads the configured key pair, or generates a self-signed
// one when none is configured.
func serverTLSConfig(cfg *config.Config) (*tls.Config, error) {
	if *cfg.Server.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(*cfg.Server.CertFile, *cfg.Server.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("loading key pair: %w", err)
		}
		return &tls.Config{Certificates: []tls.Certificate{cert}}, nil
	}
	return testutil.SelfSignedTLSConfig("localhost")
}
