// Command h3probe runs HTTP/3 non-conformance scenarios against a target and
// reports how the target reacts to each.
package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"example.com/h3probe/internal/config"
	"example.com/h3probe/internal/http3"
	"example.com/h3probe/internal/logger"
	"example.com/h3probe/internal/scenario"
	"example.com/h3probe/internal/transport"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		host       = flag.String("host", "", "Target host or IP (required unless -list)")
		port       = flag.Int("port", 443, "Target UDP port")
		scenarioID = flag.String("scenario", "", "Scenario ID to run, e.g. control/second-control-stream")
		runAll     = flag.Bool("all", false, "Run every registered scenario")
		list       = flag.Bool("list", false, "List registered scenarios and exit")
		timeout    = flag.Duration("timeout", 0, "Observation window per scenario (default from config)")
		insecure   = flag.Bool("insecure", false, "Skip TLS certificate verification")
		caFile     = flag.String("ca", "", "PEM bundle of additional trusted roots")
		configPath = flag.String("config", "", "Path to a TOML configuration file")
		verbose    = flag.Bool("verbose", false, "Enable debug logging")
	)
	flag.Parse()

	if *list {
		printScenarios()
		return 0
	}

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.LoadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
	}
	if *verbose {
		lvl := config.LogLevelDebug
		cfg.Logging.Level = &lvl
	}
	log := logger.FromConfig(cfg, os.Stderr)

	if *host == "" {
		fmt.Fprintln(os.Stderr, "Error: -host is required (or -list to see scenarios).")
		flag.Usage()
		return 2
	}
	if (*scenarioID == "") == !*runAll {
		fmt.Fprintln(os.Stderr, "Error: pass exactly one of -scenario or -all.")
		flag.Usage()
		return 2
	}

	observeTimeout, err := cfg.ObserveTimeout()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if *timeout > 0 {
		observeTimeout = *timeout
	}

	tlsConf, err := buildTLSConfig(cfg, *insecure, *caFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	addr := fmt.Sprintf("%s:%d", *host, *port)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner := &scenario.Runner{
		Dial: func(ctx context.Context) (http3.Transport, error) {
			dctx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return transport.Dial(dctx, addr, tlsConf)
		},
		ObserveTimeout: observeTimeout,
		Log:            log.With().Str("component", "runner").Logger(),
	}

	var outcomes []scenario.Outcome
	if *runAll {
		outcomes = runner.RunAll(ctx)
	} else {
		sc, ok := scenario.Get(*scenarioID)
		if !ok {
			fmt.Fprintf(os.Stderr, "Error: unknown scenario %q. Use -list.\n", *scenarioID)
			return 2
		}
		outcomes = []scenario.Outcome{runner.Run(ctx, sc)}
	}

	failed := 0
	for _, out := range outcomes {
		printOutcome(out)
		if out.Reaction == scenario.ReactionTransportFailure {
			failed++
		}
	}
	if failed > 0 {
		fmt.Fprintf(os.Stderr, "%d of %d runs failed before an observation could be made\n", failed, len(outcomes))
		return 1
	}
	return 0
}

func buildTLSConfig(cfg *config.Config, insecure bool, caFile string) (*tls.Config, error) {
	tlsConf := &tls.Config{
		InsecureSkipVerify: insecure || *cfg.Client.Insecure,
		NextProtos:         []string{transport.NextProtoH3},
	}
	if caFile == "" {
		caFile = *cfg.Client.CAFile
	}
	if caFile != "" {
		pemBytes, err := os.ReadFile(caFile)
		if err != nil {
			return nil, fmt.Errorf("reading CA bundle %s: %w", caFile, err)
		}
		pool, err := x509.SystemCertPool()
		if err != nil {
			pool = x509.NewCertPool()
		}
		if !pool.AppendCertsFromPEM(pemBytes) {
			return nil, fmt.Errorf("no certificates found in %s", caFile)
		}
		tlsConf.RootCAs = pool
	}
	return tlsConf, nil
}

func printScenarios() {
	for _, sc := range scenario.All() {
		violation := sc.Violation
		if violation == "" {
			violation = "(baseline, no violation)"
		}
		fmt.Printf("%-40s %s\n", sc.ID, sc.Name)
		fmt.Printf("%-40s   rule: %s; violation: %s\n", "", sc.Rule, violation)
	}
}

func printOutcome(out scenario.Outcome) {
	switch out.Reaction {
	case scenario.ReactionConnectionClosed:
		fmt.Printf("%-40s connection closed with %s (%q) after %s\n",
			out.ScenarioID, out.ErrorCode, out.Reason, out.Elapsed.Round(time.Millisecond))
	case scenario.ReactionStreamReset:
		fmt.Printf("%-40s stream reset with %s after %s\n",
			out.ScenarioID, out.ErrorCode, out.Elapsed.Round(time.Millisecond))
	case scenario.ReactionResponseReceived:
		fmt.Printf("%-40s responded with status %s after %s\n",
			out.ScenarioID, out.Status, out.Elapsed.Round(time.Millisecond))
	case scenario.ReactionStreamEndedWithoutResponse:
		fmt.Printf("%-40s stream finished without response headers after %s\n",
			out.ScenarioID, out.Elapsed.Round(time.Millisecond))
	case scenario.ReactionTimeout:
		fmt.Printf("%-40s no reaction within the observation window\n", out.ScenarioID)
	case scenario.ReactionTransportFailure:
		fmt.Printf("%-40s transport failure: %s\n", out.ScenarioID, out.Reason)
	}
}
