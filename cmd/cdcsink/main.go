package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/cdcsink/cdcsink/pkg/api"
	"github.com/cdcsink/cdcsink/pkg/config"
	"github.com/cdcsink/cdcsink/pkg/metrics"
	"github.com/cdcsink/cdcsink/pkg/notifier"
	"github.com/cdcsink/cdcsink/pkg/orchestrator"

	_ "github.com/cdcsink/cdcsink/pkg/connector/kafkastream"
	_ "github.com/cdcsink/cdcsink/pkg/connector/mongostream"
	_ "github.com/cdcsink/cdcsink/pkg/connector/mysqlstream"
	_ "github.com/cdcsink/cdcsink/pkg/connector/postgresstream"
	_ "github.com/cdcsink/cdcsink/pkg/destination/elasticdest"
	_ "github.com/cdcsink/cdcsink/pkg/destination/kafkadest"
	_ "github.com/cdcsink/cdcsink/pkg/destination/mongodest"
	_ "github.com/cdcsink/cdcsink/pkg/destination/relational"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	var (
		configFile  = flag.String("config", "", "Configuration file path")
		logLevel    = flag.String("log-level", "", "Log level (debug, info, warn, error)")
		showVersion = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("cdcsink %s (commit %s, built %s)\n", version, commit, date)
		os.Exit(0)
	}

	loader := config.NewLoader()
	var cfg *config.Config
	var err error
	if *configFile != "" {
		cfg, err = loader.LoadFromFile(*configFile)
	} else {
		cfg, err = loader.LoadDefault()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "cdcsink: failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	bootstrapLogging(cfg.Logging.Level)

	log.Info().Str("version", version).Str("commit", commit).Msg("starting cdcsink")

	if err := run(cfg); err != nil {
		log.Fatal().Err(err).Msg("cdcsink exited with error")
	}
}

// bootstrapLogging mirrors the teacher's global zerolog level switch rather
// than introducing a per-package logger.
func bootstrapLogging(levelName string) {
	level := zerolog.InfoLevel
	switch levelName {
	case "debug":
		level = zerolog.DebugLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}
	zerolog.SetGlobalLevel(level)
}

func run(cfg *config.Config) error {
	smtpCfg := notifier.SMTPConfigFromEnv()
	notifierKind := "noop"
	if smtpCfg.Host != "" {
		notifierKind = "smtp"
	}
	n, err := notifier.New(notifierKind, smtpCfg)
	if err != nil {
		return fmt.Errorf("build notifier: %w", err)
	}

	orch := orchestrator.New()
	flowMetrics := metrics.NewFlowMetrics()

	telemetry, err := metrics.NewTelemetryManager(cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("build telemetry manager: %w", err)
	}
	if err := telemetry.Start(context.Background()); err != nil {
		return fmt.Errorf("start telemetry manager: %w", err)
	}
	poller := metrics.NewOrchestratorPoller(telemetry, orchestratorSnapshotSource{orch})

	runner := api.NewOrchestratorRunner(orch, n)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	for _, streamCfg := range cfg.Streams {
		if !streamCfg.Enabled {
			log.Info().Str("flow", streamCfg.Name).Msg("skipping disabled stream")
			continue
		}
		if err := runner.Start(ctx, streamCfg); err != nil {
			return fmt.Errorf("start stream %q: %w", streamCfg.Name, err)
		}
		log.Info().Str("flow", streamCfg.Name).Msg("flow started")
	}

	serverCfg := api.DefaultServerConfig()
	serverCfg.Host = cfg.Server.Host
	if cfg.Server.Port != 0 {
		serverCfg.Port = cfg.Server.Port
	}
	if cfg.Server.ReadTimeout != 0 {
		serverCfg.ReadTimeout = cfg.Server.ReadTimeout
	}
	if cfg.Server.WriteTimeout != 0 {
		serverCfg.WriteTimeout = cfg.Server.WriteTimeout
	}
	apiServer, err := api.NewServer(cfg, serverCfg, telemetry, runner)
	if err != nil {
		return fmt.Errorf("build api server: %w", err)
	}
	go func() {
		if err := apiServer.Start(); err != nil {
			log.Error().Err(err).Msg("api server failed")
		}
	}()

	pollInterval := 5 * time.Second
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	if err := poller.Start(ctx, pollInterval); err != nil {
		return fmt.Errorf("start metrics poller: %w", err)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				observeFlows(orch, flowMetrics)
			}
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutdown signal received, draining flows")

	_ = poller.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	orch.Shutdown(shutdownCtx)
	_ = telemetry.Stop(shutdownCtx)
	_ = apiServer.Stop(shutdownCtx)

	return nil
}

// orchestratorSnapshotSource adapts *orchestrator.Orchestrator to
// metrics.OrchestratorSource without pkg/metrics importing pkg/orchestrator.
type orchestratorSnapshotSource struct {
	orch *orchestrator.Orchestrator
}

func (s orchestratorSnapshotSource) ListFlows() []string {
	return s.orch.ListFlows()
}

func (s orchestratorSnapshotSource) FlowSnapshot(name string) (metrics.FlowSnapshot, error) {
	m, err := s.orch.GetFlowMetrics(name)
	if err != nil {
		return metrics.FlowSnapshot{}, err
	}
	eps := 0.0
	if m.Uptime > 0 {
		eps = float64(m.RecordsProcessed) / m.Uptime.Seconds()
	}
	return metrics.FlowSnapshot{
		EventsPerSecond:  eps,
		RecordsProcessed: m.RecordsProcessed,
		Errors:           m.Errors,
	}, nil
}

// observeFlows snapshots every running flow's counters into the Prometheus
// gauges, keeping pkg/metrics decoupled from pkg/flow's concrete type.
func observeFlows(orch *orchestrator.Orchestrator, fm *metrics.FlowMetrics) {
	for _, name := range orch.ListFlows() {
		status, err := orch.GetFlowStatus(name)
		if err != nil {
			continue
		}
		m, err := orch.GetFlowMetrics(name)
		if err != nil {
			continue
		}
		fm.Observe(metrics.FlowObservation{
			Name:             name,
			Status:           string(status),
			MessagesReceived: m.MessagesReceived,
			RecordsProcessed: m.RecordsProcessed,
			Errors:           m.Errors,
		})
	}
}
