package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"

	"github.com/MartinSStewart/elm-review-bot/internal/archive"
	"github.com/MartinSStewart/elm-review-bot/internal/config"
	"github.com/MartinSStewart/elm-review-bot/internal/elm"
	"github.com/MartinSStewart/elm-review-bot/internal/engine"
	"github.com/MartinSStewart/elm-review-bot/internal/model"
	"github.com/MartinSStewart/elm-review-bot/internal/operator"
	"github.com/MartinSStewart/elm-review-bot/internal/pipeline"
	"github.com/MartinSStewart/elm-review-bot/internal/prorch"
)

const (
	registryBaseURL   = "https://package.elm-lang.org"
	archiveHost       = "github.com"
	defaultListen     = ":8080"
	defaultEnginePath = "elm-review"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			os.Exit(130)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string
	var listenAddr string
	var enginePath string
	var verbose bool

	root := &cobra.Command{
		Use:   "elm-review-bot",
		Short: "Crawls the Elm package registry and opens pull requests for rule violations",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "optional TOML config file")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the crawl/analyze/PR pipeline and the operator console",
		RunE: func(cmd *cobra.Command, args []string) error {
			level := log.InfoLevel
			if verbose {
				level = log.DebugLevel
			}
			logger := log.NewWithOptions(os.Stderr, log.Options{ReportTimestamp: true, Level: level})
			return serveCmd(cmd.Context(), logger, configPath, listenAddr, enginePath)
		},
	}
	serve.Flags().StringVar(&listenAddr, "listen", defaultListen, "HTTP listen address")
	serve.Flags().StringVar(&enginePath, "engine", defaultEnginePath, "path to the rule-engine executable")
	root.AddCommand(serve)

	return root
}

func serveCmd(ctx context.Context, logger *log.Logger, configPath, listenAddr, enginePath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	registry := elm.New(registryBaseURL, nil)
	archiver := archive.NewRetriever(archiveHost, func(string) (string, string) {
		return "Authorization", "token " + cfg.Token
	})
	orchestrator := prorch.New(cfg.Token, prorch.GuardAnnotateOnly)

	p := pipeline.New(pipeline.Config{
		Registry:     registry,
		MetaRegistry: registry,
		Archiver:     archiver,
		RuleEngine:   engine.New(enginePath),
		Orchestrator: orchestrator,
		IgnoreList:   cfg.IgnoreList,
		Baseline:     cfg.Baseline,
		Logger:       logger,
	})

	operatorHandler := operator.New(p, p.Broadcaster(), cfg.OperatorSecret)

	startedAt := time.Now()
	router := chi.NewRouter()
	operatorHandler.Routes(router)
	router.Get("/healthz", healthHandler(startedAt, p, archiver))

	server := &http.Server{Addr: listenAddr, Handler: router}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", listenAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	go p.Run(ctx)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("graceful shutdown failed", "err", err)
		}
		return ctx.Err()
	case err := <-serverErr:
		return err
	}
}

// healthPayload is the /healthz response body: process uptime, a tally of
// cached records by state, and the per-host archive circuit-breaker
// states, for an operator polling outside the WebSocket console.
type healthPayload struct {
	UptimeSeconds   float64           `json:"uptimeSeconds"`
	RecordsByState  map[string]int    `json:"recordsByState"`
	CircuitBreakers map[string]string `json:"circuitBreakers"`
}

// healthHandler closes over the process start time and the components
// that hold the state it reports: p.Snapshot() for the per-state record
// tally, archiver.BreakerStates() for the hosting-platform circuit
// breakers it drives.
func healthHandler(startedAt time.Time, p *pipeline.Pipeline, archiver *archive.Retriever) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload := healthPayload{
			UptimeSeconds:   time.Since(startedAt).Seconds(),
			RecordsByState:  tallyStates(p.Snapshot()),
			CircuitBreakers: archiver.BreakerStates(),
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(payload)
	}
}

func tallyStates(records []model.PackageRecord) map[string]int {
	tally := make(map[string]int)
	for _, rec := range records {
		tally[string(rec.State)]++
	}
	return tally
}
