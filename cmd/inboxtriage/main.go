package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/amilie/inboxtriage/internal/business"
	"github.com/amilie/inboxtriage/internal/classify"
	"github.com/amilie/inboxtriage/internal/config"
	"github.com/amilie/inboxtriage/internal/httpapi"
	"github.com/amilie/inboxtriage/internal/inbox"
	"github.com/amilie/inboxtriage/internal/memory"
	"github.com/amilie/inboxtriage/internal/observability"
	"github.com/amilie/inboxtriage/internal/respond"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	profile, err := business.Load(cfg.BusinessProfilePath)
	if err != nil {
		log.Fatalf("business profile load failed: %v", err)
	}
	if cfg.BusinessProfilePath == "" {
		log.Printf("business profile: built-in defaults (set BUSINESS_PROFILE_PATH to customize)")
	} else {
		log.Printf("business profile: %s (%s)", profile.Name, cfg.BusinessProfilePath)
	}

	ctx := context.Background()
	store, err := memory.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("client store init failed: %v", err)
	}
	defer store.Close()

	stream := httpapi.NewDecisionStream()
	suggester := respond.NewTemplateSuggester(profile)

	orchestrator := inbox.NewOrchestrator(
		store,
		inbox.LocalClassifier{C: classify.New(profile.SalesKeywords)},
		inbox.LocalExtractor{},
		suggester,
		stream,
		metrics,
		profile,
		inbox.Options{
			AnalysisTimeout: cfg.AnalysisTimeout,
			SuggestTimeout:  cfg.SuggestTimeout,
			RetryAttempts:   cfg.StorageRetryAttempts,
			RetryBase:       cfg.StorageRetryBase,
			RetryCap:        cfg.StorageRetryCap,
			SummaryBudget:   cfg.SummaryBudget,
			HistoryWindow:   cfg.HistoryWindow,
			SuggestionCount: cfg.SuggestionCount,
		},
	)

	api := httpapi.New(cfg, orchestrator, store, metrics, stream)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
}
