package engine

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/carelens/edrisk/config"
	"github.com/carelens/edrisk/internal/retrieval"
	"github.com/carelens/edrisk/internal/score"
	"github.com/carelens/edrisk/internal/session"
	"github.com/carelens/edrisk/internal/stats"
	"github.com/carelens/edrisk/internal/store"
	"github.com/carelens/edrisk/internal/telemetry"
	"github.com/carelens/edrisk/provider"
)

// Runtime bundles the engine with the collaborators the transports need
// to reach directly (session sweeping, metrics, audit shutdown).
type Runtime struct {
	Engine   *Engine
	Sessions session.Store
	Metrics  *telemetry.Metrics
	Audit    *store.Store
}

// Close releases runtime resources.
func (r *Runtime) Close() error {
	if r.Audit != nil {
		return r.Audit.Close()
	}
	return nil
}

// BuildRuntime performs the top-level dependency wiring from config: the
// scorer (fatal on a feature-schema mismatch), the retrieval backend, the
// session store and the optional audit log.
func BuildRuntime(ctx context.Context, cfg *config.Config, reg prometheus.Registerer, logger *log.Logger) (*Runtime, error) {
	rules, unknown := score.BuildRules(cfg.Risk.Adjustments)
	if len(unknown) > 0 {
		logger.Printf("ignoring unknown risk.adjustments keys: %s", strings.Join(unknown, ", "))
	}
	cuts := score.Cutpoints{
		Low:      cfg.Risk.Cutpoints.Low,
		Moderate: cfg.Risk.Cutpoints.Moderate,
		High:     cfg.Risk.Cutpoints.High,
	}
	scorer, err := score.NewScorerFromArtifact(
		artifactPath(cfg, cfg.Artifacts.Model), rules, cuts, logger)
	if err != nil {
		return nil, err
	}
	triage := score.DefaultTriagePolicy().WithOverrides(cfg.Risk.TriageDefaults)

	var embedder retrieval.Embedder
	if cfg.Provider.APIKey != "" {
		p, err := provider.NewProvider(provider.OpenAI, provider.Options{
			APIKey:         cfg.Provider.APIKey,
			BaseURL:        cfg.Provider.BaseURL,
			EmbeddingModel: cfg.Provider.EmbeddingModel,
			Timeout:        cfg.Provider.Timeout,
		})
		if err != nil {
			logger.Printf("embedding provider unavailable (%v), dense retrieval disabled", err)
		} else {
			embedder = p
		}
	}
	index, err := retrieval.Select(
		artifactPath(cfg, cfg.Artifacts.KBChunks),
		artifactPath(cfg, cfg.Artifacts.KBDense),
		embedder, logger)
	if err != nil {
		return nil, err
	}

	st, err := stats.Load(artifactPath(cfg, cfg.Artifacts.Stats))
	if err != nil {
		return nil, err
	}

	sessions, err := buildSessionStore(cfg)
	if err != nil {
		return nil, err
	}

	metrics := telemetry.New(reg)
	metrics.ActiveBackend.WithLabelValues(index.Name()).Set(1)

	var audit *store.Store
	if cfg.Storage.Postgres.URL != "" {
		audit, err = store.NewWithDSN(ctx, cfg.Storage.Postgres.URL)
		if err != nil {
			return nil, fmt.Errorf("audit store: %w", err)
		}
		logger.Printf("turn audit enabled")
	}

	var auditor Auditor
	if audit != nil {
		auditor = audit
	}
	eng, err := New(sessions, scorer, triage, index, st, metrics, auditor, logger, Options{
		TopK:              cfg.Retrieval.TopK,
		MinScoreAsk:       cfg.Retrieval.MinScoreAsk,
		MinScoreRecommend: cfg.Retrieval.MinScoreRecommend,
	})
	if err != nil {
		return nil, err
	}
	return &Runtime{Engine: eng, Sessions: sessions, Metrics: metrics, Audit: audit}, nil
}

func buildSessionStore(cfg *config.Config) (session.Store, error) {
	switch cfg.Session.Backend {
	case session.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Storage.Redis.Addr(),
			Password: cfg.Storage.Redis.Password,
			DB:       cfg.Storage.Redis.DB,
		})
		return session.NewRedisStore(client, cfg.Session.TTL)
	case session.BackendInMemory:
		return session.NewInMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported session backend %q", cfg.Session.Backend)
	}
}

func artifactPath(cfg *config.Config, name string) string {
	if name == "" {
		return ""
	}
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(cfg.Artifacts.Dir, name)
}
