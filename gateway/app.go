package gateway

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/exp/slog"

	"github.com/alovak/secureframe/internal/events"
	"github.com/alovak/secureframe/internal/metrics"
	"github.com/alovak/secureframe/internal/middleware"
	"github.com/alovak/secureframe/internal/security"
)

// App is the gateway application. It owns the HTTP server and every backend
// the service talks to, and is responsible for starting and stopping them.
type App struct {
	srv     *http.Server
	wg      *sync.WaitGroup
	Addr    string
	logger  *slog.Logger
	config  *Config
	signer  security.Signer
	service *Service
	closers []io.Closer
	done    chan struct{}
}

func NewApp(logger *slog.Logger, config *Config, signer security.Signer) *App {
	logger = logger.With(slog.String("app", "secureframe-gateway"))

	if config == nil {
		config = DefaultConfig()
	}

	return &App{
		wg:     &sync.WaitGroup{},
		logger: logger,
		config: config,
		signer: signer,
	}
}

func (a *App) Start() error {
	a.logger.Info("starting app...")

	if a.signer == nil {
		return fmt.Errorf("a fingerprint signer is required")
	}

	repository, err := a.repository()
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a.service = NewService(a.logger, a.config, ServiceDeps{
		Signer:    a.signer,
		Repo:      repository,
		Guard:     a.replayGuard(),
		Publisher: a.publisher(),
		Metrics:   metrics.New(reg),
	})

	router := chi.NewRouter()
	router.Use(chimw.RequestID)
	router.Use(middleware.NewStructuredLogger(a.logger))
	router.Use(chimw.Recoverer)

	api := NewAPI(a.service)
	api.AppendRoutes(router)

	router.Get("/-/live", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	router.Get("/-/ready", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := a.service.Ready(ctx); err != nil {
			http.Error(w, "db not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	router.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	l, err := net.Listen("tcp", a.config.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening tcp port: %w", err)
	}

	a.Addr = l.Addr().String()

	a.srv = &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	a.done = make(chan struct{})
	if ttl := a.config.SessionTTL; ttl > 0 {
		a.wg.Add(1)
		go a.sweepSessions(min(ttl, time.Minute))
	}

	a.wg.Add(1)
	go func() {
		a.logger.Info("http server started", slog.String("addr", a.Addr))

		if err := a.srv.Serve(l); err != nil {
			if err != http.ErrServerClosed {
				a.logger.Error("starting http server", "err", err)
			}

			a.logger.Info("http server stopped")
		}

		a.wg.Done()
	}()

	return nil
}

func (a *App) sweepSessions(every time.Duration) {
	defer a.wg.Done()

	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-a.done:
			return
		case <-ticker.C:
			if n := a.service.Sweep(); n > 0 {
				a.logger.Info("expired idle sessions", slog.Int("count", n))
			}
		}
	}
}

func (a *App) repository() (*Repository, error) {
	switch a.config.RepoBackend {
	case "mem":
		a.logger.Warn("outcomes are kept in memory")
		return NewRepository(), nil
	case "pg":
		if a.config.DBDSN == "" {
			return nil, fmt.Errorf("DB_DSN is required for pg backend")
		}
		db, err := sql.Open("postgres", a.config.DBDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		db.SetMaxIdleConns(5)
		db.SetMaxOpenConns(10)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("ping postgres: %w", err)
		}
		repo := NewPGRepository(db)
		if err := repo.Migrate(ctx); err != nil {
			db.Close()
			return nil, err
		}
		a.closers = append(a.closers, db)
		return repo, nil
	}
	return nil, fmt.Errorf("unsupported REPO_BACKEND=%s", a.config.RepoBackend)
}

func (a *App) replayGuard() ReplayGuard {
	if a.config.RedisAddr == "" {
		return NewMemoryReplayGuard(a.config.ReplayTTL)
	}
	client := redis.NewClient(&redis.Options{
		Addr:     a.config.RedisAddr,
		Password: a.config.RedisPassword,
		DB:       a.config.RedisDB,
	})
	a.closers = append(a.closers, client)
	return NewRedisReplayGuard(client, a.config.ReplayTTL)
}

func (a *App) publisher() events.Publisher {
	if len(a.config.KafkaBrokers) == 0 {
		return events.Discard{}
	}
	p := events.NewKafkaPublisher(a.logger, a.config.KafkaBrokers, a.config.KafkaTopic, events.RetryConfig{
		MaxAttempts: a.config.RetryMaxAttempts,
		BaseDelay:   a.config.RetryBaseDelay,
		MaxDelay:    a.config.RetryMaxDelay,
		Jitter:      a.config.RetryJitter,
	})
	a.closers = append(a.closers, p)
	return p
}

func (a *App) Shutdown() {
	a.logger.Info("shutting down app...")

	if a.srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.srv.Shutdown(ctx); err != nil {
			a.logger.Error("shutting down http server", "err", err)
		}
	}
	if a.done != nil {
		close(a.done)
	}
	if a.service != nil {
		a.service.CloseAll()
	}

	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			a.logger.Error("closing backend", "err", err)
		}
	}

	a.wg.Wait()

	a.logger.Info("app stopped")
}
