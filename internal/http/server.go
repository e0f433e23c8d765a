package http

import (
	"context"
	"encoding/json"
	"fmt"
	nethttp "net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"go-monitor-bulletin/internal/bulletin"
	"go-monitor-bulletin/internal/config"
	"go-monitor-bulletin/internal/connectors/manager"
	mysqlstore "go-monitor-bulletin/internal/connectors/mysql"
	promstore "go-monitor-bulletin/internal/connectors/prometheus"
	redisstore "go-monitor-bulletin/internal/connectors/redis"
	sqlitestore "go-monitor-bulletin/internal/connectors/sqlite"
	"go-monitor-bulletin/internal/i18n"
)

// Server wraps an HTTP server and route handlers.
type Server struct {
	httpServer *nethttp.Server
	store      bulletin.DefineStore
	log        logrus.FieldLogger
}

// deps is everything the handlers close over.
type deps struct {
	store     bulletin.DefineStore
	backend   string
	manager   *manager.Client
	collector *bulletin.Collector
	catalog   *i18n.Catalog
	scraper   *promstore.Scraper
	log       logrus.FieldLogger
	pageSize  int
}

// NewServer opens the configured define store and wires the API.
func NewServer(cfg config.Config, log *logrus.Logger) (*Server, error) {
	store, err := OpenStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.StoreBackend, err)
	}
	catalog, err := i18n.Load(cfg.DefaultLang)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	client := manager.NewClient(cfg.ManagerEndpoint, cfg.ManagerTimeout).WithObserver(func(op string, sec float64, err error) {
		recordExternalProbe("manager", op, sec, err)
	})
	if !client.Enabled() {
		log.Warn("APP_MANAGER_ENDPOINT not set; apps, monitors and report data are unavailable")
	}

	var scraper *promstore.Scraper
	if cfg.PromEnabled {
		scraper = promstore.NewScraper(cfg.PromTargets, cfg.PromMatchPrefix, cfg.PromScrapeTimeout)
	}

	d := deps{
		store:     store,
		backend:   cfg.StoreBackend,
		manager:   client,
		collector: bulletin.NewCollector(client, log.WithField("component", "collector")),
		catalog:   catalog,
		scraper:   scraper,
		log:       log,
		pageSize:  cfg.DefaultPageSize,
	}

	httpServer := &nethttp.Server{
		Addr:         cfg.ListenAddr,
		Handler:      newRouter(d),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return &Server{httpServer: httpServer, store: store, log: log}, nil
}

// OpenStore opens the define store selected by APP_STORE_BACKEND.
func OpenStore(cfg config.Config) (bulletin.DefineStore, error) {
	switch cfg.StoreBackend {
	case config.BackendMySQL:
		return mysqlstore.NewStore(cfg)
	case config.BackendRedis:
		return redisstore.NewStore(redisstore.Options{
			Addr:      cfg.RedisAddr,
			Password:  cfg.RedisPassword,
			DB:        cfg.RedisDB,
			KeyPrefix: cfg.RedisKeyPrefix,
		})
	case config.BackendSQLite, "":
		return sqlitestore.NewSQLiteStore(cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("unsupported store backend %q", cfg.StoreBackend)
	}
}

func newRouter(d deps) *mux.Router {
	r := mux.NewRouter()
	r.Use(loggingMiddleware(d.log), observabilityMiddleware)

	r.HandleFunc("/", bulletinPageHandler(d)).Methods(nethttp.MethodGet)
	r.HandleFunc("/favicon.ico", faviconHandler)
	r.Handle("/metrics", metricsHandler())
	r.HandleFunc("/health", healthHandler)
	r.HandleFunc("/ready", readyHandler(d))
	r.HandleFunc("/api/v1/metrics/app", appMetricsSummaryHandler())
	r.HandleFunc("/api/v1/status/services", servicesStatusHandler(d))

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/bulletin", listDefinesHandler(d)).Methods(nethttp.MethodGet)
	api.HandleFunc("/bulletin", createDefineHandler(d)).Methods(nethttp.MethodPost)
	api.HandleFunc("/bulletin", updateDefineHandler(d)).Methods(nethttp.MethodPut)
	api.HandleFunc("/bulletin", deleteDefinesHandler(d)).Methods(nethttp.MethodDelete)
	api.HandleFunc("/bulletin/metrics", bulletinMetricsHandler(d)).Methods(nethttp.MethodGet)
	api.HandleFunc("/bulletin/tabs", bulletinTabsHandler(d)).Methods(nethttp.MethodGet)
	api.HandleFunc("/bulletin/hierarchy/{app}", bulletinHierarchyHandler(d)).Methods(nethttp.MethodGet)
	api.HandleFunc("/bulletin/{id:[0-9]+}", getDefineHandler(d)).Methods(nethttp.MethodGet)
	api.HandleFunc("/apps/defines", appDefinesHandler(d)).Methods(nethttp.MethodGet)
	api.HandleFunc("/apps/hierarchy/{app}", appHierarchyHandler(d)).Methods(nethttp.MethodGet)
	api.HandleFunc("/monitors/{app}/app", monitorsByAppHandler(d)).Methods(nethttp.MethodGet)
	api.HandleFunc("/monitor/{id:[0-9]+}/metrics/{metric}", monitorMetricDataHandler(d)).Methods(nethttp.MethodGet)

	r.NotFoundHandler = nethttp.HandlerFunc(func(w nethttp.ResponseWriter, _ *nethttp.Request) {
		writeFail(w, nethttp.StatusNotFound, "not found")
	})
	r.MethodNotAllowedHandler = nethttp.HandlerFunc(func(w nethttp.ResponseWriter, _ *nethttp.Request) {
		writeFail(w, nethttp.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server and closes the store.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	if s.store != nil {
		if cerr := s.store.Close(); cerr != nil {
			s.log.WithError(cerr).Warn("failed to close define store")
		}
	}
	return err
}

func healthHandler(w nethttp.ResponseWriter, _ *nethttp.Request) {
	writeJSON(w, nethttp.StatusOK, map[string]any{
		"status": "ok",
		"time":   time.Now().UTC(),
	})
}

func readyHandler(d deps) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		start := time.Now()
		err := d.store.Ping(ctx)
		recordDBQuery(d.backend, "Ping", time.Since(start).Seconds(), err)
		if err != nil {
			writeJSON(w, nethttp.StatusServiceUnavailable, map[string]any{
				"status": "not_ready",
				"error":  err.Error(),
			})
			return
		}
		writeJSON(w, nethttp.StatusOK, map[string]any{
			"status": "ready",
		})
	}
}

func loggingMiddleware(log logrus.FieldLogger) func(nethttp.Handler) nethttp.Handler {
	return func(next nethttp.Handler) nethttp.Handler {
		return nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: nethttp.StatusOK}
			next.ServeHTTP(rec, r)
			log.WithFields(logrus.Fields{
				"method":   r.Method,
				"path":     r.URL.Path,
				"status":   rec.status,
				"duration": time.Since(start).String(),
			}).Info("http request")
		})
	}
}

func writeJSON(w nethttp.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
