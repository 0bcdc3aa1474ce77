// Package http serves the dashboard pages, the HTMX partials and the JSON
// API over the current dataset snapshot.
package http

import (
	"context"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"sync"
	"time"

	"creditos/internal/cache"
	"creditos/internal/dashboard"
	"creditos/internal/filter"
	"creditos/internal/log"
	"creditos/internal/metrics"
	"creditos/internal/middleware/ratelimit"
	"creditos/internal/middleware/security"
	"creditos/internal/middleware/trace"
	appweb "creditos/web"
)

// chartCacheName labels the rendered chart cache in metrics.
const chartCacheName = "charts"

// SnapshotLoader provides the dataset snapshot requests are served from.
type SnapshotLoader interface {
	Snapshot(ctx context.Context) (*dashboard.Snapshot, error)
	Current() (*dashboard.Snapshot, bool)
	LastLoaded() (*dashboard.Snapshot, bool)
	Refresh(ctx context.Context) (*dashboard.Snapshot, error)
	Invalidate()
}

// Options tunes a Server. Zero values select the defaults.
type Options struct {
	Logger *log.Logger
	// ChartCacheSize and ChartCacheTTL bound the rendered chart cache.
	ChartCacheSize int
	ChartCacheTTL  time.Duration
	// RefreshLimit applies to POST /refresh per client IP.
	RefreshLimit ratelimit.Config
	// TrustedProxies are CIDRs allowed to set X-Forwarded-For.
	TrustedProxies []string
	// ReadyChecks run on every /readyz; any error marks the server not ready.
	ReadyChecks map[string]func(context.Context) error
}

type Server struct {
	http.Server
	cfg       dashboard.Config
	loader    SnapshotLoader
	templates *template.Template
	logger    *log.Logger

	charts   *cache.LRUCache[dashboard.Chart]
	caches   *cache.Manager
	limiter  *ratelimit.Limiter
	detector *security.Detector
	tracer   *trace.Middleware
	checks   map[string]func(context.Context) error

	started      time.Time
	shutdownOnce sync.Once
}

// NewServer configures routes and templates, returning a ready-to-run server.
func NewServer(addr string, cfg dashboard.Config, loader SnapshotLoader, opts Options) (*Server, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	if opts.ChartCacheSize <= 0 {
		opts.ChartCacheSize = 512
	}
	if opts.ChartCacheTTL <= 0 {
		opts.ChartCacheTTL = 30 * time.Minute
	}
	refreshLimit := opts.RefreshLimit
	if refreshLimit.Requests <= 0 {
		refreshLimit = ratelimit.Config{Requests: 6, Window: time.Minute}
	}

	tmpl, err := template.New("").ParseFS(appweb.TemplatesFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}

	mux := http.NewServeMux()
	s := &Server{
		Server: http.Server{
			Addr:              addr,
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		cfg:       cfg,
		loader:    loader,
		templates: tmpl,
		logger:    logger.WithComponent(log.ComponentHTTP),
		charts:    cache.NewLRUCache[dashboard.Chart](opts.ChartCacheSize, opts.ChartCacheTTL),
		caches:    cache.NewManager(logger.WithComponent(log.ComponentCache).Slog()),
		limiter:   ratelimit.NewLimiter(refreshLimit),
		detector:  security.NewDetector(),
		checks:    opts.ReadyChecks,
		started:   time.Now(),
	}
	for _, cidr := range opts.TrustedProxies {
		if err := s.detector.AddTrustedProxy(cidr); err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", cidr, err)
		}
	}
	s.tracer = trace.NewMiddleware(logger, s.detector.ExtractClientIP)

	s.caches.Register(s.charts)
	if c, ok := loader.(interface{ Cache() cache.Cleaner }); ok {
		s.caches.Register(c.Cache())
	}
	s.caches.StartCleanup(10 * time.Minute)

	static, err := fs.Sub(appweb.StaticFS, "static")
	if err != nil {
		return nil, fmt.Errorf("mount static assets: %w", err)
	}
	mux.Handle("GET /static/", security.StaticAssetMiddleware(3600)(
		http.StripPrefix("/static/", http.FileServer(http.FS(static)))))

	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /ui/panels", s.handlePanels)
	mux.HandleFunc("GET /api/options", s.handleOptions)
	mux.HandleFunc("GET /api/views", s.handleViews)
	mux.HandleFunc("GET /api/charts", s.handleCharts)
	mux.HandleFunc("POST /api/charts", s.handleCharts)
	mux.HandleFunc("GET /api/views/{id}", s.handleView)
	mux.HandleFunc("POST /api/views/{id}", s.handleView)
	mux.Handle("POST /refresh", s.limiter.Middleware(s.detector.ExtractClientIP, s.onRateLimit)(http.HandlerFunc(s.handleRefresh)))
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.Handle("GET /metrics", metrics.Handler())

	headers := security.NewHeadersMiddleware(security.DefaultHeadersConfig())
	s.Handler = s.tracer.Middleware(s.screen(headers.Middleware(mux)))
	return s, nil
}

// screen logs and counts requests that look like probes. They are still
// served: every handler validates its own input.
func (s *Server) screen(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.detector.DetectSuspiciousRequest(r) {
			metrics.SecurityEvent(metrics.EventSuspicious)
			log.FromContext(r.Context()).WarnContext(r.Context(), "Suspicious request",
				log.FieldMethod, r.Method,
				log.FieldPath, r.URL.Path,
				log.FieldClientIP, s.detector.ExtractClientIP(r),
				log.FieldUserAgent, r.Header.Get("User-Agent"))
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) onRateLimit(w http.ResponseWriter, r *http.Request) {
	metrics.SecurityEvent(metrics.EventRateLimited)
	log.FromContext(r.Context()).WarnContext(r.Context(), "Rate limit exceeded",
		log.FieldClientIP, s.detector.ExtractClientIP(r),
		log.FieldPath, r.URL.Path)
	TooManyRequestsError("Demasiadas solicitudes de actualización. Intente de nuevo en un momento.").Write(w)
}

// InvalidateSnapshot drops the served snapshot and the charts computed from
// it, so the next request loads fresh data.
func (s *Server) InvalidateSnapshot() {
	s.loader.Invalidate()
	s.charts.Purge()
}

// Shutdown gracefully shuts down the server and cleanup routines
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.caches.Stop()
		s.limiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

// renderCharts returns the charts for views under set, reusing charts already
// computed for the same snapshot and selection.
func (s *Server) renderCharts(ctx context.Context, snap *dashboard.Snapshot, views []dashboard.View, set filter.Set) ([]dashboard.Chart, error) {
	prefix := snap.ID + "|" + dashboard.SetKey(set) + "|"
	out := make([]dashboard.Chart, len(views))

	var (
		missing []dashboard.View
		slots   []int
	)
	for i, v := range views {
		if c, ok := s.charts.Get(prefix + v.ID); ok {
			metrics.CacheLookup(chartCacheName, true)
			out[i] = c
			continue
		}
		metrics.CacheLookup(chartCacheName, false)
		missing = append(missing, v)
		slots = append(slots, i)
	}
	if len(missing) == 0 {
		return out, nil
	}

	rendered, err := snap.Render(ctx, missing, set)
	if err != nil {
		return nil, err
	}
	for j, c := range rendered {
		s.charts.Set(prefix+c.ID, c)
		out[slots[j]] = c
	}
	return out, nil
}
