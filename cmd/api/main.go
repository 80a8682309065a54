package main

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/backend-booking/internal/app"
	"github.com/noah-isme/backend-booking/internal/auth"
	"github.com/noah-isme/backend-booking/internal/common"
	"github.com/noah-isme/backend-booking/internal/config"
	"github.com/noah-isme/backend-booking/internal/health"
	"github.com/noah-isme/backend-booking/internal/obs"
	"github.com/noah-isme/backend-booking/internal/payment"
	"github.com/noah-isme/backend-booking/internal/queue"
	"github.com/noah-isme/backend-booking/internal/ratelimit"
	"github.com/noah-isme/backend-booking/internal/security"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel).With().Str("env", cfg.AppEnv).Logger()

	metricsNamespace := envOrDefault("OBS_METRICS_NAMESPACE", "booking")
	metricsEnabled := envBool("OBS_ENABLE_PROMETHEUS", true)
	obs.MustRegisterDomainMetrics(metricsNamespace, nil)
	queue.MustRegisterMetrics(nil)

	tracingEnabled := envBool("OBS_ENABLE_TRACING", true)
	if tracingEnabled {
		sampling := envFloat("OBS_TRACING_SAMPLING_RATIO", 1.0)
		shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{
			ServiceName:   "booking-api",
			Endpoint:      envOrDefault("OBS_OTLP_ENDPOINT", ""),
			Exporter:      envOrDefault("OBS_TRACING_EXPORTER", "otlp"),
			SamplingRatio: sampling,
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
			tracingEnabled = false
		} else {
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	startCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	deps, err := app.New(startCtx, cfg, logger, app.Options{ApplicationName: "booking-api", RedisMetrics: metricsEnabled})
	cancel()
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise dependencies")
	}
	defer deps.Close()

	var followUp payment.FollowUpScheduler
	if cfg.Payment.FollowUpEnabled {
		taskClient, err := queue.NewClient(cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("initialise task client")
		}
		defer func() { _ = taskClient.Close() }()
		followUp = payment.FollowUp{Client: taskClient, Delay: cfg.Payment.FollowUpDelay}
		logger.Info().Dur("delay", cfg.Payment.FollowUpDelay).Msg("payment follow-up inquiries enabled")
	}

	paymentHandler := &payment.Handler{
		Svc:         deps.Service(followUp),
		ARBDecoder:  deps.ARB,
		Diagnostics: deps.Diagnostics,
		MaxBody:     cfg.BodyLimitBytes,
		Logger:      obs.Component(logger, "payment_http"),
	}
	for name, configured := range map[string]bool{payment.VendorURWAY: deps.URWAY.Configured(), payment.VendorARB: deps.ARB.Configured()} {
		if !configured {
			logger.Warn().Str("vendor", name).Msg("payment gateway credentials missing; requests will fail until configured")
		}
	}

	inspector, err := queue.NewInspector(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise queue inspector")
	}
	defer func() { _ = inspector.Close() }()
	queueAdmin := &queue.AdminHandler{Inspector: inspector, DefaultQueue: payment.FollowUpQueue, Logger: logger}

	var httpMetrics *obs.HTTPMetrics
	if metricsEnabled {
		buckets := obs.ParseBucketsCSV(envOrDefault("OBS_METRICS_BUCKETS_MS", ""))
		httpMetrics = obs.NewHTTPMetrics(metricsNamespace, buckets, nil)
	}

	idem := common.Idem{R: deps.Redis, TTL: cfg.IdempotencyTTL}
	limiter := ratelimit.Limiter{Client: deps.Redis, Prefix: "booking:rl:"}
	rateLimited := func(scope string) func(http.Handler) http.Handler {
		return ratelimit.Handler{
			Limiter: limiter,
			Config:  ratelimit.Config{Key: ratelimit.ByClientIP(scope), Window: cfg.RateLimitWindow, Max: cfg.RateLimitMax},
			OnError: func(err error) { logger.Warn().Err(err).Str("scope", scope).Msg("rate limiter unavailable") },
		}.Middleware
	}
	adminGuard := auth.NewAdminGuard(cfg.AdminJWTSecret, cfg.AdminJWTIssuer)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(obs.RoutePatternMiddleware)
	if tracingEnabled {
		r.Use(obs.TracingMiddleware)
	}
	if metricsEnabled && httpMetrics != nil {
		r.Use(obs.HTTPObs{Metrics: httpMetrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(security.Headers{Enable: true, EnableHSTS: cfg.IsProduction(), HSTSMaxAge: 31536000, NoStore: true}.Middleware)
	r.Use(security.BodyLimit{Max: cfg.BodyLimitBytes}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(cfg),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}
	if envBool("OBS_ENABLE_PPROF", false) {
		user := envOrDefault("SECURE_PPROF_BASIC_AUTH_USER", "")
		pass := envOrDefault("SECURE_PPROF_BASIC_AUTH_PASS", "")
		r.Mount("/debug/pprof", protectPprof(newPprofMux(), user, pass))
	}

	healthHandler := health.Handler{Probes: []health.Probe{
		{Name: "postgres", Timeout: envDurationMillis("HEALTH_READY_DB_TIMEOUT_MS", 500), Check: deps.DB.Ping},
		{Name: "redis", Timeout: envDurationMillis("HEALTH_READY_REDIS_TIMEOUT_MS", 300), Check: func(ctx context.Context) error {
			return deps.Redis.Ping(ctx).Err()
		}},
		{Name: "gateways", Optional: true, Check: func(context.Context) error {
			return gatewaysConfigured(deps.URWAY.Configured(), deps.ARB.Configured())
		}},
	}}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	r.Route("/payments", func(p chi.Router) {
		p.With(rateLimited("payments_create"), idem.Middleware).Post("/create", paymentHandler.CreateURWAY)
		p.Get("/response", paymentHandler.PaymentResponse)
		p.With(rateLimited("payments_inquiry")).Post("/inquiry", paymentHandler.Inquiry)
		p.With(rateLimited("payments_inquiry")).Post("/reconcile", paymentHandler.Reconcile)
	})
	r.Route("/urway", func(u chi.Router) {
		u.With(rateLimited("arb_create"), idem.Middleware).Post("/create-urway-session", paymentHandler.CreateARB)
		u.With(rateLimited("payments_inquiry")).Post("/inquiry", paymentHandler.URWAYInquiry)
		u.Get("/callback", paymentHandler.URWAYCallback)
		u.Post("/callback", paymentHandler.URWAYCallback)
		u.With(adminGuard.Require).Get("/check-config", paymentHandler.CheckConfig)
	})
	r.Route("/arb", func(a chi.Router) {
		a.Post("/callback", paymentHandler.ARBCallback)
		a.Post("/error", paymentHandler.ARBCallback)
	})
	r.Route("/admin/queue", func(q chi.Router) {
		q.Use(adminGuard.Require)
		q.Get("/stats", queueAdmin.Stats)
		q.Get("/dlq", queueAdmin.ListDLQ)
		q.Post("/dlq/replay", queueAdmin.ReplayDLQ)
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		health.SetReady(false)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), envDurationMillis("SHUTDOWN_TIMEOUT_MS", 15000))
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("graceful shutdown")
		}
	}()

	logger.Info().Str("addr", srv.Addr).Str("payment_env", cfg.Payment.Environment).Msg("server starting")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("server exited unexpectedly")
	}
	logger.Info().Msg("server stopped")
}

func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return cfg.CORSAllowedOrigins
}

func gatewaysConfigured(urway, arb bool) error {
	switch {
	case !urway && !arb:
		return errors.New("no payment gateway configured")
	case !urway:
		return errors.New("urway not configured")
	case !arb:
		return errors.New("arb not configured")
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(val)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "1", "t", "true", "yes", "on":
			return true
		case "0", "f", "false", "no", "off":
			return false
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return parsed
		}
	}
	return fallback
}

func envDurationMillis(key string, fallback int) time.Duration {
	return time.Duration(envInt(key, fallback)) * time.Millisecond
}

func newPprofMux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", pprof.Index)
	mux.HandleFunc("/cmdline", pprof.Cmdline)
	mux.HandleFunc("/profile", pprof.Profile)
	mux.HandleFunc("/symbol", pprof.Symbol)
	mux.HandleFunc("/trace", pprof.Trace)
	mux.Handle("/allocs", pprof.Handler("allocs"))
	mux.Handle("/goroutine", pprof.Handler("goroutine"))
	mux.Handle("/heap", pprof.Handler("heap"))
	return mux
}

func protectPprof(handler http.Handler, user, pass string) http.Handler {
	user = strings.TrimSpace(user)
	pass = strings.TrimSpace(pass)
	if user == "" {
		return handler
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || subtle.ConstantTimeCompare([]byte(u), []byte(user)) != 1 || subtle.ConstantTimeCompare([]byte(p), []byte(pass)) != 1 {
			w.Header().Set("WWW-Authenticate", "Basic realm=restricted")
			http.Error(w, "unauthorised", http.StatusUnauthorized)
			return
		}
		handler.ServeHTTP(w, r)
	})
}
