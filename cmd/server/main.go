// Server runs the device link, token and session ingestion HTTP API, the gRPC
// health endpoint and the retention sweeper.
package main

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/errgroup"

	"distrack/backend/internal/audit"
	auditrepo "distrack/backend/internal/audit/repository"
	sessionhandler "distrack/backend/internal/codingsession/handler"
	sessionrepo "distrack/backend/internal/codingsession/repository"
	sessionservice "distrack/backend/internal/codingsession/service"
	"distrack/backend/internal/config"
	"distrack/backend/internal/db"
	devicehandler "distrack/backend/internal/device/handler"
	devicerepo "distrack/backend/internal/device/repository"
	deviceservice "distrack/backend/internal/device/service"
	healthhandler "distrack/backend/internal/health/handler"
	linkhandler "distrack/backend/internal/link/handler"
	linkrepo "distrack/backend/internal/link/repository"
	linkservice "distrack/backend/internal/link/service"
	"distrack/backend/internal/metrics"
	"distrack/backend/internal/platform/async"
	"distrack/backend/internal/platform/logging"
	"distrack/backend/internal/policy/engine"
	"distrack/backend/internal/ratelimit"
	"distrack/backend/internal/retention"
	"distrack/backend/internal/security"
	"distrack/backend/internal/server"
	"distrack/backend/internal/server/middleware"
	"distrack/backend/internal/telemetry"
	telemetryotel "distrack/backend/internal/telemetry/otel"
	"distrack/backend/internal/telemetry/producer"
	"distrack/backend/internal/telemetry/webhook"
	tokenhandler "distrack/backend/internal/token/handler"
	tokenrepo "distrack/backend/internal/token/repository"
	tokenservice "distrack/backend/internal/token/service"
	userrepo "distrack/backend/internal/user/repository"
)

const (
	shutdownTimeout     = 15 * time.Second
	healthSyncInterval  = 10 * time.Second
	ingestBurstWindow   = time.Minute
	readHeaderTimeout   = 5 * time.Second
	webAPIKeyBcryptCost = bcrypt.DefaultCost
	devSecretBytes      = 32
)

// stores groups the repositories for one storage backend.
type stores struct {
	users    userrepo.Repository
	links    linkrepo.Repository
	tokens   tokenrepo.Repository
	devices  devicerepo.Repository
	sessions sessionrepo.Repository
	audit    auditrepo.Repository
	pinger   healthhandler.Pinger
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("config: %v", err)
	}
	log := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err := run(cfg, log); err != nil {
		log.WithError(err).Fatal("server exited")
	}
}

func run(cfg *config.Config, log *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, closeDB, err := openStores(cfg, log)
	if err != nil {
		return err
	}
	defer closeDB()

	providers, err := telemetryotel.NewProviders(ctx, telemetryotel.Options{
		Endpoint:    cfg.OTLPEndpoint,
		ServiceName: cfg.ServiceName,
		Environment: cfg.Env,
		Insecure:    cfg.OTLPInsecure,
	})
	if err != nil {
		return err
	}
	providers.SetGlobal()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(registry)

	runner := async.NewRunner(log)
	emitters := telemetry.Multi{telemetryotel.NewEventEmitter(providers.LoggerProvider)}
	var kafka *producer.KafkaProducer
	if brokers := cfg.TelemetryKafkaBrokersList(); len(brokers) > 0 {
		kafka = producer.NewKafkaProducer(brokers, cfg.TelemetryKafkaTopic, log)
		emitters = append(emitters, kafka)
		log.WithField("topic", cfg.TelemetryKafkaTopic).Info("telemetry: kafka producer enabled")
	}
	if n := webhook.NewNotifier(cfg.LinkWebhookURL, st.users, nil, log); n != nil {
		emitters = append(emitters, n)
		log.Info("telemetry: link webhook enabled")
	}
	auditLogger := audit.NewLogger(st.audit, log)

	tokens, err := newTokenProvider(cfg, log)
	if err != nil {
		return err
	}
	apiKey, err := security.NewAPIKeyVerifier(cfg.WebAPIKey, webAPIKeyBcryptCost)
	if err != nil {
		return err
	}
	policy, err := engine.NewOPAEvaluator(ctx, "")
	if err != nil {
		return err
	}

	tokenSvc := tokenservice.NewService(st.tokens, tokens,
		tokenservice.Config{RefreshTTL: cfg.RefreshTTL(), ReuseDetection: cfg.RefreshReuseDetection},
		tokenservice.Deps{Audit: auditLogger, Events: emitters, Runner: runner, Metrics: m, Log: log})

	startByDevice := ratelimit.NewFixedWindow(cfg.LinkCodeRateLimitMax, cfg.LinkRateWindow())
	startByIP := ratelimit.NewFixedWindow(2*cfg.LinkCodeRateLimitMax, cfg.LinkRateWindow())
	claimFailures := ratelimit.NewLockout(cfg.ExtensionLinkMaxFailures, cfg.LinkFailureWindow(), cfg.LinkLockout())
	linkSvc := linkservice.NewService(st.links, tokenSvc,
		linkservice.Config{CodeLength: cfg.LinkCodeLength, TTL: cfg.LinkTTL(), MaxCodeAttempts: cfg.LinkCodeMaxAttempts},
		linkservice.Limiters{StartByDevice: startByDevice, StartByIP: startByIP, ClaimFailures: claimFailures},
		linkservice.Deps{Audit: auditLogger, Events: emitters, Runner: runner, Metrics: m, Log: log})

	ingestBurst := ratelimit.NewFixedWindow(cfg.IngestBurstMax, ingestBurstWindow)
	ingestDaily := ratelimit.NewDailyQuota(cfg.IngestDailyMax)
	deviceSvc := deviceservice.NewService(st.devices, runner, log)
	webCaller := middleware.RequireWebCaller(tokens, apiKey)
	ingestSvc := sessionservice.NewService(st.sessions,
		sessionservice.Limiters{Burst: ingestBurst, Daily: ingestDaily},
		sessionservice.Deps{
			Devices: deviceSvc,
			Audit:   auditLogger,
			Events:  emitters,
			Runner:  runner,
			Metrics: m,
			Log:     log,
		})

	checker := healthhandler.NewChecker(st.pinger, policy)
	handler := server.NewRouter(server.Deps{
		Link:              linkhandler.NewHandler(linkSvc, webCaller, log),
		Token:             tokenhandler.NewHandler(tokenSvc, log),
		Sessions:          sessionhandler.NewHandler(ingestSvc, sessionhandler.RequireWriteSessions(tokenSvc, policy, log), log),
		Devices:           devicehandler.NewHandler(deviceSvc, webCaller, log),
		Health:            healthhandler.NewHTTPHandler(checker, log),
		Metrics:           m,
		MetricsHandler:    metrics.Handler(registry),
		TrustProxyHeaders: cfg.TrustProxyHeaders,
		Tracing:           cfg.OTLPEndpoint != "",
		Log:               log,
	})

	sweeper, err := retention.NewSweeper(
		retention.Config{
			Schedule:       cfg.RetentionSweepSchedule,
			TokenRetention: cfg.RefreshRetention(),
			AuditRetention: cfg.AuditRetention(),
		},
		linkSvc, tokenSvc, auditLogger,
		[]retention.Purger{startByDevice, startByIP, claimFailures, ingestBurst, ingestDaily},
		m, log)
	if err != nil {
		return err
	}
	sweeper.Start()

	httpServer := &http.Server{Addr: cfg.HTTPAddr, Handler: handler, ReadHeaderTimeout: readHeaderTimeout}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.WithField("addr", cfg.HTTPAddr).Info("http server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if cfg.GRPCHealthAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCHealthAddr)
		if err != nil {
			return err
		}
		grpcServer, hs := healthhandler.NewGRPCServer()
		g.Go(func() error {
			log.WithField("addr", cfg.GRPCHealthAddr).Info("grpc health server listening")
			return grpcServer.Serve(lis)
		})
		g.Go(func() error {
			healthhandler.SyncStatus(gctx, hs, checker, healthSyncInterval, log)
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			grpcServer.GracefulStop()
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	err = g.Wait()

	<-sweeper.Stop().Done()
	drainCtx, cancel := context.WithTimeout(context.Background(), telemetry.ShutdownDrainDuration)
	if werr := runner.Wait(drainCtx); werr != nil {
		log.WithError(werr).Warn("background tasks did not drain")
	}
	cancel()
	if kafka != nil {
		if cerr := kafka.Close(); cerr != nil {
			log.WithError(cerr).Warn("kafka producer close")
		}
	}
	otelCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if serr := providers.Shutdown(otelCtx); serr != nil {
		log.WithError(serr).Warn("otel shutdown")
	}
	log.Info("server stopped")
	return err
}

// openStores connects to Postgres when DATABASE_URL is set and falls back to
// in-memory repositories otherwise.
func openStores(cfg *config.Config, log *logrus.Logger) (*stores, func(), error) {
	if cfg.DatabaseURL == "" {
		log.Warn("DATABASE_URL is not set; using in-memory storage (data is lost on restart)")
		users := userrepo.NewMemoryRepository()
		return &stores{
			users:    users,
			links:    linkrepo.NewMemoryRepository(),
			tokens:   tokenrepo.NewMemoryRepository(),
			devices:  devicerepo.NewMemoryRepository(),
			sessions: sessionrepo.NewMemoryRepository(users),
			audit:    auditrepo.NewMemoryRepository(),
		}, func() {}, nil
	}
	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	return postgresStores(conn), func() { _ = conn.Close() }, nil
}

func postgresStores(conn *sql.DB) *stores {
	return &stores{
		users:    userrepo.NewPostgresRepository(conn),
		links:    linkrepo.NewPostgresRepository(conn),
		tokens:   tokenrepo.NewPostgresRepository(conn),
		devices:  devicerepo.NewPostgresRepository(conn),
		sessions: sessionrepo.NewPostgresRepository(conn),
		audit:    auditrepo.NewPostgresRepository(conn),
		pinger:   conn,
	}
}

func newTokenProvider(cfg *config.Config, log *logrus.Logger) (*security.TokenProvider, error) {
	opts := security.TokenOptions{
		Issuer:      cfg.JWTIssuer,
		Audience:    cfg.JWTAudience,
		WebAudience: cfg.JWTWebAudience,
		Scope:       cfg.TokenScope,
		AccessTTL:   cfg.AccessTTL(),
		Leeway:      cfg.ClockSkew(),
	}
	secret := cfg.JWTSecret
	if secret == "" && cfg.JWTPrivateKey == "" {
		b := make([]byte, devSecretBytes)
		if _, err := rand.Read(b); err != nil {
			return nil, err
		}
		secret = hex.EncodeToString(b)
		log.Warn("JWT_SECRET is not set; using an ephemeral signing secret (tokens are invalid after restart)")
	}
	return security.NewConfiguredTokenProvider(secret, cfg.JWTPrivateKey, cfg.JWTPublicKey, opts)
}
