package main

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"database/sql"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"token-lifecycle/backend/internal/audit"
	auditrepo "token-lifecycle/backend/internal/audit/repository"
	blacklistrepo "token-lifecycle/backend/internal/blacklist/repository"
	blacklistservice "token-lifecycle/backend/internal/blacklist/service"
	"token-lifecycle/backend/internal/config"
	"token-lifecycle/backend/internal/db"
	healthhandler "token-lifecycle/backend/internal/health/handler"
	identityservice "token-lifecycle/backend/internal/identity/service"
	"token-lifecycle/backend/internal/maintenance"
	"token-lifecycle/backend/internal/platform/rbac"
	"token-lifecycle/backend/internal/policy/engine"
	refreshrepo "token-lifecycle/backend/internal/refreshtoken/repository"
	"token-lifecycle/backend/internal/security"
	"token-lifecycle/backend/internal/server"
	"token-lifecycle/backend/internal/server/interceptors"
	"token-lifecycle/backend/internal/session/guard"
	sessionrepo "token-lifecycle/backend/internal/session/repository"
	"token-lifecycle/backend/internal/telemetry"
	"token-lifecycle/backend/internal/telemetry/otel"
	"token-lifecycle/backend/internal/telemetry/producer"
	tokenservice "token-lifecycle/backend/internal/token/service"
	userrepo "token-lifecycle/backend/internal/user/repository"
)

const healthSyncInterval = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	providers, err := otel.NewProviders(ctx, otel.Options{
		Endpoint:    cfg.OTELEndpoint,
		ServiceName: cfg.ServiceName,
		Insecure:    cfg.OTELInsecure,
	})
	if err != nil {
		log.Fatalf("otel: %v", err)
	}
	providers.SetGlobal()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			log.Printf("otel shutdown: %v", err)
		}
	}()

	metrics, err := telemetry.NewMetrics(providers.Meter(telemetry.MeterName))
	if err != nil {
		log.Fatalf("metrics: %v", err)
	}

	emitters := telemetry.MultiEmitter{otel.NewEventEmitter(providers.LoggerProvider)}
	kafkaProducer, err := producer.NewKafkaProducer(cfg.TelemetryKafkaBrokersList(), cfg.TelemetryKafkaTopic)
	if err != nil {
		log.Fatalf("kafka producer: %v", err)
	}
	if kafkaProducer != nil {
		defer kafkaProducer.Close()
		emitters = append(emitters, kafkaProducer)
		log.Printf("telemetry: publishing events to kafka topic %s", cfg.TelemetryKafkaTopic)
	}
	var emitter telemetry.EventEmitter = emitters

	codec, err := newCodec(cfg)
	if err != nil {
		log.Fatalf("jwt: %v", err)
	}

	hasher := security.NewPasswordHasher(security.Argon2Params{
		Memory:      uint32(cfg.Argon2MemoryKiB),
		Time:        uint32(cfg.Argon2Time),
		Parallelism: uint8(cfg.Argon2Parallelism),
		SaltLength:  security.DefaultArgon2Params.SaltLength,
		KeyLength:   security.DefaultArgon2Params.KeyLength,
	}).WithBcryptCost(cfg.BcryptCost)

	limits := blacklistrepo.Limits{MaxEntries: cfg.BlacklistMaxEntries, WarnEntries: cfg.BlacklistWarnEntries}

	var (
		conn           *sql.DB
		users          identityservice.UserDirectory
		records        refreshrepo.Store
		blacklistStore blacklistrepo.Store
		auditStore     auditrepo.Repository
	)
	if cfg.DatabaseURL != "" {
		conn, err = db.Open(ctx, cfg.DatabaseURL, db.DefaultPoolConfig)
		if err != nil {
			log.Fatalf("db: %v", err)
		}
		defer conn.Close()
		users = userrepo.NewPostgresRepository(conn, hasher)
		records = refreshrepo.NewPostgresRepository(conn)
		blacklistStore = blacklistrepo.NewPostgresRepository(conn, limits)
		auditStore = auditrepo.NewPostgresRepository(conn)
	} else {
		log.Println("DATABASE_URL not set; using in-memory stores")
		users = userrepo.NewMemoryDirectory(hasher)
		records = refreshrepo.NewMemoryStore()
		blacklistStore = blacklistrepo.NewMemoryStore(limits)
	}

	var sessions sessionrepo.Store = sessionrepo.NewMemoryStore()
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis: %v", err)
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			log.Fatalf("redis ping: %v", err)
		}
		blacklistStore = blacklistrepo.NewCachedStore(blacklistStore, rdb, cfg.RedisKeyPrefix, cfg.CacheTTL())
		sessions = sessionrepo.NewRedisStore(rdb, cfg.RedisKeyPrefix)
	}

	policySource := ""
	if cfg.PolicyPath != "" {
		b, err := os.ReadFile(cfg.PolicyPath)
		if err != nil {
			log.Fatalf("policy: %v", err)
		}
		policySource = string(b)
	}
	evaluator, err := engine.NewOPAEvaluator(ctx, policySource)
	if err != nil {
		log.Fatalf("policy: %v", err)
	}

	auditLogger := audit.NewLogger(auditStore, interceptors.ClientIP, emitter)

	tokens := tokenservice.NewService(
		codec, records, blacklistStore, evaluator, auditLogger,
		telemetry.NewLogger(tokenservice.LogSource, emitter), metrics,
		tokenservice.Config{
			MaxActiveTokens:      cfg.MaxActiveTokens,
			RotationGracePeriod:  cfg.GracePeriod(),
			RevokedRetentionDays: cfg.RevokedRetentionDays,
		},
	)
	blacklist := blacklistservice.NewService(
		blacklistStore, records, auditLogger,
		telemetry.NewLogger(blacklistservice.LogSource, emitter), metrics,
		blacklistservice.Config{
			RetentionDays: cfg.BlacklistRetentionDays,
			BatchSize:     cfg.BlacklistBatchSize,
		},
	)
	auth := identityservice.NewAuthService(users, tokens, blacklist, auditLogger,
		telemetry.NewLogger(identityservice.LogSource, emitter))
	sessionGuard := guard.NewGuard(sessions, auditLogger,
		telemetry.NewLogger(guard.LogSource, emitter), metrics,
		guard.Config{
			IdleTimeout:          cfg.IdleTimeout(),
			AbsoluteTimeout:      cfg.AbsoluteTimeout(),
			IPVerificationWindow: cfg.IPWindow(),
		},
	)

	adminIDs, err := cfg.AdminIDs()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	deps := server.Deps{
		Auth:                auth,
		Blacklist:           blacklist,
		Admins:              rbac.NewAdmins(adminIDs),
		Sessions:            sessionGuard,
		HealthPolicyChecker: evaluator,
	}
	if conn != nil {
		deps.HealthPinger = conn
	}
	s, hs := server.NewServer(deps, server.Options{
		Tokens:      tokens,
		AuditLogger: auditLogger,
		Emitter:     emitter,
	})

	var pinger healthhandler.Pinger
	if conn != nil {
		pinger = conn
	}
	go healthhandler.NewServer(pinger, evaluator, blacklist).Sync(ctx, hs, healthSyncInterval)

	job := maintenance.NewJob(tokens, blacklist, telemetry.NewLogger(maintenance.LogSource, emitter),
		cfg.Maintenance(), cfg.BlacklistBatchSize)
	go job.Run(ctx)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.Fatalf("listen: %v", err)
	}
	defer lis.Close()

	go func() {
		log.Printf("gRPC server listening on %s", cfg.GRPCAddr)
		if err := s.Serve(lis); err != nil {
			log.Fatalf("serve: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("shutting down gRPC server...")
	s.GracefulStop()
	// Let in-flight async telemetry finish before the emitters close.
	time.Sleep(telemetry.ShutdownDrainDuration)
	log.Println("gRPC server stopped")
}

// newCodec loads the signing key from config. Outside production a missing key is replaced by an
// ephemeral ECDSA P-256 key, so tokens do not survive a restart.
func newCodec(cfg *config.Config) (*security.Codec, error) {
	var (
		signer crypto.Signer
		pub    crypto.PublicKey
		err    error
	)
	if cfg.JWTPrivateKey != "" {
		signer, pub, err = security.LoadKeyPair(cfg.JWTPrivateKey, cfg.JWTPublicKey)
		if err != nil {
			return nil, err
		}
	} else {
		log.Println("WARNING: JWT_PRIVATE_KEY not set; signing with an ephemeral ES256 key")
		key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		if err != nil {
			return nil, err
		}
		signer = key
	}
	return security.NewCodec(signer, pub, security.CodecConfig{
		Issuer:            cfg.JWTIssuer,
		Audience:          cfg.JWTAudience,
		AccessTTL:         cfg.AccessTTL(),
		RefreshTTL:        cfg.RefreshTTL(),
		Leeway:            cfg.Leeway(),
		MaxFutureIssuedAt: cfg.MaxFutureIssuedAt(),
		KeyID:             cfg.JWTKeyID,
	})
}
