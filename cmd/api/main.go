package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	redisclient "github.com/redis/go-redis/v9"
	mongoadapter "github.com/ticketforge/event-payments/internal/adapters/mongo"
	"github.com/ticketforge/event-payments/internal/adapters/pg"
	redisadapter "github.com/ticketforge/event-payments/internal/adapters/redis"
	"github.com/ticketforge/event-payments/internal/adapters/stripegw"
	"github.com/ticketforge/event-payments/internal/artifacts"
	"github.com/ticketforge/event-payments/internal/config"
	httphandler "github.com/ticketforge/event-payments/internal/http"
	"github.com/ticketforge/event-payments/internal/idempotency"
	"github.com/ticketforge/event-payments/internal/issuer"
	"github.com/ticketforge/event-payments/internal/observability"
	"github.com/ticketforge/event-payments/internal/payments"
	"github.com/ticketforge/event-payments/internal/rateLimit"
	"github.com/ticketforge/event-payments/internal/reconciler"
	"github.com/ticketforge/event-payments/internal/render"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	shutdown, err := observability.SetupOTel(context.Background(), cfg)
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdown()

	logger := observability.NewLogger()

	pool, err := pgxpool.New(context.Background(), cfg.PGDSN)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer pool.Close()
	repo := pg.NewRepository(pool)

	mongoClient, err := mongo.Connect(context.Background(), options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		log.Fatalf("failed to connect to mongo: %v", err)
	}
	defer mongoClient.Disconnect(context.Background())
	mongoDB := mongoClient.Database("evp")
	catalog := mongoadapter.NewCatalogRepository(mongoDB, logger)
	audit := mongoadapter.NewAuditLogger(mongoDB, logger)

	redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
	redisCache := redisadapter.NewCache(redisClient)
	redisIdemp := redisadapter.NewIdempotency(redisClient)
	idemp := idempotency.NewIdempotency(redisIdemp, time.Hour)
	rl := rateLimit.NewRateLimiter(redisCache)

	gateway := stripegw.NewClient(cfg.StripeKey, cfg.GatewayTimeout)
	verifier := stripegw.NewVerifier(cfg.StripeWebhookSecret)

	blobs, err := artifacts.NewStore(artifacts.Config{
		Bucket:          cfg.ArtifactBucket,
		AccessKeyID:     cfg.ArtifactAccessKey,
		SecretAccessKey: cfg.ArtifactSecretKey,
		Endpoint:        cfg.ArtifactEndpoint,
		Region:          cfg.ArtifactRegion,
	})
	if err != nil {
		log.Fatalf("failed to create artifact store: %v", err)
	}

	orch := payments.NewOrchestrator(repo, catalog, gateway, audit, redisCache, logger, cfg.Currency)
	iss := issuer.NewIssuer(repo, catalog, blobs, render.NewQRRenderer([]byte(cfg.QRSigningKey)), render.NewPDFRenderer(), logger)
	rec := reconciler.NewReconciler(repo, redisCache, redisCache, audit, logger)

	handlers := httphandler.NewHandlers(cfg, orch, iss, rec, verifier, idemp, logger)
	r := httphandler.SetupRouter(handlers, logger, rl)

	srv := &http.Server{
		Addr:    ":8080",
		Handler: r,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutdown Server ...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server Shutdown:", err)
	}
	logger.Info("Server exiting")
}
