package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	mongoadapter "github.com/ticketforge/event-payments/internal/adapters/mongo"
	"github.com/ticketforge/event-payments/internal/adapters/pg"
	"github.com/ticketforge/event-payments/internal/adapters/rabbit"
	"github.com/ticketforge/event-payments/internal/artifacts"
	"github.com/ticketforge/event-payments/internal/config"
	"github.com/ticketforge/event-payments/internal/issuer"
	"github.com/ticketforge/event-payments/internal/observability"
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

	shutdownOtel, err := observability.SetupOTel(context.Background(), cfg)
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdownOtel()

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
	catalog := mongoadapter.NewCatalogRepository(mongoClient.Database("evp"), logger)

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

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("failed to connect to rabbitmq: %v", err)
	}
	defer conn.Close()
	consumer, err := rabbit.NewConsumer(conn, rabbit.IssuerQueue, reconciler.IssueTicketsEvent)
	if err != nil {
		log.Fatalf("failed to create consumer: %v", err)
	}

	iss := issuer.NewIssuer(repo, catalog, blobs, render.NewQRRenderer([]byte(cfg.QRSigningKey)), render.NewPDFRenderer(), logger)
	worker := NewIssuerWorker(iss, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := worker.Run(ctx, consumer); err != nil {
			log.Fatalf("worker stopped: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("Shutdown issuer worker")
}

type IssuerWorker struct {
	issuer *issuer.Issuer
	logger observability.Logger
}

func NewIssuerWorker(iss *issuer.Issuer, logger observability.Logger) *IssuerWorker {
	return &IssuerWorker{issuer: iss, logger: logger}
}

func (w *IssuerWorker) Run(ctx context.Context, consumer *rabbit.Consumer) error {
	deliveries, err := consumer.Consume(ctx)
	if err != nil {
		return err
	}
	w.logger.Info("Issuer worker started")

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-deliveries:
			if !ok {
				return nil
			}
			w.handle(ctx, msg)
		}
	}
}

func (w *IssuerWorker) handle(ctx context.Context, msg amqp.Delivery) {
	var task struct {
		PaymentID uuid.UUID `json:"payment_id"`
	}
	if err := json.Unmarshal(msg.Body, &task); err != nil {
		w.logger.WithError(err).Error("malformed issue task, dropping")
		msg.Nack(false, false)
		return
	}

	if err := w.issueWithRetry(ctx, task.PaymentID); err != nil {
		w.logger.WithError(err).WithField("payment_id", task.PaymentID).Error("issuance failed, requeueing")
		msg.Nack(false, true)
		return
	}
	msg.Ack(false)
}

func (w *IssuerWorker) issueWithRetry(ctx context.Context, paymentID uuid.UUID) error {
	maxRetries := 3
	var err error
	for i := 0; i < maxRetries; i++ {
		if _, err = w.issuer.IssueTickets(ctx, paymentID); err == nil {
			return nil
		}
		backoff := time.Duration(1<<i) * time.Second
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return err
}
