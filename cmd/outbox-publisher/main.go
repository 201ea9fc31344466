package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/giginhq/gig-settlement/internal/adapters/crdb"
	"github.com/giginhq/gig-settlement/internal/adapters/rabbit"
	"github.com/giginhq/gig-settlement/internal/config"
	"github.com/giginhq/gig-settlement/internal/observability"
	"github.com/giginhq/gig-settlement/internal/outbox"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	shutdownOtel, err := observability.SetupOTel(context.Background(), cfg.OTLPEndpoint)
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdownOtel()

	logger := observability.NewLoggerWithLevel(cfg.LogLevel)

	pool, err := pgxpool.New(context.Background(), cfg.CRDBDSN)
	if err != nil {
		log.Fatalf("failed to connect to crdb: %v", err)
	}
	defer pool.Close()
	ledger := crdb.NewLedger(pool)

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("failed to connect to rabbitmq: %v", err)
	}
	defer conn.Close()
	rabbitPub, err := rabbit.NewPublisher(conn)
	if err != nil {
		log.Fatalf("failed to create publisher: %v", err)
	}

	publisher := outbox.NewPublisher(ledger, rabbitPub, logger)

	consumer, err := rabbit.NewConsumer(conn, rabbit.NotificationsQueue,
		[]string{"gig.*", "applicant.*", "escrow.*"})
	if err != nil {
		log.Fatalf("failed to create consumer: %v", err)
	}
	dispatcher := NewDispatcher(consumer, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go publisher.Run(ctx, time.Second)
	go dispatcher.Run(ctx)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("Shutdown outbox publisher")
}

// Dispatcher drains the notifications queue. Delivery to the user-facing
// channel (push, email) is out of scope here; acked messages are logged so
// the queue never backs up.
type Dispatcher struct {
	consumer *rabbit.Consumer
	logger   observability.Logger
}

func NewDispatcher(consumer *rabbit.Consumer, logger observability.Logger) *Dispatcher {
	return &Dispatcher{consumer: consumer, logger: logger}
}

func (d *Dispatcher) Run(ctx context.Context) {
	deliveries, err := d.consumer.Consume(ctx)
	if err != nil {
		d.logger.Error("consume failed", err)
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-deliveries:
			if !ok {
				return
			}
			d.logger.WithField("routing_key", msg.RoutingKey).
				WithField("message_id", msg.MessageId).
				Info("notification dispatched")
			if err := msg.Ack(false); err != nil {
				d.logger.Error("ack failed", err)
			}
		}
	}
}
