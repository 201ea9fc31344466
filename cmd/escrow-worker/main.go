package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	redisclient "github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/giginhq/gig-settlement/internal/adapters/crdb"
	mongoadapter "github.com/giginhq/gig-settlement/internal/adapters/mongo"
	redisadapter "github.com/giginhq/gig-settlement/internal/adapters/redis"
	"github.com/giginhq/gig-settlement/internal/config"
	"github.com/giginhq/gig-settlement/internal/domain"
	"github.com/giginhq/gig-settlement/internal/engine"
	"github.com/giginhq/gig-settlement/internal/observability"
	"github.com/giginhq/gig-settlement/internal/payments"
)

// stuckCaptureAge is how long an applicant may sit in accepted before the
// sweeper reverts the acceptance.
const stuckCaptureAge = 10 * time.Minute

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

	mongoClient, err := mongo.Connect(context.Background(), options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		log.Fatalf("failed to connect to mongo: %v", err)
	}
	defer mongoClient.Disconnect(context.Background())
	mongoDB := mongoClient.Database(cfg.MongoDB)
	gigs := mongoadapter.NewGigRepository(mongoDB, logger)
	convs := mongoadapter.NewConversationRepository(mongoDB, logger)

	redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
	redisCache := redisadapter.NewCache(redisClient)

	processor := payments.NewGateway(cfg.ProcessorURL)
	svc := engine.NewService(gigs, convs, ledger, processor, ledger, logger, cfg.DisputeWindow)

	worker := NewSweeper(ledger, gigs, redisCache, processor, svc, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go worker.Run(ctx, cfg.SweepInterval)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("Shutdown escrow worker")
}

// Sweeper releases held fees whose dispute window has lapsed and reverts
// captures that never finalized. One sweeper runs at a time across the fleet
// via the redis lock.
type Sweeper struct {
	ledger    *crdb.Ledger
	gigs      *mongoadapter.GigRepository
	redis     *redisadapter.Cache
	processor payments.Processor
	svc       *engine.Service
	logger    observability.Logger
}

func NewSweeper(ledger *crdb.Ledger, gigs *mongoadapter.GigRepository, redis *redisadapter.Cache, processor payments.Processor, svc *engine.Service, logger observability.Logger) *Sweeper {
	return &Sweeper{ledger: ledger, gigs: gigs, redis: redis, processor: processor, svc: svc, logger: logger}
}

func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			locked, err := s.redis.AcquireSweepLock(ctx, interval)
			if err != nil {
				s.logger.Error("sweep lock failed", err)
				continue
			}
			if !locked {
				continue
			}
			s.sweepReleasable(ctx, now)
			s.sweepStuckCaptures(ctx, now)
		}
	}
}

func (s *Sweeper) sweepReleasable(ctx context.Context, now time.Time) {
	recs, err := s.ledger.FindReleasable(ctx, now, 100)
	if err != nil {
		s.logger.Error("releasable query failed", err)
		return
	}
	for _, rec := range recs {
		if err := s.release(ctx, rec); err != nil {
			s.logger.WithField("payment_ref", rec.PaymentRef).Error("release failed", err)
		}
	}
}

func (s *Sweeper) release(ctx context.Context, rec domain.EscrowRecord) error {
	err := payments.Retry(ctx, 3, func() error {
		return s.processor.Release(ctx, rec.PaymentRef)
	})
	if err != nil {
		return err
	}

	// Settle and outbox in one transaction so the release can never land
	// without its notification row.
	err = s.ledger.ReleaseAndNotify(ctx, rec.PaymentRef, time.Now(), engine.Event{
		Type:    "escrow.released",
		GigID:   rec.GigID,
		Subject: rec.MusicianID,
		Payload: map[string]interface{}{
			"payment_ref":  rec.PaymentRef,
			"amount_pence": rec.AmountPence,
		},
	})
	if errors.Is(err, domain.ErrEscrowFinalized) {
		// Another sweep already settled it.
		return nil
	}
	if err != nil {
		return err
	}
	observability.EscrowSettlements.WithLabelValues("released").Inc()
	return nil
}

func (s *Sweeper) sweepStuckCaptures(ctx context.Context, now time.Time) {
	stuck, err := s.gigs.FindStuckAccepted(ctx, now.Add(-stuckCaptureAge), 100)
	if err != nil {
		s.logger.Error("stuck capture query failed", err)
		return
	}
	for _, g := range stuck {
		// A hold on record means the capture did land and the finalize is
		// what got lost.
		rec, err := s.ledger.GetByGig(ctx, g.ID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			s.logger.WithField("gig_id", g.ID.String()).Error("ledger lookup failed", err)
			continue
		}
		if rec != nil {
			if err := s.svc.FinalizeCapture(ctx, g.ID, rec.MusicianID, rec.PaymentRef); err != nil {
				s.logger.WithField("gig_id", g.ID.String()).Error("finalize reconcile failed", err)
			}
			continue
		}
		if err := s.svc.HandleCaptureFailure(ctx, g.ID); err != nil {
			s.logger.WithField("gig_id", g.ID.String()).Error("capture revert failed", err)
		}
	}
}
