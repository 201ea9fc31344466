package integration_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	redisclient "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/giginhq/gig-settlement/internal/adapters/crdb"
	mongoadapter "github.com/giginhq/gig-settlement/internal/adapters/mongo"
	"github.com/giginhq/gig-settlement/internal/adapters/rabbit"
	redisadapter "github.com/giginhq/gig-settlement/internal/adapters/redis"
	"github.com/giginhq/gig-settlement/internal/config"
	"github.com/giginhq/gig-settlement/internal/domain"
	"github.com/giginhq/gig-settlement/internal/engine"
	httphandler "github.com/giginhq/gig-settlement/internal/http"
	"github.com/giginhq/gig-settlement/internal/idempotency"
	"github.com/giginhq/gig-settlement/internal/observability"
	"github.com/giginhq/gig-settlement/internal/outbox"
	"github.com/giginhq/gig-settlement/internal/payments"
	"github.com/giginhq/gig-settlement/internal/rateLimit"
)

const ledgerSchema = `
	CREATE DATABASE IF NOT EXISTS gigs;
	CREATE TABLE IF NOT EXISTS gigs.escrow (
		payment_ref TEXT PRIMARY KEY,
		gig_id UUID,
		musician_id UUID,
		venue_id UUID,
		amount_pence INT8,
		currency TEXT,
		status TEXT CHECK (status IN ('held', 'released', 'refunded')),
		dispute_clearing_time TIMESTAMPTZ,
		dispute_logged BOOL DEFAULT false,
		created_at TIMESTAMPTZ DEFAULT now(),
		settled_at TIMESTAMPTZ
	);
	CREATE TABLE IF NOT EXISTS gigs.outbox (
		id UUID PRIMARY KEY,
		event_type TEXT,
		gig_id UUID,
		payload_json JSONB,
		created_at TIMESTAMPTZ DEFAULT now(),
		published_at TIMESTAMPTZ,
		status TEXT,
		dedupe_key TEXT
	);
`

// fakeProvider stands in for the payment processor API.
func fakeProvider(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/captures", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"payment_ref": "pi_" + uuid.New().String()})
	})
	mux.HandleFunc("/v1/releases", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/v1/refunds", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return httptest.NewServer(mux)
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest("POST", url, bytes.NewReader(data))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", uuid.New().String())
	req.Header.Set("Authorization", "Bearer mock")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func TestIntegration_NegotiateAcceptSettle(t *testing.T) {
	ctx := context.Background()

	crdbContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "cockroachdb/cockroach:v24.1.1",
			Cmd:          []string{"start-single-node", "--insecure"},
			ExposedPorts: []string{"26257/tcp", "8080/tcp"},
			WaitingFor:   wait.ForHTTP("/health?ready=1").WithPort("8080"),
		},
		Started: true,
	})
	require.NoError(t, err)
	defer crdbContainer.Terminate(ctx)

	mongoContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "mongo:7",
			ExposedPorts: []string{"27017/tcp"},
			WaitingFor:   wait.ForListeningPort("27017/tcp"),
		},
		Started: true,
	})
	require.NoError(t, err)
	defer mongoContainer.Terminate(ctx)

	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForExec([]string{"redis-cli", "ping"}),
		},
		Started: true,
	})
	require.NoError(t, err)
	defer redisContainer.Terminate(ctx)

	rabbitContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "rabbitmq:3.13-management",
			ExposedPorts: []string{"5672/tcp", "15672/tcp"},
			WaitingFor:   wait.ForHTTP("/api/health").WithPort("15672"),
		},
		Started: true,
	})
	require.NoError(t, err)
	defer rabbitContainer.Terminate(ctx)

	crdbHost, err := crdbContainer.Host(ctx)
	require.NoError(t, err)
	crdbPort, err := crdbContainer.MappedPort(ctx, "26257")
	require.NoError(t, err)
	mongoHost, err := mongoContainer.Host(ctx)
	require.NoError(t, err)
	mongoPort, err := mongoContainer.MappedPort(ctx, "27017")
	require.NoError(t, err)
	redisHost, err := redisContainer.Host(ctx)
	require.NoError(t, err)
	redisPort, err := redisContainer.MappedPort(ctx, "6379")
	require.NoError(t, err)
	rabbitHost, err := rabbitContainer.Host(ctx)
	require.NoError(t, err)
	rabbitPort, err := rabbitContainer.MappedPort(ctx, "5672")
	require.NoError(t, err)

	provider := fakeProvider(t)
	defer provider.Close()

	cfg := &config.Config{
		CRDBDSN:        "postgresql://root@" + crdbHost + ":" + crdbPort.Port() + "/gigs?sslmode=disable",
		MongoURI:       "mongodb://" + mongoHost + ":" + mongoPort.Port(),
		MongoDB:        "gigs",
		RedisAddr:      redisHost + ":" + redisPort.Port(),
		RabbitURL:      "amqp://guest:guest@" + rabbitHost + ":" + rabbitPort.Port() + "/",
		ProcessorURL:   provider.URL,
		DisputeWindow:  48 * time.Hour,
		IdempotencyTTL: time.Hour,
	}

	pool, err := pgxpool.New(ctx, cfg.CRDBDSN)
	require.NoError(t, err)
	defer pool.Close()
	_, err = pool.Exec(ctx, ledgerSchema)
	require.NoError(t, err)
	ledger := crdb.NewLedger(pool)

	mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	require.NoError(t, err)
	defer mongoClient.Disconnect(ctx)
	mongoDB := mongoClient.Database(cfg.MongoDB)
	logger := observability.NewLogger()
	gigs := mongoadapter.NewGigRepository(mongoDB, logger)
	convs := mongoadapter.NewConversationRepository(mongoDB, logger)

	redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
	redisCache := redisadapter.NewCache(redisClient)
	redisIdemp := redisadapter.NewIdempotency(redisClient)
	idemp := idempotency.NewIdempotency(redisIdemp, cfg.IdempotencyTTL)
	rl := rateLimit.NewRateLimiter(redisCache)

	rabbitConn, err := amqp.Dial(cfg.RabbitURL)
	require.NoError(t, err)
	defer rabbitConn.Close()
	rabbitPub, err := rabbit.NewPublisher(rabbitConn)
	require.NoError(t, err)
	consumer, err := rabbit.NewConsumer(rabbitConn, rabbit.NotificationsQueue, []string{"gig.*"})
	require.NoError(t, err)

	processor := payments.NewGateway(cfg.ProcessorURL)
	svc := engine.NewService(gigs, convs, ledger, processor, ledger, logger, cfg.DisputeWindow)

	handlers := httphandler.NewHandlers(cfg, svc, redisCache, idemp, logger)
	r := httphandler.SetupRouter(handlers, logger, rl, idemp)

	srv := &http.Server{Addr: ":8081", Handler: r}
	go srv.ListenAndServe()
	defer srv.Shutdown(ctx)
	time.Sleep(100 * time.Millisecond)

	pubCtx, pubCancel := context.WithCancel(ctx)
	defer pubCancel()
	go outbox.NewPublisher(ledger, rabbitPub, logger).Run(pubCtx, 100*time.Millisecond)

	base := "http://localhost:8081"
	venueID := uuid.New()
	musicianID := uuid.New()
	gigID := uuid.New()

	gig := &domain.Gig{
		ID:          gigID,
		VenueID:     venueID,
		StartsAt:    time.Now().Add(7 * 24 * time.Hour),
		Duration:    2 * time.Hour,
		Kind:        domain.KindStandard,
		BudgetPence: 15000,
		Status:      domain.GigOpen,
	}
	require.NoError(t, gigs.Create(ctx, gig))

	// Musician applies at the listed budget.
	resp := postJSON(t, base+"/v1/gigs/"+gigID.String()+"/applications", map[string]interface{}{
		"performer_id": musicianID.String(),
		"fee":          "£150",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	// Venue counters.
	resp = postJSON(t, base+"/v1/gigs/"+gigID.String()+"/negotiations", map[string]interface{}{
		"performer_id": musicianID.String(),
		"fee":          "£160",
		"sender":       "venue",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Musician accepts the counter; the fee is captured and held in escrow.
	resp = postJSON(t, base+"/v1/gigs/"+gigID.String()+"/accept", map[string]interface{}{
		"performer_id": musicianID.String(),
		"sender":       "musician",
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp, err = http.Get(base + "/v1/gigs/" + gigID.String())
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var view struct {
		Gig struct {
			Paid       bool `json:"paid"`
			Applicants []struct {
				ID     uuid.UUID `json:"id"`
				Status string    `json:"status"`
			} `json:"applicants"`
		} `json:"gig"`
		Escrow string `json:"escrow"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&view))
	require.True(t, view.Gig.Paid)
	require.Equal(t, "held", view.Escrow)
	require.Len(t, view.Gig.Applicants, 1)
	require.Equal(t, "confirmed", view.Gig.Applicants[0].Status)

	rec, err := ledger.GetByGig(ctx, gigID)
	require.NoError(t, err)
	require.Equal(t, int64(16000), rec.AmountPence)
	require.Equal(t, domain.EscrowHeld, rec.Status)
	require.Equal(t, musicianID, rec.MusicianID)

	// The confirmation reaches the notifications queue via the outbox.
	deliveries, err := consumer.Consume(ctx)
	require.NoError(t, err)
	select {
	case msg := <-deliveries:
		require.Equal(t, "gig.confirmed", msg.RoutingKey)
		require.NotEmpty(t, msg.MessageId)
		require.NoError(t, msg.Ack(false))
	case <-time.After(10 * time.Second):
		t.Fatal("no gig.confirmed event published")
	}

	// Musician cancels; the held fee is refunded and the gig reopens.
	resp = postJSON(t, base+"/v1/gigs/"+gigID.String()+"/cancel", map[string]interface{}{
		"performer_id": musicianID.String(),
		"reason":       "double booked",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	rec, err = ledger.Get(ctx, rec.PaymentRef)
	require.NoError(t, err)
	require.Equal(t, domain.EscrowRefunded, rec.Status)

	resp, err = http.Get(base + "/v1/gigs/" + gigID.String())
	require.NoError(t, err)
	var after struct {
		Gig struct {
			Status string `json:"status"`
			Paid   bool   `json:"paid"`
		} `json:"gig"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&after))
	require.Equal(t, "open", after.Gig.Status)
	require.False(t, after.Gig.Paid)
}
