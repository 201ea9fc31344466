package mongo

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/giginhq/gig-settlement/internal/domain"
	"github.com/giginhq/gig-settlement/internal/observability"
)

// GigRepository stores gig aggregates as single documents. There are no
// cross-document transactions here; consistency across the applicant array
// comes from the conditional version match on every write.
type GigRepository struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewGigRepository(db *mongo.Database, logger observability.Logger) *GigRepository {
	return &GigRepository{
		coll:   db.Collection("gigs"),
		logger: logger,
	}
}

type gigDoc struct {
	ID          uuid.UUID                `bson:"_id"`
	VenueID     uuid.UUID                `bson:"venue_id"`
	StartsAt    time.Time                `bson:"starts_at"`
	DurationMin int64                    `bson:"duration_min"`
	Kind        string                   `bson:"kind"`
	BudgetPence int64                    `bson:"budget_pence"`
	Status      string                   `bson:"status"`
	Applicants  []domain.ApplicantRecord `bson:"applicants"`

	AgreedFeePence int64  `bson:"agreed_fee_pence"`
	Paid           bool   `bson:"paid"`
	PaymentRef     string `bson:"payment_ref"`

	DisputeClearingTime time.Time `bson:"dispute_clearing_time"`
	DisputeLogged       bool      `bson:"dispute_logged"`
	VenueHasReviewed    bool      `bson:"venue_has_reviewed"`
	MusicianHasReviewed bool      `bson:"musician_has_reviewed"`

	CancellationReason string    `bson:"cancellation_reason"`
	Version            int64     `bson:"version"`
	UpdatedAt          time.Time `bson:"updated_at"`
}

func toDoc(g *domain.Gig) gigDoc {
	return gigDoc{
		ID:                  g.ID,
		VenueID:             g.VenueID,
		StartsAt:            g.StartsAt,
		DurationMin:         int64(g.Duration / time.Minute),
		Kind:                string(g.Kind),
		BudgetPence:         g.BudgetPence,
		Status:              string(g.Status),
		Applicants:          g.Applicants,
		AgreedFeePence:      g.AgreedFeePence,
		Paid:                g.Paid,
		PaymentRef:          g.PaymentRef,
		DisputeClearingTime: g.DisputeClearingTime,
		DisputeLogged:       g.DisputeLogged,
		VenueHasReviewed:    g.VenueHasReviewed,
		MusicianHasReviewed: g.MusicianHasReviewed,
		CancellationReason:  g.CancellationReason,
		Version:             g.Version,
		UpdatedAt:           time.Now(),
	}
}

func fromDoc(d gigDoc) *domain.Gig {
	return &domain.Gig{
		ID:                  d.ID,
		VenueID:             d.VenueID,
		StartsAt:            d.StartsAt,
		Duration:            time.Duration(d.DurationMin) * time.Minute,
		Kind:                domain.GigKind(d.Kind),
		BudgetPence:         d.BudgetPence,
		Status:              domain.GigStatus(d.Status),
		Applicants:          d.Applicants,
		AgreedFeePence:      d.AgreedFeePence,
		Paid:                d.Paid,
		PaymentRef:          d.PaymentRef,
		DisputeClearingTime: d.DisputeClearingTime,
		DisputeLogged:       d.DisputeLogged,
		VenueHasReviewed:    d.VenueHasReviewed,
		MusicianHasReviewed: d.MusicianHasReviewed,
		CancellationReason:  d.CancellationReason,
		Version:             d.Version,
	}
}

func (r *GigRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Gig, error) {
	var doc gigDoc
	err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "find gig")
	}
	return fromDoc(doc), nil
}

func (r *GigRepository) Create(ctx context.Context, g *domain.Gig) error {
	if g.Version == 0 {
		g.Version = 1
	}
	_, err := r.coll.InsertOne(ctx, toDoc(g))
	if mongo.IsDuplicateKeyError(err) {
		return domain.ErrConflict
	}
	return errors.Wrap(err, "insert gig")
}

// FindStuckAccepted returns gigs whose accepted applicant has been waiting on
// a capture since before the cutoff. The sweeper reverts these so the offer
// can be accepted again.
func (r *GigRepository) FindStuckAccepted(ctx context.Context, before time.Time, limit int64) ([]*domain.Gig, error) {
	cur, err := r.coll.Find(ctx, bson.M{
		"applicants.status": string(domain.ApplicantAccepted),
		"updated_at":        bson.M{"$lt": before},
	}, options.Find().SetLimit(limit))
	if err != nil {
		return nil, errors.Wrap(err, "find stuck gigs")
	}
	defer cur.Close(ctx)

	var out []*domain.Gig
	for cur.Next(ctx) {
		var doc gigDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, errors.Wrap(err, "decode gig")
		}
		out = append(out, fromDoc(doc))
	}
	return out, cur.Err()
}

// Update replaces the whole document conditionally on the version the caller
// read. No match means another writer got there first.
func (r *GigRepository) Update(ctx context.Context, g *domain.Gig) error {
	readVersion := g.Version
	g.Version++
	res, err := r.coll.ReplaceOne(ctx,
		bson.M{"_id": g.ID, "version": readVersion},
		toDoc(g),
	)
	if err != nil {
		g.Version = readVersion
		return errors.Wrap(err, "replace gig")
	}
	if res.MatchedCount == 0 {
		g.Version = readVersion
		observability.VersionConflicts.Inc()
		return domain.ErrStaleVersion
	}
	return nil
}
