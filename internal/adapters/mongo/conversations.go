package mongo

import (
	"context"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/giginhq/gig-settlement/internal/domain"
	"github.com/giginhq/gig-settlement/internal/observability"
)

// ConversationRepository embeds each thread's messages in the conversation
// document. Appends push onto the array; a patch rewrites the status of one
// message located by position, so history is never rewritten.
type ConversationRepository struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewConversationRepository(db *mongo.Database, logger observability.Logger) *ConversationRepository {
	return &ConversationRepository{
		coll:   db.Collection("conversations"),
		logger: logger,
	}
}

func (r *ConversationRepository) Ensure(ctx context.Context, gigID, venueID, performerID uuid.UUID) (*domain.Conversation, error) {
	filter := bson.M{"gig_id": gigID, "performer_id": performerID}
	update := bson.M{
		"$setOnInsert": bson.M{
			"_id":          uuid.New(),
			"gig_id":       gigID,
			"venue_id":     venueID,
			"performer_id": performerID,
			"messages":     bson.A{},
		},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	var conv domain.Conversation
	if err := r.coll.FindOneAndUpdate(ctx, filter, update, opts).Decode(&conv); err != nil {
		return nil, errors.Wrap(err, "ensure conversation")
	}
	return &conv, nil
}

func (r *ConversationRepository) Append(ctx context.Context, convID uuid.UUID, draft domain.MessageDraft) (domain.Message, error) {
	msg := domain.Message{
		ID:        uuid.New(),
		SenderID:  draft.SenderID,
		Type:      draft.Type,
		Status:    draft.Status,
		Text:      draft.Text,
		OldFee:    draft.OldFee,
		NewFee:    draft.NewFee,
		Timestamp: time.Now(),
	}
	res, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": convID},
		bson.M{
			"$push": bson.M{"messages": msg},
			"$set": bson.M{
				"last_message":           msg.Text,
				"last_message_timestamp": msg.Timestamp,
				"last_message_sender_id": msg.SenderID,
			},
		},
	)
	if err != nil {
		return domain.Message{}, errors.Wrap(err, "append message")
	}
	if res.MatchedCount == 0 {
		return domain.Message{}, domain.ErrNotFound
	}
	return msg, nil
}

// PatchLatest finds the most recent message whose type is in patch.Types and
// moves its status, validating against the message transition table. The
// conversation's last-message summary is refreshed in the same write.
func (r *ConversationRepository) PatchLatest(ctx context.Context, convID uuid.UUID, patch domain.StatusPatch) error {
	var conv domain.Conversation
	if err := r.coll.FindOne(ctx, bson.M{"_id": convID}).Decode(&conv); err != nil {
		if err == mongo.ErrNoDocuments {
			return domain.ErrNotFound
		}
		return errors.Wrap(err, "load conversation")
	}

	idx := -1
	for i := len(conv.Messages) - 1; i >= 0; i-- {
		for _, t := range patch.Types {
			if conv.Messages[i].Type == t {
				idx = i
				break
			}
		}
		if idx >= 0 {
			break
		}
	}
	if idx < 0 {
		return domain.ErrNotFound
	}
	target := conv.Messages[idx]
	if target.Status == patch.Status {
		return nil // already patched, reconciliation replay
	}
	if !domain.ValidPatch(target.Type, target.Status, patch.Status) {
		return errors.Wrapf(domain.ErrConflict, "patch %s %s -> %s", target.Type, target.Status, patch.Status)
	}

	now := time.Now()
	set := bson.M{
		"messages." + strconv.Itoa(idx) + ".status": patch.Status,
	}
	if patch.Summary != "" {
		set["last_message"] = patch.Summary
		set["last_message_timestamp"] = now
	}
	res, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": convID, "messages." + strconv.Itoa(idx) + ".status": target.Status},
		bson.M{"$set": set},
	)
	if err != nil {
		return errors.Wrap(err, "patch message")
	}
	if res.MatchedCount == 0 {
		// Lost a race with another patch on the same message; re-derive.
		return r.PatchLatest(ctx, convID, patch)
	}
	return nil
}

func (r *ConversationRepository) ForGig(ctx context.Context, gigID uuid.UUID) ([]domain.Conversation, error) {
	cur, err := r.coll.Find(ctx, bson.M{"gig_id": gigID})
	if err != nil {
		return nil, errors.Wrap(err, "find conversations")
	}
	defer cur.Close(ctx)
	var convs []domain.Conversation
	if err := cur.All(ctx, &convs); err != nil {
		return nil, err
	}
	return convs, nil
}

func (r *ConversationRepository) Messages(ctx context.Context, convID uuid.UUID) ([]domain.Message, error) {
	var conv domain.Conversation
	if err := r.coll.FindOne(ctx, bson.M{"_id": convID}).Decode(&conv); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, domain.ErrNotFound
		}
		return nil, errors.Wrap(err, "load conversation")
	}
	return conv.Messages, nil
}
