package domain

import (
	"time"

	"github.com/google/uuid"
)

type MessageType string

const (
	MessageApplication  MessageType = "application"
	MessageInvitation   MessageType = "invitation"
	MessageNegotiation  MessageType = "negotiation"
	MessageAnnouncement MessageType = "announcement"
	MessageReview       MessageType = "review"
	MessageText         MessageType = "text"
)

type MessageStatus string

const (
	StatusPending         MessageStatus = "pending"
	StatusAccepted        MessageStatus = "accepted"
	StatusDeclined        MessageStatus = "declined"
	StatusCountered       MessageStatus = "countered"
	StatusWithdrawn       MessageStatus = "withdrawn"
	StatusAppsClosed      MessageStatus = "apps-closed"
	StatusAwaitingPayment MessageStatus = "awaiting payment"
	StatusGigConfirmed    MessageStatus = "gig confirmed"
	StatusDispute         MessageStatus = "dispute"
	StatusCancelled       MessageStatus = "cancelled"
	StatusReopened        MessageStatus = "reopened"
	StatusClosed          MessageStatus = "closed"
)

// Message is one entry in a conversation thread. Threads are append-only;
// the only permitted mutation is a status patch on the latest message of a
// given type, which is how offer badges track the applicant state machine
// without rewriting history.
type Message struct {
	ID        uuid.UUID     `bson:"_id" json:"id"`
	SenderID  uuid.UUID     `bson:"sender_id" json:"sender_id"`
	Type      MessageType   `bson:"type" json:"type"`
	Status    MessageStatus `bson:"status" json:"status"`
	Text      string        `bson:"text" json:"text"`
	OldFee    int64         `bson:"old_fee,omitempty" json:"old_fee,omitempty"`
	NewFee    int64         `bson:"new_fee,omitempty" json:"new_fee,omitempty"`
	Timestamp time.Time     `bson:"timestamp" json:"timestamp"`
}

// SystemSender marks announcements not authored by either participant.
var SystemSender = uuid.Nil

// Conversation pairs one venue with one performer for one gig. Created lazily
// on first contact.
type Conversation struct {
	ID          uuid.UUID `bson:"_id"`
	GigID       uuid.UUID `bson:"gig_id"`
	VenueID     uuid.UUID `bson:"venue_id"`
	PerformerID uuid.UUID `bson:"performer_id"`
	Messages    []Message `bson:"messages"`

	LastMessage          string    `bson:"last_message"`
	LastMessageTimestamp time.Time `bson:"last_message_timestamp"`
	LastMessageSenderID  uuid.UUID `bson:"last_message_sender_id"`
}

// ValidPatch reports whether a status patch is allowed for a message of the
// given type. The transition table is closed: anything not listed is rejected.
func ValidPatch(t MessageType, from, to MessageStatus) bool {
	switch t {
	case MessageApplication, MessageInvitation, MessageNegotiation:
		switch from {
		case StatusPending:
			return to == StatusAccepted || to == StatusDeclined ||
				to == StatusCountered || to == StatusWithdrawn || to == StatusAppsClosed
		case StatusDeclined:
			// A declined offer may be countered again while the gig is open.
			return to == StatusCountered || to == StatusAppsClosed
		case StatusAppsClosed:
			// Reopened after a confirmed applicant cancelled.
			return to == StatusPending
		default:
			return false
		}
	case MessageAnnouncement:
		return from == StatusAwaitingPayment && to == StatusGigConfirmed
	case MessageReview:
		return from == StatusPending && to == StatusClosed
	case MessageText:
		return false
	}
	return false
}

// ThreadEffect is the message-side half of a state transition: at most one
// append and at most one patch, executed against the applicant's conversation
// in the same logical operation as the applicant-array write.
type ThreadEffect struct {
	Append *MessageDraft
	Patch  *StatusPatch
}

// MessageDraft is an unsent message. The repository assigns the id and
// timestamp on append.
type MessageDraft struct {
	SenderID uuid.UUID
	Type     MessageType
	Status   MessageStatus
	Text     string
	OldFee   int64
	NewFee   int64
}

// StatusPatch targets the most recent message whose type is in Types.
// Accept and decline patch whichever offer message is live, so Types usually
// carries all three offer kinds.
type StatusPatch struct {
	Types  []MessageType
	Status MessageStatus
	// Summary replaces the conversation's denormalized last-message text.
	Summary string
}

// OfferTypes lists the patchable offer message kinds in thread order.
func OfferTypes() []MessageType {
	return []MessageType{MessageApplication, MessageInvitation, MessageNegotiation}
}
