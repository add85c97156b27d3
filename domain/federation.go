package domain

import (
	"github.com/google/uuid"
	"time"
)

// Follow directions for FollowedAccount records
const (
	DirectionFollower  = "follower"
	DirectionFollowing = "following"
)

// OutboxMessage is a durable record of one outbound activity. The id is the
// activity id itself, so redelivery of the same logical activity collapses to
// one row. ProcessedAt stays nil until the dispatcher has attempted every
// deliverable recipient.
type OutboxMessage struct {
	Id          string
	AccountId   uuid.UUID
	Type        string
	MessageTime time.Time
	Message     string // full activity payload, opaque to the store
	ProcessedAt *time.Time
	CreatedAt   time.Time
}

// InboxMessage is a durable record of one received activity, deduplicated by
// activity id. Never mutated or deleted once written.
type InboxMessage struct {
	Id          string
	AccountId   uuid.UUID
	Type        string
	MessageTime time.Time
	Message     string
	CreatedAt   time.Time
}

// FollowedAccount is a directed federation edge between a local account and a
// remote actor handle (user@domain)
type FollowedAccount struct {
	Id              uuid.UUID
	AccountId       uuid.UUID
	RemoteAccountId string
	Direction       string // follower or following
	CreatedAt       time.Time
}

// EventActivity records that a remote actor has previously engaged with a
// local event object, extending the delivery audience beyond followers.
// Append-only.
type EventActivity struct {
	Id              uuid.UUID
	EventId         string
	RemoteAccountId string
	CreatedAt       time.Time
}
