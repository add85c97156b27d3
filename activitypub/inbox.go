package activitypub

import (
	"errors"
	"log"
	"time"

	"github.com/calodon/calodon/accounts"
	"github.com/calodon/calodon/bus"
	"github.com/calodon/calodon/db"
	"github.com/calodon/calodon/domain"
)

// ErrAccountNotFound is returned when an activity addresses an account that
// does not exist locally
var ErrAccountNotFound = errors.New("account not found")

// Ingestor accepts inbound activities, deduplicates them by activity id,
// persists them, and announces them for downstream business handlers.
// Federated delivery is at-least-once, so redelivery of a known id is a
// silent success.
type Ingestor struct {
	database  *db.DB
	directory *accounts.Directory
	eventBus  *bus.Bus
}

func NewIngestor(database *db.DB, directory *accounts.Directory, eventBus *bus.Bus) *Ingestor {
	return &Ingestor{database: database, directory: directory, eventBus: eventBus}
}

// AddToInbox stores the activity in the account's inbox. Idempotent by
// construction: at most one record and one "inbox message added" event per
// activity id, ever. Callers cannot distinguish new from duplicate by the
// return value.
// TODO permissions? block lists? rate limiting?
func (in *Ingestor) AddToInbox(account *domain.Account, activity *Activity) error {
	foundAccount, err := in.directory.GetAccount(account.Id)
	if err != nil {
		return err
	}
	if foundAccount == nil {
		return ErrAccountNotFound
	}

	err, existing := in.database.ReadInboxMessageById(activity.Id)
	if existing != nil {
		log.Printf("Inbox: activity %s already ingested, skipping", activity.Id)
		return nil
	}

	payload, err := activity.ToJSON()
	if err != nil {
		return err
	}

	message := &domain.InboxMessage{
		Id:          activity.Id,
		AccountId:   foundAccount.Id,
		Type:        activity.Type,
		MessageTime: activity.Published,
		Message:     string(payload),
		CreatedAt:   time.Now(),
	}
	if err := in.database.CreateInboxMessage(message); err != nil {
		return err
	}

	log.Printf("Inbox: ingested %s activity %s for %s", activity.Type, activity.Id, foundAccount.Username)
	in.eventBus.Publish(bus.TopicInboxMessageAdded, bus.InboxMessageAdded{
		AccountId: foundAccount.Id,
		Id:        message.Id,
	})

	return nil
}
