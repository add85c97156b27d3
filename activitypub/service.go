package activitypub

import (
	"log"
	"strings"
	"time"

	"github.com/calodon/calodon/accounts"
	"github.com/calodon/calodon/bus"
	"github.com/calodon/calodon/db"
	"github.com/calodon/calodon/domain"
)

// Service is the producing side of the pipeline: business actions hand it
// fresh activities for the outbox, and read back what an account has
// published.
type Service struct {
	database  *db.DB
	directory *accounts.Directory
	eventBus  *bus.Bus
}

func NewService(database *db.DB, directory *accounts.Directory, eventBus *bus.Bus) *Service {
	return &Service{database: database, directory: directory, eventBus: eventBus}
}

// ParseWebFingerResource splits an acct: resource into username and domain.
// Both come back empty when the resource is malformed.
func ParseWebFingerResource(resource string) (string, string) {
	resource = strings.TrimPrefix(resource, "acct:")
	parts := strings.Split(resource, "@")
	if len(parts) == 2 && parts[0] != "" && parts[1] != "" {
		return parts[0], parts[1]
	}
	return "", ""
}

// AddToOutbox persists the activity as a pending outbox message and notifies
// the dispatcher. MessageTime carries the activity's logical publish time,
// not the insertion time, so catch-up passes keep FIFO order.
func (s *Service) AddToOutbox(account *domain.Account, activity *Activity) error {
	foundAccount, err := s.directory.GetAccount(account.Id)
	if err != nil {
		return err
	}
	if foundAccount == nil {
		return ErrAccountNotFound
	}

	payload, err := activity.ToJSON()
	if err != nil {
		return err
	}

	message := &domain.OutboxMessage{
		Id:          activity.Id,
		AccountId:   foundAccount.Id,
		Type:        activity.Type,
		MessageTime: activity.Published,
		Message:     string(payload),
		CreatedAt:   time.Now(),
	}
	if err := s.database.CreateOutboxMessage(message); err != nil {
		return err
	}

	s.eventBus.Publish(bus.TopicOutboxMessageAdded, bus.OutboxMessageAdded{Id: message.Id})
	return nil
}

// ReadOutbox returns the activities an account has published, newest first.
// Messages that no longer reconstruct are skipped with a log line rather than
// failing the whole read.
func (s *Service) ReadOutbox(account *domain.Account) ([]*Activity, error) {
	err, messages := s.database.ReadOutboxMessagesByAccountId(account.Id)
	if err != nil {
		return nil, err
	}

	var activities []*Activity
	for _, message := range *messages {
		activity, err := ActivityFromMessage(message.Type, []byte(message.Message))
		if err != nil {
			log.Printf("Outbox: skipping unreadable message %s: %v", message.Id, err)
			continue
		}
		activities = append(activities, activity)
	}
	return activities, nil
}
