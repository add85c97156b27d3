package activitypub

import (
	"bytes"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/calodon/calodon/accounts"
	"github.com/calodon/calodon/bus"
	"github.com/calodon/calodon/db"
	"github.com/calodon/calodon/domain"
)

// outboxBatchSize caps how many pending messages a catch-up pass loads at
// once, bounding memory per pass
const outboxBatchSize = 1000

// Dispatcher turns persisted outbox messages into outbound deliveries. Two
// drive modes converge on the same per-message routine: the event-triggered
// path for freshly added messages and the periodic batch pass that picks up
// whatever the event path missed, e.g. after a restart.
type Dispatcher struct {
	database  *db.DB
	directory *accounts.Directory
	resolver  *RecipientResolver
	discovery *Discovery
	eventBus  *bus.Bus
	client    *http.Client
}

func NewDispatcher(database *db.DB, directory *accounts.Directory, eventBus *bus.Bus) *Dispatcher {
	return &Dispatcher{
		database:  database,
		directory: directory,
		resolver:  NewRecipientResolver(database),
		discovery: NewDiscovery(),
		eventBus:  eventBus,
		client:    &http.Client{Timeout: 30 * time.Second},
	}
}

// RegisterListeners starts the event-triggered path: every outbox
// notification fetches that single record and processes it immediately. A
// notification whose record is missing is logged and dropped, not retried.
func (d *Dispatcher) RegisterListeners() {
	notifications := d.eventBus.Subscribe(bus.TopicOutboxMessageAdded)
	go func() {
		for event := range notifications {
			added, ok := event.(bus.OutboxMessageAdded)
			if !ok {
				continue
			}
			err, message := d.database.ReadOutboxMessageById(added.Id)
			if message == nil {
				log.Printf("Dispatcher: outbox message %s not found for processing: %v", added.Id, err)
				continue
			}
			d.ProcessOutboxMessage(message)
		}
	}()
}

// ProcessOutboxMessages is the batch catch-up pass: fetch pending messages
// oldest-first and process them, looping until the backlog is drained. A pass
// that stamps nothing stops, so orphaned messages waiting for reconciliation
// cannot spin the loop.
func (d *Dispatcher) ProcessOutboxMessages() {
	for {
		err, messages := d.database.ReadPendingOutboxMessages(outboxBatchSize)
		if err != nil {
			log.Printf("Dispatcher: failed to read pending outbox messages: %v", err)
			return
		}
		if messages == nil || len(*messages) == 0 {
			return
		}

		processed := 0
		for i := range *messages {
			if d.ProcessOutboxMessage(&(*messages)[i]) {
				processed++
			}
		}
		if processed == 0 {
			return
		}
		// A short batch covered the whole backlog; anything still pending
		// was deliberately left so
		if len(*messages) < outboxBatchSize {
			return
		}
	}
}

// ProcessOutboxMessage runs one dispatch pass over a single message and
// reports whether processed_at was stamped. The record is re-read first: the
// event-triggered and batch paths share the backlog, and the store row is the
// only synchronization point between them.
func (d *Dispatcher) ProcessOutboxMessage(message *domain.OutboxMessage) bool {
	err, current := d.database.ReadOutboxMessageById(message.Id)
	if current == nil {
		log.Printf("Dispatcher: outbox message %s disappeared before processing: %v", message.Id, err)
		return false
	}
	if current.ProcessedAt != nil {
		return false
	}

	account, err := d.directory.GetAccount(current.AccountId)
	if err != nil {
		log.Printf("Dispatcher: account lookup for message %s failed: %v", current.Id, err)
		return false
	}
	if account == nil {
		// Orphaned message: left pending for later reconciliation
		log.Printf("Dispatcher: no account found for message %s", current.Id)
		return false
	}

	activity, err := ActivityFromMessage(current.Type, []byte(current.Message))
	if err != nil {
		// Unsupported or unparseable payloads are not retried forever
		log.Printf("Dispatcher: failed to reconstruct activity for message %s: %v", current.Id, err)
	}

	if activity != nil {
		d.fanOut(account, activity)
	}

	if err := d.database.MarkOutboxMessageProcessed(current.Id, time.Now()); err != nil {
		log.Printf("Dispatcher: failed to mark message %s processed: %v", current.Id, err)
		return false
	}
	return true
}

// fanOut attempts one delivery per resolved recipient, each independently.
// Deliveries are fire-and-forget: a failed or skipped recipient never blocks
// its siblings, and completion does not depend on any single outcome.
func (d *Dispatcher) fanOut(account *domain.Account, activity *Activity) {
	recipients, err := d.resolver.Resolve(account, activity.Object)
	if err != nil {
		log.Printf("Dispatcher: failed to resolve recipients for %s: %v", activity.Id, err)
		return
	}
	if len(recipients) == 0 {
		return
	}

	payload, err := activity.ToJSON()
	if err != nil {
		log.Printf("Dispatcher: failed to marshal activity %s: %v", activity.Id, err)
		return
	}

	var wg sync.WaitGroup
	for _, recipient := range recipients {
		wg.Add(1)
		go func(recipient string) {
			defer wg.Done()
			d.deliver(recipient, activity.Id, payload)
		}(recipient)
	}
	wg.Wait()
}

// deliver resolves one recipient's inbox and POSTs the activity to it
func (d *Dispatcher) deliver(recipient string, activityId string, payload []byte) {
	inboxURL := d.discovery.ResolveInbox(recipient)
	if inboxURL == "" {
		log.Printf("Dispatcher: skipping message to %s because no inbox found", recipient)
		return
	}

	req, err := http.NewRequest("POST", inboxURL, bytes.NewReader(payload))
	if err != nil {
		log.Printf("Dispatcher: failed to create request for %s: %v", recipient, err)
		return
	}

	req.Header.Set("Content-Type", "application/activity+json")
	req.Header.Set("Accept", "application/activity+json")
	req.Header.Set("User-Agent", "calodon/1.0 ActivityPub")
	req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	// TODO sign the request once key management lands

	resp, err := d.client.Do(req)
	if err != nil {
		log.Printf("Dispatcher: delivery of %s to %s failed: %v", activityId, recipient, err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Printf("Dispatcher: delivery of %s to %s returned status %d", activityId, recipient, resp.StatusCode)
		return
	}

	log.Printf("Dispatcher: delivered %s to %s (status: %d)", activityId, recipient, resp.StatusCode)
}

// StartDispatchWorker starts the periodic catch-up worker
func StartDispatchWorker(d *Dispatcher, interval time.Duration) {
	log.Println("Starting outbox dispatch worker...")

	ticker := time.NewTicker(interval)
	go func() {
		for range ticker.C {
			d.ProcessOutboxMessages()
		}
	}()
}
