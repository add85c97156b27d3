package activitypub

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/calodon/calodon/bus"
	"github.com/calodon/calodon/domain"
	"github.com/google/uuid"
)

func TestAddToOutboxPersistsAndNotifies(t *testing.T) {
	database, directory, eventBus := setupPipeline(t)
	acc := createPipelineAccount(t, database, "alice")
	service := NewService(database, directory, eventBus)

	events := eventBus.Subscribe(bus.TopicOutboxMessageAdded)

	activity := NewCreateActivity("https://example.com/users/alice", Object{Id: "https://example.com/events/1"})
	if err := service.AddToOutbox(acc, activity); err != nil {
		t.Fatalf("Failed to add to outbox: %v", err)
	}

	err, stored := database.ReadOutboxMessageById(activity.Id)
	if err != nil {
		t.Fatalf("Failed to read stored message: %v", err)
	}
	if stored.ProcessedAt != nil {
		t.Error("Expected fresh message to be pending")
	}
	if stored.Type != TypeCreate {
		t.Errorf("Expected type 'Create', got '%s'", stored.Type)
	}

	select {
	case event := <-events:
		added, ok := event.(bus.OutboxMessageAdded)
		if !ok {
			t.Fatalf("Expected OutboxMessageAdded, got %T", event)
		}
		if added.Id != activity.Id {
			t.Errorf("Expected event for %s, got %s", activity.Id, added.Id)
		}
	default:
		t.Error("Expected an outbox event to be published")
	}
}

func TestAddToOutboxUnknownAccount(t *testing.T) {
	database, directory, eventBus := setupPipeline(t)
	service := NewService(database, directory, eventBus)

	ghost := &domain.Account{Id: uuid.New(), Username: "ghost", Domain: "example.com"}
	activity := NewCreateActivity("https://example.com/users/ghost", Object{Id: "https://example.com/events/1"})

	if err := service.AddToOutbox(ghost, activity); err != ErrAccountNotFound {
		t.Errorf("Expected ErrAccountNotFound, got %v", err)
	}
}

func TestProcessOutboxMessageMarksProcessed(t *testing.T) {
	database, directory, eventBus := setupPipeline(t)
	acc := createPipelineAccount(t, database, "alice")
	service := NewService(database, directory, eventBus)
	dispatcher := NewDispatcher(database, directory, eventBus)

	activity := NewCreateActivity("https://example.com/users/alice", Object{Id: "https://example.com/events/2"})
	if err := service.AddToOutbox(acc, activity); err != nil {
		t.Fatalf("Failed to add to outbox: %v", err)
	}

	err, message := database.ReadOutboxMessageById(activity.Id)
	if err != nil {
		t.Fatalf("Failed to read message: %v", err)
	}

	if !dispatcher.ProcessOutboxMessage(message) {
		t.Error("Expected message to be processed")
	}

	err, message = database.ReadOutboxMessageById(activity.Id)
	if err != nil {
		t.Fatalf("Failed to re-read message: %v", err)
	}
	if message.ProcessedAt == nil {
		t.Error("Expected processed_at to be stamped")
	}

	// A second pass over the same message is a no-op
	if dispatcher.ProcessOutboxMessage(message) {
		t.Error("Expected already processed message to be skipped")
	}
}

func TestProcessOutboxMessageOrphanLeftPending(t *testing.T) {
	database, directory, eventBus := setupPipeline(t)
	dispatcher := NewDispatcher(database, directory, eventBus)

	orphan := &domain.OutboxMessage{
		Id:          "https://example.com/events/3/create",
		AccountId:   uuid.New(),
		Type:        TypeCreate,
		MessageTime: time.Now(),
		Message:     `{"type":"Create","object":"https://example.com/events/3"}`,
		CreatedAt:   time.Now(),
	}
	if err := database.CreateOutboxMessage(orphan); err != nil {
		t.Fatalf("Failed to create orphaned message: %v", err)
	}

	if dispatcher.ProcessOutboxMessage(orphan) {
		t.Error("Expected orphaned message not to be processed")
	}

	err, found := database.ReadOutboxMessageById(orphan.Id)
	if err != nil {
		t.Fatalf("Failed to read orphaned message: %v", err)
	}
	if found.ProcessedAt != nil {
		t.Error("Expected orphaned message to stay pending")
	}
}

func TestProcessOutboxMessagesTerminatesOnOrphans(t *testing.T) {
	database, directory, eventBus := setupPipeline(t)
	acc := createPipelineAccount(t, database, "alice")
	service := NewService(database, directory, eventBus)
	dispatcher := NewDispatcher(database, directory, eventBus)

	orphan := &domain.OutboxMessage{
		Id:          "https://example.com/events/4/create",
		AccountId:   uuid.New(),
		Type:        TypeCreate,
		MessageTime: time.Now(),
		Message:     `{"type":"Create","object":"https://example.com/events/4"}`,
		CreatedAt:   time.Now(),
	}
	if err := database.CreateOutboxMessage(orphan); err != nil {
		t.Fatalf("Failed to create orphaned message: %v", err)
	}

	activity := NewCreateActivity("https://example.com/users/alice", Object{Id: "https://example.com/events/5"})
	if err := service.AddToOutbox(acc, activity); err != nil {
		t.Fatalf("Failed to add to outbox: %v", err)
	}

	// Must return even though the orphan stays pending forever
	done := make(chan struct{})
	go func() {
		dispatcher.ProcessOutboxMessages()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("ProcessOutboxMessages did not terminate")
	}

	err, owned := database.ReadOutboxMessageById(activity.Id)
	if err != nil {
		t.Fatalf("Failed to read owned message: %v", err)
	}
	if owned.ProcessedAt == nil {
		t.Error("Expected owned message to be processed")
	}

	err, pending := database.ReadPendingOutboxMessages(100)
	if err != nil {
		t.Fatalf("Failed to read pending messages: %v", err)
	}
	if len(*pending) != 1 || (*pending)[0].Id != orphan.Id {
		t.Errorf("Expected only the orphan to remain pending, got %d messages", len(*pending))
	}
}

func TestProcessOutboxMessageUnsupportedStoredType(t *testing.T) {
	database, directory, eventBus := setupPipeline(t)
	acc := createPipelineAccount(t, database, "alice")
	dispatcher := NewDispatcher(database, directory, eventBus)

	message := &domain.OutboxMessage{
		Id:          "https://example.com/events/6/like",
		AccountId:   acc.Id,
		Type:        "Like",
		MessageTime: time.Now(),
		Message:     `{"type":"Like","object":"https://example.com/events/6"}`,
		CreatedAt:   time.Now(),
	}
	if err := database.CreateOutboxMessage(message); err != nil {
		t.Fatalf("Failed to create message: %v", err)
	}

	// Unreconstructable payloads are stamped processed so they never spin
	if !dispatcher.ProcessOutboxMessage(message) {
		t.Error("Expected unsupported message to be stamped processed")
	}

	err, found := database.ReadOutboxMessageById(message.Id)
	if err != nil {
		t.Fatalf("Failed to read message: %v", err)
	}
	if found.ProcessedAt == nil {
		t.Error("Expected processed_at to be stamped for unsupported type")
	}
}

func TestDispatchListenerProcessesNewMessages(t *testing.T) {
	database, directory, eventBus := setupPipeline(t)
	acc := createPipelineAccount(t, database, "alice")
	service := NewService(database, directory, eventBus)
	dispatcher := NewDispatcher(database, directory, eventBus)
	dispatcher.RegisterListeners()

	activity := NewCreateActivity("https://example.com/users/alice", Object{Id: "https://example.com/events/7"})
	if err := service.AddToOutbox(acc, activity); err != nil {
		t.Fatalf("Failed to add to outbox: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		err, message := database.ReadOutboxMessageById(activity.Id)
		if err != nil {
			t.Fatalf("Failed to read message: %v", err)
		}
		if message.ProcessedAt != nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("Expected listener to process the message")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// remoteActor is a fake federation peer answering the webfinger chain and
// recording inbox deliveries
type remoteActor struct {
	username   string
	server     *httptest.Server
	mu         sync.Mutex
	deliveries []string
}

func newRemoteActor(t *testing.T, username string) *remoteActor {
	actor := &remoteActor{username: username}

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/webfinger", func(w http.ResponseWriter, r *http.Request) {
		base := "http://" + r.Host
		resp := WebFingerResponse{
			Subject: r.URL.Query().Get("resource"),
			Links: []WebFingerLink{
				{Rel: "self", Type: "application/activity+json", Href: base + "/users/" + username},
			},
		}
		json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("/users/"+username, func(w http.ResponseWriter, r *http.Request) {
		base := "http://" + r.Host
		profile := RemoteProfile{
			Id:                base + "/users/" + username,
			Type:              "Person",
			PreferredUsername: username,
			Inbox:             base + "/users/" + username + "/inbox",
		}
		json.NewEncoder(w).Encode(profile)
	})
	mux.HandleFunc("/users/"+username+"/inbox", func(w http.ResponseWriter, r *http.Request) {
		var wire map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&wire); err != nil {
			w.WriteHeader(400)
			return
		}
		actor.mu.Lock()
		actor.deliveries = append(actor.deliveries, fmt.Sprintf("%v", wire["id"]))
		actor.mu.Unlock()
		w.WriteHeader(202)
	})

	actor.server = httptest.NewServer(mux)
	t.Cleanup(actor.server.Close)
	return actor
}

// handle returns the federation handle pointing at the fake peer
func (a *remoteActor) handle() string {
	return a.username + "@" + strings.TrimPrefix(a.server.URL, "http://")
}

func (a *remoteActor) deliveryCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.deliveries)
}

func TestFanOutPartialFailureIsolation(t *testing.T) {
	database, directory, eventBus := setupPipeline(t)
	acc := createPipelineAccount(t, database, "alice")
	dispatcher := NewDispatcher(database, directory, eventBus)
	dispatcher.discovery.scheme = "http"

	bob := newRemoteActor(t, "bob")
	carol := newRemoteActor(t, "carol")

	recipients := []string{bob.handle(), carol.handle(), "dave@127.0.0.1:1"}
	for _, remote := range recipients {
		follow := &domain.FollowedAccount{
			Id:              uuid.New(),
			AccountId:       acc.Id,
			RemoteAccountId: remote,
			Direction:       domain.DirectionFollower,
			CreatedAt:       time.Now(),
		}
		if err := database.CreateFollowedAccount(follow); err != nil {
			t.Fatalf("Failed to create follower: %v", err)
		}
	}

	message := &domain.OutboxMessage{
		Id:          "https://example.com/events/8/create",
		AccountId:   acc.Id,
		Type:        TypeCreate,
		MessageTime: time.Now(),
		Message:     `{"type":"Create","actor":"https://example.com/users/alice","object":"https://example.com/events/8"}`,
		CreatedAt:   time.Now(),
	}
	if err := database.CreateOutboxMessage(message); err != nil {
		t.Fatalf("Failed to create message: %v", err)
	}

	if !dispatcher.ProcessOutboxMessage(message) {
		t.Error("Expected message to be processed despite the unreachable recipient")
	}

	if bob.deliveryCount() != 1 {
		t.Errorf("Expected 1 delivery to bob, got %d", bob.deliveryCount())
	}
	if carol.deliveryCount() != 1 {
		t.Errorf("Expected 1 delivery to carol, got %d", carol.deliveryCount())
	}

	err, found := database.ReadOutboxMessageById(message.Id)
	if err != nil {
		t.Fatalf("Failed to read message: %v", err)
	}
	if found.ProcessedAt == nil {
		t.Error("Expected processed_at to be stamped after fan-out")
	}
}
