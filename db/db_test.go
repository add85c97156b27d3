package db

import (
	"database/sql"
	"testing"
	"time"

	"github.com/calodon/calodon/domain"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// setupTestDB creates an in-memory SQLite database for testing
func setupTestDB(t *testing.T) *DB {
	sqlDB, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open in-memory database: %v", err)
	}
	// Each pooled connection would get its own private in-memory database;
	// pin the pool to one connection so all queries see the same schema.
	sqlDB.SetMaxOpenConns(1)

	db := &DB{db: sqlDB}

	if _, err := db.db.Exec(sqlCreateAccountsTable); err != nil {
		t.Fatalf("Failed to create accounts table: %v", err)
	}

	if err := db.RunMigrations(); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	t.Cleanup(func() { db.Close() })
	return db
}

func createTestAccount(t *testing.T, db *DB, username string) *domain.Account {
	acc := &domain.Account{
		Id:        uuid.New(),
		Username:  username,
		Domain:    "example.com",
		CreatedAt: time.Now(),
	}
	if err := db.CreateAccount(acc); err != nil {
		t.Fatalf("Failed to create account: %v", err)
	}
	return acc
}

func TestCreateAndReadAccount(t *testing.T) {
	db := setupTestDB(t)
	acc := createTestAccount(t, db, "alice")

	err, found := db.ReadAccById(acc.Id)
	if err != nil {
		t.Fatalf("Failed to read account by id: %v", err)
	}
	if found.Username != "alice" {
		t.Errorf("Expected username 'alice', got '%s'", found.Username)
	}

	err, found = db.ReadAccByUsername("alice", "example.com")
	if err != nil {
		t.Fatalf("Failed to read account by username: %v", err)
	}
	if found.Id != acc.Id {
		t.Errorf("Expected id %s, got %s", acc.Id, found.Id)
	}
}

func TestReadAccountNotFound(t *testing.T) {
	db := setupTestDB(t)

	err, found := db.ReadAccById(uuid.New())
	if found != nil {
		t.Errorf("Expected nil account, got %v", found)
	}
	if err == nil {
		t.Error("Expected error for missing account")
	}
}

func TestOutboxMessageLifecycle(t *testing.T) {
	db := setupTestDB(t)
	acc := createTestAccount(t, db, "alice")

	msg := &domain.OutboxMessage{
		Id:          "https://example.com/events/1/create",
		AccountId:   acc.Id,
		Type:        "Create",
		MessageTime: time.Now(),
		Message:     `{"type":"Create"}`,
		CreatedAt:   time.Now(),
	}
	if err := db.CreateOutboxMessage(msg); err != nil {
		t.Fatalf("Failed to create outbox message: %v", err)
	}

	err, found := db.ReadOutboxMessageById(msg.Id)
	if err != nil {
		t.Fatalf("Failed to read outbox message: %v", err)
	}
	if found.ProcessedAt != nil {
		t.Error("Expected new message to be pending")
	}
	if found.AccountId != acc.Id {
		t.Errorf("Expected account id %s, got %s", acc.Id, found.AccountId)
	}

	if err := db.MarkOutboxMessageProcessed(msg.Id, time.Now()); err != nil {
		t.Fatalf("Failed to mark message processed: %v", err)
	}

	err, found = db.ReadOutboxMessageById(msg.Id)
	if err != nil {
		t.Fatalf("Failed to re-read outbox message: %v", err)
	}
	if found.ProcessedAt == nil {
		t.Error("Expected message to be stamped processed")
	}
}

func TestReadPendingOutboxMessagesOrdering(t *testing.T) {
	db := setupTestDB(t)
	acc := createTestAccount(t, db, "alice")

	base := time.Now()
	// Inserted newest-first, must come back oldest-first
	for i := 3; i >= 1; i-- {
		msg := &domain.OutboxMessage{
			Id:          "https://example.com/events/" + uuid.NewString() + "/create",
			AccountId:   acc.Id,
			Type:        "Create",
			MessageTime: base.Add(time.Duration(i) * time.Minute),
			Message:     "{}",
			CreatedAt:   time.Now(),
		}
		if err := db.CreateOutboxMessage(msg); err != nil {
			t.Fatalf("Failed to create outbox message: %v", err)
		}
	}

	err, pending := db.ReadPendingOutboxMessages(100)
	if err != nil {
		t.Fatalf("Failed to read pending messages: %v", err)
	}
	if len(*pending) != 3 {
		t.Fatalf("Expected 3 pending messages, got %d", len(*pending))
	}
	for i := 1; i < len(*pending); i++ {
		if (*pending)[i].MessageTime.Before((*pending)[i-1].MessageTime) {
			t.Error("Expected pending messages ordered by message_time ascending")
		}
	}

	if err := db.MarkOutboxMessageProcessed((*pending)[0].Id, time.Now()); err != nil {
		t.Fatalf("Failed to mark message processed: %v", err)
	}

	err, pending = db.ReadPendingOutboxMessages(100)
	if err != nil {
		t.Fatalf("Failed to re-read pending messages: %v", err)
	}
	if len(*pending) != 2 {
		t.Errorf("Expected 2 pending messages after processing one, got %d", len(*pending))
	}
}

func TestInboxMessageDedupByPrimaryKey(t *testing.T) {
	db := setupTestDB(t)
	acc := createTestAccount(t, db, "alice")

	msg := &domain.InboxMessage{
		Id:          "https://remote.example/activities/1",
		AccountId:   acc.Id,
		Type:        "Follow",
		MessageTime: time.Now(),
		Message:     "{}",
		CreatedAt:   time.Now(),
	}
	if err := db.CreateInboxMessage(msg); err != nil {
		t.Fatalf("Failed to create inbox message: %v", err)
	}

	if err := db.CreateInboxMessage(msg); err == nil {
		t.Error("Expected primary key violation on duplicate inbox id")
	}

	err, found := db.ReadInboxMessageById(msg.Id)
	if err != nil {
		t.Fatalf("Failed to read inbox message: %v", err)
	}
	if found.Type != "Follow" {
		t.Errorf("Expected type 'Follow', got '%s'", found.Type)
	}
}

func TestFollowedAccountsDirectionFilter(t *testing.T) {
	db := setupTestDB(t)
	acc := createTestAccount(t, db, "alice")

	follower := &domain.FollowedAccount{
		Id:              uuid.New(),
		AccountId:       acc.Id,
		RemoteAccountId: "bob@remote.example",
		Direction:       domain.DirectionFollower,
		CreatedAt:       time.Now(),
	}
	following := &domain.FollowedAccount{
		Id:              uuid.New(),
		AccountId:       acc.Id,
		RemoteAccountId: "carol@remote.example",
		Direction:       domain.DirectionFollowing,
		CreatedAt:       time.Now(),
	}
	if err := db.CreateFollowedAccount(follower); err != nil {
		t.Fatalf("Failed to create follower: %v", err)
	}
	if err := db.CreateFollowedAccount(following); err != nil {
		t.Fatalf("Failed to create following: %v", err)
	}

	err, followers := db.ReadFollowersByAccountId(acc.Id)
	if err != nil {
		t.Fatalf("Failed to read followers: %v", err)
	}
	if len(*followers) != 1 {
		t.Fatalf("Expected 1 follower, got %d", len(*followers))
	}
	if (*followers)[0].RemoteAccountId != "bob@remote.example" {
		t.Errorf("Expected follower 'bob@remote.example', got '%s'", (*followers)[0].RemoteAccountId)
	}

	if err := db.DeleteFollowedAccount(acc.Id, "bob@remote.example", domain.DirectionFollower); err != nil {
		t.Fatalf("Failed to delete follower: %v", err)
	}

	err, followers = db.ReadFollowersByAccountId(acc.Id)
	if err != nil {
		t.Fatalf("Failed to re-read followers: %v", err)
	}
	if len(*followers) != 0 {
		t.Errorf("Expected no followers after delete, got %d", len(*followers))
	}
}

func TestEventActivityByEventId(t *testing.T) {
	db := setupTestDB(t)

	eventId := "https://example.com/events/77"
	for _, remote := range []string{"bob@remote.example", "carol@remote.example"} {
		observer := &domain.EventActivity{
			Id:              uuid.New(),
			EventId:         eventId,
			RemoteAccountId: remote,
			CreatedAt:       time.Now(),
		}
		if err := db.CreateEventActivity(observer); err != nil {
			t.Fatalf("Failed to create event activity: %v", err)
		}
	}

	err, observers := db.ReadEventActivityByEventId(eventId)
	if err != nil {
		t.Fatalf("Failed to read event activity: %v", err)
	}
	if len(*observers) != 2 {
		t.Errorf("Expected 2 observers, got %d", len(*observers))
	}

	err, observers = db.ReadEventActivityByEventId("https://example.com/events/none")
	if err != nil {
		t.Fatalf("Failed to read empty event activity: %v", err)
	}
	if len(*observers) != 0 {
		t.Errorf("Expected no observers for unknown event, got %d", len(*observers))
	}
}
