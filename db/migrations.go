package db

import (
	"database/sql"
	"log"
)

// SQL for the federation tables
const (
	// Outbox message log, append-only. processed_at NULL means pending.
	sqlCreateOutboxMessagesTable = `CREATE TABLE IF NOT EXISTS outbox_messages (
		id TEXT NOT NULL PRIMARY KEY,
		account_id TEXT NOT NULL,
		type TEXT NOT NULL,
		message_time TIMESTAMP NOT NULL,
		message TEXT NOT NULL,
		processed_at TIMESTAMP,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateOutboxMessagesIndices = `
		CREATE INDEX IF NOT EXISTS idx_outbox_messages_account_id ON outbox_messages(account_id);
		CREATE INDEX IF NOT EXISTS idx_outbox_messages_processed_at ON outbox_messages(processed_at);
		CREATE INDEX IF NOT EXISTS idx_outbox_messages_message_time ON outbox_messages(message_time);
	`

	// Inbox message log, deduplicated by activity id
	sqlCreateInboxMessagesTable = `CREATE TABLE IF NOT EXISTS inbox_messages (
		id TEXT NOT NULL PRIMARY KEY,
		account_id TEXT NOT NULL,
		type TEXT NOT NULL,
		message_time TIMESTAMP NOT NULL,
		message TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateInboxMessagesIndices = `
		CREATE INDEX IF NOT EXISTS idx_inbox_messages_account_id ON inbox_messages(account_id);
		CREATE INDEX IF NOT EXISTS idx_inbox_messages_created_at ON inbox_messages(created_at DESC);
	`

	// Follow relationships between local accounts and remote actor handles
	sqlCreateFollowedAccountsTable = `CREATE TABLE IF NOT EXISTS followed_accounts (
		id TEXT NOT NULL PRIMARY KEY,
		account_id TEXT NOT NULL,
		remote_account_id TEXT NOT NULL,
		direction TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(account_id, remote_account_id, direction)
	)`

	sqlCreateFollowedAccountsIndices = `
		CREATE INDEX IF NOT EXISTS idx_followed_accounts_account_id ON followed_accounts(account_id);
		CREATE INDEX IF NOT EXISTS idx_followed_accounts_direction ON followed_accounts(account_id, direction);
	`

	// Remote actors that previously engaged with a local event object
	sqlCreateEventActivityTable = `CREATE TABLE IF NOT EXISTS event_activity (
		id TEXT NOT NULL PRIMARY KEY,
		event_id TEXT NOT NULL,
		remote_account_id TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateEventActivityIndices = `
		CREATE INDEX IF NOT EXISTS idx_event_activity_event_id ON event_activity(event_id);
	`
)

// RunMigrations executes all database migrations
func (db *DB) RunMigrations() error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		// Create new tables
		if err := db.createTableIfNotExists(tx, sqlCreateOutboxMessagesTable, "outbox_messages"); err != nil {
			return err
		}
		if err := db.createTableIfNotExists(tx, sqlCreateInboxMessagesTable, "inbox_messages"); err != nil {
			return err
		}
		if err := db.createTableIfNotExists(tx, sqlCreateFollowedAccountsTable, "followed_accounts"); err != nil {
			return err
		}
		if err := db.createTableIfNotExists(tx, sqlCreateEventActivityTable, "event_activity"); err != nil {
			return err
		}

		// Create indices
		if _, err := tx.Exec(sqlCreateOutboxMessagesIndices); err != nil {
			log.Printf("Warning: Failed to create outbox_messages indices: %v", err)
		}
		if _, err := tx.Exec(sqlCreateInboxMessagesIndices); err != nil {
			log.Printf("Warning: Failed to create inbox_messages indices: %v", err)
		}
		if _, err := tx.Exec(sqlCreateFollowedAccountsIndices); err != nil {
			log.Printf("Warning: Failed to create followed_accounts indices: %v", err)
		}
		if _, err := tx.Exec(sqlCreateEventActivityIndices); err != nil {
			log.Printf("Warning: Failed to create event_activity indices: %v", err)
		}

		return nil
	})
}

// RunActivityPubMigrations runs the federation-specific migrations
func (db *DB) RunActivityPubMigrations() error {
	log.Println("Running ActivityPub migrations...")
	return db.RunMigrations()
}

func (db *DB) createTableIfNotExists(tx *sql.Tx, createSQL string, tableName string) error {
	_, err := tx.Exec(createSQL)
	if err != nil {
		log.Printf("Error creating table %s: %v", tableName, err)
		return err
	}
	log.Printf("Table %s created or already exists", tableName)
	return nil
}
