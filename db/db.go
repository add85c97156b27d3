package db

import (
	"context"
	"database/sql"

	"github.com/calodon/calodon/domain"
	"github.com/google/uuid"
	"log"
	"modernc.org/sqlite"
	sqlitelib "modernc.org/sqlite/lib"
	"time"
)

// DB is the database struct. Components receive an explicit handle at
// construction so tests can substitute their own.
type DB struct {
	db *sql.DB
}

const (
	//Accounts
	sqlCreateAccountsTable = `CREATE TABLE IF NOT EXISTS accounts(
                        id uuid NOT NULL PRIMARY KEY,
                        username varchar(100) NOT NULL,
                        domain varchar(255) NOT NULL,
                        display_name varchar(255),
                        summary text,
                        created_at timestamp default current_timestamp,
                        UNIQUE(username, domain)
                        )`
	sqlInsertAccount           = `INSERT INTO accounts(id, username, domain, display_name, summary, created_at) VALUES (?, ?, ?, ?, ?, ?)`
	sqlSelectAccountById       = `SELECT id, username, domain, display_name, summary, created_at FROM accounts WHERE id = ?`
	sqlSelectAccountByUsername = `SELECT id, username, domain, display_name, summary, created_at FROM accounts WHERE username = ? AND domain = ?`
)

func (db *DB) CreateAccount(acc *domain.Account) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertAccount,
			acc.Id.String(),
			acc.Username,
			acc.Domain,
			acc.DisplayName,
			acc.Summary,
			acc.CreatedAt,
		)
		return err
	})
}

func (db *DB) ReadAccById(id uuid.UUID) (error, *domain.Account) {
	row := db.db.QueryRow(sqlSelectAccountById, id.String())
	return scanAccount(row)
}

func (db *DB) ReadAccByUsername(username string, accountDomain string) (error, *domain.Account) {
	row := db.db.QueryRow(sqlSelectAccountByUsername, username, accountDomain)
	return scanAccount(row)
}

func scanAccount(row *sql.Row) (error, *domain.Account) {
	var acc domain.Account
	var idStr string
	err := row.Scan(&idStr, &acc.Username, &acc.Domain, &acc.DisplayName, &acc.Summary, &acc.CreatedAt)
	if err == sql.ErrNoRows {
		return err, nil
	}
	if err != nil {
		return err, nil
	}
	acc.Id, _ = uuid.Parse(idStr)
	return nil, &acc
}

// Open opens the database at the given path and runs the base schema setup
func Open(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// Configure connection pool for concurrent access
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(time.Hour)

	// Try to enable WAL2 mode, fall back to WAL if not supported
	var journalMode string
	err = sqlDB.QueryRow("PRAGMA journal_mode=WAL2").Scan(&journalMode)
	if err != nil || journalMode == "delete" {
		// WAL2 not supported, try regular WAL
		err = sqlDB.QueryRow("PRAGMA journal_mode=WAL").Scan(&journalMode)
		if err != nil {
			log.Printf("Warning: Failed to enable WAL mode: %v", err)
		} else {
			log.Printf("Database journal mode: %s (WAL2 not supported, using WAL)", journalMode)
		}
	} else {
		log.Printf("Database journal mode: %s", journalMode)
	}

	// Optimize PRAGMAs for the concurrent federation workload
	sqlDB.Exec("PRAGMA synchronous = NORMAL")      // Reduces fsync calls
	sqlDB.Exec("PRAGMA cache_size = -64000")       // 64MB cache per connection
	sqlDB.Exec("PRAGMA temp_store = MEMORY")       // Store temp tables in RAM
	sqlDB.Exec("PRAGMA busy_timeout = 5000")       // Wait up to 5s for locks
	sqlDB.Exec("PRAGMA foreign_keys = ON")         // Enable FK constraints
	sqlDB.Exec("PRAGMA auto_vacuum = INCREMENTAL") // Better performance than FULL

	log.Printf("Database initialized with connection pooling (max 25 connections)")

	database := &DB{db: sqlDB}

	if err := database.CreateDB(); err != nil {
		return nil, err
	}

	return database, nil
}

// Close closes the underlying connection pool
func (db *DB) Close() error {
	return db.db.Close()
}

// CreateDB creates the base schema
func (db *DB) CreateDB() error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlCreateAccountsTable)
		return err
	})
}

// wrapTransaction runs the given function within a transaction.
func (db *DB) wrapTransaction(f func(tx *sql.Tx) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		log.Printf("error starting transaction: %s", err)
		return err
	}
	for {
		err = f(tx)
		if err != nil {
			serr, ok := err.(*sqlite.Error)
			if ok && serr.Code() == sqlitelib.SQLITE_BUSY {
				continue
			}
			log.Printf("error in transaction: %s", err)
			return err
		}
		err = tx.Commit()
		if err != nil {
			log.Printf("error committing transaction: %s", err)
			return err
		}
		break
	}
	return nil
}

// Outbox message queries
const (
	sqlInsertOutboxMessage             = `INSERT INTO outbox_messages(id, account_id, type, message_time, message, processed_at, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`
	sqlSelectOutboxMessageById         = `SELECT id, account_id, type, message_time, message, processed_at, created_at FROM outbox_messages WHERE id = ?`
	sqlSelectPendingOutboxMessages     = `SELECT id, account_id, type, message_time, message, processed_at, created_at FROM outbox_messages WHERE processed_at IS NULL ORDER BY message_time ASC LIMIT ?`
	sqlSelectOutboxMessagesByAccountId = `SELECT id, account_id, type, message_time, message, processed_at, created_at FROM outbox_messages WHERE account_id = ? ORDER BY created_at DESC`
	sqlUpdateOutboxMessageProcessed    = `UPDATE outbox_messages SET processed_at = ? WHERE id = ? AND processed_at IS NULL`
)

func (db *DB) CreateOutboxMessage(msg *domain.OutboxMessage) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertOutboxMessage,
			msg.Id,
			msg.AccountId.String(),
			msg.Type,
			msg.MessageTime,
			msg.Message,
			nullableTime(msg.ProcessedAt),
			msg.CreatedAt,
		)
		return err
	})
}

func (db *DB) ReadOutboxMessageById(id string) (error, *domain.OutboxMessage) {
	row := db.db.QueryRow(sqlSelectOutboxMessageById, id)
	var msg domain.OutboxMessage
	var accountIdStr string
	var processedAt sql.NullTime
	err := row.Scan(&msg.Id, &accountIdStr, &msg.Type, &msg.MessageTime, &msg.Message, &processedAt, &msg.CreatedAt)
	if err == sql.ErrNoRows {
		return err, nil
	}
	if err != nil {
		return err, nil
	}
	msg.AccountId, _ = uuid.Parse(accountIdStr)
	if processedAt.Valid {
		msg.ProcessedAt = &processedAt.Time
	}
	return nil, &msg
}

func (db *DB) ReadPendingOutboxMessages(limit int) (error, *[]domain.OutboxMessage) {
	rows, err := db.db.Query(sqlSelectPendingOutboxMessages, limit)
	if err != nil {
		return err, nil
	}
	defer rows.Close()
	return scanOutboxMessages(rows)
}

func (db *DB) ReadOutboxMessagesByAccountId(accountId uuid.UUID) (error, *[]domain.OutboxMessage) {
	rows, err := db.db.Query(sqlSelectOutboxMessagesByAccountId, accountId.String())
	if err != nil {
		return err, nil
	}
	defer rows.Close()
	return scanOutboxMessages(rows)
}

func scanOutboxMessages(rows *sql.Rows) (error, *[]domain.OutboxMessage) {
	var messages []domain.OutboxMessage
	for rows.Next() {
		var msg domain.OutboxMessage
		var accountIdStr string
		var processedAt sql.NullTime
		if err := rows.Scan(&msg.Id, &accountIdStr, &msg.Type, &msg.MessageTime, &msg.Message, &processedAt, &msg.CreatedAt); err != nil {
			return err, &messages
		}
		msg.AccountId, _ = uuid.Parse(accountIdStr)
		if processedAt.Valid {
			msg.ProcessedAt = &processedAt.Time
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return err, &messages
	}
	return nil, &messages
}

// MarkOutboxMessageProcessed stamps processed_at on a pending message. The
// guard on processed_at IS NULL keeps the transition one-way even when the
// event-triggered and batch paths race.
func (db *DB) MarkOutboxMessageProcessed(id string, processedAt time.Time) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateOutboxMessageProcessed, processedAt, id)
		return err
	})
}

// Inbox message queries
const (
	sqlInsertInboxMessage             = `INSERT INTO inbox_messages(id, account_id, type, message_time, message, created_at) VALUES (?, ?, ?, ?, ?, ?)`
	sqlSelectInboxMessageById         = `SELECT id, account_id, type, message_time, message, created_at FROM inbox_messages WHERE id = ?`
	sqlSelectInboxMessagesByAccountId = `SELECT id, account_id, type, message_time, message, created_at FROM inbox_messages WHERE account_id = ? ORDER BY created_at DESC`
)

func (db *DB) CreateInboxMessage(msg *domain.InboxMessage) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertInboxMessage,
			msg.Id,
			msg.AccountId.String(),
			msg.Type,
			msg.MessageTime,
			msg.Message,
			msg.CreatedAt,
		)
		return err
	})
}

func (db *DB) ReadInboxMessageById(id string) (error, *domain.InboxMessage) {
	row := db.db.QueryRow(sqlSelectInboxMessageById, id)
	var msg domain.InboxMessage
	var accountIdStr string
	err := row.Scan(&msg.Id, &accountIdStr, &msg.Type, &msg.MessageTime, &msg.Message, &msg.CreatedAt)
	if err == sql.ErrNoRows {
		return err, nil
	}
	if err != nil {
		return err, nil
	}
	msg.AccountId, _ = uuid.Parse(accountIdStr)
	return nil, &msg
}

func (db *DB) ReadInboxMessagesByAccountId(accountId uuid.UUID) (error, *[]domain.InboxMessage) {
	rows, err := db.db.Query(sqlSelectInboxMessagesByAccountId, accountId.String())
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var messages []domain.InboxMessage
	for rows.Next() {
		var msg domain.InboxMessage
		var accountIdStr string
		if err := rows.Scan(&msg.Id, &accountIdStr, &msg.Type, &msg.MessageTime, &msg.Message, &msg.CreatedAt); err != nil {
			return err, &messages
		}
		msg.AccountId, _ = uuid.Parse(accountIdStr)
		messages = append(messages, msg)
	}
	if err = rows.Err(); err != nil {
		return err, &messages
	}
	return nil, &messages
}

// Followed account queries
const (
	sqlInsertFollowedAccount      = `INSERT INTO followed_accounts(id, account_id, remote_account_id, direction, created_at) VALUES (?, ?, ?, ?, ?)`
	sqlSelectFollowersByAccountId = `SELECT id, account_id, remote_account_id, direction, created_at FROM followed_accounts WHERE account_id = ? AND direction = ?`
	sqlDeleteFollowedAccount      = `DELETE FROM followed_accounts WHERE account_id = ? AND remote_account_id = ? AND direction = ?`
)

func (db *DB) CreateFollowedAccount(follow *domain.FollowedAccount) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertFollowedAccount,
			follow.Id.String(),
			follow.AccountId.String(),
			follow.RemoteAccountId,
			follow.Direction,
			follow.CreatedAt,
		)
		return err
	})
}

func (db *DB) ReadFollowersByAccountId(accountId uuid.UUID) (error, *[]domain.FollowedAccount) {
	rows, err := db.db.Query(sqlSelectFollowersByAccountId, accountId.String(), domain.DirectionFollower)
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var followers []domain.FollowedAccount
	for rows.Next() {
		var follow domain.FollowedAccount
		var idStr, accountIdStr string
		if err := rows.Scan(&idStr, &accountIdStr, &follow.RemoteAccountId, &follow.Direction, &follow.CreatedAt); err != nil {
			return err, &followers
		}
		follow.Id, _ = uuid.Parse(idStr)
		follow.AccountId, _ = uuid.Parse(accountIdStr)
		followers = append(followers, follow)
	}
	if err = rows.Err(); err != nil {
		return err, &followers
	}
	return nil, &followers
}

func (db *DB) DeleteFollowedAccount(accountId uuid.UUID, remoteAccountId string, direction string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteFollowedAccount, accountId.String(), remoteAccountId, direction)
		return err
	})
}

// Event activity queries
const (
	sqlInsertEventActivity          = `INSERT INTO event_activity(id, event_id, remote_account_id, created_at) VALUES (?, ?, ?, ?)`
	sqlSelectEventActivityByEventId = `SELECT id, event_id, remote_account_id, created_at FROM event_activity WHERE event_id = ?`
)

func (db *DB) CreateEventActivity(observer *domain.EventActivity) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertEventActivity,
			observer.Id.String(),
			observer.EventId,
			observer.RemoteAccountId,
			observer.CreatedAt,
		)
		return err
	})
}

func (db *DB) ReadEventActivityByEventId(eventId string) (error, *[]domain.EventActivity) {
	rows, err := db.db.Query(sqlSelectEventActivityByEventId, eventId)
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var observers []domain.EventActivity
	for rows.Next() {
		var observer domain.EventActivity
		var idStr string
		if err := rows.Scan(&idStr, &observer.EventId, &observer.RemoteAccountId, &observer.CreatedAt); err != nil {
			return err, &observers
		}
		observer.Id, _ = uuid.Parse(idStr)
		observers = append(observers, observer)
	}
	if err = rows.Err(); err != nil {
		return err, &observers
	}
	return nil, &observers
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}
