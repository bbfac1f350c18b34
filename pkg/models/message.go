package models

import (
	"database/sql"
	"time"
)

// IncomingMessage represents an inbound email seen by the inbox watcher
type IncomingMessage struct {
	ID          int64        `db:"id"`
	AccountID   int64        `db:"account_id"`
	MessageID   string       `db:"message_id"` // Provider Message-ID, dedup key
	FromEmail   string       `db:"from_email"`
	Subject     string       `db:"subject"`
	BodyPreview string       `db:"body_preview"`
	BodyFull    string       `db:"body_full"` // Cleaned body
	ReceivedAt  sql.NullTime `db:"received_at"`
	UserID      int64        `db:"user_id"`
}

// Direction of a conversation turn
type Direction string

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
)

// ConversationMessage is one turn of the thread with a counterpart address
type ConversationMessage struct {
	ID        int64          `db:"id"`
	AccountID int64          `db:"account_id"`
	Email     string         `db:"email"` // Counterpart address
	Direction Direction      `db:"direction"`
	Subject   string         `db:"subject"`
	Body      string         `db:"body"`
	AdLink    sql.NullString `db:"adlink"`
	CreatedAt time.Time      `db:"created_at"`
	MessageID sql.NullString `db:"message_id"`
	UserID    int64          `db:"user_id"`
}
