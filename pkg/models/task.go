package models

import (
	"database/sql"
	"time"
)

// TaskStatus status of an outreach task
type TaskStatus string

const (
	TaskRunning  TaskStatus = "running"
	TaskFinished TaskStatus = "finished"
)

// Task represents one outreach campaign run
type Task struct {
	ID                     int64          `db:"id"`
	AccountID              int64          `db:"account_id"`
	UserID                 int64          `db:"user_id"`
	TotalSellers           int            `db:"total_sellers"`
	ValidEmails            int            `db:"valid_emails"`
	SentEmails             int            `db:"sent_emails"`
	Status                 TaskStatus     `db:"status"`
	LogFilePath            sql.NullString `db:"log_file_path"`
	IncomingCheckerEnabled bool           `db:"incoming_checker_enabled"` // Snapshot of the account flag at launch
	CreatedAt              time.Time      `db:"created_at"`
}

// Item is one recipient entry of an uploaded batch
type Item struct {
	Title  string `json:"title"`
	Price  string `json:"price"`
	ImgURL string `json:"img_url"`
	Seller string `json:"seller"`
	AdLink string `json:"adlink"`
}

// LogItem is written once per recipient that passed the probe
type LogItem struct {
	ID     int64  `db:"id"`
	TaskID int64  `db:"task_id"`
	Email  string `db:"email"`
	Title  string `db:"title"`
	Price  string `db:"price"`
	ImgURL string `db:"img_url"`
	AdLink string `db:"adlink"`
	UserID int64  `db:"user_id"`
}
