package store

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// Account is the persisted record binding a JD account (cookie_user_id) to
// its last-known cookie and the container provisioned for it.
type Account struct {
	ID           uint64 `gorm:"primaryKey;autoIncrement"`
	TGUserID     string `gorm:"type:varchar(32);index;not null"`
	TGUsername   string `gorm:"type:varchar(64)"`
	Cookie       string `gorm:"type:varchar(512);uniqueIndex;not null"`
	CookieUserID string `gorm:"type:varchar(64);uniqueIndex;not null"`
	ContainerID  string `gorm:"type:varchar(128);uniqueIndex;not null"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (Account) TableName() string { return "accounts" }

type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

// SessionJob is one queued login session: created by the HTTP trigger
// handler, consumed by the worker.
type SessionJob struct {
	ID string `gorm:"primaryKey;size:26"` // ULID length

	RequesterID   string `gorm:"type:varchar(32);not null;index;index:uniq_job_idempo,unique,priority:1"`
	RequesterName string `gorm:"type:varchar(64)"`

	IdempotencyKey *string `gorm:"type:varchar(128);index:uniq_job_idempo,unique,priority:2"`

	Status JobStatus `gorm:"type:varchar(16);index;not null"`

	// Filled when succeeded
	ContainerID *string `gorm:"type:varchar(128)"`

	// Filled when failed
	Error *string `gorm:"type:text"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (SessionJob) TableName() string { return "session_jobs" }

func NewJobID() string {
	return ulid.Make().String()
}
