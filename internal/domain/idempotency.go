package domain

import "time"

// IdempotencyPending is the Status of a key whose first request is still
// being processed.
const IdempotencyPending = 0

// Idempotency represents the recorded response of a previously processed
// contact submission, keyed by the client-supplied Idempotency-Key. A replay
// returns the stored status and message without writing another backup file
// or sending another email.
type Idempotency struct {
	ID        string    `gorm:"type:TEXT NOT NULL;primaryKey"`
	Key       string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_idempotency_key"`
	Status    int       `gorm:"type:INTEGER NOT NULL"`
	Success   bool      `gorm:"type:BOOLEAN NOT NULL"`
	Message   string    `gorm:"type:TEXT NOT NULL"`
	CreatedAt time.Time `gorm:"type:DATETIME NOT NULL;autoCreateTime"`
	ExpiresAt time.Time `gorm:"type:DATETIME NOT NULL;index"`
}

// TableName implements the GORM tabler interface.
func (Idempotency) TableName() string { return "idempotency" }

// Pending reports whether the first request for this key has not finished.
func (i Idempotency) Pending() bool { return i.Status == IdempotencyPending }
