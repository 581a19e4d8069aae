// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository helpers for the Idempotency
// model used to replay retried contact submissions without re-sending mail.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-venue-backend/internal/domain"
)

var (
	// ErrNotFound is returned when no live record matches.
	ErrNotFound = errors.New("not found")

	// ErrDuplicate indicates that an idempotency record already exists for
	// the given key.
	ErrDuplicate = errors.New("duplicate")
)

// GetIdempotency returns a non-expired record for key or ErrNotFound.
func GetIdempotency(ctx context.Context, db *gorm.DB, key string, now time.Time) (*domain.Idempotency, error) {
	if strings.TrimSpace(key) == "" {
		return nil, ErrNotFound
	}
	var rec domain.Idempotency
	err := db.WithContext(ctx).
		Where("key = ? AND expires_at > ?", key, now).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// CreateIdempotency stores the response for key and returns ErrDuplicate on
// unique violation.
//
// An expired row for the same key is removed first so the key can be reused
// once its TTL has passed.
func CreateIdempotency(ctx context.Context, db *gorm.DB, key string, status int, success bool, message string, ttl time.Duration) (*domain.Idempotency, error) {
	now := time.Now().UTC()
	rec := &domain.Idempotency{
		ID:        uuid.NewString(),
		Key:       key,
		Status:    status,
		Success:   success,
		Message:   message,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("key = ? AND expires_at <= ?", key, now).Delete(&domain.Idempotency{}).Error; err != nil {
			return err
		}
		return tx.Create(rec).Error
	})
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return rec, nil
}

// ReserveIdempotency claims key with a pending record that lives for ttl.
// It returns ErrDuplicate while another live record holds the key, so only
// one request per key runs the submission pipeline.
func ReserveIdempotency(ctx context.Context, db *gorm.DB, key string, ttl time.Duration) error {
	_, err := CreateIdempotency(ctx, db, key, domain.IdempotencyPending, false, "", ttl)
	return err
}

// CompleteIdempotency stores the final response on key's record and extends
// it to ttl. When no record exists (the reservation failed or expired) one is
// created, which may return ErrDuplicate if another request won the key.
func CompleteIdempotency(ctx context.Context, db *gorm.DB, key string, status int, success bool, message string, ttl time.Duration) error {
	res := db.WithContext(ctx).
		Model(&domain.Idempotency{}).
		Where("key = ?", key).
		Updates(map[string]any{
			"status":     status,
			"success":    success,
			"message":    message,
			"expires_at": time.Now().UTC().Add(ttl),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}
	_, err := CreateIdempotency(ctx, db, key, status, success, message, ttl)
	return err
}

// ReleaseIdempotency drops a pending reservation so the key can be used
// again. Completed records are left alone.
func ReleaseIdempotency(ctx context.Context, db *gorm.DB, key string) error {
	return db.WithContext(ctx).
		Where("key = ? AND status = ?", key, domain.IdempotencyPending).
		Delete(&domain.Idempotency{}).Error
}

// PurgeExpiredIdempotency deletes every record whose TTL has elapsed and
// returns how many rows were removed.
func PurgeExpiredIdempotency(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).Where("expires_at <= ?", now).Delete(&domain.Idempotency{})
	return res.RowsAffected, res.Error
}

// glebarez/sqlite often returns plain-text errors for UNIQUE violations.
func isUniqueViolation(err error) bool {
	low := strings.ToLower(err.Error())
	return errors.Is(err, gorm.ErrDuplicatedKey) ||
		strings.Contains(low, "unique constraint failed") ||
		strings.Contains(low, "constraint failed: unique")
}
