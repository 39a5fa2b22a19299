package profile

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/classtrack/billing/tier"

	"github.com/google/uuid"
	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Manager handles the database operations relating to billing Profiles and
// their audit Events
type Manager struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewManager returns a new Manager for billing profiles
func NewManager(logger *zap.Logger, db *gorm.DB) (*Manager, error) {
	if err := db.AutoMigrate(&Profile{}, &Event{}); err != nil {
		return nil, extErrors.Wrap(err, "Cannot initialize profile.Manager")
	}
	return &Manager{
		db:     db,
		logger: logger,
	}, nil
}

// UpsertResult reports what a guarded upsert did
type UpsertResult struct {
	Applied  bool     // false when the write was rejected as stale
	Previous *Profile // the row as it was before the write, nil on first creation
}

// Upsert writes the profile with last-write-wins semantics, guarded by the
// provider event time: a write carrying an event time older than the stored
// LastEventAt is rejected, so an out-of-order "active" delivery cannot
// resurrect a profile a newer "deleted" delivery already cleared. The
// compare-and-write runs in a serializable transaction since concurrent
// webhook deliveries for the same user are not otherwise serialized.
func (m *Manager) Upsert(ctx context.Context, p *Profile, eventAt time.Time) (*UpsertResult, error) {
	res := &UpsertResult{}
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing Profile
		lookup := tx.First(&existing, "email = ?", p.Email)
		if lookup.Error != nil && !errors.Is(lookup.Error, gorm.ErrRecordNotFound) {
			return lookup.Error
		}
		if lookup.Error == nil {
			prev := existing
			res.Previous = &prev
			if eventAt.Before(existing.LastEventAt) {
				return nil
			}
		}
		p.LastEventAt = eventAt
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "email"}},
			UpdateAll: true,
		}).Create(p).Error; err != nil {
			return err
		}
		res.Applied = true
		return nil
	}, &sql.TxOptions{
		Isolation: sql.LevelSerializable,
	})
	if err != nil {
		m.logger.Error("Unable to upsert billing profile",
			zap.String("Email", p.Email),
			zap.Error(err),
		)
		return nil, extErrors.Wrap(err, "Cannot upsert billing profile")
	}
	return res, nil
}

// GetByEmail will try to return the billing profile by email address
func (m *Manager) GetByEmail(ctx context.Context, email string) (*Profile, error) {
	var p Profile

	result := m.db.WithContext(ctx).First(&p, "email = ?", email)

	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}

	if result.Error != nil {
		m.logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot get billing profile by email")
	}

	return &p, nil
}

// RecordEvent appends one audit row. Best effort relative to the profile
// upsert: the two writes are independent.
func (m *Manager) RecordEvent(ctx context.Context, e *Event) error {
	if len(e.ID) == 0 {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	result := m.db.WithContext(ctx).Create(e)
	if result.Error != nil {
		m.logger.Error("Unable to record subscription event",
			zap.String("Email", e.Email),
			zap.String("EventType", e.EventType),
			zap.Error(result.Error),
		)
		return extErrors.Wrap(result.Error, "Cannot record subscription event")
	}
	return nil
}

// ListExpired returns profiles still granting a tier whose paid period has
// already ended. These are candidates for the expiry sweeper: the provider
// reports cancel_at_period_end subscriptions as active until the period ends,
// so nothing else re-checks them.
func (m *Manager) ListExpired(ctx context.Context, now time.Time, limit int) ([]Profile, error) {
	baseQuery := m.db.WithContext(ctx).
		Where("status IN ?", []tier.Status{tier.StatusActive, tier.StatusCancelled, tier.StatusPastDue}).
		Where("period_end_at IS NOT NULL AND period_end_at < ?", now).
		Order("period_end_at asc")
	if limit > 0 {
		baseQuery = baseQuery.Limit(limit)
	}

	results := make([]Profile, 0, 16)
	result := baseQuery.Find(&results)

	if result.Error != nil {
		m.logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot list expired billing profiles")
	}
	return results, nil
}
