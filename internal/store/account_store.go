package store

import (
	"context"
	"fmt"
	"sync"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/antigravity-gateway/gateway/internal/domain"
)

// AccountStore exposes list/get/insert/update/remove
// plus the three focused mutators the rate-limit tracker and scheduler
// need (set_forbidden, set_enabled, set_order). All operations are
// atomic with respect to concurrent readers; reads never block on a
// write longer than a single lock acquisition, since writes are
// serialized per-account rather than behind one global lock.
type AccountStore struct {
	db *gorm.DB

	// locksMu guards the per-account lock map itself, not account data.
	locksMu sync.Mutex
	locks   map[int64]*sync.Mutex
}

// Open opens (creating if necessary) the SQLite-backed account store at
// dsn and migrates the schema.
func Open(dsn string) (*AccountStore, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	if err := db.AutoMigrate(&accountRecord{}); err != nil {
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return &AccountStore{db: db, locks: make(map[int64]*sync.Mutex)}, nil
}

func (s *AccountStore) lockFor(id int64) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

// List returns every account ordered by DisplayOrder.
func (s *AccountStore) List(ctx context.Context) ([]*domain.Account, error) {
	var records []accountRecord
	if err := s.db.WithContext(ctx).Order("display_order asc").Find(&records).Error; err != nil {
		return nil, err
	}
	out := make([]*domain.Account, 0, len(records))
	for i := range records {
		a, err := fromRecord(&records[i])
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// Get returns a single account by id, or (nil, nil) if it does not exist.
func (s *AccountStore) Get(ctx context.Context, id int64) (*domain.Account, error) {
	var rec accountRecord
	err := s.db.WithContext(ctx).First(&rec, id).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return fromRecord(&rec)
}

// Insert persists a new account, assigning its ID.
func (s *AccountStore) Insert(ctx context.Context, a *domain.Account) error {
	rec, err := toRecord(a)
	if err != nil {
		return err
	}
	rec.ID = 0
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return err
	}
	a.ID = rec.ID
	return nil
}

// Update persists a full overwrite of an existing account's mutable
// fields. Serialized per-account so concurrent updates to the same
// account cannot interleave.
func (s *AccountStore) Update(ctx context.Context, a *domain.Account) error {
	l := s.lockFor(a.ID)
	l.Lock()
	defer l.Unlock()

	rec, err := toRecord(a)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Model(&accountRecord{}).Where("id = ?", a.ID).Updates(rec).Error
}

// Remove deletes an account permanently (user action).
func (s *AccountStore) Remove(ctx context.Context, id int64) error {
	l := s.lockFor(id)
	l.Lock()
	defer l.Unlock()
	return s.db.WithContext(ctx).Delete(&accountRecord{}, id).Error
}

// SetForbidden flips the server-derived forbidden flag, set on a hard
// 403 or revoked refresh token.
func (s *AccountStore) SetForbidden(ctx context.Context, id int64, forbidden bool) error {
	l := s.lockFor(id)
	l.Lock()
	defer l.Unlock()
	return s.db.WithContext(ctx).Model(&accountRecord{}).Where("id = ?", id).
		Update("forbidden", forbidden).Error
}

// SetEnabled flips the user-controlled enabled flag.
func (s *AccountStore) SetEnabled(ctx context.Context, id int64, enabled bool) error {
	l := s.lockFor(id)
	l.Lock()
	defer l.Unlock()
	return s.db.WithContext(ctx).Model(&accountRecord{}).Where("id = ?", id).
		Update("enabled", enabled).Error
}

// SetOrder updates the user-defined display ordering used as a
// scheduler tiebreaker.
func (s *AccountStore) SetOrder(ctx context.Context, id int64, rank int) error {
	l := s.lockFor(id)
	l.Lock()
	defer l.Unlock()
	return s.db.WithContext(ctx).Model(&accountRecord{}).Where("id = ?", id).
		Update("display_order", rank).Error
}
