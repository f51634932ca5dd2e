// Package store is the durable Account store.
// It is backed by GORM against SQLite rather than an ORM requiring a
// code-generation step, since no generated code can be produced
// without running a build-time codegen binary in this environment
// (see DESIGN.md).
package store

import (
	"encoding/json"
	"time"

	"github.com/antigravity-gateway/gateway/internal/domain"
)

// accountRecord is the GORM-persisted shape of domain.Account. Maps and
// slices are stored as JSON text columns since SQLite has no native
// JSON type in the driver GORM uses here.
type accountRecord struct {
	ID        int64  `gorm:"primaryKey;autoIncrement"`
	Email     string `gorm:"index"`
	Tier      string
	ProjectID string

	RefreshToken string
	AccessToken  string
	ExpiresAt    time.Time

	Enabled   bool `gorm:"index"`
	Forbidden bool `gorm:"index"`

	ConsecutiveFailures int
	DisplayOrder        int `gorm:"index"`
	LastUsedAt          time.Time

	QuotasJSON           string
	CustomErrorCodesJSON string
	TempUnschedUntil     *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (accountRecord) TableName() string { return "accounts" }

func toRecord(a *domain.Account) (*accountRecord, error) {
	quotasJSON, err := json.Marshal(a.Quotas)
	if err != nil {
		return nil, err
	}
	codesJSON, err := json.Marshal(a.CustomErrorCodes)
	if err != nil {
		return nil, err
	}
	return &accountRecord{
		ID:                   a.ID,
		Email:                a.Email,
		Tier:                 string(a.Tier),
		ProjectID:            a.ProjectID,
		RefreshToken:         a.RefreshToken,
		AccessToken:          a.AccessToken,
		ExpiresAt:            a.ExpiresAt,
		Enabled:              a.Enabled,
		Forbidden:            a.Forbidden,
		ConsecutiveFailures:  a.ConsecutiveFailures,
		DisplayOrder:         a.Order,
		LastUsedAt:           a.LastUsedAt,
		QuotasJSON:           string(quotasJSON),
		CustomErrorCodesJSON: string(codesJSON),
		TempUnschedUntil:     a.TempUnschedulableUntil,
	}, nil
}

func fromRecord(r *accountRecord) (*domain.Account, error) {
	a := &domain.Account{
		ID:                     r.ID,
		Email:                  r.Email,
		Tier:                   domain.Tier(r.Tier),
		ProjectID:              r.ProjectID,
		RefreshToken:           r.RefreshToken,
		AccessToken:            r.AccessToken,
		ExpiresAt:              r.ExpiresAt,
		Enabled:                r.Enabled,
		Forbidden:              r.Forbidden,
		ConsecutiveFailures:    r.ConsecutiveFailures,
		Order:                  r.DisplayOrder,
		LastUsedAt:             r.LastUsedAt,
		TempUnschedulableUntil: r.TempUnschedUntil,
	}
	if r.QuotasJSON != "" {
		if err := json.Unmarshal([]byte(r.QuotasJSON), &a.Quotas); err != nil {
			return nil, err
		}
	}
	if r.CustomErrorCodesJSON != "" {
		if err := json.Unmarshal([]byte(r.CustomErrorCodesJSON), &a.CustomErrorCodes); err != nil {
			return nil, err
		}
	}
	return a, nil
}
