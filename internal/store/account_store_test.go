package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antigravity-gateway/gateway/internal/domain"
)

func newTestStore(t *testing.T) *AccountStore {
	t.Helper()
	s, err := Open("file:" + t.Name() + "?mode=memory&cache=shared")
	require.NoError(t, err)
	return s
}

func TestAccountStoreInsertGetUpdateRemove(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	a := &domain.Account{
		Email:   "a@example.com",
		Tier:    domain.TierPro,
		Enabled: true,
		Quotas: map[string]domain.ModelQuota{
			"gemini-3-pro-high": {Remaining: 10},
		},
	}
	require.NoError(t, s.Insert(ctx, a))
	assert.NotZero(t, a.ID)

	got, err := s.Get(ctx, a.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "a@example.com", got.Email)
	assert.Equal(t, int64(10), got.Quotas["gemini-3-pro-high"].Remaining)

	got.Email = "b@example.com"
	require.NoError(t, s.Update(ctx, got))

	got2, err := s.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "b@example.com", got2.Email)

	require.NoError(t, s.Remove(ctx, a.ID))
	got3, err := s.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Nil(t, got3)
}

func TestAccountStoreSetters(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	a := &domain.Account{Email: "c@example.com", Enabled: true}
	require.NoError(t, s.Insert(ctx, a))

	require.NoError(t, s.SetForbidden(ctx, a.ID, true))
	require.NoError(t, s.SetEnabled(ctx, a.ID, false))
	require.NoError(t, s.SetOrder(ctx, a.ID, 5))

	got, err := s.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, got.Forbidden)
	assert.False(t, got.Enabled)
	assert.Equal(t, 5, got.Order)
}

func TestAccountStoreListOrdersByDisplayOrder(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for i, order := range []int{3, 1, 2} {
		a := &domain.Account{Email: "acct", Order: order}
		require.NoError(t, s.Insert(ctx, a))
		require.NoError(t, s.SetOrder(ctx, a.ID, order))
		_ = i
	}

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, 1, list[0].Order)
	assert.Equal(t, 2, list[1].Order)
	assert.Equal(t, 3, list[2].Order)
}
