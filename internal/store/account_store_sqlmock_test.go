package store

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// setupMockStore wires an AccountStore to a sqlmock-controlled
// *sql.DB instead of a real SQLite file, for exercising error paths
// that are awkward to provoke against a real database.
func setupMockStore(t *testing.T) (*AccountStore, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })

	dialector := sqlite.Dialector{Conn: mockDB}
	gormDB, err := gorm.Open(dialector, &gorm.Config{})
	require.NoError(t, err)

	return &AccountStore{db: gormDB, locks: make(map[int64]*sync.Mutex)}, mock
}

func TestAccountStoreGetSurfacesQueryError(t *testing.T) {
	s, mock := setupMockStore(t)

	mock.ExpectQuery(`SELECT \* FROM .accounts.`).
		WillReturnError(sql.ErrConnDone)

	_, err := s.Get(context.Background(), 1)
	assert.ErrorIs(t, err, sql.ErrConnDone)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAccountStoreSetForbiddenSurfacesExecError(t *testing.T) {
	s, mock := setupMockStore(t)

	mock.ExpectExec(`UPDATE .accounts. SET`).
		WillReturnError(errors.New("disk full"))

	err := s.SetForbidden(context.Background(), 1, true)
	assert.ErrorContains(t, err, "disk full")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAccountStoreSetEnabledAffectsExpectedRow(t *testing.T) {
	s, mock := setupMockStore(t)

	mock.ExpectExec(`UPDATE .accounts. SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.SetEnabled(context.Background(), 7, false))
	assert.NoError(t, mock.ExpectationsWereMet())
}
