package postgres

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserRepo_GetUserByUsername(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewUserRepo(db)
	now := time.Now()

	columns := []string{"id", "email", "username", "password_hash", "role", "scopes", "created_at", "updated_at"}
	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE username = $1")).
		WithArgs("admin").
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("u-1", "admin@example.com", "admin", "$2a$10$hash", "admin", []byte(`{"policies.write":true}`), now, now))

	u, err := repo.GetUserByUsername(context.Background(), "admin")
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, "u-1", u.ID)
	assert.True(t, u.Scopes["policies.write"])

	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE username = $1")).
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows(columns))

	u, err = repo.GetUserByUsername(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Nil(t, u)

	assert.NoError(t, mock.ExpectationsWereMet())
}
