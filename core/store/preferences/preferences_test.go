package preferences

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

func newMock(t *testing.T) (*Repository, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	db, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      conn,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{})
	require.NoError(t, err)

	return New(db), mock
}

func TestRepository_ForbiddenProducts(t *testing.T) {
	repo, mock := newMock(t)

	mock.ExpectQuery(`SELECT .*Product.*title.* FROM .*ProductsInProhibited.* JOIN Product ON .* WHERE ProductsInProhibited\.id_user = \?`).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"title"}).AddRow("Peanut").AddRow("Milk"))

	got, err := repo.ForbiddenProducts(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, []string{"Peanut", "Milk"}, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_Preferences(t *testing.T) {
	repo, mock := newMock(t)

	mock.ExpectQuery(`SELECT .* FROM .*User.* LEFT JOIN CookingTime .* WHERE User\.id_user = \?`).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"cooking_time", "difficulty", "calorie_level"}).
			AddRow("30 min", "easy", ""))

	got, err := repo.Preferences(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, Preferences{CookingTime: "30 min", Difficulty: "easy"}, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_PreferencesUnknownUser(t *testing.T) {
	repo, mock := newMock(t)

	mock.ExpectQuery(`SELECT .* FROM .*User`).
		WithArgs(int64(404)).
		WillReturnRows(sqlmock.NewRows([]string{"cooking_time", "difficulty", "calorie_level"}))

	_, err := repo.Preferences(context.Background(), 404)
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestRepository_Ping(t *testing.T) {
	conn, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	db, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      conn,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{DisableAutomaticPing: true})
	require.NoError(t, err)
	repo := New(db)

	mock.ExpectPing()
	assert.NoError(t, repo.Ping(context.Background()))

	mock.ExpectPing().WillReturnError(errors.New("server has gone away"))
	assert.EqualError(t, repo.Ping(context.Background()), "server has gone away")

	assert.NoError(t, mock.ExpectationsWereMet())
}
