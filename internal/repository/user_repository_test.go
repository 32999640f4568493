package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sos-safeguard-api/internal/models"
)

func newMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	sqlxdb := sqlx.NewDb(db, "sqlmock")
	return sqlxdb, mock, func() {
		db.Close()
	}
}

var userRowColumns = []string{"id", "email", "password_hash", "full_name", "tier", "sub_role", "village_id", "granted_villages",
	"temp_tier", "temp_sub_role", "temp_role_expires_at", "active", "last_login", "created_at", "updated_at"}

func TestFindByEmailLowercases(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db, time.Second)

	now := time.Now()
	rows := sqlmock.NewRows(userRowColumns).
		AddRow("u1", "reviewer@sos.org", "hash", "Reviewer", "LEVEL2", "PSYCHOLOGIST", "village-a", "{village-b}",
			"LEVEL3", nil, now.Add(time.Hour), true, now, now, now)
	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE email = $1 LIMIT 1")).
		WithArgs("reviewer@sos.org").
		WillReturnRows(rows)

	user, err := repo.FindByEmail(context.Background(), "Reviewer@SOS.org")
	require.NoError(t, err)
	assert.Equal(t, models.TierReviewer, user.Tier)
	assert.Equal(t, []string{"village-b"}, []string(user.GrantedVillages))
	require.NotNil(t, user.TemporaryRole())
	assert.Equal(t, models.TierGovernance, user.TemporaryRole().Tier)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetTemporaryRoleClears(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db, time.Second)

	now := time.Now()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET temp_tier = $2")).
		WithArgs("u1", nil, nil, nil, now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.SetTemporaryRole(context.Background(), "u1", nil, now))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateRefreshToken(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db, time.Second)

	mock.ExpectExec("INSERT INTO refresh_tokens").WillReturnResult(sqlmock.NewResult(1, 1))

	err := repo.CreateRefreshToken(context.Background(), &models.RefreshToken{UserID: "u1", Token: "hash", ExpiresAt: time.Now()})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListUsersByTier(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db, time.Second)

	now := time.Now()
	tier := models.TierReviewer
	listRows := sqlmock.NewRows(userRowColumns).
		AddRow("u1", "a@sos.org", "hash", "A", "LEVEL2", "SOCIAL_WORKER", "village-a", "{}", nil, nil, nil, true, nil, now, now)
	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE 1=1 AND tier = $1 ORDER BY created_at DESC LIMIT 20 OFFSET 0")).
		WithArgs(tier).
		WillReturnRows(listRows)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM users WHERE 1=1 AND tier = $1")).
		WithArgs(tier).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	users, total, err := repo.List(context.Background(), models.UserFilter{Tier: &tier})
	require.NoError(t, err)
	assert.Len(t, users, 1)
	assert.Equal(t, 1, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecipientsBySubRoleScopesVillageOnlyWhenGiven(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db, time.Second)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE active = TRUE AND sub_role = $1 AND ($2 = '' OR village_id = $2")).
		WithArgs(models.SubRoleVillageDirector, "village-a").
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "email"}).AddRow("dir-a", "dir.a@sos.org"))
	mock.ExpectQuery(regexp.QuoteMeta("sub_role = $1")).
		WithArgs(models.SubRoleNationalOffice, "").
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "email"}).AddRow("nat-1", "national@sos.org"))

	directors, err := repo.RecipientsBySubRole(context.Background(), models.SubRoleVillageDirector, "village-a")
	require.NoError(t, err)
	assert.Equal(t, []models.Recipient{{UserID: "dir-a", Email: "dir.a@sos.org"}}, directors)

	national, err := repo.RecipientsBySubRole(context.Background(), models.SubRoleNationalOffice, "")
	require.NoError(t, err)
	assert.Equal(t, "nat-1", national[0].UserID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
