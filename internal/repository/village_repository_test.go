package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sos-safeguard-api/internal/models"
)

var villageRowColumns = []string{"id", "name", "region", "location", "director", "programs", "created_at", "updated_at"}

func TestVillageRepositoryFindByID(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewVillageRepository(db, time.Second)

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("FROM villages WHERE id = $1")).
		WithArgs("village-a").
		WillReturnRows(sqlmock.NewRows(villageRowColumns).
			AddRow("village-a", "Akouda", "Sousse", nil, "Amel", "{FAMILY,YOUTH}", now, nil))

	village, err := repo.FindByID(context.Background(), "village-a")
	require.NoError(t, err)
	assert.Equal(t, "Akouda", village.Name)
	assert.Equal(t, []string{"FAMILY", "YOUTH"}, []string(village.Programs))
	assert.Nil(t, village.UpdatedAt)

	mock.ExpectQuery(regexp.QuoteMeta("FROM villages WHERE id = $1")).
		WithArgs("nowhere").
		WillReturnError(sql.ErrNoRows)
	_, err = repo.FindByID(context.Background(), "nowhere")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestVillageRepositoryUpdateMissingRow(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewVillageRepository(db, time.Second)

	now := time.Now()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE villages SET name =")).WillReturnResult(sqlmock.NewResult(0, 0))
	err := repo.Update(context.Background(), &models.Village{ID: "gone", Name: "Gone", UpdatedAt: &now})
	assert.ErrorIs(t, err, sql.ErrNoRows)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE villages SET name =")).WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Update(context.Background(), &models.Village{ID: "village-a", Name: "Akouda", UpdatedAt: &now}))
	assert.NoError(t, mock.ExpectationsWereMet())
}
