package main

import (
	"context"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/sos-safeguard-api/pkg/fieldcipher"
)

var (
	oldKey = strings.Repeat("ab", 32)
	newKey = base64.StdEncoding.EncodeToString([]byte("0123456789abcdef0123456789abcdef"))
)

func TestResealRowMovesEveryColumnToPrimaryKey(t *testing.T) {
	old := fieldcipher.New(oldKey, nil, nil)
	narrative, err := old.Encrypt("bruising reported after weekend visit")
	require.NoError(t, err)
	child, err := old.Encrypt("Budi")
	require.NoError(t, err)

	rotated := fieldcipher.New(newKey, []string{oldKey}, nil)
	row := &caseRow{ID: "case-1", Narrative: narrative, ChildName: &child}

	changed, err := resealRow(rotated, row)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.NotEqual(t, narrative, row.Narrative)
	assert.Nil(t, row.ConcernName)

	primaryOnly := fieldcipher.New(newKey, nil, nil)
	assert.Equal(t, "bruising reported after weekend visit", primaryOnly.Decrypt(row.Narrative))
	assert.Equal(t, "Budi", primaryOnly.Decrypt(*row.ChildName))

	changed, err = resealRow(rotated, row)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestResealRowRejectsUnknownKey(t *testing.T) {
	stranger := fieldcipher.New(oldKey, nil, nil)
	env, err := stranger.Encrypt("secret")
	require.NoError(t, err)

	row := &caseRow{ID: "case-1", Narrative: env}
	_, err = resealRow(fieldcipher.New(newKey, nil, nil), row)
	require.Error(t, err)
	assert.Equal(t, env, row.Narrative)
}

func TestRekeyCasesUpdatesChangedRows(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()
	sqlxDB := sqlx.NewDb(db, "sqlmock")

	old := fieldcipher.New(oldKey, nil, nil)
	stale, err := old.Encrypt("stale narrative")
	require.NoError(t, err)
	rotated := fieldcipher.New(newKey, []string{oldKey}, nil)
	fresh, err := rotated.Encrypt("fresh narrative")
	require.NoError(t, err)

	mock.ExpectQuery(`SELECT id, narrative, child_name, concern_name FROM cases`).
		WithArgs("", 2).
		WillReturnRows(sqlmock.NewRows([]string{"id", "narrative", "child_name", "concern_name"}).
			AddRow("case-1", stale, nil, nil).
			AddRow("case-2", fresh, nil, nil))
	mock.ExpectExec(`UPDATE cases SET narrative`).
		WithArgs("case-1", sqlmock.AnyArg(), nil, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT id, narrative, child_name, concern_name FROM cases`).
		WithArgs("case-2", 2).
		WillReturnRows(sqlmock.NewRows([]string{"id", "narrative", "child_name", "concern_name"}))

	rep, err := rekeyCases(context.Background(), sqlxDB, rotated, 2, false, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, report{Scanned: 2, Resealed: 1}, rep)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRekeyCasesDryRunWritesNothing(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()
	sqlxDB := sqlx.NewDb(db, "sqlmock")

	mock.ExpectQuery(`SELECT id, narrative`).
		WithArgs("", 200).
		WillReturnRows(sqlmock.NewRows([]string{"id", "narrative", "child_name", "concern_name"}).
			AddRow("case-1", "legacy plaintext", nil, nil))
	mock.ExpectQuery(`SELECT id, narrative`).
		WithArgs("case-1", 200).
		WillReturnRows(sqlmock.NewRows([]string{"id", "narrative", "child_name", "concern_name"}))

	rep, err := rekeyCases(context.Background(), sqlxDB, fieldcipher.New(newKey, nil, nil), 0, true, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Resealed)
	assert.NoError(t, mock.ExpectationsWereMet())
}
