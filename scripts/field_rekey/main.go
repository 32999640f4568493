package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/sos-safeguard-api/pkg/config"
	"github.com/noah-isme/sos-safeguard-api/pkg/database"
	"github.com/noah-isme/sos-safeguard-api/pkg/fieldcipher"
	"github.com/noah-isme/sos-safeguard-api/pkg/logger"
)

type caseRow struct {
	ID          string  `db:"id"`
	Narrative   string  `db:"narrative"`
	ChildName   *string `db:"child_name"`
	ConcernName *string `db:"concern_name"`
}

type resealer interface {
	Reseal(value string) (string, bool, error)
}

type report struct {
	Scanned  int
	Resealed int
	Failed   int
}

func main() {
	var (
		batchSize int
		dryRun    bool
		timeout   time.Duration
	)

	flag.IntVar(&batchSize, "batch", 200, "Rows read per batch")
	flag.BoolVar(&dryRun, "dry-run", false, "Report what would change without writing")
	flag.DurationVar(&timeout, "timeout", 30*time.Minute, "Overall run timeout")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if cfg.Crypto.FieldKey == "" {
		log.Fatal("FIELD_ENCRYPTION_KEY is required")
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer db.Close() //nolint:errcheck

	cipher := fieldcipher.New(cfg.Crypto.FieldKey, cfg.Crypto.PreviousFieldKeys, logr)

	rep, err := rekeyCases(ctx, db, cipher, batchSize, dryRun, logr)
	fmt.Printf("Field Rekey Report\n==================\nScanned: %d | Resealed: %d | Failed: %d | Dry run: %t\n",
		rep.Scanned, rep.Resealed, rep.Failed, dryRun)
	if err != nil {
		logr.Error("rekey aborted", zap.Error(err))
		os.Exit(1)
	}
	if rep.Failed > 0 {
		os.Exit(1)
	}
}

func rekeyCases(ctx context.Context, db *sqlx.DB, cipher resealer, batchSize int, dryRun bool, logr *zap.Logger) (report, error) {
	var rep report
	if batchSize <= 0 {
		batchSize = 200
	}
	cursor := ""
	for {
		var rows []caseRow
		err := db.SelectContext(ctx, &rows,
			`SELECT id, narrative, child_name, concern_name FROM cases WHERE id > $1 ORDER BY id LIMIT $2`,
			cursor, batchSize)
		if err != nil {
			return rep, fmt.Errorf("select cases after %q: %w", cursor, err)
		}
		if len(rows) == 0 {
			return rep, nil
		}
		for i := range rows {
			row := &rows[i]
			rep.Scanned++
			changed, err := resealRow(cipher, row)
			if err != nil {
				rep.Failed++
				logr.Warn("case cannot be resealed", zap.String("case_id", row.ID), zap.Error(err))
				continue
			}
			if !changed {
				continue
			}
			rep.Resealed++
			if dryRun {
				continue
			}
			if _, err := db.ExecContext(ctx,
				`UPDATE cases SET narrative = $2, child_name = $3, concern_name = $4 WHERE id = $1`,
				row.ID, row.Narrative, row.ChildName, row.ConcernName); err != nil {
				return rep, fmt.Errorf("update case %s: %w", row.ID, err)
			}
		}
		cursor = rows[len(rows)-1].ID
	}
}

// resealRow rewrites every sensitive column under the primary key. It reports whether any
// column changed and leaves row untouched on error.
func resealRow(cipher resealer, row *caseRow) (bool, error) {
	narrative, n, err := cipher.Reseal(row.Narrative)
	if err != nil {
		return false, fmt.Errorf("narrative: %w", err)
	}
	child, c, err := resealPtr(cipher, row.ChildName)
	if err != nil {
		return false, fmt.Errorf("child_name: %w", err)
	}
	concern, k, err := resealPtr(cipher, row.ConcernName)
	if err != nil {
		return false, fmt.Errorf("concern_name: %w", err)
	}
	row.Narrative, row.ChildName, row.ConcernName = narrative, child, concern
	return n || c || k, nil
}

func resealPtr(cipher resealer, value *string) (*string, bool, error) {
	if value == nil {
		return nil, false, nil
	}
	out, changed, err := cipher.Reseal(*value)
	if err != nil {
		return nil, false, err
	}
	return &out, changed, nil
}
