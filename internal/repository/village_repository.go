package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/sos-safeguard-api/internal/models"
	"github.com/noah-isme/sos-safeguard-api/pkg/database"
)

const villageColumns = `id, name, region, location, director, programs, created_at, updated_at`

// VillageRepository manages the village registry.
type VillageRepository struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewVillageRepository constructs the repository.
func NewVillageRepository(db *sqlx.DB, timeout time.Duration) *VillageRepository {
	return &VillageRepository{db: db, timeout: timeout}
}

// List returns all villages ordered by name.
func (r *VillageRepository) List(ctx context.Context) ([]models.Village, error) {
	ctx, cancel := database.WithTimeout(ctx, r.timeout)
	defer cancel()

	var out []models.Village
	if err := r.db.SelectContext(ctx, &out, `SELECT `+villageColumns+` FROM villages ORDER BY name ASC`); err != nil {
		return nil, fmt.Errorf("list villages: %w", err)
	}
	return out, nil
}

// FindByID loads one village.
func (r *VillageRepository) FindByID(ctx context.Context, id string) (*models.Village, error) {
	ctx, cancel := database.WithTimeout(ctx, r.timeout)
	defer cancel()

	var v models.Village
	if err := r.db.GetContext(ctx, &v, `SELECT `+villageColumns+` FROM villages WHERE id = $1`, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("get village: %w", err)
	}
	return &v, nil
}

// Create inserts a village.
func (r *VillageRepository) Create(ctx context.Context, v *models.Village) error {
	ctx, cancel := database.WithTimeout(ctx, r.timeout)
	defer cancel()

	const query = `INSERT INTO villages (id, name, region, location, director, programs, created_at)
        VALUES (:id, :name, :region, :location, :director, :programs, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, v); err != nil {
		return fmt.Errorf("insert village: %w", err)
	}
	return nil
}

// Update overwrites the editable fields of a village. A missing id yields sql.ErrNoRows.
func (r *VillageRepository) Update(ctx context.Context, v *models.Village) error {
	ctx, cancel := database.WithTimeout(ctx, r.timeout)
	defer cancel()

	const query = `UPDATE villages SET name = :name, region = :region, location = :location, director = :director,
        programs = :programs, updated_at = :updated_at WHERE id = :id`
	res, err := r.db.NamedExecContext(ctx, query, v)
	if err != nil {
		return fmt.Errorf("update village: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update village rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// MissingIDs returns the ids from ids that do not exist.
func (r *VillageRepository) MissingIDs(ctx context.Context, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	ctx, cancel := database.WithTimeout(ctx, r.timeout)
	defer cancel()

	var found []string
	if err := r.db.SelectContext(ctx, &found, `SELECT id FROM villages WHERE id = ANY($1)`, pq.StringArray(ids)); err != nil {
		return nil, fmt.Errorf("lookup villages: %w", err)
	}
	known := make(map[string]struct{}, len(found))
	for _, id := range found {
		known[id] = struct{}{}
	}
	var missing []string
	for _, id := range ids {
		if _, ok := known[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing, nil
}
