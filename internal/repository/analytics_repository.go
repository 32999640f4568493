package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sos-safeguard-api/internal/models"
	"github.com/noah-isme/sos-safeguard-api/pkg/database"
)

// AnalyticsRepository exposes read-optimised aggregate queries. It returns counts only and
// never selects case content.
type AnalyticsRepository struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewAnalyticsRepository instantiates the repository.
func NewAnalyticsRepository(db *sqlx.DB, timeout time.Duration) *AnalyticsRepository {
	return &AnalyticsRepository{db: db, timeout: timeout}
}

// CaseCounts groups cases by village, status, urgency and category.
func (r *AnalyticsRepository) CaseCounts(ctx context.Context, filter models.AnalyticsFilter) ([]models.CaseCountRow, error) {
	ctx, cancel := database.WithTimeout(ctx, r.timeout)
	defer cancel()

	var builder strings.Builder
	builder.WriteString(`SELECT c.village_id, c.status, c.urgency, c.category, COUNT(*) AS total FROM cases c WHERE 1=1`)
	args := appendAnalyticsFilter(&builder, filter, nil)
	builder.WriteString(" GROUP BY c.village_id, c.status, c.urgency, c.category ORDER BY c.village_id")

	var rows []models.CaseCountRow
	if err := r.db.SelectContext(ctx, &rows, builder.String(), args...); err != nil {
		return nil, fmt.Errorf("query case counts: %w", err)
	}
	return rows, nil
}

// PenaltyTotals sums recorded penalties per village and stage.
func (r *AnalyticsRepository) PenaltyTotals(ctx context.Context, filter models.AnalyticsFilter) ([]models.PenaltyTotalRow, error) {
	ctx, cancel := database.WithTimeout(ctx, r.timeout)
	defer cancel()

	var builder strings.Builder
	builder.WriteString(`SELECT c.village_id, p->>'stage' AS stage, COUNT(*) AS penalties,
        COALESCE(SUM((p->>'delayHours')::numeric), 0) AS delay_hours
        FROM workflows w
        JOIN cases c ON c.id = w.case_id
        CROSS JOIN LATERAL jsonb_array_elements(COALESCE(w.penalties, '[]'::jsonb)) AS p
        WHERE 1=1`)
	args := appendAnalyticsFilter(&builder, filter, nil)
	builder.WriteString(" GROUP BY c.village_id, p->>'stage' ORDER BY c.village_id")

	var rows []models.PenaltyTotalRow
	if err := r.db.SelectContext(ctx, &rows, builder.String(), args...); err != nil {
		return nil, fmt.Errorf("query penalty totals: %w", err)
	}
	return rows, nil
}

func appendAnalyticsFilter(builder *strings.Builder, filter models.AnalyticsFilter, args []interface{}) []interface{} {
	if filter.VillageID != "" {
		args = append(args, filter.VillageID)
		builder.WriteString(fmt.Sprintf(" AND c.village_id = $%d", len(args)))
	}
	if filter.From != nil {
		args = append(args, *filter.From)
		builder.WriteString(fmt.Sprintf(" AND c.created_at >= $%d", len(args)))
	}
	if filter.To != nil {
		args = append(args, *filter.To)
		builder.WriteString(fmt.Sprintf(" AND c.created_at <= $%d", len(args)))
	}
	return args
}
