package service

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/sos-safeguard-api/internal/models"
	appErrors "github.com/noah-isme/sos-safeguard-api/pkg/errors"
)

// AnalyticsRepository describes the aggregate queries required by AnalyticsService.
type AnalyticsRepository interface {
	CaseCounts(ctx context.Context, filter models.AnalyticsFilter) ([]models.CaseCountRow, error)
	PenaltyTotals(ctx context.Context, filter models.AnalyticsFilter) ([]models.PenaltyTotalRow, error)
}

type villageReader interface {
	List(ctx context.Context) ([]models.Village, error)
	FindByID(ctx context.Context, id string) (*models.Village, error)
}

// AnalyticsConfig sets the cache lifetimes of the aggregate views.
type AnalyticsConfig struct {
	OverviewTTL time.Duration
	RatingsTTL  time.Duration
}

// AnalyticsService serves governance dashboards. Only aggregate counts pass through it and
// only aggregate counts are cached.
type AnalyticsService struct {
	repo     AnalyticsRepository
	villages villageReader
	cache    *CacheService
	metrics  *MetricsService
	logger   *zap.Logger
	cfg      AnalyticsConfig
	now      func() time.Time
}

// NewAnalyticsService constructs an analytics service. cache and metrics may be nil.
func NewAnalyticsService(repo AnalyticsRepository, villages villageReader, cache *CacheService, metrics *MetricsService, logger *zap.Logger, cfg AnalyticsConfig) *AnalyticsService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AnalyticsService{repo: repo, villages: villages, cache: cache, metrics: metrics, logger: logger, cfg: cfg, now: systemClock}
}

// Overview returns counts per village plus network totals. The boolean reports a cache hit.
func (s *AnalyticsService) Overview(ctx context.Context, p models.Principal, filter models.AnalyticsFilter) (*models.AnalyticsOverview, bool, error) {
	if err := requireGovernance(p); err != nil {
		return nil, false, err
	}

	key := makeAnalyticsCacheKey("overview", filter.VillageID, formatTime(filter.From), formatTime(filter.To))
	var cached models.AnalyticsOverview
	if s.cache.Get(ctx, key, &cached) {
		return &cached, true, nil
	}

	perVillage, err := s.aggregate(ctx, filter)
	if err != nil {
		return nil, false, err
	}

	overview := &models.AnalyticsOverview{
		Totals:      newVillageStatistics(""),
		Villages:    make([]models.VillageStatistics, 0, len(perVillage)),
		GeneratedAt: s.now(),
	}
	for _, stats := range perVillage {
		overview.Villages = append(overview.Villages, *stats)
		mergeStatistics(&overview.Totals, stats)
	}
	sort.Slice(overview.Villages, func(i, j int) bool { return overview.Villages[i].VillageID < overview.Villages[j].VillageID })
	overview.Totals.RatingScore = ratingScore(&overview.Totals)

	s.cache.Set(ctx, key, overview, s.cfg.OverviewTTL)
	return overview, false, nil
}

// VillageStatistics returns the counts of one village.
func (s *AnalyticsService) VillageStatistics(ctx context.Context, p models.Principal, villageID string) (*models.VillageStatistics, bool, error) {
	if err := requireGovernance(p); err != nil {
		return nil, false, err
	}
	if _, err := s.villages.FindByID(ctx, villageID); err != nil {
		return nil, false, storeError(err, "village not found", "failed to load village")
	}

	key := makeAnalyticsCacheKey("village", villageID)
	var cached models.VillageStatistics
	if s.cache.Get(ctx, key, &cached) {
		return &cached, true, nil
	}

	perVillage, err := s.aggregate(ctx, models.AnalyticsFilter{VillageID: villageID})
	if err != nil {
		return nil, false, err
	}
	stats, ok := perVillage[villageID]
	if !ok {
		empty := newVillageStatistics(villageID)
		stats = &empty
	}

	s.cache.Set(ctx, key, stats, s.cfg.OverviewTTL)
	return stats, false, nil
}

// VillageRatings ranks every registered village by rating score, best first. Villages without
// cases score zero.
func (s *AnalyticsService) VillageRatings(ctx context.Context, p models.Principal) ([]models.VillageRating, bool, error) {
	if err := requireGovernance(p); err != nil {
		return nil, false, err
	}

	key := makeAnalyticsCacheKey("ratings")
	var cached []models.VillageRating
	if s.cache.Get(ctx, key, &cached) {
		return cached, true, nil
	}

	villages, err := s.villages.List(ctx)
	if err != nil {
		return nil, false, appErrors.Infrastructure(err, "failed to list villages")
	}
	perVillage, err := s.aggregate(ctx, models.AnalyticsFilter{})
	if err != nil {
		return nil, false, err
	}

	ratings := make([]models.VillageRating, 0, len(villages))
	for _, v := range villages {
		rating := models.VillageRating{VillageID: v.ID, VillageName: v.Name}
		if stats, ok := perVillage[v.ID]; ok {
			rating.Total = stats.Total
			rating.Urgent = stats.Urgent
			rating.FalseReport = stats.FalseReport
			rating.Penalties = stats.Penalties.Total
			rating.RatingScore = stats.RatingScore
		}
		ratings = append(ratings, rating)
	}
	sort.SliceStable(ratings, func(i, j int) bool {
		if ratings[i].RatingScore != ratings[j].RatingScore {
			return ratings[i].RatingScore < ratings[j].RatingScore
		}
		return ratings[i].VillageName < ratings[j].VillageName
	})

	s.cache.Set(ctx, key, ratings, s.cfg.RatingsTTL)
	return ratings, false, nil
}

func (s *AnalyticsService) aggregate(ctx context.Context, filter models.AnalyticsFilter) (map[string]*models.VillageStatistics, error) {
	var (
		counts    []models.CaseCountRow
		penalties []models.PenaltyTotalRow
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		start := time.Now()
		rows, err := s.repo.CaseCounts(gctx, filter)
		if err != nil {
			return err
		}
		s.metrics.ObserveDBQuery("analytics_case_counts", time.Since(start))
		counts = rows
		return nil
	})
	g.Go(func() error {
		start := time.Now()
		rows, err := s.repo.PenaltyTotals(gctx, filter)
		if err != nil {
			return err
		}
		s.metrics.ObserveDBQuery("analytics_penalty_totals", time.Since(start))
		penalties = rows
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, appErrors.Infrastructure(err, "failed to aggregate case analytics")
	}

	out := make(map[string]*models.VillageStatistics)
	get := func(id string) *models.VillageStatistics {
		stats, ok := out[id]
		if !ok {
			fresh := newVillageStatistics(id)
			stats = &fresh
			out[id] = stats
		}
		return stats
	}
	for _, row := range counts {
		addCount(get(row.VillageID), row.Status, row.Urgency, row.Category, row.Total)
	}
	for _, row := range penalties {
		stats := get(row.VillageID)
		stats.Penalties.Total += row.Penalties
		stats.Penalties.DelayHours = roundTenth(stats.Penalties.DelayHours + row.DelayHours)
		stats.Penalties.ByStage[row.Stage] += row.Penalties
	}
	for _, stats := range out {
		stats.RatingScore = ratingScore(stats)
	}
	return out, nil
}

func newVillageStatistics(villageID string) models.VillageStatistics {
	return models.VillageStatistics{
		VillageID:  villageID,
		ByStatus:   map[models.CaseStatus]int{},
		ByUrgency:  map[models.Urgency]int{},
		ByCategory: map[models.CaseCategory]int{},
		Penalties:  models.PenaltySummary{ByStage: map[models.StageKey]int{}},
	}
}

func addCount(stats *models.VillageStatistics, status models.CaseStatus, urgency models.Urgency, category models.CaseCategory, n int) {
	stats.Total += n
	stats.ByStatus[status] += n
	stats.ByUrgency[urgency] += n
	stats.ByCategory[category] += n
	switch status {
	case models.CaseStatusPending:
		stats.Pending += n
	case models.CaseStatusInProgress:
		stats.InProgress += n
	case models.CaseStatusClosed:
		stats.Closed += n
	case models.CaseStatusFalseReport:
		stats.FalseReport += n
	}
	if urgency.Rank() >= models.UrgencyHigh.Rank() {
		stats.Urgent += n
	}
}

func mergeStatistics(dst, src *models.VillageStatistics) {
	dst.Total += src.Total
	dst.Pending += src.Pending
	dst.InProgress += src.InProgress
	dst.Closed += src.Closed
	dst.FalseReport += src.FalseReport
	dst.Urgent += src.Urgent
	for k, v := range src.ByStatus {
		dst.ByStatus[k] += v
	}
	for k, v := range src.ByUrgency {
		dst.ByUrgency[k] += v
	}
	for k, v := range src.ByCategory {
		dst.ByCategory[k] += v
	}
	dst.Penalties.Total += src.Penalties.Total
	dst.Penalties.DelayHours = roundTenth(dst.Penalties.DelayHours + src.Penalties.DelayHours)
	for k, v := range src.Penalties.ByStage {
		dst.Penalties.ByStage[k] += v
	}
}

// ratingScore weighs urgent cases double against false reports, as a percentage of all
// cases. Lower is better.
func ratingScore(stats *models.VillageStatistics) int {
	total := stats.Total
	if total < 1 {
		total = 1
	}
	return int(math.Round(float64(stats.Urgent*2+stats.FalseReport) / float64(total) * 100))
}

func roundTenth(v float64) float64 {
	return math.Round(v*10) / 10
}

func requireGovernance(p models.Principal) error {
	if !p.Tier.IsGovernance() {
		return appErrors.Clone(appErrors.ErrAccessDenied, "analytics are limited to governance roles")
	}
	return nil
}

func makeAnalyticsCacheKey(parts ...string) string {
	var builder strings.Builder
	builder.Grow(len(parts) * 16)
	builder.WriteString("analytics")
	for _, part := range parts {
		if part == "" {
			part = "_"
		}
		builder.WriteByte(':')
		builder.WriteString(strings.ReplaceAll(part, ":", "|"))
	}
	return builder.String()
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
