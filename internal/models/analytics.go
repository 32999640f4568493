package models

import "time"

// AnalyticsFilter narrows aggregate queries. Zero values mean no restriction.
type AnalyticsFilter struct {
	VillageID string
	From      *time.Time
	To        *time.Time
}

// CaseCountRow is one GROUP BY bucket of cases.
type CaseCountRow struct {
	VillageID string       `db:"village_id" json:"villageId"`
	Status    CaseStatus   `db:"status" json:"status"`
	Urgency   Urgency      `db:"urgency" json:"urgency"`
	Category  CaseCategory `db:"category" json:"category"`
	Total     int          `db:"total" json:"total"`
}

// PenaltyTotalRow sums late stage completions per village and stage.
type PenaltyTotalRow struct {
	VillageID  string   `db:"village_id" json:"villageId"`
	Stage      StageKey `db:"stage" json:"stage"`
	Penalties  int      `db:"penalties" json:"penalties"`
	DelayHours float64  `db:"delay_hours" json:"delayHours"`
}

// PenaltySummary totals penalties by stage.
type PenaltySummary struct {
	Total      int              `json:"total"`
	DelayHours float64          `json:"delayHours"`
	ByStage    map[StageKey]int `json:"byStage"`
}

// VillageStatistics holds aggregate counts for one village. It never carries case rows.
type VillageStatistics struct {
	VillageID   string               `json:"villageId"`
	Total       int                  `json:"total"`
	Pending     int                  `json:"pending"`
	InProgress  int                  `json:"inProgress"`
	Closed      int                  `json:"closed"`
	FalseReport int                  `json:"falseReport"`
	Urgent      int                  `json:"urgent"`
	ByStatus    map[CaseStatus]int   `json:"byStatus"`
	ByUrgency   map[Urgency]int      `json:"byUrgency"`
	ByCategory  map[CaseCategory]int `json:"byCategory"`
	Penalties   PenaltySummary       `json:"penalties"`
	RatingScore int                  `json:"ratingScore"`
}

// AnalyticsOverview is the per-village breakdown plus a network-wide total.
type AnalyticsOverview struct {
	Totals      VillageStatistics   `json:"totals"`
	Villages    []VillageStatistics `json:"villages"`
	GeneratedAt time.Time           `json:"generatedAt"`
}

// VillageRating ranks villages; a lower score is better.
type VillageRating struct {
	VillageID   string `json:"villageId"`
	VillageName string `json:"villageName"`
	Total       int    `json:"total"`
	Urgent      int    `json:"urgent"`
	FalseReport int    `json:"falseReport"`
	Penalties   int    `json:"penalties"`
	RatingScore int    `json:"ratingScore"`
}
