package models

import (
	"time"

	"github.com/lib/pq"
)

// Village is a geographically distinct site owning cases.
type Village struct {
	ID        string         `db:"id" json:"id"`
	Name      string         `db:"name" json:"name"`
	Region    *string        `db:"region" json:"region,omitempty"`
	Location  *string        `db:"location" json:"location,omitempty"`
	Director  *string        `db:"director" json:"director,omitempty"`
	Programs  pq.StringArray `db:"programs" json:"programs"`
	CreatedAt time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt *time.Time     `db:"updated_at" json:"updated_at,omitempty"`
}
