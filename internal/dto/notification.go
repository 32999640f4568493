package dto

// NotificationQuery mirrors GET /notifications filters.
type NotificationQuery struct {
	UnreadOnly bool
	Limit      int
}

// SweepResponse reports the outcome of a manual deadline sweep.
type SweepResponse struct {
	Reminders int  `json:"reminders"`
	Skipped   int  `json:"skipped"`
	Ran       bool `json:"ran"`
}
