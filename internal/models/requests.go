package models

import "time"

// CycleRequest identifies one reconciliation run.
type CycleRequest struct {
	ServiceID string
	ViewID    string
	DryRun    bool
	// Now pins the end of both windows; zero means time.Now().
	Now time.Time
}

// TimeRange bounds a telemetry window.
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// ListCyclesRequest captures filters for cycle history.
type ListCyclesRequest struct {
	ServiceID string
	PageSize  int
	PageToken string
}

// ListCyclesResponse contains cycle reports and pagination state.
type ListCyclesResponse struct {
	Cycles        []CycleReport
	NextPageToken string
}
