package model

// EntityCounts is a snapshot of store sizes used for gauges and health
// reporting.
type EntityCounts struct {
	Stations         int `json:"stations"`
	Trains           int `json:"trains"`
	Objects          int `json:"objects"`
	Users            int `json:"users"`
	UnresolvedAlerts int `json:"unresolvedAlerts"`
}
