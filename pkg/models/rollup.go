package models

// Rollup is a time-windowed status summary for an account or a theme.
type Rollup struct {
	ResolvedRecent int `json:"resolved_recent"`
	InProgress     int `json:"in_progress"`
	Open           int `json:"open"`
	TotalIssues    int `json:"total_issues"`
	FixRateWindow  int `json:"fix_rate_window"`
}
