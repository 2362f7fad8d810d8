package models

import "time"

// RunMode selects how a reconciliation run treats existing links.
type RunMode string

const (
	// RunModeIncremental upserts the derived set and prunes rows that are no longer derived.
	RunModeIncremental RunMode = "incremental"
	// RunModeFull wipes the tenant's links before recomputing.
	RunModeFull RunMode = "full"
)

func (m RunMode) Valid() bool {
	return m == RunModeIncremental || m == RunModeFull
}

// BatchKind names the row type a write batch carried.
type BatchKind string

const (
	BatchKindLinks      BatchKind = "links"
	BatchKindThemeLinks BatchKind = "theme_links"
)

// FailedBatch describes a write batch that exhausted its retries.
type FailedBatch struct {
	Kind  BatchKind `json:"kind"`
	Index int       `json:"index"`
	Size  int       `json:"size"`
	Error string    `json:"error"`
}

// RunReport summarizes one reconciliation run.
type RunReport struct {
	RunID                string           `json:"run_id" db:"run_id"`
	TenantID             string           `json:"tenant_id" db:"tenant_id"`
	Mode                 RunMode          `json:"mode" db:"mode"`
	StartedAt            time.Time        `json:"started_at" db:"started_at"`
	FinishedAt           time.Time        `json:"finished_at" db:"finished_at"`
	TicketsTotal         int              `json:"tickets_total"`
	TicketsSkipped       int              `json:"tickets_skipped"`
	CandidatesByStrategy map[Strategy]int `json:"candidates_by_strategy"`
	CandidatesFiltered   int              `json:"candidates_filtered"`
	CandidatesDiscarded  int              `json:"candidates_discarded"`
	LinksWritten         int              `json:"links_written"`
	ThemeLinksWritten    int              `json:"theme_links_written"`
	LinksPruned          int              `json:"links_pruned"`
	ThemeLinksPruned     int              `json:"theme_links_pruned"`
	FailedBatches        []FailedBatch    `json:"failed_batches"`
	Partial              bool             `json:"partial"`
	SinkErrors           []string         `json:"sink_errors"`
}
