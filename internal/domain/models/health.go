package models

import "time"

// ComponentHealth is the liveness report of one running component.
type ComponentHealth struct {
	Name        string    `json:"name"`
	Running     bool      `json:"running"`
	LastCycle   time.Time `json:"last_cycle,omitempty"`
	LastSummary string    `json:"last_summary,omitempty"`
	Cycles      int64     `json:"cycles"`
	Errors      int64     `json:"errors"`
	Degraded    bool      `json:"degraded"`
}

// SystemStats is a host snapshot.
type SystemStats struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	Goroutines    int     `json:"goroutines"`
}

// Status is the /status snapshot of shared state.
type Status struct {
	MarketState      *MarketState        `json:"market_state"`
	AttentionState   *AttentionState     `json:"attention_state"`
	Calibration      *CalibrationContext `json:"calibration"`
	LastRank         *OpportunityRank    `json:"opportunity_rank"`
	LastScanTime     *time.Time          `json:"last_scan_time"`
	ExecutionEnabled bool                `json:"execution_enabled"`
	Timestamp        time.Time           `json:"timestamp"`
}
