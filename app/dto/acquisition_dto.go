package dto

// StartAcquisitionRequest starts a paged pull of the account's audience.
// A nil Goal caps the run at the account's last known total; 0 means uncapped.
type StartAcquisitionRequest struct {
	Goal  *int `json:"goal,omitempty" validate:"omitempty,gte=0"`
	Turbo bool `json:"turbo"`
}

// AcquisitionStatusResponse is the latest progress of an acquisition run
type AcquisitionStatusResponse struct {
	RunID         string   `json:"run_id"`
	AccountID     string   `json:"account_id"`
	Phase         string   `json:"phase"`
	State         string   `json:"state"`
	FetchedCount  int      `json:"fetched_count"`
	Added         int      `json:"added"`
	DisplayCount  int      `json:"display_count"`
	ChunkIndex    int      `json:"chunk_index"`
	Goal          int      `json:"goal"`
	RateLimitHits int      `json:"rate_limit_hits"`
	ElapsedMs     int64    `json:"elapsed_ms"`
	RatePerSecond float64  `json:"rate_per_second"`
	ETASeconds    *float64 `json:"eta_seconds,omitempty"`
	Error         string   `json:"error,omitempty"`
	StartedAt     string   `json:"started_at"`
}
