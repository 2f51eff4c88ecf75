package models

// QueryRequest is the /query input.
type QueryRequest struct {
	Ticker string `query:"ticker" validate:"required,ticker"`
}

// RunRequest is the /run input. Date is YYYY-MM-DD in America/New_York; empty
// means a normal scheduled run.
type RunRequest struct {
	Date string `query:"date" validate:"omitempty,datetime=2006-01-02"`
}

// RunAccepted is the /run response.
type RunAccepted struct {
	JobID  string `json:"job_id"`
	Date   string `json:"date,omitempty"`
	Queued bool   `json:"queued"`
}
