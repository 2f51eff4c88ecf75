package truthtest

import (
	"context"
	"encoding/json"
	"fmt"

	applogger "SignalPipe/pkg/logger"
	"SignalPipe/pkg/queue"
	"SignalPipe/pkg/util"
)

// JobType is the queue message type of a backfill request.
const JobType = "truthtest.run"

// BackfillPayload asks for a run as of a calendar date (YYYY-MM-DD). An empty
// date runs the normal lookback window.
type BackfillPayload struct {
	JobID string `json:"job_id,omitempty"`
	Date  string `json:"date"`
}

// BackfillJob runs the truth test for queued backfill requests.
type BackfillJob struct {
	runner *Runner
}

func NewBackfillJob(r *Runner) *BackfillJob {
	return &BackfillJob{runner: r}
}

func (j *BackfillJob) Name() string { return "truthtest-backfill" }
func (j *BackfillJob) Type() string { return JobType }

func (j *BackfillJob) Handle(ctx context.Context, payload json.RawMessage) error {
	p, err := queue.ParsePayload[BackfillPayload](payload)
	if err != nil {
		return queue.Permanent(err)
	}
	j.runner.log.Info("backfill job received",
		applogger.String("job_id", p.JobID),
		applogger.String("date", p.Date),
	)
	if p.Date == "" {
		_, err = j.runner.Run(ctx, nil)
		return err
	}
	d, err := util.ParseDate(p.Date, j.runner.cal.Loc())
	if err != nil {
		return queue.Permanent(fmt.Errorf("backfill: %w", err))
	}
	_, err = j.runner.Run(ctx, &d)
	return err
}

var _ queue.Job = (*BackfillJob)(nil)
