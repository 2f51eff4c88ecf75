package api

import (
	"SignalPipe/internal/domain/models"
	"SignalPipe/internal/service/metrics"
	"SignalPipe/internal/service/ratelimit"
	"SignalPipe/internal/usecase/truthtest"
	xhttp "SignalPipe/pkg/http"
	applogger "SignalPipe/pkg/logger"
	"SignalPipe/pkg/queue"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// RunHandler queues manual truth-test runs.
type RunHandler struct {
	logger *applogger.Logger
	queue  queue.QueueService
	rl     *ratelimit.Limiter
}

func NewRunHandler(logger *applogger.Logger, q queue.QueueService, rl *ratelimit.Limiter) *RunHandler {
	if logger == nil {
		logger = applogger.Nop()
	}
	if rl == nil {
		rl = ratelimit.New()
	}
	return &RunHandler{logger: logger, queue: q, rl: rl}
}

func (h *RunHandler) RegisterRoutes(e *echo.Echo) {
	e.POST("/run", h.Run)
}

// Run handles POST /run?date=YYYY-MM-DD. The job is processed by the
// truth-test worker; the response only confirms it was queued.
func (h *RunHandler) Run(c echo.Context) error {
	if !allow(c, h.rl, "run") {
		return tooManyRequests(c)
	}
	req := &models.RunRequest{}
	// echo binds query params only for GET/DELETE/HEAD
	if err := (&echo.DefaultBinder{}).BindQueryParams(c, req); err != nil {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError(err.Error()))
	}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	id := uuid.NewString()
	payload := truthtest.BackfillPayload{JobID: id, Date: req.Date}
	if err := h.queue.PublishMessage(c.Request().Context(), truthtest.JobType, payload); err != nil {
		metrics.EndpointErrors.WithLabelValues("run").Inc()
		h.logger.Error("enqueue truth test", applogger.String("job_id", id), applogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.UnavailableError("job queue unavailable").WithError(err))
	}
	h.logger.Info("truth test queued", applogger.String("job_id", id), applogger.String("date", req.Date))
	return xhttp.AcceptedResponse(c, models.RunAccepted{JobID: id, Date: req.Date, Queued: true})
}
