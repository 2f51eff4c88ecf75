package api

import (
	"context"
	"net/http"
	"runtime"
	"sort"
	"time"

	"SignalPipe/internal/domain/models"
	xhttp "SignalPipe/pkg/http"
	applogger "SignalPipe/pkg/logger"

	"github.com/labstack/echo/v4"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

const checkTimeout = 2 * time.Second

// HealthReporter is anything that can describe its own liveness.
type HealthReporter interface {
	Health() models.ComponentHealth
}

// Check pings one external dependency.
type Check func(ctx context.Context) error

// HealthReport is the /health body.
type HealthReport struct {
	Status       string                         `json:"status"`
	Components   []models.ComponentHealth       `json:"components"`
	Dependencies map[string]string              `json:"dependencies"`
	System       *models.SystemStats            `json:"system,omitempty"`
	RecentErrors []applogger.AggregatedLogEntry `json:"recent_errors"`
	Timestamp    time.Time                      `json:"timestamp"`
}

// HealthHandler serves /health.
type HealthHandler struct {
	logger     *applogger.Logger
	components []HealthReporter
	checks     map[string]Check
	system     func(ctx context.Context) (*models.SystemStats, error)
}

func NewHealthHandler(logger *applogger.Logger, components []HealthReporter, checks map[string]Check) *HealthHandler {
	if logger == nil {
		logger = applogger.Nop()
	}
	return &HealthHandler{logger: logger, components: components, checks: checks, system: hostStats}
}

func (h *HealthHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", h.Health)
}

// Health reports component liveness, dependency reachability, host load and
// the collector's recent errors. Any failing dependency turns the response
// into a 503.
func (h *HealthHandler) Health(c echo.Context) error {
	ctx := c.Request().Context()
	rep := HealthReport{
		Status:       "ok",
		Components:   make([]models.ComponentHealth, 0, len(h.components)),
		Dependencies: make(map[string]string, len(h.checks)),
		RecentErrors: h.logger.RecentErrors(),
		Timestamp:    time.Now().UTC(),
	}
	for _, comp := range h.components {
		ch := comp.Health()
		if ch.Degraded || !ch.Running {
			rep.Status = "degraded"
		}
		rep.Components = append(rep.Components, ch)
	}
	sort.Slice(rep.Components, func(i, j int) bool { return rep.Components[i].Name < rep.Components[j].Name })

	down := false
	for name, check := range h.checks {
		cctx, cancel := context.WithTimeout(ctx, checkTimeout)
		err := check(cctx)
		cancel()
		if err != nil {
			down = true
			rep.Dependencies[name] = err.Error()
			h.logger.Warn("health check failed", applogger.String("dependency", name), applogger.Error(err))
			continue
		}
		rep.Dependencies[name] = "ok"
	}

	if st, err := h.system(ctx); err != nil {
		h.logger.Debug("host stats unavailable", applogger.Error(err))
	} else {
		rep.System = st
	}
	if rep.RecentErrors == nil {
		rep.RecentErrors = []applogger.AggregatedLogEntry{}
	}

	if down {
		rep.Status = "down"
		return xhttp.DataResponse(c, http.StatusServiceUnavailable, rep)
	}
	return xhttp.SuccessResponse(c, rep)
}

// hostStats samples CPU since the previous call, so it never blocks.
func hostStats(ctx context.Context) (*models.SystemStats, error) {
	st := &models.SystemStats{Goroutines: runtime.NumGoroutine()}
	pct, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return nil, err
	}
	if len(pct) > 0 {
		st.CPUPercent = pct[0]
	}
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, err
	}
	st.MemoryPercent = vm.UsedPercent
	return st, nil
}
