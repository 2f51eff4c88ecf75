package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"SignalPipe/internal/domain/models"
	domrepo "SignalPipe/internal/domain/repository"
	"SignalPipe/pkg/cache"
)

// Keys of the shared state store.
const (
	KeyMarketState       = "market_state"
	KeyAttentionState    = "attention_state"
	KeyCalibrationState  = "calibration_state"
	KeyOpportunityRank   = "opportunity_rank"
	KeyExecutionEnabled  = "execution_enabled"
	KeyLastScanTime      = "scanner:last_scan_time"
	keyCandidatesPrefix  = "active_candidates:"
	keyExecutionSeen     = "execution_seen:"
	keyExecutionCooldown = "execution_cooldown:"
	keyLastTrade         = "last_trade:"
	keyPosition          = "position:"
)

// CandidatesKey is the store key of a horizon's candidate list.
func CandidatesKey(h models.Horizon) string { return keyCandidatesPrefix + string(h) }

// RedisStateStore implements StateStore over a cache.Service.
type RedisStateStore struct {
	c cache.Service
}

func NewRedisStateStore(c cache.Service) *RedisStateStore {
	return &RedisStateStore{c: c}
}

var _ domrepo.StateStore = (*RedisStateStore)(nil)

// getJSON decodes key into dest, reporting false on a miss.
func (s *RedisStateStore) getJSON(ctx context.Context, key string, dest interface{}) (bool, error) {
	if err := s.c.Get(ctx, key, dest); err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return false, nil
		}
		return false, fmt.Errorf("get %s: %w", key, err)
	}
	return true, nil
}

func (s *RedisStateStore) set(ctx context.Context, key string, v interface{}, ttl time.Duration) error {
	if err := s.c.Set(ctx, key, v, ttl); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func (s *RedisStateStore) GetMarketState(ctx context.Context) (*models.MarketState, error) {
	var v models.MarketState
	ok, err := s.getJSON(ctx, KeyMarketState, &v)
	if !ok {
		return nil, err
	}
	return &v, nil
}

func (s *RedisStateStore) SetMarketState(ctx context.Context, v models.MarketState) error {
	return s.set(ctx, KeyMarketState, v, 0)
}

func (s *RedisStateStore) GetAttentionState(ctx context.Context) (*models.AttentionState, error) {
	var v models.AttentionState
	ok, err := s.getJSON(ctx, KeyAttentionState, &v)
	if !ok {
		return nil, err
	}
	return &v, nil
}

func (s *RedisStateStore) SetAttentionState(ctx context.Context, v models.AttentionState) error {
	return s.set(ctx, KeyAttentionState, v, 0)
}

func (s *RedisStateStore) GetCalibration(ctx context.Context) (*models.CalibrationState, error) {
	var v models.CalibrationState
	ok, err := s.getJSON(ctx, KeyCalibrationState, &v)
	if !ok {
		return nil, err
	}
	return &v, nil
}

func (s *RedisStateStore) SetCalibration(ctx context.Context, v models.CalibrationState) error {
	return s.set(ctx, KeyCalibrationState, v, 0)
}

func (s *RedisStateStore) SetCandidates(ctx context.Context, l models.CandidateList, ttl time.Duration) error {
	return s.set(ctx, CandidatesKey(l.Horizon), l, ttl)
}

func (s *RedisStateStore) GetCandidates(ctx context.Context, h models.Horizon) (*models.CandidateList, error) {
	var v models.CandidateList
	ok, err := s.getJSON(ctx, CandidatesKey(h), &v)
	if !ok {
		return nil, err
	}
	return &v, nil
}

func (s *RedisStateStore) SetOpportunityRank(ctx context.Context, r models.OpportunityRank, ttl time.Duration) error {
	return s.set(ctx, KeyOpportunityRank, r, ttl)
}

func (s *RedisStateStore) GetOpportunityRank(ctx context.Context) (*models.OpportunityRank, error) {
	var v models.OpportunityRank
	ok, err := s.getJSON(ctx, KeyOpportunityRank, &v)
	if !ok {
		return nil, err
	}
	return &v, nil
}

func (s *RedisStateStore) SetLastScanTime(ctx context.Context, t time.Time) error {
	return s.set(ctx, KeyLastScanTime, t.UTC().Format(time.RFC3339), 0)
}

func (s *RedisStateStore) GetLastScanTime(ctx context.Context) (*time.Time, error) {
	var raw string
	ok, err := s.getJSON(ctx, KeyLastScanTime, &raw)
	if !ok {
		return nil, err
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", KeyLastScanTime, err)
	}
	return &t, nil
}

// ExecutionEnabled reads the kill switch. A missing key means disabled.
func (s *RedisStateStore) ExecutionEnabled(ctx context.Context) (bool, error) {
	var raw string
	ok, err := s.getJSON(ctx, KeyExecutionEnabled, &raw)
	if !ok {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "on", "yes":
		return true, nil
	default:
		return false, nil
	}
}

func (s *RedisStateStore) SetExecutionEnabled(ctx context.Context, enabled bool) error {
	v := "false"
	if enabled {
		v = "true"
	}
	return s.set(ctx, KeyExecutionEnabled, v, 0)
}

func (s *RedisStateStore) ClaimExecution(ctx context.Context, executionID string, ttl time.Duration) (bool, error) {
	ok, err := s.c.Claim(ctx, keyExecutionSeen+executionID, ttl)
	if err != nil {
		return false, fmt.Errorf("claim execution %s: %w", executionID, err)
	}
	return ok, nil
}

func (s *RedisStateStore) ClaimCooldown(ctx context.Context, ticker string, ttl time.Duration) (bool, error) {
	ok, err := s.c.Claim(ctx, keyExecutionCooldown+ticker, ttl)
	if err != nil {
		return false, fmt.Errorf("claim cooldown %s: %w", ticker, err)
	}
	return ok, nil
}

func (s *RedisStateStore) ReleaseCooldown(ctx context.Context, ticker string) error {
	return s.c.Delete(ctx, keyExecutionCooldown+ticker)
}

func (s *RedisStateStore) SetLastTrade(ctx context.Context, ticker string, t time.Time) error {
	return s.set(ctx, keyLastTrade+ticker, t.UTC().Format(time.RFC3339), 0)
}

// SetPosition records a filled buy. Positions carry no TTL.
func (s *RedisStateStore) SetPosition(ctx context.Context, p models.Position) error {
	return s.set(ctx, keyPosition+p.Ticker, p, 0)
}

func (s *RedisStateStore) GetPosition(ctx context.Context, ticker string) (*models.Position, error) {
	var p models.Position
	ok, err := s.getJSON(ctx, keyPosition+ticker, &p)
	if !ok {
		return nil, err
	}
	return &p, nil
}
