package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"vault-backend/internal/metrics"
	"vault-backend/internal/models"
	"vault-backend/internal/repository"
	"vault-backend/internal/vault"
)

// IdleConversionConfig keeper settings
type IdleConversionConfig struct {
	Keeper     common.Address
	Assets     []common.Address
	RouteHints map[common.Address]string
	Interval   time.Duration
}

// IdleConversionService periodically swaps idle non-reference balances into
// the reference asset within the vault's idle policy. The policy allows one
// conversion per interval, so each tick converts at most one asset and the
// starting asset rotates between ticks.
type IdleConversionService struct {
	svc   *VaultService
	repo  repository.ConversionRepository
	cfg   IdleConversionConfig
	clock clock.Clock
	log   logrus.FieldLogger

	next    int
	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewIdleConversionService creates the keeper.
func NewIdleConversionService(svc *VaultService, repo repository.ConversionRepository, cfg IdleConversionConfig, clk clock.Clock, logger logrus.FieldLogger) *IdleConversionService {
	if clk == nil {
		clk = clock.New()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	return &IdleConversionService{
		svc:   svc,
		repo:  repo,
		cfg:   cfg,
		clock: clk,
		log:   logger.WithField("component", "idle_keeper"),
	}
}

// Start begins the conversion loop
func (s *IdleConversionService) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})

	s.log.WithFields(logrus.Fields{
		"keeper":   s.cfg.Keeper.Hex(),
		"assets":   len(s.cfg.Assets),
		"interval": s.cfg.Interval.String(),
	}).Info("idle conversion keeper started")

	ticker := s.clock.Ticker(s.cfg.Interval)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				s.RunOnce(ctx)
				cancel()
			case <-s.stopCh:
				return
			}
		}
	}()
}

// Stop gracefully stops the loop
func (s *IdleConversionService) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()
	s.wg.Wait()
	s.log.Info("idle conversion keeper stopped")
}

// RunOnce tries the configured assets in rotation until one converts, and
// returns the records it stored.
func (s *IdleConversionService) RunOnce(ctx context.Context) []*models.ConversionRecord {
	n := len(s.cfg.Assets)
	if n == 0 {
		return nil
	}
	var out []*models.ConversionRecord
	start := s.next
	for i := 0; i < n; i++ {
		asset := s.cfg.Assets[(start+i)%n]
		rec, converted := s.convert(ctx, asset)
		if rec != nil {
			out = append(out, rec)
		}
		if converted {
			s.next = (start + i + 1) % n
			return out
		}
	}
	return out
}

// convert attempts one asset. It returns nil when there was nothing to do.
func (s *IdleConversionService) convert(ctx context.Context, asset common.Address) (*models.ConversionRecord, bool) {
	hint := s.cfg.RouteHints[asset]
	entry := s.log.WithFields(logrus.Fields{"asset": asset.Hex(), "route_hint": hint})

	q, err := s.svc.QuoteIdleConversion(asset, hint)
	if err != nil {
		entry.WithError(err).Warn("idle conversion quote failed")
		return s.store(ctx, s.failed(asset, hint, err)), false
	}
	if !q.AmountIn.IsPositive() {
		entry.Debug("no idle balance")
		return nil, false
	}
	if !q.NextRunAt.IsZero() && s.clock.Now().Before(q.NextRunAt) {
		entry.WithField("next_run_at", q.NextRunAt).Debug("idle conversion interval not elapsed")
		return nil, false
	}

	rec := &models.ConversionRecord{
		ID:           uuid.NewString(),
		VaultAddress: s.svc.Vault().Address().Hex(),
		AssetIn:      asset.Hex(),
		AmountIn:     q.AmountIn.String(),
		Quote:        q.Quote.String(),
		MinOut:       q.MinOut.String(),
		AmountOut:    "0",
		RouteHint:    hint,
		CreatedAt:    s.clock.Now().UTC(),
	}

	res, err := s.svc.ExecuteIdleConversion(ctx, s.cfg.Keeper, asset, q.AmountIn, q.MinOut, hint)
	if err != nil {
		status := models.ConversionStatusFailed
		if errors.Is(err, vault.ErrIntervalNotElapsed) {
			status = models.ConversionStatusSkipped
		}
		rec.Status = status
		rec.Error = err.Error()
		rec.ErrorKind = string(vault.KindOf(err))
		metrics.IdleConversions.WithLabelValues(asset.Hex(), string(status)).Inc()
		entry.WithField("kind", rec.ErrorKind).WithError(err).Warn("idle conversion failed")
		return s.store(ctx, rec), false
	}

	rec.Status = models.ConversionStatusSuccess
	rec.AmountOut = res.AmountOut.String()
	metrics.IdleConversions.WithLabelValues(asset.Hex(), string(rec.Status)).Inc()
	metrics.IdleConversionOutput.WithLabelValues(asset.Hex()).Add(intFloat(res.AmountOut))
	entry.WithFields(logrus.Fields{
		"amount_in":  res.AmountIn.String(),
		"amount_out": res.AmountOut.String(),
		"min_out":    res.MinOut.String(),
	}).Info("idle conversion executed")
	return s.store(ctx, rec), true
}

func (s *IdleConversionService) failed(asset common.Address, hint string, err error) *models.ConversionRecord {
	metrics.IdleConversions.WithLabelValues(asset.Hex(), string(models.ConversionStatusFailed)).Inc()
	return &models.ConversionRecord{
		ID:           uuid.NewString(),
		VaultAddress: s.svc.Vault().Address().Hex(),
		AssetIn:      asset.Hex(),
		AmountIn:     "0",
		Quote:        "0",
		MinOut:       "0",
		AmountOut:    "0",
		RouteHint:    hint,
		Status:       models.ConversionStatusFailed,
		Error:        err.Error(),
		ErrorKind:    string(vault.KindOf(err)),
		CreatedAt:    s.clock.Now().UTC(),
	}
}

func (s *IdleConversionService) store(ctx context.Context, rec *models.ConversionRecord) *models.ConversionRecord {
	if s.repo == nil {
		return rec
	}
	if err := s.repo.Create(ctx, rec); err != nil {
		s.log.WithError(err).WithField("record_id", rec.ID).Error("failed to store conversion record")
	}
	return rec
}
