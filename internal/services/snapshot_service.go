package services

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"

	"vault-backend/internal/models"
	"vault-backend/internal/repository"
)

// SnapshotService records vault totals on an interval for price history
type SnapshotService struct {
	svc       *VaultService
	repo      repository.SnapshotRepository
	clock     clock.Clock
	interval  time.Duration
	retention time.Duration
	log       logrus.FieldLogger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewSnapshotService creates the service. A zero retention keeps every
// snapshot.
func NewSnapshotService(svc *VaultService, repo repository.SnapshotRepository, interval, retention time.Duration, clk clock.Clock, logger logrus.FieldLogger) *SnapshotService {
	if clk == nil {
		clk = clock.New()
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &SnapshotService{
		svc:       svc,
		repo:      repo,
		clock:     clk,
		interval:  interval,
		retention: retention,
		log:       logger.WithField("component", "snapshots"),
	}
}

// Start takes one snapshot immediately and then one per interval.
func (s *SnapshotService) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})

	ticker := s.clock.Ticker(s.interval)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer ticker.Stop()
		s.tick()
		for {
			select {
			case <-ticker.C:
				s.tick()
			case <-s.stopCh:
				return
			}
		}
	}()
	s.log.WithField("interval", s.interval.String()).Info("snapshot service started")
}

// Stop gracefully stops the loop
func (s *SnapshotService) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()
	s.wg.Wait()
	s.log.Info("snapshot service stopped")
}

func (s *SnapshotService) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := s.RunOnce(ctx); err != nil {
		s.log.WithError(err).Error("snapshot failed")
	}
}

// RunOnce stores the current totals and prunes expired snapshots.
func (s *SnapshotService) RunOnce(ctx context.Context) (*models.VaultSnapshot, error) {
	sum, err := s.svc.Summary()
	if err != nil {
		return nil, err
	}
	RecordSummaryMetrics(sum)

	now := s.clock.Now().UTC()
	snap := &models.VaultSnapshot{
		VaultAddress:   sum.Address.Hex(),
		PricePerShare:  sum.PricePerShare.String(),
		TotalSupply:    sum.TotalSupply.String(),
		Custody:        sum.Custody.String(),
		PendingReserve: sum.PendingReserve.String(),
		Available:      sum.Available.String(),
		Halted:         sum.Halted,
		CreatedAt:      now,
	}
	if err := s.repo.Create(ctx, snap); err != nil {
		return nil, err
	}

	if s.retention > 0 {
		removed, err := s.repo.DeleteBefore(ctx, now.Add(-s.retention))
		if err != nil {
			s.log.WithError(err).Warn("snapshot pruning failed")
		} else if removed > 0 {
			s.log.WithField("removed", removed).Info("pruned old snapshots")
		}
	}
	return snap, nil
}
