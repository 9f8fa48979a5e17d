package app

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"vault-backend/internal/clients"
	"vault-backend/internal/config"
	"vault-backend/internal/db"
	"vault-backend/internal/events"
	"vault-backend/internal/exchange"
	"vault-backend/internal/ledger"
	"vault-backend/internal/repository"
	"vault-backend/internal/services"
	"vault-backend/internal/vault"
)

// ServiceContainer wires the vault, its persistence and background services
type ServiceContainer struct {
	Config *config.Config
	Logger *logrus.Logger
	Clock  clock.Clock

	// Database
	DB *gorm.DB

	// Repositories
	Journal        *repository.Journal
	WithdrawalRepo repository.WithdrawalRequestRepository
	OperationRepo  repository.OperationRepository
	ConversionRepo repository.ConversionRepository
	SnapshotRepo   repository.SnapshotRepository
	LedgerRepo     repository.LedgerRepository

	// Core
	Ledger       *ledger.Ledger
	Adapters     []*exchange.PoolAdapter
	Vault        *vault.Vault
	VaultService *services.VaultService

	// Event & Push Services
	Dispatcher           *events.Dispatcher
	NATSClient           *clients.NATSClient
	WebSocketPushService *services.WebSocketPushService

	// Background Services
	IdleConversionService *services.IdleConversionService
	SnapshotService       *services.SnapshotService

	cancel    context.CancelFunc
	wsDone    chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
}

// Global service container instance
var Container *ServiceContainer
var containerOnce sync.Once

// InitializeContainer builds the global container from config.AppConfig
// and db.DB.
func InitializeContainer(logger *logrus.Logger) (*ServiceContainer, error) {
	var initErr error

	containerOnce.Do(func() {
		log.Println("🚀 Initializing Service Container...")
		if config.AppConfig == nil {
			initErr = fmt.Errorf("configuration not loaded")
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		c, err := NewContainer(ctx, config.AppConfig, db.DB, logger, clock.New())
		if err != nil {
			initErr = err
			return
		}
		Container = c
		log.Println("✅ Service Container initialized successfully")
	})

	return Container, initErr
}

// NewContainer builds every component and restores state from the journal.
// Nothing runs until Start.
func NewContainer(ctx context.Context, cfg *config.Config, gdb *gorm.DB, logger *logrus.Logger, clk clock.Clock) (*ServiceContainer, error) {
	c := &ServiceContainer{
		Config: cfg,
		Logger: logger,
		Clock:  clk,
		DB:     gdb,
	}

	c.initRepositories()

	if err := c.initCore(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize vault: %w", err)
	}

	if err := c.initEventServices(); err != nil {
		// NATS is optional, log but don't fail
		logger.WithError(err).Warn("NATS publishing disabled")
	}

	if err := c.initBackgroundServices(); err != nil {
		return nil, fmt.Errorf("failed to initialize background services: %w", err)
	}
	return c, nil
}

func (c *ServiceContainer) initRepositories() {
	c.Journal = repository.NewJournal(c.DB)
	c.WithdrawalRepo = repository.NewWithdrawalRequestRepository(c.DB)
	c.OperationRepo = repository.NewOperationRepository(c.DB)
	c.ConversionRepo = repository.NewConversionRepository(c.DB)
	c.SnapshotRepo = repository.NewSnapshotRepository(c.DB)
	c.LedgerRepo = repository.NewLedgerRepository(c.DB)
}

func (c *ServiceContainer) initCore(ctx context.Context) error {
	var err error
	if c.Ledger, err = BuildLedger(c.Config.Ledger); err != nil {
		return err
	}
	if c.Adapters, err = BuildAdapters(c.Config.Exchange); err != nil {
		return err
	}
	vcfg, err := VaultConfig(c.Config.Vault, c.Ledger)
	if err != nil {
		return err
	}

	// the dispatcher exists before the vault so the observer can be wired
	c.Dispatcher = events.NewDispatcher(c.Logger, 0)
	c.WebSocketPushService = services.NewWebSocketPushService(c.Logger)
	c.Dispatcher.AddSink(c.WebSocketPushService)

	adapters := make([]vault.ExchangeAdapter, 0, len(c.Adapters))
	for _, a := range c.Adapters {
		adapters = append(adapters, a)
	}
	c.Vault, err = vault.New(c.Ledger, vcfg, adapters,
		vault.WithClock(c.Clock),
		vault.WithJournal(c.Journal),
		vault.WithLogger(c.Logger.WithField("component", "vault")),
		vault.WithObserver(services.ObserveMetrics),
		vault.WithObserver(c.Dispatcher.Observe),
	)
	if err != nil {
		return err
	}

	how, err := Restore(ctx, c.Journal, c.Ledger, c.Vault, c.Config.Ledger.Genesis, c.Clock, c.Logger)
	if err != nil {
		return err
	}
	if summary, err := c.Vault.Summary(); err == nil {
		services.RecordSummaryMetrics(summary)
	}
	c.Logger.WithFields(logrus.Fields{
		"vault":    c.Vault.Address().Hex(),
		"adapters": len(c.Adapters),
		"startup":  how,
	}).Info("vault ready")

	c.VaultService = services.NewVaultService(c.Vault, c.Ledger, c.Logger,
		services.WithLedgerJournal(c.Journal),
		services.WithServiceClock(c.Clock),
		services.WithFaucet(c.Config.Ledger.FaucetEnabled),
	)
	return nil
}

func (c *ServiceContainer) initEventServices() error {
	client, err := events.InitNATS(c.Config.NATS, c.Logger)
	if err != nil {
		return err
	}
	if client != nil {
		c.NATSClient = client
		c.Dispatcher.AddSink(client)
	}
	return nil
}

func (c *ServiceContainer) initBackgroundServices() error {
	kc := c.Config.Keeper
	if kc.Enabled {
		cfg := services.IdleConversionConfig{
			Keeper:     common.HexToAddress(kc.Address),
			Interval:   time.Duration(kc.IntervalSeconds) * time.Second,
			RouteHints: make(map[common.Address]string, len(kc.RouteHints)),
		}
		for _, a := range kc.Assets {
			cfg.Assets = append(cfg.Assets, common.HexToAddress(a))
		}
		for asset, hint := range kc.RouteHints {
			cfg.RouteHints[common.HexToAddress(asset)] = hint
		}
		c.IdleConversionService = services.NewIdleConversionService(c.VaultService, c.ConversionRepo, cfg, c.Clock, c.Logger)
	}

	sc := c.Config.Snapshots
	if sc.Enabled {
		c.SnapshotService = services.NewSnapshotService(c.VaultService, c.SnapshotRepo,
			time.Duration(sc.IntervalSeconds)*time.Second,
			time.Duration(sc.RetentionDays)*24*time.Hour,
			c.Clock, c.Logger)
	}
	return nil
}

// Start launches the sequencer, event delivery and background loops.
func (c *ServiceContainer) Start() {
	c.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		c.cancel = cancel

		c.Dispatcher.Start(ctx)
		c.wsDone = make(chan struct{})
		go func() {
			defer close(c.wsDone)
			c.WebSocketPushService.Run(ctx)
		}()
		c.VaultService.Start()
		if c.IdleConversionService != nil {
			c.IdleConversionService.Start()
		}
		if c.SnapshotService != nil {
			c.SnapshotService.Start()
		}
		c.Logger.Info("background services started")
	})
}

// Stop shuts down in reverse order: producers first, then delivery.
func (c *ServiceContainer) Stop() {
	c.stopOnce.Do(func() {
		if c.IdleConversionService != nil {
			c.IdleConversionService.Stop()
		}
		if c.SnapshotService != nil {
			c.SnapshotService.Stop()
		}
		if c.VaultService != nil {
			c.VaultService.Stop()
		}
		if c.cancel != nil {
			c.cancel()
			c.Dispatcher.Wait()
			<-c.wsDone
		}
		if c.NATSClient != nil {
			c.NATSClient.Close()
		}
		c.Logger.Info("background services stopped")
	})
}
