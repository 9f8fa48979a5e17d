package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"vault-backend/internal/config"
	"vault-backend/internal/exchange"
	"vault-backend/internal/ledger"
	"vault-backend/internal/repository"
	"vault-backend/internal/utils"
	"vault-backend/internal/vault"
)

// poolHolderPrefix lets genesis balances target a pool's reserve address
const poolHolderPrefix = "pool:"

// BuildLedger registers every configured asset.
func BuildLedger(cfg config.LedgerConfig) (*ledger.Ledger, error) {
	l := ledger.New()
	for _, a := range cfg.Assets {
		if err := l.RegisterAsset(ledger.Asset{
			Address:        common.HexToAddress(a.Address),
			Symbol:         a.Symbol,
			Decimals:       a.Decimals,
			TransferFeeBps: a.TransferFeeBps,
			Minter:         common.HexToAddress(a.Minter),
		}); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// BuildAdapters creates one pool adapter per configured exchange.
func BuildAdapters(cfg config.ExchangeConfig) ([]*exchange.PoolAdapter, error) {
	out := make([]*exchange.PoolAdapter, 0, len(cfg.Adapters))
	for _, ac := range cfg.Adapters {
		adapter := exchange.NewPoolAdapter(ac.Name, common.HexToAddress(ac.Router))
		for _, pc := range ac.Pools {
			if _, err := adapter.AddPool(pc.ID, common.HexToAddress(pc.AssetA), common.HexToAddress(pc.AssetB), pc.FeeBps); err != nil {
				return nil, fmt.Errorf("adapter %s: %w", ac.Name, err)
			}
		}
		out = append(out, adapter)
	}
	return out, nil
}

// VaultConfig translates the vault section into vault.Config.
func VaultConfig(cfg config.VaultConfig, l *ledger.Ledger) (vault.Config, error) {
	out := vault.Config{
		Address:        common.HexToAddress(cfg.Address),
		ReferenceAsset: common.HexToAddress(cfg.ReferenceAsset),
		ShareAsset:     common.HexToAddress(cfg.ShareAsset),
		Fees: vault.FeeConfig{
			DepositFeeBps:    cfg.DepositFeeBps,
			WithdrawalFeeBps: cfg.WithdrawalFeeBps,
			ManagementFeeBps: cfg.ManagementFeeBps,
		},
		Timelock: cfg.Timelock(),
		Adapter:  cfg.ExchangeAdapter,
		Admin:    common.HexToAddress(cfg.Admin),
	}
	if cfg.FeeRecipient != "" {
		out.Fees.Recipient = common.HexToAddress(cfg.FeeRecipient)
	}
	for _, a := range cfg.SupportedAssets {
		out.SupportedAssets = append(out.SupportedAssets, common.HexToAddress(a))
	}

	idle := cfg.IdleConversion
	if idle.IntervalSeconds > 0 || idle.MaxAmount != "" {
		asset, ok := assetOf(l, out.ReferenceAsset)
		if !ok {
			return out, fmt.Errorf("reference asset %s is not registered", cfg.ReferenceAsset)
		}
		maxAmount, err := utils.ToMinorUnits(idle.MaxAmount, asset.Decimals)
		if err != nil {
			return out, fmt.Errorf("idleConversion.maxAmount: %w", err)
		}
		out.Idle = vault.IdlePolicy{
			Interval:       time.Duration(idle.IntervalSeconds) * time.Second,
			MaxAmount:      maxAmount,
			MaxSlippageBps: idle.MaxSlippageBps,
		}
	}
	return out, nil
}

func assetOf(l *ledger.Ledger, addr common.Address) (ledger.Asset, bool) {
	for _, a := range l.Assets() {
		if a.Address == addr {
			return a, true
		}
	}
	return ledger.Asset{}, false
}

// genesisHolder resolves "pool:<id>" to the pool reserve address.
func genesisHolder(holder string) common.Address {
	if id, ok := strings.CutPrefix(holder, poolHolderPrefix); ok {
		return exchange.PoolAddress(id)
	}
	return common.HexToAddress(holder)
}

// MintGenesis credits the configured genesis balances and journals them as
// one "genesis" operation.
func MintGenesis(ctx context.Context, l *ledger.Ledger, genesis []config.GenesisBalance, journal *repository.Journal, clk clock.Clock) error {
	if len(genesis) == 0 {
		return nil
	}
	tx := l.Begin()
	for _, g := range genesis {
		asset, ok := tx.Asset(common.HexToAddress(g.Asset))
		if !ok {
			tx.Discard()
			return fmt.Errorf("genesis asset %s: %w", g.Asset, ledger.ErrUnknownAsset)
		}
		amount, err := utils.ToMinorUnits(g.Amount, asset.Decimals)
		if err != nil {
			tx.Discard()
			return fmt.Errorf("genesis %s for %s: %w", asset.Symbol, g.Holder, err)
		}
		if err := tx.Mint(asset.Address, asset.Minter, genesisHolder(g.Holder), amount); err != nil {
			tx.Discard()
			return fmt.Errorf("genesis %s for %s: %w", asset.Symbol, g.Holder, err)
		}
	}
	if journal != nil {
		balances, supplies := tx.Changes()
		if err := journal.RecordLedger(ctx, repository.LedgerEntry{
			ID:       uuid.NewString(),
			Op:       "genesis",
			At:       clk.Now().UTC(),
			Detail:   map[string]string{"balances": fmt.Sprint(len(balances))},
			Balances: balances,
			Supplies: supplies,
		}); err != nil {
			tx.Discard()
			return fmt.Errorf("journal genesis: %w", err)
		}
	}
	return tx.Commit()
}

// Restore rebuilds the ledger and vault from the journal, or mints genesis
// balances on an empty database. It returns what was done for logging.
func Restore(ctx context.Context, journal *repository.Journal, l *ledger.Ledger, v *vault.Vault, genesis []config.GenesisBalance, clk clock.Clock, logger logrus.FieldLogger) (string, error) {
	snap, err := journal.Load(ctx, v.Address())
	if err != nil {
		return "", err
	}
	if !snap.HasLedger() && !snap.Found {
		if err := MintGenesis(ctx, l, genesis, journal, clk); err != nil {
			return "", err
		}
		logger.WithField("balances", len(genesis)).Info("minted genesis balances")
		return "genesis", nil
	}

	if err := l.Restore(snap.Balances, snap.Supplies); err != nil {
		return "", fmt.Errorf("restore ledger: %w", err)
	}
	if err := l.RestoreAllowances(snap.Allowances); err != nil {
		return "", fmt.Errorf("restore allowances: %w", err)
	}
	if !snap.Found {
		logger.WithField("balances", len(snap.Balances)).Info("restored ledger, vault has no committed operations yet")
		return "ledger", nil
	}
	if err := v.Restore(snap.State, snap.Requests); err != nil {
		return "", fmt.Errorf("restore vault: %w", err)
	}
	logger.WithFields(logrus.Fields{
		"balances": len(snap.Balances),
		"requests": len(snap.Requests),
		"halted":   snap.State.Halted,
	}).Info("restored vault from journal")
	return "journal", nil
}
