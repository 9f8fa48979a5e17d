package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

const (
	maxFeeBps           = 500
	maxTimelockSeconds  = 7 * 24 * 3600
	defaultServerPort   = 8080
	defaultTokenTTL     = 24
	defaultNonceTTL     = 300
	defaultKeeperPeriod = 300
)

// Config application configuration structure
type Config struct {
	Server    ServerConfig   `yaml:"server"`
	Database  DatabaseConfig `yaml:"database"`
	NATS      NATSConfig     `yaml:"nats"`
	Logging   LoggingConfig  `yaml:"logging"`
	Vault     VaultConfig    `yaml:"vault"`
	Ledger    LedgerConfig   `yaml:"ledger"`
	Exchange  ExchangeConfig `yaml:"exchange"`
	Keeper    KeeperConfig   `yaml:"keeper"`
	Snapshots SnapshotConfig `yaml:"snapshots"`
	Auth      AuthConfig     `yaml:"auth"`
	Admin     AdminConfig    `yaml:"admin"`
	CORS      CORSConfig     `yaml:"cors"`
}

// ServerConfig server configuration
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DatabaseConfig Database configuration. Driver is "postgres" or "sqlite".
type DatabaseConfig struct {
	DSN    string `yaml:"dsn"`
	Driver string `yaml:"driver"`
}

// NATSConfig NATS message server configuration. An empty URL disables
// event publishing.
type NATSConfig struct {
	URL             string `yaml:"url"`
	Timeout         int    `yaml:"timeout"`
	ReconnectWait   int    `yaml:"reconnect_wait"`
	MaxReconnects   int    `yaml:"max_reconnects"`
	EnableJetStream bool   `yaml:"enable_jetstream"`
	SubjectPrefix   string `yaml:"subject_prefix"`
}

// LoggingConfig logrus configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json or text
}

// VaultConfig identity and initial settings of the vault
type VaultConfig struct {
	Address                   string               `yaml:"address"`
	ReferenceAsset            string               `yaml:"referenceAsset"`
	ShareAsset                string               `yaml:"shareAsset"`
	SupportedAssets           []string             `yaml:"supportedAssets"`
	DepositFeeBps             uint32               `yaml:"depositFeeBps"`
	WithdrawalFeeBps          uint32               `yaml:"withdrawalFeeBps"`
	ManagementFeeBps          uint32               `yaml:"managementFeeBps"`
	FeeRecipient              string               `yaml:"feeRecipient"`
	WithdrawalTimelockSeconds uint64               `yaml:"withdrawalTimelockSeconds"`
	ExchangeAdapter           string               `yaml:"exchangeAdapter"`
	Admin                     string               `yaml:"admin"`
	IdleConversion            IdleConversionConfig `yaml:"idleConversion"`
}

// IdleConversionConfig initial idle-conversion policy. MaxAmount is a
// decimal string in whole units of the reference asset.
type IdleConversionConfig struct {
	IntervalSeconds int64  `yaml:"intervalSeconds"`
	MaxAmount       string `yaml:"maxAmount"`
	MaxSlippageBps  uint32 `yaml:"maxSlippageBps"`
}

// LedgerConfig registered assets and genesis balances of the host ledger
type LedgerConfig struct {
	Assets  []AssetConfig    `yaml:"assets"`
	Genesis []GenesisBalance `yaml:"genesis"`
	// FaucetEnabled exposes the admin mint endpoint.
	FaucetEnabled bool `yaml:"faucetEnabled"`
}

// AssetConfig one fungible asset
type AssetConfig struct {
	Address        string `yaml:"address"`
	Symbol         string `yaml:"symbol"`
	Decimals       uint8  `yaml:"decimals"`
	TransferFeeBps uint32 `yaml:"transferFeeBps"`
	Minter         string `yaml:"minter"`
}

// GenesisBalance is minted once into an empty ledger. Holder may be an
// address or "pool:<id>" for exchange pool reserves. Amount is a decimal
// string in whole units of the asset.
type GenesisBalance struct {
	Asset  string `yaml:"asset"`
	Holder string `yaml:"holder"`
	Amount string `yaml:"amount"`
}

// ExchangeConfig exchange adapters available to the vault
type ExchangeConfig struct {
	Adapters []AdapterConfig `yaml:"adapters"`
}

// AdapterConfig a constant-product pool adapter
type AdapterConfig struct {
	Name   string       `yaml:"name"`
	Router string       `yaml:"router"`
	Pools  []PoolConfig `yaml:"pools"`
}

// PoolConfig one pool of an adapter
type PoolConfig struct {
	ID     string `yaml:"id"`
	AssetA string `yaml:"assetA"`
	AssetB string `yaml:"assetB"`
	FeeBps uint32 `yaml:"feeBps"`
}

// KeeperConfig idle-conversion keeper loop
type KeeperConfig struct {
	Enabled         bool              `yaml:"enabled"`
	Address         string            `yaml:"address"`
	IntervalSeconds int               `yaml:"intervalSeconds"`
	Assets          []string          `yaml:"assets"`
	RouteHints      map[string]string `yaml:"routeHints"`
}

// SnapshotConfig periodic vault snapshots
type SnapshotConfig struct {
	Enabled         bool `yaml:"enabled"`
	IntervalSeconds int  `yaml:"intervalSeconds"`
	RetentionDays   int  `yaml:"retentionDays"` // 0 keeps everything
}

// AuthConfig user wallet-signature login
type AuthConfig struct {
	JWTSecret       string `yaml:"jwtSecret"`
	TokenTTLHours   int    `yaml:"tokenTTLHours"`
	NonceTTLSeconds int    `yaml:"nonceTTLSeconds"`
}

// AdminConfig admin API access control configuration
type AdminConfig struct {
	Username      string   `yaml:"username"`
	PasswordHash  string   `yaml:"passwordHash"` // bcrypt
	TOTPSecret    string   `yaml:"totpSecret"`
	JWTSecret     string   `yaml:"jwtSecret"`
	TokenTTLHours int      `yaml:"tokenTTLHours"`
	Address       string   `yaml:"address"` // caller address used for admin vault operations
	AllowedIPs    []string `yaml:"allowedIPs"`
}

// CORSConfig CORS configuration
type CORSConfig struct {
	AllowedOrigins   []string `yaml:"allowedOrigins"`
	AllowCredentials bool     `yaml:"allowCredentials"`
	MaxAge           int      `yaml:"maxAge"`
}

var AppConfig *Config

// LoadConfig Load configuration file into AppConfig
func LoadConfig(configPath string) error {
	cfg, err := Load(configPath)
	if err != nil {
		return err
	}
	AppConfig = cfg
	return nil
}

// Load reads, overrides from the environment, applies defaults and
// validates a configuration file. An empty path means config.yaml, or
// config.local.yaml when present.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
		if _, err := os.Stat("config.local.yaml"); err == nil {
			configPath = "config.local.yaml"
			log.Printf("🔧 Using local configuration file: config.local.yaml")
		}
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	overrideFromEnv(&cfg)
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", configPath, err)
	}
	log.Printf("✅ Loaded configuration from %s (db=%s, adapters=%d, assets=%d)", configPath, cfg.Database.Driver, len(cfg.Exchange.Adapters), len(cfg.Ledger.Assets))
	return &cfg, nil
}

// overrideFromEnv Override configuration from environment variables
func overrideFromEnv(config *Config) {
	if dsn := os.Getenv("DATABASE_DSN"); dsn != "" {
		config.Database.DSN = dsn
	}
	if driver := os.Getenv("DATABASE_DRIVER"); driver != "" {
		config.Database.Driver = driver
	}

	if host := os.Getenv("SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}

	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		config.NATS.URL = natsURL
	}
	if natsTimeout := os.Getenv("NATS_TIMEOUT"); natsTimeout != "" {
		if t, err := strconv.Atoi(natsTimeout); err == nil {
			config.NATS.Timeout = t
		}
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}

	if secret := os.Getenv("AUTH_JWT_SECRET"); secret != "" {
		config.Auth.JWTSecret = secret
	}
	if secret := os.Getenv("ADMIN_JWT_SECRET"); secret != "" {
		config.Admin.JWTSecret = secret
	}
	if secret := os.Getenv("ADMIN_TOTP_SECRET"); secret != "" {
		config.Admin.TOTPSecret = secret
	}
	if hash := os.Getenv("ADMIN_PASSWORD_HASH"); hash != "" {
		config.Admin.PasswordHash = hash
	}

	if corsOrigins := os.Getenv("CORS_ALLOWED_ORIGINS"); corsOrigins != "" {
		origins := strings.Split(corsOrigins, ",")
		config.CORS.AllowedOrigins = make([]string, 0, len(origins))
		for _, origin := range origins {
			if trimmed := strings.TrimSpace(origin); trimmed != "" {
				config.CORS.AllowedOrigins = append(config.CORS.AllowedOrigins, trimmed)
			}
		}
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = defaultServerPort
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "postgres"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.NATS.SubjectPrefix == "" {
		c.NATS.SubjectPrefix = "vault"
	}
	if c.Auth.TokenTTLHours == 0 {
		c.Auth.TokenTTLHours = defaultTokenTTL
	}
	if c.Auth.NonceTTLSeconds == 0 {
		c.Auth.NonceTTLSeconds = defaultNonceTTL
	}
	if c.Admin.TokenTTLHours == 0 {
		c.Admin.TokenTTLHours = defaultTokenTTL
	}
	if c.Keeper.IntervalSeconds == 0 {
		c.Keeper.IntervalSeconds = defaultKeeperPeriod
	}
	if c.Snapshots.IntervalSeconds == 0 {
		c.Snapshots.IntervalSeconds = defaultKeeperPeriod
	}
}

// Validate rejects configurations the vault would refuse at startup.
func (c *Config) Validate() error {
	var errs []error
	check := func(field, value string, required bool) {
		if value == "" {
			if required {
				errs = append(errs, fmt.Errorf("%s is required", field))
			}
			return
		}
		if !common.IsHexAddress(value) {
			errs = append(errs, fmt.Errorf("%s: malformed address %q", field, value))
		}
	}

	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("database.driver: unsupported %q", c.Database.Driver))
	}

	v := c.Vault
	check("vault.address", v.Address, true)
	check("vault.referenceAsset", v.ReferenceAsset, true)
	check("vault.shareAsset", v.ShareAsset, true)
	check("vault.admin", v.Admin, true)
	check("vault.feeRecipient", v.FeeRecipient, false)
	for i, a := range v.SupportedAssets {
		check(fmt.Sprintf("vault.supportedAssets[%d]", i), a, true)
	}
	for name, bps := range map[string]uint32{
		"vault.depositFeeBps":    v.DepositFeeBps,
		"vault.withdrawalFeeBps": v.WithdrawalFeeBps,
		"vault.managementFeeBps": v.ManagementFeeBps,
	} {
		if bps > maxFeeBps {
			errs = append(errs, fmt.Errorf("%s: %d exceeds %d", name, bps, maxFeeBps))
		}
	}
	if (v.DepositFeeBps > 0 || v.WithdrawalFeeBps > 0) && v.FeeRecipient == "" {
		errs = append(errs, errors.New("vault.feeRecipient is required when deposit or withdrawal fees are set"))
	}
	if v.WithdrawalTimelockSeconds > maxTimelockSeconds {
		errs = append(errs, fmt.Errorf("vault.withdrawalTimelockSeconds: %d exceeds 7 days", v.WithdrawalTimelockSeconds))
	}
	if v.ExchangeAdapter == "" {
		errs = append(errs, errors.New("vault.exchangeAdapter is required"))
	}

	for i, a := range c.Ledger.Assets {
		check(fmt.Sprintf("ledger.assets[%d].address", i), a.Address, true)
		check(fmt.Sprintf("ledger.assets[%d].minter", i), a.Minter, false)
	}
	names := make(map[string]bool)
	for i, a := range c.Exchange.Adapters {
		if a.Name == "" || names[a.Name] {
			errs = append(errs, fmt.Errorf("exchange.adapters[%d]: missing or duplicate name %q", i, a.Name))
		}
		names[a.Name] = true
		check(fmt.Sprintf("exchange.adapters[%d].router", i), a.Router, true)
		for j, p := range a.Pools {
			check(fmt.Sprintf("exchange.adapters[%d].pools[%d].assetA", i, j), p.AssetA, true)
			check(fmt.Sprintf("exchange.adapters[%d].pools[%d].assetB", i, j), p.AssetB, true)
		}
	}
	if v.ExchangeAdapter != "" && !names[v.ExchangeAdapter] {
		errs = append(errs, fmt.Errorf("vault.exchangeAdapter: %q is not configured", v.ExchangeAdapter))
	}
	if c.Keeper.Enabled {
		check("keeper.address", c.Keeper.Address, true)
	}
	check("admin.address", c.Admin.Address, false)
	return errors.Join(errs...)
}

// Timelock returns the configured withdrawal timelock.
func (v VaultConfig) Timelock() time.Duration {
	return time.Duration(v.WithdrawalTimelockSeconds) * time.Second
}

// ListenAddr returns host:port for the HTTP server.
func (s ServerConfig) ListenAddr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}
