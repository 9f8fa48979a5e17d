package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ============================================
	// 数据库连接指标
	// ============================================
	DBConnectionOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vault_db_connections_open",
		Help: "Number of open database connections",
	})

	DBConnectionStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vault_db_connection_status",
		Help: "Database connection status (1=healthy, 0=unhealthy)",
	})

	// ============================================
	// 金库操作指标
	// ============================================
	VaultOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vault_operations_total",
			Help: "Vault operations by name and result (ok or error kind)",
		},
		[]string{"op", "result"},
	)

	VaultOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vault_operation_duration_seconds",
			Help:    "Vault operation duration including queueing",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	VaultQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vault_sequencer_queue_depth",
		Help: "Operations waiting for the vault sequencer",
	})

	// ============================================
	// 金库状态指标
	// ============================================
	VaultPricePerShare = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vault_price_per_share",
		Help: "Reference-asset minor units per share",
	})

	VaultTotalSupply = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vault_total_supply",
		Help: "Outstanding vault shares",
	})

	VaultCustody = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vault_custody",
		Help: "Reference asset held by the vault",
	})

	VaultAvailable = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vault_available",
		Help: "Reference asset held minus pending withdrawal reserve",
	})

	VaultPendingReserve = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vault_pending_reserve",
		Help: "Reference asset reserved for pending withdrawal requests",
	})

	VaultHalted = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vault_halted",
		Help: "1 while the vault is halted",
	})

	// ============================================
	// 闲置资产兑换指标
	// ============================================
	IdleConversions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vault_idle_conversions_total",
			Help: "Keeper idle-conversion attempts by asset and status",
		},
		[]string{"asset", "status"},
	)

	IdleConversionOutput = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vault_idle_conversion_output_total",
			Help: "Reference asset received from idle conversions",
		},
		[]string{"asset"},
	)

	// ============================================
	// NATS 和 WebSocket 指标
	// ============================================
	NATSConnectionStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vault_nats_connection_status",
		Help: "NATS connection status (1=connected, 0=disconnected)",
	})

	NATSMessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vault_nats_messages_published_total",
			Help: "Total number of NATS messages published",
		},
		[]string{"event_type"},
	)

	NATSMessagesFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vault_nats_messages_failed_total",
			Help: "Total number of NATS messages failed to publish",
		},
		[]string{"event_type"},
	)

	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vault_websocket_clients",
		Help: "Connected websocket clients",
	})

	// ============================================
	// HTTP 指标
	// ============================================
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vault_http_requests_total",
			Help: "HTTP requests by route and status",
		},
		[]string{"method", "route", "status"},
	)
)
