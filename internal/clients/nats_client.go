package clients

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"

	"vault-backend/internal/config"
	"vault-backend/internal/metrics"
	"vault-backend/internal/vault"
)

const streamName = "VAULT_EVENTS"

// NATSClient NATS client publishing vault events
type NATSClient struct {
	conn   *nats.Conn
	js     nats.JetStreamContext
	prefix string
}

// NewNATSClient CreateNATS client. JetStream is used for publishing only
// when enabled in cfg.
func NewNATSClient(cfg config.NATSConfig) (*NATSClient, error) {
	connectTimeout := 10 * time.Second
	if cfg.Timeout > 0 {
		connectTimeout = time.Duration(cfg.Timeout) * time.Second
	}
	reconnectWait := 5 * time.Second
	if cfg.ReconnectWait > 0 {
		reconnectWait = time.Duration(cfg.ReconnectWait) * time.Second
	}
	maxReconnects := -1
	if cfg.MaxReconnects > 0 {
		maxReconnects = cfg.MaxReconnects
	}

	conn, err := nats.Connect(cfg.URL,
		nats.Name("vault-backend"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Printf("⚠️ NATS disconnected: %v", err)
			metrics.NATSConnectionStatus.Set(0)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("✅ NATS reconnected to %s", nc.ConnectedUrl())
			metrics.NATSConnectionStatus.Set(1)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect NATS failed: %w", err)
	}
	metrics.NATSConnectionStatus.Set(1)

	client := &NATSClient{conn: conn, prefix: cfg.SubjectPrefix}
	if client.prefix == "" {
		client.prefix = "vault"
	}

	if cfg.EnableJetStream {
		js, err := conn.JetStream()
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("create JetStream failed: %w", err)
		}
		client.js = js
		if err := client.ensureStream(); err != nil {
			conn.Close()
			return nil, err
		}
	}

	log.Printf("✅ NATS client connected: %s (prefix=%s, jetstream=%v)", cfg.URL, client.prefix, client.js != nil)
	return client, nil
}

// ensureStream JetStream stream exists
func (c *NATSClient) ensureStream() error {
	if _, err := c.js.StreamInfo(streamName); err == nil {
		log.Printf("📋 stream %s already exists", streamName)
		return nil
	}

	_, err := c.js.AddStream(&nats.StreamConfig{
		Name:      streamName,
		Subjects:  []string{c.prefix + ".>"},
		Retention: nats.LimitsPolicy,
		MaxAge:    7 * 24 * time.Hour,
		Storage:   nats.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("create stream %s failed: %w", streamName, err)
	}
	log.Printf("✅ stream %s created", streamName)
	return nil
}

func (c *NATSClient) Name() string { return "nats" }

// Subject returns <prefix>.<vault>.<EventName>.
func (c *NATSClient) Subject(ev vault.Event) string {
	return EventSubject(c.prefix, ev)
}

// EventSubject builds the subject an event is published on.
func EventSubject(prefix string, ev vault.Event) string {
	return fmt.Sprintf("%s.%s.%s", prefix, ev.Vault.Hex(), ev.Name)
}

// Publish sends one vault event as JSON.
func (c *NATSClient) Publish(ev vault.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		metrics.NATSMessagesFailed.WithLabelValues(ev.Name).Inc()
		return fmt.Errorf("encode event failed: %w", err)
	}

	subject := c.Subject(ev)
	if c.js != nil {
		_, err = c.js.Publish(subject, data, nats.MsgId(ev.OpID+"/"+ev.Name))
	} else {
		err = c.conn.Publish(subject, data)
	}
	if err != nil {
		metrics.NATSMessagesFailed.WithLabelValues(ev.Name).Inc()
		return fmt.Errorf("publish %s failed: %w", subject, err)
	}
	metrics.NATSMessagesPublished.WithLabelValues(ev.Name).Inc()
	return nil
}

// Connected reports the connection state for health checks.
func (c *NATSClient) Connected() bool {
	return c.conn != nil && c.conn.IsConnected()
}

func (c *NATSClient) Close() {
	if c.conn != nil {
		c.conn.Drain()
		c.conn.Close()
	}
}
