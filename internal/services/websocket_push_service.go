package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"vault-backend/internal/metrics"
	"vault-backend/internal/vault"
)

var ErrPushQueueFull = errors.New("push queue full")

// WebSocket Upgrader
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// origins are enforced by the CORS middleware
		return true
	},
}

const (
	MessageTypeConnectionEstablished = "connection_established"
	MessageTypeVaultEvent            = "vault_event"

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// event fields that name an account a subscriber may filter on
var accountFields = []string{"owner", "receiver", "caller", "recipient", "account", "by"}

// Connection information. An empty UserAddress receives every event.
type Connection struct {
	ID          string          `json:"id"`
	UserAddress string          `json:"user_address"`
	Conn        *websocket.Conn `json:"-"`
	Send        chan []byte     `json:"-"`
	LastPing    time.Time       `json:"last_ping"`
}

// Push message base structure
type PushMessage struct {
	Type        string      `json:"type"`
	Timestamp   string      `json:"timestamp"`
	MessageID   string      `json:"message_id"`
	UserAddress string      `json:"user_address,omitempty"`
	Accounts    []string    `json:"-"`
	Data        interface{} `json:"data"`
}

// WebSocketPushService pushes committed vault events to websocket clients
type WebSocketPushService struct {
	connections map[string]*Connection   // key: connectionID
	userConns   map[string][]*Connection // key: userAddress, "" for the full feed
	hub         chan PushMessage
	register    chan *Connection
	unregister  chan *Connection
	done        chan struct{}
	mutex       sync.RWMutex
	log         logrus.FieldLogger
}

// NewWebSocketPushService creates the hub. Run must be started before
// clients connect.
func NewWebSocketPushService(logger logrus.FieldLogger) *WebSocketPushService {
	return &WebSocketPushService{
		connections: make(map[string]*Connection),
		userConns:   make(map[string][]*Connection),
		hub:         make(chan PushMessage, 256),
		register:    make(chan *Connection),
		unregister:  make(chan *Connection),
		done:        make(chan struct{}),
		log:         logger.WithField("component", "websocket"),
	}
}

// Run serves the hub until ctx is cancelled, then closes every connection.
func (s *WebSocketPushService) Run(ctx context.Context) {
	defer func() {
		s.mutex.Lock()
		for _, conn := range s.connections {
			s.dropLocked(conn)
		}
		s.mutex.Unlock()
		close(s.done)
	}()

	for {
		select {
		case conn := <-s.register:
			s.handleRegister(conn)

		case conn := <-s.unregister:
			s.handleUnregister(conn)

		case message := <-s.hub:
			s.handleBroadcast(message)

		case <-ctx.Done():
			return
		}
	}
}

func (s *WebSocketPushService) Name() string { return "websocket" }

// Publish is an events.Sink. It queues ev for every full-feed client and
// for clients subscribed to an account the event names.
func (s *WebSocketPushService) Publish(ev vault.Event) error {
	msg := PushMessage{
		Type:      MessageTypeVaultEvent,
		Timestamp: ev.At.UTC().Format(time.RFC3339),
		MessageID: generateMessageID(),
		Accounts:  eventAccounts(ev),
		Data:      ev,
	}
	select {
	case s.hub <- msg:
		return nil
	case <-s.done:
		return nil
	default:
		return ErrPushQueueFull
	}
}

// eventAccounts lists the distinct checksummed addresses in ev.Fields.
func eventAccounts(ev vault.Event) []string {
	var out []string
	seen := make(map[string]bool)
	for _, key := range accountFields {
		v, ok := ev.Fields[key]
		if !ok || !common.IsHexAddress(v) {
			continue
		}
		addr := common.HexToAddress(v).Hex()
		if !seen[addr] {
			seen[addr] = true
			out = append(out, addr)
		}
	}
	return out
}

func (s *WebSocketPushService) handleRegister(conn *Connection) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.connections[conn.ID] = conn
	s.userConns[conn.UserAddress] = append(s.userConns[conn.UserAddress], conn)
	metrics.WebSocketClients.Inc()

	s.log.WithFields(logrus.Fields{"user": conn.UserAddress, "conn_id": conn.ID}).Info("websocket connection registered")

	s.sendToConnection(conn, PushMessage{
		Type:        MessageTypeConnectionEstablished,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		MessageID:   generateMessageID(),
		UserAddress: conn.UserAddress,
		Data: map[string]interface{}{
			"user_address":  conn.UserAddress,
			"connection_id": conn.ID,
		},
	})
}

func (s *WebSocketPushService) handleUnregister(conn *Connection) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.dropLocked(conn)
}

// dropLocked removes conn and closes its send channel once.
func (s *WebSocketPushService) dropLocked(conn *Connection) {
	if _, ok := s.connections[conn.ID]; !ok {
		return
	}
	delete(s.connections, conn.ID)

	if userConns, exists := s.userConns[conn.UserAddress]; exists {
		for i, c := range userConns {
			if c.ID == conn.ID {
				s.userConns[conn.UserAddress] = append(userConns[:i], userConns[i+1:]...)
				break
			}
		}
		if len(s.userConns[conn.UserAddress]) == 0 {
			delete(s.userConns, conn.UserAddress)
		}
	}

	close(conn.Send)
	if conn.Conn != nil {
		conn.Conn.Close()
	}
	metrics.WebSocketClients.Dec()
	s.log.WithFields(logrus.Fields{"user": conn.UserAddress, "conn_id": conn.ID}).Info("websocket connection unregistered")
}

func (s *WebSocketPushService) handleBroadcast(message PushMessage) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	targets := append([]*Connection(nil), s.userConns[""]...)
	for _, addr := range message.Accounts {
		targets = append(targets, s.userConns[addr]...)
	}
	if len(targets) == 0 {
		return
	}

	data, err := json.Marshal(message)
	if err != nil {
		s.log.WithError(err).Error("failed to marshal push message")
		return
	}

	sent, failed := 0, 0
	for _, conn := range targets {
		select {
		case conn.Send <- data:
			sent++
		default:
			failed++
			s.log.WithField("conn_id", conn.ID).Warn("send buffer full, message dropped")
		}
	}
	s.log.WithFields(logrus.Fields{
		"type":   message.Type,
		"sent":   sent,
		"failed": failed,
	}).Debug("push delivered")
}

func (s *WebSocketPushService) sendToConnection(conn *Connection, message PushMessage) {
	data, err := json.Marshal(message)
	if err != nil {
		s.log.WithError(err).Error("failed to marshal push message")
		return
	}
	select {
	case conn.Send <- data:
	default:
		s.log.WithField("conn_id", conn.ID).Warn("send buffer full, message dropped")
	}
}

// HandleWebSocket upgrades the request. userAddress filters the feed to
// events naming that account; empty subscribes to every event.
func (s *WebSocketPushService) HandleWebSocket(w http.ResponseWriter, r *http.Request, userAddress string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	if userAddress != "" {
		userAddress = common.HexToAddress(userAddress).Hex()
	}
	connection := &Connection{
		ID:          uuid.NewString(),
		UserAddress: userAddress,
		Conn:        conn,
		Send:        make(chan []byte, 256),
		LastPing:    time.Now(),
	}

	select {
	case s.register <- connection:
	case <-s.done:
		conn.Close()
		return
	}

	go s.handleConnectionWrite(connection)
	go s.handleConnectionRead(connection)
}

func (s *WebSocketPushService) handleConnectionWrite(conn *Connection) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-conn.Send:
			conn.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				s.log.WithError(err).WithField("conn_id", conn.ID).Debug("write message failed")
				return
			}

		case <-ticker.C:
			conn.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *WebSocketPushService) handleConnectionRead(conn *Connection) {
	defer func() {
		select {
		case s.unregister <- conn:
		case <-s.done:
		}
		conn.Conn.Close()
	}()

	conn.Conn.SetReadLimit(512)
	conn.Conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.Conn.SetPongHandler(func(string) error {
		conn.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := conn.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.log.WithError(err).WithField("conn_id", conn.ID).Warn("websocket read error")
			}
			return
		}
	}
}

// GetActiveConnections number of registered connections
func (s *WebSocketPushService) GetActiveConnections() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.connections)
}

// GetUserConnections number of connections subscribed to userAddress
func (s *WebSocketPushService) GetUserConnections(userAddress string) int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.userConns[userAddress])
}

func generateMessageID() string {
	return uuid.NewString()
}
