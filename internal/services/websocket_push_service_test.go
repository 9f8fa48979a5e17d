package services_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vault-backend/internal/services"
	"vault-backend/internal/vault"
)

type pushEnvelope struct {
	Type string      `json:"type"`
	Data vault.Event `json:"data"`
}

func dial(t *testing.T, srv *httptest.Server, account string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?account=" + account
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	var hello pushEnvelope
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	require.NoError(t, conn.ReadJSON(&hello))
	require.Equal(t, services.MessageTypeConnectionEstablished, hello.Type)
	return conn
}

func TestWebSocketPushFiltersByAccount(t *testing.T) {
	e := newEnv(t)
	hub := services.NewWebSocketPushService(e.log)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.HandleWebSocket(w, r, r.URL.Query().Get("account"))
	}))
	defer srv.Close()

	all := dial(t, srv, "")
	defer all.Close()
	aliceConn := dial(t, srv, strings.ToLower(alice.Hex()))
	defer aliceConn.Close()
	bobConn := dial(t, srv, bob.Hex())
	defer bobConn.Close()

	assert.Equal(t, 3, hub.GetActiveConnections())
	assert.Equal(t, 1, hub.GetUserConnections(alice.Hex()))

	ev := vault.Event{
		Name:   vault.EventDeposited,
		Vault:  vaddr,
		OpID:   "op-1",
		At:     genesis,
		Fields: map[string]string{"caller": alice.Hex(), "receiver": alice.Hex(), "received": "10"},
	}
	require.NoError(t, hub.Publish(ev))

	for _, c := range []*websocket.Conn{all, aliceConn} {
		var msg pushEnvelope
		require.NoError(t, c.SetReadDeadline(time.Now().Add(time.Second)))
		require.NoError(t, c.ReadJSON(&msg))
		assert.Equal(t, services.MessageTypeVaultEvent, msg.Type)
		assert.Equal(t, vault.EventDeposited, msg.Data.Name)
		assert.Equal(t, "op-1", msg.Data.OpID)
	}

	require.NoError(t, bobConn.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	_, _, err := bobConn.ReadMessage()
	require.Error(t, err, "bob is not named by the event")
}

func TestWebSocketPushClosesClientsOnShutdown(t *testing.T) {
	e := newEnv(t)
	hub := services.NewWebSocketPushService(e.log)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.HandleWebSocket(w, r, "")
	}))
	defer srv.Close()

	conn := dial(t, srv, "")
	defer conn.Close()

	cancel()
	<-done
	assert.Equal(t, 0, hub.GetActiveConnections())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)

	// publishing after shutdown is a no-op
	require.NoError(t, hub.Publish(vault.Event{Name: vault.EventHalted, Vault: vaddr}))
}
