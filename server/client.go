package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/teranos/statesync/errors"
	syncPkg "github.com/teranos/statesync/sync"
	"github.com/teranos/statesync/version"
)

// protocolHeader carries version.ProtocolVersion in the sync handshake
const protocolHeader = "X-Statesync-Protocol"

// WebSocket limits following Gorilla's chat example
const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Maximum message size allowed from peer; full syncs carry the whole tree
	maxMessageSize = 8 * 1024 * 1024

	// Time allowed to complete the WebSocket handshake
	dialTimeout = 10 * time.Second
)

// gorillaSyncConn wraps gorilla/websocket.Conn to implement sync.Conn.
type gorillaSyncConn struct {
	conn *websocket.Conn
}

func newGorillaSyncConn(conn *websocket.Conn) *gorillaSyncConn {
	conn.SetReadLimit(maxMessageSize)
	return &gorillaSyncConn{conn: conn}
}

func (c *gorillaSyncConn) ReadJSON(v interface{}) error { return c.conn.ReadJSON(v) }

func (c *gorillaSyncConn) WriteJSON(v interface{}) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteJSON(v)
}

func (c *gorillaSyncConn) Close() error { return c.conn.Close() }

// Dial opens a sync connection to a peer's /ws/sync endpoint
func Dial(ctx context.Context, peer string) (syncPkg.Conn, error) {
	wsURL, err := SyncURL(peer)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("User-Agent", version.Get().UserAgent())
	header.Set(protocolHeader, strconv.Itoa(version.ProtocolVersion))

	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	conn, resp, err := dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil {
			return nil, errors.Wrapf(err, "failed to connect to sync peer %s (status %d)", wsURL, resp.StatusCode)
		}
		return nil, errors.Wrapf(err, "failed to connect to sync peer %s", wsURL)
	}
	return newGorillaSyncConn(conn), nil
}

// Connect dials peer and runs a sync session for channel until ctx is
// cancelled, the channel is destroyed or the connection fails.
func Connect(ctx context.Context, peer string, channel *syncPkg.Channel, log *zap.SugaredLogger, opts ...syncPkg.PeerOption) error {
	conn, err := Dial(ctx, peer)
	if err != nil {
		return err
	}
	return syncPkg.NewPeer(conn, channel, log, opts...).Run(ctx)
}
