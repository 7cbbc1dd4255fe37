// Package socket implements the Socket Worker: one goroutine per
// stream that dials, subscribes, and runs the read/write/heartbeat
// cycle of spec.md §4.2. There is no authentication step: a stream's
// API key and secret are stored on its record but never sent. Grounded on the
// teacher's streamManager.connect/readLoop/pingLoop, generalized from
// a single hardcoded exchange to any venue.ConnectionInfo and wired to
// golang.org/x/time/rate for control pacing and golang.org/x/net/proxy
// for optional SOCKS5 tunneling.
package socket

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/net/proxy"

	"github.com/coachpo/streamkeeper/internal/supervisor"
)

// MessageType mirrors coder/websocket's frame type constants, kept as
// a distinct type so callers never need to import coder/websocket
// directly.
type MessageType int

const (
	MessageText   MessageType = MessageType(websocket.MessageText)
	MessageBinary MessageType = MessageType(websocket.MessageBinary)
)

// Conn abstracts the subset of *coder/websocket.Conn the worker needs,
// so tests can substitute an in-memory fake instead of dialing a real
// socket (SPEC_FULL.md §10: "no external service required").
type Conn interface {
	Read(ctx context.Context) (MessageType, []byte, error)
	Write(ctx context.Context, typ MessageType, data []byte) error
	Ping(ctx context.Context) error
	Close(reason string) error
	SetReadLimit(limit int64)
}

// Dialer abstracts connection establishment.
type Dialer interface {
	Dial(ctx context.Context, uri string) (Conn, error)
}

// ProxyConfig describes an optional SOCKS5 tunnel for the underlying
// TCP connection.
type ProxyConfig struct {
	Address  string
	Username string
	Password string
	// InsecureSkipVerify disables TLS certificate verification on the
	// tunneled connection (spec.md §6: "TLS verification is togglable
	// independently").
	InsecureSkipVerify bool
}

// RealDialer dials a genuine websocket connection via
// github.com/coder/websocket, optionally tunneled through a SOCKS5
// proxy via golang.org/x/net/proxy.
type RealDialer struct {
	Proxy            *ProxyConfig
	HandshakeTimeout time.Duration
}

// Dial opens a websocket connection to uri.
func (d *RealDialer) Dial(ctx context.Context, uri string) (Conn, error) {
	opts := &websocket.DialOptions{}
	if d.Proxy != nil {
		client, err := d.proxiedHTTPClient()
		if err != nil {
			return nil, err
		}
		opts.HTTPClient = client
	}

	dialCtx := ctx
	var cancel context.CancelFunc
	if d.HandshakeTimeout > 0 {
		dialCtx, cancel = context.WithTimeout(ctx, d.HandshakeTimeout)
		defer cancel()
	}

	conn, resp, err := websocket.Dial(dialCtx, uri, opts)
	if err != nil {
		if resp != nil && resp.StatusCode != 0 && resp.StatusCode != http.StatusSwitchingProtocols {
			return nil, fmt.Errorf("dial: %w", supervisor.BadStatusCode{Code: resp.StatusCode})
		}
		return nil, err
	}
	return &realConn{conn: conn}, nil
}

func (d *RealDialer) proxiedHTTPClient() (*http.Client, error) {
	var auth *proxy.Auth
	if d.Proxy.Username != "" {
		auth = &proxy.Auth{User: d.Proxy.Username, Password: d.Proxy.Password}
	}
	socksDialer, err := proxy.SOCKS5("tcp", d.Proxy.Address, auth, proxy.Direct)
	if err != nil {
		return nil, err
	}
	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			return socksDialer.Dial(network, addr)
		},
		TLSClientConfig: &tls.Config{InsecureSkipVerify: d.Proxy.InsecureSkipVerify}, // #nosec G402 -- operator opt-in.
	}
	return &http.Client{Transport: transport}, nil
}

type realConn struct {
	conn *websocket.Conn
}

func (c *realConn) Read(ctx context.Context) (MessageType, []byte, error) {
	typ, data, err := c.conn.Read(ctx)
	return MessageType(typ), data, err
}

func (c *realConn) Write(ctx context.Context, typ MessageType, data []byte) error {
	return c.conn.Write(ctx, websocket.MessageType(typ), data)
}

func (c *realConn) Ping(ctx context.Context) error {
	return c.conn.Ping(ctx)
}

func (c *realConn) Close(reason string) error {
	return c.conn.Close(websocket.StatusNormalClosure, reason)
}

func (c *realConn) SetReadLimit(limit int64) {
	c.conn.SetReadLimit(limit)
}

// CloseStatus reports the websocket close status code carried by err,
// or -1 if err doesn't carry one.
func CloseStatus(err error) int {
	return int(websocket.CloseStatus(err))
}
