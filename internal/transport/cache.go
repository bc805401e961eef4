package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/spacedriveapp/sdcore/internal/device"
	"github.com/spacedriveapp/sdcore/internal/errs"
)

// DialTimeout bounds establishing a new connection (§5 Timeouts:
// "Connection dial: 10 s").
const DialTimeout = 10 * time.Second

// Dialer opens a fresh transport-level connection to peerDeviceID and
// returns the session keys negotiated for it (via a prior pairing or a
// reconnect key-agreement — both produce a *device.SessionKeys; this
// package only consumes the result).
type Dialer func(ctx context.Context, peerDeviceID string) (net.Conn, *device.SessionKeys, error)

type connKey struct {
	peerDeviceID string
	protocol     Protocol
}

func (k connKey) String() string {
	return k.peerDeviceID + "|" + string(k.protocol)
}

// Cache ensures exactly one live connection exists per (peer, protocol)
// pair (§4.5 "Connection cache"), coalescing concurrent callers onto a
// single in-flight dial via singleflight — directly reusing the
// golang.org/x/sync module already in this stack's worker-pool code
// (teacher's errgroup-based TransferManager), here applied to its
// sibling dial-coalescing primitive.
type Cache struct {
	mu    sync.Mutex
	conns map[connKey]*Conn

	group  singleflight.Group
	dial   Dialer
	logger *slog.Logger
}

// NewCache builds a connection cache backed by dial.
func NewCache(dial Dialer, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}

	return &Cache{
		conns:  make(map[connKey]*Conn),
		dial:   dial,
		logger: logger,
	}
}

// Get returns the cached connection for (peerDeviceID, protocol),
// establishing and negotiating one if none exists or the cached one has
// closed.
func (c *Cache) Get(ctx context.Context, peerDeviceID string, protocol Protocol) (*Conn, error) {
	if err := validateProtocol(protocol); err != nil {
		return nil, err
	}

	key := connKey{peerDeviceID, protocol}

	c.mu.Lock()
	if existing, ok := c.conns[key]; ok {
		select {
		case <-existing.Done():
			delete(c.conns, key)
		default:
			c.mu.Unlock()
			return existing, nil
		}
	}
	c.mu.Unlock()

	result, err, _ := c.group.Do(key.String(), func() (any, error) {
		return c.establish(ctx, peerDeviceID, protocol)
	})
	if err != nil {
		return nil, err
	}

	return result.(*Conn), nil
}

func (c *Cache) establish(ctx context.Context, peerDeviceID string, protocol Protocol) (*Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, DialTimeout)
	defer cancel()

	raw, keys, err := c.dial(dialCtx, peerDeviceID)
	if err != nil {
		return nil, errs.Wrap(errs.ErrTransportClosed, fmt.Sprintf("dial %s for %s", peerDeviceID, protocol), err)
	}

	if err := writeFrame(raw, []byte(protocol)); err != nil {
		_ = raw.Close()
		return nil, err
	}

	conn := NewConn(raw, keys, c.logger)

	c.mu.Lock()
	c.conns[connKey{peerDeviceID, protocol}] = conn
	c.mu.Unlock()

	return conn, nil
}

// Accept negotiates the protocol selector off a freshly-accepted raw
// connection (the server side of establish) and wraps it in the record
// layer.
func Accept(raw net.Conn, keys *device.SessionKeys, logger *slog.Logger) (*Conn, Protocol, error) {
	selector, err := readFrame(raw)
	if err != nil {
		return nil, "", errs.Wrap(errs.ErrTransportClosed, "read protocol selector", err)
	}

	protocol := Protocol(selector)
	if err := validateProtocol(protocol); err != nil {
		_ = raw.Close()
		return nil, "", err
	}

	return NewConn(raw, keys, logger), protocol, nil
}

// Close closes and evicts every cached connection, sending Goodbye on
// each (used on process shutdown).
func (c *Cache) Close(reason string) {
	c.mu.Lock()
	conns := make([]*Conn, 0, len(c.conns))

	for k, conn := range c.conns {
		conns = append(conns, conn)
		delete(c.conns, k)
	}
	c.mu.Unlock()

	for _, conn := range conns {
		_ = conn.Goodbye(reason)
	}
}
