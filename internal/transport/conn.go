package transport

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"golang.org/x/crypto/nacl/secretbox"

	"github.com/spacedriveapp/sdcore/internal/device"
	"github.com/spacedriveapp/sdcore/internal/errs"
)

// Conn is one authenticated, multi-stream connection to a peer device.
// It owns the underlying net.Conn, the per-direction session keys a
// device.Session produced, and a stream demultiplexer so many logical
// request/response exchanges share one socket (§4.5 "Every request opens
// a new bidirectional stream on that connection").
type Conn struct {
	raw    net.Conn
	keys   *device.SessionKeys
	logger *slog.Logger

	sendNonce uint64 // monotonically increasing, never reused for SendKey

	writeMu sync.Mutex

	streamsMu sync.Mutex
	streams   map[uint32]*Stream
	nextID    uint32

	closeOnce sync.Once
	closed    chan struct{}
}

// NewConn wraps raw in the record layer keyed by keys and starts its
// background read loop, which demultiplexes inbound frames to whichever
// Stream is waiting on them.
func NewConn(raw net.Conn, keys *device.SessionKeys, logger *slog.Logger) *Conn {
	if logger == nil {
		logger = slog.Default()
	}

	c := &Conn{
		raw:     raw,
		keys:    keys,
		logger:  logger,
		streams: make(map[uint32]*Stream),
		closed:  make(chan struct{}),
	}

	go c.readLoop()

	return c
}

// sealFrame encrypts payload with SendKey under a fresh nonce derived
// from a strictly increasing counter, so the same plaintext never
// produces the same ciphertext twice (required for secretbox/nacl-box
// class AEADs, which forbid nonce reuse under a fixed key).
func (c *Conn) sealFrame(payload []byte) []byte {
	var nonce [24]byte
	n := atomic.AddUint64(&c.sendNonce, 1)
	binary.BigEndian.PutUint64(nonce[16:], n)

	sealed := secretbox.Seal(nonce[:], payload, &nonce, &c.keys.SendKey)

	return sealed
}

func (c *Conn) openFrame(sealed []byte) ([]byte, error) {
	if len(sealed) < 24 {
		return nil, errs.New(errs.ErrTransportClosed, "frame shorter than nonce")
	}

	var nonce [24]byte
	copy(nonce[:], sealed[:24])

	opened, ok := secretbox.Open(nil, sealed[24:], &nonce, &c.keys.ReceiveKey)
	if !ok {
		return nil, errs.New(errs.ErrEncryption, "record layer authentication failed")
	}

	return opened, nil
}

// streamFrame is the wire shape multiplexing many logical streams over
// one encrypted connection: a 4-byte stream id followed by the stream's
// payload, all sealed together as a single secretbox record.
func encodeStreamFrame(streamID uint32, payload []byte) []byte {
	out := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(out[:4], streamID)
	copy(out[4:], payload)

	return out
}

func decodeStreamFrame(frame []byte) (uint32, []byte, error) {
	if len(frame) < 4 {
		return 0, nil, errs.New(errs.ErrTransportClosed, "stream frame shorter than header")
	}

	return binary.BigEndian.Uint32(frame[:4]), frame[4:], nil
}

// controlStreamID is reserved for connection-level messages (Goodbye)
// that are not tied to any application request/response exchange.
const controlStreamID = 0

// readLoop continuously reads length-prefixed, encrypted frames off the
// wire and routes each to its stream's inbox, until the connection
// closes or a frame cannot be read. Frames that fail decryption or
// stream-header decoding are logged and dropped; the loop keeps going.
func (c *Conn) readLoop() {
	defer c.closeRaw()

	for {
		sealed, err := readFrame(c.raw)
		if err != nil {
			c.logger.Debug("transport: read loop ending", "error", err)
			return
		}

		payload, err := c.openFrame(sealed)
		if err != nil {
			c.logger.Warn("transport: dropping undecryptable frame", "error", err)
			continue
		}

		streamID, body, err := decodeStreamFrame(payload)
		if err != nil {
			c.logger.Warn("transport: dropping malformed stream frame", "error", err)
			continue
		}

		if streamID == controlStreamID {
			c.handleControl(body)
			continue
		}

		c.streamsMu.Lock()
		s, ok := c.streams[streamID]
		c.streamsMu.Unlock()

		if !ok {
			c.logger.Debug("transport: frame for unknown stream, dropping", "stream_id", streamID)
			continue
		}

		select {
		case s.inbox <- body:
		case <-s.done:
		}
	}
}

func (c *Conn) handleControl(body []byte) {
	if msg, ok := decodeGoodbye(body); ok {
		c.logger.Info("transport: peer sent goodbye", "reason", msg.Reason)
		c.closeRaw()

		return
	}
}

// OpenStream allocates a new logical stream over the connection.
func (c *Conn) OpenStream() *Stream {
	c.streamsMu.Lock()
	defer c.streamsMu.Unlock()

	c.nextID++
	id := c.nextID

	s := &Stream{
		id:    id,
		conn:  c,
		inbox: make(chan []byte, 8),
		done:  make(chan struct{}),
	}

	c.streams[id] = s

	return s
}

func (c *Conn) closeStream(id uint32) {
	c.streamsMu.Lock()
	defer c.streamsMu.Unlock()

	if s, ok := c.streams[id]; ok {
		close(s.done)
		delete(c.streams, id)
	}
}

func (c *Conn) writeFrame(streamID uint32, payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	sealed := c.sealFrame(encodeStreamFrame(streamID, payload))

	return writeFrame(c.raw, sealed)
}

// Goodbye sends a graceful-disconnect notice on the control stream, then
// closes the underlying socket (§4.5 "On disconnect-by-app, send a
// Goodbye{reason} message, then close. Peers treat Goodbye as non-error").
func (c *Conn) Goodbye(reason string) error {
	if err := c.writeFrame(controlStreamID, encodeGoodbye(goodbyeMessage{Reason: reason})); err != nil {
		return err
	}

	return c.closeRaw()
}

func (c *Conn) closeRaw() error {
	var err error

	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.raw.Close()
	})

	return err
}

// Done is closed once the connection's read loop has stopped.
func (c *Conn) Done() <-chan struct{} { return c.closed }

// Stream is one bidirectional request/response exchange multiplexed over
// a Conn (§4.5 "Each stream is request/response for control messages;
// long transfers may use the stream for streaming bytes directly").
type Stream struct {
	id    uint32
	conn  *Conn
	inbox chan []byte
	done  chan struct{}
}

// Send writes one frame on this stream.
func (s *Stream) Send(payload []byte) error {
	return s.conn.writeFrame(s.id, payload)
}

// Recv blocks for the next frame on this stream, honoring ctx
// cancellation and the connection's own shutdown.
func (s *Stream) Recv(ctx context.Context) ([]byte, error) {
	select {
	case payload, ok := <-s.inbox:
		if !ok {
			return nil, fmt.Errorf("transport: stream %d closed", s.id)
		}

		return payload, nil
	case <-s.conn.closed:
		return nil, errs.ErrTransportClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close releases the stream's slot in the connection's demultiplexer.
// It does not close the underlying connection.
func (s *Stream) Close() {
	s.conn.closeStream(s.id)
}

// goodbyeMessage is the control-stream payload for a graceful close.
type goodbyeMessage struct {
	Reason string
}

func encodeGoodbye(m goodbyeMessage) []byte {
	return []byte("goodbye:" + m.Reason)
}

func decodeGoodbye(body []byte) (goodbyeMessage, bool) {
	const prefix = "goodbye:"

	s := string(body)
	if len(s) < len(prefix) || s[:len(prefix)] != prefix {
		return goodbyeMessage{}, false
	}

	return goodbyeMessage{Reason: s[len(prefix):]}, true
}
