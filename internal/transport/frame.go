// Package transport implements §4.5's secure transport: a single
// multi-protocol endpoint per device, a connection cache that coalesces
// concurrent dials, length-prefixed framed streams, and an authenticated
// record layer keyed by the session keys a device.Session produces.
package transport

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/spacedriveapp/sdcore/internal/errs"
)

// maxFrameSize bounds a single frame's payload, guarding against a
// malformed or hostile length prefix causing an unbounded allocation.
const maxFrameSize = 64 * 1024 * 1024

// writeFrame writes a 4-byte big-endian length prefix followed by payload
// (§4.5 "Request framing").
func writeFrame(w io.Writer, payload []byte) error {
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))

	if _, err := w.Write(header[:]); err != nil {
		return errs.Wrap(errs.ErrTransportClosed, "write frame header", err)
	}

	if _, err := w.Write(payload); err != nil {
		return errs.Wrap(errs.ErrTransportClosed, "write frame payload", err)
	}

	return nil
}

// readFrame reads one length-prefixed frame from r.
func readFrame(r io.Reader) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}

	n := binary.BigEndian.Uint32(header[:])
	if n > maxFrameSize {
		return nil, errs.New(errs.ErrTransportClosed, fmt.Sprintf("frame of %d bytes exceeds maximum", n))
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, errs.Wrap(errs.ErrTransportClosed, "read frame payload", err)
	}

	return payload, nil
}
