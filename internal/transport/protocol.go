package transport

import (
	"github.com/spacedriveapp/sdcore/internal/errs"
)

// Protocol is the ALPN-style selector a connection negotiates before any
// application frames flow (§4.5 "distinguished by an ALPN-style
// selector").
type Protocol string

const (
	ProtocolPairing     Protocol = "pairing"
	ProtocolMessaging   Protocol = "messaging"
	ProtocolSync        Protocol = "sync"
	ProtocolFileTransfer Protocol = "file-transfer"
)

// validProtocols is consulted by both dial and accept sides so an unknown
// selector fails fast instead of silently routing to the wrong handler.
var validProtocols = map[Protocol]bool{
	ProtocolPairing:      true,
	ProtocolMessaging:    true,
	ProtocolSync:         true,
	ProtocolFileTransfer: true,
}

func validateProtocol(p Protocol) error {
	if !validProtocols[p] {
		return errs.New(errs.ErrTransportClosed, "unknown protocol selector: "+string(p))
	}

	return nil
}
