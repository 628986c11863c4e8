// Package invalidate implements the Invalidation Listener: it consumes
// raw framed messages pushed by any Host Connection and raises a
// per-key expiration callback for "expire" commands.
package invalidate

import (
	"bytes"
	"strings"

	"github.com/menismu/dache/wire"
)

// Listener decodes inbound host-pushed frames and raises OnExpired for
// each key named in an "expire" command. Unknown commands are ignored,
// per the command dispatch rule below.
type Listener struct {
	onExpired []func(cacheKey string)
}

// NewListener constructs an empty Listener; subscribe with OnExpired.
func NewListener() *Listener {
	return &Listener{}
}

// OnExpired subscribes fn to per-key CacheItemExpired notifications.
func (l *Listener) OnExpired(fn func(cacheKey string)) {
	l.onExpired = append(l.onExpired, fn)
}

// HandleMessage decodes one raw frame (as delivered by a
// hostconn.Conn's MessageReceived event) and dispatches it. The frame
// format is repeated length-prefixed UTF-16LE segments; the first
// segment is the command name, compared case-insensitively.
func (l *Listener) HandleMessage(raw []byte) {
	segments, err := wire.ReadFrame(bytes.NewReader(raw))
	if err != nil || len(segments) == 0 {
		return
	}

	switch strings.ToLower(segments[0]) {
	case "expire":
		for _, key := range segments[1:] {
			for _, fn := range l.onExpired {
				fn(key)
			}
		}
	default:
		// Unknown inbound command: silently ignored.
	}
}
