// Package dachelog defines the customLogger plug-in point from
// and a default structured adapter over zerolog.
package dachelog

import (
	"os"

	"github.com/rs/zerolog"
)

// Logger is the minimal leveled-logging surface the routing core needs.
// Fields are passed as alternating key/value pairs, zerolog-style, so a
// caller's own logger can be adapted here with a thin shim.
type Logger interface {
	Debug(msg string, kv ...any)
	Info(msg string, kv ...any)
	Warn(msg string, kv ...any)
	Error(msg string, err error, kv ...any)
}

// Zerolog adapts github.com/rs/zerolog to Logger. It is the default
// logger a Client uses when no custom logger is configured.
type Zerolog struct {
	log zerolog.Logger
}

// NewZerolog builds a Zerolog logger writing leveled JSON to stderr.
func NewZerolog() Zerolog {
	return Zerolog{log: zerolog.New(os.Stderr).With().Timestamp().Logger()}
}

func (z Zerolog) Debug(msg string, kv ...any) { z.event(z.log.Debug(), kv).Msg(msg) }
func (z Zerolog) Info(msg string, kv ...any)  { z.event(z.log.Info(), kv).Msg(msg) }
func (z Zerolog) Warn(msg string, kv ...any)  { z.event(z.log.Warn(), kv).Msg(msg) }

func (z Zerolog) Error(msg string, err error, kv ...any) {
	z.event(z.log.Error().Err(err), kv).Msg(msg)
}

func (z Zerolog) event(e *zerolog.Event, kv []any) *zerolog.Event {
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		e = e.Interface(key, kv[i+1])
	}
	return e
}

// Noop discards everything. Useful in tests that don't want log noise.
type Noop struct{}

func (Noop) Debug(string, ...any)        {}
func (Noop) Info(string, ...any)         {}
func (Noop) Warn(string, ...any)         {}
func (Noop) Error(string, error, ...any) {}

var (
	_ Logger = Zerolog{}
	_ Logger = Noop{}
)
