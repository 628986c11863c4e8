package wire

import (
	"fmt"
	"strconv"
	"strings"
)

// BeaconKind distinguishes the two discovery beacon messages.
type BeaconKind string

const (
	BeaconHelo BeaconKind = "HELO"
	BeaconBye  BeaconKind = "BYE"
)

// Beacon is a parsed "HELO <address> <port>" / "BYE <address> <port>" message.
type Beacon struct {
	Kind    BeaconKind
	Address string
	Port    int
}

// EncodeBeacon renders a Beacon as the UTF-16LE wire bytes sent on the
// multicast group.
func EncodeBeacon(b Beacon) []byte {
	return EncodeSegment(fmt.Sprintf("%s %s %d", b.Kind, b.Address, b.Port))
}

// DecodeBeacon parses raw UTF-16LE beacon bytes. Unrecognized kinds or
// malformed payloads return an error.
func DecodeBeacon(raw []byte) (Beacon, error) {
	s, err := DecodeSegment(raw)
	if err != nil {
		return Beacon{}, err
	}
	return ParseBeacon(s)
}

// ParseBeacon parses the already-decoded "HELO <address> <port>" string form.
func ParseBeacon(s string) (Beacon, error) {
	fields := strings.Fields(s)
	if len(fields) != 3 {
		return Beacon{}, fmt.Errorf("wire: malformed beacon %q", s)
	}

	kind := BeaconKind(strings.ToUpper(fields[0]))
	if kind != BeaconHelo && kind != BeaconBye {
		return Beacon{}, fmt.Errorf("wire: unknown beacon kind %q", fields[0])
	}

	port, err := strconv.Atoi(fields[2])
	if err != nil {
		return Beacon{}, fmt.Errorf("wire: invalid beacon port %q: %w", fields[2], err)
	}

	return Beacon{Kind: kind, Address: fields[1], Port: port}, nil
}
