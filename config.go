package dache

import (
	"github.com/menismu/dache/dachelog"
	"github.com/menismu/dache/hostconn"
	"github.com/menismu/dache/serialize"
)

// HostAddress is one entry of Config.CacheHosts.
type HostAddress struct {
	Address string
	Port    int
}

// Config is the typed settings record the Client accepts, matching
// The library never reads the environment itself; producing
// a Config from flags/env is the config package's job.
type Config struct {
	// HostRedundancyLayers is the number of extra replicas per Bucket;
	// Bucket width = 1 + HostRedundancyLayers.
	HostRedundancyLayers int

	// CacheHosts is the initial fleet.
	CacheHosts []HostAddress

	HostReconnectIntervalSeconds int
	CommunicationTimeoutSeconds  int

	// MessageBufferSize and MaximumMessageSizeKB are carried in the
	// record but not passed to any Host Connection; TCPConnection
	// applies neither, and frames are bounded only by
	// wire.MaxSegmentBytes per segment.
	MessageBufferSize    int
	MaximumMessageSizeKB int

	AutoDetectCacheHosts bool
	UDPMulticastIP       string
	UDPMulticastPort     int

	// CustomLogger/CustomSerializer are the pluggable logger/serializer
	// points. Nil means use the package defaults (dachelog.Zerolog,
	// serialize.MsgpackSerializer).
	CustomLogger     dachelog.Logger
	CustomSerializer serialize.Serializer

	// MetricsNamespace, when non-empty, registers the Client's
	// Prometheus counters under that namespace against the default
	// registry. Empty disables metrics.
	MetricsNamespace string

	// Transport carries the reconnect interval, communication timeout,
	// and dialer override that every Host Connection is constructed
	// with. Zero value applies TCPConnection's own defaults.
	Transport hostconn.TCPOptions
}

func (c Config) endpoints() []hostconn.Endpoint {
	eps := make([]hostconn.Endpoint, len(c.CacheHosts))
	for i, h := range c.CacheHosts {
		eps[i] = hostconn.Endpoint{Address: h.Address, Port: h.Port}
	}
	return eps
}
