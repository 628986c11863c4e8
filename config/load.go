// Package config builds a dache.Config from command-line flags and
// environment variables. It exists only for the demo binary; the
// dache package itself never reads the environment, preserving the
// "accepts it as a struct" boundary drawn around configuration.
package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/menismu/dache"
)

// Load parses args (typically os.Args[1:]) and the process environment
// into a dache.Config. Flags take precedence over environment
// variables, which take precedence over the defaults below.
func Load(args []string) (dache.Config, error) {
	fs := pflag.NewFlagSet("dache", pflag.ContinueOnError)
	fs.String("cache-hosts", "127.0.0.1:11211", "comma-separated host:port list")
	fs.Int("host-redundancy-layers", 0, "extra replicas per bucket")
	fs.Int("host-reconnect-interval-seconds", 5, "reconnect backoff interval")
	fs.Int("communication-timeout-seconds", 10, "per-RPC timeout")
	fs.Int("message-buffer-size", 4096, "transport read buffer size in bytes")
	fs.Int("maximum-message-size-kb", 1024, "largest accepted message, in KB")
	fs.Bool("auto-detect-cache-hosts", false, "enable UDP multicast discovery")
	fs.String("udp-multicast-ip", "", "discovery multicast group")
	fs.Int("udp-multicast-port", 0, "discovery multicast port")
	fs.String("metrics-namespace", "", "Prometheus namespace; empty disables metrics")

	if err := fs.Parse(args); err != nil {
		return dache.Config{}, err
	}

	v := viper.New()
	v.SetEnvPrefix("DACHE")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	if err := v.BindPFlags(fs); err != nil {
		return dache.Config{}, err
	}

	hosts, err := parseHosts(v.GetString("cache-hosts"))
	if err != nil {
		return dache.Config{}, err
	}

	return dache.Config{
		HostRedundancyLayers:         v.GetInt("host-redundancy-layers"),
		CacheHosts:                   hosts,
		HostReconnectIntervalSeconds: v.GetInt("host-reconnect-interval-seconds"),
		CommunicationTimeoutSeconds:  v.GetInt("communication-timeout-seconds"),
		MessageBufferSize:            v.GetInt("message-buffer-size"),
		MaximumMessageSizeKB:         v.GetInt("maximum-message-size-kb"),
		AutoDetectCacheHosts:         v.GetBool("auto-detect-cache-hosts"),
		UDPMulticastIP:               v.GetString("udp-multicast-ip"),
		UDPMulticastPort:             v.GetInt("udp-multicast-port"),
		MetricsNamespace:             v.GetString("metrics-namespace"),
	}, nil
}

func parseHosts(raw string) ([]dache.HostAddress, error) {
	var out []dache.HostAddress
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		host, portStr, ok := strings.Cut(entry, ":")
		if !ok {
			return nil, fmt.Errorf("config: malformed cache host %q, want address:port", entry)
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, fmt.Errorf("config: malformed port in %q: %w", entry, err)
		}
		out = append(out, dache.HostAddress{Address: host, Port: port})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("config: cache-hosts must name at least one host")
	}
	return out, nil
}
