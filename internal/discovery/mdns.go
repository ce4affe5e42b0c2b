// SPDX-License-Identifier: MIT

package discovery

import (
	"context"
	"strings"
	"time"

	"github.com/enbility/zeroconf/v3"
	"github.com/rs/zerolog"

	"github.com/smartvenue/venued/internal/log"
	"github.com/smartvenue/venued/internal/model"
)

const mdnsDomain = "local."

// Observation is a single sighting of a device on the network, from either
// the mDNS listener or the active scanner.
type Observation struct {
	Source    string // "mdns" or "scan"
	MAC       string // canonical, may be empty when unresolvable
	MACSuffix string // lowercase hex6 from hostname convention
	IP        string
	Hostname  string
	Vendor    string
	OpenPorts []int
	TypeGuess string
}

// MDNSListener browses a service type and converts announcements into
// observations. Events are debounced per hostname so identical
// re-announcements do not re-emit.
type MDNSListener struct {
	service string
	sink    func(context.Context, Observation)
	logger  zerolog.Logger
}

// NewMDNSListener builds a listener for the given service type (for example
// "_esphomelib._tcp"). Observations flow into sink.
func NewMDNSListener(service string, sink func(context.Context, Observation)) *MDNSListener {
	return &MDNSListener{
		service: service,
		sink:    sink,
		logger:  log.WithComponent("discovery.mdns"),
	}
}

// Run browses until the context is cancelled. The browse itself runs on its
// own goroutine; entries and removals are aggregated here.
func (l *MDNSListener) Run(ctx context.Context) error {
	entries := make(chan *zeroconf.ServiceEntry)
	removed := make(chan *zeroconf.ServiceEntry)

	go func() {
		if err := zeroconf.Browse(ctx, l.service, mdnsDomain, entries, removed); err != nil && ctx.Err() == nil {
			l.logger.Error().Err(err).Str("event", "mdns.browse_failed").Str("service", l.service).Msg("mDNS browse stopped")
		}
	}()

	l.logger.Info().Str("event", "mdns.listening").Str("service", l.service).Msg("mDNS listener started")

	// Debounce key per hostname: the last emitted signature. A re-announcement
	// with the same address set is dropped.
	seen := make(map[string]string)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case entry, ok := <-entries:
			if !ok {
				continue
			}
			obs, sig := l.entryToObservation(entry)
			if obs.Hostname == "" || obs.IP == "" {
				continue
			}
			if seen[obs.Hostname] == sig {
				continue
			}
			seen[obs.Hostname] = sig
			l.logger.Debug().
				Str("event", "mdns.observed").
				Str("hostname", obs.Hostname).
				Str("ip", obs.IP).
				Msg("service announced")
			l.sink(ctx, obs)
		case entry, ok := <-removed:
			if !ok {
				continue
			}
			host := trimHostname(entry.HostName)
			delete(seen, host)
			l.logger.Debug().Str("event", "mdns.removed").Str("hostname", host).Msg("service withdrawn")
		}
	}
}

// entryToObservation extracts hostname, address, TXT-advertised MAC and the
// hostname-suffix MAC from a service entry.
func (l *MDNSListener) entryToObservation(entry *zeroconf.ServiceEntry) (Observation, string) {
	host := trimHostname(entry.HostName)
	if host == "" {
		host = strings.ToLower(entry.Instance)
	}

	obs := Observation{
		Source:    "mdns",
		Hostname:  host,
		MACSuffix: model.MACSuffixFromHostname(host),
	}
	if len(entry.AddrIPv4) > 0 {
		obs.IP = entry.AddrIPv4[0].String()
	}
	// ESPHome publishes the full MAC as a TXT record.
	for _, txt := range entry.Text {
		if v, ok := strings.CutPrefix(txt, "mac="); ok {
			if mac, err := model.CanonicalMAC(v); err == nil {
				obs.MAC = mac
			}
		}
	}
	if model.IsIRHostname(host) {
		obs.TypeGuess = "ir_blaster"
	}

	sig := obs.IP + "|" + obs.MAC
	return obs, sig
}

func trimHostname(h string) string {
	h = strings.TrimSuffix(strings.ToLower(h), ".")
	return strings.TrimSuffix(h, ".local")
}

// resolveMAC fills in a missing full MAC from the ARP table, cross-checking
// the hostname suffix when both are present.
func resolveMAC(obs *Observation, arp map[string]string, logger zerolog.Logger) {
	if obs.MAC != "" {
		return
	}
	mac, ok := arp[obs.IP]
	if !ok {
		return
	}
	if obs.MACSuffix != "" && model.MACSuffix(mac) != obs.MACSuffix {
		logger.Warn().
			Str("event", "discovery.mac_mismatch").
			Str("hostname", obs.Hostname).
			Str("arp_mac", mac).
			Str("hostname_suffix", obs.MACSuffix).
			Msg("hostname suffix does not match ARP entry")
		return
	}
	obs.MAC = mac
}

// arpRetry gives the kernel a moment to learn a neighbour entry after first
// contact before giving up on MAC resolution.
const arpRetryDelay = 500 * time.Millisecond
