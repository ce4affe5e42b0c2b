// SPDX-License-Identifier: MIT

package discovery

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/smartvenue/venued/internal/log"
	"github.com/smartvenue/venued/internal/model"
)

const (
	probeTimeout = 1 * time.Second
	// esphomeAPIPort identifies IR blasters during a sweep.
	esphomeAPIPort = 6053
	maxSweepHosts  = 4096
)

// probePorts is the sweep port set: every port the scorer knows about plus
// the ESPHome native API port.
func probePorts() []int {
	set := map[int]bool{esphomeAPIPort: true}
	for _, rule := range tvPortWeights {
		set[rule.port] = true
	}
	for port := range nonTVPortWeights {
		set[port] = true
	}
	ports := make([]int, 0, len(set))
	for p := range set {
		ports = append(ports, p)
	}
	sort.Ints(ports)
	return ports
}

// Scanner sweeps a subnet on an interval, probing the scoring port set with a
// bounded worker pool. Sweeps never overlap; a tick that arrives while a
// sweep is still running is dropped.
type Scanner struct {
	subnet      string
	interval    time.Duration
	concurrency int
	arpPath     string
	sink        func(context.Context, Observation)

	sf      singleflight.Group
	limiter *rate.Limiter
	logger  zerolog.Logger
}

// NewScanner validates the subnet and builds a sweeper. concurrency bounds
// parallel TCP probes; the limiter paces dials at twice that rate per second
// to keep the sweep from flooding venue switches.
func NewScanner(subnet string, interval time.Duration, concurrency int, sink func(context.Context, Observation)) (*Scanner, error) {
	_, ipnet, err := net.ParseCIDR(subnet)
	if err != nil {
		return nil, fmt.Errorf("scanner subnet %q: %w", subnet, err)
	}
	if n := hostCount(ipnet); n > maxSweepHosts {
		return nil, fmt.Errorf("scanner subnet %q: %d hosts exceeds limit %d", subnet, n, maxSweepHosts)
	}
	if concurrency <= 0 {
		concurrency = 64
	}
	return &Scanner{
		subnet:      subnet,
		interval:    interval,
		concurrency: concurrency,
		sink:        sink,
		limiter:     rate.NewLimiter(rate.Limit(concurrency*2), concurrency),
		logger:      log.WithComponent("discovery.scanner"),
	}, nil
}

// Run sweeps immediately, then on every interval tick until cancelled.
func (s *Scanner) Run(ctx context.Context) error {
	s.logger.Info().
		Str("event", "scanner.started").
		Str("subnet", s.subnet).
		Dur("interval", s.interval).
		Msg("subnet scanner started")

	s.trySweep(ctx)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.trySweep(ctx)
		}
	}
}

// trySweep runs one sweep under single-flight so interval ticks cannot stack.
func (s *Scanner) trySweep(ctx context.Context) {
	_, _, shared := s.sf.Do("sweep", func() (any, error) {
		s.sweep(ctx)
		return nil, nil
	})
	if shared {
		s.logger.Warn().Str("event", "scanner.sweep_skipped").Msg("previous sweep still running")
	}
}

type probe struct {
	ip   string
	port int
}

func (s *Scanner) sweep(ctx context.Context) {
	start := time.Now()
	_, ipnet, err := net.ParseCIDR(s.subnet)
	if err != nil {
		return
	}
	hosts := expandHosts(ipnet)
	ports := probePorts()

	work := make(chan probe, s.concurrency)
	results := make(chan probe, s.concurrency)

	for i := 0; i < s.concurrency; i++ {
		go s.worker(ctx, work, results)
	}
	go func() {
		defer close(work)
		for _, ip := range hosts {
			for _, port := range ports {
				select {
				case work <- probe{ip: ip, port: port}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	openByIP := make(map[string][]int)
	total := len(hosts) * len(ports)
	done := 0
	for done < total {
		select {
		case <-ctx.Done():
			return
		case r := <-results:
			done++
			if r.port != 0 {
				openByIP[r.ip] = append(openByIP[r.ip], r.port)
			}
		}
	}

	// Probing touched every host, so the neighbour table is warm now.
	time.Sleep(arpRetryDelay)
	arp, err := readARPTable(s.arpPath)
	if err != nil {
		s.logger.Error().Err(err).Str("event", "scanner.arp_failed").Msg("cannot read ARP table")
		arp = map[string]string{}
	}

	emitted := 0
	for _, ip := range hosts {
		mac, ok := arp[ip]
		if !ok {
			continue
		}
		openPorts := openByIP[ip]
		sort.Ints(openPorts)
		obs := Observation{
			Source:    "scan",
			MAC:       mac,
			IP:        ip,
			Hostname:  reverseLookup(ctx, ip),
			Vendor:    VendorForMAC(mac),
			OpenPorts: openPorts,
		}
		obs.MACSuffix = model.MACSuffix(mac)
		if model.IsIRHostname(obs.Hostname) || containsPort(openPorts, esphomeAPIPort) {
			obs.TypeGuess = "ir_blaster"
		}
		s.sink(ctx, obs)
		emitted++
	}

	s.logger.Info().
		Str("event", "scanner.sweep_done").
		Int("hosts", len(hosts)).
		Int("live", emitted).
		Dur("elapsed", time.Since(start)).
		Msg("subnet sweep finished")
}

// worker drains the work channel. A result is always sent per probe; port is
// zeroed when the dial failed so the collector can count completions.
func (s *Scanner) worker(ctx context.Context, work <-chan probe, results chan<- probe) {
	var dialer net.Dialer
	for p := range work {
		if err := s.limiter.Wait(ctx); err != nil {
			return
		}
		probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
		conn, err := dialer.DialContext(probeCtx, "tcp", net.JoinHostPort(p.ip, fmt.Sprint(p.port)))
		cancel()
		if err != nil {
			p.port = 0
		} else {
			_ = conn.Close()
		}
		select {
		case results <- p:
		case <-ctx.Done():
			return
		}
	}
}

// reverseLookup resolves a PTR record with a short deadline. Venue DHCP
// servers register device hostnames, which feed the scoring stage.
func reverseLookup(ctx context.Context, ip string) string {
	lookupCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	names, err := net.DefaultResolver.LookupAddr(lookupCtx, ip)
	if err != nil || len(names) == 0 {
		return ""
	}
	return trimHostname(strings.TrimSuffix(names[0], "."))
}

func hostCount(ipnet *net.IPNet) int {
	ones, bits := ipnet.Mask.Size()
	if bits-ones >= 31 {
		return maxSweepHosts + 1
	}
	return 1 << (bits - ones)
}

// expandHosts lists usable host addresses in the subnet, skipping the
// network and broadcast addresses.
func expandHosts(ipnet *net.IPNet) []string {
	ip := ipnet.IP.Mask(ipnet.Mask).To4()
	if ip == nil {
		return nil
	}
	n := hostCount(ipnet)
	hosts := make([]string, 0, n)
	addr := make(net.IP, 4)
	copy(addr, ip)
	for i := 0; i < n; i++ {
		if i > 0 && i < n-1 { // skip network and broadcast
			hosts = append(hosts, addr.String())
		}
		for j := 3; j >= 0; j-- {
			addr[j]++
			if addr[j] != 0 {
				break
			}
		}
	}
	return hosts
}
