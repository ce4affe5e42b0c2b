// SPDX-License-Identifier: MIT

package discovery

import (
	"bufio"
	"os"
	"strings"

	"github.com/smartvenue/venued/internal/model"
)

const procNetARP = "/proc/net/arp"

// readARPTable parses the kernel ARP table into an IP to canonical-MAC map.
// Incomplete entries (flags 0x0 or an all-zero hardware address) are skipped.
func readARPTable(path string) (map[string]string, error) {
	if path == "" {
		path = procNetARP
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	table := make(map[string]string)
	scanner := bufio.NewScanner(f)
	first := true
	for scanner.Scan() {
		if first { // header line
			first = false
			continue
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) < 4 {
			continue
		}
		ip, flags, hw := fields[0], fields[2], fields[3]
		if flags == "0x0" || hw == "00:00:00:00:00:00" {
			continue
		}
		mac, err := model.CanonicalMAC(hw)
		if err != nil {
			continue
		}
		table[ip] = mac
	}
	return table, scanner.Err()
}
