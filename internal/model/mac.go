// SPDX-License-Identifier: MIT

package model

import (
	"fmt"
	"regexp"
	"strings"
)

var macSuffixRe = regexp.MustCompile(`-([0-9a-fA-F]{6})$`)

// CanonicalMAC normalises a MAC address to six uppercase hex pairs joined by
// colons. Accepts colon, dash or bare-hex input.
func CanonicalMAC(mac string) (string, error) {
	hex := strings.ToUpper(strings.NewReplacer(":", "", "-", "", ".", "").Replace(strings.TrimSpace(mac)))
	if len(hex) != 12 {
		return "", fmt.Errorf("invalid mac address %q", mac)
	}
	for _, r := range hex {
		if (r < '0' || r > '9') && (r < 'A' || r > 'F') {
			return "", fmt.Errorf("invalid mac address %q", mac)
		}
	}
	parts := make([]string, 6)
	for i := 0; i < 6; i++ {
		parts[i] = hex[i*2 : i*2+2]
	}
	return strings.Join(parts, ":"), nil
}

// MACSuffix returns the last three bytes of a canonical MAC as six lowercase
// hex characters, matching the device hostname convention.
func MACSuffix(canonicalMAC string) string {
	hex := strings.ToLower(strings.ReplaceAll(canonicalMAC, ":", ""))
	if len(hex) != 12 {
		return ""
	}
	return hex[6:]
}

// MACSuffixFromHostname extracts the six-hex-character MAC tail from a
// hostname following the "<prefix>-<hex6>" convention. Returns "" when the
// hostname does not follow the convention.
func MACSuffixFromHostname(hostname string) string {
	m := macSuffixRe.FindStringSubmatch(strings.TrimSuffix(hostname, ".local"))
	if m == nil {
		return ""
	}
	return strings.ToLower(m[1])
}

// OUIPrefix returns the first three bytes of a canonical MAC ("AA:BB:CC"),
// the key into the vendor OUI table.
func OUIPrefix(canonicalMAC string) string {
	if len(canonicalMAC) < 8 {
		return ""
	}
	return canonicalMAC[:8]
}

// IsIRHostname reports whether a hostname follows the IR blaster naming
// convention ("ir-<hex6>" or "irc-<hex6>").
func IsIRHostname(hostname string) bool {
	h := strings.ToLower(strings.TrimSuffix(hostname, ".local"))
	return (strings.HasPrefix(h, "ir-") || strings.HasPrefix(h, "irc-")) && MACSuffixFromHostname(h) != ""
}
