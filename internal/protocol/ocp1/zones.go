// SPDX-License-Identifier: MIT

package ocp1

import (
	"context"
	"strings"
)

// Zone is one controllable output discovered on an amplifier.
type Zone struct {
	Name    string
	GainONo uint32
	MuteONo uint32 // zero when no mute sibling was found
	GainMin float32
	GainMax float32
}

// Default gain range applied when the device's range getters are
// unavailable.
const (
	DefaultGainMin = -80.0
	DefaultGainMax = 10.0
)

var gainTokens = []string{"gain", "volume"}
var zoneTokens = []string{"zone", "output", "channel", "area"}

// DiscoverZones walks the device role map and derives the controllable
// zones: any object whose role path carries both a gain token and a zone
// token is a zone gain; a mute sibling is located by substituting the gain
// token in the path.
func (c *Client) DiscoverZones(ctx context.Context) ([]Zone, error) {
	onos, err := c.Members(ctx)
	if err != nil {
		return nil, err
	}

	roleByONo := make(map[uint32]string, len(onos))
	onoByRole := make(map[string]uint32, len(onos))
	for _, ono := range onos {
		role, err := c.GetRole(ctx, ono)
		if err != nil {
			continue // objects without a readable role are not interesting
		}
		role = strings.TrimSpace(role)
		roleByONo[ono] = role
		onoByRole[strings.ToLower(role)] = ono
	}

	var zones []Zone
	for _, ono := range onos {
		role := roleByONo[ono]
		lower := strings.ToLower(role)
		gainTok := matchToken(lower, gainTokens)
		if gainTok == "" || matchToken(lower, zoneTokens) == "" {
			continue
		}

		z := Zone{
			Name:    zoneDisplayName(role),
			GainONo: ono,
			GainMin: DefaultGainMin,
			GainMax: DefaultGainMax,
		}
		if _, min, max, err := c.GetGain(ctx, ono); err == nil && min < max {
			z.GainMin = min
			z.GainMax = max
		}
		for _, muteRole := range []string{
			strings.ReplaceAll(lower, gainTok, "mute"),
		} {
			if muteONo, ok := onoByRole[muteRole]; ok {
				z.MuteONo = muteONo
				break
			}
		}
		zones = append(zones, z)
	}
	return zones, nil
}

// zoneDisplayName strips the trailing path segment, leaving the zone label:
// "Zone 1/Gain" becomes "Zone 1".
func zoneDisplayName(role string) string {
	for _, sep := range []string{"/", "."} {
		if i := strings.LastIndex(role, sep); i > 0 {
			return strings.TrimSpace(role[:i])
		}
	}
	return strings.TrimSpace(role)
}

func matchToken(s string, tokens []string) string {
	for _, tok := range tokens {
		if strings.Contains(s, tok) {
			return tok
		}
	}
	return ""
}
