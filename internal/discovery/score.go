// SPDX-License-Identifier: MIT

package discovery

import (
	"fmt"
	"strings"

	"github.com/smartvenue/venued/internal/model"
)

// ScoreInput is what the scoring stage knows about an observed device.
type ScoreInput struct {
	Vendor          string
	Hostname        string
	OpenPorts       []int
	DeviceTypeGuess string
}

// ScoreResult is the scoring stage output: a clamped 0..100 confidence, an
// adoptability bucket and the reasons that produced the score.
type ScoreResult struct {
	Confidence   int
	Adoptable    model.Adoptability
	Reasons      []string
	ProtocolHint model.Protocol
	TypeGuess    string
}

// tvPortWeights maps known TV control ports to their score contribution and
// the protocol they identify. Contributions are additive per open port.
var tvPortWeights = []struct {
	port     int
	weight   int
	protocol model.Protocol
}{
	{8002, 95, model.ProtocolSamsungWebsocket},
	{8001, 90, model.ProtocolSamsungWebsocket},
	{55000, 85, model.ProtocolSamsungLegacy},
	{3000, 85, model.ProtocolLGWebOS},
	{3001, 85, model.ProtocolLGWebOS},
	{36669, 85, model.ProtocolHisenseVidaa},
	{1926, 85, model.ProtocolPhilipsJointspace},
	{1925, 80, model.ProtocolPhilipsJointspace},
	{8060, 90, model.ProtocolRoku},
	{7345, 90, model.ProtocolVizioSmartcast},
	{9000, 80, model.ProtocolVizioSmartcast},
	{50002, 85, model.ProtocolSonyBravia},
	{50001, 80, model.ProtocolSonyBravia},
}

// nonTVPortWeights are penalty ports strongly suggesting a non-TV device.
var nonTVPortWeights = map[int]struct {
	weight int
	label  string
}{
	5037:  {-50, "android adb"},
	62078: {-40, "ios lockdown"},
	3389:  {-40, "rdp"},
	5900:  {-30, "vnc"},
	445:   {-20, "smb"},
}

// Hostname substring rules. Only the strongest match in each direction
// counts, so "samsung-tv" does not also collect the generic "tv" bonus.
var tvHostnamePatterns = []struct {
	pattern string
	weight  int
}{
	{"samsung-tv", 40},
	{"lg-tv", 40},
	{"bravia", 35},
	{"roku", 35},
	{"hisense", 35},
	{"vizio", 35},
	{"philips-tv", 35},
	{"smart-tv", 35},
	{"tv", 30},
}

var nonTVHostnamePatterns = []struct {
	pattern string
	weight  int
}{
	{"galaxy-tab", -90},
	{"macbook", -90},
	{"ipad", -85},
	{"iphone", -85},
	{"laptop", -80},
	{"desktop", -80},
	{"pixel", -75},
	{"printer", -70},
	{"nas", -70},
}

// tvVendorTokens recognised in OUI vendor strings.
var tvVendorTokens = []string{"samsung", "lg electronics", "sony", "hisense", "philips", "tp vision", "roku", "vizio"}

// Score applies the fixed confidence rule table: start at 50, add port and
// hostname adjustments plus the vendor bonus, clamp to [0, 100], then bucket
// adoptability.
func Score(in ScoreInput) ScoreResult {
	res := ScoreResult{Confidence: 50, TypeGuess: in.DeviceTypeGuess}
	host := strings.ToLower(in.Hostname)
	hasTVPort := false

	bestPortWeight := 0
	for _, rule := range tvPortWeights {
		if containsPort(in.OpenPorts, rule.port) {
			res.Confidence += rule.weight
			res.Reasons = append(res.Reasons, fmt.Sprintf("open TV control port %d (+%d)", rule.port, rule.weight))
			hasTVPort = true
			if rule.weight > bestPortWeight {
				bestPortWeight = rule.weight
				res.ProtocolHint = rule.protocol
			}
		}
	}
	for port, rule := range nonTVPortWeights {
		if containsPort(in.OpenPorts, port) {
			res.Confidence += rule.weight
			res.Reasons = append(res.Reasons, fmt.Sprintf("non-TV port %d %s (%d)", port, rule.label, rule.weight))
		}
	}

	for _, rule := range tvHostnamePatterns {
		if strings.Contains(host, rule.pattern) {
			res.Confidence += rule.weight
			res.Reasons = append(res.Reasons, fmt.Sprintf("hostname matches %q (+%d)", rule.pattern, rule.weight))
			break
		}
	}
	for _, rule := range nonTVHostnamePatterns {
		if strings.Contains(host, rule.pattern) {
			res.Confidence += rule.weight
			res.Reasons = append(res.Reasons, fmt.Sprintf("hostname matches %q (%d)", rule.pattern, rule.weight))
			break
		}
	}

	vendor := strings.ToLower(in.Vendor)
	for _, token := range tvVendorTokens {
		if strings.Contains(vendor, token) {
			res.Confidence += 20
			res.Reasons = append(res.Reasons, "recognised TV vendor (+20)")
			break
		}
	}

	if res.Confidence < 0 {
		res.Confidence = 0
	}
	if res.Confidence > 100 {
		res.Confidence = 100
	}

	if res.TypeGuess == "" && hasTVPort {
		switch res.ProtocolHint {
		case model.ProtocolRoku:
			res.TypeGuess = "streaming_device"
		default:
			res.TypeGuess = "tv"
		}
	}

	res.Adoptable = classify(res.Confidence, hasTVPort, res.ProtocolHint != "")
	return res
}

// classify buckets adoptability: ready needs score >= 60, an open control
// port and an identified protocol; needs_config keeps the score but lacks a
// control port; everything else is unlikely.
func classify(confidence int, hasTVPort, protocolKnown bool) model.Adoptability {
	if confidence >= 60 {
		if hasTVPort && protocolKnown {
			return model.AdoptableReady
		}
		return model.AdoptableNeedsConfig
	}
	return model.AdoptableUnlikely
}

func containsPort(ports []int, want int) bool {
	for _, p := range ports {
		if p == want {
			return true
		}
	}
	return false
}
