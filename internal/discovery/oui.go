// SPDX-License-Identifier: MIT

package discovery

import "strings"

// ouiVendors is a compact OUI table covering the device families the venue
// cares about. Keys are the first three bytes of a canonical MAC. Lookups
// fall back to "" for unknown prefixes; scoring treats that as no signal.
var ouiVendors = map[string]string{
	// Samsung Electronics
	"DC:CF:89": "Samsung Electronics Co.,Ltd",
	"8C:C8:F4": "Samsung Electronics Co.,Ltd",
	"5C:49:7D": "Samsung Electronics Co.,Ltd",
	"FC:03:9F": "Samsung Electronics Co.,Ltd",
	"64:1C:AE": "Samsung Electronics Co.,Ltd",
	// LG Electronics
	"A8:23:FE": "LG Electronics",
	"C4:36:6C": "LG Electronics",
	"38:8C:50": "LG Electronics (Mobile Communications)",
	// Sony
	"FC:F1:52": "Sony Corporation",
	"30:52:CB": "Sony Visual Products Inc.",
	// Hisense
	"A4:22:49": "Hisense Electric Co.,Ltd",
	"D4:9E:3B": "Hisense broadband multimedia technology",
	// TP Vision (Philips TV)
	"70:AF:24": "TP Vision Belgium NV",
	"00:1F:DA": "Philips / TP Vision",
	// Roku
	"D8:31:34": "Roku, Inc.",
	"B0:A7:37": "Roku, Inc.",
	"CC:6D:A0": "Roku, Inc.",
	// Vizio
	"C4:E0:32": "Vizio, Inc",
	"A4:F0:5E": "Vizio, Inc",
	// Espressif (IR blasters)
	"24:0A:C4": "Espressif Inc.",
	"84:CC:A8": "Espressif Inc.",
	"A0:20:A6": "Espressif Inc.",
	"BC:DD:C2": "Espressif Inc.",
	// Bosch
	"00:10:17": "Bosch Access Systems",
	"00:04:63": "Bosch Security Systems",
	// Common non-TV gear, useful as negative signal carriers
	"F0:18:98": "Apple, Inc.",
	"3C:22:FB": "Apple, Inc.",
	"B8:27:EB": "Raspberry Pi Foundation",
	"DC:A6:32": "Raspberry Pi Trading Ltd",
}

// VendorForMAC resolves the OUI vendor string for a canonical MAC address.
func VendorForMAC(canonicalMAC string) string {
	if len(canonicalMAC) < 8 {
		return ""
	}
	return ouiVendors[strings.ToUpper(canonicalMAC[:8])]
}
