// SPDX-License-Identifier: MIT

package discovery

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartvenue/venued/internal/config"
	"github.com/smartvenue/venued/internal/model"
	"github.com/smartvenue/venued/internal/store"
)

const arpFixture = `IP address       HW type     Flags       HW address            Mask     Device
192.168.1.23     0x1         0x2         dc:cf:89:f0:12:34     *        eth0
192.168.1.40     0x1         0x0         00:00:00:00:00:00     *        eth0
192.168.1.77     0x1         0x2         24:0a:c4:ab:cd:ef     *        eth0
`

func writeARPFixture(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "arp")
	require.NoError(t, os.WriteFile(path, []byte(arpFixture), 0o600))
	return path
}

func TestReadARPTable(t *testing.T) {
	table, err := readARPTable(writeARPFixture(t))
	require.NoError(t, err)
	assert.Equal(t, "DC:CF:89:F0:12:34", table["192.168.1.23"])
	assert.Equal(t, "24:0A:C4:AB:CD:EF", table["192.168.1.77"])
	_, ok := table["192.168.1.40"]
	assert.False(t, ok, "incomplete entries are skipped")
}

func TestExpandHosts(t *testing.T) {
	_, ipnet, err := net.ParseCIDR("192.168.1.0/29")
	require.NoError(t, err)
	hosts := expandHosts(ipnet)
	require.Len(t, hosts, 6)
	assert.Equal(t, "192.168.1.1", hosts[0])
	assert.Equal(t, "192.168.1.6", hosts[5])
}

func TestNewScannerRejectsHugeSubnet(t *testing.T) {
	_, err := NewScanner("10.0.0.0/8", 0, 0, nil)
	require.Error(t, err)
}

func TestResolveMACSuffixMismatch(t *testing.T) {
	obs := Observation{IP: "192.168.1.23", Hostname: "ir-aabbcc", MACSuffix: "aabbcc"}
	arp := map[string]string{"192.168.1.23": "DC:CF:89:F0:12:34"}
	resolveMAC(&obs, arp, testLogger())
	assert.Empty(t, obs.MAC, "suffix mismatch must not bind the ARP MAC")

	obs = Observation{IP: "192.168.1.23", Hostname: "ir-f01234", MACSuffix: "f01234"}
	resolveMAC(&obs, arp, testLogger())
	assert.Equal(t, "DC:CF:89:F0:12:34", obs.MAC)
}

func TestHandleObservationScoresAndPersists(t *testing.T) {
	st, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	svc := New(st, config.DiscoveryConfig{}, nil)
	ctx := context.Background()

	svc.handleObservation(ctx, Observation{
		Source:    "scan",
		MAC:       "DC:CF:89:F0:12:34",
		IP:        "192.168.1.23",
		Hostname:  "samsung-tv-lounge",
		Vendor:    "Samsung Electronics Co.,Ltd",
		OpenPorts: []int{8001, 8002},
	})

	c, err := st.GetCandidate(ctx, "DC:CF:89:F0:12:34")
	require.NoError(t, err)
	assert.Equal(t, 100, c.Confidence)
	assert.Equal(t, model.AdoptableReady, c.Adoptable)
	assert.Equal(t, "tv", c.DeviceTypeGuess)
	assert.Equal(t, []int{8001, 8002}, c.OpenPorts)
}

func TestHandleObservationIRBlasterProbeHook(t *testing.T) {
	st, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	probed := make(chan string, 1)
	svc := New(st, config.DiscoveryConfig{}, func(_ context.Context, hostname, _ string) {
		probed <- hostname
	})
	ctx := context.Background()

	obs := Observation{
		Source:    "mdns",
		MAC:       "24:0A:C4:AB:CD:EF",
		IP:        "192.168.1.77",
		Hostname:  "ir-abcdef",
		TypeGuess: "ir_blaster",
	}
	svc.handleObservation(ctx, obs)

	c, err := st.GetCandidate(ctx, "24:0A:C4:AB:CD:EF")
	require.NoError(t, err)
	assert.Equal(t, 95, c.Confidence)
	assert.Equal(t, model.AdoptableReady, c.Adoptable)
	assert.Equal(t, "ir_blaster", c.DeviceTypeGuess)
	assert.Equal(t, "ir-abcdef", <-probed)

	// re-observation of a known candidate must not probe again
	svc.handleObservation(ctx, obs)
	select {
	case h := <-probed:
		t.Fatalf("unexpected second probe for %s", h)
	default:
	}
}

func TestHandleObservationDropsWithoutMAC(t *testing.T) {
	st, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	svc := New(st, config.DiscoveryConfig{}, nil)
	svc.handleObservation(context.Background(), Observation{
		Source:   "mdns",
		IP:       "203.0.113.9", // no ARP entry for a test-net address
		Hostname: "lounge-tv",
	})

	list, err := st.ListCandidates(context.Background(), store.CandidateFilter{IncludeHidden: true, IncludeAdopted: true})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func testLogger() zerolog.Logger { return zerolog.Nop() }
