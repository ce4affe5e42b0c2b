// SPDX-License-Identifier: MIT

package discovery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartvenue/venued/internal/model"
)

func TestScoreSamsungTV(t *testing.T) {
	res := Score(ScoreInput{
		Vendor:    "Samsung Electronics Co.,Ltd",
		Hostname:  "samsung-tv-lounge",
		OpenPorts: []int{8001, 8002},
	})
	require.Equal(t, 100, res.Confidence, "clamped at 100")
	assert.Equal(t, model.AdoptableReady, res.Adoptable)
	assert.Equal(t, model.ProtocolSamsungWebsocket, res.ProtocolHint)
	assert.NotEmpty(t, res.Reasons)
}

func TestScoreGalaxyTabReject(t *testing.T) {
	// 50 + 20 (vendor) - 90 (hostname) - 50 (adb) clamps to 0
	res := Score(ScoreInput{
		Vendor:    "Samsung",
		Hostname:  "galaxy-tab-a7",
		OpenPorts: []int{5037},
	})
	assert.Equal(t, 0, res.Confidence)
	assert.Equal(t, model.AdoptableUnlikely, res.Adoptable)
}

func TestScoreHostnameOnlyNeedsConfig(t *testing.T) {
	// 50 + 30 (generic "tv") = 80 but no control port open
	res := Score(ScoreInput{Hostname: "lounge-tv"})
	assert.Equal(t, 80, res.Confidence)
	assert.Equal(t, model.AdoptableNeedsConfig, res.Adoptable)
}

func TestScoreStrongestHostnameMatchOnly(t *testing.T) {
	// "samsung-tv" must not also collect the generic "tv" bonus
	res := Score(ScoreInput{Hostname: "samsung-tv"})
	assert.Equal(t, 90, res.Confidence)
}

func TestScoreRokuGuessesStreamingDevice(t *testing.T) {
	res := Score(ScoreInput{Hostname: "roku-bedroom", OpenPorts: []int{8060}})
	assert.Equal(t, model.ProtocolRoku, res.ProtocolHint)
	assert.Equal(t, "streaming_device", res.TypeGuess)
	assert.Equal(t, model.AdoptableReady, res.Adoptable)
}

func TestScoreUnknownDeviceStaysAtBaseline(t *testing.T) {
	res := Score(ScoreInput{Hostname: "espresso-machine"})
	assert.Equal(t, 50, res.Confidence)
	assert.Equal(t, model.AdoptableUnlikely, res.Adoptable)
}

func TestClassifyBoundary(t *testing.T) {
	// exactly 60 with an open TV port and identified protocol is ready
	assert.Equal(t, model.AdoptableReady, classify(60, true, true))
	assert.Equal(t, model.AdoptableNeedsConfig, classify(60, false, false))
	assert.Equal(t, model.AdoptableUnlikely, classify(59, true, true))
}
