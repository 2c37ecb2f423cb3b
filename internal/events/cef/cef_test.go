// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package cef

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"grimm.is/ngfw/internal/events"
)

func TestSeverityMapping(t *testing.T) {
	assert.Equal(t, 7, Severity(-0.9))
	assert.Equal(t, 5, Severity(-0.3))
	assert.Equal(t, 3, Severity(-0.1))
	assert.Equal(t, 3, Severity(0.1))
}

func TestRenderReplacesPipesAndEquals(t *testing.T) {
	e := events.New(
		events.Type("anom|aly"), events.SeverityHigh,
		netip.MustParseAddr("203.0.113.5"), netip.MustParseAddr("198.51.100.7"),
		1234, 80, 6,
		"burst=detected", -0.9, "blocked", time.Unix(0, 0),
	)

	line := Render(e)

	assert.Contains(t, line, "CEF:0|NGFW Congo|Behavioral NGFW|1.0|")
	assert.Contains(t, line, "anom_aly")
	assert.NotContains(t, line, "anom|aly")
	assert.Contains(t, line, "msg=burst_detected")
	assert.Contains(t, line, "src=203.0.113.5")
	assert.Contains(t, line, "dst=198.51.100.7")
	assert.Contains(t, line, "srcPort=1234")
	assert.Contains(t, line, "dstPort=80")
}
