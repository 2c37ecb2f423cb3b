// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package cef renders engine events in Common Event Format for SIEM
// consumers. The SIEM surface itself is out of scope; this package only
// implements the wire rendering contract from spec §6.
package cef

import (
	"fmt"
	"strings"

	"grimm.is/ngfw/internal/events"
)

const (
	deviceVendor  = "NGFW Congo"
	deviceProduct = "Behavioral NGFW"
	deviceVersion = "1.0"
)

var (
	pipeReplacer   = strings.NewReplacer("|", "_")
	equalsReplacer = strings.NewReplacer("=", "_")
)

// Severity maps an anomaly score to the CEF severity scale spec §6 defines.
func Severity(score float64) int {
	switch {
	case score < -0.5:
		return 7
	case score < -0.2:
		return 5
	default:
		return 3
	}
}

// Render renders e as a single CEF:0 line.
func Render(e events.Event) string {
	name := pipeReplacer.Replace(string(e.Type))
	msg := equalsReplacer.Replace(e.Description)
	sev := Severity(e.AnomalyScore)

	return fmt.Sprintf(
		"CEF:0|%s|%s|%s|%s|%s|%d|src=%s dst=%s proto=%d srcPort=%d dstPort=%d anomalyScore=%f act=%s msg=%s",
		deviceVendor, deviceProduct, deviceVersion,
		name, name, sev,
		e.SrcAddr, e.DstAddr, e.Proto, e.SrcPort, e.DstPort, e.AnomalyScore, e.ActionTaken, msg,
	)
}
