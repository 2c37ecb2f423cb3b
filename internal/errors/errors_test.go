// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package errors

import (
	"errors"
	"testing"
)

// Model artifact loading wraps an os.ReadFile failure as KindNotFound,
// the classification cmd/ngfwd treats as startup-fatal.
func TestWrapClassifiesModelLoadFailureAsNotFound(t *testing.T) {
	underlying := errors.New("open /var/lib/ngfw/model.gob: no such file or directory")
	err := Wrap(underlying, KindNotFound, "model artifact not found")

	if GetKind(err) != KindNotFound {
		t.Errorf("expected KindNotFound, got %v", GetKind(err))
	}
	want := "model artifact not found: open /var/lib/ngfw/model.gob: no such file or directory"
	if err.Error() != want {
		t.Errorf("expected %q, got %q", want, err.Error())
	}
}

// A permanent FirewallAdmin failure (spec §7's Runtime-fatal condition)
// must be distinguishable from a transient one purely via Kind, since
// that is exactly how internal/pipeline decides whether to enter
// degraded mode.
func TestGetKindDistinguishesPermanentFromTransientFirewallFailure(t *testing.T) {
	permanent := Wrap(errors.New("enoent"), KindInternal, "firewall chain is permanently unavailable")
	transient := Wrap(errors.New("ebusy"), KindUnavailable, "failed to install drop rule")

	if GetKind(permanent) != KindInternal {
		t.Errorf("expected KindInternal for a permanent firewall failure, got %v", GetKind(permanent))
	}
	if GetKind(transient) != KindUnavailable {
		t.Errorf("expected KindUnavailable for a transient firewall failure, got %v", GetKind(transient))
	}
	if GetKind(permanent) == GetKind(transient) {
		t.Errorf("permanent and transient firewall failures must not share a Kind")
	}
}

// Attributes attached to a KindValidation error (here, the offending
// environment variable and its value) must still be surfaced by
// GetAttributes after the error has been wrapped again by a caller.
func TestAttributesSurviveWrappingAfterConfigValidationFailure(t *testing.T) {
	err := New(KindValidation, "invalid NGFW_THRESHOLD: strconv.ParseFloat: parsing \"not-a-number\": invalid syntax")
	err = Attr(err, "field", "NGFW_THRESHOLD")
	err = Attr(err, "value", "not-a-number")

	wrapped := Wrap(err, KindValidation, "invalid configuration")

	attrs := GetAttributes(wrapped)
	if attrs["field"] != "NGFW_THRESHOLD" {
		t.Errorf("expected field=NGFW_THRESHOLD, got %v", attrs["field"])
	}
	if attrs["value"] != "not-a-number" {
		t.Errorf("expected value=not-a-number, got %v", attrs["value"])
	}
	if GetKind(wrapped) != KindValidation {
		t.Errorf("expected KindValidation, got %v", GetKind(wrapped))
	}
}

// GetKind must report KindUnknown for an error that never passed through
// this package, e.g. one returned directly by a third-party library such
// as gopacket/pcap before capture.Open has a chance to wrap it.
func TestGetKindOnForeignErrorIsUnknown(t *testing.T) {
	if GetKind(errors.New("pcap: no such device")) != KindUnknown {
		t.Errorf("expected KindUnknown for a foreign error, got %v", GetKind(errors.New("pcap: no such device")))
	}
}
