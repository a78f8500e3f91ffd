package httpapi

import (
	"testing"
	"time"
)

func TestParseTimeoutAbsentDefaultsTo300s(t *testing.T) {
	if got := parseTimeout("", false); got != 300*time.Second {
		t.Errorf("parseTimeout(absent) = %v, want 300s", got)
	}
}

func TestParseTimeoutSeconds(t *testing.T) {
	if got := parseTimeout("30s", true); got != 30*time.Second {
		t.Errorf("parseTimeout(30s) = %v, want 30s", got)
	}
}

func TestParseTimeoutSecondsCappedAt300(t *testing.T) {
	if got := parseTimeout("999s", true); got != 300*time.Second {
		t.Errorf("parseTimeout(999s) = %v, want capped to 300s", got)
	}
}

func TestParseTimeoutMinutes(t *testing.T) {
	if got := parseTimeout("2m", true); got != 2*time.Minute {
		t.Errorf("parseTimeout(2m) = %v, want 2m", got)
	}
}

func TestParseTimeoutMinutesCappedAt5(t *testing.T) {
	if got := parseTimeout("10m", true); got != 5*time.Minute {
		t.Errorf("parseTimeout(10m) = %v, want capped to 5m", got)
	}
}

func TestParseTimeoutMalformedFallsBackTo60s(t *testing.T) {
	for _, raw := range []string{"bogus", "10h", "-5s", "", "5"} {
		if got := parseTimeout(raw, true); got != 60*time.Second {
			t.Errorf("parseTimeout(%q) = %v, want fallback 60s", raw, got)
		}
	}
}

func TestParseWaitDefaultsTrue(t *testing.T) {
	if !parseWait("", false) {
		t.Error("parseWait(absent) = false, want true")
	}
}

func TestParseWaitFalse(t *testing.T) {
	if parseWait("false", true) {
		t.Error("parseWait(false) = true, want false")
	}
}

func TestParseWaitMalformedDefaultsTrue(t *testing.T) {
	if !parseWait("nonsense", true) {
		t.Error("parseWait(nonsense) = false, want true")
	}
}
