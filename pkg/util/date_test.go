package util

import (
	"testing"
	"time"
)

func TestIntervalStart(t *testing.T) {
	ts := time.Date(2024, 10, 10, 10, 13, 42, 0, time.UTC)
	got := IntervalStart(ts, 5*time.Minute)
	want := time.Date(2024, 10, 10, 10, 10, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	if got := IntervalStart(want, 5*time.Minute); !got.Equal(want) {
		t.Fatalf("aligned time moved to %v", got)
	}
}

func TestIntervalStartZeroInterval(t *testing.T) {
	ts := time.Date(2024, 10, 10, 10, 13, 42, 0, time.UTC)
	if got := IntervalStart(ts, 0); !got.Equal(ts) {
		t.Fatalf("expected unchanged time, got %v", got)
	}
}

func TestParseHTTPDate(t *testing.T) {
	got, ok := ParseHTTPDate("Tue, 15 Nov 1994 08:12:31 GMT")
	if !ok {
		t.Fatalf("expected ok")
	}
	if got.UTC().Hour() != 8 || got.UTC().Minute() != 12 {
		t.Fatalf("unexpected time %v", got)
	}
	if _, ok := ParseHTTPDate("yesterday"); ok {
		t.Fatalf("expected failure")
	}
	if _, ok := ParseHTTPDate(""); ok {
		t.Fatalf("expected failure on empty")
	}
}

func TestParseInt(t *testing.T) {
	if v, ok := ParseInt(" 42 "); !ok || v != 42 {
		t.Fatalf("expected 42, got %v %v", v, ok)
	}
	if _, ok := ParseInt("4x"); ok {
		t.Fatalf("expected failure")
	}
	if _, ok := ParseInt(""); ok {
		t.Fatalf("expected failure on empty")
	}
}
