package utils

import (
	"context"
	"errors"
	"testing"
	"time"
)

type sampleRequest struct {
	ItemName string `json:"itemName" validate:"required"`
	Depth    *int   `json:"analysisDepthDays" validate:"omitempty,gt=0"`
}

func TestValidateStructUsesJSONNames(t *testing.T) {
	err := ValidateStruct(sampleRequest{Depth: Ptr(0)})
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if ve.Fields["itemName"] != "required" || ve.Fields["analysisDepthDays"] != "gt=0" {
		t.Fatalf("unexpected fields %v", ve.Fields)
	}
	if err := ValidateStruct(sampleRequest{ItemName: "抽纸"}); err != nil {
		t.Fatalf("expected valid, got %v", err)
	}
}

func TestDecodeStrictJSON(t *testing.T) {
	var req sampleRequest
	if err := DecodeStrictJSON([]byte(`{"itemName":"抽纸"}`), &req); err != nil || req.ItemName != "抽纸" {
		t.Fatalf("decode: %v %+v", err, req)
	}
	if err := DecodeStrictJSON([]byte(`  `), &req); err != nil {
		t.Fatalf("empty input should decode as {}: %v", err)
	}
	if err := DecodeStrictJSON([]byte(`{"itemName":"x","extra":1}`), &req); !IsValidationError(err) {
		t.Fatalf("expected validation error for unknown field, got %v", err)
	}
	if err := DecodeStrictJSON([]byte(`{"itemName":`), &req); !IsValidationError(err) {
		t.Fatalf("expected validation error for truncated input, got %v", err)
	}
}

func TestWithKeyLockNilLockerRunsUnlocked(t *testing.T) {
	ran := false
	err := WithKeyLock(context.Background(), nil, "k", time.Second, func() error {
		ran = true
		return nil
	})
	if err != nil || !ran {
		t.Fatalf("expected fn to run, ran=%v err=%v", ran, err)
	}
	boom := errors.New("boom")
	if err := WithKeyLock(context.Background(), nil, "k", time.Second, func() error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("expected fn error to propagate, got %v", err)
	}
}

func TestWholeDaysBetweenAcrossDST(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skip("tzdata unavailable")
	}
	a := time.Date(2024, 3, 9, 23, 0, 0, 0, loc)
	b := time.Date(2024, 3, 11, 1, 0, 0, 0, loc)
	if got := WholeDaysBetween(a, b, loc); got != 2 {
		t.Fatalf("expected 2 calendar days, got %d", got)
	}
	if got := WholeDaysBetween(b, a, loc); got != -2 {
		t.Fatalf("expected -2, got %d", got)
	}
}

func TestDateKeyRoundTrip(t *testing.T) {
	loc := time.FixedZone("CST", 8*3600)
	at := time.Date(2024, 6, 30, 17, 0, 0, 0, time.UTC)
	if got := DateKey(at, loc); got != "2024-07-01" {
		t.Fatalf("expected 2024-07-01 in UTC+8, got %s", got)
	}
	day, err := ParseDateKey("2024-07-01", loc)
	if err != nil || !day.Equal(StartOfDay(at, loc)) {
		t.Fatalf("expected start of day, got %v %v", day, err)
	}
}

func TestRoundFloatAndClamp(t *testing.T) {
	if got := RoundFloat(1.06666, 4); got != 1.0667 {
		t.Fatalf("expected 1.0667, got %v", got)
	}
	if ClampInt(7, 1, 5) != 5 || ClampInt(-1, 1, 5) != 1 || ClampInt(3, 1, 5) != 3 {
		t.Fatalf("clamp mismatch")
	}
}
