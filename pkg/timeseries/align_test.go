package timeseries

import (
	"log/slog"
	"strings"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestAlign_EmptySeries(t *testing.T) {
	t0 := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

	t.Run("empty anchor series fails", func(t *testing.T) {
		_, err := Align(nil, []TimedSample{{Timestamp: t0, Value: 100}}, DefaultAlignmentConfig, discardLogger())
		if err == nil {
			t.Fatal("expected error for empty anchor series, got nil")
		}
		if !strings.Contains(err.Error(), "anchor") {
			t.Errorf("expected error to mention anchor series, got: %v", err)
		}
	})

	t.Run("empty data series fails", func(t *testing.T) {
		_, err := Align([]time.Time{t0}, nil, DefaultAlignmentConfig, discardLogger())
		if err == nil {
			t.Fatal("expected error for empty data series, got nil")
		}
		if !strings.Contains(err.Error(), "data") {
			t.Errorf("expected error to mention data series, got: %v", err)
		}
	})
}

func TestAlign_RecoversKnownOffset(t *testing.T) {
	t0 := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	knownOffset := 7 * time.Second

	anchor := make([]time.Time, 60)
	samples := make([]TimedSample, 60)
	for i := 0; i < 60; i++ {
		anchor[i] = t0.Add(time.Duration(i) * time.Second)
		samples[i] = TimedSample{
			Timestamp: anchor[i].Add(knownOffset),
			Value:     100 + i,
		}
	}

	result, err := Align(anchor, samples, DefaultAlignmentConfig, discardLogger())
	if err != nil {
		t.Fatalf("Align returned error: %v", err)
	}

	if result.Offset != knownOffset {
		t.Errorf("expected recovered offset %v, got %v", knownOffset, result.Offset)
	}
	if result.Confidence != 1.0 {
		t.Errorf("expected full-coverage confidence 1.0, got %v", result.Confidence)
	}
	if result.WarningMessage != "" {
		t.Errorf("expected no warning for clean alignment, got: %s", result.WarningMessage)
	}
	if len(result.Aligned) != len(anchor) {
		t.Fatalf("expected %d aligned values, got %d", len(anchor), len(result.Aligned))
	}
	for i, v := range result.Aligned {
		if v != 100+i {
			t.Errorf("aligned[%d]: expected %d, got %d", i, 100+i, v)
		}
	}
	if result.Metadata["alignment_status"] != "success" {
		t.Errorf("expected alignment_status success, got %s", result.Metadata["alignment_status"])
	}
}

func TestAlign_InterpolatesBetweenSamples(t *testing.T) {
	t0 := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

	anchor := []time.Time{t0, t0.Add(5 * time.Second), t0.Add(10 * time.Second)}
	samples := []TimedSample{
		{Timestamp: t0, Value: 100},
		{Timestamp: t0.Add(10 * time.Second), Value: 200},
	}

	result, err := Align(anchor, samples, DefaultAlignmentConfig, discardLogger())
	if err != nil {
		t.Fatalf("Align returned error: %v", err)
	}

	expected := []int{100, 150, 200}
	for i, want := range expected {
		if result.Aligned[i] != want {
			t.Errorf("aligned[%d]: expected %d, got %d", i, want, result.Aligned[i])
		}
	}
}

func TestAlign_ClampsOutsideDataWindow(t *testing.T) {
	t0 := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

	// Anchors extend beyond the data window on both sides.
	anchor := []time.Time{
		t0.Add(-30 * time.Second),
		t0,
		t0.Add(10 * time.Second),
		t0.Add(40 * time.Second),
	}
	samples := []TimedSample{
		{Timestamp: t0, Value: 120},
		{Timestamp: t0.Add(10 * time.Second), Value: 140},
	}

	// Pin the offset search so the seed (dataStart - anchorStart = 30s)
	// isn't dragged around by the sparse coverage.
	cfg := DefaultAlignmentConfig
	cfg.MaxOffset = 0

	result, err := Align(anchor, samples, cfg, discardLogger())
	if err != nil {
		t.Fatalf("Align returned error: %v", err)
	}

	// With offset pinned at 30s the second and third anchors map past the
	// data window and clamp to the last value.
	if result.Aligned[0] != 120 {
		t.Errorf("anchor before window: expected first value 120, got %d", result.Aligned[0])
	}
	if result.Aligned[3] != 140 {
		t.Errorf("anchor after window: expected last value 140, got %d", result.Aligned[3])
	}
}

func TestAlign_LowConfidenceWarns(t *testing.T) {
	t0 := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

	anchor := make([]time.Time, 100)
	for i := range anchor {
		anchor[i] = t0.Add(time.Duration(i) * time.Second)
	}
	// Data covers only the first few seconds of a 99s window.
	samples := []TimedSample{
		{Timestamp: t0, Value: 90},
		{Timestamp: t0.Add(1 * time.Second), Value: 92},
		{Timestamp: t0.Add(2 * time.Second), Value: 94},
	}

	cfg := DefaultAlignmentConfig
	cfg.MaxOffset = 10 * time.Second

	result, err := Align(anchor, samples, cfg, discardLogger())
	if err != nil {
		t.Fatalf("Align returned error: %v", err)
	}

	if result.Confidence >= cfg.MinConfidence {
		t.Fatalf("expected low confidence below %v, got %v", cfg.MinConfidence, result.Confidence)
	}
	if result.WarningMessage == "" {
		t.Error("expected a low-confidence warning message")
	}
	if result.Metadata["alignment_status"] != "low_confidence_best_effort" {
		t.Errorf("expected low_confidence_best_effort status, got %s", result.Metadata["alignment_status"])
	}
	if len(result.Aligned) != len(anchor) {
		t.Errorf("best-effort result must still cover every anchor: expected %d values, got %d", len(anchor), len(result.Aligned))
	}
}

func TestAlign_HighDriftWarns(t *testing.T) {
	t0 := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

	// Data clock runs 3% fast: same sample count, stretched window.
	anchor := make([]time.Time, 100)
	samples := make([]TimedSample, 100)
	for i := 0; i < 100; i++ {
		anchor[i] = t0.Add(time.Duration(i) * time.Second)
		samples[i] = TimedSample{
			Timestamp: t0.Add(time.Duration(float64(i) * 1.03 * float64(time.Second))),
			Value:     100,
		}
	}

	result, err := Align(anchor, samples, DefaultAlignmentConfig, discardLogger())
	if err != nil {
		t.Fatalf("Align returned error: %v", err)
	}

	if result.DriftPercent < 2.9 || result.DriftPercent > 3.1 {
		t.Errorf("expected ~3%% drift, got %.2f%%", result.DriftPercent)
	}
	if result.WarningMessage == "" {
		t.Error("expected a drift warning message")
	}
	if !strings.Contains(result.WarningMessage, "drift") {
		t.Errorf("expected warning to mention drift, got: %s", result.WarningMessage)
	}
}

func TestAlign_UnsortedInput(t *testing.T) {
	t0 := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

	anchor := []time.Time{t0.Add(2 * time.Second), t0, t0.Add(1 * time.Second)}
	samples := []TimedSample{
		{Timestamp: t0.Add(2 * time.Second), Value: 102},
		{Timestamp: t0, Value: 100},
		{Timestamp: t0.Add(1 * time.Second), Value: 101},
	}

	result, err := Align(anchor, samples, DefaultAlignmentConfig, discardLogger())
	if err != nil {
		t.Fatalf("Align returned error: %v", err)
	}

	// Output follows sorted anchor order.
	expected := []int{100, 101, 102}
	for i, want := range expected {
		if result.Aligned[i] != want {
			t.Errorf("aligned[%d]: expected %d, got %d", i, want, result.Aligned[i])
		}
	}
}

func TestResampleSeconds(t *testing.T) {
	t0 := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

	t.Run("shifts by offset and interpolates", func(t *testing.T) {
		// Data clock runs 5s ahead of the activity clock.
		samples := []TimedSample{
			{Timestamp: t0.Add(5 * time.Second), Value: 100},
			{Timestamp: t0.Add(9 * time.Second), Value: 140},
		}

		stream := ResampleSeconds(samples, t0, 4, 5*time.Second)

		expected := []int{100, 110, 120, 130}
		if len(stream) != len(expected) {
			t.Fatalf("expected %d values, got %d", len(expected), len(stream))
		}
		for i, want := range expected {
			if stream[i] != want {
				t.Errorf("stream[%d]: expected %d, got %d", i, want, stream[i])
			}
		}
	})

	t.Run("empty inputs return nil", func(t *testing.T) {
		if stream := ResampleSeconds(nil, t0, 10, 0); stream != nil {
			t.Errorf("expected nil stream, got %v", stream)
		}
		if stream := ResampleSeconds([]TimedSample{{Timestamp: t0, Value: 1}}, t0, 0, 0); stream != nil {
			t.Errorf("expected nil stream, got %v", stream)
		}
	})
}

func TestIndexAligned(t *testing.T) {
	t0 := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

	t.Run("forward fills gaps and zeroes before first sample", func(t *testing.T) {
		samples := []TimedSample{
			{Timestamp: t0.Add(2 * time.Second), Value: 110},
			{Timestamp: t0.Add(5 * time.Second), Value: 130},
		}

		stream := IndexAligned(samples, t0, 8)

		expected := []int{0, 0, 110, 110, 110, 130, 130, 130}
		if len(stream) != len(expected) {
			t.Fatalf("expected %d values, got %d", len(expected), len(stream))
		}
		for i, want := range expected {
			if stream[i] != want {
				t.Errorf("stream[%d]: expected %d, got %d", i, want, stream[i])
			}
		}
	})

	t.Run("drops samples outside the activity window", func(t *testing.T) {
		samples := []TimedSample{
			{Timestamp: t0.Add(-5 * time.Second), Value: 99},
			{Timestamp: t0.Add(1 * time.Second), Value: 120},
			{Timestamp: t0.Add(30 * time.Second), Value: 150},
		}

		stream := IndexAligned(samples, t0, 3)

		expected := []int{0, 120, 120}
		for i, want := range expected {
			if stream[i] != want {
				t.Errorf("stream[%d]: expected %d, got %d", i, want, stream[i])
			}
		}
	})

	t.Run("non-positive duration returns nil", func(t *testing.T) {
		if stream := IndexAligned(nil, t0, 0); stream != nil {
			t.Errorf("expected nil stream, got %v", stream)
		}
	})
}
