// Package timeseries reconciles a sparse, precisely-timestamped anchor
// series (on-device GPS fixes) with a dense, independently-clocked data
// series (e.g. a per-second biometric stream fetched from another
// service). The two clocks are not guaranteed to agree: naive index
// mapping silently misattributes samples once drift exceeds roughly one
// second per ten minutes of activity.
package timeseries

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"
)

// TimedSample represents a single data point with timestamp
type TimedSample struct {
	Timestamp time.Time
	Value     int
}

// AlignmentResult contains the data series resampled onto the anchor
// timestamps, plus what was discovered about the clock relationship.
type AlignmentResult struct {
	Aligned []int // one value per anchor timestamp

	// Offset is the discovered constant clock offset: data clock minus
	// anchor clock. A positive offset means the data device's clock ran
	// ahead of the anchor device's.
	Offset time.Duration

	Confidence     float64 // 0..1, fraction of anchors covered at the chosen offset
	DriftPercent   float64 // window-duration disagreement between the series
	WarningMessage string  // non-fatal; callers surface it but still use the result
	Metadata       map[string]string
}

// AlignmentConfig contains parameters for alignment
type AlignmentConfig struct {
	MaxOffset       time.Duration // search radius around the window-alignment seed
	Step            time.Duration // offset grid step
	TargetAccuracy  time.Duration // a sample within this of an anchor counts as covering it
	MaxDriftPercent float64       // warning threshold
	MinConfidence   float64       // warning threshold
}

// DefaultAlignmentConfig provides sensible defaults
var DefaultAlignmentConfig = AlignmentConfig{
	MaxOffset:       2 * time.Minute,
	Step:            time.Second,
	TargetAccuracy:  2 * time.Second,
	MaxDriftPercent: 1.0,
	MinConfidence:   0.5,
}

// Align discovers the best constant time offset between the anchor and
// data series and resamples the data series onto the anchor timestamps.
// Either series being empty is an error; callers fall back to
// IndexAligned.
func Align(anchorTimestamps []time.Time, dataSamples []TimedSample, config AlignmentConfig, logger *slog.Logger) (*AlignmentResult, error) {
	if len(anchorTimestamps) == 0 {
		return nil, fmt.Errorf("alignment requires a non-empty anchor series")
	}
	if len(dataSamples) == 0 {
		return nil, fmt.Errorf("alignment requires a non-empty data series")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if config.Step <= 0 {
		config.Step = DefaultAlignmentConfig.Step
	}
	if config.TargetAccuracy <= 0 {
		config.TargetAccuracy = DefaultAlignmentConfig.TargetAccuracy
	}

	anchor := make([]time.Time, len(anchorTimestamps))
	copy(anchor, anchorTimestamps)
	sort.Slice(anchor, func(i, j int) bool { return anchor[i].Before(anchor[j]) })

	samples := make([]TimedSample, len(dataSamples))
	copy(samples, dataSamples)
	sort.Slice(samples, func(i, j int) bool { return samples[i].Timestamp.Before(samples[j].Timestamp) })

	anchorDuration := anchor[len(anchor)-1].Sub(anchor[0])
	dataDuration := samples[len(samples)-1].Timestamp.Sub(samples[0].Timestamp)

	result := &AlignmentResult{
		Aligned:  make([]int, len(anchor)),
		Metadata: make(map[string]string),
	}

	if anchorDuration > 0 {
		drift := math.Abs(float64(anchorDuration - dataDuration))
		result.DriftPercent = (drift / float64(anchorDuration)) * 100
	}

	// Seed with plain window alignment, then grid-search around it for
	// the offset that covers the most anchor points.
	seed := samples[0].Timestamp.Sub(anchor[0])
	bestOffset, bestScore := searchOffset(anchor, samples, seed, config)

	result.Offset = bestOffset
	result.Confidence = bestScore

	for i, t := range anchor {
		result.Aligned[i] = interpolate(samples, t.Add(bestOffset))
	}

	cadence, jitter := cadenceStats(samples)

	result.Metadata["offset_sec"] = fmt.Sprintf("%.1f", bestOffset.Seconds())
	result.Metadata["confidence"] = fmt.Sprintf("%.3f", bestScore)
	result.Metadata["drift_percent"] = fmt.Sprintf("%.2f", result.DriftPercent)
	result.Metadata["anchor_samples"] = fmt.Sprintf("%d", len(anchor))
	result.Metadata["data_samples"] = fmt.Sprintf("%d", len(samples))
	result.Metadata["anchor_duration_sec"] = fmt.Sprintf("%.1f", anchorDuration.Seconds())
	result.Metadata["data_duration_sec"] = fmt.Sprintf("%.1f", dataDuration.Seconds())
	result.Metadata["sample_cadence_sec"] = fmt.Sprintf("%.2f", cadence)
	result.Metadata["sample_cadence_jitter_sec"] = fmt.Sprintf("%.2f", jitter)

	switch {
	case bestScore < config.MinConfidence:
		result.WarningMessage = fmt.Sprintf("Low-confidence alignment (%.0f%% anchor coverage at offset %v), using best effort", bestScore*100, bestOffset)
		result.Metadata["alignment_status"] = "low_confidence_best_effort"
		logger.Warn("Low-confidence time-series alignment",
			"confidence", bestScore,
			"offset_sec", bestOffset.Seconds(),
		)
	case result.DriftPercent > config.MaxDriftPercent:
		result.WarningMessage = fmt.Sprintf("Clock drift of %.2f%% detected (threshold: %.2f%%), applying best-effort alignment", result.DriftPercent, config.MaxDriftPercent)
		result.Metadata["alignment_status"] = "high_drift_best_effort"
		logger.Warn("High clock drift detected during alignment",
			"drift_percent", result.DriftPercent,
			"threshold_percent", config.MaxDriftPercent,
		)
	default:
		result.Metadata["alignment_status"] = "success"
	}

	logger.Info("Time-series alignment completed",
		"offset_sec", bestOffset.Seconds(),
		"confidence", bestScore,
		"drift_percent", result.DriftPercent,
		"samples_aligned", len(result.Aligned),
	)

	return result, nil
}

// searchOffset scans candidate offsets around the seed and returns the
// one maximizing anchor coverage. Ties resolve toward the seed so a flat
// plateau (dense data over-covering the window) stays put.
func searchOffset(anchor []time.Time, samples []TimedSample, seed time.Duration, config AlignmentConfig) (time.Duration, float64) {
	best := seed
	bestScore := coverage(anchor, samples, seed, config.TargetAccuracy)
	bestDist := time.Duration(0)

	if config.MaxOffset <= 0 {
		return best, bestScore
	}

	for delta := config.Step; delta <= config.MaxOffset; delta += config.Step {
		for _, candidate := range []time.Duration{seed - delta, seed + delta} {
			score := coverage(anchor, samples, candidate, config.TargetAccuracy)
			dist := delta
			if score > bestScore || (score == bestScore && dist < bestDist) {
				best = candidate
				bestScore = score
				bestDist = dist
			}
		}
	}

	return best, bestScore
}

// coverage is the fraction of anchor points that have a data sample
// within accuracy of their offset-shifted position.
func coverage(anchor []time.Time, samples []TimedSample, offset time.Duration, accuracy time.Duration) float64 {
	covered := 0
	for _, t := range anchor {
		target := t.Add(offset)
		idx := findSampleBefore(samples, target)

		if absDuration(samples[idx].Timestamp.Sub(target)) <= accuracy {
			covered++
			continue
		}
		if idx+1 < len(samples) && absDuration(samples[idx+1].Timestamp.Sub(target)) <= accuracy {
			covered++
		}
	}
	return float64(covered) / float64(len(anchor))
}

// interpolate finds the value at the target time using linear
// interpolation between the surrounding samples, clamping to the first
// and last values outside the covered window.
func interpolate(samples []TimedSample, targetTime time.Time) int {
	if len(samples) == 0 {
		return 0
	}

	if !targetTime.After(samples[0].Timestamp) {
		return samples[0].Value
	}
	lastIdx := len(samples) - 1
	if !targetTime.Before(samples[lastIdx].Timestamp) {
		return samples[lastIdx].Value
	}

	beforeIdx := findSampleBefore(samples, targetTime)
	afterIdx := beforeIdx + 1
	if afterIdx >= len(samples) {
		return samples[beforeIdx].Value
	}

	before := samples[beforeIdx]
	after := samples[afterIdx]
	if after.Timestamp.Equal(before.Timestamp) {
		return before.Value
	}

	totalDuration := float64(after.Timestamp.Sub(before.Timestamp))
	elapsed := float64(targetTime.Sub(before.Timestamp))
	ratio := elapsed / totalDuration

	return int(math.Round(float64(before.Value) + ratio*float64(after.Value-before.Value)))
}

// findSampleBefore returns the index of the sample immediately before or
// at the target time. Binary search; returns 0 when the target precedes
// every sample.
func findSampleBefore(samples []TimedSample, targetTime time.Time) int {
	left, right := 0, len(samples)-1

	for left < right {
		mid := (left + right + 1) / 2
		if samples[mid].Timestamp.After(targetTime) {
			right = mid - 1
		} else {
			left = mid
		}
	}

	return left
}

// cadenceStats reports the mean and standard deviation of the data
// series' inter-sample intervals in seconds.
func cadenceStats(samples []TimedSample) (mean, stddev float64) {
	if len(samples) < 2 {
		return 0, 0
	}
	intervals := make([]float64, 0, len(samples)-1)
	for i := 1; i < len(samples); i++ {
		intervals = append(intervals, samples[i].Timestamp.Sub(samples[i-1].Timestamp).Seconds())
	}
	mean = stat.Mean(intervals, nil)
	stddev = math.Sqrt(stat.Variance(intervals, nil))
	return mean, stddev
}

// ResampleSeconds projects the data series onto a per-second grid of
// durationSec values starting at start, after shifting targets by the
// discovered clock offset. Values between samples interpolate linearly;
// values outside the data window clamp to the nearest edge.
func ResampleSeconds(dataSamples []TimedSample, start time.Time, durationSec int, offset time.Duration) []int {
	if durationSec <= 0 || len(dataSamples) == 0 {
		return nil
	}

	samples := make([]TimedSample, len(dataSamples))
	copy(samples, dataSamples)
	sort.Slice(samples, func(i, j int) bool { return samples[i].Timestamp.Before(samples[j].Timestamp) })

	out := make([]int, durationSec)
	for i := range out {
		target := start.Add(time.Duration(i) * time.Second).Add(offset)
		out[i] = interpolate(samples, target)
	}
	return out
}

// IndexAligned is the naive fallback mapping used when alignment is not
// possible: each sample lands at its second-offset from the activity
// start, gaps forward-fill with the last known value and the stream is
// zero before the first sample.
func IndexAligned(samples []TimedSample, activityStart time.Time, durationSec int) []int {
	if durationSec <= 0 {
		return nil
	}
	stream := make([]int, durationSec)

	for _, sample := range samples {
		offset := int(sample.Timestamp.Sub(activityStart).Seconds())
		if offset >= 0 && offset < durationSec {
			stream[offset] = sample.Value
		}
	}

	lastVal := 0
	for i := 0; i < len(stream); i++ {
		if stream[i] != 0 {
			lastVal = stream[i]
		} else {
			stream[i] = lastVal
		}
	}

	return stream
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
