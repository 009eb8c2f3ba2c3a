// Package fitbit_hr fetches intraday heart-rate data from the Fitbit API
// for the activity window and merges it in as a per-second stream. The
// Fitbit clock is aligned against the activity's GPS timestamps before
// resampling; activities without GPS fall back to naive index mapping.
package fitbit_hr

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/fitrelay/server/pkg/bootstrap"
	"github.com/fitrelay/server/pkg/enricher/providers"
	"github.com/fitrelay/server/pkg/infrastructure/oauth"
	"github.com/fitrelay/server/pkg/timeseries"
	"github.com/fitrelay/server/pkg/types"
)

const defaultBaseURL = "https://api.fitbit.com"

// Fitbit's sync pipeline can lag behind real time; a recent activity
// with no data points usually means the watch hasn't synced yet.
const (
	lagRetryDelay = 15 * time.Minute
	lagWindow     = 3 * time.Hour
)

type FitbitHRProvider struct {
	service *bootstrap.Service

	// Client and BaseURL are overridable for tests. When Client is nil an
	// OAuth client is built per-user from the stored integration tokens.
	Client  *http.Client
	BaseURL string

	// now is stubbed in tests for lag detection.
	now func() time.Time
}

func New() *FitbitHRProvider {
	return &FitbitHRProvider{
		BaseURL: defaultBaseURL,
		now:     time.Now,
	}
}

func (p *FitbitHRProvider) SetService(s *bootstrap.Service) {
	p.service = s
}

func (p *FitbitHRProvider) Name() string {
	return "fitbit-hr"
}

func (p *FitbitHRProvider) ProviderType() string {
	return providers.TypeFitbitHR
}

func (p *FitbitHRProvider) Enrich(ctx context.Context, logger *slog.Logger, activity *types.StandardizedActivity, user *types.UserRecord, inputs map[string]string, forceFinal bool) providers.Outcome {
	integration := user.Integrations["fitbit"]
	if integration == nil || !integration.Enabled {
		logger.Warn("Fitbit integration not enabled, skipping heart rate enrichment")
		return providers.OK(&providers.Patch{
			Metadata: map[string]string{
				"hr_source": "fitbit",
				"hr_status": "skipped",
				"reason":    "fitbit integration not enabled",
			},
		})
	}

	if len(activity.Sessions) == 0 {
		return providers.Fatal(fmt.Errorf("activity has no sessions"))
	}
	startTime := activity.StartTime
	durationSec := int(activity.Sessions[0].TotalElapsedTime)
	if durationSec <= 0 {
		return providers.Fatal(fmt.Errorf("activity duration is 0"))
	}
	endTime := startTime.Add(time.Duration(durationSec) * time.Second)

	client := p.Client
	if client == nil {
		if p.service == nil {
			return providers.Fatal(fmt.Errorf("service not initialized"))
		}
		ts := oauth.NewUserTokenSource(ctx, p.service.DB, p.service.Secrets, p.service.Config.ProjectID, user.UserID, "fitbit")
		client = oauth.NewHTTPClient(ctx, ts)
	}

	samples, outcome := p.fetchSamples(ctx, logger, client, startTime, endTime, forceFinal)
	if samples == nil {
		return outcome
	}

	metadata := map[string]string{
		"hr_source": "fitbit",
		"hr_points": strconv.Itoa(len(samples)),
	}

	if len(samples) == 0 {
		// No data for the window. A recent activity likely means the
		// device hasn't synced yet.
		if p.now().Sub(endTime) < lagWindow && !forceFinal {
			logger.Info("No Fitbit HR data yet for recent activity, will retry",
				"activity_end", endTime,
			)
			return providers.Retry(lagRetryDelay, "fitbit intraday data not yet synced")
		}
		logger.Warn("No heart rate data points found in Fitbit response")
		metadata["hr_status"] = "no_data"
		return providers.OK(&providers.Patch{Metadata: metadata})
	}

	stream := p.buildStream(logger, activity, samples, startTime, durationSec, metadata)

	logger.Info("Retrieved Fitbit HR",
		"points", len(samples),
		"duration", durationSec,
		"status", metadata["hr_status"],
	)

	return providers.OK(&providers.Patch{
		HeartRateStream: stream,
		Metadata:        metadata,
	})
}

// buildStream resamples the fetched samples onto the activity's
// per-second grid, aligning clocks against GPS timestamps when present.
func (p *FitbitHRProvider) buildStream(logger *slog.Logger, activity *types.StandardizedActivity, samples []timeseries.TimedSample, startTime time.Time, durationSec int, metadata map[string]string) []int {
	anchor := gpsTimestamps(activity)
	if len(anchor) < 2 {
		logger.Info("No GPS anchor series, using index-aligned heart rate stream")
		metadata["hr_status"] = "index_aligned"
		return timeseries.IndexAligned(samples, startTime, durationSec)
	}

	result, err := timeseries.Align(anchor, samples, timeseries.DefaultAlignmentConfig, logger)
	if err != nil {
		logger.Warn("Time-series alignment failed, using index-aligned stream", "error", err)
		metadata["hr_status"] = "index_aligned"
		return timeseries.IndexAligned(samples, startTime, durationSec)
	}

	metadata["hr_status"] = "aligned"
	metadata["hr_clock_offset_sec"] = result.Metadata["offset_sec"]
	metadata["hr_alignment_confidence"] = result.Metadata["confidence"]
	if result.WarningMessage != "" {
		metadata["hr_alignment_warning"] = result.WarningMessage
	}

	return timeseries.ResampleSeconds(samples, startTime, durationSec, result.Offset)
}

// fetchSamples returns the intraday dataset as timestamped samples, or a
// terminal outcome when the API could not be reached.
func (p *FitbitHRProvider) fetchSamples(ctx context.Context, logger *slog.Logger, client *http.Client, startTime, endTime time.Time, forceFinal bool) ([]timeseries.TimedSample, providers.Outcome) {
	dateStr := startTime.Format("2006-01-02")
	startTimeStr := startTime.Format("15:04")
	endTimeStr := endTime.Format("15:04")

	url := fmt.Sprintf("%s/1/user/-/activities/heart/date/%s/1d/1sec/time/%s/%s.json",
		p.BaseURL, dateStr, startTimeStr, endTimeStr)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, providers.Fatal(fmt.Errorf("fitbit request: %w", err))
	}

	resp, err := client.Do(req)
	if err != nil {
		if forceFinal {
			logger.Warn("Fitbit API unreachable, finalizing without heart rate", "error", err)
			return nil, providers.OK(&providers.Patch{
				Metadata: map[string]string{"hr_source": "fitbit", "hr_status": "unavailable"},
			})
		}
		return nil, providers.Retry(lagRetryDelay, "fitbit api request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, providers.Retry(lagRetryDelay, "fitbit api rate limited")
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, providers.Fatal(fmt.Errorf("fitbit api error %d: %s", resp.StatusCode, string(body)))
	}

	var hrResponse struct {
		ActivitiesHeartIntraday struct {
			Dataset []struct {
				Time  string `json:"time"`
				Value int    `json:"value"`
			} `json:"dataset"`
		} `json:"activities-heart-intraday"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&hrResponse); err != nil {
		return nil, providers.Fatal(fmt.Errorf("failed to decode fitbit response: %w", err))
	}

	samples := make([]timeseries.TimedSample, 0, len(hrResponse.ActivitiesHeartIntraday.Dataset))
	for _, dataPoint := range hrResponse.ActivitiesHeartIntraday.Dataset {
		ts, err := clockTimeOnDate(dataPoint.Time, startTime)
		if err != nil {
			continue
		}
		samples = append(samples, timeseries.TimedSample{Timestamp: ts, Value: dataPoint.Value})
	}
	return samples, providers.Outcome{}
}

// clockTimeOnDate resolves an "HH:MM:SS" wall-clock string onto the
// activity's date, rolling past midnight when the activity does.
func clockTimeOnDate(clock string, reference time.Time) (time.Time, error) {
	t, err := time.Parse("15:04:05", clock)
	if err != nil {
		return time.Time{}, err
	}
	resolved := time.Date(reference.Year(), reference.Month(), reference.Day(),
		t.Hour(), t.Minute(), t.Second(), 0, reference.Location())
	if resolved.Before(reference.Add(-12 * time.Hour)) {
		resolved = resolved.Add(24 * time.Hour)
	}
	return resolved, nil
}

// gpsTimestamps collects the timestamps of every GPS-bearing record.
func gpsTimestamps(activity *types.StandardizedActivity) []time.Time {
	var anchor []time.Time
	for _, session := range activity.Sessions {
		for _, lap := range session.Laps {
			for _, rec := range lap.Records {
				if (rec.PositionLat != 0 || rec.PositionLong != 0) && !rec.Timestamp.IsZero() {
					anchor = append(anchor, rec.Timestamp)
				}
			}
		}
	}
	return anchor
}
