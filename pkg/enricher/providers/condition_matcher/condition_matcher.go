// Package condition_matcher applies title and description templates when
// an activity matches every configured condition: activity type, days of
// week, local time window and start-location proximity. Conditions AND
// together; an unset condition always passes.
package condition_matcher

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/fitrelay/server/pkg/enricher/providers"
	"github.com/fitrelay/server/pkg/types"
)

type ConditionMatcherProvider struct{}

func New() *ConditionMatcherProvider {
	return &ConditionMatcherProvider{}
}

func (p *ConditionMatcherProvider) Name() string {
	return "condition_matcher"
}

func (p *ConditionMatcherProvider) ProviderType() string {
	return providers.TypeConditionMatcher
}

func (p *ConditionMatcherProvider) Enrich(ctx context.Context, logger *slog.Logger, act *types.StandardizedActivity, user *types.UserRecord, inputs map[string]string, forceFinal bool) providers.Outcome {
	mismatch := func(reason string) providers.Outcome {
		logger.Debug("condition_matcher: condition not met", "reason", reason)
		patch := &providers.Patch{
			Metadata: map[string]string{
				"condition_matcher_applied": "false",
				"condition_fail_reason":     reason,
			},
		}
		if inputs["halt_on_mismatch"] == "true" {
			patch.HaltPipeline = true
			patch.HaltReason = reason
		}
		return providers.OK(patch)
	}

	// Activity type
	if val := inputs["activity_type"]; val != "" {
		expected := types.ParseActivityType(val)
		if expected != types.ActivityTypeUnspecified && act.Type != expected {
			return mismatch(fmt.Sprintf("Activity Type mismatch. Expected %s, got %s", expected, act.Type))
		}
	}

	// Days of week, as "Mon,Tue" or numeric 0-6 (Sun-Sat)
	startTime := act.StartTime
	if daysVal := inputs["days"]; daysVal != "" {
		currentDay := startTime.Weekday().String()[:3]
		currentDayInt := int(startTime.Weekday())
		match := false
		for _, dayStr := range strings.Split(daysVal, ",") {
			val := strings.TrimSpace(dayStr)
			if val == currentDay {
				match = true
				break
			}
			if valInt, err := strconv.Atoi(val); err == nil && valInt == currentDayInt {
				match = true
				break
			}
		}
		if !match {
			return mismatch(fmt.Sprintf("Day mismatch. Expected one of [%s], got %s (%d)", daysVal, currentDay, currentDayInt))
		}
	}

	// Time window, evaluated against local time estimated from the start
	// longitude (15 degrees per hour). Without GPS the UTC time is used.
	localTime := startTime
	lat, long, hasLoc := act.StartLocation()
	if hasLoc {
		offset := long / 15.0
		localTime = startTime.Add(time.Duration(offset * float64(time.Hour)))
	}

	if startVal := inputs["time_start"]; startVal != "" {
		if !checkTime(localTime, startVal, true) {
			return mismatch(fmt.Sprintf("Start Time mismatch. Expected >= %s, got %s (Local Est.)", startVal, localTime.Format("15:04")))
		}
	}
	if endVal := inputs["time_end"]; endVal != "" {
		if !checkTime(localTime, endVal, false) {
			return mismatch(fmt.Sprintf("End Time mismatch. Expected <= %s, got %s (Local Est.)", endVal, localTime.Format("15:04")))
		}
	}

	// Start-location proximity
	latStr := inputs["location_lat"]
	longStr := inputs["location_long"]
	if latStr != "" || longStr != "" {
		if latStr == "" || longStr == "" {
			return providers.Fatal(fmt.Errorf("both location_lat and location_long are required for location proximity matching"))
		}
		if !hasLoc {
			return mismatch("Location mismatch. No GPS data in activity.")
		}

		targetLat, err := strconv.ParseFloat(latStr, 64)
		if err != nil {
			return providers.Fatal(fmt.Errorf("invalid location_lat: %w", err))
		}
		targetLong, err := strconv.ParseFloat(longStr, 64)
		if err != nil {
			return providers.Fatal(fmt.Errorf("invalid location_long: %w", err))
		}

		radius := 200.0
		if radiusStr := inputs["radius_m"]; radiusStr != "" {
			radius, err = strconv.ParseFloat(radiusStr, 64)
			if err != nil {
				return providers.Fatal(fmt.Errorf("invalid radius_m: %w", err))
			}
		}

		dist := distanceMeters(lat, long, targetLat, targetLong)
		if dist > radius {
			return mismatch(fmt.Sprintf("Location mismatch. Distance %.2fm > Radius %.2fm", dist, radius))
		}
	}

	logger.Debug("condition_matcher: all conditions matched",
		"has_title_template", inputs["title_template"] != "",
		"has_description_template", inputs["description_template"] != "",
	)

	patch := &providers.Patch{
		Metadata: map[string]string{
			"condition_matcher_applied": "true",
		},
	}
	if tmpl := inputs["title_template"]; tmpl != "" {
		patch.Name = tmpl
	}
	if tmpl := inputs["description_template"]; tmpl != "" {
		patch.Description = tmpl
	}
	return providers.OK(patch)
}

// distanceMeters is the haversine great-circle distance.
func distanceMeters(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371000
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	deltaPhi := (lat2 - lat1) * math.Pi / 180
	deltaLambda := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(deltaPhi/2)*math.Sin(deltaPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*
			math.Sin(deltaLambda/2)*math.Sin(deltaLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return R * c
}

// checkTime compares t against an "HH:MM" boundary, inclusive.
func checkTime(t time.Time, limitStr string, isStart bool) bool {
	parts := strings.Split(limitStr, ":")
	if len(parts) < 2 {
		return false
	}
	h, _ := strconv.Atoi(parts[0])
	m, _ := strconv.Atoi(parts[1])
	limitMins := h*60 + m
	currentMins := t.Hour()*60 + t.Minute()

	if isStart {
		return currentMins >= limitMins
	}
	return currentMins <= limitMins
}
