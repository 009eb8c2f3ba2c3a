package types

import "strings"

// ParseActivityType normalizes a user-supplied activity type string to
// its canonical form. Accepts both the canonical "ACTIVITY_TYPE_RUN"
// spelling and friendly forms like "run" or "Trail Run"; unknown values
// come back as ActivityTypeUnspecified.
func ParseActivityType(s string) ActivityType {
	normalized := strings.ToUpper(strings.TrimSpace(s))
	normalized = strings.ReplaceAll(normalized, " ", "_")
	normalized = strings.ReplaceAll(normalized, "-", "_")
	if normalized == "" {
		return ActivityTypeUnspecified
	}
	if !strings.HasPrefix(normalized, "ACTIVITY_TYPE_") {
		normalized = "ACTIVITY_TYPE_" + normalized
	}

	for _, known := range []ActivityType{
		ActivityTypeRun,
		ActivityTypeTrailRun,
		ActivityTypeVirtualRun,
		ActivityTypeRide,
		ActivityTypeVirtualRide,
		ActivityTypeGravelRide,
		ActivityTypeMountainBike,
		ActivityTypeSwim,
		ActivityTypeWalk,
		ActivityTypeHike,
		ActivityTypeWeightTraining,
		ActivityTypeWorkout,
		ActivityTypeYoga,
		ActivityTypeHIIT,
		ActivityTypeRowing,
		ActivityTypeElliptical,
	} {
		if ActivityType(normalized) == known {
			return known
		}
	}
	return ActivityTypeUnspecified
}

// StartLocation returns the first GPS fix in the activity, scanning
// records in order. ok is false when the activity has no position data.
func (a *StandardizedActivity) StartLocation() (lat, long float64, ok bool) {
	for _, session := range a.Sessions {
		for _, lap := range session.Laps {
			for _, rec := range lap.Records {
				if rec.PositionLat != 0 || rec.PositionLong != 0 {
					return rec.PositionLat, rec.PositionLong, true
				}
			}
		}
	}
	return 0, 0, false
}
