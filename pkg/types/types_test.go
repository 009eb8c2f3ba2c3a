package types

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleActivity() *StandardizedActivity {
	start := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	return &StandardizedActivity{
		Source:    SourceHevy,
		Type:      ActivityTypeWeightTraining,
		Name:      "Push Day",
		StartTime: start,
		Sessions: []*Session{{
			StartTime:        start,
			TotalElapsedTime: 3600,
			Laps: []*Lap{{
				StartTime: start,
				Records: []*Record{
					{Timestamp: start, HeartRate: 120, PositionLat: 51.5, PositionLong: -0.1},
					{Timestamp: start.Add(time.Second), HeartRate: 125},
				},
			}},
			StrengthSets: []*StrengthSet{
				{ExerciseName: "Bench Press", Reps: 10, WeightKg: 80},
			},
		}},
	}
}

func TestClone_DeepCopy(t *testing.T) {
	original := sampleActivity()
	clone := original.Clone()

	require.NotSame(t, original, clone)
	assert.Equal(t, original, clone)

	clone.Name = "Renamed"
	clone.Sessions[0].Laps[0].Records[0].HeartRate = 200
	clone.Sessions[0].StrengthSets[0].Reps = 99
	clone.Sessions[0].Laps[0].Records = append(clone.Sessions[0].Laps[0].Records, &Record{HeartRate: 130})

	assert.Equal(t, "Push Day", original.Name)
	assert.Equal(t, 120, original.Sessions[0].Laps[0].Records[0].HeartRate)
	assert.Equal(t, 10, original.Sessions[0].StrengthSets[0].Reps)
	assert.Len(t, original.Sessions[0].Laps[0].Records, 2)
}

func TestClone_Nil(t *testing.T) {
	var a *StandardizedActivity
	assert.Nil(t, a.Clone())
}

func TestParseActivityType(t *testing.T) {
	cases := map[string]ActivityType{
		"ACTIVITY_TYPE_RUN": ActivityTypeRun,
		"run":               ActivityTypeRun,
		"Trail Run":         ActivityTypeTrailRun,
		"trail-run":         ActivityTypeTrailRun,
		"  swim  ":          ActivityTypeSwim,
		"weight_training":   ActivityTypeWeightTraining,
		"underwater basket": ActivityTypeUnspecified,
		"":                  ActivityTypeUnspecified,
	}
	for input, expected := range cases {
		assert.Equal(t, expected, ParseActivityType(input), "input %q", input)
	}
}

func TestStartLocation(t *testing.T) {
	t.Run("first fix wins", func(t *testing.T) {
		act := sampleActivity()
		lat, long, ok := act.StartLocation()
		require.True(t, ok)
		assert.InDelta(t, 51.5, lat, 1e-9)
		assert.InDelta(t, -0.1, long, 1e-9)
	})

	t.Run("no position data", func(t *testing.T) {
		act := sampleActivity()
		for _, rec := range act.Sessions[0].Laps[0].Records {
			rec.PositionLat, rec.PositionLong = 0, 0
		}
		_, _, ok := act.StartLocation()
		assert.False(t, ok)
	})
}

func TestActivityPayload_JSONRoundTrip(t *testing.T) {
	pipelineID := "pipe-1"
	payload := &ActivityPayload{
		UserID:               "user-1",
		Source:               SourceHevy,
		StandardizedActivity: sampleActivity(),
		PipelineID:           &pipelineID,
		ForceFinal:           true,
	}

	data, err := json.Marshal(payload)
	require.NoError(t, err)

	var decoded ActivityPayload
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, payload, &decoded)
}
