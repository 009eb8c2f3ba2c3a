// Package file_generators turns standardized activities into binary
// artifact files for upload to destination services.
package file_generators

import (
	"bytes"
	"fmt"
	"time"

	"github.com/muktihari/fit/encoder"
	"github.com/muktihari/fit/profile/mesgdef"
	"github.com/muktihari/fit/profile/typedef"
	"github.com/muktihari/fit/proto"

	"github.com/fitrelay/server/pkg/types"
)

// semicircleConst converts degrees to FIT semicircles (2^31 / 180).
const semicircleConst = 11930464.7111

// Encode produces a FIT activity file from a standardized activity.
// Only the first session is encoded; laps are flattened into a single
// FIT lap. Encoding is deterministic: the same activity always yields
// byte-identical output.
func Encode(activity *types.StandardizedActivity) ([]byte, error) {
	if activity == nil {
		return nil, fmt.Errorf("activity cannot be nil")
	}
	if len(activity.Sessions) == 0 {
		return nil, fmt.Errorf("activity must have at least one session")
	}

	startTime := activity.StartTime
	if startTime.IsZero() {
		return nil, fmt.Errorf("invalid start time: zero")
	}

	session := activity.Sessions[0]
	sport, subSport := mapSport(activity.Type)

	fit := &proto.FIT{
		Messages: []proto.Message{},
	}

	fileId := mesgdef.NewFileId(nil).
		SetType(typedef.FileActivity).
		SetManufacturer(typedef.ManufacturerDevelopment).
		SetProduct(1).
		SetTimeCreated(startTime)
	fit.Messages = append(fit.Messages, fileId.ToMesg(nil))

	// Two device entries: the source app the activity came from, and
	// FitRelay as the aggregator that assembled the file.
	manuf, productName := mapSourceToDevice(activity.Source)
	sourceDeviceMsg := mesgdef.NewDeviceInfo(nil).
		SetTimestamp(startTime).
		SetManufacturer(manuf).
		SetProduct(0).
		SetProductName(productName).
		SetDeviceIndex(0)
	fit.Messages = append(fit.Messages, sourceDeviceMsg.ToMesg(nil))

	aggregatorDeviceMsg := mesgdef.NewDeviceInfo(nil).
		SetTimestamp(startTime).
		SetManufacturer(typedef.ManufacturerDevelopment).
		SetProduct(1).
		SetProductName("FitRelay").
		SetDeviceIndex(1)
	fit.Messages = append(fit.Messages, aggregatorDeviceMsg.ToMesg(nil))

	sessionMsg := mesgdef.NewSession(nil).
		SetTimestamp(startTime).
		SetSport(sport).
		SetSubSport(subSport).
		SetStartTime(startTime)
	if session.TotalElapsedTime > 0 {
		sessionMsg.SetTotalElapsedTime(uint32(session.TotalElapsedTime * 1000))
		sessionMsg.SetTotalTimerTime(uint32(session.TotalElapsedTime * 1000))
	}
	if session.TotalDistance > 0 {
		sessionMsg.SetTotalDistance(uint32(session.TotalDistance * 100))
	}

	lapMsg := mesgdef.NewLap(nil).
		SetTimestamp(startTime).
		SetStartTime(startTime).
		SetSport(sport).
		SetSubSport(subSport).
		SetMessageIndex(0)
	if session.TotalElapsedTime > 0 {
		lapMsg.SetTotalElapsedTime(uint32(session.TotalElapsedTime * 1000))
		lapMsg.SetTotalTimerTime(uint32(session.TotalElapsedTime * 1000))
	}
	if session.TotalDistance > 0 {
		lapMsg.SetTotalDistance(uint32(session.TotalDistance * 100))
	}

	recordCount := 0
	for _, lap := range session.Laps {
		for _, record := range lap.Records {
			if record.Timestamp.IsZero() {
				continue
			}

			recordMsg := mesgdef.NewRecord(nil).SetTimestamp(record.Timestamp)

			if record.HeartRate > 0 {
				recordMsg.SetHeartRate(uint8(record.HeartRate))
			}
			if record.Power > 0 {
				recordMsg.SetPower(uint16(record.Power))
			}
			if record.Cadence > 0 {
				recordMsg.SetCadence(uint8(record.Cadence))
			}
			if record.Speed > 0 {
				recordMsg.SetSpeed(uint16(record.Speed * 1000))
			}
			if record.Altitude != 0 {
				// scale 5, offset 500
				alt := (record.Altitude + 500) * 5
				if alt >= 0 {
					recordMsg.SetAltitude(uint16(alt))
				}
			}
			if record.PositionLat != 0 || record.PositionLong != 0 {
				lat := int32(record.PositionLat * semicircleConst)
				long := int32(record.PositionLong * semicircleConst)
				recordMsg.SetPositionLat(lat)
				recordMsg.SetPositionLong(long)

				if recordCount == 0 {
					lapMsg.SetStartPositionLat(lat)
					lapMsg.SetStartPositionLong(long)
					sessionMsg.SetStartPositionLat(lat)
					sessionMsg.SetStartPositionLong(long)
				}
			}

			fit.Messages = append(fit.Messages, recordMsg.ToMesg(nil))
			recordCount++
		}
	}

	// Destinations reject record-less files; synthesize one empty record
	// per second of the session.
	if recordCount == 0 && session.TotalElapsedTime > 0 {
		duration := int(session.TotalElapsedTime)
		for i := 0; i < duration; i++ {
			ts := startTime.Add(time.Duration(i) * time.Second)
			recordMsg := mesgdef.NewRecord(nil).SetTimestamp(ts)
			fit.Messages = append(fit.Messages, recordMsg.ToMesg(nil))
		}
	}

	if sport == typedef.SportTraining {
		for i, set := range session.StrengthSets {
			setStartTime := startTime
			if !set.StartTime.IsZero() {
				setStartTime = set.StartTime
			}

			setMsg := mesgdef.NewSet(nil).
				SetTimestamp(setStartTime).
				SetStartTime(setStartTime).
				SetCategory([]typedef.ExerciseCategory{MapExerciseToCategory(set.ExerciseName)}).
				SetSetType(typedef.SetTypeActive).
				SetMessageIndex(typedef.MessageIndex(i))

			if set.Reps > 0 {
				setMsg.SetRepetitions(uint16(set.Reps))
			}
			if set.WeightKg > 0 {
				setMsg.SetWeightScaled(set.WeightKg)
			}
			if set.DurationSeconds > 0 {
				setMsg.SetDuration(uint32(set.DurationSeconds * 1000))
			}
			fit.Messages = append(fit.Messages, setMsg.ToMesg(nil))
		}
	}

	fit.Messages = append(fit.Messages, lapMsg.ToMesg(nil))
	fit.Messages = append(fit.Messages, sessionMsg.ToMesg(nil))

	activityMsg := mesgdef.NewActivity(nil).
		SetTimestamp(startTime).
		SetType(typedef.ActivityManual).
		SetNumSessions(1)
	fit.Messages = append(fit.Messages, activityMsg.ToMesg(nil))

	var buf bytes.Buffer
	enc := encoder.New(&buf)
	if err := enc.Encode(fit); err != nil {
		return nil, fmt.Errorf("failed to encode FIT file: %w", err)
	}

	return buf.Bytes(), nil
}

func mapSport(activityType types.ActivityType) (typedef.Sport, typedef.SubSport) {
	switch activityType {
	case types.ActivityTypeRun, types.ActivityTypeVirtualRun, types.ActivityTypeTrailRun:
		return typedef.SportRunning, typedef.SubSportGeneric

	case types.ActivityTypeRide, types.ActivityTypeVirtualRide,
		types.ActivityTypeGravelRide, types.ActivityTypeMountainBike:
		return typedef.SportCycling, typedef.SubSportGeneric

	case types.ActivityTypeSwim:
		return typedef.SportSwimming, typedef.SubSportLapSwimming

	case types.ActivityTypeWalk:
		return typedef.SportWalking, typedef.SubSportGeneric
	case types.ActivityTypeHike:
		return typedef.SportHiking, typedef.SubSportGeneric

	case types.ActivityTypeWeightTraining:
		return typedef.SportTraining, typedef.SubSportStrengthTraining
	case types.ActivityTypeWorkout, types.ActivityTypeElliptical:
		return typedef.SportTraining, typedef.SubSportGeneric
	case types.ActivityTypeYoga:
		return typedef.SportTraining, typedef.SubSportYoga
	case types.ActivityTypeHIIT:
		return typedef.SportTraining, typedef.SubSportHiit

	case types.ActivityTypeRowing:
		return typedef.SportRowing, typedef.SubSportGeneric

	default:
		return typedef.SportGeneric, typedef.SubSportGeneric
	}
}

// mapSourceToDevice names the originating app in the file's device list.
// Development manufacturer is used since these apps have no official ids.
func mapSourceToDevice(source types.ActivitySource) (typedef.Manufacturer, string) {
	switch source {
	case types.SourceHevy:
		return typedef.ManufacturerDevelopment, "Hevy"
	case types.SourceStrava:
		return typedef.ManufacturerDevelopment, "Strava"
	case types.SourcePeloton:
		return typedef.ManufacturerDevelopment, "Peloton"
	case types.SourceTest:
		return typedef.ManufacturerDevelopment, "FitRelay Test"
	default:
		return typedef.ManufacturerDevelopment, "FitRelay"
	}
}
