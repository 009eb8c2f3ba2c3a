// fit-inspect summarizes a FIT activity file: devices, sessions, laps,
// strength sets and per-field record statistics. Used to sanity-check
// generated artifacts against what destinations will accept.
package main

import (
	"bytes"
	"flag"
	"fmt"
	"math"
	"os"
	"text/tabwriter"
	"time"

	"github.com/muktihari/fit/decoder"
	"github.com/muktihari/fit/profile/mesgdef"
	"github.com/muktihari/fit/profile/typedef"
)

type fieldStats struct {
	count int
	min   float64
	max   float64
	sum   float64
}

func (s *fieldStats) update(v float64) {
	if s.count == 0 {
		s.min = math.MaxFloat64
		s.max = -math.MaxFloat64
	}
	s.count++
	s.sum += v
	if v < s.min {
		s.min = v
	}
	if v > s.max {
		s.max = v
	}
}

func (s *fieldStats) avg() float64 {
	if s.count == 0 {
		return 0
	}
	return s.sum / float64(s.count)
}

// recordFields lists the record fields worth summarizing, in the order
// they should print.
var recordFields = []string{
	"heart_rate",
	"power",
	"cadence",
	"speed",
	"distance",
	"altitude",
	"position_lat",
	"position_long",
}

func main() {
	inputPath := flag.String("input", "", "path to FIT file")
	dumpRecords := flag.Bool("dump-records", false, "print every record field")
	flag.Parse()

	if *inputPath == "" {
		fmt.Fprintln(os.Stderr, "usage: fit-inspect -input <file.fit>")
		os.Exit(2)
	}

	data, err := os.ReadFile(*inputPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read %s: %v\n", *inputPath, err)
		os.Exit(1)
	}

	fitData, err := decoder.New(bytes.NewReader(data)).Decode()
	if err != nil {
		fmt.Fprintf(os.Stderr, "decode %s: %v\n", *inputPath, err)
		os.Exit(1)
	}

	stats := make(map[string]*fieldStats, len(recordFields))
	for _, name := range recordFields {
		stats[name] = &fieldStats{}
	}

	type deviceInfo struct {
		index        byte
		manufacturer string
		productName  string
	}
	type sessionInfo struct {
		startTime time.Time
		duration  float64
		distance  float64
		sport     string
		subSport  string
	}
	type lapInfo struct {
		startTime time.Time
		duration  float64
		distance  float64
	}
	type setInfo struct {
		startTime time.Time
		category  string
		reps      uint16
		weightKg  float64
		duration  float64
	}

	var devices []deviceInfo
	var sessions []sessionInfo
	var laps []lapInfo
	var sets []setInfo
	recordCount := 0

	for _, msg := range fitData.Messages {
		switch msg.Num {
		case typedef.MesgNumDeviceInfo:
			dev := mesgdef.NewDeviceInfo(&msg)
			devices = append(devices, deviceInfo{
				index:        byte(dev.DeviceIndex),
				manufacturer: dev.Manufacturer.String(),
				productName:  dev.ProductName,
			})

		case typedef.MesgNumSession:
			sess := mesgdef.NewSession(&msg)
			sessions = append(sessions, sessionInfo{
				startTime: sess.StartTime.UTC(),
				duration:  float64(sess.TotalElapsedTime) / 1000,
				distance:  float64(sess.TotalDistance) / 100,
				sport:     sess.Sport.String(),
				subSport:  sess.SubSport.String(),
			})

		case typedef.MesgNumLap:
			lap := mesgdef.NewLap(&msg)
			laps = append(laps, lapInfo{
				startTime: lap.StartTime.UTC(),
				duration:  float64(lap.TotalElapsedTime) / 1000,
				distance:  float64(lap.TotalDistance) / 100,
			})

		case typedef.MesgNumSet:
			set := mesgdef.NewSet(&msg)
			info := setInfo{
				startTime: set.StartTime.UTC(),
				reps:      set.Repetitions,
				weightKg:  set.WeightScaled(),
				duration:  float64(set.Duration) / 1000,
			}
			if len(set.Category) > 0 {
				info.category = set.Category[0].String()
			}
			sets = append(sets, info)

		case typedef.MesgNumRecord:
			recordCount++
			for _, field := range msg.Fields {
				if *dumpRecords {
					fmt.Printf("record %d: %s = %v\n", recordCount, field.Name, field.Value.Any())
				}
				if s, ok := stats[field.Name]; ok {
					if v, isNumeric := numericValue(field.Value.Any()); isNumeric {
						s.update(v)
					}
				}
			}
		}
	}

	fmt.Printf("Devices: %d\n", len(devices))
	if len(devices) > 0 {
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "  Index\tManufacturer\tProduct")
		for _, d := range devices {
			fmt.Fprintf(w, "  %d\t%s\t%s\n", d.index, d.manufacturer, d.productName)
		}
		w.Flush()
	}

	fmt.Printf("\nSessions: %d\n", len(sessions))
	if len(sessions) > 0 {
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "  Start\tDuration\tDistance\tSport\tSubSport")
		for _, s := range sessions {
			fmt.Fprintf(w, "  %s\t%s\t%.2f km\t%s\t%s\n",
				s.startTime.Format(time.RFC3339), formatDuration(s.duration), s.distance/1000, s.sport, s.subSport)
		}
		w.Flush()
	}

	fmt.Printf("\nLaps: %d\n", len(laps))
	if len(laps) > 0 {
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "  #\tStart\tDuration\tDistance")
		for i, l := range laps {
			fmt.Fprintf(w, "  %d\t%s\t%s\t%.2f km\n",
				i+1, l.startTime.Format("15:04:05"), formatDuration(l.duration), l.distance/1000)
		}
		w.Flush()
	}

	if len(sets) > 0 {
		fmt.Printf("\nSets: %d\n", len(sets))
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "  #\tStart\tCategory\tReps\tWeight\tDuration")
		for i, s := range sets {
			fmt.Fprintf(w, "  %d\t%s\t%s\t%d\t%.1f kg\t%s\n",
				i+1, s.startTime.Format("15:04:05"), s.category, s.reps, s.weightKg, formatDuration(s.duration))
		}
		w.Flush()
	}

	fmt.Printf("\nRecords: %d\n", recordCount)
	if recordCount > 0 {
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "  Field\tCount\tCoverage\tMin\tMax\tAvg")
		for _, name := range recordFields {
			s := stats[name]
			if s.count == 0 {
				continue
			}
			coverage := float64(s.count) / float64(recordCount) * 100
			fmt.Fprintf(w, "  %s\t%d\t%.1f%%\t%.2f\t%.2f\t%.2f\n",
				name, s.count, coverage, s.min, s.max, s.avg())
		}
		w.Flush()
	}
}

func numericValue(val any) (float64, bool) {
	switch t := val.(type) {
	case uint8:
		return float64(t), true
	case uint16:
		return float64(t), true
	case uint32:
		return float64(t), true
	case uint64:
		return float64(t), true
	case int8:
		return float64(t), true
	case int16:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case float32:
		return float64(t), true
	case float64:
		return t, true
	default:
		return 0, false
	}
}

func formatDuration(seconds float64) string {
	total := int(seconds)
	return fmt.Sprintf("%dm%02ds", total/60, total%60)
}
