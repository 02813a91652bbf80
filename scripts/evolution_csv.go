package main

import (
	"encoding/csv"
	"fmt"
	"os"
	"time"

	"github.com/Agrid-Dev/preheat/internal/heating"
)

type ScheduleSlot struct {
	Start       time.Duration // offset from midnight
	Temperature float64
}

// dailySchedule returns the target at t and the next change after t.
func dailySchedule(slots []ScheduleSlot, t time.Time) (target float64, next float64, nextChange time.Time) {
	midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	offset := t.Sub(midnight)

	target = slots[len(slots)-1].Temperature
	for i, s := range slots {
		if s.Start > offset {
			return target, s.Temperature, midnight.Add(s.Start)
		}
		target = slots[i].Temperature
	}
	first := slots[0]
	return target, first.Temperature, midnight.Add(24*time.Hour + first.Start)
}

func SimulateRoom(start time.Time, steps int, step time.Duration, filename string, slots []ScheduleSlot) error {
	const room = "Dining room"
	env := heating.EnvironmentReadings{FlowTemperature: 45, OutsideTemperature: 5}
	co := heating.Coefficients{BaseRate: 0.5, FlowGain: 0.05, CoolingGain: 0.02}

	predictor, err := heating.NewPredictor(heating.CoefficientTable{room: co})
	if err != nil {
		return fmt.Errorf("failed to create predictor: %v", err)
	}
	sim, err := heating.NewRoomSimulator(heating.RoomSimulatorParams{
		Coefficients:       co,
		OutsideTemperature: env.OutsideTemperature,
		FlowTemperature:    env.FlowTemperature,
		HeatLoss:           0.05,
	}, 17)
	if err != nil {
		return fmt.Errorf("failed to create simulator: %v", err)
	}

	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	if err := writer.Write([]string{"Time", "Current", "Target", "Next", "NextChange", "Phase", "LeadMinutes", "PlannedStart", "Event"}); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	// schedule reads what the heating controller reports: after an
	// advance, the upcoming temperature is already the target.
	var advancedUntil time.Time
	schedule := func(now time.Time) heating.RoomSchedule {
		target, next, nextChange := dailySchedule(slots, now)
		if now.Before(advancedUntil) {
			target = next
		}
		return heating.RoomSchedule{
			CurrentTemperature: sim.Temperature(),
			TargetTemperature:  target,
			NextTemperature:    next,
			NextChange:         nextChange,
		}
	}

	now := start
	ctrl := heating.NewRoomController("climate.dining", room, predictor, nil, schedule(now))

	for range steps {
		s := schedule(now)
		events := ctrl.Tick(now, s, env)

		var actions string
		for _, e := range events {
			switch e.Action {
			case heating.ActionAdvanceSchedule:
				advancedUntil = s.NextChange
			case heating.ActionCancelOverrides:
				advancedUntil = time.Time{}
			}
			actions += string(e.Action)
		}

		snap := ctrl.Snapshot()
		if err := writer.Write([]string{
			now.Format(time.DateTime),
			fmt.Sprintf("%.2f", snap.CurrentTemperature),
			fmt.Sprintf("%.2f", s.TargetTemperature),
			fmt.Sprintf("%.2f", snap.NextTargetTemperature),
			snap.NextScheduleChange.Format(time.DateTime),
			snap.Phase.String(),
			fmt.Sprintf("%d", snap.PredictedLeadMinutes),
			snap.PlannedHeatStart.Format(time.DateTime),
			actions,
		}); err != nil {
			return fmt.Errorf("failed to write CSV record: %v", err)
		}

		sim.Step(schedule(now).TargetTemperature, step)
		now = now.Add(step)
	}

	return nil
}

func main() {
	slots := []ScheduleSlot{
		{Start: 0, Temperature: 16},
		{Start: 6*time.Hour + 30*time.Minute, Temperature: 21},
		{Start: 9 * time.Hour, Temperature: 17},
		{Start: 17 * time.Hour, Temperature: 21},
		{Start: 22*time.Hour + 30*time.Minute, Temperature: 16},
	}
	start := time.Date(2024, time.January, 15, 0, 0, 0, 0, time.Local)
	if err := SimulateRoom(start, 2*24*60, time.Minute, "preheat.csv", slots); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
