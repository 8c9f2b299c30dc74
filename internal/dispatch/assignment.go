package dispatch

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opAssignmentData = "dispatch.assignment_data"
	opListRuns       = "dispatch.list_runs"
	opGetRun         = "dispatch.get_run"
)

// AssignmentStats summarizes a day's stop coverage.
type AssignmentStats struct {
	TotalStops      int
	AssignedStops   int
	UnassignedStops int
	CompletedStops  int
	DriverCount     int
}

// AssignmentData bundles what the planning board renders for one day.
type AssignmentData struct {
	Clients []Client
	Drivers []Driver
	Stats   AssignmentStats
}

// AssignmentData loads the day's clients, the roster in route order, and the
// coverage stats in one call.
func (s *Service) AssignmentData(ctx context.Context, day Day) (AssignmentData, error) {
	handle := s.db.WithContext(ctx)

	clients, err := loadClientsForDay(handle, day)
	if err != nil {
		s.logError(opAssignmentData, "client_query_failed", err, zap.String("day", day.String()))
		return AssignmentData{}, newStoreError(opAssignmentData, "client_query_failed", err)
	}
	drivers, err := loadDriversForDay(handle, day)
	if err != nil {
		s.logError(opAssignmentData, "driver_query_failed", err, zap.String("day", day.String()))
		return AssignmentData{}, newStoreError(opAssignmentData, "driver_query_failed", err)
	}
	stops, err := loadStopsForDay(handle, day)
	if err != nil {
		s.logError(opAssignmentData, "stop_query_failed", err, zap.String("day", day.String()))
		return AssignmentData{}, newStoreError(opAssignmentData, "stop_query_failed", err)
	}

	stats := AssignmentStats{TotalStops: len(stops), DriverCount: len(drivers)}
	for _, stop := range stops {
		if stop.AssignedDriverID != nil {
			stats.AssignedStops++
		}
		if stop.Completed {
			stats.CompletedStops++
		}
	}
	stats.UnassignedStops = stats.TotalStops - stats.AssignedStops

	return AssignmentData{Clients: clients, Drivers: drivers, Stats: stats}, nil
}

// RunSummary describes one stored route run without its snapshot body.
type RunSummary struct {
	ID               string
	Day              string
	CreatedAtSeconds int64
	CreatedBy        string
	DriverCount      int
	StopCount        int
}

// ListRuns returns the day's runs newest first. Runs whose snapshot no longer
// decodes are listed with zero counts rather than dropped.
func (s *Service) ListRuns(ctx context.Context, day Day) ([]RunSummary, error) {
	runs, err := loadRunsForDay(s.db.WithContext(ctx), day)
	if err != nil {
		s.logError(opListRuns, "run_query_failed", err, zap.String("day", day.String()))
		return nil, newStoreError(opListRuns, "run_query_failed", err)
	}
	summaries := make([]RunSummary, 0, len(runs))
	for _, run := range runs {
		summary := RunSummary{
			ID:               run.ID,
			Day:              run.Day,
			CreatedAtSeconds: run.CreatedAtSeconds,
			CreatedBy:        run.CreatedBy,
		}
		if entries, decodeErr := decodeSnapshot(run.SnapshotJSON); decodeErr == nil {
			summary.DriverCount = len(entries)
			for _, entry := range entries {
				summary.StopCount += len(entry.StopIDs)
			}
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

// RunDetail is a stored run with its decoded snapshot.
type RunDetail struct {
	ID               string
	Day              string
	CreatedAtSeconds int64
	CreatedBy        string
	Entries          []SnapshotEntry
}

// GetRun loads one run and decodes its snapshot.
func (s *Service) GetRun(ctx context.Context, runID RunID) (RunDetail, error) {
	run, err := loadRun(s.db.WithContext(ctx), runID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return RunDetail{}, newNotFoundError(opGetRun, "run_not_found", ErrRunNotFound)
	}
	if err != nil {
		s.logError(opGetRun, "run_query_failed", err, zap.String("run_id", runID.String()))
		return RunDetail{}, newStoreError(opGetRun, "run_query_failed", err)
	}
	entries, err := decodeSnapshot(run.SnapshotJSON)
	if err != nil {
		s.logError(opGetRun, "snapshot_decode_failed", err, zap.String("run_id", runID.String()))
		return RunDetail{}, newValidationError(opGetRun, "snapshot_decode_failed", err)
	}
	return RunDetail{
		ID:               run.ID,
		Day:              run.Day,
		CreatedAtSeconds: run.CreatedAtSeconds,
		CreatedBy:        run.CreatedBy,
		Entries:          entries,
	}, nil
}
