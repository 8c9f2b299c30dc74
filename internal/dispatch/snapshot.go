package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opSaveCurrentState = "dispatch.save_current_state"
	opApplyRun         = "dispatch.apply_run"
)

// Save outcome messages echoed to the caller.
const (
	SaveMessageCreated  = "run created"
	SaveMessageUpdated  = "run updated"
	SaveMessageNotFound = "run not found"
)

// SnapshotEntry is one driver's captured state inside a route run.
type SnapshotEntry struct {
	DriverID   string
	DriverName string
	Color      string
	Seq        int
	StopIDs    []string
}

// snapshotEntryJSON is the stored wire form. Seq is optional so snapshots
// written before the sequence column existed still decode; absent values fall
// back to the number embedded in the display name.
type snapshotEntryJSON struct {
	DriverID   string   `json:"driverId"`
	DriverName string   `json:"driverName"`
	Color      string   `json:"color"`
	Seq        *int     `json:"seq,omitempty"`
	StopIDs    []string `json:"stopIds"`
}

func snapshotFromDrivers(drivers []Driver) []SnapshotEntry {
	entries := make([]SnapshotEntry, 0, len(drivers))
	for _, driver := range drivers {
		entries = append(entries, SnapshotEntry{
			DriverID:   driver.ID,
			DriverName: driver.Name,
			Color:      driver.Color,
			Seq:        driver.Seq,
			StopIDs:    append([]string{}, driver.StopIDs...),
		})
	}
	return entries
}

func encodeSnapshot(entries []SnapshotEntry) (string, error) {
	wire := make([]snapshotEntryJSON, 0, len(entries))
	for index := range entries {
		seq := entries[index].Seq
		stopIDs := entries[index].StopIDs
		if stopIDs == nil {
			stopIDs = []string{}
		}
		wire = append(wire, snapshotEntryJSON{
			DriverID:   entries[index].DriverID,
			DriverName: entries[index].DriverName,
			Color:      entries[index].Color,
			Seq:        &seq,
			StopIDs:    stopIDs,
		})
	}
	encoded, err := json.Marshal(wire)
	if err != nil {
		return "", fmt.Errorf("encode snapshot: %w", err)
	}
	return string(encoded), nil
}

func decodeSnapshot(raw string) ([]SnapshotEntry, error) {
	var wire []snapshotEntryJSON
	if err := json.Unmarshal([]byte(raw), &wire); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}
	entries := make([]SnapshotEntry, 0, len(wire))
	for _, item := range wire {
		if strings.TrimSpace(item.DriverID) == "" {
			return nil, fmt.Errorf("%w: entry without driverId", ErrInvalidSnapshot)
		}
		seq := -1
		if item.Seq != nil {
			seq = *item.Seq
		} else if number, ok := DriverNumberFromName(item.DriverName); ok {
			seq = number
		}
		stopIDs := item.StopIDs
		if stopIDs == nil {
			stopIDs = []string{}
		}
		entries = append(entries, SnapshotEntry{
			DriverID:   item.DriverID,
			DriverName: item.DriverName,
			Color:      item.Color,
			Seq:        seq,
			StopIDs:    stopIDs,
		})
	}
	return entries, nil
}

// SaveResult identifies the run a save touched and how.
type SaveResult struct {
	RunID   string
	Message string
}

// SaveCurrentState captures the day's current driver state as a route run.
// asNew forces a fresh run; a runID rewrites that run when it exists for the
// day and otherwise reports "run not found" without failing; with neither,
// the day's latest run is rewritten, or a first run created.
func (s *Service) SaveCurrentState(ctx context.Context, day Day, runID string, asNew bool, actor string) (SaveResult, error) {
	handle := s.db.WithContext(ctx)

	drivers, err := loadDriversForDay(handle, day)
	if err != nil {
		s.logError(opSaveCurrentState, "driver_query_failed", err, zap.String("day", day.String()))
		return SaveResult{}, newStoreError(opSaveCurrentState, "driver_query_failed", err)
	}
	encoded, err := encodeSnapshot(snapshotFromDrivers(drivers))
	if err != nil {
		s.logError(opSaveCurrentState, "snapshot_encode_failed", err)
		return SaveResult{}, newStoreError(opSaveCurrentState, "snapshot_encode_failed", err)
	}

	if asNew {
		return s.insertNewRun(handle, day, encoded, actor)
	}

	trimmedRunID := strings.TrimSpace(runID)
	if trimmedRunID != "" {
		touched, err := updateRunSnapshot(handle, trimmedRunID, day, encoded)
		if err != nil {
			s.logError(opSaveCurrentState, "run_update_failed", err, zap.String("run_id", trimmedRunID))
			return SaveResult{}, newStoreError(opSaveCurrentState, "run_update_failed", err)
		}
		if touched == 0 {
			return SaveResult{RunID: trimmedRunID, Message: SaveMessageNotFound}, nil
		}
		return SaveResult{RunID: trimmedRunID, Message: SaveMessageUpdated}, nil
	}

	latest, err := latestRunForDay(handle, day)
	if err != nil {
		s.logError(opSaveCurrentState, "run_query_failed", err, zap.String("day", day.String()))
		return SaveResult{}, newStoreError(opSaveCurrentState, "run_query_failed", err)
	}
	if latest == nil {
		return s.insertNewRun(handle, day, encoded, actor)
	}
	if _, err := updateRunSnapshot(handle, latest.ID, day, encoded); err != nil {
		s.logError(opSaveCurrentState, "run_update_failed", err, zap.String("run_id", latest.ID))
		return SaveResult{}, newStoreError(opSaveCurrentState, "run_update_failed", err)
	}
	return SaveResult{RunID: latest.ID, Message: SaveMessageUpdated}, nil
}

func (s *Service) insertNewRun(handle *gorm.DB, day Day, snapshotJSON, actor string) (SaveResult, error) {
	runID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opSaveCurrentState, "id_generation_failed", err)
		return SaveResult{}, newStoreError(opSaveCurrentState, "id_generation_failed", err)
	}
	run := RouteRun{
		ID:               runID,
		Day:              day.String(),
		SnapshotJSON:     snapshotJSON,
		CreatedAtSeconds: s.clock().UTC().Unix(),
		CreatedBy:        actor,
	}
	if err := insertRun(handle, &run); err != nil {
		s.logError(opSaveCurrentState, "run_insert_failed", err, zap.String("run_id", runID))
		return SaveResult{}, newStoreError(opSaveCurrentState, "run_insert_failed", err)
	}
	return SaveResult{RunID: runID, Message: SaveMessageCreated}, nil
}

// ApplyResult reports the scale of an applied snapshot.
type ApplyResult struct {
	DriversUpdated int
}

// ApplyRun restores the driver state a stored run captured. Every snapshot
// entry is written over its driver row and its listed stops reassigned; day
// drivers absent from the snapshot lose their lists, and day stops outside
// the snapshot's lists return to the unassigned pool. One transaction.
func (s *Service) ApplyRun(ctx context.Context, runID RunID) (ApplyResult, error) {
	run, err := loadRun(s.db.WithContext(ctx), runID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ApplyResult{}, newNotFoundError(opApplyRun, "run_not_found", ErrRunNotFound)
	}
	if err != nil {
		s.logError(opApplyRun, "run_query_failed", err, zap.String("run_id", runID.String()))
		return ApplyResult{}, newStoreError(opApplyRun, "run_query_failed", err)
	}

	entries, err := decodeSnapshot(run.SnapshotJSON)
	if err != nil {
		s.logError(opApplyRun, "snapshot_decode_failed", err, zap.String("run_id", runID.String()))
		return ApplyResult{}, newValidationError(opApplyRun, "snapshot_decode_failed", err)
	}

	day := NormalizeDay(run.Day)
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		keepDriverIDs := make([]string, 0, len(entries))
		assignedStopIDs := make([]string, 0)
		for _, entry := range entries {
			keepDriverIDs = append(keepDriverIDs, entry.DriverID)
			assignedStopIDs = append(assignedStopIDs, entry.StopIDs...)
			if err := upsertSnapshotDriver(tx, day, entry); err != nil {
				s.logError(opApplyRun, "driver_upsert_failed", err, zap.String("driver_id", entry.DriverID))
				return newStoreError(opApplyRun, "driver_upsert_failed", err)
			}
			if err := assignStops(tx, entry.StopIDs, entry.DriverID); err != nil {
				s.logError(opApplyRun, "stop_assign_failed", err, zap.String("driver_id", entry.DriverID))
				return newStoreError(opApplyRun, "stop_assign_failed", err)
			}
		}
		if err := clearDriverStopsExcept(tx, day, keepDriverIDs); err != nil {
			s.logError(opApplyRun, "driver_clear_failed", err, zap.String("day", day.String()))
			return newStoreError(opApplyRun, "driver_clear_failed", err)
		}
		if err := unassignStopsOutside(tx, day, assignedStopIDs); err != nil {
			s.logError(opApplyRun, "stop_release_failed", err, zap.String("day", day.String()))
			return newStoreError(opApplyRun, "stop_release_failed", err)
		}
		return nil
	})
	if txErr != nil {
		return ApplyResult{}, txErr
	}
	return ApplyResult{DriversUpdated: len(entries)}, nil
}
