package dispatch

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opReorderRoute = "dispatch.reorder_route"
	opReverseRoute = "dispatch.reverse_route"
	opRenameDriver = "dispatch.rename_driver"
	opResetDriver  = "dispatch.reset_driver"
	opCompleteStop = "dispatch.complete_stop"
)

// Reverse outcome messages echoed to the caller.
const (
	MessageRouteReversed    = "route reversed"
	MessageNoStopsToReverse = "no stops to reverse"
)

// ReorderWithinRoute pins a client at a position inside a driver's route by
// upserting the route-order row. Positions may repeat across clients; display
// order resolves ties by client id.
func (s *Service) ReorderWithinRoute(ctx context.Context, driverID DriverID, clientID ClientID, newPosition int) error {
	if newPosition < 0 {
		s.logError(opReorderRoute, "invalid_position", ErrInvalidPosition, zap.Int("new_position", newPosition))
		return newValidationError(opReorderRoute, "invalid_position", ErrInvalidPosition)
	}
	entry := RouteOrderEntry{
		DriverID: driverID.String(),
		ClientID: clientID.String(),
		Position: newPosition,
	}
	if err := upsertRouteOrder(s.db.WithContext(ctx), entry); err != nil {
		s.logError(opReorderRoute, "order_write_failed", err,
			zap.String("driver_id", driverID.String()),
			zap.String("client_id", clientID.String()))
		return newStoreError(opReorderRoute, "order_write_failed", err)
	}
	return nil
}

// ReverseResult reports the stop count a route reversal touched.
type ReverseResult struct {
	StopsReversed int
	Message       string
}

// ReverseRoute persists the exact reversal of a driver's stop list. Applying
// it twice restores the original order. An empty list succeeds with zero
// stops reversed.
func (s *Service) ReverseRoute(ctx context.Context, driverID DriverID) (ReverseResult, error) {
	var result ReverseResult
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		driver, err := loadDriver(tx, driverID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return newNotFoundError(opReverseRoute, "driver_not_found", ErrDriverNotFound)
		}
		if err != nil {
			s.logError(opReverseRoute, "driver_query_failed", err, zap.String("driver_id", driverID.String()))
			return newStoreError(opReverseRoute, "driver_query_failed", err)
		}

		if len(driver.StopIDs) == 0 {
			result = ReverseResult{Message: MessageNoStopsToReverse}
			return nil
		}

		reversed := make(StringList, len(driver.StopIDs))
		for index, stopID := range driver.StopIDs {
			reversed[len(driver.StopIDs)-1-index] = stopID
		}
		if err := setDriverStops(tx, driver.ID, reversed); err != nil {
			s.logError(opReverseRoute, "driver_update_failed", err, zap.String("driver_id", driver.ID))
			return newStoreError(opReverseRoute, "driver_update_failed", err)
		}
		result = ReverseResult{StopsReversed: len(reversed), Message: MessageRouteReversed}
		return nil
	})
	if txErr != nil {
		return ReverseResult{}, txErr
	}
	return result, nil
}

// RenameResult carries the display names around a renumbering.
type RenameResult struct {
	OldName string
	NewName string
}

// RenameDriver renumbers a driver: display name and seq change together,
// assignment stays untouched. The reserved number-zero driver cannot leave
// zero, and a number already held by another driver on the same day is a
// conflict.
func (s *Service) RenameDriver(ctx context.Context, driverID DriverID, newNumber int) (RenameResult, error) {
	if newNumber < 0 {
		s.logError(opRenameDriver, "invalid_driver_number", ErrInvalidDriverNumber, zap.Int("new_number", newNumber))
		return RenameResult{}, newValidationError(opRenameDriver, "invalid_driver_number", ErrInvalidDriverNumber)
	}

	var result RenameResult
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		driver, err := loadDriver(tx, driverID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return newNotFoundError(opRenameDriver, "driver_not_found", ErrDriverNotFound)
		}
		if err != nil {
			s.logError(opRenameDriver, "driver_query_failed", err, zap.String("driver_id", driverID.String()))
			return newStoreError(opRenameDriver, "driver_query_failed", err)
		}

		if isProtectedDriver(driver) && newNumber != protectedDriverSeq {
			return newValidationError(opRenameDriver, "protected_driver", ErrProtectedDriver)
		}

		newName := DriverName(newNumber)
		if driver.Name == newName && driver.Seq == newNumber {
			result = RenameResult{OldName: driver.Name, NewName: newName}
			return nil
		}

		taken, err := driverNumberTaken(tx, driver.Day, driver.ID, newName, newNumber)
		if err != nil {
			s.logError(opRenameDriver, "conflict_query_failed", err, zap.String("driver_id", driver.ID))
			return newStoreError(opRenameDriver, "conflict_query_failed", err)
		}
		if taken {
			return newConflictError(opRenameDriver, "number_taken", ErrDuplicateDriverNumber)
		}

		updates := map[string]interface{}{"name": newName, "seq": newNumber}
		if err := tx.Model(&Driver{}).Where(queryByID, driver.ID).Updates(updates).Error; err != nil {
			s.logError(opRenameDriver, "driver_update_failed", err, zap.String("driver_id", driver.ID))
			return newStoreError(opRenameDriver, "driver_update_failed", err)
		}
		result = RenameResult{OldName: driver.Name, NewName: newName}
		return nil
	})
	if txErr != nil {
		return RenameResult{}, txErr
	}
	return result, nil
}

// ResetResult reports how many stops a driver reset released.
type ResetResult struct {
	StopsCleared int
}

// ResetDriver empties a driver's stop list and returns its stops to the
// unassigned pool; stops are matched by the list plus any row still pointing
// at the driver. clearProof additionally wipes completion state and proof.
// A non-empty day must match the driver's scope.
func (s *Service) ResetDriver(ctx context.Context, driverID DriverID, day string, clearProof bool) (ResetResult, error) {
	var result ResetResult
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		driver, err := loadDriver(tx, driverID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return newNotFoundError(opResetDriver, "driver_not_found", ErrDriverNotFound)
		}
		if err != nil {
			s.logError(opResetDriver, "driver_query_failed", err, zap.String("driver_id", driverID.String()))
			return newStoreError(opResetDriver, "driver_query_failed", err)
		}
		if strings.TrimSpace(day) != "" && NormalizeDay(day).String() != driver.Day {
			return newNotFoundError(opResetDriver, "driver_not_found", ErrDriverNotFound)
		}

		cleared, err := releaseStops(tx, driver.StopIDs, driver.ID, clearProof)
		if err != nil {
			s.logError(opResetDriver, "stop_release_failed", err, zap.String("driver_id", driver.ID))
			return newStoreError(opResetDriver, "stop_release_failed", err)
		}
		if err := setDriverStops(tx, driver.ID, StringList{}); err != nil {
			s.logError(opResetDriver, "driver_clear_failed", err, zap.String("driver_id", driver.ID))
			return newStoreError(opResetDriver, "driver_clear_failed", err)
		}
		result = ResetResult{StopsCleared: int(cleared)}
		return nil
	})
	if txErr != nil {
		return ResetResult{}, txErr
	}
	return result, nil
}

// CompleteStop marks a stop delivered, recording the proof URL when one is
// supplied.
func (s *Service) CompleteStop(ctx context.Context, stopID StopID, proofURL string) error {
	updates := map[string]interface{}{"completed": true}
	if trimmed := strings.TrimSpace(proofURL); trimmed != "" {
		updates["proof_url"] = trimmed
	}
	result := s.db.WithContext(ctx).Model(&Stop{}).
		Where(queryByID, stopID.String()).
		Updates(updates)
	if result.Error != nil {
		s.logError(opCompleteStop, "stop_update_failed", result.Error, zap.String("stop_id", stopID.String()))
		return newStoreError(opCompleteStop, "stop_update_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return newNotFoundError(opCompleteStop, "stop_not_found", ErrStopNotFound)
	}
	return nil
}
