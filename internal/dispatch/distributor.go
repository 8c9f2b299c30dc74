package dispatch

import (
	"context"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const opGenerateRoutes = "dispatch.generate_routes"

// GenerateResult reports what one route generation pass produced.
type GenerateResult struct {
	RunID          string
	DriversCreated int
	StopsAssigned  int
}

// GenerateRoutes splits the day's stops into contiguous, evenly sized slices
// across driverCount drivers. Existing drivers are reused in route order and
// renumbered into the rotation; missing ones are created; drivers beyond the
// count are soft-retired with their stop lists emptied. Both the driver stop
// lists and the stop assignment column are written in one transaction, and a
// route run capturing the final state is appended.
func (s *Service) GenerateRoutes(ctx context.Context, day Day, driverCount int, actor string) (GenerateResult, error) {
	if driverCount < 1 {
		s.logError(opGenerateRoutes, "invalid_driver_count", ErrInvalidDriverCount, zap.Int("driver_count", driverCount))
		return GenerateResult{}, newValidationError(opGenerateRoutes, "invalid_driver_count", ErrInvalidDriverCount)
	}

	var result GenerateResult
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		stopIDs, err := loadStopIDsForDay(tx, day)
		if err != nil {
			s.logError(opGenerateRoutes, "stop_query_failed", err, zap.String("day", day.String()))
			return newStoreError(opGenerateRoutes, "stop_query_failed", err)
		}

		existing, err := loadDriversForDay(tx, day)
		if err != nil {
			s.logError(opGenerateRoutes, "driver_query_failed", err, zap.String("day", day.String()))
			return newStoreError(opGenerateRoutes, "driver_query_failed", err)
		}

		routeDrivers := make([]Driver, 0, driverCount)
		for index := 0; index < driverCount; index++ {
			if index < len(existing) {
				driver := existing[index]
				driver.Name = DriverName(index)
				driver.Seq = index
				driver.Color = ColorForIndex(index)
				driver.StopIDs = StringList{}
				routeDrivers = append(routeDrivers, driver)
				continue
			}

			driverID, err := s.idProvider.NewID()
			if err != nil {
				s.logError(opGenerateRoutes, "id_generation_failed", err)
				return newStoreError(opGenerateRoutes, "id_generation_failed", err)
			}
			routeDrivers = append(routeDrivers, Driver{
				ID:      driverID,
				Day:     day.String(),
				Name:    DriverName(index),
				Seq:     index,
				Color:   ColorForIndex(index),
				StopIDs: StringList{},
			})
		}

		distributeStops(routeDrivers, stopIDs)

		for index := range routeDrivers {
			if err := tx.Save(&routeDrivers[index]).Error; err != nil {
				s.logError(opGenerateRoutes, "driver_save_failed", err,
					zap.String("driver_id", routeDrivers[index].ID))
				return newStoreError(opGenerateRoutes, "driver_save_failed", err)
			}
			if err := assignStops(tx, routeDrivers[index].StopIDs, routeDrivers[index].ID); err != nil {
				s.logError(opGenerateRoutes, "stop_assign_failed", err,
					zap.String("driver_id", routeDrivers[index].ID))
				return newStoreError(opGenerateRoutes, "stop_assign_failed", err)
			}
		}

		// Soft retirement: the roster row survives with an empty list so the
		// driver can rejoin a later rotation.
		for index := driverCount; index < len(existing); index++ {
			if err := setDriverStops(tx, existing[index].ID, StringList{}); err != nil {
				s.logError(opGenerateRoutes, "driver_retire_failed", err,
					zap.String("driver_id", existing[index].ID))
				return newStoreError(opGenerateRoutes, "driver_retire_failed", err)
			}
			if _, err := releaseStops(tx, nil, existing[index].ID, false); err != nil {
				s.logError(opGenerateRoutes, "stop_release_failed", err,
					zap.String("driver_id", existing[index].ID))
				return newStoreError(opGenerateRoutes, "stop_release_failed", err)
			}
		}

		runID, err := s.idProvider.NewID()
		if err != nil {
			s.logError(opGenerateRoutes, "id_generation_failed", err)
			return newStoreError(opGenerateRoutes, "id_generation_failed", err)
		}
		encoded, err := encodeSnapshot(snapshotFromDrivers(routeDrivers))
		if err != nil {
			s.logError(opGenerateRoutes, "snapshot_encode_failed", err)
			return newStoreError(opGenerateRoutes, "snapshot_encode_failed", err)
		}
		run := RouteRun{
			ID:               runID,
			Day:              day.String(),
			SnapshotJSON:     encoded,
			CreatedAtSeconds: s.clock().UTC().Unix(),
			CreatedBy:        actor,
		}
		if err := insertRun(tx, &run); err != nil {
			s.logError(opGenerateRoutes, "run_insert_failed", err, zap.String("run_id", runID))
			return newStoreError(opGenerateRoutes, "run_insert_failed", err)
		}

		result = GenerateResult{
			RunID:          runID,
			DriversCreated: driverCount,
			StopsAssigned:  len(stopIDs),
		}
		return nil
	})

	if txErr != nil {
		return GenerateResult{}, txErr
	}
	return result, nil
}

// distributeStops splits stopIDs into contiguous slices: base = S/N, with the
// first S mod N drivers taking one extra stop.
func distributeStops(drivers []Driver, stopIDs []string) {
	if len(drivers) == 0 {
		return
	}
	base := len(stopIDs) / len(drivers)
	remainder := len(stopIDs) % len(drivers)
	offset := 0
	for index := range drivers {
		share := base
		if index < remainder {
			share++
		}
		drivers[index].StopIDs = append(StringList{}, stopIDs[offset:offset+share]...)
		offset += share
	}
}
