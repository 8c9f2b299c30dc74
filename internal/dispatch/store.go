package dispatch

import (
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	columnID             = "id"
	columnDay            = "day"
	columnStopIDs        = "stop_ids"
	columnAssignedDriver = "assigned_driver_id"
	columnSnapshotJSON   = "snapshot_json"

	queryByID        = columnID + " = ?"
	queryByDay       = columnDay + " = ?"
	queryRunByIDDay  = columnID + " = ? AND " + columnDay + " = ?"
	queryAssigned    = columnAssignedDriver + " IS NOT NULL"
	queryAssignedTo  = columnAssignedDriver + " = ?"
	queryStopIDIn    = columnID + " IN ?"
	queryDriverOrder = "driver_id = ? AND client_id = ?"

	// Numbered drivers sort by seq; unnumbered (seq < 0) sort last in creation order.
	orderDriversBySeq = "CASE WHEN seq < 0 THEN 1 ELSE 0 END ASC, seq ASC, created_at ASC"
	orderStopsByID    = columnID + " ASC"
	orderRunsNewest   = "created_at_s DESC, id DESC"
	orderRouteEntries = "driver_id ASC, position ASC, client_id ASC"
)

// scopeStops narrows a stop query to one day; the all scope is unfiltered.
func scopeStops(tx *gorm.DB, day Day) *gorm.DB {
	if day.CoversAllStops() {
		return tx
	}
	return tx.Where(queryByDay, day.String())
}

// scopeClients follows the stop scoping rule.
func scopeClients(tx *gorm.DB, day Day) *gorm.DB {
	if day.CoversAllStops() {
		return tx
	}
	return tx.Where(queryByDay, day.String())
}

func loadStopIDsForDay(tx *gorm.DB, day Day) ([]string, error) {
	var stopIDs []string
	err := scopeStops(tx.Model(&Stop{}), day).
		Order(orderStopsByID).
		Pluck(columnID, &stopIDs).Error
	if err != nil {
		return nil, err
	}
	return stopIDs, nil
}

func loadStopsForDay(tx *gorm.DB, day Day) ([]Stop, error) {
	var stops []Stop
	err := scopeStops(tx, day).
		Order(orderStopsByID).
		Find(&stops).Error
	if err != nil {
		return nil, err
	}
	return stops, nil
}

// loadDriversForDay returns the day's roster in route order. Drivers are
// always scoped by their day column; the all scope is its own roster.
func loadDriversForDay(tx *gorm.DB, day Day) ([]Driver, error) {
	var drivers []Driver
	err := tx.Where(queryByDay, day.String()).
		Order(orderDriversBySeq).
		Find(&drivers).Error
	if err != nil {
		return nil, err
	}
	return drivers, nil
}

func loadDriver(tx *gorm.DB, driverID DriverID) (Driver, error) {
	var driver Driver
	err := tx.Where(queryByID, driverID.String()).Take(&driver).Error
	return driver, err
}

func setDriverStops(tx *gorm.DB, driverID string, stopIDs StringList) error {
	if stopIDs == nil {
		stopIDs = StringList{}
	}
	return tx.Model(&Driver{}).
		Where(queryByID, driverID).
		Update(columnStopIDs, stopIDs).Error
}

// clearDriverStopsExcept empties the stop lists of the day's drivers that are
// not in keepIDs.
func clearDriverStopsExcept(tx *gorm.DB, day Day, keepIDs []string) error {
	query := tx.Model(&Driver{}).Where(queryByDay, day.String())
	if len(keepIDs) > 0 {
		query = query.Where(columnID+" NOT IN ?", keepIDs)
	}
	return query.Update(columnStopIDs, StringList{}).Error
}

func assignStops(tx *gorm.DB, stopIDs []string, driverID string) error {
	if len(stopIDs) == 0 {
		return nil
	}
	return tx.Model(&Stop{}).
		Where(queryStopIDIn, stopIDs).
		Update(columnAssignedDriver, driverID).Error
}

// unassignStopsOutside nulls assignment on the day's stops that are not in
// stopIDs, making the union of the driver lists the complete assigned set.
func unassignStopsOutside(tx *gorm.DB, day Day, stopIDs []string) error {
	query := scopeStops(tx.Model(&Stop{}), day).Where(queryAssigned)
	if len(stopIDs) > 0 {
		query = query.Where(columnID+" NOT IN ?", stopIDs)
	}
	return query.Update(columnAssignedDriver, nil).Error
}

// releaseStops unassigns the stops listed by a driver plus any stop still
// pointing at it, optionally wiping completion proof. Returns rows touched.
func releaseStops(tx *gorm.DB, stopIDs []string, driverID string, clearProof bool) (int64, error) {
	query := tx.Model(&Stop{})
	if len(stopIDs) > 0 {
		query = query.Where(queryStopIDIn+" OR "+queryAssignedTo, stopIDs, driverID)
	} else {
		query = query.Where(queryAssignedTo, driverID)
	}
	updates := map[string]interface{}{columnAssignedDriver: nil}
	if clearProof {
		updates["completed"] = false
		updates["proof_url"] = nil
	}
	result := query.Updates(updates)
	return result.RowsAffected, result.Error
}

func insertRun(tx *gorm.DB, run *RouteRun) error {
	return tx.Create(run).Error
}

func loadRun(tx *gorm.DB, runID RunID) (RouteRun, error) {
	var run RouteRun
	err := tx.Where(queryByID, runID.String()).Take(&run).Error
	return run, err
}

// latestRunForDay returns the day's newest run, or nil when none exists.
func latestRunForDay(tx *gorm.DB, day Day) (*RouteRun, error) {
	var run RouteRun
	err := tx.Where(queryByDay, day.String()).
		Order(orderRunsNewest).
		Take(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// updateRunSnapshot rewrites a run's snapshot where id and day both match and
// reports the rows touched.
func updateRunSnapshot(tx *gorm.DB, runID string, day Day, snapshotJSON string) (int64, error) {
	result := tx.Model(&RouteRun{}).
		Where(queryRunByIDDay, runID, day.String()).
		Update(columnSnapshotJSON, snapshotJSON)
	return result.RowsAffected, result.Error
}

func loadRunsForDay(tx *gorm.DB, day Day) ([]RouteRun, error) {
	var runs []RouteRun
	err := tx.Where(queryByDay, day.String()).
		Order(orderRunsNewest).
		Find(&runs).Error
	if err != nil {
		return nil, err
	}
	return runs, nil
}

// upsertSnapshotDriver writes one snapshot entry over the driver row,
// inserting it when the id is new to the store.
func upsertSnapshotDriver(tx *gorm.DB, day Day, entry SnapshotEntry) error {
	driver := Driver{
		ID:      entry.DriverID,
		Day:     day.String(),
		Name:    entry.DriverName,
		Seq:     entry.Seq,
		Color:   entry.Color,
		StopIDs: append(StringList{}, entry.StopIDs...),
	}
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: columnID}},
		DoUpdates: clause.AssignmentColumns([]string{columnDay, "name", "seq", "color", columnStopIDs, "updated_at"}),
	}).Create(&driver).Error
}

func upsertRouteOrder(tx *gorm.DB, entry RouteOrderEntry) error {
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "driver_id"}, {Name: "client_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"position", "updated_at"}),
	}).Create(&entry).Error
}

// loadRouteOrders returns every route-order row grouped by driver, position
// ascending; ties on position resolve by client id so the listing is a total
// order.
func loadRouteOrders(tx *gorm.DB) ([]RouteOrderEntry, error) {
	var entries []RouteOrderEntry
	err := tx.Order(orderRouteEntries).Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func deleteRouteOrder(tx *gorm.DB, driverID, clientID string) error {
	return tx.Where(queryDriverOrder, driverID, clientID).
		Delete(&RouteOrderEntry{}).Error
}

func loadAssignedClients(tx *gorm.DB) ([]Client, error) {
	var clients []Client
	err := tx.Where(queryAssigned).Find(&clients).Error
	if err != nil {
		return nil, err
	}
	return clients, nil
}

func loadClientsForDay(tx *gorm.DB, day Day) ([]Client, error) {
	var clients []Client
	err := scopeClients(tx, day).
		Order("name ASC, id ASC").
		Find(&clients).Error
	if err != nil {
		return nil, err
	}
	return clients, nil
}

// driverNumberTaken reports whether another driver on the day already carries
// the number, by display name or by seq.
func driverNumberTaken(tx *gorm.DB, day string, excludeID string, name string, seq int) (bool, error) {
	var count int64
	err := tx.Model(&Driver{}).
		Where(queryByDay+" AND "+columnID+" <> ? AND (name = ? OR seq = ?)", day, excludeID, name, seq).
		Count(&count).Error
	return count > 0, err
}
