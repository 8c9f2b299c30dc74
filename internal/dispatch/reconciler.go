package dispatch

import (
	"context"

	"go.uber.org/zap"
)

const opReconcileRouteOrders = "dispatch.reconcile_route_orders"

// ReconcileResult aggregates one reconciliation pass.
type ReconcileResult struct {
	Checked int
	Deleted int
}

// ReconcileRouteOrders deletes route-order rows whose (driver, client) pair no
// longer matches an assigned client. Deletion is row-by-row and deliberately
// non-transactional: a failed pass leaves a partially cleaned table and the
// next pass finishes the job.
func (s *Service) ReconcileRouteOrders(ctx context.Context) (ReconcileResult, error) {
	handle := s.db.WithContext(ctx)

	entries, err := loadRouteOrders(handle)
	if err != nil {
		s.logError(opReconcileRouteOrders, "order_query_failed", err)
		return ReconcileResult{}, newStoreError(opReconcileRouteOrders, "order_query_failed", err)
	}
	clients, err := loadAssignedClients(handle)
	if err != nil {
		s.logError(opReconcileRouteOrders, "client_query_failed", err)
		return ReconcileResult{}, newStoreError(opReconcileRouteOrders, "client_query_failed", err)
	}

	valid := make(map[string]struct{}, len(clients))
	for _, client := range clients {
		if client.AssignedDriverID == nil {
			continue
		}
		valid[routePairKey(*client.AssignedDriverID, client.ID)] = struct{}{}
	}

	deleted := 0
	for _, entry := range entries {
		if _, ok := valid[routePairKey(entry.DriverID, entry.ClientID)]; ok {
			continue
		}
		if err := deleteRouteOrder(handle, entry.DriverID, entry.ClientID); err != nil {
			s.logError(opReconcileRouteOrders, "order_delete_failed", err,
				zap.String("driver_id", entry.DriverID),
				zap.String("client_id", entry.ClientID))
			return ReconcileResult{}, newStoreError(opReconcileRouteOrders, "order_delete_failed", err)
		}
		deleted++
	}

	return ReconcileResult{Checked: len(entries), Deleted: deleted}, nil
}

func routePairKey(driverID, clientID string) string {
	return driverID + "|" + clientID
}
