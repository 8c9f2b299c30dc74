package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/waypointhq/waypoint/backend/internal/auth"
	"github.com/waypointhq/waypoint/backend/internal/dispatch"
)

const staffIDContextKey = "waypoint_staff_id"

var (
	errMissingSessionValidator = errors.New("session validator dependency required")
	errMissingUsersService     = errors.New("users service dependency required")
	errMissingDispatchService  = errors.New("dispatch service dependency required")
)

// SessionAuthenticator validates the session carried by an incoming request.
type SessionAuthenticator interface {
	ValidateRequest(r *http.Request) (auth.SessionClaims, error)
}

// StaffDirectory resolves session claims to a canonical staff id.
type StaffDirectory interface {
	ResolveStaffID(claims auth.SessionClaims) (string, error)
}

// Dependencies wires the services the HTTP surface is built from.
type Dependencies struct {
	SessionValidator SessionAuthenticator
	UsersService     StaffDirectory
	DispatchService  *dispatch.Service
	Logger           *zap.Logger
}

// NewHTTPHandler assembles the gin router for the dispatch API.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.SessionValidator == nil {
		return nil, errMissingSessionValidator
	}
	if deps.UsersService == nil {
		return nil, errMissingUsersService
	}
	if deps.DispatchService == nil {
		return nil, errMissingDispatchService
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		sessions:        deps.SessionValidator,
		users:           deps.UsersService,
		dispatchService: deps.DispatchService,
		logger:          logger,
	}

	router.GET("/healthz", handler.handleHealthz)

	route := router.Group("/route")
	route.Use(handler.authorizeRequest)
	route.Use(noStoreCache)
	route.POST("/generate", handler.handleGenerate)
	route.POST("/apply-run", handler.handleApplyRun)
	route.POST("/runs/save-current", handler.handleSaveCurrent)
	route.GET("/runs", handler.handleListRuns)
	route.GET("/runs/:id", handler.handleGetRun)
	route.POST("/reorder-route", handler.handleReorderRoute)
	route.POST("/reverse", handler.handleReverseRoute)
	route.POST("/reset", handler.handleResetDriver)
	route.POST("/rename-driver", handler.handleRenameDriver)
	route.POST("/stops/complete", handler.handleCompleteStop)
	route.GET("/assignment-data", handler.handleAssignmentData)
	route.GET("/geometry", handler.handleRouteGeometry)
	route.POST("/reconcile-orders", handler.handleReconcileOrders)

	return router, nil
}

type httpHandler struct {
	sessions        SessionAuthenticator
	users           StaffDirectory
	dispatchService *dispatch.Service
	logger          *zap.Logger
}

func (h *httpHandler) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	claims, err := h.sessions.ValidateRequest(c.Request)
	if err != nil {
		h.logger.Warn("session validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	staffID, err := h.users.ResolveStaffID(claims)
	if err != nil {
		h.logger.Warn("staff resolution failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(staffIDContextKey, staffID)
	c.Next()
}

// Assignment boards poll these endpoints; stale responses reorder routes
// under the dispatcher's cursor.
func noStoreCache(c *gin.Context) {
	c.Header("Cache-Control", "no-store")
	c.Next()
}

func (h *httpHandler) respondDispatchError(c *gin.Context, err error) {
	switch dispatch.KindOf(err) {
	case dispatch.KindValidation:
		c.JSON(http.StatusBadRequest, gin.H{"error": dispatch.ReasonOf(err)})
	case dispatch.KindNotFound:
		c.JSON(http.StatusNotFound, gin.H{"error": dispatch.ReasonOf(err)})
	case dispatch.KindConflict:
		c.JSON(http.StatusConflict, gin.H{"error": dispatch.ReasonOf(err)})
	default:
		h.logger.Error("dispatch request failed", zap.String("code", dispatch.CodeOf(err)), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}

type generateRequestPayload struct {
	Day         string `json:"day"`
	DriverCount int    `json:"driverCount"`
}

func (h *httpHandler) handleGenerate(c *gin.Context) {
	var request generateRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	result, err := h.dispatchService.GenerateRoutes(
		c.Request.Context(),
		dispatch.NormalizeDay(request.Day),
		request.DriverCount,
		c.GetString(staffIDContextKey),
	)
	if err != nil {
		h.respondDispatchError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":        true,
		"runId":          result.RunID,
		"driversCreated": result.DriversCreated,
		"stopsAssigned":  result.StopsAssigned,
	})
}

type applyRunRequestPayload struct {
	RunID string `json:"runId"`
}

func (h *httpHandler) handleApplyRun(c *gin.Context) {
	var request applyRunRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	runID, err := dispatch.NewRunID(request.RunID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_run_id"})
		return
	}

	result, err := h.dispatchService.ApplyRun(c.Request.Context(), runID)
	if err != nil {
		h.respondDispatchError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":        true,
		"driversUpdated": result.DriversUpdated,
	})
}

type saveCurrentRequestPayload struct {
	Day   string `json:"day"`
	RunID string `json:"runId"`
	AsNew bool   `json:"asNew"`
}

func (h *httpHandler) handleSaveCurrent(c *gin.Context) {
	var request saveCurrentRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	result, err := h.dispatchService.SaveCurrentState(
		c.Request.Context(),
		dispatch.NormalizeDay(request.Day),
		request.RunID,
		request.AsNew,
		c.GetString(staffIDContextKey),
	)
	if err != nil {
		h.respondDispatchError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":      result.RunID,
		"message": result.Message,
	})
}

type runSummaryPayload struct {
	ID          string `json:"id"`
	Day         string `json:"day"`
	CreatedAt   int64  `json:"createdAt"`
	CreatedBy   string `json:"createdBy"`
	DriverCount int    `json:"driverCount"`
	StopCount   int    `json:"stopCount"`
}

func (h *httpHandler) handleListRuns(c *gin.Context) {
	summaries, err := h.dispatchService.ListRuns(c.Request.Context(), dispatch.NormalizeDay(c.Query("day")))
	if err != nil {
		h.respondDispatchError(c, err)
		return
	}

	runs := make([]runSummaryPayload, 0, len(summaries))
	for _, summary := range summaries {
		runs = append(runs, runSummaryPayload{
			ID:          summary.ID,
			Day:         summary.Day,
			CreatedAt:   summary.CreatedAtSeconds,
			CreatedBy:   summary.CreatedBy,
			DriverCount: summary.DriverCount,
			StopCount:   summary.StopCount,
		})
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

type snapshotEntryPayload struct {
	DriverID   string   `json:"driverId"`
	DriverName string   `json:"driverName"`
	Color      string   `json:"color"`
	Seq        int      `json:"seq"`
	StopIDs    []string `json:"stopIds"`
}

func snapshotPayloadFromEntries(entries []dispatch.SnapshotEntry) []snapshotEntryPayload {
	payload := make([]snapshotEntryPayload, 0, len(entries))
	for _, entry := range entries {
		stopIDs := entry.StopIDs
		if stopIDs == nil {
			stopIDs = []string{}
		}
		payload = append(payload, snapshotEntryPayload{
			DriverID:   entry.DriverID,
			DriverName: entry.DriverName,
			Color:      entry.Color,
			Seq:        entry.Seq,
			StopIDs:    stopIDs,
		})
	}
	return payload
}

func (h *httpHandler) handleGetRun(c *gin.Context) {
	runID, err := dispatch.NewRunID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_run_id"})
		return
	}

	detail, err := h.dispatchService.GetRun(c.Request.Context(), runID)
	if err != nil {
		h.respondDispatchError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":        detail.ID,
		"day":       detail.Day,
		"createdAt": detail.CreatedAtSeconds,
		"createdBy": detail.CreatedBy,
		"snapshot":  snapshotPayloadFromEntries(detail.Entries),
	})
}

type reorderRequestPayload struct {
	DriverID    string `json:"driver_id"`
	ClientID    string `json:"client_id"`
	NewPosition *int   `json:"new_position"`
}

func (h *httpHandler) handleReorderRoute(c *gin.Context) {
	var request reorderRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.NewPosition == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	driverID, err := dispatch.NewDriverID(request.DriverID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_driver_id"})
		return
	}
	clientID, err := dispatch.NewClientID(request.ClientID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_client_id"})
		return
	}

	if err := h.dispatchService.ReorderWithinRoute(c.Request.Context(), driverID, clientID, *request.NewPosition); err != nil {
		h.respondDispatchError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true})
}

type reverseRequestPayload struct {
	RouteID string `json:"routeId"`
}

func (h *httpHandler) handleReverseRoute(c *gin.Context) {
	var request reverseRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	driverID, err := dispatch.NewDriverID(request.RouteID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_route_id"})
		return
	}

	result, err := h.dispatchService.ReverseRoute(c.Request.Context(), driverID)
	if err != nil {
		h.respondDispatchError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ok":      true,
		"message": result.Message,
	})
}

type resetRequestPayload struct {
	DriverID   string `json:"driverId"`
	Day        string `json:"day"`
	ClearProof bool   `json:"clearProof"`
}

func (h *httpHandler) handleResetDriver(c *gin.Context) {
	var request resetRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	driverID, err := dispatch.NewDriverID(request.DriverID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_driver_id"})
		return
	}

	result, err := h.dispatchService.ResetDriver(c.Request.Context(), driverID, request.Day, request.ClearProof)
	if err != nil {
		h.respondDispatchError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"stopsCleared": result.StopsCleared,
	})
}

type renameRequestPayload struct {
	DriverID  string `json:"driverId"`
	NewNumber *int   `json:"newNumber"`
}

func (h *httpHandler) handleRenameDriver(c *gin.Context) {
	var request renameRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.NewNumber == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	driverID, err := dispatch.NewDriverID(request.DriverID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_driver_id"})
		return
	}

	result, err := h.dispatchService.RenameDriver(c.Request.Context(), driverID, *request.NewNumber)
	if err != nil {
		h.respondDispatchError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"oldName": result.OldName,
		"newName": result.NewName,
	})
}

type completeStopRequestPayload struct {
	StopID   string `json:"stopId"`
	ProofURL string `json:"proofUrl"`
}

func (h *httpHandler) handleCompleteStop(c *gin.Context) {
	var request completeStopRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	stopID, err := dispatch.NewStopID(request.StopID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_stop_id"})
		return
	}

	if err := h.dispatchService.CompleteStop(c.Request.Context(), stopID, request.ProofURL); err != nil {
		h.respondDispatchError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

type clientPayload struct {
	ID               string   `json:"id"`
	Name             string   `json:"name"`
	Address          string   `json:"address"`
	Day              string   `json:"day"`
	Lat              *float64 `json:"lat"`
	Lng              *float64 `json:"lng"`
	AssignedDriverID *string  `json:"assignedDriverId"`
}

type driverPayload struct {
	ID      string   `json:"id"`
	Day     string   `json:"day"`
	Name    string   `json:"name"`
	Seq     int      `json:"seq"`
	Color   string   `json:"color"`
	StopIDs []string `json:"stopIds"`
}

type assignmentStatsPayload struct {
	TotalStops      int `json:"totalStops"`
	AssignedStops   int `json:"assignedStops"`
	UnassignedStops int `json:"unassignedStops"`
	CompletedStops  int `json:"completedStops"`
	DriverCount     int `json:"driverCount"`
}

func (h *httpHandler) handleAssignmentData(c *gin.Context) {
	data, err := h.dispatchService.AssignmentData(c.Request.Context(), dispatch.NormalizeDay(c.Query("day")))
	if err != nil {
		h.respondDispatchError(c, err)
		return
	}

	clients := make([]clientPayload, 0, len(data.Clients))
	for _, client := range data.Clients {
		clients = append(clients, clientPayload{
			ID:               client.ID,
			Name:             client.Name,
			Address:          client.Address,
			Day:              client.Day,
			Lat:              client.Lat,
			Lng:              client.Lng,
			AssignedDriverID: client.AssignedDriverID,
		})
	}
	drivers := make([]driverPayload, 0, len(data.Drivers))
	for _, driver := range data.Drivers {
		drivers = append(drivers, driverPayload{
			ID:      driver.ID,
			Day:     driver.Day,
			Name:    driver.Name,
			Seq:     driver.Seq,
			Color:   driver.Color,
			StopIDs: driver.StopIDs,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"clients": clients,
		"drivers": drivers,
		"stats": assignmentStatsPayload{
			TotalStops:      data.Stats.TotalStops,
			AssignedStops:   data.Stats.AssignedStops,
			UnassignedStops: data.Stats.UnassignedStops,
			CompletedStops:  data.Stats.CompletedStops,
			DriverCount:     data.Stats.DriverCount,
		},
	})
}

func (h *httpHandler) handleRouteGeometry(c *gin.Context) {
	encoded, err := h.dispatchService.RouteGeometry(c.Request.Context(), dispatch.NormalizeDay(c.Query("day")))
	if err != nil {
		h.respondDispatchError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", encoded)
}

func (h *httpHandler) handleReconcileOrders(c *gin.Context) {
	result, err := h.dispatchService.ReconcileRouteOrders(c.Request.Context())
	if err != nil {
		h.respondDispatchError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"checked": result.Checked,
		"deleted": result.Deleted,
	})
}
