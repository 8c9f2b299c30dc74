package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/waypointhq/waypoint/backend/internal/auth"
	"github.com/waypointhq/waypoint/backend/internal/dispatch"
	"github.com/waypointhq/waypoint/backend/internal/users"
)

const (
	routeTestSigningSecret = "route-test-secret"
	routeTestIssuer        = "waypoint-auth"
	routeTestCookieName    = "waypoint_session"
	routeTestStaffID       = "staff-ops"
)

func newRouteTestServer(testContext *testing.T) (http.Handler, *gorm.DB, *http.Cookie) {
	testContext.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:server_route_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(
		&dispatch.Driver{},
		&dispatch.Stop{},
		&dispatch.Client{},
		&dispatch.RouteRun{},
		&dispatch.RouteOrderEntry{},
		&users.Identity{},
	); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}

	dispatchService, err := dispatch.NewService(dispatch.ServiceConfig{
		Database:   db,
		IDProvider: dispatch.NewUUIDProvider(),
		Logger:     zap.NewNop(),
	})
	if err != nil {
		testContext.Fatalf("failed to build dispatch service: %v", err)
	}
	usersService, err := users.NewService(users.ServiceConfig{Database: db})
	if err != nil {
		testContext.Fatalf("failed to build users service: %v", err)
	}
	validator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(routeTestSigningSecret),
		Issuer:        routeTestIssuer,
		CookieName:    routeTestCookieName,
	})
	if err != nil {
		testContext.Fatalf("failed to build validator: %v", err)
	}

	handler, err := NewHTTPHandler(Dependencies{
		SessionValidator: validator,
		UsersService:     usersService,
		DispatchService:  dispatchService,
		Logger:           zap.NewNop(),
	})
	if err != nil {
		testContext.Fatalf("failed to build handler: %v", err)
	}

	issuer, err := auth.NewSessionIssuer(auth.SessionIssuerConfig{
		SigningSecret: []byte(routeTestSigningSecret),
		Issuer:        routeTestIssuer,
	})
	if err != nil {
		testContext.Fatalf("failed to build issuer: %v", err)
	}
	signed, _, err := issuer.IssueSession(auth.SessionProfile{
		UserID:      routeTestStaffID,
		Email:       "ops@example.com",
		DisplayName: "Ops",
	})
	if err != nil {
		testContext.Fatalf("failed to mint session: %v", err)
	}

	return handler, db, &http.Cookie{Name: routeTestCookieName, Value: signed}
}

func doRouteRequest(testContext *testing.T, handler http.Handler, method, target, body string, cookie *http.Cookie) *httptest.ResponseRecorder {
	testContext.Helper()
	var reader io.Reader = http.NoBody
	if body != "" {
		reader = strings.NewReader(body)
	}
	request := httptest.NewRequest(method, target, reader)
	if body != "" {
		request.Header.Set("Content-Type", "application/json")
	}
	if cookie != nil {
		request.AddCookie(cookie)
	}
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	return recorder
}

func decodeRouteResponse(testContext *testing.T, recorder *httptest.ResponseRecorder) map[string]any {
	testContext.Helper()
	var payload map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		testContext.Fatalf("failed to decode response %q: %v", recorder.Body.String(), err)
	}
	return payload
}

func seedServerStops(testContext *testing.T, db *gorm.DB, day string, count int) []string {
	testContext.Helper()
	ids := make([]string, 0, count)
	for index := 1; index <= count; index++ {
		stop := dispatch.Stop{
			ID:       fmt.Sprintf("stop-%02d", index),
			Day:      day,
			ClientID: fmt.Sprintf("client-%02d", index),
		}
		if err := db.Create(&stop).Error; err != nil {
			testContext.Fatalf("failed to seed stop: %v", err)
		}
		ids = append(ids, stop.ID)
	}
	return ids
}

func TestHealthzIsOpen(testContext *testing.T) {
	handler, _, _ := newRouteTestServer(testContext)

	recorder := doRouteRequest(testContext, handler, http.MethodGet, "/healthz", "", nil)
	if recorder.Code != http.StatusOK {
		testContext.Fatalf("expected ok status, got %d", recorder.Code)
	}
	if recorder.Body.String() != `{"status":"ok"}` {
		testContext.Fatalf("unexpected body %s", recorder.Body.String())
	}
}

func TestRouteGroupRequiresSession(testContext *testing.T) {
	handler, _, _ := newRouteTestServer(testContext)

	recorder := doRouteRequest(testContext, handler, http.MethodGet, "/route/assignment-data", "", nil)
	if recorder.Code != http.StatusUnauthorized {
		testContext.Fatalf("expected unauthorized status, got %d", recorder.Code)
	}
	if recorder.Body.String() != `{"error":"unauthorized"}` {
		testContext.Fatalf("unexpected body %s", recorder.Body.String())
	}

	forged := doRouteRequest(testContext, handler, http.MethodGet, "/route/assignment-data", "", &http.Cookie{
		Name:  routeTestCookieName,
		Value: "not-a-token",
	})
	if forged.Code != http.StatusUnauthorized {
		testContext.Fatalf("expected unauthorized status for forged cookie, got %d", forged.Code)
	}
}

func TestRouteGroupAcceptsBearerToken(testContext *testing.T) {
	handler, _, cookie := newRouteTestServer(testContext)

	request := httptest.NewRequest(http.MethodGet, "/route/assignment-data", http.NoBody)
	request.Header.Set("Authorization", "Bearer "+cookie.Value)
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusOK {
		testContext.Fatalf("expected ok status, got %d: %s", recorder.Code, recorder.Body.String())
	}
}

func TestRouteResponsesAreNoStore(testContext *testing.T) {
	handler, _, cookie := newRouteTestServer(testContext)

	recorder := doRouteRequest(testContext, handler, http.MethodGet, "/route/assignment-data", "", cookie)
	if recorder.Code != http.StatusOK {
		testContext.Fatalf("expected ok status, got %d", recorder.Code)
	}
	if recorder.Header().Get("Cache-Control") != "no-store" {
		testContext.Fatalf("expected no-store header, got %q", recorder.Header().Get("Cache-Control"))
	}

	open := doRouteRequest(testContext, handler, http.MethodGet, "/healthz", "", nil)
	if open.Header().Get("Cache-Control") != "" {
		testContext.Fatalf("healthz should not carry cache headers, got %q", open.Header().Get("Cache-Control"))
	}
}

func TestGenerateApplyRoundTripOverHTTP(testContext *testing.T) {
	handler, db, cookie := newRouteTestServer(testContext)
	seedServerStops(testContext, db, "monday", 10)

	generated := doRouteRequest(testContext, handler, http.MethodPost, "/route/generate",
		`{"day":"monday","driverCount":3}`, cookie)
	if generated.Code != http.StatusOK {
		testContext.Fatalf("generate failed: %d %s", generated.Code, generated.Body.String())
	}
	generatePayload := decodeRouteResponse(testContext, generated)
	if generatePayload["success"] != true {
		testContext.Fatalf("expected success, got %v", generatePayload)
	}
	if generatePayload["driversCreated"].(float64) != 3 || generatePayload["stopsAssigned"].(float64) != 10 {
		testContext.Fatalf("unexpected generate counts: %v", generatePayload)
	}
	runID, _ := generatePayload["runId"].(string)
	if runID == "" {
		testContext.Fatalf("expected run id in response")
	}

	// The run records who triggered it.
	var run dispatch.RouteRun
	if err := db.Where("id = ?", runID).Take(&run).Error; err != nil {
		testContext.Fatalf("failed to load run: %v", err)
	}
	if run.CreatedBy != routeTestStaffID {
		testContext.Fatalf("expected run stamped by %s, got %q", routeTestStaffID, run.CreatedBy)
	}

	boardBefore := decodeRouteResponse(testContext, doRouteRequest(
		testContext, handler, http.MethodGet, "/route/assignment-data?day=monday", "", cookie))
	drivers, _ := boardBefore["drivers"].([]any)
	if len(drivers) != 3 {
		testContext.Fatalf("expected 3 drivers on the board, got %d", len(drivers))
	}
	firstDriver, _ := drivers[0].(map[string]any)
	firstDriverID, _ := firstDriver["id"].(string)
	if firstDriverID == "" {
		testContext.Fatalf("missing driver id in board payload: %v", firstDriver)
	}

	reversed := doRouteRequest(testContext, handler, http.MethodPost, "/route/reverse",
		`{"routeId":"`+firstDriverID+`"}`, cookie)
	if reversed.Code != http.StatusOK {
		testContext.Fatalf("reverse failed: %d %s", reversed.Code, reversed.Body.String())
	}
	reversePayload := decodeRouteResponse(testContext, reversed)
	if reversePayload["ok"] != true || reversePayload["message"] != "route reversed" {
		testContext.Fatalf("unexpected reverse payload: %v", reversePayload)
	}

	applied := doRouteRequest(testContext, handler, http.MethodPost, "/route/apply-run",
		`{"runId":"`+runID+`"}`, cookie)
	if applied.Code != http.StatusOK {
		testContext.Fatalf("apply failed: %d %s", applied.Code, applied.Body.String())
	}
	applyPayload := decodeRouteResponse(testContext, applied)
	if applyPayload["success"] != true || applyPayload["driversUpdated"].(float64) != 3 {
		testContext.Fatalf("unexpected apply payload: %v", applyPayload)
	}

	boardAfter := decodeRouteResponse(testContext, doRouteRequest(
		testContext, handler, http.MethodGet, "/route/assignment-data?day=monday", "", cookie))
	stats, _ := boardAfter["stats"].(map[string]any)
	if stats["assignedStops"].(float64) != 10 || stats["unassignedStops"].(float64) != 0 {
		testContext.Fatalf("unexpected stats after apply: %v", stats)
	}
}

func TestApplyRunUnknownRunOverHTTP(testContext *testing.T) {
	handler, _, cookie := newRouteTestServer(testContext)

	recorder := doRouteRequest(testContext, handler, http.MethodPost, "/route/apply-run",
		`{"runId":"run-ghost"}`, cookie)
	if recorder.Code != http.StatusNotFound {
		testContext.Fatalf("expected not found status, got %d", recorder.Code)
	}
	if recorder.Body.String() != `{"error":"run_not_found"}` {
		testContext.Fatalf("unexpected body %s", recorder.Body.String())
	}
}

func TestSaveCurrentAndRunLookupOverHTTP(testContext *testing.T) {
	handler, db, cookie := newRouteTestServer(testContext)
	driver := dispatch.Driver{ID: "driver-a", Day: "monday", Name: "Driver 1", Seq: 1, Color: "#EF4444", StopIDs: dispatch.StringList{"stop-01"}}
	if err := db.Create(&driver).Error; err != nil {
		testContext.Fatalf("failed to seed driver: %v", err)
	}

	saved := doRouteRequest(testContext, handler, http.MethodPost, "/route/runs/save-current",
		`{"day":"monday"}`, cookie)
	if saved.Code != http.StatusOK {
		testContext.Fatalf("save failed: %d %s", saved.Code, saved.Body.String())
	}
	savePayload := decodeRouteResponse(testContext, saved)
	if savePayload["message"] != "run created" {
		testContext.Fatalf("unexpected save payload: %v", savePayload)
	}
	runID, _ := savePayload["id"].(string)

	listed := decodeRouteResponse(testContext, doRouteRequest(
		testContext, handler, http.MethodGet, "/route/runs?day=monday", "", cookie))
	runs, _ := listed["runs"].([]any)
	if len(runs) != 1 {
		testContext.Fatalf("expected one run, got %v", listed)
	}
	summary, _ := runs[0].(map[string]any)
	if summary["id"] != runID || summary["driverCount"].(float64) != 1 || summary["stopCount"].(float64) != 1 {
		testContext.Fatalf("unexpected run summary: %v", summary)
	}

	detail := decodeRouteResponse(testContext, doRouteRequest(
		testContext, handler, http.MethodGet, "/route/runs/"+runID, "", cookie))
	if detail["day"] != "monday" || detail["createdBy"] != routeTestStaffID {
		testContext.Fatalf("unexpected run detail: %v", detail)
	}
	snapshot, _ := detail["snapshot"].([]any)
	if len(snapshot) != 1 {
		testContext.Fatalf("expected one snapshot entry, got %v", detail)
	}

	missing := doRouteRequest(testContext, handler, http.MethodGet, "/route/runs/run-ghost", "", cookie)
	if missing.Code != http.StatusNotFound {
		testContext.Fatalf("expected not found for unknown run, got %d", missing.Code)
	}
}

func TestRenameDriverStatusMappingOverHTTP(testContext *testing.T) {
	handler, db, cookie := newRouteTestServer(testContext)
	for _, driver := range []dispatch.Driver{
		{ID: "driver-zero", Day: "monday", Name: "Driver 0", Seq: 0},
		{ID: "driver-one", Day: "monday", Name: "Driver 1", Seq: 1},
		{ID: "driver-two", Day: "monday", Name: "Driver 2", Seq: 2},
	} {
		record := driver
		if err := db.Create(&record).Error; err != nil {
			testContext.Fatalf("failed to seed driver: %v", err)
		}
	}

	conflicted := doRouteRequest(testContext, handler, http.MethodPost, "/route/rename-driver",
		`{"driverId":"driver-two","newNumber":1}`, cookie)
	if conflicted.Code != http.StatusConflict {
		testContext.Fatalf("expected conflict status, got %d", conflicted.Code)
	}
	if conflicted.Body.String() != `{"error":"number_taken"}` {
		testContext.Fatalf("unexpected body %s", conflicted.Body.String())
	}

	protected := doRouteRequest(testContext, handler, http.MethodPost, "/route/rename-driver",
		`{"driverId":"driver-zero","newNumber":5}`, cookie)
	if protected.Code != http.StatusBadRequest {
		testContext.Fatalf("expected bad request status, got %d", protected.Code)
	}
	if protected.Body.String() != `{"error":"protected_driver"}` {
		testContext.Fatalf("unexpected body %s", protected.Body.String())
	}

	renamed := doRouteRequest(testContext, handler, http.MethodPost, "/route/rename-driver",
		`{"driverId":"driver-two","newNumber":7}`, cookie)
	if renamed.Code != http.StatusOK {
		testContext.Fatalf("rename failed: %d %s", renamed.Code, renamed.Body.String())
	}
	renamePayload := decodeRouteResponse(testContext, renamed)
	if renamePayload["oldName"] != "Driver 2" || renamePayload["newName"] != "Driver 7" {
		testContext.Fatalf("unexpected rename payload: %v", renamePayload)
	}

	missing := doRouteRequest(testContext, handler, http.MethodPost, "/route/rename-driver",
		`{"driverId":"driver-ghost","newNumber":4}`, cookie)
	if missing.Code != http.StatusNotFound {
		testContext.Fatalf("expected not found status, got %d", missing.Code)
	}
}

func TestStopLifecycleOverHTTP(testContext *testing.T) {
	handler, db, cookie := newRouteTestServer(testContext)
	seedServerStops(testContext, db, "monday", 1)

	completed := doRouteRequest(testContext, handler, http.MethodPost, "/route/stops/complete",
		`{"stopId":"stop-01","proofUrl":"https://proofs.example/sig.png"}`, cookie)
	if completed.Code != http.StatusOK {
		testContext.Fatalf("complete failed: %d %s", completed.Code, completed.Body.String())
	}
	if completed.Body.String() != `{"success":true}` {
		testContext.Fatalf("unexpected body %s", completed.Body.String())
	}

	var stop dispatch.Stop
	if err := db.Where("id = ?", "stop-01").Take(&stop).Error; err != nil {
		testContext.Fatalf("failed to reload stop: %v", err)
	}
	if !stop.Completed || stop.ProofURL == nil {
		testContext.Fatalf("completion not persisted: %+v", stop)
	}

	missing := doRouteRequest(testContext, handler, http.MethodPost, "/route/stops/complete",
		`{"stopId":"stop-ghost"}`, cookie)
	if missing.Code != http.StatusNotFound {
		testContext.Fatalf("expected not found status, got %d", missing.Code)
	}
}

func TestReorderAndReconcileOverHTTP(testContext *testing.T) {
	handler, db, cookie := newRouteTestServer(testContext)
	client := dispatch.Client{ID: "client-a", Name: "Acme", Day: "monday"}
	if err := db.Create(&client).Error; err != nil {
		testContext.Fatalf("failed to seed client: %v", err)
	}

	reordered := doRouteRequest(testContext, handler, http.MethodPost, "/route/reorder-route",
		`{"driver_id":"driver-1","client_id":"client-a","new_position":2}`, cookie)
	if reordered.Code != http.StatusOK {
		testContext.Fatalf("reorder failed: %d %s", reordered.Code, reordered.Body.String())
	}
	if reordered.Body.String() != `{"ok":true}` {
		testContext.Fatalf("unexpected body %s", reordered.Body.String())
	}

	negative := doRouteRequest(testContext, handler, http.MethodPost, "/route/reorder-route",
		`{"driver_id":"driver-1","client_id":"client-a","new_position":-1}`, cookie)
	if negative.Code != http.StatusBadRequest {
		testContext.Fatalf("expected bad request status, got %d", negative.Code)
	}
	if negative.Body.String() != `{"error":"invalid_position"}` {
		testContext.Fatalf("unexpected body %s", negative.Body.String())
	}

	// client-a has no assigned driver, so the pinned row is an orphan.
	reconciled := doRouteRequest(testContext, handler, http.MethodPost, "/route/reconcile-orders", "", cookie)
	if reconciled.Code != http.StatusOK {
		testContext.Fatalf("reconcile failed: %d %s", reconciled.Code, reconciled.Body.String())
	}
	reconcilePayload := decodeRouteResponse(testContext, reconciled)
	if reconcilePayload["success"] != true {
		testContext.Fatalf("unexpected reconcile payload: %v", reconcilePayload)
	}
	if reconcilePayload["checked"].(float64) != 1 || reconcilePayload["deleted"].(float64) != 1 {
		testContext.Fatalf("unexpected reconcile counts: %v", reconcilePayload)
	}
}

func TestGeometryEndpointOverHTTP(testContext *testing.T) {
	handler, db, cookie := newRouteTestServer(testContext)
	lat1, lng1 := 40.71, -74.00
	lat2, lng2 := 40.72, -74.01
	stops := []dispatch.Stop{
		{ID: "stop-01", Day: "monday", ClientID: "client-01", Lat: &lat1, Lng: &lng1},
		{ID: "stop-02", Day: "monday", ClientID: "client-02", Lat: &lat2, Lng: &lng2},
	}
	for _, stop := range stops {
		record := stop
		if err := db.Create(&record).Error; err != nil {
			testContext.Fatalf("failed to seed stop: %v", err)
		}
	}
	driver := dispatch.Driver{ID: "driver-a", Day: "monday", Name: "Driver 1", Seq: 1, Color: "#EF4444", StopIDs: dispatch.StringList{"stop-01", "stop-02"}}
	if err := db.Create(&driver).Error; err != nil {
		testContext.Fatalf("failed to seed driver: %v", err)
	}

	recorder := doRouteRequest(testContext, handler, http.MethodGet, "/route/geometry?day=monday", "", cookie)
	if recorder.Code != http.StatusOK {
		testContext.Fatalf("geometry failed: %d %s", recorder.Code, recorder.Body.String())
	}
	if contentType := recorder.Header().Get("Content-Type"); !strings.HasPrefix(contentType, "application/json") {
		testContext.Fatalf("unexpected content type %q", contentType)
	}
	payload := decodeRouteResponse(testContext, recorder)
	if payload["type"] != "FeatureCollection" {
		testContext.Fatalf("unexpected geometry payload: %v", payload)
	}
	features, _ := payload["features"].([]any)
	if len(features) != 1 {
		testContext.Fatalf("expected one feature, got %v", payload)
	}
}

func TestPreflightAllowsBrowserClients(testContext *testing.T) {
	handler, _, _ := newRouteTestServer(testContext)

	request := httptest.NewRequest(http.MethodOptions, "/route/generate", http.NoBody)
	request.Header.Set("Origin", "https://ops.example.com")
	request.Header.Set("Access-Control-Request-Method", http.MethodPost)
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusNoContent {
		testContext.Fatalf("expected preflight status %d, got %d", http.StatusNoContent, recorder.Code)
	}
	if recorder.Header().Get("Access-Control-Allow-Origin") != "*" {
		testContext.Fatalf("unexpected allow origin %q", recorder.Header().Get("Access-Control-Allow-Origin"))
	}
}
