package dispatch

import (
	"context"
	"encoding/json"

	"github.com/twpayne/go-geom"
	geojson "github.com/twpayne/go-geom/encoding/geojson"
	"go.uber.org/zap"
)

const opRouteGeometry = "dispatch.route_geometry"

// RouteGeometry renders the day's routes as a GeoJSON FeatureCollection: one
// LineString per driver, traced through the stop list in visiting order.
// Stops without coordinates are skipped, and drivers left with fewer than two
// located stops produce no feature. The returned bytes are the encoded
// collection.
func (s *Service) RouteGeometry(ctx context.Context, day Day) ([]byte, error) {
	handle := s.db.WithContext(ctx)

	drivers, err := loadDriversForDay(handle, day)
	if err != nil {
		s.logError(opRouteGeometry, "driver_query_failed", err, zap.String("day", day.String()))
		return nil, newStoreError(opRouteGeometry, "driver_query_failed", err)
	}
	stops, err := loadStopsForDay(handle, day)
	if err != nil {
		s.logError(opRouteGeometry, "stop_query_failed", err, zap.String("day", day.String()))
		return nil, newStoreError(opRouteGeometry, "stop_query_failed", err)
	}

	stopsByID := make(map[string]Stop, len(stops))
	for _, stop := range stops {
		stopsByID[stop.ID] = stop
	}

	features := make([]*geojson.Feature, 0, len(drivers))
	for _, driver := range drivers {
		coords := make([]geom.Coord, 0, len(driver.StopIDs))
		for _, stopID := range driver.StopIDs {
			stop, ok := stopsByID[stopID]
			if !ok || stop.Lat == nil || stop.Lng == nil {
				continue
			}
			coords = append(coords, geom.Coord{*stop.Lng, *stop.Lat})
		}
		if len(coords) < 2 {
			continue
		}

		line := geom.NewLineString(geom.XY)
		if _, err := line.SetCoords(coords); err != nil {
			s.logError(opRouteGeometry, "linestring_build_failed", err, zap.String("driver_id", driver.ID))
			return nil, newStoreError(opRouteGeometry, "linestring_build_failed", err)
		}
		features = append(features, &geojson.Feature{
			Geometry: line,
			Properties: map[string]interface{}{
				"driverId":   driver.ID,
				"driverName": driver.Name,
				"color":      driver.Color,
				"stopCount":  len(coords),
			},
		})
	}

	collection := geojson.FeatureCollection{Features: features}
	encoded, err := json.Marshal(&collection)
	if err != nil {
		s.logError(opRouteGeometry, "geojson_encode_failed", err, zap.String("day", day.String()))
		return nil, newStoreError(opRouteGeometry, "geojson_encode_failed", err)
	}
	return encoded, nil
}
