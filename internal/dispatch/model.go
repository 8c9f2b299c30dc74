package dispatch

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidDriverID indicates that a driver identifier is empty or exceeds storage bounds.
	ErrInvalidDriverID = errors.New("dispatch: invalid driver id")
	// ErrInvalidClientID indicates that a client identifier is empty or exceeds storage bounds.
	ErrInvalidClientID = errors.New("dispatch: invalid client id")
	// ErrInvalidStopID indicates that a stop identifier is empty or exceeds storage bounds.
	ErrInvalidStopID = errors.New("dispatch: invalid stop id")
	// ErrInvalidRunID indicates that a route run identifier is empty or exceeds storage bounds.
	ErrInvalidRunID = errors.New("dispatch: invalid run id")
)

// DriverID represents a validated driver identifier.
type DriverID string

// NewDriverID validates raw input and returns a DriverID.
func NewDriverID(rawInput string) (DriverID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidDriverID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidDriverID, maxIdentifierLength)
	}
	return DriverID(trimmed), nil
}

// String returns the underlying string identifier.
func (id DriverID) String() string {
	return string(id)
}

// ClientID represents a validated client identifier.
type ClientID string

// NewClientID validates raw input and returns a ClientID.
func NewClientID(rawInput string) (ClientID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidClientID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidClientID, maxIdentifierLength)
	}
	return ClientID(trimmed), nil
}

// String returns the underlying string identifier.
func (id ClientID) String() string {
	return string(id)
}

// StopID represents a validated stop identifier.
type StopID string

// NewStopID validates raw input and returns a StopID.
func NewStopID(rawInput string) (StopID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidStopID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidStopID, maxIdentifierLength)
	}
	return StopID(trimmed), nil
}

// String returns the underlying string identifier.
func (id StopID) String() string {
	return string(id)
}

// RunID represents a validated route run identifier.
type RunID string

// NewRunID validates raw input and returns a RunID.
func NewRunID(rawInput string) (RunID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidRunID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidRunID, maxIdentifierLength)
	}
	return RunID(trimmed), nil
}

// String returns the underlying string identifier.
func (id RunID) String() string {
	return string(id)
}

// StringList persists an ordered identifier list as a JSON text column so the
// same schema works on sqlite and postgres.
type StringList []string

// Value implements driver.Valuer; nil lists encode as the empty JSON array.
func (list StringList) Value() (driver.Value, error) {
	if list == nil {
		list = StringList{}
	}
	encoded, err := json.Marshal(list)
	if err != nil {
		return nil, fmt.Errorf("dispatch: encode string list: %w", err)
	}
	return string(encoded), nil
}

// Scan implements sql.Scanner; NULL and empty values decode as the empty list.
func (list *StringList) Scan(value interface{}) error {
	switch typed := value.(type) {
	case nil:
		*list = StringList{}
		return nil
	case []byte:
		return list.decode(typed)
	case string:
		return list.decode([]byte(typed))
	default:
		return fmt.Errorf("dispatch: cannot scan %T into StringList", value)
	}
}

func (list *StringList) decode(raw []byte) error {
	if len(raw) == 0 {
		*list = StringList{}
		return nil
	}
	if err := json.Unmarshal(raw, list); err != nil {
		return fmt.Errorf("dispatch: decode string list: %w", err)
	}
	if *list == nil {
		*list = StringList{}
	}
	return nil
}

// Driver models one delivery route: an ordered stop list scoped to a day.
// Seq carries the route number; -1 marks a driver outside the numbered
// rotation and 0 is reserved for the unassigned bucket.
type Driver struct {
	ID        string     `gorm:"column:id;primaryKey;size:190;not null"`
	Day       string     `gorm:"column:day;size:16;not null;default:'';index:idx_drivers_day_seq,priority:1"`
	Name      string     `gorm:"column:name;size:190;not null;default:''"`
	Seq       int        `gorm:"column:seq;not null;default:-1;index:idx_drivers_day_seq,priority:2"`
	Color     string     `gorm:"column:color;size:16;not null;default:''"`
	StopIDs   StringList `gorm:"column:stop_ids;type:text;not null"`
	CreatedAt time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Driver) TableName() string {
	return "drivers"
}

// Stop models a single delivery on a given date. AssignedDriverID mirrors the
// owning driver's StopIDs entry and is NULL while unassigned.
type Stop struct {
	ID               string    `gorm:"column:id;primaryKey;size:190;not null"`
	Day              string    `gorm:"column:day;size:16;not null;default:'';index:idx_stops_day"`
	DeliveryDate     string    `gorm:"column:delivery_date;size:10;not null;default:''"`
	ClientID         string    `gorm:"column:client_id;size:190;not null;default:'';index:idx_stops_client"`
	AssignedDriverID *string   `gorm:"column:assigned_driver_id;size:190;index:idx_stops_assigned_driver"`
	Lat              *float64  `gorm:"column:lat"`
	Lng              *float64  `gorm:"column:lng"`
	Completed        bool      `gorm:"column:completed;not null;default:false"`
	ProofURL         *string   `gorm:"column:proof_url;size:512"`
	CreatedAt        time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Stop) TableName() string {
	return "stops"
}

// Client models a delivery customer. Rows are written by the order intake
// flow; route dispatch reads them and stamps AssignedDriverID.
type Client struct {
	ID               string   `gorm:"column:id;primaryKey;size:190;not null"`
	Name             string   `gorm:"column:name;size:190;not null;default:''"`
	Address          string   `gorm:"column:address;size:512;not null;default:''"`
	Day              string   `gorm:"column:day;size:16;not null;default:'';index:idx_clients_day"`
	Lat              *float64 `gorm:"column:lat"`
	Lng              *float64 `gorm:"column:lng"`
	AssignedDriverID *string  `gorm:"column:assigned_driver_id;size:190;index:idx_clients_assigned_driver"`
}

// TableName provides the explicit table binding for GORM.
func (Client) TableName() string {
	return "clients"
}

// RouteRun stores one frozen assignment snapshot for a day.
type RouteRun struct {
	ID               string `gorm:"column:id;primaryKey;size:190;not null"`
	Day              string `gorm:"column:day;size:16;not null;default:'';index:idx_route_runs_day_created,priority:1"`
	SnapshotJSON     string `gorm:"column:snapshot_json;type:text;not null"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null;index:idx_route_runs_day_created,priority:2"`
	CreatedBy        string `gorm:"column:created_by;size:190;not null;default:''"`
}

// TableName provides the explicit table binding for GORM.
func (RouteRun) TableName() string {
	return "route_runs"
}

// RouteOrderEntry pins a client at a position within a driver's route.
type RouteOrderEntry struct {
	DriverID  string    `gorm:"column:driver_id;primaryKey;size:190;not null"`
	ClientID  string    `gorm:"column:client_id;primaryKey;size:190;not null"`
	Position  int       `gorm:"column:position;not null;default:0"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName provides the explicit table binding for GORM.
func (RouteOrderEntry) TableName() string {
	return "driver_route_orders"
}
