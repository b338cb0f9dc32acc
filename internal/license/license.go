package license

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultMaxDevices is the device slot capacity for newly created licenses
const DefaultMaxDevices = 2

// Status is the license lifecycle status
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusActive   Status = "ACTIVE"
	StatusInactive Status = "INACTIVE"
)

// DeviceBinding associates one client device with a license slot.
// Only LastSeenAt changes after creation.
type DeviceBinding struct {
	DeviceID    string    `json:"device_id"`
	FirstSeenAt time.Time `json:"first_seen_at"`
	LastSeenAt  time.Time `json:"last_seen_at"`
}

// DeviceSet is the ordered sequence of device bindings on a license,
// unique by device identifier. Stored as a JSONB column.
type DeviceSet []DeviceBinding

// Value implements driver.Valuer for JSONB persistence
func (s DeviceSet) Value() (driver.Value, error) {
	if s == nil {
		s = DeviceSet{}
	}
	return json.Marshal(s)
}

// Scan implements sql.Scanner for JSONB persistence
func (s *DeviceSet) Scan(value interface{}) error {
	if value == nil {
		*s = DeviceSet{}
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported device set column type %T", value)
	}
	return json.Unmarshal(data, s)
}

// License represents one purchased entitlement bound to a set of devices
type License struct {
	Email          string     `gorm:"column:email;primaryKey" json:"email"`
	ActivationCode string     `gorm:"column:activation_code" json:"activation_code,omitempty"`
	Status         Status     `gorm:"column:status" json:"status"`
	MaxDevices     int        `gorm:"column:max_devices" json:"max_devices"`
	Devices        DeviceSet  `gorm:"column:device_set;type:jsonb" json:"device_set"`
	ActivatedAt    *time.Time `gorm:"column:activated_at" json:"activated_at,omitempty"`
	UpdatedAt      time.Time  `gorm:"column:updated_at" json:"updated_at"`
	LastEventAt    *time.Time `gorm:"column:last_event_at" json:"last_event_at,omitempty"`
	PurchaseStatus string     `gorm:"column:purchase_status" json:"purchase_status,omitempty"`
}

// TableName sets the licenses table name for gorm
func (License) TableName() string {
	return "licenses"
}

// SlotsUsed returns the number of occupied device slots
func (l *License) SlotsUsed() int {
	return len(l.Devices)
}

// FindDevice returns the binding for the given device identifier, or nil
func (l *License) FindDevice(deviceID string) *DeviceBinding {
	for i := range l.Devices {
		if l.Devices[i].DeviceID == deviceID {
			return &l.Devices[i]
		}
	}
	return nil
}

// IsActive reports whether the license lifecycle status is ACTIVE
func (l *License) IsActive() bool {
	return l.Status == StatusActive
}

// NormalizeEmail lowercases and trims a principal email
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateDeviceID checks that a device identifier is a syntactically valid UUID
func ValidateDeviceID(deviceID string) error {
	if _, err := uuid.Parse(deviceID); err != nil {
		return fmt.Errorf("invalid device identifier %q: %w", deviceID, err)
	}
	return nil
}

// StatusMapping maps free-form upstream purchase statuses to the internal
// lifecycle status. Membership in the approve set yields ACTIVE, everything
// else INACTIVE. Matching is case-insensitive.
type StatusMapping struct {
	approved map[string]struct{}
}

// NewStatusMapping builds a mapping from the configured approve set
func NewStatusMapping(approvedStatuses []string) StatusMapping {
	approved := make(map[string]struct{}, len(approvedStatuses))
	for _, s := range approvedStatuses {
		approved[strings.ToUpper(strings.TrimSpace(s))] = struct{}{}
	}
	return StatusMapping{approved: approved}
}

// Map resolves an upstream purchase status to the internal lifecycle status
func (m StatusMapping) Map(purchaseStatus string) Status {
	if _, ok := m.approved[strings.ToUpper(strings.TrimSpace(purchaseStatus))]; ok {
		return StatusActive
	}
	return StatusInactive
}
