package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Licensing sentinel errors
var (
	ErrCodeNotFound          = errors.New("activation code not found")
	ErrCodeIssuanceExhausted = errors.New("failed to generate unique activation code")
	ErrLicenseNotFound       = errors.New("license not found")
	ErrInvalidDeviceID       = errors.New("device identifier is not a valid UUID")
	ErrStoreUnavailable      = errors.New("license store unavailable")
)

// LicenseInactiveError reports an admission attempt against a license whose
// lifecycle status is not ACTIVE. The current status is carried for diagnostics.
type LicenseInactiveError struct {
	Status string
}

// Error implements the error interface
func (e *LicenseInactiveError) Error() string {
	return fmt.Sprintf("license inactive (status %s)", e.Status)
}

// SlotLimitError reports an admission attempt against a full device set.
// SlotsUsed and MaxDevices let the caller present a precise message.
type SlotLimitError struct {
	SlotsUsed  int
	MaxDevices int
}

// Error implements the error interface
func (e *SlotLimitError) Error() string {
	return fmt.Sprintf("device limit reached (%d of %d slots used)", e.SlotsUsed, e.MaxDevices)
}

// SlotLimitDetails is the structured payload attached to slot limit responses
type SlotLimitDetails struct {
	SlotsUsed  int `json:"slots_used"`
	MaxDevices int `json:"max_devices"`
}

// LicenseStatusDetails is the structured payload attached to inactive license responses
type LicenseStatusDetails struct {
	CurrentStatus string `json:"current_status"`
}

// FromLicensingError maps a domain error to its APIError representation.
// Unknown errors map to a 500 without leaking internals.
func FromLicensingError(err error) *APIError {
	var apiErr *APIError
	var inactive *LicenseInactiveError
	var slotLimit *SlotLimitError

	switch {
	case errors.As(err, &apiErr):
		return apiErr
	case errors.Is(err, ErrCodeNotFound):
		return NewWithDetails(http.StatusNotFound, "CODE_NOT_FOUND",
			"Activation code not found", err.Error())
	case errors.Is(err, ErrLicenseNotFound):
		return NewWithDetails(http.StatusNotFound, "LICENSE_NOT_FOUND",
			"License not found", err.Error())
	case errors.Is(err, ErrInvalidDeviceID):
		return NewWithDetails(http.StatusBadRequest, "INVALID_DEVICE_ID",
			"Device identifier must be a valid UUID", err.Error())
	case errors.Is(err, ErrCodeIssuanceExhausted):
		return NewWithDetails(http.StatusConflict, "CODE_ISSUANCE_EXHAUSTED",
			"Failed to generate a unique activation code", err.Error())
	case errors.As(err, &inactive):
		return NewWithDetails(http.StatusForbidden, "LICENSE_INACTIVE",
			"License is not active", LicenseStatusDetails{CurrentStatus: inactive.Status})
	case errors.As(err, &slotLimit):
		return NewWithDetails(http.StatusConflict, "SLOT_LIMIT_REACHED",
			fmt.Sprintf("Device limit reached: %d of %d slots in use", slotLimit.SlotsUsed, slotLimit.MaxDevices),
			SlotLimitDetails{SlotsUsed: slotLimit.SlotsUsed, MaxDevices: slotLimit.MaxDevices})
	case errors.Is(err, ErrStoreUnavailable):
		return NewWithDetails(http.StatusServiceUnavailable, "STORE_UNAVAILABLE",
			"License store unavailable", err.Error())
	default:
		return ErrInternalServer
	}
}
