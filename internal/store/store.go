// Package store defines the license store boundary and its implementations.
// The Postgres implementation is the production store; the memory
// implementation backs tests and development mode. Both enforce the device
// slot bound as a single conditional mutation, never as a read-then-write
// pair.
package store

import (
	"context"
	"errors"
	"time"

	"smrapi/internal/license"
)

// Store errors. Callers classify condition failures by re-reading the row.
var (
	// ErrNotFound indicates no license row matched the lookup key
	ErrNotFound = errors.New("license not found")
	// ErrDuplicateCode indicates a unique-constraint violation on activation_code
	ErrDuplicateCode = errors.New("activation code already in use")
	// ErrConditionFailed indicates a conditional update matched no row
	ErrConditionFailed = errors.New("conditional update matched no row")
)

// LicenseStore is the persistence boundary for license records
type LicenseStore interface {
	// GetByEmail returns the license keyed by the normalized email
	GetByEmail(ctx context.Context, email string) (*license.License, error)

	// GetByActivationCode returns the license carrying the given code
	GetByActivationCode(ctx context.Context, code string) (*license.License, error)

	// UpsertByEmail writes the identity, status and code fields of the
	// license keyed by email. The device set of an existing row is never
	// touched. Reports ErrDuplicateCode when the activation code collides
	// with another license.
	UpsertByEmail(ctx context.Context, lic *license.License) error

	// AdmitDevice appends the binding to the license's device set as a
	// single conditional mutation: it succeeds only if the license exists,
	// is ACTIVE, has a free slot, and does not already contain the device.
	// activated_at is set on first admission. Returns the updated license,
	// or ErrConditionFailed when any condition did not hold.
	AdmitDevice(ctx context.Context, code string, binding license.DeviceBinding) (*license.License, error)

	// TouchDevice refreshes last_seen_at of an already-bound device on an
	// ACTIVE license. Returns the updated license, or ErrConditionFailed
	// when the license is missing, inactive, or does not hold the device.
	TouchDevice(ctx context.Context, code, deviceID string, seenAt time.Time) (*license.License, error)

	// Ping verifies the store is reachable
	Ping(ctx context.Context) error
}
