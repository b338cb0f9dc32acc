package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"smrapi/internal/config"
	"smrapi/internal/license"
)

// uniqueViolation is the Postgres error code for unique-constraint violations
const uniqueViolation = "23505"

// activationCodeIndex is a partial index so empty codes (licenses created by
// a non-approving first event) do not collide with each other.
const activationCodeIndex = `
CREATE UNIQUE INDEX IF NOT EXISTS idx_licenses_activation_code
ON licenses (activation_code) WHERE activation_code <> ''`

// PostgresStore is the production LicenseStore backed by Postgres via gorm
type PostgresStore struct {
	db *gorm.DB
}

// NewPostgresStore connects to Postgres, migrates the licenses table and
// configures the connection pool.
func NewPostgresStore(cfg config.DatabaseConfig) (*PostgresStore, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	if err := db.AutoMigrate(&license.License{}); err != nil {
		return nil, fmt.Errorf("failed to migrate licenses table: %w", err)
	}
	if err := db.Exec(activationCodeIndex).Error; err != nil {
		return nil, fmt.Errorf("failed to create activation code index: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	return &PostgresStore{db: db}, nil
}

// GetByEmail implements LicenseStore
func (s *PostgresStore) GetByEmail(ctx context.Context, email string) (*license.License, error) {
	var lic license.License
	err := s.db.WithContext(ctx).First(&lic, "email = ?", email).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read license by email: %w", err)
	}
	return &lic, nil
}

// GetByActivationCode implements LicenseStore
func (s *PostgresStore) GetByActivationCode(ctx context.Context, code string) (*license.License, error) {
	var lic license.License
	err := s.db.WithContext(ctx).First(&lic, "activation_code = ? AND activation_code <> ''", code).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read license by activation code: %w", err)
	}
	return &lic, nil
}

// UpsertByEmail implements LicenseStore. The conflict action deliberately
// leaves device_set and activated_at alone.
func (s *PostgresStore) UpsertByEmail(ctx context.Context, lic *license.License) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "email"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"activation_code", "status", "max_devices",
			"purchase_status", "last_event_at", "updated_at",
		}),
	}).Create(lic).Error
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrDuplicateCode
		}
		return fmt.Errorf("failed to upsert license: %w", err)
	}
	return nil
}

// AdmitDevice implements LicenseStore. The append, the capacity check, the
// status check and the duplicate-device check happen in one UPDATE, so two
// admissions racing for the last slot cannot both succeed.
func (s *PostgresStore) AdmitDevice(ctx context.Context, code string, binding license.DeviceBinding) (*license.License, error) {
	element, err := json.Marshal(license.DeviceSet{binding})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal device binding: %w", err)
	}
	probe, err := deviceProbe(binding.DeviceID)
	if err != nil {
		return nil, err
	}

	result := s.db.WithContext(ctx).Exec(`
		UPDATE licenses
		SET device_set   = device_set || ?::jsonb,
		    activated_at = COALESCE(activated_at, ?),
		    updated_at   = ?
		WHERE activation_code = ?
		  AND status = ?
		  AND jsonb_array_length(device_set) < max_devices
		  AND NOT device_set @> ?::jsonb`,
		string(element), binding.FirstSeenAt, binding.FirstSeenAt,
		code, license.StatusActive, string(probe))
	if result.Error != nil {
		return nil, fmt.Errorf("failed to admit device: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, ErrConditionFailed
	}
	return s.GetByActivationCode(ctx, code)
}

// TouchDevice implements LicenseStore
func (s *PostgresStore) TouchDevice(ctx context.Context, code, deviceID string, seenAt time.Time) (*license.License, error) {
	probe, err := deviceProbe(deviceID)
	if err != nil {
		return nil, err
	}

	result := s.db.WithContext(ctx).Exec(`
		UPDATE licenses
		SET device_set = (
		      SELECT jsonb_agg(
		        CASE WHEN elem->>'device_id' = ?
		             THEN jsonb_set(elem, '{last_seen_at}', to_jsonb(?::text))
		             ELSE elem END)
		      FROM jsonb_array_elements(device_set) AS elem
		    ),
		    updated_at = ?
		WHERE activation_code = ?
		  AND status = ?
		  AND device_set @> ?::jsonb`,
		deviceID, seenAt.UTC().Format(time.RFC3339Nano), seenAt,
		code, license.StatusActive, string(probe))
	if result.Error != nil {
		return nil, fmt.Errorf("failed to refresh device: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, ErrConditionFailed
	}
	return s.GetByActivationCode(ctx, code)
}

// Ping implements LicenseStore
func (s *PostgresStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to access sql.DB: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the underlying connection pool
func (s *PostgresStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to access sql.DB: %w", err)
	}
	return sqlDB.Close()
}

// deviceProbe builds the jsonb containment argument matching a device id
func deviceProbe(deviceID string) ([]byte, error) {
	probe, err := json.Marshal([]map[string]string{{"device_id": deviceID}})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal device probe: %w", err)
	}
	return probe, nil
}
