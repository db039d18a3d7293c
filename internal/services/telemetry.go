package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jhonslife/giro-license-server/internal/models"
	"github.com/jhonslife/giro-license-server/internal/repository"
)

// TelemetryService records and aggregates periodic health reports terminals
// send about their own fleet-sync activity.
type TelemetryService struct {
	db    *repository.PostgresDB
	redis *repository.RedisClient
}

// NewTelemetryService creates a new telemetry service
func NewTelemetryService(db *repository.PostgresDB, redis *repository.RedisClient) *TelemetryService {
	return &TelemetryService{db: db, redis: redis}
}

// TelemetryInput represents a single terminal's periodic health report.
type TelemetryInput struct {
	LicenseID          string  `json:"license_id"`
	HardwareID         string  `json:"hardware_id"`
	Timestamp          int64   `json:"timestamp"`
	SalesProcessed     int64   `json:"sales_processed"`
	EntitiesSynced     int64   `json:"entities_synced"`
	SyncLagSeconds     float64 `json:"sync_lag_seconds"`
	OfflineDurationHrs float64 `json:"offline_duration_hrs"`
	ErrorCount         int64   `json:"error_count"`
	UptimeHours        float64 `json:"uptime_hours"`
	RestartCount       int     `json:"restart_count"`
	Version            string  `json:"version"`
	Platform           string  `json:"platform"`
}

// RecordTelemetry stores a terminal's health report, sampled to one row per
// license/hardware/hour, and caches the latest report in Redis for the
// real-time dashboard.
func (s *TelemetryService) RecordTelemetry(ctx context.Context, input TelemetryInput) error {
	licenseID, err := uuid.Parse(input.LicenseID)
	if err != nil {
		return fmt.Errorf("invalid license ID: %w", err)
	}

	record := &models.TelemetryRecord{
		ID:                 uuid.New(),
		LicenseID:          licenseID,
		HardwareID:         input.HardwareID,
		Timestamp:          time.Unix(input.Timestamp, 0).UTC(),
		SalesProcessed:     input.SalesProcessed,
		EntitiesSynced:     input.EntitiesSynced,
		SyncLagSeconds:     input.SyncLagSeconds,
		OfflineDurationHrs: input.OfflineDurationHrs,
		ErrorCount:         input.ErrorCount,
		UptimeHours:        input.UptimeHours,
		RestartCount:       input.RestartCount,
		Version:            input.Version,
		Platform:           input.Platform,
	}

	_, err = s.db.Pool().Exec(ctx, `
		INSERT INTO telemetry (id, license_id, hardware_id, timestamp, sales_processed, entities_synced,
			sync_lag_seconds, offline_duration_hrs, error_count, uptime_hours, restart_count, version, platform)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (license_id, hardware_id, date_trunc('hour', timestamp)) DO UPDATE SET
			sales_processed = EXCLUDED.sales_processed,
			entities_synced = EXCLUDED.entities_synced,
			sync_lag_seconds = EXCLUDED.sync_lag_seconds,
			error_count = EXCLUDED.error_count,
			uptime_hours = EXCLUDED.uptime_hours,
			restart_count = EXCLUDED.restart_count
	`, record.ID, record.LicenseID, record.HardwareID, record.Timestamp,
		record.SalesProcessed, record.EntitiesSynced, record.SyncLagSeconds,
		record.OfflineDurationHrs, record.ErrorCount, record.UptimeHours,
		record.RestartCount, record.Version, record.Platform)
	if err != nil {
		return fmt.Errorf("failed to store telemetry: %w", err)
	}

	state, _ := json.Marshal(input)
	key := fmt.Sprintf("telemetry:%s:%s", input.LicenseID, input.HardwareID)
	s.redis.Client().Set(ctx, key, state, 5*time.Minute)

	return nil
}

// DashboardStats holds aggregated fleet stats for an admin's dashboard.
type DashboardStats struct {
	TotalSalesProcessed int64   `json:"total_sales_processed"`
	TotalEntitiesSynced int64   `json:"total_entities_synced"`
	ActiveInstances     int     `json:"active_instances"`
	ActiveLicenses      int     `json:"active_licenses"`
	AvgSyncLagSeconds   float64 `json:"avg_sync_lag_seconds"`
	TotalErrors         int64   `json:"total_errors"`
	TotalUptimeHours    float64 `json:"total_uptime_hours"`
}

// GetDashboardStats returns aggregated stats for an admin over the last 24 hours.
func (s *TelemetryService) GetDashboardStats(ctx context.Context, adminID uuid.UUID) (*DashboardStats, error) {
	var stats DashboardStats

	err := s.db.Pool().QueryRow(ctx, `
		SELECT
			COALESCE(SUM(t.sales_processed), 0),
			COALESCE(SUM(t.entities_synced), 0),
			COUNT(DISTINCT t.hardware_id),
			COUNT(DISTINCT t.license_id),
			COALESCE(AVG(t.sync_lag_seconds), 0),
			COALESCE(SUM(t.error_count), 0),
			COALESCE(SUM(t.uptime_hours), 0)
		FROM telemetry t
		JOIN licenses l ON t.license_id = l.id
		WHERE l.admin_id = $1 AND t.timestamp > NOW() - INTERVAL '24 hours'
	`, adminID).Scan(&stats.TotalSalesProcessed, &stats.TotalEntitiesSynced,
		&stats.ActiveInstances, &stats.ActiveLicenses, &stats.AvgSyncLagSeconds,
		&stats.TotalErrors, &stats.TotalUptimeHours)
	if err != nil {
		return nil, err
	}

	return &stats, nil
}

// UsageDataPoint represents a time-series data point in the usage history.
type UsageDataPoint struct {
	Timestamp      time.Time `json:"timestamp"`
	SalesProcessed int64     `json:"sales_processed"`
	EntitiesSynced int64     `json:"entities_synced"`
	SyncLagSeconds float64   `json:"sync_lag_seconds"`
	ErrorCount     int64     `json:"error_count"`
}

// GetUsageHistory returns hourly usage time series for an admin.
func (s *TelemetryService) GetUsageHistory(ctx context.Context, adminID uuid.UUID, days int) ([]UsageDataPoint, error) {
	rows, err := s.db.Pool().Query(ctx, `
		SELECT
			date_trunc('hour', t.timestamp) as hour,
			SUM(t.sales_processed),
			SUM(t.entities_synced),
			AVG(t.sync_lag_seconds),
			SUM(t.error_count)
		FROM telemetry t
		JOIN licenses l ON t.license_id = l.id
		WHERE l.admin_id = $1 AND t.timestamp > NOW() - ($2 || ' days')::INTERVAL
		GROUP BY hour
		ORDER BY hour
	`, adminID, days)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []UsageDataPoint
	for rows.Next() {
		var p UsageDataPoint
		if err := rows.Scan(&p.Timestamp, &p.SalesProcessed, &p.EntitiesSynced, &p.SyncLagSeconds, &p.ErrorCount); err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	return points, nil
}

// Instance represents an active terminal as seen through its hardware binding
// and most recent telemetry report.
type Instance struct {
	HardwareID     string    `json:"hardware_id"`
	MachineName    string    `json:"machine_name"`
	LicenseID      string    `json:"license_id"`
	PlanType       string    `json:"plan_type"`
	Version        string    `json:"version"`
	Platform       string    `json:"platform"`
	LastSeenAt     time.Time `json:"last_seen_at"`
	SalesProcessed int64     `json:"sales_processed"`
	Status         string    `json:"status"` // online, offline
}

// GetActiveInstances returns the terminals bound to an admin's licenses.
func (s *TelemetryService) GetActiveInstances(ctx context.Context, adminID uuid.UUID) ([]Instance, error) {
	rows, err := s.db.Pool().Query(ctx, `
		SELECT DISTINCT ON (h.hardware_id)
			h.hardware_id,
			COALESCE(h.machine_name, ''),
			h.license_id,
			l.plan_type,
			COALESCE(t.version, ''),
			COALESCE(t.platform, ''),
			h.last_activated_at,
			COALESCE(t.sales_processed, 0)
		FROM license_hardware h
		JOIN licenses l ON h.license_id = l.id
		LEFT JOIN LATERAL (
			SELECT version, platform, sales_processed
			FROM telemetry
			WHERE license_id = h.license_id AND hardware_id = h.hardware_id
			ORDER BY timestamp DESC LIMIT 1
		) t ON true
		WHERE l.admin_id = $1
		ORDER BY h.hardware_id, h.last_activated_at DESC
	`, adminID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	instances := make([]Instance, 0)
	now := time.Now()
	for rows.Next() {
		var inst Instance
		if err := rows.Scan(&inst.HardwareID, &inst.MachineName, &inst.LicenseID,
			&inst.PlanType, &inst.Version, &inst.Platform,
			&inst.LastSeenAt, &inst.SalesProcessed); err != nil {
			return nil, err
		}
		// Consider online if seen in last 5 minutes
		if now.Sub(inst.LastSeenAt) < 5*time.Minute {
			inst.Status = "online"
		} else {
			inst.Status = "offline"
		}
		instances = append(instances, inst)
	}
	return instances, nil
}
