package license

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// TelemetryEvent contains terminal usage data sent back to the fleet operator.
type TelemetryEvent struct {
	LicenseID  string `json:"license_id"`
	AdminID    string `json:"admin_id"`
	HardwareID string `json:"hardware_id"`

	Timestamp   time.Time `json:"timestamp"`
	UptimeHours float64   `json:"uptime_hours"`

	SalesProcessed     int64   `json:"sales_processed"`
	EntitiesSynced     int64   `json:"entities_synced"`
	OfflineDurationHrs float64 `json:"offline_duration_hours"`
	SyncLagSeconds     float64 `json:"sync_lag_seconds"`

	ErrorCount   int64 `json:"error_count"`
	RestartCount int   `json:"restart_count"`

	Version   string `json:"version"`
	Platform  string `json:"platform"`
	GoVersion string `json:"go_version"`
}

// TelemetryClient sends usage data to the telemetry endpoint.
type TelemetryClient struct {
	mu         sync.Mutex
	baseURL    string
	httpClient *http.Client
	buffer     []TelemetryEvent
	maxBuffer  int
	enabled    bool
}

// NewTelemetryClient creates a new telemetry client.
func NewTelemetryClient(baseURL string) *TelemetryClient {
	return &TelemetryClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		buffer:     make([]TelemetryEvent, 0, 100),
		maxBuffer:  100,
		enabled:    true,
	}
}

// SetEnabled enables or disables telemetry.
func (c *TelemetryClient) SetEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled = enabled
}

// Send queues a telemetry event for sending.
func (c *TelemetryClient) Send(event TelemetryEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.enabled {
		return
	}

	c.buffer = append(c.buffer, event)
	if len(c.buffer) >= c.maxBuffer {
		go c.flush()
	}
}

// Flush sends all buffered events.
func (c *TelemetryClient) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flush()
}

func (c *TelemetryClient) flush() error {
	if len(c.buffer) == 0 {
		return nil
	}

	events := make([]TelemetryEvent, len(c.buffer))
	copy(events, c.buffer)
	c.buffer = c.buffer[:0]

	body, err := json.Marshal(events)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/telemetry", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "giro-terminal/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil // telemetry must never block terminal operation
	}
	defer resp.Body.Close()

	return nil
}

// UsageCollector accumulates the metrics one terminal reports at each
// telemetry tick, then resets so the next tick starts from zero deltas.
type UsageCollector struct {
	mu sync.RWMutex

	startTime      time.Time
	salesProcessed int64
	entitiesSynced int64
	offlineStarted time.Time
	syncLagSum     float64
	syncLagCount   int64
	errorCount     int64
	restartCount   int
}

// NewUsageCollector creates a new usage collector.
func NewUsageCollector() *UsageCollector {
	return &UsageCollector{startTime: time.Now()}
}

// RecordSale records one completed sale.
func (c *UsageCollector) RecordSale() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.salesProcessed++
}

// RecordEntitySynced records one applied sync entity.
func (c *UsageCollector) RecordEntitySynced() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entitiesSynced++
}

// RecordSyncLag records the delay between a push and its delivery.
func (c *UsageCollector) RecordSyncLag(seconds float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.syncLagSum += seconds
	c.syncLagCount++
}

// RecordError records an error.
func (c *UsageCollector) RecordError() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errorCount++
}

// IncrementRestarts increments the restart counter.
func (c *UsageCollector) IncrementRestarts() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.restartCount++
}

// GetMetrics returns current metrics as a telemetry event.
func (c *UsageCollector) GetMetrics() TelemetryEvent {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var avgLag float64
	if c.syncLagCount > 0 {
		avgLag = c.syncLagSum / float64(c.syncLagCount)
	}

	return TelemetryEvent{
		Timestamp:      time.Now(),
		UptimeHours:    time.Since(c.startTime).Hours(),
		SalesProcessed: c.salesProcessed,
		EntitiesSynced: c.entitiesSynced,
		SyncLagSeconds: avgLag,
		ErrorCount:     c.errorCount,
		RestartCount:   c.restartCount,
	}
}

// Reset clears the per-tick counters, keeping cumulative start time and restarts.
func (c *UsageCollector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.salesProcessed = 0
	c.entitiesSynced = 0
	c.syncLagSum = 0
	c.syncLagCount = 0
	c.errorCount = 0
}
