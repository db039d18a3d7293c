package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/jhonslife/giro-license-server/internal/eventbus"
	"github.com/jhonslife/giro-license-server/internal/metrics"
	"github.com/jhonslife/giro-license-server/internal/models"
)

// Authenticator validates the license token + hardware fingerprint presented
// by a connecting satellite. It is the only dependency Master has on the
// licensing boundary; concrete wiring uses pkg/license.Manager client-side
// validation or the backend's activation service.
type Authenticator interface {
	Authenticate(ctx context.Context, token, hardwareID string) error
}

// Connection is the per-satellite connection record the Master keeps.
type Connection struct {
	ID         uuid.UUID
	PeerAddr   string
	HardwareID string
	ConnectedAt time.Time
	LastPing   time.Time

	ws   *websocket.Conn
	sub  *eventbus.Subscription
	mu   sync.Mutex // serializes writes to ws
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Master accepts inbound satellite connections over a WebSocket endpoint,
// dispatches sync.* and sale.remote_create actions against the local store,
// and fans domain events out through the shared event bus.
type Master struct {
	Store Store
	Bus   *eventbus.Bus
	Auth  Authenticator

	mu          sync.Mutex
	connections map[uuid.UUID]*Connection
}

// NewMaster constructs a Master bound to a store, event bus, and authenticator.
func NewMaster(store Store, bus *eventbus.Bus, auth Authenticator) *Master {
	return &Master{
		Store:       store,
		Bus:         bus,
		Auth:        auth,
		connections: make(map[uuid.UUID]*Connection),
	}
}

// ServeHTTP upgrades the request to a WebSocket and runs the connection loop.
// Mount this at the configured sync WS path (default /sync/ws).
func (m *Master) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	hardwareID := r.URL.Query().Get("hardware_id")

	ctx := r.Context()
	if err := m.Auth.Authenticate(ctx, token, hardwareID); err != nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("sync: websocket upgrade failed: %v", err)
		return
	}

	c := &Connection{
		ID:          uuid.New(),
		PeerAddr:    r.RemoteAddr,
		HardwareID:  hardwareID,
		ConnectedAt: time.Now(),
		LastPing:    time.Now(),
		ws:          conn,
		sub:         m.Bus.Subscribe(),
	}

	m.mu.Lock()
	m.connections[c.ID] = c
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.connections, c.ID)
		m.mu.Unlock()
		c.sub.Close()
		conn.Close()
	}()

	go m.forwardEvents(c)
	m.readLoop(ctx, c)
}

func (m *Master) forwardEvents(c *Connection) {
	for evt := range c.sub.C() {
		data, err := json.Marshal(evt.Data)
		if err != nil {
			continue
		}
		frame := Event{Kind: FrameEvent, Event: evt.Name, Data: data, EmittedAt: evt.EmittedAt.UnixMilli()}
		c.writeJSON(frame)
	}
}

func (c *Connection) writeJSON(v any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.WriteJSON(v)
}

func (m *Master) readLoop(ctx context.Context, c *Connection) {
	for {
		var req Request
		if err := c.ws.ReadJSON(&req); err != nil {
			return
		}
		c.LastPing = time.Now()
		go m.dispatch(ctx, c, req)
	}
}

func (m *Master) dispatch(ctx context.Context, c *Connection, req Request) {
	resp := Response{Kind: FrameResponse, ID: req.ID}

	data, code, err := m.handle(ctx, c, req)
	if err != nil {
		resp.Success = false
		resp.Error = &ResponseError{Code: code, Message: err.Error()}
	} else {
		resp.Success = true
		resp.Data = data
	}

	c.writeJSON(resp)
}

func (m *Master) handle(ctx context.Context, c *Connection, req Request) (json.RawMessage, string, error) {
	switch req.Action {
	case ActionSyncFull:
		return m.handleFull(ctx, req)
	case ActionSyncDelta:
		return m.handleDelta(ctx, c, req)
	case ActionSyncPush:
		return m.handlePush(ctx, c, req)
	case ActionSaleRemoteCreate:
		return m.handleRemoteSale(ctx, c, req)
	default:
		return nil, ErrCodeNotFound, fmt.Errorf("unknown action %q", req.Action)
	}
}

func (m *Master) handleFull(ctx context.Context, req Request) (json.RawMessage, string, error) {
	var in FullRequest
	if err := json.Unmarshal(req.Payload, &in); err != nil || len(in.Kinds) == 0 {
		return nil, ErrCodeInvalidPayload, errors.New("sync.full requires a non-empty kinds list")
	}

	kinds := toKinds(in.Kinds)
	entities, maxVersion, err := m.Store.FetchFull(ctx, kinds)
	if err != nil {
		return nil, ErrCodeInternal, err
	}

	out := FullResponse{Entities: toRecords(entities), MaxVersion: maxVersion}
	data, _ := json.Marshal(out)
	return data, "", nil
}

func (m *Master) handleDelta(ctx context.Context, c *Connection, req Request) (json.RawMessage, string, error) {
	var in DeltaRequest
	if err := json.Unmarshal(req.Payload, &in); err != nil || in.HardwareID == "" {
		return nil, ErrCodeInvalidPayload, errors.New("sync.delta requires hardware_id and cursors")
	}

	// Advance the Master's cursor only for kinds the satellite has ACKed
	// receipt of; the Master re-sends un-ACKed rows on every subsequent call.
	for kindStr, observedMax := range in.Ack {
		kind := models.SyncEntityKind(kindStr)
		if err := m.Store.AdvanceCursor(ctx, in.HardwareID, kind, observedMax); err != nil {
			return nil, ErrCodeInternal, err
		}
	}

	// The cursor is keyed by satellite hardware_id and the Master owns it;
	// a client-submitted value is only a hint for which kinds it wants and is
	// never trusted as the high-watermark itself.
	cursors := make(map[models.SyncEntityKind]int64, len(in.Cursors))
	kinds := make([]models.SyncEntityKind, 0, len(in.Cursors))
	for kindStr := range in.Cursors {
		kind := models.SyncEntityKind(kindStr)
		stored, err := m.Store.Cursor(ctx, in.HardwareID, kind)
		if err != nil {
			return nil, ErrCodeInternal, err
		}
		cursors[kind] = stored
		kinds = append(kinds, kind)
	}

	entities, maxVersions, err := m.Store.FetchDelta(ctx, kinds, cursors)
	if err != nil {
		return nil, ErrCodeInternal, err
	}

	out := DeltaResponse{Entities: toRecords(entities), MaxVersions: fromKindMap(maxVersions)}
	data, _ := json.Marshal(out)
	return data, "", nil
}

func (m *Master) handlePush(ctx context.Context, c *Connection, req Request) (json.RawMessage, string, error) {
	var in PushRequest
	if err := json.Unmarshal(req.Payload, &in); err != nil || in.Kind == "" || in.EntityID == "" {
		return nil, ErrCodeInvalidPayload, errors.New("sync.push requires kind and entity_id")
	}

	if in.OriginID != "" {
		seen, err := m.Store.SeenOrigin(ctx, in.OriginID)
		if err != nil {
			return nil, ErrCodeInternal, err
		}
		if seen {
			data, _ := json.Marshal(map[string]bool{"applied": false, "duplicate": true})
			return data, "", nil
		}
	}

	version, err := m.Store.Upsert(ctx, models.SyncEntityKind(in.Kind), in.EntityID, models.SyncOperation(in.Operation), in.Data)
	if err != nil {
		return nil, ErrCodeInternal, err
	}
	if in.OriginID != "" {
		_ = m.Store.RecordOrigin(ctx, in.OriginID)
	}

	metrics.RecordSyncPush(in.Kind, 1)
	m.broadcastEntityChanged(c, in.Kind, in.EntityID, in.Operation, version)

	out := PushResponse{Version: version}
	data, _ := json.Marshal(out)
	return data, "", nil
}

func (m *Master) handleRemoteSale(ctx context.Context, c *Connection, req Request) (json.RawMessage, string, error) {
	var in RemoteSaleRequest
	if err := json.Unmarshal(req.Payload, &in); err != nil || len(in.Sale) == 0 {
		return nil, ErrCodeInvalidPayload, errors.New("sale.remote_create requires a sale payload")
	}

	if in.OriginID != "" {
		seen, err := m.Store.SeenOrigin(ctx, in.OriginID)
		if err != nil {
			return nil, ErrCodeInternal, err
		}
		if seen {
			data, _ := json.Marshal(map[string]bool{"applied": false, "duplicate": true})
			return data, "", nil
		}
	}

	version, err := m.Store.Upsert(ctx, models.SyncKindServiceOrder, uuid.New().String(), models.SyncOpCreate, in.Sale)
	if err != nil {
		return nil, ErrCodeInternal, err
	}
	if in.OriginID != "" {
		_ = m.Store.RecordOrigin(ctx, in.OriginID)
	}

	m.Bus.Publish(eventbus.Event{Name: EventStockLow, Data: map[string]any{"version": version}, EmittedAt: time.Now()})

	data, _ := json.Marshal(map[string]bool{"applied": true})
	return data, "", nil
}

// broadcastEntityChanged fans a cross-satellite entity-changed event to every
// other attached connection so they can apply the upsert immediately.
func (m *Master) broadcastEntityChanged(origin *Connection, kind, entityID, operation string, version int64) {
	payload, _ := json.Marshal(map[string]any{
		"kind": kind, "entity_id": entityID, "operation": operation, "version": version,
	})
	m.Bus.Publish(eventbus.Event{Name: EventEntityChanged, Data: json.RawMessage(payload), EmittedAt: time.Now()})
}

func toKinds(in []string) []models.SyncEntityKind {
	out := make([]models.SyncEntityKind, len(in))
	for i, s := range in {
		out[i] = models.SyncEntityKind(s)
	}
	return out
}

func toRecords(entities []models.SyncEntity) []EntityRecord {
	out := make([]EntityRecord, len(entities))
	for i, e := range entities {
		out[i] = EntityRecord{
			Kind:      string(e.Kind),
			EntityID:  e.EntityID,
			Operation: string(e.Operation),
			Data:      e.Data,
			Version:   e.Version,
		}
	}
	return out
}

func fromKindMap(in map[models.SyncEntityKind]int64) map[string]int64 {
	out := make(map[string]int64, len(in))
	for k, v := range in {
		out[string(k)] = v
	}
	return out
}
