package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/jhonslife/giro-license-server/internal/models"
)

// PendingWrite is a buffered outbound mutation produced while disconnected.
// Each carries a local-originated UUID so replays on reconnect are idempotent.
type PendingWrite struct {
	OriginID string
	Push     *PushRequest
	Sale     *RemoteSaleRequest
}

// Satellite discovers a Master via mDNS, maintains a persistent duplex
// channel, and applies inbound entity-changed events to the local store. It
// buffers local writes produced while disconnected and flushes them in
// production order on reconnect.
type Satellite struct {
	Store      Store
	HardwareID string
	Token      string
	Kinds      []models.SyncEntityKind
	MaxBackoff time.Duration

	coldStartDone bool

	mu       sync.Mutex
	conn     *websocket.Conn
	pending  []PendingWrite
	nextID   uint64
	waiters  map[uint64]chan Response
}

// NewSatellite constructs a Satellite bound to a local store.
func NewSatellite(store Store, hardwareID, token string, kinds []models.SyncEntityKind, maxBackoff time.Duration) *Satellite {
	if maxBackoff <= 0 {
		maxBackoff = 5 * time.Second
	}
	return &Satellite{
		Store:      store,
		HardwareID: hardwareID,
		Token:      token,
		Kinds:      kinds,
		MaxBackoff: maxBackoff,
		waiters:    make(map[uint64]chan Response),
	}
}

// Run connects to masterAddr and stays connected until ctx is cancelled,
// reconnecting with exponential backoff capped at MaxBackoff on any
// transient-transport error.
func (s *Satellite) Run(ctx context.Context, masterAddr, wsPath string) {
	backoff := 250 * time.Millisecond

	for {
		if ctx.Err() != nil {
			return
		}

		if err := s.connectAndServe(ctx, masterAddr, wsPath); err != nil {
			log.Printf("satellite: connection lost: %v, retrying in %s", err, backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
			backoff *= 2
			if backoff > s.MaxBackoff {
				backoff = s.MaxBackoff
			}
			continue
		}

		backoff = 250 * time.Millisecond
	}
}

func (s *Satellite) connectAndServe(ctx context.Context, masterAddr, wsPath string) error {
	u := url.URL{Scheme: "ws", Host: masterAddr, Path: wsPath, RawQuery: fmt.Sprintf("token=%s&hardware_id=%s", s.Token, s.HardwareID)}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial master: %w", err)
	}
	defer conn.Close()

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	readErrs := make(chan error, 1)
	go s.readLoop(conn, readErrs)

	if !s.coldStartDone {
		if err := s.syncFull(ctx); err != nil {
			return fmt.Errorf("cold start sync.full: %w", err)
		}
		s.coldStartDone = true
	} else if err := s.syncDelta(ctx); err != nil {
		return fmt.Errorf("sync.delta on reconnect: %w", err)
	}

	if err := s.flushPending(ctx); err != nil {
		log.Printf("satellite: error flushing buffered writes: %v", err)
	}

	select {
	case err := <-readErrs:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Satellite) readLoop(conn *websocket.Conn, errs chan<- error) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			errs <- err
			return
		}

		var probe struct {
			Kind FrameKind `json:"kind"`
		}
		if err := json.Unmarshal(raw, &probe); err != nil {
			continue
		}

		switch probe.Kind {
		case FrameResponse:
			var resp Response
			if err := json.Unmarshal(raw, &resp); err != nil {
				continue
			}
			s.mu.Lock()
			ch, ok := s.waiters[resp.ID]
			if ok {
				delete(s.waiters, resp.ID)
			}
			s.mu.Unlock()
			if ok {
				ch <- resp
			}
		case FrameEvent:
			var evt Event
			if err := json.Unmarshal(raw, &evt); err != nil {
				continue
			}
			s.applyEvent(evt)
		}
	}
}

func (s *Satellite) applyEvent(evt Event) {
	if evt.Event != EventEntityChanged {
		return
	}
	var payload struct {
		Kind      string `json:"kind"`
		EntityID  string `json:"entity_id"`
		Operation string `json:"operation"`
	}
	if err := json.Unmarshal(evt.Data, &payload); err != nil {
		return
	}
	ctx := context.Background()
	if _, err := s.Store.Upsert(ctx, models.SyncEntityKind(payload.Kind), payload.EntityID, models.SyncOperation(payload.Operation), evt.Data); err != nil {
		log.Printf("satellite: failed to apply entity.changed locally: %v", err)
	}
}

func (s *Satellite) call(ctx context.Context, action string, payload any) (Response, error) {
	s.mu.Lock()
	conn := s.conn
	id := s.nextID
	s.nextID++
	ch := make(chan Response, 1)
	s.waiters[id] = ch
	s.mu.Unlock()

	data, err := json.Marshal(payload)
	if err != nil {
		return Response{}, err
	}

	req := Request{Kind: FrameRequest, ID: id, Action: action, Payload: data, Token: s.Token, Timestamp: time.Now().UnixMilli()}

	s.mu.Lock()
	writeErr := conn.WriteJSON(req)
	s.mu.Unlock()
	if writeErr != nil {
		return Response{}, writeErr
	}

	select {
	case resp := <-ch:
		if !resp.Success {
			return resp, fmt.Errorf("%s: %s", resp.Error.Code, resp.Error.Message)
		}
		return resp, nil
	case <-ctx.Done():
		return Response{}, ctx.Err()
	case <-time.After(30 * time.Second):
		return Response{}, fmt.Errorf("%s", ErrCodeTimeout)
	}
}

func (s *Satellite) syncFull(ctx context.Context) error {
	kindStrs := make([]string, len(s.Kinds))
	for i, k := range s.Kinds {
		kindStrs[i] = string(k)
	}

	resp, err := s.call(ctx, ActionSyncFull, FullRequest{Kinds: kindStrs})
	if err != nil {
		return err
	}

	var out FullResponse
	if err := json.Unmarshal(resp.Data, &out); err != nil {
		return err
	}

	for _, rec := range out.Entities {
		if _, err := s.Store.Upsert(ctx, models.SyncEntityKind(rec.Kind), rec.EntityID, models.SyncOperation(rec.Operation), rec.Data); err != nil {
			return err
		}
	}
	return nil
}

func (s *Satellite) syncDelta(ctx context.Context) error {
	cursors := make(map[string]int64, len(s.Kinds))
	for _, k := range s.Kinds {
		v, err := s.Store.Cursor(ctx, s.HardwareID, k)
		if err != nil {
			return err
		}
		cursors[string(k)] = v
	}

	resp, err := s.call(ctx, ActionSyncDelta, DeltaRequest{HardwareID: s.HardwareID, Cursors: cursors})
	if err != nil {
		return err
	}

	var out DeltaResponse
	if err := json.Unmarshal(resp.Data, &out); err != nil {
		return err
	}

	for _, rec := range out.Entities {
		if _, err := s.Store.Upsert(ctx, models.SyncEntityKind(rec.Kind), rec.EntityID, models.SyncOperation(rec.Operation), rec.Data); err != nil {
			return err
		}
	}

	ack := make(map[string]int64, len(out.MaxVersions))
	for k, v := range out.MaxVersions {
		ack[k] = v
		if err := s.Store.AdvanceCursor(ctx, s.HardwareID, models.SyncEntityKind(k), v); err != nil {
			return err
		}
	}

	if len(ack) > 0 {
		_, err = s.call(ctx, ActionSyncDelta, DeltaRequest{HardwareID: s.HardwareID, Cursors: cursors, Ack: ack})
	}
	return err
}

// BufferWrite queues a local mutation produced while disconnected.
func (s *Satellite) BufferWrite(w PendingWrite) {
	if w.OriginID == "" {
		w.OriginID = uuid.New().String()
	}
	s.mu.Lock()
	s.pending = append(s.pending, w)
	s.mu.Unlock()
}

func (s *Satellite) flushPending(ctx context.Context) error {
	s.mu.Lock()
	batch := s.pending
	s.pending = nil
	s.mu.Unlock()

	for i, w := range batch {
		var err error
		switch {
		case w.Push != nil:
			w.Push.OriginID = w.OriginID
			_, err = s.call(ctx, ActionSyncPush, w.Push)
		case w.Sale != nil:
			w.Sale.OriginID = w.OriginID
			_, err = s.call(ctx, ActionSaleRemoteCreate, w.Sale)
		}
		if err != nil {
			s.mu.Lock()
			s.pending = append(append([]PendingWrite{}, batch[i:]...), s.pending...)
			s.mu.Unlock()
			return err
		}
	}
	return nil
}
