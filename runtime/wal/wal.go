// Package wal implements the fabric's Write-Ahead Log: an append-only event
// log partitioned by (tenant, UTC date) with range-read, session replay, and
// consumer-group fan-out (spec §4.6). Durable partitions are realized over
// Redis Streams via runtime/wal/pulsewal; runtime/wal/memory provides both
// the in-memory backend that callers wire explicitly and the automatic
// degraded-mode buffer
// used when the durable backend is unavailable.
package wal

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/execfabric/fabric/runtime/clock"
	"github.com/execfabric/fabric/runtime/ferrors"
)

// EventType enumerates the WAL's event taxonomy (spec §3 "WAL Event").
type EventType string

const (
	EventSessionCreated    EventType = "session-created"
	EventSessionUpgraded   EventType = "session-upgraded"
	EventIntentReceived    EventType = "intent-received"
	EventSagaStarted       EventType = "saga-started"
	EventStepCompleted     EventType = "step-completed"
	EventStepFailed        EventType = "step-failed"
	EventExecutionStarted  EventType = "execution-started"
	EventExecutionFailed   EventType = "execution-failed"
	EventExecutionComplete EventType = "execution-completed"
)

// Event is a single immutable WAL entry.
type Event struct {
	ID        string
	Type      EventType
	TenantID  string
	Timestamp time.Time
	Payload   map[string]any
	// Degraded marks an event that was buffered in memory because the
	// durable partition backend was unavailable at append time.
	Degraded bool
}

// DeliveredEvent pairs an Event with the backend-native message id needed to
// acknowledge it through a consumer group.
type DeliveredEvent struct {
	MessageID string
	Event     Event
}

// RawEntry is a backend-native stream entry: an opaque sequence id plus the
// encoded fields a Backend stores per Add call.
type RawEntry struct {
	ID     string
	Fields map[string]string
}

// Backend abstracts the append-only partitioned stream underneath the WAL.
// runtime/wal/pulsewal implements this over Redis Streams through go-redis;
// runtime/wal/memory implements it in-process.
type Backend interface {
	Add(ctx context.Context, partition string, fields map[string]string) (id string, err error)
	Range(ctx context.Context, partition string, limit int) ([]RawEntry, error)
	CreateGroup(ctx context.Context, partition, group string) error
	ReadGroup(ctx context.Context, partition, group, consumer string, count int, block time.Duration) ([]RawEntry, error)
	Ack(ctx context.Context, partition, group string, ids []string) error
}

// WriteAheadLog implements spec §4.6's operations over a Backend, with an
// automatic in-memory degraded-mode buffer (SUPPLEMENTED FEATURES #5) when
// the backend is momentarily unavailable.
type WriteAheadLog struct {
	backend  Backend
	fallback Backend // always a runtime/wal/memory.Store, used only on backend failure
	clk      clock.Clock
	degraded atomic.Bool
}

// New constructs a WriteAheadLog. backend must be non-nil; passing nil is a
// §8A failure at call sites, not here, since the WAL itself has no implicit
// default (spec §4.4's use-memory-is-opt-in rule). fallback is the in-memory
// buffer used automatically when backend calls fail; pass
// runtime/wal/memory.New().
func New(backend, fallback Backend, clk clock.Clock) *WriteAheadLog {
	if clk == nil {
		clk = clock.System
	}
	return &WriteAheadLog{backend: backend, fallback: fallback, clk: clk}
}

// Degraded reports whether the most recent Append fell back to the
// in-memory buffer.
func (w *WriteAheadLog) Degraded() bool {
	return w.degraded.Load()
}

func partitionKey(tenantID, date string) string {
	return fmt.Sprintf("wal:%s:%s", tenantID, date)
}

// Append generates an event id, stamps the timestamp, and writes to today's
// (tenant, date) partition, falling back to the in-memory buffer on backend
// failure (spec §4.6 "Append").
func (w *WriteAheadLog) Append(ctx context.Context, eventType EventType, tenantID string, payload map[string]any) (Event, error) {
	if tenantID == "" {
		return Event{}, ferrors.New(ferrors.Validation, "tenant id is required to append a WAL event")
	}
	now := w.clk.NowUTC()
	ev := Event{
		ID:        clock.NewID("event"),
		Type:      eventType,
		TenantID:  tenantID,
		Timestamp: now,
		Payload:   payload,
	}
	partition := partitionKey(tenantID, now.Format("2006-01-02"))
	fields, err := encode(ev)
	if err != nil {
		return Event{}, err
	}
	if _, err := w.backend.Add(ctx, partition, fields); err != nil {
		if w.fallback == nil {
			return Event{}, ferrors.Wrap(ferrors.BackendUnavailable, err, "WAL backend unavailable and no degraded-mode buffer configured")
		}
		ev.Degraded = true
		w.degraded.Store(true)
		if _, ferr := w.fallback.Add(ctx, partition, fields); ferr != nil {
			return Event{}, ferrors.Wrap(ferrors.BackendUnavailable, ferr, "WAL degraded-mode buffer also failed")
		}
		return ev, nil
	}
	w.degraded.Store(false)
	return ev, nil
}

// GetEvents reads every partition covering [start, end] (today only when
// both are nil), filters by eventType when non-nil, sorts descending by
// timestamp, and truncates to limit (spec §4.6 "Range read").
func (w *WriteAheadLog) GetEvents(ctx context.Context, tenantID string, eventType *EventType, limit int, start, end *time.Time) ([]Event, error) {
	if tenantID == "" {
		return nil, ferrors.New(ferrors.Validation, "tenant id is required")
	}
	from, to := rangeBounds(w.clk.NowUTC(), start, end)
	var all []Event
	for _, date := range datesBetween(from, to) {
		partition := partitionKey(tenantID, date)
		events, err := w.readPartition(ctx, partition, limit)
		if err != nil {
			return nil, err
		}
		for _, ev := range events {
			if eventType != nil && ev.Type != *eventType {
				continue
			}
			all = append(all, ev)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Timestamp.After(all[j].Timestamp) })
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// ReplaySession scans the last 30 days of partitions for tenantID and
// returns every event whose payload carries sessionID, ascending by
// timestamp (spec §4.6 "Session replay").
func (w *WriteAheadLog) ReplaySession(ctx context.Context, sessionID, tenantID string) ([]Event, error) {
	if tenantID == "" || sessionID == "" {
		return nil, ferrors.New(ferrors.Validation, "tenant id and session id are required")
	}
	now := w.clk.NowUTC()
	from := now.AddDate(0, 0, -30)
	var out []Event
	for _, date := range datesBetween(from, now) {
		partition := partitionKey(tenantID, date)
		events, err := w.readPartition(ctx, partition, 0)
		if err != nil {
			return nil, err
		}
		for _, ev := range events {
			if sid, _ := ev.Payload["session_id"].(string); sid == sessionID {
				out = append(out, ev)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// CreateConsumerGroup creates a consumer group on the (tenant, date)
// partition so independent readers can replay without coordination.
func (w *WriteAheadLog) CreateConsumerGroup(ctx context.Context, tenantID, group, date string) error {
	return w.backend.CreateGroup(ctx, partitionKey(tenantID, date), group)
}

// ReadFromGroup reads up to count undelivered ("> ") messages for consumer
// within group on the (tenant, date) partition.
func (w *WriteAheadLog) ReadFromGroup(ctx context.Context, tenantID, group, consumer, date string, count int, block time.Duration) ([]DeliveredEvent, error) {
	raws, err := w.backend.ReadGroup(ctx, partitionKey(tenantID, date), group, consumer, count, block)
	if err != nil {
		return nil, ferrors.Wrap(ferrors.BackendUnavailable, err, "WAL consumer group read failed")
	}
	out := make([]DeliveredEvent, 0, len(raws))
	for _, raw := range raws {
		ev, err := decode(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, DeliveredEvent{MessageID: raw.ID, Event: ev})
	}
	return out, nil
}

// Acknowledge acks ids within group on the (tenant, date) partition.
func (w *WriteAheadLog) Acknowledge(ctx context.Context, tenantID, group, date string, ids []string) error {
	return w.backend.Ack(ctx, partitionKey(tenantID, date), group, ids)
}

func (w *WriteAheadLog) readPartition(ctx context.Context, partition string, limit int) ([]Event, error) {
	readLimit := limit
	if readLimit <= 0 {
		readLimit = 10000
	}
	raws, err := w.backend.Range(ctx, partition, readLimit)
	if err != nil {
		if w.fallback == nil {
			return nil, ferrors.Wrap(ferrors.BackendUnavailable, err, "WAL backend range read failed")
		}
		raws, err = w.fallback.Range(ctx, partition, readLimit)
		if err != nil {
			return nil, ferrors.Wrap(ferrors.BackendUnavailable, err, "WAL degraded-mode buffer range read failed")
		}
	} else if w.fallback != nil {
		// Degraded entries buffered while the backend was down still need
		// to surface in reads of the same partition.
		buffered, ferr := w.fallback.Range(ctx, partition, readLimit)
		if ferr == nil {
			raws = append(raws, buffered...)
		}
	}
	out := make([]Event, 0, len(raws))
	for _, raw := range raws {
		ev, err := decode(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, nil
}

func rangeBounds(now time.Time, start, end *time.Time) (time.Time, time.Time) {
	from, to := now, now
	if start != nil {
		from = *start
	}
	if end != nil {
		to = *end
	}
	return from, to
}

func datesBetween(from, to time.Time) []string {
	if to.Before(from) {
		from, to = to, from
	}
	var dates []string
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		dates = append(dates, d.Format("2006-01-02"))
	}
	if len(dates) == 0 {
		dates = []string{from.Format("2006-01-02")}
	}
	return dates
}

func encode(ev Event) (map[string]string, error) {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return nil, ferrors.Wrap(ferrors.Validation, err, "WAL payload is not JSON-encodable")
	}
	return map[string]string{
		"event_id":  ev.ID,
		"type":      string(ev.Type),
		"tenant_id": ev.TenantID,
		"ts":        ev.Timestamp.Format(time.RFC3339Nano),
		"payload":   string(payload),
	}, nil
}

func decode(raw RawEntry) (Event, error) {
	ts, err := time.Parse(time.RFC3339Nano, raw.Fields["ts"])
	if err != nil {
		return Event{}, ferrors.Wrap(ferrors.Validation, err, "WAL event has malformed timestamp")
	}
	var payload map[string]any
	if v := raw.Fields["payload"]; v != "" {
		if err := json.Unmarshal([]byte(v), &payload); err != nil {
			return Event{}, ferrors.Wrap(ferrors.Validation, err, "WAL event has malformed payload")
		}
	}
	return Event{
		ID:        raw.Fields["event_id"],
		Type:      EventType(raw.Fields["type"]),
		TenantID:  raw.Fields["tenant_id"],
		Timestamp: ts,
		Payload:   payload,
	}, nil
}
