package hub

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"qms/walkin-queue/internal/store"
)

// EventSource is the outbox the relay drains.
type EventSource interface {
	LatestOutboxSeq(ctx context.Context) (int64, error)
	ListOutboxEvents(ctx context.Context, afterSeq int64, limit int) ([]store.OutboxEvent, error)
	DeleteOutboxEventsBefore(ctx context.Context, before time.Time) (int64, error)
}

type RelayOptions struct {
	PollInterval time.Duration
	BatchSize    int
	// Retention is how long delivered events stay in the outbox. Zero keeps them.
	Retention time.Duration
	// GapGrace is how long a missing seq below a delivered one is waited for
	// before the relay moves past it. Postgres hands out seqs at insert time,
	// so a later seq can commit first.
	GapGrace time.Duration
	Now      func() time.Time
}

type Envelope struct {
	Seq       int64           `json:"seq"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// Relay polls the outbox and fans events out to monitors. Delivery is best
// effort: monitors that connect later only see events from then on.
//
// offset is a watermark: every seq at or below it was delivered or given up
// on. Seqs above it that were already broadcast are kept in delivered so a
// re-read of the window does not send them twice.
type Relay struct {
	source  EventSource
	hub     *Hub
	options RelayOptions
	offset  int64
	running int32

	mu           sync.Mutex
	delivered    map[int64]struct{}
	missingSince map[int64]time.Time
}

func NewRelay(source EventSource, h *Hub, options RelayOptions) *Relay {
	if options.PollInterval <= 0 {
		options.PollInterval = time.Second
	}
	if options.BatchSize <= 0 {
		options.BatchSize = 100
	}
	if options.GapGrace <= 0 {
		options.GapGrace = 5 * time.Second
	}
	if options.Now == nil {
		options.Now = time.Now
	}
	return &Relay{
		source:       source,
		hub:          h,
		options:      options,
		delivered:    make(map[int64]struct{}),
		missingSince: make(map[int64]time.Time),
	}
}

// Run starts from the current end of the outbox and polls until ctx is done.
func (r *Relay) Run(ctx context.Context) {
	if err := r.Resume(ctx); err != nil {
		log.Printf("monitor_relay_offset_error err=%v", err)
	}
	ticker := time.NewTicker(r.options.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !atomic.CompareAndSwapInt32(&r.running, 0, 1) {
				continue
			}
			pollCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			if _, err := r.Poll(pollCtx); err != nil {
				log.Printf("monitor_relay_poll_error err=%v", err)
			}
			cancel()
			atomic.StoreInt32(&r.running, 0)
		}
	}
}

// Resume moves the offset to the newest outbox event.
func (r *Relay) Resume(ctx context.Context) error {
	seq, err := r.source.LatestOutboxSeq(ctx)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	atomic.StoreInt64(&r.offset, seq)
	r.delivered = make(map[int64]struct{})
	r.missingSince = make(map[int64]time.Time)
	return nil
}

func (r *Relay) Offset() int64 {
	return atomic.LoadInt64(&r.offset)
}

// Poll delivers one batch and returns how many events were broadcast.
func (r *Relay) Poll(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	offset := r.Offset()
	events, err := r.source.ListOutboxEvents(ctx, offset, r.options.BatchSize)
	if err != nil {
		return 0, err
	}
	broadcast := 0
	highest := offset
	for _, event := range events {
		if event.Seq <= offset {
			continue
		}
		if event.Seq > highest {
			highest = event.Seq
		}
		if _, seen := r.delivered[event.Seq]; seen {
			continue
		}
		payload, err := json.Marshal(Envelope{
			Seq:       event.Seq,
			Type:      event.Type,
			Payload:   event.Payload,
			CreatedAt: event.CreatedAt,
		})
		if err != nil {
			log.Printf("monitor_relay_encode_error seq=%d err=%v", event.Seq, err)
		} else {
			r.hub.Broadcast(payload, extractMeta(event.Payload))
			broadcast++
		}
		r.delivered[event.Seq] = struct{}{}
		delete(r.missingSince, event.Seq)
	}

	now := r.options.Now()
	for seq := offset + 1; seq < highest; seq++ {
		if _, seen := r.delivered[seq]; seen {
			continue
		}
		if _, waiting := r.missingSince[seq]; !waiting {
			r.missingSince[seq] = now
		}
	}
	r.advance(now)

	if broadcast > 0 && r.options.Retention > 0 {
		before := now.Add(-r.options.Retention)
		if _, err := r.source.DeleteOutboxEventsBefore(ctx, before); err != nil {
			log.Printf("monitor_relay_cleanup_error err=%v", err)
		}
	}
	return broadcast, nil
}

// advance moves the watermark over delivered seqs and over gaps that stayed
// empty for longer than GapGrace. Rolled back transactions leave such gaps.
func (r *Relay) advance(now time.Time) {
	offset := r.Offset()
	for {
		next := offset + 1
		if _, ok := r.delivered[next]; ok {
			delete(r.delivered, next)
			offset = next
			continue
		}
		since, ok := r.missingSince[next]
		if ok && now.Sub(since) >= r.options.GapGrace {
			log.Printf("monitor_relay_gap_skipped seq=%d", next)
			delete(r.missingSince, next)
			offset = next
			continue
		}
		break
	}
	atomic.StoreInt64(&r.offset, offset)
}

func extractMeta(payload []byte) Subscription {
	var data struct {
		WindowID   *string `json:"window_id"`
		CategoryID string  `json:"category_id"`
	}
	if err := json.Unmarshal(payload, &data); err != nil {
		return Subscription{}
	}
	meta := Subscription{CategoryID: data.CategoryID}
	if data.WindowID != nil {
		meta.WindowID = *data.WindowID
	}
	return meta
}
