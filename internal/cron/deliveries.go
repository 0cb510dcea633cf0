package cron

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/relaygate/relaygate/pkg/models"
)

const webhookMaxAttempts = 3
const webhookClientTimeout = 30 * time.Second
const defaultWebhookUserAgent = "relaygate-webhook/1.0"

// DeliveryStore keeps a bounded, most-recent-first ring of Deliveries,
// mirroring internal/sessions.Store's load/flush/dirty-flag persistence
// shape and original_source's DeliveryStore (deliveries.rs) for the
// bounded-ring eviction and unread-count bookkeeping.
type DeliveryStore struct {
	mu        sync.RWMutex
	deliveries []models.Delivery
	byID      map[string]int
}

// NewDeliveryStore builds an empty, in-memory delivery ring.
func NewDeliveryStore() *DeliveryStore {
	return &DeliveryStore{byID: make(map[string]int)}
}

// Insert appends a delivery, evicting the oldest once MaxDeliveries is
// exceeded.
func (d *DeliveryStore) Insert(delivery models.Delivery) models.Delivery {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.deliveries = append(d.deliveries, delivery)
	if len(d.deliveries) > models.MaxDeliveries {
		d.deliveries = d.deliveries[len(d.deliveries)-models.MaxDeliveries:]
	}
	d.reindex()
	return delivery
}

func (d *DeliveryStore) reindex() {
	d.byID = make(map[string]int, len(d.deliveries))
	for i, del := range d.deliveries {
		d.byID[del.ID] = i
	}
}

// Get returns a delivery by id.
func (d *DeliveryStore) Get(id string) (models.Delivery, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	idx, ok := d.byID[id]
	if !ok {
		return models.Delivery{}, false
	}
	return d.deliveries[idx], true
}

// List returns deliveries most-recent-first, optionally filtered by
// schedule id.
func (d *DeliveryStore) List(scheduleID string, limit, offset int) []models.Delivery {
	d.mu.RLock()
	defer d.mu.RUnlock()
	filtered := make([]models.Delivery, 0, len(d.deliveries))
	for _, del := range d.deliveries {
		if scheduleID != "" && del.ScheduleID != scheduleID {
			continue
		}
		filtered = append(filtered, del)
	}
	sort.Slice(filtered, func(i, j int) bool { return filtered[i].CreatedAt.After(filtered[j].CreatedAt) })
	if offset < 0 {
		offset = 0
	}
	if offset >= len(filtered) {
		return nil
	}
	end := len(filtered)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return filtered[offset:end]
}

// MarkRead flips a delivery's Read flag, reporting whether it existed.
func (d *DeliveryStore) MarkRead(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	idx, ok := d.byID[id]
	if !ok {
		return false
	}
	d.deliveries[idx].Read = true
	return true
}

// UnreadCount reports how many deliveries have not been marked read.
func (d *DeliveryStore) UnreadCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n := 0
	for _, del := range d.deliveries {
		if !del.Read {
			n++
		}
	}
	return n
}

// webhookPayload is the JSON body POSTed to each delivery target.
type webhookPayload struct {
	DeliveryID string   `json:"delivery_id"`
	ScheduleID string   `json:"schedule_id,omitempty"`
	RunID      string   `json:"run_id,omitempty"`
	Title      string   `json:"title"`
	Body       string   `json:"body"`
	Sources    []string `json:"sources,omitempty"`
	CreatedAt  string   `json:"created_at"`
}

// DispatchWebhooks fire-and-forgets a POST of delivery to every URL in
// targets, up to webhookMaxAttempts with jittered exponential backoff; a
// 4xx response or an attempt exhausted at a 5xx is final. Grounded on
// original_source's dispatch_webhooks (deliveries.rs): the jitter seed is
// derived from the delivery id so retries across many deliveries don't
// collide on the same backoff schedule.
func DispatchWebhooks(ctx context.Context, delivery models.Delivery, targets []string, userAgent string, log *zap.SugaredLogger) {
	if len(targets) == 0 {
		return
	}
	if userAgent == "" {
		userAgent = defaultWebhookUserAgent
	}
	payload := webhookPayload{
		DeliveryID: delivery.ID,
		ScheduleID: delivery.ScheduleID,
		RunID:      delivery.RunID,
		Title:      delivery.Title,
		Body:       delivery.Body,
		Sources:    delivery.Sources,
		CreatedAt:  delivery.CreatedAt.Format(time.RFC3339),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return
	}

	jitterSeed := deliveryJitterSeed(delivery.ID)
	client := &http.Client{Timeout: webhookClientTimeout}

	for _, url := range targets {
		url := url
		go dispatchOne(ctx, client, url, body, userAgent, jitterSeed, log)
	}
}

// deliveryJitterSeed derives a small per-delivery jitter seed from the last
// character of its id, avoiding a thundering herd on simultaneous retries
// across many deliveries.
func deliveryJitterSeed(id string) uint64 {
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return 0
	}
	return uint64(trimmed[len(trimmed)-1])
}

func dispatchOne(ctx context.Context, client *http.Client, url string, body []byte, userAgent string, jitterSeed uint64, log *zap.SugaredLogger) {
	for attempt := 1; attempt <= webhookMaxAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err == nil {
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("User-Agent", userAgent)
			resp, doErr := client.Do(req)
			if doErr == nil {
				resp.Body.Close()
				switch {
				case resp.StatusCode >= 200 && resp.StatusCode < 300:
					return
				case resp.StatusCode >= 500 && attempt < webhookMaxAttempts:
					logWebhook(log, "webhook 5xx, will retry", url, attempt, nil, resp.StatusCode)
				default:
					logWebhook(log, "webhook returned non-success status", url, attempt, nil, resp.StatusCode)
					return // 4xx or final 5xx — don't retry
				}
			} else if attempt < webhookMaxAttempts {
				logWebhook(log, "webhook failed, will retry", url, attempt, doErr, 0)
			} else {
				logWebhook(log, "webhook delivery failed after retries", url, attempt, doErr, 0)
				return
			}
		} else if attempt >= webhookMaxAttempts {
			return
		}

		baseMs := uint64(1) << uint(attempt-1) * 1000
		jitterMs := (jitterSeed * uint64(attempt) * 37) % 256
		time.Sleep(time.Duration(baseMs+jitterMs) * time.Millisecond)
	}
}

func logWebhook(log *zap.SugaredLogger, msg, url string, attempt int, err error, status int) {
	if log == nil {
		return
	}
	fields := []any{"url", url, "attempt", attempt}
	if status != 0 {
		fields = append(fields, "status", status)
	}
	if err != nil {
		fields = append(fields, "error", err)
	}
	log.Infow(msg, fields...)
}

// deliveryTitle formats a schedule run's delivery title the way
// original_source does: "{name} — {YYYY-MM-DD HH:MM}".
func deliveryTitle(scheduleName string, now time.Time) string {
	return fmt.Sprintf("%s — %s", scheduleName, now.Format("2006-01-02 15:04"))
}
