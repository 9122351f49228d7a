// Package webhooks notifies external consumers when a registry batch
// finishes. Delivery is best effort: failures are logged and never fail
// the batch.
package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/MGMAppDev/soccerview-sub003/internal/logging"
)

const (
	defaultTimeout     = 2 * time.Second
	defaultConcurrency = 4
)

// Event names the kind of batch a payload reports.
type Event string

const (
	EventMergeBatch Event = "merge.batch"
	EventMatchDedup Event = "matches.dedup"
)

// Payload is the JSON body posted to every target.
type Payload struct {
	Event   Event     `json:"event"`
	BatchID string    `json:"batch_id,omitempty"`
	Actor   string    `json:"actor"`
	At      time.Time `json:"at"`
	Failed  bool      `json:"failed"`
	Data    any       `json:"data"`
}

// Dispatcher posts payloads to a fixed set of target URLs.
type Dispatcher struct {
	urls        []string
	client      *http.Client
	concurrency int
	log         logrus.FieldLogger
}

// New creates a Dispatcher. Targets may contain {event} and {batch_id}
// placeholders.
func New(urls []string, log logrus.FieldLogger) *Dispatcher {
	return &Dispatcher{
		urls:        urls,
		client:      &http.Client{Timeout: defaultTimeout},
		concurrency: defaultConcurrency,
		log:         logging.OrDiscard(log),
	}
}

// Targets templates, normalizes and de-dupes the configured URLs for p.
// Invalid URLs are skipped.
func (d *Dispatcher) Targets(p Payload) []string {
	if len(d.urls) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(d.urls))
	var normalized []string
	for _, raw := range d.urls {
		templated := strings.TrimSpace(applyTemplate(strings.TrimSpace(raw), p))
		templated = strings.TrimRight(templated, "/")
		if templated == "" {
			continue
		}
		if !isValidWebhookURL(templated) {
			d.log.WithField("url", templated).Warn("skipping invalid webhook url")
			continue
		}
		if _, ok := seen[templated]; ok {
			continue
		}
		seen[templated] = struct{}{}
		normalized = append(normalized, templated)
	}
	return normalized
}

func applyTemplate(raw string, p Payload) string {
	result := strings.ReplaceAll(raw, "{event}", string(p.Event))
	return strings.ReplaceAll(result, "{batch_id}", p.BatchID)
}

func isValidWebhookURL(raw string) bool {
	parsed, err := url.Parse(raw)
	if err != nil {
		return false
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return false
	}
	return parsed.Host != ""
}

// Dispatch posts p to every target and returns how many accepted it with
// a 2xx status.
func (d *Dispatcher) Dispatch(ctx context.Context, p Payload) int {
	urls := d.Targets(p)
	if len(urls) == 0 {
		return 0
	}
	if p.At.IsZero() {
		p.At = time.Now().UTC()
	}

	body, err := json.Marshal(p)
	if err != nil {
		d.log.WithError(err).Error("failed to encode webhook payload")
		return 0
	}

	workers := min(d.concurrency, len(urls))
	jobs := make(chan string)
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		delivered int
	)
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for endpoint := range jobs {
				if err := d.send(ctx, endpoint, body); err != nil {
					d.log.WithError(err).WithFields(logrus.Fields{"url": endpoint, "event": p.Event}).Warn("webhook delivery failed")
					continue
				}
				mu.Lock()
				delivered++
				mu.Unlock()
			}
		}()
	}

	for _, endpoint := range urls {
		jobs <- endpoint
	}
	close(jobs)
	wg.Wait()
	return delivered
}

func (d *Dispatcher) send(ctx context.Context, endpoint string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	return nil
}
