// Package siem implements SARK's SIEM Forwarder (§4.10): a bounded
// single-consumer queue drained by a background worker into one or more
// gzip-compressed HTTP sinks (Splunk HEC, Datadog logs intake), each
// guarded by its own circuit breaker and retried with exponential backoff
// before falling back to a durable local outbox. The bounded-queue /
// drop-oldest-with-metric shape is grounded on the teacher's
// resilience/circuit_breaker.go companion metrics idiom and on
// core/memory_store.go's background-worker-with-ticker pattern; retry is
// done with github.com/cenkalti/backoff/v4, already in the teacher's
// dependency graph (indirect), promoted here to direct use.
package siem

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/slack-go/slack"

	"github.com/sark/gateway/internal/logging"
	"github.com/sark/gateway/internal/storage"
	"github.com/sark/gateway/internal/telemetry"
	"github.com/sark/gateway/pkg/gateway"
	"github.com/sark/gateway/pkg/resilience"
)

// Defaults per §4.10.
const (
	DefaultQueueCapacity = 10000
	DefaultBatchSize     = 100
	DefaultBatchTimeout  = 5 * time.Second
	DefaultRetryAttempts = 5
	DefaultRetryCap      = 60 * time.Second
)

// enqueued pairs an audit event with the audit id assigned to it by the
// Audit Recorder, since SIEM envelopes correlate on that id.
type enqueued struct {
	event   gateway.AuditEvent
	auditID string
}

// Sink ships a batch of events to one downstream SIEM backend.
type Sink interface {
	Name() string
	Send(ctx context.Context, batch []enqueued) error
}

// Forwarder is the SIEM Forwarder: one bounded queue feeding N configured
// sinks, each wrapped in its own circuit breaker.
type Forwarder struct {
	mu       sync.Mutex
	queue    []enqueued
	capacity int

	sinks   []Sink
	circuit map[string]*resilience.CircuitBreaker

	batchSize    int
	batchTimeout time.Duration
	retryAttempts int
	retryCap     time.Duration

	outbox *storage.Outbox
	logger logging.ComponentAwareLogger
	m      *telemetry.Metrics

	notify chan struct{}
	stop   chan struct{}
	done   chan struct{}
}

// Option customizes a Forwarder.
type Option func(*Forwarder)

func WithLogger(l logging.ComponentAwareLogger) Option {
	return func(f *Forwarder) { f.logger = l.WithComponent("siem") }
}

func WithMetrics(m *telemetry.Metrics) Option {
	return func(f *Forwarder) { f.m = m }
}

func WithOutbox(o *storage.Outbox) Option {
	return func(f *Forwarder) { f.outbox = o }
}

func WithBatch(size int, timeout time.Duration) Option {
	return func(f *Forwarder) {
		if size > 0 {
			f.batchSize = size
		}
		if timeout > 0 {
			f.batchTimeout = timeout
		}
	}
}

func WithCapacity(capacity int) Option {
	return func(f *Forwarder) {
		if capacity > 0 {
			f.capacity = capacity
		}
	}
}

// New constructs a Forwarder over the given sinks, each given its own
// consecutive-failure circuit breaker per §4.10.
func New(sinks []Sink, opts ...Option) *Forwarder {
	f := &Forwarder{
		queue:         make([]enqueued, 0, DefaultQueueCapacity),
		capacity:      DefaultQueueCapacity,
		sinks:         sinks,
		circuit:       make(map[string]*resilience.CircuitBreaker, len(sinks)),
		batchSize:     DefaultBatchSize,
		batchTimeout:  DefaultBatchTimeout,
		retryAttempts: DefaultRetryAttempts,
		retryCap:      DefaultRetryCap,
		logger:        logging.NoOp(),
		notify:        make(chan struct{}, 1),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(f)
	}
	for _, s := range sinks {
		f.circuit[s.Name()] = resilience.New(resilience.Config{
			Name: "siem:" + s.Name(), ConsecutiveFailures: 5, CooldownPeriod: 60 * time.Second,
		})
	}
	return f
}

// Enqueue adds event to the forwarding queue. At capacity, the oldest
// queued event is dropped and a metric incremented (§4.10).
func (f *Forwarder) Enqueue(event gateway.AuditEvent, auditID string) {
	f.mu.Lock()
	if len(f.queue) >= f.capacity {
		f.queue = f.queue[1:]
		if f.m != nil {
			f.m.SIEMDropped.Inc()
		}
		f.logger.Warn("siem queue at capacity, dropping oldest event", map[string]interface{}{"audit_id": auditID})
	}
	f.queue = append(f.queue, enqueued{event: event, auditID: auditID})
	depth := len(f.queue)
	f.mu.Unlock()

	if f.m != nil {
		f.m.SIEMQueueDepth.Set(float64(depth))
	}

	select {
	case f.notify <- struct{}{}:
	default:
	}
}

// Run drives the batch worker until ctx is cancelled or Stop is called.
func (f *Forwarder) Run(ctx context.Context) {
	defer close(f.done)
	timer := time.NewTimer(f.batchTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			f.Flush(context.Background())
			return
		case <-f.stop:
			f.Flush(context.Background())
			return
		case <-f.notify:
			if f.queueLen() >= f.batchSize {
				f.Flush(ctx)
			}
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(f.batchTimeout)
		case <-timer.C:
			f.Flush(ctx)
			timer.Reset(f.batchTimeout)
		}
	}
}

func (f *Forwarder) queueLen() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queue)
}

// Flush drains up to batchSize queued events and ships them to every sink.
func (f *Forwarder) Flush(ctx context.Context) {
	f.mu.Lock()
	if len(f.queue) == 0 {
		f.mu.Unlock()
		return
	}
	n := f.batchSize
	if n > len(f.queue) {
		n = len(f.queue)
	}
	batch := make([]enqueued, n)
	copy(batch, f.queue[:n])
	f.queue = f.queue[n:]
	depth := len(f.queue)
	f.mu.Unlock()

	if f.m != nil {
		f.m.SIEMQueueDepth.Set(float64(depth))
	}

	for _, sink := range f.sinks {
		f.sendWithRetry(ctx, sink, batch)
	}
}

// sendWithRetry ships batch to sink through its circuit breaker, retrying
// up to retryAttempts times with exponential backoff (base 2.0, cap
// retryCap) before spilling to the durable outbox.
func (f *Forwarder) sendWithRetry(ctx context.Context, sink Sink, batch []enqueued) {
	cb := f.circuit[sink.Name()]

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.Multiplier = 2.0
	bo.MaxInterval = f.retryCap
	retrier := backoff.WithMaxRetries(backoff.WithContext(bo, ctx), uint64(f.retryAttempts))

	err := backoff.Retry(func() error {
		return cb.Execute(ctx, func(ctx context.Context) error { return sink.Send(ctx, batch) })
	}, retrier)

	if err != nil {
		f.logger.ErrorContext(ctx, "siem batch send failed, spilling to outbox", map[string]interface{}{
			"sink": sink.Name(), "batch_size": len(batch), "error": err.Error(),
		})
		if f.m != nil {
			f.m.SIEMFailed.WithLabelValues(sink.Name()).Add(float64(len(batch)))
		}
		f.spillToOutbox(sink.Name(), batch)
		return
	}

	if f.m != nil {
		f.m.SIEMSent.WithLabelValues(sink.Name()).Add(float64(len(batch)))
	}
}

func (f *Forwarder) spillToOutbox(sinkName string, batch []enqueued) {
	if f.outbox == nil {
		f.logger.Error("siem batch dropped with no outbox configured", map[string]interface{}{"sink": sinkName})
		return
	}
	for _, item := range batch {
		if err := f.outbox.Append(map[string]interface{}{
			"sink": sinkName, "audit_id": item.auditID, "event": item.event,
		}); err != nil {
			f.logger.Error("siem outbox write failed", map[string]interface{}{"error": err.Error()})
		}
	}
}

// Stop signals Run to drain and exit, blocking until it has.
func (f *Forwarder) Stop() {
	close(f.stop)
	<-f.done
}

// splunkEnvelope is Splunk HEC's per-event wrapper (§4.10).
type splunkEnvelope struct {
	Time       int64             `json:"time"`
	SourceType string            `json:"sourcetype"`
	Source     string            `json:"source"`
	Event      gateway.AuditEvent `json:"event"`
	Fields     map[string]string `json:"fields"`
}

// SplunkSink ships batches to a Splunk HTTP Event Collector endpoint.
type SplunkSink struct {
	URL    string
	Token  string
	Client *http.Client
}

func NewSplunkSink(url, token string) *SplunkSink {
	return &SplunkSink{URL: url, Token: token, Client: &http.Client{Timeout: 10 * time.Second}}
}

func (s *SplunkSink) Name() string { return "splunk" }

func (s *SplunkSink) Send(ctx context.Context, batch []enqueued) error {
	envelopes := make([]splunkEnvelope, 0, len(batch))
	for _, item := range batch {
		envelopes = append(envelopes, splunkEnvelope{
			Time:       item.event.Timestamp.Unix(),
			SourceType: "sark:gateway",
			Source:     "sark-api",
			Event:      item.event,
			Fields:     map[string]string{"audit_id": item.auditID},
		})
	}
	body, err := gzipJSON(envelopes)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Content-Encoding", "gzip")
	req.Header.Set("Authorization", "Splunk "+s.Token)
	return doAndCheck(s.Client, req)
}

// DatadogSink ships batches to a Datadog logs intake endpoint.
type DatadogSink struct {
	URL    string
	APIKey string
	Client *http.Client
}

func NewDatadogSink(url, apiKey string) *DatadogSink {
	return &DatadogSink{URL: url, APIKey: apiKey, Client: &http.Client{Timeout: 10 * time.Second}}
}

func (s *DatadogSink) Name() string { return "datadog" }

func (s *DatadogSink) Send(ctx context.Context, batch []enqueued) error {
	events := make([]gateway.AuditEvent, 0, len(batch))
	for _, item := range batch {
		events = append(events, item.event)
	}
	body, err := gzipJSON(events)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Content-Encoding", "gzip")
	req.Header.Set("DD-API-KEY", s.APIKey)
	return doAndCheck(s.Client, req)
}

// SlackSink posts a condensed alert to a Slack incoming webhook for every
// high/critical-severity event in a batch, skipping low/medium events so
// a busy gateway doesn't flood the channel. Unlike SplunkSink/DatadogSink
// it is not a full audit-trail replica — it is the "someone should look
// at this now" channel, so only the events that would page an operator
// are forwarded.
type SlackSink struct {
	WebhookURL string
	Client     *http.Client
}

// NewSlackSink constructs a SlackSink posting to an incoming webhook URL.
func NewSlackSink(webhookURL string) *SlackSink {
	return &SlackSink{WebhookURL: webhookURL, Client: &http.Client{Timeout: 10 * time.Second}}
}

func (s *SlackSink) Name() string { return "slack" }

func (s *SlackSink) Send(ctx context.Context, batch []enqueued) error {
	for _, item := range batch {
		if item.event.Severity != gateway.SeverityHigh && item.event.Severity != gateway.SeverityCritical {
			continue
		}
		reason, _ := item.event.Details["reason"].(string)
		msg := slack.WebhookMessage{
			Text: fmt.Sprintf("[%s] %s decision=%s actor=%s action=%s resource=%s reason=%q audit_id=%s",
				strings.ToUpper(string(item.event.Severity)),
				item.event.EventType,
				item.event.Decision,
				item.event.Actor.ID,
				item.event.Action,
				item.event.Resource.ID,
				reason,
				item.auditID,
			),
		}
		if err := slack.PostWebhookContext(ctx, s.WebhookURL, &msg); err != nil {
			return err
		}
	}
	return nil
}

func gzipJSON(v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func doAndCheck(client *http.Client, req *http.Request) error {
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("siem sink returned status %d", resp.StatusCode)
	}
	return nil
}
