package siem

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sark/gateway/internal/storage"
	"github.com/sark/gateway/pkg/gateway"
)

// recordingSink counts Send calls and can be told to fail.
type recordingSink struct {
	name  string
	calls int32
	fail  atomic.Bool
}

func newRecordingSink(name string) *recordingSink { return &recordingSink{name: name} }

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Send(ctx context.Context, batch []enqueued) error {
	atomic.AddInt32(&s.calls, 1)
	if s.fail.Load() {
		return errors.New("send failed")
	}
	return nil
}

func decodeGzipJSON(t *testing.T, r *http.Request, v interface{}) {
	t.Helper()
	gz, err := gzip.NewReader(r.Body)
	require.NoError(t, err)
	defer gz.Close()
	data, err := io.ReadAll(gz)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, v))
}

func TestForwarder_DropsOldestAtCapacity(t *testing.T) {
	f := New(nil, WithCapacity(2))
	f.Enqueue(gateway.AuditEvent{ID: "1"}, "a1")
	f.Enqueue(gateway.AuditEvent{ID: "2"}, "a2")
	f.Enqueue(gateway.AuditEvent{ID: "3"}, "a3")

	require.Len(t, f.queue, 2)
	require.Equal(t, "2", f.queue[0].event.ID, "the oldest event must be dropped, not the newest")
	require.Equal(t, "3", f.queue[1].event.ID)
}

func TestForwarder_FlushSendsBatchToEverySink(t *testing.T) {
	sinkA := newRecordingSink("a")
	sinkB := newRecordingSink("b")
	f := New([]Sink{sinkA, sinkB}, WithBatch(10, time.Hour))

	f.Enqueue(gateway.AuditEvent{ID: "1"}, "audit-1")
	f.Flush(context.Background())

	require.EqualValues(t, 1, atomic.LoadInt32(&sinkA.calls))
	require.EqualValues(t, 1, atomic.LoadInt32(&sinkB.calls))
	require.Empty(t, f.queue)
}

func TestForwarder_FailedSendSpillsToOutbox(t *testing.T) {
	dir := t.TempDir()
	outbox := storage.NewOutbox(dir + "/siem-outbox.jsonl")
	defer outbox.Close()

	sink := newRecordingSink("broken")
	sink.fail.Store(true)

	f := New([]Sink{sink}, WithOutbox(outbox), WithBatch(10, time.Hour))
	f.retryAttempts = 1

	f.Enqueue(gateway.AuditEvent{ID: "1"}, "audit-1")
	f.Flush(context.Background())

	require.GreaterOrEqual(t, atomic.LoadInt32(&sink.calls), int32(1))
}

func TestSplunkSink_SendsGzippedEnvelopeWithAuthHeader(t *testing.T) {
	var gotAuth, gotEncoding string
	var envelopes []splunkEnvelope

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotEncoding = r.Header.Get("Content-Encoding")
		decodeGzipJSON(t, r, &envelopes)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sink := NewSplunkSink(srv.URL, "hec-token")
	err := sink.Send(context.Background(), []enqueued{{event: gateway.AuditEvent{ID: "evt-1"}, auditID: "audit-1"}})
	require.NoError(t, err)
	require.Equal(t, "Splunk hec-token", gotAuth)
	require.Equal(t, "gzip", gotEncoding)
	require.Len(t, envelopes, 1)
	require.Equal(t, "sark:gateway", envelopes[0].SourceType)
	require.Equal(t, "audit-1", envelopes[0].Fields["audit_id"])
}

func TestDatadogSink_SendsAPIKeyHeader(t *testing.T) {
	var gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("DD-API-KEY")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sink := NewDatadogSink(srv.URL, "dd-key")
	err := sink.Send(context.Background(), []enqueued{{event: gateway.AuditEvent{ID: "evt-1"}, auditID: "audit-1"}})
	require.NoError(t, err)
	require.Equal(t, "dd-key", gotKey)
}

func TestSlackSink_PostsOnlyHighAndCriticalSeverity(t *testing.T) {
	var posts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&posts, 1)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	sink := NewSlackSink(srv.URL)
	err := sink.Send(context.Background(), []enqueued{
		{event: gateway.AuditEvent{ID: "evt-low", Severity: gateway.SeverityLow}, auditID: "audit-1"},
		{event: gateway.AuditEvent{ID: "evt-medium", Severity: gateway.SeverityMedium}, auditID: "audit-2"},
		{event: gateway.AuditEvent{ID: "evt-high", Severity: gateway.SeverityHigh}, auditID: "audit-3"},
		{event: gateway.AuditEvent{ID: "evt-critical", Severity: gateway.SeverityCritical}, auditID: "audit-4"},
	})
	require.NoError(t, err)
	require.EqualValues(t, 2, atomic.LoadInt32(&posts), "only the high and critical events should reach the webhook")
}

func TestSink_NonSuccessStatusIsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	sink := NewSplunkSink(srv.URL, "tok")
	err := sink.Send(context.Background(), []enqueued{{event: gateway.AuditEvent{ID: "evt-1"}}})
	require.Error(t, err)
}
