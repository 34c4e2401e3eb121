package runner

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"pipelines-admin/internal/shared/model"
)

// eventSink 记录事件上报批次的测试服务器
type eventSink struct {
	mu      sync.Mutex
	batches [][]map[string]interface{}
	server  *httptest.Server
}

func newEventSink(t *testing.T) *eventSink {
	t.Helper()
	s := &eventSink{}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/jobs/{id}/events", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Events []map[string]interface{} `json:"events"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		s.mu.Lock()
		s.batches = append(s.batches, body.Events)
		s.mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte(`{}`))
	})
	s.server = httptest.NewServer(mux)
	t.Cleanup(s.server.Close)
	return s
}

func (s *eventSink) allEvents() []map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []map[string]interface{}
	for _, b := range s.batches {
		out = append(out, b...)
	}
	return out
}

func (s *eventSink) batchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.batches)
}

func TestEventRecorder_CloseFlushesBuffer(t *testing.T) {
	sink := newEventSink(t)
	client := NewAPIClient(sink.server.URL, nil, "")

	rec := NewEventRecorder(context.Background(), client, "job-ev01")
	rec.Record(model.EventTypeJobStarted, map[string]interface{}{"runner_id": "rn-x"})
	rec.Record(model.EventTypeStepOutput, map[string]interface{}{"line": "hello"})
	rec.Close()

	events := sink.allEvents()
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}
	if events[0]["type"] != "job_started" || events[1]["type"] != "step_output" {
		t.Errorf("event types = %v %v", events[0]["type"], events[1]["type"])
	}
}

func TestEventRecorder_SeqMonotonic(t *testing.T) {
	sink := newEventSink(t)
	client := NewAPIClient(sink.server.URL, nil, "")

	rec := NewEventRecorder(context.Background(), client, "job-ev02")
	for i := 0; i < 10; i++ {
		rec.Record(model.EventTypeStepOutput, map[string]interface{}{"line": "x"})
	}
	rec.Close()

	events := sink.allEvents()
	if len(events) != 10 {
		t.Fatalf("events = %d, want 10", len(events))
	}
	for i, e := range events {
		seq, ok := e["seq"].(float64)
		if !ok || int(seq) != i+1 {
			t.Errorf("event %d seq = %v, want %d", i, e["seq"], i+1)
		}
	}
}

func TestEventRecorder_BatchTriggersFlush(t *testing.T) {
	sink := newEventSink(t)
	client := NewAPIClient(sink.server.URL, nil, "")

	rec := NewEventRecorder(context.Background(), client, "job-ev03")
	for i := 0; i < eventFlushBatch; i++ {
		rec.Record(model.EventTypeStepOutput, map[string]interface{}{"line": "x"})
	}

	// 缓冲到达批次阈值后不等定时器就发送
	deadline := time.Now().Add(eventFlushInterval / 2)
	for sink.batchCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if sink.batchCount() == 0 {
		t.Fatal("batch should be flushed before the interval ticker fires")
	}
	rec.Close()

	if got := len(sink.allEvents()); got != eventFlushBatch {
		t.Errorf("events = %d, want %d", got, eventFlushBatch)
	}
}

func TestEventRecorder_EmptyCloseNoRequest(t *testing.T) {
	sink := newEventSink(t)
	client := NewAPIClient(sink.server.URL, nil, "")

	rec := NewEventRecorder(context.Background(), client, "job-ev04")
	rec.Close()

	if sink.batchCount() != 0 {
		t.Errorf("no events recorded, no request expected, got %d batches", sink.batchCount())
	}
}
