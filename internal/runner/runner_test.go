package runner

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"pipelines-admin/internal/shared/model"
)

// registerJobEndpoint 在假控制面上补充 GET /api/v1/jobs/{id} 路由
//
// httptest 的 mux 在 newFakeControlPlane 中已固定，这里单独起一套。
func newControlPlaneWithJob(t *testing.T, job *model.JobRun) *fakeControlPlane {
	t.Helper()
	cp := &fakeControlPlane{uploads: make(map[string][]byte)}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/jobs/{id}", func(w http.ResponseWriter, r *http.Request) {
		if job == nil || r.PathValue("id") != job.ID {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error":"job not found"}`))
			return
		}
		json.NewEncoder(w).Encode(job)
	})
	mux.HandleFunc("PATCH /api/v1/jobs/{id}/status", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		json.NewDecoder(r.Body).Decode(&body)
		cp.mu.Lock()
		cp.statuses = append(cp.statuses, body)
		cp.mu.Unlock()
		w.Write([]byte(`{}`))
	})
	mux.HandleFunc("POST /api/v1/jobs/{id}/events", func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte(`{}`))
	})

	cp.server = httptest.NewServer(mux)
	t.Cleanup(cp.server.Close)
	return cp
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}

func TestDispatchJob_ExecutesAssignedJob(t *testing.T) {
	job := makeJob(t, model.JobSnapshot{
		Steps: []model.StepSnapshot{{Run: "true"}},
	})
	cp := newControlPlaneWithJob(t, job)
	r := newTestRunner(t, cp, &fakeRuntime{})

	r.dispatchJob(context.Background(), job.ID)

	if !waitFor(t, 3*time.Second, func() bool {
		return cp.lastStatus() != nil && cp.lastStatus()["status"] == "succeeded"
	}) {
		t.Fatalf("job should finish with succeeded, statuses = %v", cp.statusSequence())
	}

	if !waitFor(t, time.Second, func() bool { return r.ActiveJobs() == 0 }) {
		t.Errorf("ActiveJobs = %d, want 0 after completion", r.ActiveJobs())
	}
}

func TestDispatchJob_SkipsTerminalJob(t *testing.T) {
	job := makeJob(t, model.JobSnapshot{
		Steps: []model.StepSnapshot{{Run: "true"}},
	})
	job.Status = model.JobStatusSucceeded

	cp := newControlPlaneWithJob(t, job)
	r := newTestRunner(t, cp, &fakeRuntime{})

	r.dispatchJob(context.Background(), job.ID)

	time.Sleep(100 * time.Millisecond)
	if len(cp.statusSequence()) != 0 {
		t.Errorf("terminal job should not be executed, statuses = %v", cp.statusSequence())
	}
}

func TestDispatchJob_UnknownJob(t *testing.T) {
	cp := newControlPlaneWithJob(t, nil)
	r := newTestRunner(t, cp, &fakeRuntime{})

	r.dispatchJob(context.Background(), "job-missing")

	if r.ActiveJobs() != 0 {
		t.Errorf("ActiveJobs = %d, want 0 for unknown job", r.ActiveJobs())
	}
}

func TestCancelJob(t *testing.T) {
	job := makeJob(t, model.JobSnapshot{
		Steps: []model.StepSnapshot{{Run: "sleep 600"}},
	})

	execStarted := make(chan struct{})
	rt := &fakeRuntime{}
	rt.ExecFunc = func(cmd []string, output io.Writer) (int, error) {
		close(execStarted)
		// 等待执行上下文被取消
		time.Sleep(200 * time.Millisecond)
		return 0, context.Canceled
	}

	cp := newControlPlaneWithJob(t, job)
	r := newTestRunner(t, cp, rt)

	r.dispatchJob(context.Background(), job.ID)

	select {
	case <-execStarted:
	case <-time.After(3 * time.Second):
		t.Fatal("step execution should have started")
	}

	r.CancelJob(job.ID)

	if !waitFor(t, 3*time.Second, func() bool {
		return cp.lastStatus() != nil && cp.lastStatus()["status"] == "cancelled"
	}) {
		t.Fatalf("final status = %v, want cancelled", cp.lastStatus())
	}
}

func TestStartJob_DuplicateIgnored(t *testing.T) {
	job := makeJob(t, model.JobSnapshot{
		Steps: []model.StepSnapshot{{Run: "true"}},
	})

	block := make(chan struct{})
	rt := &fakeRuntime{}
	rt.ExecFunc = func(cmd []string, output io.Writer) (int, error) {
		<-block
		return 0, nil
	}

	cp := newControlPlaneWithJob(t, job)
	r := newTestRunner(t, cp, rt)

	r.dispatchJob(context.Background(), job.ID)
	if !waitFor(t, time.Second, func() bool { return r.ActiveJobs() == 1 }) {
		t.Fatal("first dispatch should be running")
	}

	// 重复投递被忽略
	r.dispatchJob(context.Background(), job.ID)
	if r.ActiveJobs() != 1 {
		t.Errorf("ActiveJobs = %d, want 1 after duplicate dispatch", r.ActiveJobs())
	}

	close(block)
	waitFor(t, 3*time.Second, func() bool { return r.ActiveJobs() == 0 })
}

func TestGetLocalIPs(t *testing.T) {
	for _, ip := range getLocalIPs() {
		if ip == "127.0.0.1" {
			t.Errorf("loopback address %s should be excluded", ip)
		}
	}
}
