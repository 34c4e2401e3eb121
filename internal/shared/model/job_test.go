// Package model 定义核心数据模型的测试
package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestJobRun_StatusHelpers 验证作业状态判断方法
func TestJobRun_StatusHelpers(t *testing.T) {
	tests := []struct {
		status      JobStatus
		terminal    bool
		success     bool
		failureLike bool
	}{
		{JobStatusBlocked, false, false, false},
		{JobStatusQueued, false, false, false},
		{JobStatusAssigned, false, false, false},
		{JobStatusRunning, false, false, false},
		{JobStatusSucceeded, true, true, false},
		{JobStatusFailed, true, false, true},
		{JobStatusSkipped, true, false, true},
		{JobStatusCancelled, true, false, true},
		{JobStatusTimeout, true, false, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			j := &JobRun{Status: tt.status}
			assert.Equal(t, tt.terminal, j.IsTerminal())
			assert.Equal(t, tt.success, j.IsSuccess())
			assert.Equal(t, tt.failureLike, j.IsFailure())
		})
	}
}

// TestJobRun_DecodeSnapshot 验证作业快照的序列化往返
func TestJobRun_DecodeSnapshot(t *testing.T) {
	snap := JobSnapshot{
		Image:          "python:3.12-slim",
		Env:            map[string]string{"PYTHONHASHSEED": "0"},
		TimeoutMinutes: 45,
		RunsOn:         map[string]string{"os": "linux"},
		Steps: []StepSnapshot{
			{Name: "install", Run: "pip install -e ."},
			{Name: "pytest", Run: "pytest --durations=25", Env: map[string]string{"CI": "true"}},
		},
		Upload: []ArtifactDeclSnapshot{
			{Name: "coverage-3.12", Path: "coverage.xml", RetentionDays: 7, When: "always"},
		},
	}

	raw, err := json.Marshal(&snap)
	require.NoError(t, err)

	job := &JobRun{
		ID:       "job-001",
		RunID:    "run-001",
		Name:     "tests",
		Status:   JobStatusQueued,
		Snapshot: raw,
	}

	decoded, err := job.DecodeSnapshot()
	require.NoError(t, err)
	assert.Equal(t, "python:3.12-slim", decoded.Image)
	assert.Len(t, decoded.Steps, 2)
	assert.Equal(t, "pytest", decoded.Steps[1].Name)
	assert.Equal(t, 45, decoded.TimeoutMinutes)
	require.Len(t, decoded.Upload, 1)
	assert.Equal(t, "always", decoded.Upload[0].When)
}

// TestWorkflowRun_Lifecycle 验证 Run 状态辅助方法
func TestWorkflowRun_Lifecycle(t *testing.T) {
	r := &WorkflowRun{Status: RunStatusPending}
	assert.False(t, r.IsTerminal())
	assert.True(t, r.CanCancel())
	assert.False(t, r.CanRerun())

	r.Status = RunStatusRunning
	assert.True(t, r.CanCancel())

	r.Status = RunStatusFailed
	assert.True(t, r.IsTerminal())
	assert.False(t, r.CanCancel())
	assert.True(t, r.CanRerun())

	r.Status = RunStatusSucceeded
	assert.True(t, r.IsTerminal())
	assert.False(t, r.CanRerun())
}

// TestRunner_Capacity 验证节点容量解析的默认值行为
func TestRunner_Capacity(t *testing.T) {
	tests := []struct {
		name     string
		capacity string
		want     int
	}{
		{"未配置", "", 1},
		{"正常配置", `{"max_concurrent": 4}`, 4},
		{"零值回退", `{"max_concurrent": 0}`, 1},
		{"非法 JSON 回退", `{max_concurrent}`, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &Runner{ID: "runner-1", Status: RunnerStatusOnline}
			if tt.capacity != "" {
				r.Capacity = json.RawMessage(tt.capacity)
			}
			assert.Equal(t, tt.want, r.MaxConcurrent())
		})
	}
}

// TestRunner_DecodeLabels 验证标签解析
func TestRunner_DecodeLabels(t *testing.T) {
	r := &Runner{Labels: json.RawMessage(`{"os":"linux","arch":"amd64"}`)}
	labels := r.DecodeLabels()
	require.NotNil(t, labels)
	assert.Equal(t, "linux", labels["os"])

	empty := &Runner{}
	assert.Nil(t, empty.DecodeLabels())
}

// TestArtifact_Expiry 验证产物保留窗口判断
func TestArtifact_Expiry(t *testing.T) {
	now := time.Now()
	a := &Artifact{
		RunID:     "run-001",
		Name:      "sdist",
		ExpiresAt: now.Add(24 * time.Hour),
	}
	assert.False(t, a.IsExpired(now))
	assert.True(t, a.IsExpired(now.Add(25*time.Hour)))
}

// TestObjectKey 验证产物对象 Key 布局
func TestObjectKey(t *testing.T) {
	assert.Equal(t, "runs/run-9/artifacts/sdist", ObjectKey("run-9", "sdist"))
}
