package scheduler

import (
	"context"
	"testing"

	"pipelines-admin/internal/shared/model"
)

func TestRoundRobinStrategy_SelectRunner(t *testing.T) {
	ctx := context.Background()
	strategy := NewRoundRobinStrategy()

	runners := []*model.Runner{
		createTestRunner("runner-1", nil, 5),
		createTestRunner("runner-2", nil, 5),
		createTestRunner("runner-3", nil, 5),
	}

	req := &ScheduleRequest{
		CandidateRunners: runners,
		RunnerRunning:    map[string]int{},
	}

	// 连续调用应该轮询
	expected := []string{"runner-1", "runner-2", "runner-3", "runner-1", "runner-2"}
	for i, want := range expected {
		runner, _ := strategy.SelectRunner(ctx, req)
		if runner == nil {
			t.Fatalf("call %d: expected runner %s, got nil", i, want)
		}
		if runner.ID != want {
			t.Errorf("call %d: expected runner %s, got %s", i, want, runner.ID)
		}
	}
}

func TestRoundRobinStrategy_SkipsFullRunner(t *testing.T) {
	ctx := context.Background()
	strategy := NewRoundRobinStrategy()

	runners := []*model.Runner{
		createTestRunner("runner-1", nil, 2),
		createTestRunner("runner-2", nil, 5),
	}

	req := &ScheduleRequest{
		CandidateRunners: runners,
		RunnerRunning:    map[string]int{"runner-1": 2},
	}

	runner, _ := strategy.SelectRunner(ctx, req)
	if runner == nil || runner.ID != "runner-2" {
		t.Errorf("expected runner-2 (runner-1 is full), got %v", runner)
	}
}

func TestRoundRobinStrategy_Reset(t *testing.T) {
	strategy := NewRoundRobinStrategy()
	ctx := context.Background()

	runners := []*model.Runner{
		createTestRunner("runner-1", nil, 5),
		createTestRunner("runner-2", nil, 5),
	}

	req := &ScheduleRequest{
		CandidateRunners: runners,
		RunnerRunning:    map[string]int{},
	}

	// 先调用一次
	strategy.SelectRunner(ctx, req)

	// 重置后应该从头开始
	strategy.Reset()

	runner, _ := strategy.SelectRunner(ctx, req)
	if runner == nil || runner.ID != "runner-1" {
		t.Errorf("after reset, expected runner-1, got %v", runner)
	}
}
