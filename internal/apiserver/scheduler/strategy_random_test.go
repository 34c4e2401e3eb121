package scheduler

import (
	"context"
	"testing"

	"pipelines-admin/internal/shared/model"
)

func TestRandomStrategy_SelectRunner(t *testing.T) {
	ctx := context.Background()
	strategy := NewRandomStrategy()

	runners := []*model.Runner{
		createTestRunner("runner-1", nil, 5),
		createTestRunner("runner-2", nil, 5),
	}

	req := &ScheduleRequest{
		CandidateRunners: runners,
		RunnerRunning:    map[string]int{},
	}

	// 多次调用应该返回有效节点
	for i := 0; i < 10; i++ {
		runner, _ := strategy.SelectRunner(ctx, req)
		if runner == nil {
			t.Errorf("call %d: expected non-nil runner", i)
		}
	}
}

func TestRandomStrategy_AllRunnersFull(t *testing.T) {
	ctx := context.Background()
	strategy := NewRandomStrategy()

	runners := []*model.Runner{
		createTestRunner("runner-1", nil, 5),
		createTestRunner("runner-2", nil, 5),
	}

	req := &ScheduleRequest{
		CandidateRunners: runners,
		RunnerRunning:    map[string]int{"runner-1": 5, "runner-2": 5},
	}

	// 所有节点已满时应返回 nil
	runner, _ := strategy.SelectRunner(ctx, req)
	if runner != nil {
		t.Errorf("expected nil when all runners full, got %s", runner.ID)
	}
}
