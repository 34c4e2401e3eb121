package scheduler

import (
	"context"
	"testing"

	"pipelines-admin/internal/shared/model"
)

func TestLoadBalanceStrategy_SelectRunner(t *testing.T) {
	ctx := context.Background()
	strategy := NewLoadBalanceStrategy()

	tests := []struct {
		name          string
		runners       []*model.Runner
		runnerRunning map[string]int
		wantRunner    string
	}{
		{
			name: "选择可用容量最大的节点",
			runners: []*model.Runner{
				createTestRunner("runner-1", nil, 5),
				createTestRunner("runner-2", nil, 10),
				createTestRunner("runner-3", nil, 8),
			},
			runnerRunning: map[string]int{"runner-1": 2, "runner-2": 2, "runner-3": 2},
			wantRunner:    "runner-2",
		},
		{
			name: "所有节点已满",
			runners: []*model.Runner{
				createTestRunner("runner-1", nil, 2),
				createTestRunner("runner-2", nil, 3),
			},
			runnerRunning: map[string]int{"runner-1": 2, "runner-2": 3},
			wantRunner:    "",
		},
		{
			name:          "空节点列表",
			runners:       []*model.Runner{},
			runnerRunning: map[string]int{},
			wantRunner:    "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := &ScheduleRequest{
				CandidateRunners: tt.runners,
				RunnerRunning:    tt.runnerRunning,
			}

			runner, _ := strategy.SelectRunner(ctx, req)

			if tt.wantRunner == "" {
				if runner != nil {
					t.Errorf("expected nil runner, got %s", runner.ID)
				}
			} else {
				if runner == nil {
					t.Errorf("expected runner %s, got nil", tt.wantRunner)
				} else if runner.ID != tt.wantRunner {
					t.Errorf("expected runner %s, got %s", tt.wantRunner, runner.ID)
				}
			}
		})
	}
}
