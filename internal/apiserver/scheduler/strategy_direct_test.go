package scheduler

import (
	"context"
	"testing"

	"pipelines-admin/internal/shared/model"
)

func TestDirectStrategy_SelectRunner(t *testing.T) {
	ctx := context.Background()
	strategy := NewDirectStrategy()

	tests := []struct {
		name          string
		snapshot      *model.JobSnapshot
		runners       []*model.Runner
		runnerRunning map[string]int
		wantRunner    string
		wantReason    string
	}{
		{
			name:     "选择直接指定的节点",
			snapshot: &model.JobSnapshot{RunnerID: "runner-1"},
			runners: []*model.Runner{
				createTestRunner("runner-1", nil, 5),
				createTestRunner("runner-2", nil, 5),
			},
			runnerRunning: map[string]int{},
			wantRunner:    "runner-1",
			wantReason:    "direct",
		},
		{
			name:     "指定节点无容量",
			snapshot: &model.JobSnapshot{RunnerID: "runner-1"},
			runners: []*model.Runner{
				createTestRunner("runner-1", nil, 2),
				createTestRunner("runner-2", nil, 5),
			},
			runnerRunning: map[string]int{"runner-1": 2},
			wantRunner:    "",
			wantReason:    "direct_no_capacity",
		},
		{
			name:     "指定节点不存在",
			snapshot: &model.JobSnapshot{RunnerID: "runner-3"},
			runners: []*model.Runner{
				createTestRunner("runner-1", nil, 5),
				createTestRunner("runner-2", nil, 5),
			},
			runnerRunning: map[string]int{},
			wantRunner:    "",
			wantReason:    "direct_runner_unavailable",
		},
		{
			name:          "未指定节点",
			snapshot:      &model.JobSnapshot{},
			runners:       []*model.Runner{createTestRunner("runner-1", nil, 5)},
			runnerRunning: map[string]int{},
			wantRunner:    "",
			wantReason:    "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job, snapshot := createTestJob("job-1", tt.snapshot)

			req := &ScheduleRequest{
				Job:              job,
				Snapshot:         snapshot,
				CandidateRunners: tt.runners,
				RunnerRunning:    tt.runnerRunning,
			}

			runner, reason := strategy.SelectRunner(ctx, req)

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

			if reason != tt.wantReason {
				t.Errorf("expected reason %q, got %q", tt.wantReason, reason)
			}
		})
	}
}
