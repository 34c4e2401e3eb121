package scheduler

import (
	"context"
	"testing"

	"pipelines-admin/internal/shared/model"
)

func TestLabelMatchStrategy_SelectRunner(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name          string
		loadBalance   bool
		runsOn        map[string]string
		runners       []*model.Runner
		runnerRunning map[string]int
		wantRunner    string
	}{
		{
			name:        "无标签要求_选择第一个有容量的节点",
			loadBalance: false,
			runsOn:      nil,
			runners: []*model.Runner{
				createTestRunner("runner-1", map[string]string{"os": "linux"}, 5),
				createTestRunner("runner-2", map[string]string{"os": "windows"}, 5),
			},
			runnerRunning: map[string]int{},
			wantRunner:    "runner-1",
		},
		{
			name:        "标签匹配_单节点",
			loadBalance: false,
			runsOn:      map[string]string{"os": "linux"},
			runners: []*model.Runner{
				createTestRunner("runner-1", map[string]string{"os": "linux"}, 5),
				createTestRunner("runner-2", map[string]string{"os": "windows"}, 5),
			},
			runnerRunning: map[string]int{},
			wantRunner:    "runner-1",
		},
		{
			name:        "标签匹配_多标签",
			loadBalance: false,
			runsOn:      map[string]string{"os": "linux", "arch": "arm64"},
			runners: []*model.Runner{
				createTestRunner("runner-1", map[string]string{"os": "linux"}, 5),
				createTestRunner("runner-2", map[string]string{"os": "linux", "arch": "arm64"}, 5),
			},
			runnerRunning: map[string]int{},
			wantRunner:    "runner-2",
		},
		{
			name:        "标签不匹配",
			loadBalance: false,
			runsOn:      map[string]string{"os": "linux"},
			runners: []*model.Runner{
				createTestRunner("runner-1", map[string]string{"os": "windows"}, 5),
				createTestRunner("runner-2", map[string]string{"os": "darwin"}, 5),
			},
			runnerRunning: map[string]int{},
			wantRunner:    "",
		},
		{
			name:        "无容量节点不参与匹配",
			loadBalance: false,
			runsOn:      map[string]string{"os": "linux"},
			runners: []*model.Runner{
				createTestRunner("runner-1", map[string]string{"os": "linux"}, 2),
			},
			runnerRunning: map[string]int{"runner-1": 2},
			wantRunner:    "",
		},
		{
			name:        "启用负载均衡_选择容量最大",
			loadBalance: true,
			runsOn:      map[string]string{"os": "linux"},
			runners: []*model.Runner{
				createTestRunner("runner-1", map[string]string{"os": "linux"}, 5),
				createTestRunner("runner-2", map[string]string{"os": "linux"}, 10),
			},
			runnerRunning: map[string]int{"runner-1": 2, "runner-2": 2},
			wantRunner:    "runner-2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			strategy := NewLabelMatchStrategy(tt.loadBalance)
			job, snapshot := createTestJob("job-1", &model.JobSnapshot{RunsOn: tt.runsOn})
			req := &ScheduleRequest{
				Job:              job,
				Snapshot:         snapshot,
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
