package scheduler

import (
	"encoding/json"

	"pipelines-admin/internal/shared/model"
)

// createTestRunner 创建测试节点
func createTestRunner(id string, labels map[string]string, maxConcurrent int) *model.Runner {
	labelsJSON, _ := json.Marshal(labels)
	capacityJSON, _ := json.Marshal(map[string]interface{}{"max_concurrent": maxConcurrent})
	return &model.Runner{
		ID:       id,
		Status:   model.RunnerStatusOnline,
		Labels:   labelsJSON,
		Capacity: capacityJSON,
	}
}

// createTestJob 创建测试作业（快照内容通过参数控制）
func createTestJob(id string, snapshot *model.JobSnapshot) (*model.JobRun, *model.JobSnapshot) {
	job := &model.JobRun{
		ID:     id,
		RunID:  "run-1",
		Name:   "build",
		Status: model.JobStatusQueued,
	}
	if snapshot != nil {
		raw, _ := json.Marshal(snapshot)
		job.Snapshot = raw
	}
	return job, snapshot
}
