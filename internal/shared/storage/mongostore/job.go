package mongostore

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"pipelines-admin/internal/shared/model"
)

// CreateJobs 批量创建作业记录（同一 Run 的矩阵展开结果一次写入）
func (s *Store) CreateJobs(ctx context.Context, jobs []*model.JobRun) error {
	if len(jobs) == 0 {
		return nil
	}
	now := time.Now().UTC()
	docs := make([]any, 0, len(jobs))
	for _, j := range jobs {
		if j.CreatedAt.IsZero() {
			j.CreatedAt = now
		}
		j.UpdatedAt = now
		docs = append(docs, j)
	}
	_, err := s.col(ColJobs).InsertMany(ctx, docs)
	return wrapError("create jobs", err)
}

// GetJob 按 ID 查询作业，不存在时返回 (nil, nil)
func (s *Store) GetJob(ctx context.Context, id string) (*model.JobRun, error) {
	return findOne[model.JobRun](ctx, s.col(ColJobs), bson.D{{Key: "_id", Value: id}})
}

// ListJobsByRun 查询指定运行下的全部作业
func (s *Store) ListJobsByRun(ctx context.Context, runID string) ([]*model.JobRun, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	return findMany[model.JobRun](ctx, s.col(ColJobs), bson.D{{Key: "run_id", Value: runID}}, opts)
}

// ListJobsByRunner 查询分配给指定节点的作业，statuses 为空时默认 assigned/running
func (s *Store) ListJobsByRunner(ctx context.Context, runnerID string, statuses []model.JobStatus) ([]*model.JobRun, error) {
	if len(statuses) == 0 {
		statuses = []model.JobStatus{model.JobStatusAssigned, model.JobStatusRunning}
	}
	filter := bson.D{
		{Key: "runner_id", Value: runnerID},
		{Key: "status", Value: bson.D{{Key: "$in", Value: statuses}}},
	}
	return findMany[model.JobRun](ctx, s.col(ColJobs), filter)
}

// ListQueuedJobs 查询排队中的作业，按创建时间排序
func (s *Store) ListQueuedJobs(ctx context.Context, limit int) ([]*model.JobRun, error) {
	if limit <= 0 {
		limit = 100
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: 1}}).
		SetLimit(int64(limit))
	return findMany[model.JobRun](ctx, s.col(ColJobs), bson.D{{Key: "status", Value: model.JobStatusQueued}}, opts)
}

// ListStaleQueuedJobs 查询排队超时的作业
// 调度器主路径丢失的消息通过 DB 兜底轮询重新捡起
func (s *Store) ListStaleQueuedJobs(ctx context.Context, threshold time.Duration) ([]*model.JobRun, error) {
	cutoff := time.Now().Add(-threshold)
	filter := bson.D{
		{Key: "status", Value: model.JobStatusQueued},
		{Key: "updated_at", Value: bson.D{{Key: "$lt", Value: cutoff}}},
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: 1}}).
		SetLimit(100)
	return findMany[model.JobRun](ctx, s.col(ColJobs), filter, opts)
}

// CountActiveJobsByRunner 统计节点上的活跃作业数（容量计算）
func (s *Store) CountActiveJobsByRunner(ctx context.Context, runnerID string) (int, error) {
	filter := bson.D{
		{Key: "runner_id", Value: runnerID},
		{Key: "status", Value: bson.D{{Key: "$in", Value: []model.JobStatus{
			model.JobStatusAssigned, model.JobStatusRunning,
		}}}},
	}
	n, err := s.col(ColJobs).CountDocuments(ctx, filter)
	if err != nil {
		return 0, wrapError("count active jobs", err)
	}
	return int(n), nil
}

// UpdateJobStatus 更新作业状态，维护时间戳与节点分配
func (s *Store) UpdateJobStatus(ctx context.Context, id string, status model.JobStatus, runnerID *string) error {
	now := time.Now().UTC()
	set := bson.D{
		{Key: "status", Value: status},
		{Key: "updated_at", Value: now},
	}

	update := bson.D{{Key: "$set", Value: set}}
	switch status {
	case model.JobStatusAssigned:
		set = append(set, bson.E{Key: "runner_id", Value: runnerID})
		update = bson.D{{Key: "$set", Value: set}}
	case model.JobStatusRunning:
		// started_at 只在第一次进入 running 时写入
		job, err := s.GetJob(ctx, id)
		if err != nil {
			return wrapError("update job status", err)
		}
		if job != nil && job.StartedAt == nil {
			set = append(set, bson.E{Key: "started_at", Value: now})
		}
		update = bson.D{{Key: "$set", Value: set}}
	case model.JobStatusSucceeded, model.JobStatusFailed, model.JobStatusSkipped,
		model.JobStatusCancelled, model.JobStatusTimeout:
		set = append(set, bson.E{Key: "finished_at", Value: now})
		update = bson.D{{Key: "$set", Value: set}}
	}

	_, err := s.col(ColJobs).UpdateOne(ctx, bson.D{{Key: "_id", Value: id}}, update)
	return wrapError("update job status", err)
}

// UpdateJobResult 写入终态与执行结果
func (s *Store) UpdateJobResult(ctx context.Context, id string, status model.JobStatus, exitCode *int, errMsg *string) error {
	now := time.Now().UTC()
	set := bson.D{
		{Key: "status", Value: status},
		{Key: "exit_code", Value: exitCode},
		{Key: "error", Value: errMsg},
		{Key: "finished_at", Value: now},
		{Key: "updated_at", Value: now},
	}
	_, err := s.col(ColJobs).UpdateOne(ctx, bson.D{{Key: "_id", Value: id}}, bson.D{{Key: "$set", Value: set}})
	return wrapError("update job result", err)
}

// ResetJobToQueued 将已分配的作业重置为 queued（节点离线重排）
// 终态作业不受影响
func (s *Store) ResetJobToQueued(ctx context.Context, id string) error {
	filter := bson.D{
		{Key: "_id", Value: id},
		{Key: "status", Value: bson.D{{Key: "$in", Value: []model.JobStatus{
			model.JobStatusAssigned, model.JobStatusRunning,
		}}}},
	}
	update := bson.D{
		{Key: "$set", Value: bson.D{
			{Key: "status", Value: model.JobStatusQueued},
			{Key: "runner_id", Value: nil},
			{Key: "started_at", Value: nil},
			{Key: "error", Value: nil},
			{Key: "updated_at", Value: time.Now().UTC()},
		}},
	}
	_, err := s.col(ColJobs).UpdateOne(ctx, filter, update)
	return wrapError("reset job to queued", err)
}
