package mongostore

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"pipelines-admin/internal/shared/model"
)

// CreateRun 创建工作流运行记录
func (s *Store) CreateRun(ctx context.Context, run *model.WorkflowRun) error {
	now := time.Now().UTC()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}
	run.UpdatedAt = now
	return wrapError("create run", insertOne(ctx, s.col(ColRuns), run))
}

// GetRun 按 ID 查询运行记录，不存在时返回 (nil, nil)
func (s *Store) GetRun(ctx context.Context, id string) (*model.WorkflowRun, error) {
	return findOne[model.WorkflowRun](ctx, s.col(ColRuns), bson.D{{Key: "_id", Value: id}})
}

// ListRuns 查询运行记录列表，workflowID/status 为空时不过滤
func (s *Store) ListRuns(ctx context.Context, workflowID, status string, limit, offset int) ([]*model.WorkflowRun, error) {
	filter := bson.D{}
	if workflowID != "" {
		filter = append(filter, bson.E{Key: "workflow_id", Value: workflowID})
	}
	if status != "" {
		filter = append(filter, bson.E{Key: "status", Value: status})
	}
	if limit <= 0 {
		limit = 50
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(int64(limit)).
		SetSkip(int64(offset))
	return findMany[model.WorkflowRun](ctx, s.col(ColRuns), filter, opts)
}

// ListActiveRuns 查询未终态的运行 (pending/running)
func (s *Store) ListActiveRuns(ctx context.Context, limit int) ([]*model.WorkflowRun, error) {
	if limit <= 0 {
		limit = 100
	}
	filter := bson.D{{Key: "status", Value: bson.D{{Key: "$in", Value: []model.RunStatus{
		model.RunStatusPending, model.RunStatusRunning,
	}}}}}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: 1}}).
		SetLimit(int64(limit))
	return findMany[model.WorkflowRun](ctx, s.col(ColRuns), filter, opts)
}

// UpdateRunStatus 更新运行状态并维护时间戳
//
// 进入 running 时设置 started_at (仅首次)，进入终态时设置 finished_at。
func (s *Store) UpdateRunStatus(ctx context.Context, id string, status model.RunStatus) error {
	now := time.Now().UTC()
	set := bson.D{
		{Key: "status", Value: status},
		{Key: "updated_at", Value: now},
	}

	update := bson.D{{Key: "$set", Value: set}}
	switch status {
	case model.RunStatusRunning:
		// started_at 只在第一次进入 running 时写入
		run, err := s.GetRun(ctx, id)
		if err != nil {
			return wrapError("update run status", err)
		}
		if run != nil && run.StartedAt == nil {
			set = append(set, bson.E{Key: "started_at", Value: now})
			update = bson.D{{Key: "$set", Value: set}}
		}
	case model.RunStatusSucceeded, model.RunStatusFailed, model.RunStatusCancelled:
		set = append(set, bson.E{Key: "finished_at", Value: now})
		update = bson.D{{Key: "$set", Value: set}}
	}

	return wrapError("update run status", applyUpdate(ctx, s.col(ColRuns), bson.D{{Key: "_id", Value: id}}, update))
}

// DeleteRun 删除运行记录
func (s *Store) DeleteRun(ctx context.Context, id string) error {
	return wrapError("delete run", deleteOne(ctx, s.col(ColRuns), bson.D{{Key: "_id", Value: id}}))
}
