package mongostore

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"pipelines-admin/internal/shared/model"
	"pipelines-admin/internal/shared/storage"
)

// CreateWorkflow 创建工作流定义
func (s *Store) CreateWorkflow(ctx context.Context, wf *model.Workflow) error {
	now := time.Now().UTC()
	if wf.CreatedAt.IsZero() {
		wf.CreatedAt = now
	}
	wf.UpdatedAt = now
	return wrapError("create workflow", insertOne(ctx, s.col(ColWorkflows), wf))
}

// GetWorkflow 按 ID 查询工作流，不存在时返回 (nil, nil)
func (s *Store) GetWorkflow(ctx context.Context, id string) (*model.Workflow, error) {
	return findOne[model.Workflow](ctx, s.col(ColWorkflows), bson.D{{Key: "_id", Value: id}})
}

// GetWorkflowByName 按名称查询工作流，不存在时返回 (nil, nil)
func (s *Store) GetWorkflowByName(ctx context.Context, name string) (*model.Workflow, error) {
	return findOne[model.Workflow](ctx, s.col(ColWorkflows), bson.D{{Key: "name", Value: name}})
}

// ListWorkflows 查询工作流列表，status 为空时返回全部
func (s *Store) ListWorkflows(ctx context.Context, status string) ([]*model.Workflow, error) {
	filter := bson.D{}
	if status != "" {
		filter = append(filter, bson.E{Key: "status", Value: status})
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	return findMany[model.Workflow](ctx, s.col(ColWorkflows), filter, opts)
}

// UpdateWorkflow 更新工作流定义并递增 revision
func (s *Store) UpdateWorkflow(ctx context.Context, wf *model.Workflow) error {
	res, err := s.col(ColWorkflows).UpdateOne(ctx,
		bson.D{{Key: "_id", Value: wf.ID}},
		bson.D{
			{Key: "$set", Value: bson.D{
				{Key: "name", Value: wf.Name},
				{Key: "status", Value: wf.Status},
				{Key: "source", Value: wf.Source},
				{Key: "updated_at", Value: time.Now().UTC()},
			}},
			{Key: "$inc", Value: bson.D{{Key: "revision", Value: 1}}},
		})
	if err != nil {
		return wrapError("update workflow", err)
	}
	if res.MatchedCount == 0 {
		return wrapError("update workflow", storage.ErrNotFound)
	}
	return nil
}

// UpdateWorkflowStatus 更新工作流状态
func (s *Store) UpdateWorkflowStatus(ctx context.Context, id string, status model.WorkflowStatus) error {
	return wrapError("update workflow status", updateFields(ctx, s.col(ColWorkflows),
		bson.D{{Key: "_id", Value: id}},
		bson.D{
			{Key: "status", Value: status},
			{Key: "updated_at", Value: time.Now().UTC()},
		}))
}

// DeleteWorkflow 删除工作流
func (s *Store) DeleteWorkflow(ctx context.Context, id string) error {
	return wrapError("delete workflow", deleteOne(ctx, s.col(ColWorkflows), bson.D{{Key: "_id", Value: id}}))
}
