package mongostore

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"pipelines-admin/internal/shared/model"
)

// CreateArtifact 创建产物元数据
//
// (run_id, name) 唯一索引保证同一 Run 内产物名不重复，冲突时返回 ErrDuplicate。
// MongoDB 没有自增主键，_id 使用纳秒时间戳。
func (s *Store) CreateArtifact(ctx context.Context, artifact *model.Artifact) error {
	if artifact.ID == 0 {
		artifact.ID = time.Now().UnixNano()
	}
	if artifact.CreatedAt.IsZero() {
		artifact.CreatedAt = time.Now().UTC()
	}
	return wrapError("create artifact", insertOne(ctx, s.col(ColArtifacts), artifact))
}

// GetArtifact 按 (runID, name) 查询产物，不存在时返回 (nil, nil)
func (s *Store) GetArtifact(ctx context.Context, runID, name string) (*model.Artifact, error) {
	return findOne[model.Artifact](ctx, s.col(ColArtifacts), bson.D{
		{Key: "run_id", Value: runID},
		{Key: "name", Value: name},
	})
}

// ListArtifactsByRun 查询指定 Run 的全部产物
func (s *Store) ListArtifactsByRun(ctx context.Context, runID string) ([]*model.Artifact, error) {
	opts := options.Find().SetSort(bson.D{{Key: "name", Value: 1}})
	return findMany[model.Artifact](ctx, s.col(ColArtifacts), bson.D{{Key: "run_id", Value: runID}}, opts)
}

// ListExpiredArtifacts 查询已过保留窗口的产物，供清理循环删除
func (s *Store) ListExpiredArtifacts(ctx context.Context, now time.Time, limit int) ([]*model.Artifact, error) {
	if limit <= 0 {
		limit = 500
	}
	filter := bson.D{{Key: "expires_at", Value: bson.D{{Key: "$lt", Value: now}}}}
	opts := options.Find().
		SetSort(bson.D{{Key: "expires_at", Value: 1}}).
		SetLimit(int64(limit))
	return findMany[model.Artifact](ctx, s.col(ColArtifacts), filter, opts)
}

// DeleteArtifact 按 (runID, name) 删除产物元数据
func (s *Store) DeleteArtifact(ctx context.Context, runID, name string) error {
	err := deleteOne(ctx, s.col(ColArtifacts), bson.D{
		{Key: "run_id", Value: runID},
		{Key: "name", Value: name},
	})
	return wrapError("delete artifact", err)
}
