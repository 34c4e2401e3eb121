package mongostore

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"pipelines-admin/internal/shared/model"
)

// UpsertRunner 更新或插入节点
func (s *Store) UpsertRunner(ctx context.Context, runner *model.Runner) error {
	now := time.Now().UTC()
	if runner.CreatedAt.IsZero() {
		runner.CreatedAt = now
	}
	runner.UpdatedAt = now

	update := bson.D{
		{Key: "$set", Value: bson.D{
			{Key: "display_name", Value: runner.DisplayName},
			{Key: "status", Value: runner.Status},
			{Key: "hostname", Value: runner.Hostname},
			{Key: "ips", Value: runner.IPs},
			{Key: "labels", Value: runner.Labels},
			{Key: "capacity", Value: runner.Capacity},
			{Key: "last_heartbeat", Value: runner.LastHeartbeat},
			{Key: "updated_at", Value: now},
		}},
		{Key: "$setOnInsert", Value: bson.D{
			{Key: "created_at", Value: runner.CreatedAt},
		}},
	}
	_, err := s.col(ColRunners).UpdateOne(ctx,
		bson.D{{Key: "_id", Value: runner.ID}},
		update, options.UpdateOne().SetUpsert(true))
	return wrapError("upsert runner", err)
}

// UpsertRunnerHeartbeat 心跳专用的 upsert（不覆盖管理员设置的 status）
//
// draining/terminated 由管理员设置，心跳只把 offline/unknown/starting 拉回 online。
// 分两步：先普通字段 upsert，再对可恢复状态做条件更新。
func (s *Store) UpsertRunnerHeartbeat(ctx context.Context, runner *model.Runner) error {
	now := time.Now().UTC()
	if runner.CreatedAt.IsZero() {
		runner.CreatedAt = now
	}

	update := bson.D{
		{Key: "$set", Value: bson.D{
			{Key: "hostname", Value: runner.Hostname},
			{Key: "ips", Value: runner.IPs},
			{Key: "labels", Value: runner.Labels},
			{Key: "capacity", Value: runner.Capacity},
			{Key: "last_heartbeat", Value: runner.LastHeartbeat},
			{Key: "updated_at", Value: now},
		}},
		{Key: "$setOnInsert", Value: bson.D{
			{Key: "display_name", Value: runner.DisplayName},
			{Key: "status", Value: runner.Status},
			{Key: "created_at", Value: runner.CreatedAt},
		}},
	}
	if _, err := s.col(ColRunners).UpdateOne(ctx,
		bson.D{{Key: "_id", Value: runner.ID}},
		update, options.UpdateOne().SetUpsert(true)); err != nil {
		return wrapError("upsert runner heartbeat", err)
	}

	filter := bson.D{
		{Key: "_id", Value: runner.ID},
		{Key: "status", Value: bson.D{{Key: "$in", Value: []model.RunnerStatus{
			model.RunnerStatusOffline, model.RunnerStatusUnknown, model.RunnerStatusStarting,
		}}}},
	}
	_, err := s.col(ColRunners).UpdateOne(ctx, filter,
		bson.D{{Key: "$set", Value: bson.D{{Key: "status", Value: runner.Status}}}})
	return wrapError("upsert runner heartbeat", err)
}

// GetRunner 获取节点，不存在时返回 (nil, nil)
func (s *Store) GetRunner(ctx context.Context, id string) (*model.Runner, error) {
	return findOne[model.Runner](ctx, s.col(ColRunners), bson.D{{Key: "_id", Value: id}})
}

// ListAllRunners 列出所有节点
func (s *Store) ListAllRunners(ctx context.Context) ([]*model.Runner, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	return findMany[model.Runner](ctx, s.col(ColRunners), bson.D{}, opts)
}

// ListOnlineRunners 列出在线节点
func (s *Store) ListOnlineRunners(ctx context.Context) ([]*model.Runner, error) {
	opts := options.Find().SetSort(bson.D{{Key: "last_heartbeat", Value: -1}})
	return findMany[model.Runner](ctx, s.col(ColRunners),
		bson.D{{Key: "status", Value: model.RunnerStatusOnline}}, opts)
}

// UpdateRunnerStatus 更新节点状态
func (s *Store) UpdateRunnerStatus(ctx context.Context, id string, status model.RunnerStatus) error {
	return wrapError("update runner status", updateFields(ctx, s.col(ColRunners),
		bson.D{{Key: "_id", Value: id}},
		bson.D{
			{Key: "status", Value: status},
			{Key: "updated_at", Value: time.Now().UTC()},
		}))
}

// MarkStaleRunnersOffline 把心跳超期的在线节点标记为 offline，返回受影响的节点 ID
func (s *Store) MarkStaleRunnersOffline(ctx context.Context, threshold time.Duration) ([]string, error) {
	cutoff := time.Now().Add(-threshold)
	filter := bson.D{
		{Key: "status", Value: model.RunnerStatusOnline},
		{Key: "$or", Value: bson.A{
			bson.D{{Key: "last_heartbeat", Value: nil}},
			bson.D{{Key: "last_heartbeat", Value: bson.D{{Key: "$lt", Value: cutoff}}}},
		}},
	}

	stale, err := findMany[model.Runner](ctx, s.col(ColRunners), filter)
	if err != nil {
		return nil, wrapError("mark stale runners offline", err)
	}

	ids := make([]string, 0, len(stale))
	for _, r := range stale {
		ids = append(ids, r.ID)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	_, err = s.col(ColRunners).UpdateMany(ctx,
		bson.D{{Key: "_id", Value: bson.D{{Key: "$in", Value: ids}}}},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "status", Value: model.RunnerStatusOffline},
			{Key: "updated_at", Value: time.Now().UTC()},
		}}})
	if err != nil {
		return ids, wrapError("mark stale runners offline", err)
	}
	return ids, nil
}

// DeleteRunner 删除节点
func (s *Store) DeleteRunner(ctx context.Context, id string) error {
	err := deleteOne(ctx, s.col(ColRunners), bson.D{{Key: "_id", Value: id}})
	return wrapError("delete runner", err)
}
