package mongostore

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"pipelines-admin/internal/shared/model"
)

// CreateEvents 批量归档作业事件
//
// MongoDB 没有自增主键，_id 使用纳秒时间戳加批内偏移。
func (s *Store) CreateEvents(ctx context.Context, events []*model.Event) error {
	if len(events) == 0 {
		return nil
	}
	base := time.Now().UnixNano()
	docs := make([]any, 0, len(events))
	for i, e := range events {
		if e.ID == 0 {
			e.ID = base + int64(i)
		}
		if e.Timestamp.IsZero() {
			e.Timestamp = time.Now().UTC()
		}
		docs = append(docs, e)
	}
	_, err := s.col(ColEvents).InsertMany(ctx, docs)
	return wrapError("create events", err)
}

// CountEventsByJob 统计作业的事件数
func (s *Store) CountEventsByJob(ctx context.Context, jobID string) (int, error) {
	n, err := s.col(ColEvents).CountDocuments(ctx, bson.D{{Key: "job_id", Value: jobID}})
	if err != nil {
		return 0, wrapError("count events", err)
	}
	return int(n), nil
}

// GetEventsByJob 按序号回放作业事件 (seq > fromSeq)
func (s *Store) GetEventsByJob(ctx context.Context, jobID string, fromSeq int, limit int) ([]*model.Event, error) {
	if limit <= 0 {
		limit = 1000
	}
	filter := bson.D{
		{Key: "job_id", Value: jobID},
		{Key: "seq", Value: bson.D{{Key: "$gt", Value: fromSeq}}},
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "seq", Value: 1}}).
		SetLimit(int64(limit))
	return findMany[model.Event](ctx, s.col(ColEvents), filter, opts)
}
