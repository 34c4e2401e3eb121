// Package repository Event 相关的存储操作
package repository

import (
	"context"

	"pipelines-admin/internal/shared/model"
)

// CreateEvents 批量创建事件
func (s *Store) CreateEvents(ctx context.Context, events []*model.Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		s.rebind(`INSERT INTO events (job_id, seq, type, timestamp, payload) VALUES ($1, $2, $3, $4, $5)`))
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range events {
		_, err := stmt.ExecContext(ctx, e.JobID, e.Seq, e.Type, e.Timestamp, e.Payload)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// CountEventsByJob 统计作业的事件数量
func (s *Store) CountEventsByJob(ctx context.Context, jobID string) (int, error) {
	query := s.rebind(`SELECT COUNT(1) FROM events WHERE job_id = $1`)
	var cnt int
	if err := s.db.QueryRowContext(ctx, query, jobID).Scan(&cnt); err != nil {
		return 0, err
	}
	return cnt, nil
}

// GetEventsByJob 获取作业的事件（从 fromSeq 之后开始）
func (s *Store) GetEventsByJob(ctx context.Context, jobID string, fromSeq int, limit int) ([]*model.Event, error) {
	if limit <= 0 {
		limit = 1000
	}
	query := s.rebind(`SELECT id, job_id, seq, type, timestamp, payload
			  FROM events WHERE job_id = $1 AND seq > $2 ORDER BY seq ASC LIMIT $3`)
	rows, err := s.db.QueryContext(ctx, query, jobID, fromSeq, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*model.Event
	for rows.Next() {
		e := &model.Event{}
		var payload *[]byte
		if err := rows.Scan(&e.ID, &e.JobID, &e.Seq, &e.Type, &e.Timestamp, &payload); err != nil {
			return nil, err
		}
		if payload != nil {
			e.Payload = *payload
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
