// Package repository Runner 节点相关的存储操作
package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"pipelines-admin/internal/shared/model"
)

// runnerColumns 节点表的查询列
const runnerColumns = `id, COALESCE(display_name, ''), status, COALESCE(hostname, ''), COALESCE(ips, ''), COALESCE(labels, '{}'), COALESCE(capacity, '{}'), last_heartbeat, created_at, updated_at`

// UpsertRunner 更新或插入节点
func (s *Store) UpsertRunner(ctx context.Context, runner *model.Runner) error {
	conflict := s.dialect.UpsertConflict("id", []string{
		"display_name = EXCLUDED.display_name",
		"status = EXCLUDED.status",
		"hostname = EXCLUDED.hostname",
		"ips = EXCLUDED.ips",
		"labels = EXCLUDED.labels",
		"capacity = EXCLUDED.capacity",
		"last_heartbeat = EXCLUDED.last_heartbeat",
	})
	query := s.rebind(fmt.Sprintf(`
		INSERT INTO runners (id, display_name, status, hostname, ips, labels, capacity, last_heartbeat, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		%s
	`, conflict))
	_, err := s.db.ExecContext(ctx, query,
		runner.ID, runner.DisplayName, runner.Status, runner.Hostname, runner.IPs,
		runner.Labels, runner.Capacity, runner.LastHeartbeat, runner.CreatedAt, runner.UpdatedAt)
	return err
}

// UpsertRunnerHeartbeat 心跳专用的 upsert（不覆盖管理员设置的 status）
func (s *Store) UpsertRunnerHeartbeat(ctx context.Context, runner *model.Runner) error {
	nowExpr := s.dialect.CurrentTimestamp()
	conflict := s.dialect.UpsertConflict("id", []string{
		"hostname = EXCLUDED.hostname",
		"ips = EXCLUDED.ips",
		"labels = EXCLUDED.labels",
		"capacity = EXCLUDED.capacity",
		"last_heartbeat = EXCLUDED.last_heartbeat",
		// draining/terminated 由管理员设置，心跳只把 offline 拉回 online
		"status = CASE WHEN runners.status IN ('offline', 'unknown', 'starting') THEN EXCLUDED.status ELSE runners.status END",
		"updated_at = " + nowExpr,
	})
	query := s.rebind(fmt.Sprintf(`
		INSERT INTO runners (id, display_name, status, hostname, ips, labels, capacity, last_heartbeat, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		%s
	`, conflict))
	_, err := s.db.ExecContext(ctx, query,
		runner.ID, runner.DisplayName, runner.Status, runner.Hostname, runner.IPs,
		runner.Labels, runner.Capacity, runner.LastHeartbeat, runner.CreatedAt, runner.UpdatedAt)
	return err
}

// GetRunner 获取节点
func (s *Store) GetRunner(ctx context.Context, id string) (*model.Runner, error) {
	query := s.rebind(`SELECT ` + runnerColumns + ` FROM runners WHERE id = $1`)
	runner, err := scanRunner(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return runner, err
}

// ListAllRunners 列出所有节点
func (s *Store) ListAllRunners(ctx context.Context) ([]*model.Runner, error) {
	query := `SELECT ` + runnerColumns + ` FROM runners ORDER BY created_at DESC`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRunners(rows)
}

// ListOnlineRunners 列出在线节点
func (s *Store) ListOnlineRunners(ctx context.Context) ([]*model.Runner, error) {
	query := `SELECT ` + runnerColumns + ` FROM runners WHERE status = 'online' ORDER BY last_heartbeat DESC`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRunners(rows)
}

// UpdateRunnerStatus 更新节点状态
func (s *Store) UpdateRunnerStatus(ctx context.Context, id string, status model.RunnerStatus) error {
	query := s.rebind(`UPDATE runners SET status = $1, updated_at = ` + s.now() + ` WHERE id = $2`)
	_, err := s.db.ExecContext(ctx, query, status, id)
	return err
}

// MarkStaleRunnersOffline 把心跳超期的在线节点标记为 offline，返回受影响的节点 ID
func (s *Store) MarkStaleRunnersOffline(ctx context.Context, threshold time.Duration) ([]string, error) {
	cutoff := time.Now().Add(-threshold)

	query := s.rebind(`SELECT id FROM runners
			  WHERE status = 'online' AND (last_heartbeat IS NULL OR last_heartbeat < $1)`)
	rows, err := s.db.QueryContext(ctx, query, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, id := range ids {
		if err := s.UpdateRunnerStatus(ctx, id, model.RunnerStatusOffline); err != nil {
			return ids, err
		}
	}
	return ids, nil
}

// DeleteRunner 删除节点
func (s *Store) DeleteRunner(ctx context.Context, id string) error {
	query := s.rebind(`DELETE FROM runners WHERE id = $1`)
	_, err := s.db.ExecContext(ctx, query, id)
	return err
}

// scanRunner 辅助函数
func scanRunner(scanner interface {
	Scan(dest ...interface{}) error
}) (*model.Runner, error) {
	runner := &model.Runner{}
	err := scanner.Scan(&runner.ID, &runner.DisplayName, &runner.Status, &runner.Hostname,
		&runner.IPs, &runner.Labels, &runner.Capacity,
		&runner.LastHeartbeat, &runner.CreatedAt, &runner.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return runner, nil
}

// scanRunners 批量扫描
func scanRunners(rows *sql.Rows) ([]*model.Runner, error) {
	var runners []*model.Runner
	for rows.Next() {
		runner, err := scanRunner(rows)
		if err != nil {
			return nil, err
		}
		runners = append(runners, runner)
	}
	return runners, rows.Err()
}
