// Package redis RunState 缓存操作
package redis

import (
	"context"
	"strconv"

	"pipelines-admin/internal/shared/cache"
)

// SetRunState 设置运行进度快照
func (s *Store) SetRunState(ctx context.Context, runID string, state *cache.RunState) error {
	key := cache.KeyRunState + runID

	data := map[string]interface{}{
		"state":          state.State,
		"total_jobs":     state.TotalJobs,
		"completed_jobs": state.CompletedJobs,
		"failed_jobs":    state.FailedJobs,
		"current_job":    state.CurrentJob,
		"error":          state.Error,
	}

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, data)
	pipe.Expire(ctx, key, cache.TTLRunState)
	_, err := pipe.Exec(ctx)

	return err
}

// GetRunState 获取运行进度快照，不存在时返回 (nil, nil)
func (s *Store) GetRunState(ctx context.Context, runID string) (*cache.RunState, error) {
	key := cache.KeyRunState + runID

	result, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, err
	}

	if len(result) == 0 {
		return nil, nil
	}

	state := &cache.RunState{
		State:      result["state"],
		CurrentJob: result["current_job"],
		Error:      result["error"],
	}

	if n, err := strconv.Atoi(result["total_jobs"]); err == nil {
		state.TotalJobs = n
	}
	if n, err := strconv.Atoi(result["completed_jobs"]); err == nil {
		state.CompletedJobs = n
	}
	if n, err := strconv.Atoi(result["failed_jobs"]); err == nil {
		state.FailedJobs = n
	}

	return state, nil
}

// DeleteRunState 删除运行进度快照
func (s *Store) DeleteRunState(ctx context.Context, runID string) error {
	key := cache.KeyRunState + runID
	return s.client.Del(ctx, key).Err()
}
