// 控制面 API 客户端
//
// Runner 与控制面的所有交互都走 HTTP：注册、心跳、作业状态上报、
// 事件批量上报、产物上传下载。认证通过 X-Runner-Token 头。
package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"pipelines-admin/internal/shared/model"
)

// APIClient 控制面 API 客户端
type APIClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewAPIClient 创建 API 客户端
//
// token 非空时所有请求自动附加 X-Runner-Token 头。
func NewAPIClient(baseURL string, httpClient *http.Client, token string) *APIClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if token != "" {
		base := httpClient.Transport
		if base == nil {
			base = http.DefaultTransport
		}
		httpClient = &http.Client{
			Timeout:   httpClient.Timeout,
			Jar:       httpClient.Jar,
			Transport: &runnerTokenTransport{base: base, token: token},
		}
	}
	return &APIClient{baseURL: baseURL, httpClient: httpClient}
}

// runnerTokenTransport 在每个请求上注入 X-Runner-Token 头
type runnerTokenTransport struct {
	base  http.RoundTripper
	token string
}

func (t *runnerTokenTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	clone.Header.Set("X-Runner-Token", t.token)
	return t.base.RoundTrip(clone)
}

// HeartbeatDirectives 心跳响应中的控制指令
type HeartbeatDirectives struct {
	CancelJobs []string `json:"cancel_jobs,omitempty"`
}

// Register 向控制面注册本节点
func (c *APIClient) Register(ctx context.Context, runnerID, hostname, ips string, labels map[string]string, maxConcurrent int) error {
	payload := map[string]interface{}{
		"id":       runnerID,
		"hostname": hostname,
		"ips":      ips,
		"labels":   labels,
		"capacity": map[string]interface{}{
			"max_concurrent": maxConcurrent,
		},
	}
	return c.postJSON(ctx, "/api/v1/runners/register", payload, nil)
}

// Heartbeat 上报心跳，返回控制面下发的指令
func (c *APIClient) Heartbeat(ctx context.Context, runnerID string, activeJobs int, runningJobs []string) (*HeartbeatDirectives, error) {
	payload := map[string]interface{}{
		"runner_id":    runnerID,
		"active_jobs":  activeJobs,
		"running_jobs": runningJobs,
	}

	var resp struct {
		Status     string               `json:"status"`
		Directives *HeartbeatDirectives `json:"directives,omitempty"`
	}
	if err := c.postJSON(ctx, "/api/v1/runners/heartbeat", payload, &resp); err != nil {
		return nil, err
	}
	return resp.Directives, nil
}

// FetchAssignedJobs 获取分配给本节点的作业（队列不可用时的轮询兜底）
func (c *APIClient) FetchAssignedJobs(ctx context.Context, runnerID string) ([]*model.JobRun, error) {
	req, err := http.NewRequestWithContext(ctx, "GET",
		c.baseURL+"/api/v1/runners/"+runnerID+"/jobs", nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var result struct {
		Jobs []*model.JobRun `json:"jobs"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return result.Jobs, nil
}

// GetJob 获取作业详情
func (c *APIClient) GetJob(ctx context.Context, jobID string) (*model.JobRun, error) {
	req, err := http.NewRequestWithContext(ctx, "GET",
		c.baseURL+"/api/v1/jobs/"+jobID, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var job model.JobRun
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		return nil, err
	}
	return &job, nil
}

// UpdateJobStatus 上报作业状态
//
// 终止状态附带退出码和错误信息。
func (c *APIClient) UpdateJobStatus(ctx context.Context, jobID string, status model.JobStatus, exitCode *int, errMsg string) error {
	payload := map[string]interface{}{
		"status": string(status),
	}
	if exitCode != nil {
		payload["exit_code"] = *exitCode
	}
	if errMsg != "" {
		payload["error"] = errMsg
	}

	body, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, "PATCH",
		c.baseURL+"/api/v1/jobs/"+jobID+"/status", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}
	return nil
}

// ReportEvents 批量上报作业事件
func (c *APIClient) ReportEvents(ctx context.Context, jobID string, events []*model.Event) error {
	if len(events) == 0 {
		return nil
	}
	return c.postJSON(ctx, "/api/v1/jobs/"+jobID+"/events",
		map[string]interface{}{"events": events}, nil)
}

// DownloadArtifact 下载产物，调用方负责关闭返回的流
func (c *APIClient) DownloadArtifact(ctx context.Context, runID, name string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, "GET",
		c.baseURL+"/api/v1/runs/"+runID+"/artifacts/"+name, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		return nil, fmt.Errorf("artifact %q not found", name)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}
	return resp.Body, nil
}

// UploadArtifact 上传产物（流式请求体）
func (c *APIClient) UploadArtifact(ctx context.Context, runID, name, jobID string, retentionDays int, body io.Reader, size int64) error {
	url := c.baseURL + "/api/v1/runs/" + runID + "/artifacts/" + name
	sep := "?"
	if retentionDays > 0 {
		url += fmt.Sprintf("%sretention_days=%d", sep, retentionDays)
		sep = "&"
	}
	if jobID != "" {
		url += sep + "job_id=" + jobID
	}

	req, err := http.NewRequestWithContext(ctx, "PUT", url, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	if size >= 0 {
		req.ContentLength = size
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}
	return nil
}

// postJSON 发送 JSON POST 请求，out 非 nil 时解析响应体
func (c *APIClient) postJSON(ctx context.Context, path string, payload interface{}, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
