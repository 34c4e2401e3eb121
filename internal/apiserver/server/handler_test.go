// Package server 路由与中间件单元测试
package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// ============================================================================
// 路径规范化测试
// ============================================================================

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		name string
		path string
		want string
	}{
		{"工作流详情", "/api/v1/workflows/wf-abc123", "/api/v1/workflows/{id}"},
		{"工作流触发", "/api/v1/workflows/wf-abc123/dispatch", "/api/v1/workflows/{id}/dispatch"},
		{"执行详情", "/api/v1/runs/run-abc123", "/api/v1/runs/{id}"},
		{"执行作业列表", "/api/v1/runs/run-abc123/jobs", "/api/v1/runs/{id}/jobs"},
		{"产物下载", "/api/v1/runs/run-abc123/artifacts/dist.tar.gz", "/api/v1/runs/{id}/artifacts/dist.tar.gz"},
		{"作业状态", "/api/v1/jobs/job-abc123/status", "/api/v1/jobs/{id}/status"},
		{"节点详情", "/api/v1/runners/rn-abc123", "/api/v1/runners/{id}"},
		{"列表路径不变", "/api/v1/workflows", "/api/v1/workflows"},
		{"健康检查不变", "/health", "/health"},
		{"事件入口不变", "/api/v1/events", "/api/v1/events"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := normalizePath(tt.path); got != tt.want {
				t.Errorf("normalizePath(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

// ============================================================================
// OpenAPI 校验范围测试
// ============================================================================

func TestShouldValidateRequest(t *testing.T) {
	tests := []struct {
		name   string
		method string
		path   string
		want   bool
	}{
		{"注册工作流需要校验", "POST", "/api/v1/workflows", true},
		{"更新工作流需要校验", "PUT", "/api/v1/workflows/wf-1", true},
		{"触发事件需要校验", "POST", "/api/v1/events", true},
		{"手动触发需要校验", "POST", "/api/v1/workflows/wf-1/dispatch", true},
		{"GET 请求跳过", "GET", "/api/v1/workflows", false},
		{"DELETE 请求跳过", "DELETE", "/api/v1/workflows/wf-1", false},
		{"作业状态上报跳过", "PATCH", "/api/v1/jobs/job-1/status", false},
		{"作业事件上报跳过", "POST", "/api/v1/jobs/job-1/events", false},
		{"节点注册跳过", "POST", "/api/v1/runners/register", false},
		{"节点心跳跳过", "POST", "/api/v1/runners/heartbeat", false},
		{"产物上传跳过", "PUT", "/api/v1/runs/run-1/artifacts/dist.tar.gz", false},
		{"非 API 路径跳过", "POST", "/health", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(tt.method, tt.path, nil)
			if got := shouldValidateRequest(r); got != tt.want {
				t.Errorf("shouldValidateRequest(%s %s) = %v, want %v", tt.method, tt.path, got, tt.want)
			}
		})
	}
}

// ============================================================================
// OpenAPI 文档与校验中间件测试
// ============================================================================

// TestLoadOpenAPIRouter 验证内嵌文档可加载且通过 OpenAPI 自身校验
func TestLoadOpenAPIRouter(t *testing.T) {
	router := loadOpenAPIRouter()
	if router == nil {
		t.Fatal("loadOpenAPIRouter returned nil, embedded document invalid")
	}
}

// TestServeOpenAPIDoc 验证文档端点返回 YAML 原文
func TestServeOpenAPIDoc(t *testing.T) {
	r := httptest.NewRequest("GET", "/api/v1/openapi.yaml", nil)
	w := httptest.NewRecorder()

	serveOpenAPIDoc(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/yaml" {
		t.Errorf("Content-Type = %q, want application/yaml", ct)
	}
	if !strings.Contains(w.Body.String(), "openapi: 3.0") {
		t.Error("response should contain the OpenAPI document")
	}
}

// TestOpenAPIValidationMiddleware 验证请求体按文档校验
func TestOpenAPIValidationMiddleware(t *testing.T) {
	var reached bool
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
		w.WriteHeader(http.StatusCreated)
	})
	mw := openAPIValidationMiddleware(next)

	t.Run("缺少必填字段返回400", func(t *testing.T) {
		reached = false
		r := httptest.NewRequest("POST", "/api/v1/workflows", strings.NewReader(`{}`))
		r.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()

		mw.ServeHTTP(w, r)

		if w.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", w.Code)
		}
		if reached {
			t.Error("handler should not be reached on invalid body")
		}
	})

	t.Run("合法请求放行", func(t *testing.T) {
		reached = false
		body := `{"source": "name: ci\njobs: {}"}`
		r := httptest.NewRequest("POST", "/api/v1/workflows", strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()

		mw.ServeHTTP(w, r)

		if !reached {
			t.Errorf("handler should be reached, status = %d body = %s", w.Code, w.Body.String())
		}
	})

	t.Run("节点上报不校验", func(t *testing.T) {
		reached = false
		r := httptest.NewRequest("PATCH", "/api/v1/jobs/job-1/status", strings.NewReader(`not json`))
		w := httptest.NewRecorder()

		mw.ServeHTTP(w, r)

		if !reached {
			t.Error("runner-facing routes should bypass validation")
		}
	})

	t.Run("文档未覆盖的路径放行", func(t *testing.T) {
		reached = false
		r := httptest.NewRequest("POST", "/api/v1/unknown", strings.NewReader(`{}`))
		w := httptest.NewRecorder()

		mw.ServeHTTP(w, r)

		if !reached {
			t.Error("unknown paths should pass through to the mux")
		}
	})
}

// ============================================================================
// CORS 中间件测试
// ============================================================================

func TestCORSMiddleware(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mw := corsMiddleware(next)

	t.Run("常规请求附加CORS头", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/api/v1/workflows", nil)
		w := httptest.NewRecorder()

		mw.ServeHTTP(w, r)

		if w.Header().Get("Access-Control-Allow-Origin") != "*" {
			t.Error("missing Access-Control-Allow-Origin header")
		}
	})

	t.Run("预检请求直接返回200", func(t *testing.T) {
		r := httptest.NewRequest("OPTIONS", "/api/v1/workflows", nil)
		w := httptest.NewRecorder()

		mw.ServeHTTP(w, r)

		if w.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", w.Code)
		}
		if !strings.Contains(w.Header().Get("Access-Control-Allow-Headers"), "X-Runner-Token") {
			t.Error("preflight should advertise X-Runner-Token header")
		}
	})
}
