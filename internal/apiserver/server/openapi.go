// OpenAPI 文档与请求校验
//
// API 契约以 OpenAPI 3.0 文档描述，编译期通过 go:embed 打包进二进制。
// 中间件在请求进入业务处理器之前，按文档校验用户侧变更请求的
// 请求体与参数，不合法的请求直接返回 400。
//
// 节点上报接口（状态、事件、产物）不经过校验：事件体量大且为流式
// 上传，缓冲校验得不偿失，由各处理器自行校验。
package server

import (
	"context"
	"log"
	"net/http"
	"strings"
	"sync"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	legacyrouter "github.com/getkin/kin-openapi/routers/legacy"

	"pipelines-admin/api"
)

const openAPIDocPath = "openapi/openapi.yaml"

var (
	openAPIOnce   sync.Once
	openAPIRouter routers.Router
	openAPIDoc    []byte
)

// loadOpenAPIRouter 加载并校验内嵌的 OpenAPI 文档，构建路由器
//
// 文档在进程生命周期内只加载一次。加载失败时记录日志并返回 nil，
// 校验中间件退化为直接放行。
func loadOpenAPIRouter() routers.Router {
	openAPIOnce.Do(func() {
		data, err := api.OpenAPIFS.ReadFile(openAPIDocPath)
		if err != nil {
			log.Printf("[openapi.load.failed] err=%v", err)
			return
		}
		openAPIDoc = data

		loader := &openapi3.Loader{Context: context.Background()}
		doc, err := loader.LoadFromData(data)
		if err != nil {
			log.Printf("[openapi.parse.failed] err=%v", err)
			return
		}
		if err := doc.Validate(loader.Context); err != nil {
			log.Printf("[openapi.validate.failed] err=%v", err)
			return
		}

		router, err := legacyrouter.NewRouter(doc)
		if err != nil {
			log.Printf("[openapi.router.failed] err=%v", err)
			return
		}
		openAPIRouter = router
	})
	return openAPIRouter
}

// serveOpenAPIDoc 返回 OpenAPI 文档原文
func serveOpenAPIDoc(w http.ResponseWriter, r *http.Request) {
	data, err := api.OpenAPIFS.ReadFile(openAPIDocPath)
	if err != nil {
		http.Error(w, "openapi document unavailable", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.Write(data)
}

// shouldValidateRequest 判断请求是否需要走 OpenAPI 校验
//
// 只校验用户侧的 JSON 变更请求。GET/DELETE 没有请求体，
// 节点上报与产物上传由处理器自行校验。
func shouldValidateRequest(r *http.Request) bool {
	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
	default:
		return false
	}
	if !strings.HasPrefix(r.URL.Path, "/api/v1/") {
		return false
	}
	// 节点上报接口跳过
	if strings.HasPrefix(r.URL.Path, "/api/v1/jobs/") {
		if strings.HasSuffix(r.URL.Path, "/status") || strings.HasSuffix(r.URL.Path, "/events") {
			return false
		}
	}
	if r.URL.Path == "/api/v1/runners/register" || r.URL.Path == "/api/v1/runners/heartbeat" {
		return false
	}
	// 产物上传是流式二进制，不缓冲校验
	if strings.Contains(r.URL.Path, "/artifacts/") {
		return false
	}
	return true
}

// openAPIValidationMiddleware 按 OpenAPI 文档校验请求
func openAPIValidationMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !shouldValidateRequest(r) {
			next.ServeHTTP(w, r)
			return
		}

		router := loadOpenAPIRouter()
		if router == nil {
			next.ServeHTTP(w, r)
			return
		}

		route, pathParams, err := router.FindRoute(r)
		if err != nil {
			// 文档未覆盖的路径交给 mux 处理（404 或业务处理器）
			next.ServeHTTP(w, r)
			return
		}

		input := &openapi3filter.RequestValidationInput{
			Request:    r,
			PathParams: pathParams,
			Route:      route,
			Options: &openapi3filter.Options{
				AuthenticationFunc: openapi3filter.NoopAuthenticationFunc,
			},
		}
		// ValidateRequest 读取请求体后会重置 Body，处理器可以再次读取
		if err := openapi3filter.ValidateRequest(r.Context(), input); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		next.ServeHTTP(w, r)
	})
}
