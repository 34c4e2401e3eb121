package auth

import (
	"crypto/subtle"
	"log"
	"net/http"
	"strings"
)

// 免认证路由白名单（前缀匹配）
var publicPrefixes = []string{
	"/api/v1/auth/register",
	"/api/v1/auth/login",
	"/api/v1/auth/refresh",
	"/api/v1/openapi.yaml",
	"/health",
	"/metrics",
	"/ws/",
}

// isPublicRoute 判断是否免认证路由
func isPublicRoute(path string) bool {
	for _, prefix := range publicPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// isRunnerRoute 判断是否节点通信路由（agent 调用，走 X-Runner-Token）
//
// 覆盖：注册/心跳、作业状态与事件上报、产物上传下载。
func isRunnerRoute(method, path string) bool {
	if strings.HasPrefix(path, "/api/v1/runners/register") ||
		strings.HasPrefix(path, "/api/v1/runners/heartbeat") {
		return true
	}
	if strings.HasPrefix(path, "/api/v1/jobs/") &&
		(strings.HasSuffix(path, "/status") || strings.HasSuffix(path, "/events")) {
		return true
	}
	if strings.HasPrefix(path, "/api/v1/runs/") && strings.Contains(path, "/artifacts") {
		return true
	}
	if method == http.MethodGet && strings.HasPrefix(path, "/api/v1/runners/") && strings.HasSuffix(path, "/jobs") {
		return true
	}
	return false
}

// Middleware 创建认证中间件
//
// 如果 cfg.Enabled() == false，直接放行所有请求（无认证模式）。
// 节点路由校验 X-Runner-Token，其余路由校验 JWT Bearer。
func Middleware(cfg Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// 无认证模式：直接放行
			if !cfg.Enabled() {
				next.ServeHTTP(w, r)
				return
			}

			if isPublicRoute(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			// 节点路由：共享密钥
			if isRunnerRoute(r.Method, r.URL.Path) {
				if cfg.RunnerToken == "" {
					next.ServeHTTP(w, r)
					return
				}
				token := r.Header.Get("X-Runner-Token")
				if subtle.ConstantTimeCompare([]byte(token), []byte(cfg.RunnerToken)) != 1 {
					http.Error(w, `{"error":"invalid runner token"}`, http.StatusUnauthorized)
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			// 提取 Bearer Token
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, `{"error":"missing authorization header"}`, http.StatusUnauthorized)
				return
			}
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				http.Error(w, `{"error":"invalid authorization header"}`, http.StatusUnauthorized)
				return
			}

			claims, err := ParseToken(cfg, parts[1])
			if err != nil {
				log.Printf("[auth] token parse error: %v", err)
				http.Error(w, `{"error":"invalid or expired token"}`, http.StatusUnauthorized)
				return
			}
			if claims.Type != "access" {
				http.Error(w, `{"error":"invalid token type"}`, http.StatusUnauthorized)
				return
			}

			user := &AuthUser{
				ID:    claims.Subject,
				Email: claims.Email,
				Role:  claims.Role,
			}
			next.ServeHTTP(w, r.WithContext(WithAuthUser(r.Context(), user)))
		})
	}
}

// AdminOnly 管理员专属路由中间件
func AdminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := GetAuthUser(r.Context())
		if user == nil || user.Role != UserRoleAdmin {
			http.Error(w, `{"error":"admin access required"}`, http.StatusForbidden)
			return
		}
		next(w, r)
	}
}

// UserRoleAdmin 管理员角色常量（避免 model 包循环引用）
const UserRoleAdmin = "admin"
