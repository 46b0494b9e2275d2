package middleware

import (
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// CORSConfig CORS 配置
type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
}

// 租户 API 依赖的请求头
var requiredHeaders = []string{"Origin", "Content-Type", TenantHeader, RequestIDHeader}

// CORS 跨域中间件。配置的请求头列表会补齐租户头和请求 ID 头；
// 通配来源下不允许携带凭据。
func CORS(cfg CORSConfig) gin.HandlerFunc {
	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	methods := cfg.AllowedMethods
	if len(methods) == 0 {
		methods = []string{"GET", "POST", "OPTIONS"}
	}
	var headers []string
	for _, h := range append(append([]string{}, cfg.AllowedHeaders...), requiredHeaders...) {
		if !containsFold(headers, h) {
			headers = append(headers, h)
		}
	}

	allowAll := len(origins) == 1 && origins[0] == "*"
	cc := cors.Config{
		AllowMethods:     methods,
		AllowHeaders:     headers,
		ExposeHeaders:    []string{RequestIDHeader, TraceIDHeader, "Retry-After"},
		AllowCredentials: !allowAll,
		MaxAge:           12 * time.Hour,
	}
	if allowAll {
		cc.AllowAllOrigins = true
	} else {
		cc.AllowOrigins = origins
	}
	return cors.New(cc)
}

func containsFold(list []string, v string) bool {
	for _, s := range list {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}
