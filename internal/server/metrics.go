package server

import (
	stdhttp "net/http"

	"metering-service/internal/conf"

	"github.com/go-kratos/kratos/v2/middleware/recovery"
	"github.com/go-kratos/kratos/v2/transport/http"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewMetricsServer 创建指标暴露 HTTP 服务器（仅 /metrics 与 /healthz）
func NewMetricsServer(c *conf.Bootstrap) *http.Server {
	var opts = []http.ServerOption{
		http.Middleware(
			recovery.Recovery(),
		),
	}
	if c.Server != nil && c.Server.Metrics != nil && c.Server.Metrics.Addr != "" {
		opts = append(opts, http.Address(c.Server.Metrics.Addr))
	}
	srv := http.NewServer(opts...)
	srv.Handle("/metrics", promhttp.Handler())
	srv.HandleFunc("/healthz", func(w stdhttp.ResponseWriter, r *stdhttp.Request) {
		w.WriteHeader(stdhttp.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return srv
}
