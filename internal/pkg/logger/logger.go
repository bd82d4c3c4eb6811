// Package logger 统一了各服务的 zerolog 配置。
package logger

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/trace"
)

// Init 初始化全局日志器，所有日志都会携带服务名。
func Init(serviceName, level string) {
	InitWithWriter(os.Stdout, serviceName, level)
}

// InitWithWriter 与 Init 相同，但允许指定输出目标（测试中使用）。
func InitWithWriter(w io.Writer, serviceName, level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = time.RFC3339Nano
	log.Logger = zerolog.New(w).With().Timestamp().Str("service", serviceName).Logger()
}

// Ctx 返回一个带有当前链路 trace_id / span_id 的日志器。
func Ctx(ctx context.Context) *zerolog.Logger {
	l := log.Logger
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		l = l.With().
			Str("trace_id", sc.TraceID().String()).
			Str("span_id", sc.SpanID().String()).
			Logger()
	}
	return &l
}
