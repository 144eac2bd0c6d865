package stores

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// LoggerConfig configures the SQL logger.
type LoggerConfig struct {
	IgnoreRecordNotFoundError bool
	LogLevel                  logger.LogLevel
	SlowThreshold             time.Duration
}

type gormLogger struct {
	LoggerConfig
	l *zap.SugaredLogger
}

// NewSQLLogger returns a gorm logger that logs to zap. Queries slower than the
// configured threshold are logged as warnings, all other queries are logged
// at debug level if the log level is logger.Info.
func NewSQLLogger(l *zap.Logger, config LoggerConfig) logger.Interface {
	return &gormLogger{
		LoggerConfig: config,
		l:            l.Named("gorm").Sugar(),
	}
}

func (l *gormLogger) LogMode(level logger.LogLevel) logger.Interface {
	newlogger := *l
	newlogger.LogLevel = level
	return &newlogger
}

func (l gormLogger) Info(ctx context.Context, msg string, args ...interface{}) {
	if l.LogLevel >= logger.Info {
		l.logger().Infof(msg, args...)
	}
}

func (l gormLogger) Warn(ctx context.Context, msg string, args ...interface{}) {
	if l.LogLevel >= logger.Warn {
		l.logger().Warnf(msg, args...)
	}
}

func (l gormLogger) Error(ctx context.Context, msg string, args ...interface{}) {
	if l.LogLevel >= logger.Error {
		l.logger().Errorf(msg, args...)
	}
}

func (l gormLogger) Trace(ctx context.Context, start time.Time, fc func() (sql string, rowsAffected int64), err error) {
	if l.LogLevel <= logger.Silent {
		return
	}

	elapsed := time.Since(start)
	notFound := errors.Is(err, gorm.ErrRecordNotFound)
	switch {
	case err != nil && l.LogLevel >= logger.Error && !(notFound && l.IgnoreRecordNotFoundError):
		sql, rows := fc()
		log := l.logger().Errorw
		if notFound {
			log = l.logger().Debugw
		}
		log(err.Error(), traceFields(elapsed, sql, rows)...)
	case l.SlowThreshold != 0 && elapsed > l.SlowThreshold && l.LogLevel >= logger.Warn:
		sql, rows := fc()
		l.logger().Warnw(fmt.Sprintf("SLOW SQL >= %v", l.SlowThreshold), traceFields(elapsed, sql, rows)...)
	case l.LogLevel >= logger.Info:
		sql, rows := fc()
		l.logger().Debugw("trace", traceFields(elapsed, sql, rows)...)
	}
}

// logger returns a logger that reports the first caller outside of gorm.
func (l *gormLogger) logger() *zap.SugaredLogger {
	for i := 2; i < 15; i++ {
		_, file, _, ok := runtime.Caller(i)
		switch {
		case !ok:
		case strings.Contains(file, "gorm"):
		default:
			return l.l.WithOptions(zap.AddCallerSkip(i))
		}
	}
	return l.l
}

func traceFields(elapsed time.Duration, sql string, rows int64) []interface{} {
	fields := []interface{}{"elapsed", fmt.Sprintf("%.3fms", float64(elapsed.Nanoseconds())/1e6)}
	if rows != -1 {
		fields = append(fields, "rows", rows)
	}
	return append(fields, "sql", sql)
}
