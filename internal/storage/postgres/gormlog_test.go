package postgres

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func captureLogger(buf *bytes.Buffer) logger.Interface {
	return NewGormLogger(slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
}

func query() (string, int64) { return "SELECT 1", 1 }

func TestGormLogger_QueryFailure(t *testing.T) {
	var buf bytes.Buffer
	captureLogger(&buf).Trace(context.Background(), time.Now(), query, errors.New("relation missing"))
	if out := buf.String(); !strings.Contains(out, "query failed") || !strings.Contains(out, "relation missing") {
		t.Errorf("log = %q", out)
	}
}

func TestGormLogger_RecordNotFoundIsQuiet(t *testing.T) {
	var buf bytes.Buffer
	captureLogger(&buf).Trace(context.Background(), time.Now(), query, gorm.ErrRecordNotFound)
	if buf.Len() != 0 {
		t.Errorf("log = %q, want nothing", buf.String())
	}
}

func TestGormLogger_SlowQuery(t *testing.T) {
	var buf bytes.Buffer
	captureLogger(&buf).Trace(context.Background(), time.Now().Add(-time.Second), query, nil)
	if !strings.Contains(buf.String(), "slow query") {
		t.Errorf("log = %q", buf.String())
	}
}

func TestGormLogger_Silent(t *testing.T) {
	var buf bytes.Buffer
	l := captureLogger(&buf).LogMode(logger.Silent)
	l.Trace(context.Background(), time.Now(), query, errors.New("boom"))
	l.Error(context.Background(), "boom")
	if buf.Len() != 0 {
		t.Errorf("log = %q, want nothing", buf.String())
	}
}

func TestConfig_Defaults(t *testing.T) {
	c := Config{MaxOpenConns: 4}.withDefaults()
	if c.MaxOpenConns != 4 || c.MaxIdleConns != 5 || c.ConnMaxLifetime != 30*time.Minute {
		t.Errorf("config = %+v", c)
	}
}
