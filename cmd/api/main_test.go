package main

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type syncBuffer struct {
	bytes.Buffer
	synced int
}

func (b *syncBuffer) Sync() error {
	b.synced++
	return nil
}

func TestFinishFlushesBeforeExit(t *testing.T) {
	buf := &syncBuffer{}
	core := zapcore.NewCore(zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()), buf, zapcore.InfoLevel)
	logger := zap.New(core)

	if code := finish(logger, errors.New("listen: address in use")); code != 1 {
		t.Fatalf("exit code %d, want 1", code)
	}
	if buf.synced == 0 {
		t.Fatal("logger not synced")
	}
	if !strings.Contains(buf.String(), "api stopped") || !strings.Contains(buf.String(), "address in use") {
		t.Fatalf("failure not logged: %s", buf.String())
	}

	if code := finish(logger, nil); code != 0 {
		t.Fatalf("exit code %d, want 0", code)
	}
}
