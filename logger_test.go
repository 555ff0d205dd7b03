package pipecache

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
)

// failingCache returns a synchronous cache with one pipeline whose shader
// module creation always fails.
func failingCache(t *testing.T, opts ...Option) *PipelineCache {
	t.Helper()
	dev := newFakeDevice()
	dev.shaderErr = errors.New("driver rejected module")
	c := newSyncCache(t, dev, opts...)
	shader := setShader(t, c, "compute.wgsl", computeSource)
	c.QueueComputePipeline(computeDesc(shader))
	return c
}

func TestDefaultLogger_Silent(t *testing.T) {
	handlers := []struct {
		name string
		h    slog.Handler
	}{
		{"package", Logger().Handler()},
		{"attrs", nopHandler{}.WithAttrs([]slog.Attr{slog.String("shader", "a.wgsl")})},
		{"group", nopHandler{}.WithGroup("pipecache")},
	}
	for _, tt := range handlers {
		if tt.h.Enabled(context.Background(), slog.LevelError) {
			t.Errorf("%s handler is enabled", tt.name)
		}
	}
}

func TestSetLogger_ReceivesFailures(t *testing.T) {
	orig := Logger()
	t.Cleanup(func() { SetLogger(orig) })

	var buf bytes.Buffer
	SetLogger(slog.New(slog.NewTextHandler(&buf, nil)))

	c := failingCache(t)
	for range 3 {
		c.ProcessQueue()
	}
	if n := strings.Count(buf.String(), "failed to create shader module"); n != 1 {
		t.Errorf("failure logged %d times, want once:\n%s", n, buf.String())
	}
}

func TestSetLogger_NilRestoresSilence(t *testing.T) {
	orig := Logger()
	t.Cleanup(func() { SetLogger(orig) })

	var buf bytes.Buffer
	SetLogger(slog.New(slog.NewTextHandler(&buf, nil)))
	SetLogger(nil)

	c := failingCache(t)
	c.ProcessQueue()
	c.ProcessQueue()
	if buf.Len() != 0 {
		t.Errorf("logger replaced by SetLogger(nil) still got output: %s", buf.String())
	}
	if Logger() == nil {
		t.Error("Logger() is nil after SetLogger(nil)")
	}
}

func TestCacheLoggerOverridesPackageLogger(t *testing.T) {
	orig := Logger()
	t.Cleanup(func() { SetLogger(orig) })

	var pkgBuf, cacheBuf bytes.Buffer
	SetLogger(slog.New(slog.NewTextHandler(&pkgBuf, nil)))
	own := slog.New(slog.NewTextHandler(&cacheBuf, nil))

	c := failingCache(t, WithLogger(own))
	c.ProcessQueue()
	c.ProcessQueue()
	if !strings.Contains(cacheBuf.String(), "failed to create shader module") {
		t.Errorf("WithLogger logger got %q", cacheBuf.String())
	}
	if pkgBuf.Len() != 0 {
		t.Errorf("package logger got output meant for the cache logger: %s", pkgBuf.String())
	}

	plain, err := New(newFakeDevice())
	if err != nil {
		t.Fatal(err)
	}
	plain.log().Info("package message")
	if !strings.Contains(pkgBuf.String(), "package message") {
		t.Errorf("cache without WithLogger should log through Logger(), got %q", pkgBuf.String())
	}
}

func TestSetLogger_DuringProcessQueue(t *testing.T) {
	orig := Logger()
	t.Cleanup(func() { SetLogger(orig) })

	c := failingCache(t)

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			SetLogger(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
			SetLogger(nil)
		}()
	}
	for range 20 {
		c.ProcessQueue()
	}
	wg.Wait()
}
