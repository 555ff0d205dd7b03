package watch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gogpu/pipecache"
)

const shaderSource = `@compute @workgroup_size(1)
fn main() {}
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
}

func newDir(t *testing.T, root string) *Dir {
	t.Helper()
	d, err := New(root, WithWorkers(2), WithValidation(true))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return d
}

// waitForEvent drains d until an event of kind for id shows up.
func waitForEvent(t *testing.T, d *Dir, kind pipecache.ShaderEventKind, id pipecache.ShaderID) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		for _, ev := range d.DrainEvents() {
			if ev.Kind == kind && ev.ID == id {
				return
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("no %v event for %v", kind, id)
}

func TestNew_NotDirectory(t *testing.T) {
	file := filepath.Join(t.TempDir(), "a.wgsl")
	writeFile(t, file, shaderSource)

	if _, err := New(file); !errors.Is(err, ErrNotDirectory) {
		t.Errorf("New(file) error = %v, want ErrNotDirectory", err)
	}
	if _, err := New(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("New(missing) should fail")
	}
}

func TestDir_Load(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "main.wgsl"), "#import \"lib/common.wgsl\"\n"+shaderSource)
	writeFile(t, filepath.Join(root, "lib", "common.wgsl"), "fn common_value() -> f32 { return 1.0; }\n")
	writeFile(t, filepath.Join(root, "README.md"), "not a shader")

	d := newDir(t, root)
	if err := d.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if d.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", d.Len())
	}
	events := d.DrainEvents()
	if len(events) != 2 {
		t.Fatalf("events = %v, want two Added", events)
	}
	for _, ev := range events {
		if ev.Kind != pipecache.ShaderAdded {
			t.Errorf("event kind = %v, want Added", ev.Kind)
		}
	}

	s, ok := d.Shader(pipecache.ShaderIDFromPath("main.wgsl"))
	if !ok {
		t.Fatal("main.wgsl not loaded")
	}
	if len(s.Imports) != 1 || s.Imports[0] != pipecache.AssetImport("lib/common.wgsl") {
		t.Errorf("imports = %v", s.Imports)
	}
	if !s.Validate {
		t.Error("WithValidation not applied")
	}

	lib, ok := d.Shader(pipecache.ShaderIDFromPath("lib/common.wgsl"))
	if !ok || lib.ImportPath != pipecache.AssetImport("lib/common.wgsl") {
		t.Errorf("lib/common.wgsl = %+v, %v", lib, ok)
	}
}

func TestDir_Watch(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.wgsl"), shaderSource)

	d := newDir(t, root)
	if err := d.Load(); err != nil {
		t.Fatal(err)
	}
	d.DrainEvents()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	a := pipecache.ShaderIDFromPath("a.wgsl")
	writeFile(t, filepath.Join(root, "a.wgsl"), shaderSource+"\n// edited\n")
	waitForEvent(t, d, pipecache.ShaderModified, a)

	b := pipecache.ShaderIDFromPath("b.wgsl")
	writeFile(t, filepath.Join(root, "b.wgsl"), shaderSource)
	waitForEvent(t, d, pipecache.ShaderAdded, b)

	if err := os.Remove(filepath.Join(root, "a.wgsl")); err != nil {
		t.Fatal(err)
	}
	waitForEvent(t, d, pipecache.ShaderRemoved, a)
	if _, ok := d.Shader(a); ok {
		t.Error("removed shader still served")
	}
}

func TestDir_WatchNewDirectory(t *testing.T) {
	root := t.TempDir()
	d := newDir(t, root)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := d.Start(ctx); err != nil {
		t.Fatal(err)
	}

	sub := filepath.Join(root, "sub")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	// Give the watcher a moment to pick up the new directory.
	time.Sleep(100 * time.Millisecond)
	writeFile(t, filepath.Join(sub, "c.wgsl"), shaderSource)

	waitForEvent(t, d, pipecache.ShaderAdded, pipecache.ShaderIDFromPath("sub/c.wgsl"))
}

func TestDir_Close(t *testing.T) {
	d := newDir(t, t.TempDir())
	if err := d.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := d.Close(); err != nil {
		t.Errorf("second Close = %v", err)
	}
	if err := d.Start(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Start after Close = %v, want ErrClosed", err)
	}
	if err := d.Load(); !errors.Is(err, ErrClosed) {
		t.Errorf("Load after Close = %v, want ErrClosed", err)
	}
}

func TestDir_FeedsPipelineCache(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.wgsl"), shaderSource)
	d := newDir(t, root)
	if err := d.Load(); err != nil {
		t.Fatal(err)
	}

	store := pipecache.NewShaderStore()
	for _, ev := range d.DrainEvents() {
		s, ok := d.Shader(ev.ID)
		if !ok {
			t.Fatalf("event for unknown shader %v", ev.ID)
		}
		store.Set(ev.ID, s)
	}
	if store.Len() != 1 {
		t.Errorf("store has %d shaders, want 1", store.Len())
	}
}
