// Package watch serves WGSL shaders from a directory tree and reports
// their changes through an fsnotify watcher.
//
// A Dir implements pipecache.ShaderProvider. Shader ids are derived from
// the slash-separated path relative to the root, so a file keeps its id
// across reloads and "#import \"lib/util.wgsl\"" names the file at
// root/lib/util.wgsl.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/gogpu/pipecache"
	"github.com/gogpu/pipecache/internal/parallel"
)

// Extension is the suffix of the files a Dir serves.
const Extension = ".wgsl"

var (
	// ErrNotDirectory is returned when the root is not a directory.
	ErrNotDirectory = errors.New("watch: root is not a directory")

	// ErrClosed is returned when using a closed Dir.
	ErrClosed = errors.New("watch: directory watcher is closed")
)

// Option configures a Dir.
type Option func(*Dir)

// WithLogger sets the logger. The default is pipecache.Logger().
func WithLogger(l *slog.Logger) Option {
	return func(d *Dir) {
		d.logger = l
	}
}

// WithValidation sets Shader.Validate on every loaded shader.
func WithValidation(validate bool) Option {
	return func(d *Dir) {
		d.validate = validate
	}
}

// WithWorkers sets the number of goroutines that read files during Load.
func WithWorkers(n int) Option {
	return func(d *Dir) {
		d.workers = n
	}
}

// Dir is a directory of shaders.
//
// Thread safety: Dir is safe for concurrent use. Events are produced by
// the watcher goroutine and consumed by DrainEvents.
type Dir struct {
	root     string
	logger   *slog.Logger
	validate bool
	workers  int

	watcher *fsnotify.Watcher
	pool    *parallel.Pool
	wg      sync.WaitGroup

	mu      sync.Mutex
	shaders map[pipecache.ShaderID]*pipecache.Shader
	events  []pipecache.ShaderEvent
	closed  bool
}

var _ pipecache.ShaderProvider = (*Dir)(nil)

// New creates a watcher for root. Nothing is read until Load.
func New(root string, opts ...Option) (*Dir, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("watch: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotDirectory, root)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: create file watcher: %w", err)
	}

	d := &Dir{
		root:    root,
		watcher: watcher,
		shaders: make(map[pipecache.ShaderID]*pipecache.Shader),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.logger == nil {
		d.logger = pipecache.Logger()
	}
	d.pool = parallel.NewPool(d.workers)
	return d, nil
}

// Root returns the watched directory.
func (d *Dir) Root() string { return d.root }

// loaded is the outcome of reading one file.
type loaded struct {
	rel    string
	shader *pipecache.Shader
	err    error
}

// Load reads every shader below the root, in parallel, and queues an
// event for each. Unreadable files are logged and skipped.
func (d *Dir) Load() error {
	var files []string
	err := filepath.WalkDir(d.root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !entry.IsDir() && isShader(path) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("watch: walk %s: %w", d.root, err)
	}

	results := parallel.Map(d.pool, files, d.read)

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	n := 0
	for _, r := range results {
		if r.err != nil {
			d.logger.Warn("skipping shader", "path", r.rel, "error", r.err)
			continue
		}
		d.setLocked(r.shader)
		n++
	}
	d.logger.Info("shaders loaded", "root", d.root, "count", n)
	return nil
}

// read loads and parses one file.
func (d *Dir) read(path string) loaded {
	rel, err := d.rel(path)
	if err != nil {
		return loaded{rel: path, err: err}
	}
	source, err := os.ReadFile(path)
	if err != nil {
		return loaded{rel: rel, err: err}
	}
	s := pipecache.ParseShader(rel, string(source))
	s.Validate = d.validate
	return loaded{rel: rel, shader: s}
}

func (d *Dir) rel(path string) (string, error) {
	rel, err := filepath.Rel(d.root, path)
	if err != nil {
		return "", err
	}
	return filepath.ToSlash(rel), nil
}

// setLocked stores s and queues Added or Modified. d.mu must be held.
func (d *Dir) setLocked(s *pipecache.Shader) {
	id := pipecache.ShaderIDFromPath(s.Path)
	kind := pipecache.ShaderAdded
	if _, ok := d.shaders[id]; ok {
		kind = pipecache.ShaderModified
	}
	d.shaders[id] = s
	d.events = append(d.events, pipecache.ShaderEvent{Kind: kind, ID: id})
}

// removeLocked drops the shader of rel. d.mu must be held.
func (d *Dir) removeLocked(rel string) bool {
	id := pipecache.ShaderIDFromPath(rel)
	if _, ok := d.shaders[id]; !ok {
		return false
	}
	delete(d.shaders, id)
	d.events = append(d.events, pipecache.ShaderEvent{Kind: pipecache.ShaderRemoved, ID: id})
	return true
}

// Start watches the tree until ctx is done or Close is called.
func (d *Dir) Start(ctx context.Context) error {
	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		return ErrClosed
	}

	err := filepath.WalkDir(d.root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			d.logger.Debug("adding directory to watch", "path", path)
			return d.watcher.Add(path)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("watch: add directories: %w", err)
	}

	d.logger.Info("watching shaders", "root", d.root)
	d.wg.Add(1)
	go d.run(ctx)
	return nil
}

func (d *Dir) run(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			d.handle(event)

		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.logger.Error("watcher error", "error", err)

		case <-ctx.Done():
			d.logger.Info("stopping shader watcher", "root", d.root)
			return
		}
	}
}

func (d *Dir) handle(event fsnotify.Event) {
	d.logger.Debug("file change", "path", event.Name, "op", event.Op.String())

	switch {
	case event.Op.Has(fsnotify.Remove), event.Op.Has(fsnotify.Rename):
		rel, err := d.rel(event.Name)
		if err != nil {
			return
		}
		d.mu.Lock()
		d.removeLocked(rel)
		d.mu.Unlock()

	case event.Op.Has(fsnotify.Create), event.Op.Has(fsnotify.Write):
		info, err := os.Stat(event.Name)
		if err != nil {
			return
		}
		if info.IsDir() {
			d.addDir(event.Name)
			return
		}
		if !isShader(event.Name) {
			return
		}
		d.reload(event.Name)
	}
}

// addDir watches a directory created after Start and loads its shaders.
func (d *Dir) addDir(path string) {
	_ = filepath.WalkDir(path, func(p string, entry fs.DirEntry, err error) error {
		if err != nil {
			return nil //nolint:nilerr // a vanished subtree is not an error
		}
		if entry.IsDir() {
			if err := d.watcher.Add(p); err != nil {
				d.logger.Warn("cannot watch directory", "path", p, "error", err)
			}
			return nil
		}
		if isShader(p) {
			d.reload(p)
		}
		return nil
	})
}

func (d *Dir) reload(path string) {
	r := d.read(path)
	if r.err != nil {
		d.logger.Warn("skipping shader", "path", r.rel, "error", r.err)
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.setLocked(r.shader)
}

// Shader implements pipecache.ShaderProvider.
func (d *Dir) Shader(id pipecache.ShaderID) (*pipecache.Shader, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.shaders[id]
	return s, ok
}

// DrainEvents implements pipecache.ShaderProvider.
func (d *Dir) DrainEvents() []pipecache.ShaderEvent {
	d.mu.Lock()
	defer d.mu.Unlock()
	events := d.events
	d.events = nil
	return events
}

// Len returns the number of loaded shaders.
func (d *Dir) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.shaders)
}

// Close stops the watcher and waits for its goroutine.
func (d *Dir) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	err := d.watcher.Close()
	d.wg.Wait()
	d.pool.Close()
	return err
}

func isShader(path string) bool {
	return strings.HasSuffix(path, Extension)
}
