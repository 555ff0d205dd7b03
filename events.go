package pipecache

import (
	"fmt"
	"sync"
)

// ShaderEventKind is the kind of a shader change.
type ShaderEventKind uint8

// Shader event kinds.
const (
	ShaderAdded ShaderEventKind = iota
	ShaderModified
	ShaderRemoved
)

func (k ShaderEventKind) String() string {
	switch k {
	case ShaderAdded:
		return "Added"
	case ShaderModified:
		return "Modified"
	case ShaderRemoved:
		return "Removed"
	default:
		return fmt.Sprintf("ShaderEventKind(%d)", uint8(k))
	}
}

// ShaderEvent reports a change of one shader.
type ShaderEvent struct {
	Kind ShaderEventKind
	ID   ShaderID
}

// ShaderProvider is a source of shaders with a change feed.
type ShaderProvider interface {
	// Shader returns the current source of id.
	Shader(id ShaderID) (*Shader, bool)

	// DrainEvents returns the events since the last call, oldest first.
	DrainEvents() []ShaderEvent
}

// ShaderStore is an in-memory ShaderProvider.
//
// Thread safety: ShaderStore is safe for concurrent use.
type ShaderStore struct {
	mu      sync.Mutex
	shaders map[ShaderID]*Shader
	events  []ShaderEvent
}

// NewShaderStore creates an empty store.
func NewShaderStore() *ShaderStore {
	return &ShaderStore{shaders: make(map[ShaderID]*Shader)}
}

// Set adds or replaces a shader and records the matching event.
func (s *ShaderStore) Set(id ShaderID, shader *Shader) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kind := ShaderAdded
	if _, ok := s.shaders[id]; ok {
		kind = ShaderModified
	}
	s.shaders[id] = shader
	s.events = append(s.events, ShaderEvent{Kind: kind, ID: id})
}

// Add parses WGSL source into a shader stored under the id of path and
// returns that id.
func (s *ShaderStore) Add(path, source string) ShaderID {
	id := ShaderIDFromPath(path)
	s.Set(id, ParseShader(path, source))
	return id
}

// Remove deletes a shader. Unknown ids are ignored.
func (s *ShaderStore) Remove(id ShaderID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.shaders[id]; !ok {
		return
	}
	delete(s.shaders, id)
	s.events = append(s.events, ShaderEvent{Kind: ShaderRemoved, ID: id})
}

// Shader implements ShaderProvider.
func (s *ShaderStore) Shader(id ShaderID) (*Shader, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	shader, ok := s.shaders[id]
	return shader, ok
}

// DrainEvents implements ShaderProvider.
func (s *ShaderStore) DrainEvents() []ShaderEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	events := s.events
	s.events = nil
	return events
}

// Len returns the number of stored shaders.
func (s *ShaderStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.shaders)
}
