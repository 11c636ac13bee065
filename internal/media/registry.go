package media

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// File is a media registry entry. FPS may be zero when the container did not
// declare a frame rate; consumers fall back to their own sampling rate and
// never block probing for one.
type File struct {
	ID       string
	Name     string
	Type     MediaType
	Source   ByteSource
	Width    int
	Height   int
	Duration float64 // seconds
	FPS      float64
}

// Registry maps media ids to registered files. It is the engine's view of
// the project's imported media; the editor owns the authoritative copy.
type Registry struct {
	mu    sync.RWMutex
	files map[string]*File
}

// NewRegistry creates an empty media registry.
func NewRegistry() *Registry {
	return &Registry{files: make(map[string]*File)}
}

// Register adds a file to the registry. A missing ID is assigned.
func (r *Registry) Register(f *File) (*File, error) {
	if f == nil {
		return nil, fmt.Errorf("nil media file")
	}
	if f.Source == nil {
		return nil, fmt.Errorf("media file %q has no byte source", f.Name)
	}
	if f.ID == "" {
		f.ID = uuid.NewString()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.files[f.ID] = f
	return f, nil
}

// Lookup returns the file for id, or nil when unknown.
func (r *Registry) Lookup(id string) *File {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.files[id]
}

// Remove drops a file from the registry.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.files, id)
}

// Len returns the number of registered files.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.files)
}
