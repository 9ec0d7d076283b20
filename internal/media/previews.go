package media

import (
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/lexiqai/field-assist/internal/observability"
)

// PreviewPathPrefix is where the console serves preview handles.
const PreviewPathPrefix = "/previews/"

var (
	// ErrUnknownHandle is returned when releasing a handle that is not live,
	// including a second release of the same handle.
	ErrUnknownHandle = errors.New("unknown preview handle")
)

// Handle identifies a live preview. The zero Handle means "no preview".
type Handle struct {
	ID string
}

// IsZero reports whether the handle is unset.
func (h Handle) IsZero() bool {
	return h.ID == ""
}

// URL returns the console path of the preview, or "" for the zero handle.
func (h Handle) URL() string {
	if h.IsZero() {
		return ""
	}
	return PreviewPathPrefix + h.ID
}

// Previews is the registry of live preview handles.
type Previews struct {
	mu      sync.RWMutex
	handles map[string]*Asset

	allocated int
	released  int
}

// NewPreviews creates an empty registry.
func NewPreviews() *Previews {
	return &Previews{handles: make(map[string]*Asset)}
}

// Allocate registers a preview for the asset and stores the handle on it.
func (p *Previews) Allocate(asset *Asset) Handle {
	handle := Handle{ID: uuid.New().String()}

	p.mu.Lock()
	p.handles[handle.ID] = asset
	p.allocated++
	live := len(p.handles)
	p.mu.Unlock()

	asset.Preview = handle
	observability.SetPreviewHandles(live)
	return handle
}

// Release frees a handle. Releasing the zero handle is a no-op.
func (p *Previews) Release(handle Handle) error {
	if handle.IsZero() {
		return nil
	}

	p.mu.Lock()
	if _, ok := p.handles[handle.ID]; !ok {
		p.mu.Unlock()
		return ErrUnknownHandle
	}
	delete(p.handles, handle.ID)
	p.released++
	live := len(p.handles)
	p.mu.Unlock()

	observability.SetPreviewHandles(live)
	return nil
}

// Lookup returns the asset behind a live handle id.
func (p *Previews) Lookup(id string) (*Asset, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	asset, ok := p.handles[id]
	return asset, ok
}

// Outstanding returns the number of live handles.
func (p *Previews) Outstanding() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.handles)
}

// Counts returns how many handles were ever allocated and released.
func (p *Previews) Counts() (allocated, released int) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.allocated, p.released
}
