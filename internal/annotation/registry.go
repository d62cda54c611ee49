package annotation

import (
	"errors"
	"sync"

	"charthub/internal/domain"
)

// ErrNotFound is returned when an update or delete references an ID the
// registry does not hold. During propagation this is a normal condition:
// sibling surfaces may not have instantiated the annotation yet.
var ErrNotFound = errors.New("annotation not found")

// Surface is the rendering collaborator for one chart. The registry calls
// Remove exactly once per deleted annotation; GPU-resource lifetimes are
// entirely the surface's concern.
type Surface interface {
	Create(id ID, g domain.Geometry) error
	Update(id ID, g domain.Geometry) error
	Remove(id ID) error
	// SetEditable toggles user interaction for an existing annotation.
	SetEditable(id ID, editable bool) error
}

// Annotation is the registry's record of one rendered annotation.
type Annotation struct {
	ID       ID
	Geometry domain.Geometry
	Editable bool
}

// Registry indexes the annotations rendered on a single chart surface.
// It is mutated from its window's event loop; the mutex covers the
// multi-goroutine case.
type Registry struct {
	timeframe domain.Timeframe
	surface   Surface

	mu    sync.Mutex
	annos map[string]*Annotation
}

// NewRegistry creates a registry bound to one timeframe's surface.
func NewRegistry(tf domain.Timeframe, surface Surface) *Registry {
	return &Registry{
		timeframe: tf,
		surface:   surface,
		annos:     make(map[string]*Annotation),
	}
}

// Timeframe returns the chart timeframe this registry serves.
func (r *Registry) Timeframe() domain.Timeframe { return r.timeframe }

// Create renders a new annotation. Creating an ID that already exists is
// treated as an update so that replayed remote creates stay idempotent.
func (r *Registry) Create(id ID, g domain.Geometry, editable bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := id.String()
	if _, ok := r.annos[key]; ok {
		return r.updateLocked(id, g)
	}
	if err := r.surface.Create(id, g); err != nil {
		return err
	}
	r.annos[key] = &Annotation{ID: id, Geometry: g, Editable: editable}
	if !editable {
		// Surfaces default new annotations to editable.
		_ = r.surface.SetEditable(id, false)
	}
	return nil
}

// Update replaces an annotation's geometry.
func (r *Registry) Update(id ID, g domain.Geometry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.updateLocked(id, g)
}

func (r *Registry) updateLocked(id ID, g domain.Geometry) error {
	a, ok := r.annos[id.String()]
	if !ok {
		return ErrNotFound
	}
	if err := r.surface.Update(id, g); err != nil {
		return err
	}
	a.Geometry = g
	return nil
}

// Delete removes an annotation, releasing its surface handle exactly once.
func (r *Registry) Delete(id ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := id.String()
	if _, ok := r.annos[key]; !ok {
		return ErrNotFound
	}
	delete(r.annos, key)
	return r.surface.Remove(id)
}

// Get returns a copy of the annotation record for id.
func (r *Registry) Get(id ID) (Annotation, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.annos[id.String()]
	if !ok {
		return Annotation{}, false
	}
	return *a, true
}

// Len returns the number of annotations on the surface.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.annos)
}

// SetEditableByOwner applies an editability flag to every annotation whose
// owner class matches, returning the affected IDs.
func (r *Registry) SetEditableByOwner(class OwnerClass, editable bool) []ID {
	r.mu.Lock()
	defer r.mu.Unlock()

	var affected []ID
	for _, a := range r.annos {
		if ClassifyOwner(a.ID.Owner) != class {
			continue
		}
		if a.Editable == editable {
			continue
		}
		a.Editable = editable
		_ = r.surface.SetEditable(a.ID, editable)
		affected = append(affected, a.ID)
	}
	return affected
}

// DeleteByOwner removes every annotation with the given owner component,
// used when internal markers are recomputed from scratch. Returns the
// number removed.
func (r *Registry) DeleteByOwner(owner string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for key, a := range r.annos {
		if a.ID.Owner != owner {
			continue
		}
		delete(r.annos, key)
		_ = r.surface.Remove(a.ID)
		removed++
	}
	return removed
}

// Dispose removes every annotation, releasing each surface handle exactly
// once. Used on window teardown.
func (r *Registry) Dispose() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, a := range r.annos {
		delete(r.annos, key)
		_ = r.surface.Remove(a.ID)
	}
}
