package floor

import (
	"context"
	"sort"
	"sync"

	"ms-ledger/internal/models"
)

// Directory answers questions about placed floor elements. The floor-plan
// service owns them; this service only reads.
type Directory interface {
	ElementExists(ctx context.Context, eventID, elementID string) (bool, error)
	ElementType(ctx context.Context, eventID, elementID string) (models.ElementType, error)
	ListElementIDs(ctx context.Context, eventID string) ([]string, error)
}

// StaticDirectory is an in-memory directory for local runs and tests.
type StaticDirectory struct {
	mu       sync.RWMutex
	elements map[string]map[string]models.FloorElement
}

func NewStaticDirectory(elements ...models.FloorElement) *StaticDirectory {
	d := &StaticDirectory{elements: map[string]map[string]models.FloorElement{}}
	for _, e := range elements {
		d.Add(e)
	}
	return d
}

func (d *StaticDirectory) Add(e models.FloorElement) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.elements[e.EventID] == nil {
		d.elements[e.EventID] = map[string]models.FloorElement{}
	}
	d.elements[e.EventID][e.ID] = e
}

func (d *StaticDirectory) ElementExists(_ context.Context, eventID, elementID string) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.elements[eventID][elementID]
	return ok, nil
}

func (d *StaticDirectory) ElementType(_ context.Context, eventID, elementID string) (models.ElementType, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.elements[eventID][elementID]
	if !ok {
		return "", models.ErrElementNotFound
	}
	return e.Type, nil
}

func (d *StaticDirectory) ListElementIDs(_ context.Context, eventID string) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ids := make([]string, 0, len(d.elements[eventID]))
	for id := range d.elements[eventID] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
