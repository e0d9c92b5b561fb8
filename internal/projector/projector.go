package projector

import (
	"errors"
	"sync"

	"github.com/duisenbekovayan/ordersync/internal/models"
)

var ErrNotFound = errors.New("order not found")

// Projector owns the canonical ordered list of orders. Every mutation finds
// its target by id; the list is never re-sorted, so display order is
// whatever the bulk fetch and head inserts produced.
type Projector struct {
	mu     sync.RWMutex
	orders []models.Order
	index  map[int64]int
}

func New() *Projector {
	return &Projector{index: make(map[int64]int)}
}

// ReplaceAll swaps the collection for list. Repeated ids keep the position
// of their first occurrence with later occurrences merged in. A closed
// delivery flag already known for an id survives the swap.
func (p *Projector) ReplaceAll(list []models.Order) {
	orders := make([]models.Order, 0, len(list))
	index := make(map[int64]int, len(list))
	for _, o := range list {
		if i, ok := index[o.ID]; ok {
			orders[i] = orders[i].Apply(o.AsPatch())
			continue
		}
		index[o.ID] = len(orders)
		orders = append(orders, o)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range orders {
		if j, ok := p.index[orders[i].ID]; ok && p.orders[j].IsDeliveryStatusClosed {
			orders[i].IsDeliveryStatusClosed = true
		}
	}
	p.orders = orders
	p.index = index
}

// Upsert patches the order in place when the id is known, keeping its
// position, and inserts it at the head otherwise. It reports whether the
// order was inserted.
func (p *Projector) Upsert(patch models.OrderPatch) (models.Order, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if i, ok := p.index[patch.ID]; ok {
		p.orders[i] = p.orders[i].Apply(patch)
		return p.orders[i], false
	}

	o := models.FromPatch(patch)
	p.orders = append([]models.Order{o}, p.orders...)
	for id, i := range p.index {
		p.index[id] = i + 1
	}
	p.index[o.ID] = 0
	return o, true
}

// PatchFields merges patch into an existing order only.
func (p *Projector) PatchFields(id int64, patch models.OrderPatch) (models.Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	i, ok := p.index[id]
	if !ok {
		return models.Order{}, ErrNotFound
	}
	patch.ID = id
	p.orders[i] = p.orders[i].Apply(patch)
	return p.orders[i], nil
}

func (p *Projector) Remove(id int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	i, ok := p.index[id]
	if !ok {
		return false
	}
	p.orders = append(p.orders[:i], p.orders[i+1:]...)
	delete(p.index, id)
	for oid, j := range p.index {
		if j > i {
			p.index[oid] = j - 1
		}
	}
	return true
}

func (p *Projector) Get(id int64) (models.Order, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	i, ok := p.index[id]
	if !ok {
		return models.Order{}, false
	}
	return p.orders[i], true
}

// List returns a copy of the collection in its current order.
func (p *Projector) List() []models.Order {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]models.Order, len(p.orders))
	copy(out, p.orders)
	return out
}

func (p *Projector) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.orders)
}
