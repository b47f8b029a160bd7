package ecs

// World owns the entity pool, the component stores attached to it and a
// despawn queue flushed once per tick.
type World struct {
	pool    *EntityPool
	stores  []Removable
	pending []EntityID
}

func NewWorld() *World {
	return &World{
		pool:    NewEntityPool(),
		pending: make([]EntityID, 0, 16),
	}
}

// Attach registers a component store for bulk removal on despawn.
func (w *World) Attach(store Removable) {
	w.stores = append(w.stores, store)
}

func (w *World) CreateEntity() EntityID { return w.pool.Create() }

func (w *World) Alive(id EntityID) bool { return w.pool.Alive(id) }

func (w *World) Live() int { return w.pool.Live() }

// MarkForDestruction queues id for the next FlushDestroyQueue.
func (w *World) MarkForDestruction(id EntityID) {
	w.pending = append(w.pending, id)
}

// PendingDestruction returns the number of queued despawns.
func (w *World) PendingDestruction() int { return len(w.pending) }

// FlushDestroyQueue destroys queued entities and strips their components.
// Ids queued twice are destroyed once.
func (w *World) FlushDestroyQueue() int {
	n := 0
	for _, id := range w.pending {
		if !w.pool.Alive(id) {
			continue
		}
		for _, s := range w.stores {
			s.Remove(id)
		}
		w.pool.Destroy(id)
		n++
	}
	w.pending = w.pending[:0]
	return n
}
