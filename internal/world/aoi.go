package world

import (
	"sort"

	"github.com/l1jgo/phasetrack/internal/core/ecs"
)

// EntityGrid buckets entities by chunk column so position lookups only scan
// one cell. Single-goroutine access only (simulation loop), no locks.
type EntityGrid struct {
	cells map[cellKey]map[ecs.EntityID]struct{}
	where map[ecs.EntityID]cellKey
}

type cellKey struct {
	cx int32
	cz int32
}

func toCellCoord(v int32) int32 {
	if v < 0 {
		return (v - ChunkSize + 1) / ChunkSize
	}
	return v / ChunkSize
}

func cellOf(p Pos) cellKey {
	return cellKey{cx: toCellCoord(p.X), cz: toCellCoord(p.Z)}
}

func NewEntityGrid() *EntityGrid {
	return &EntityGrid{
		cells: make(map[cellKey]map[ecs.EntityID]struct{}),
		where: make(map[ecs.EntityID]cellKey),
	}
}

// Add places an entity into the cell containing p, moving it if it was
// already tracked elsewhere.
func (g *EntityGrid) Add(id ecs.EntityID, p Pos) {
	k := cellOf(p)
	if old, ok := g.where[id]; ok {
		if old == k {
			return
		}
		g.Remove(id)
	}
	cell := g.cells[k]
	if cell == nil {
		cell = make(map[ecs.EntityID]struct{})
		g.cells[k] = cell
	}
	cell[id] = struct{}{}
	g.where[id] = k
}

// Remove takes an entity out of the grid. It satisfies ecs.Removable so the
// grid forgets destroyed entities.
func (g *EntityGrid) Remove(id ecs.EntityID) {
	k, ok := g.where[id]
	if !ok {
		return
	}
	delete(g.where, id)
	cell := g.cells[k]
	delete(cell, id)
	if len(cell) == 0 {
		delete(g.cells, k)
	}
}

// InChunk returns the entities in chunk column (cx, cz), ordered by id.
func (g *EntityGrid) InChunk(cx, cz int32) []ecs.EntityID {
	cell := g.cells[cellKey{cx: cx, cz: cz}]
	out := make([]ecs.EntityID, 0, len(cell))
	for id := range cell {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Len returns the number of tracked entities.
func (g *EntityGrid) Len() int { return len(g.where) }
