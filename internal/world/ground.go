package world

import (
	"github.com/l1jgo/phasetrack/internal/core/ecs"
)

// EntityPos is the position component of a spawned entity.
type EntityPos struct {
	Pos Pos
}

// EntityInfo is the descriptive component of a spawned entity.
// Item entities carry the dropped stack in Item.
type EntityInfo struct {
	Type string
	Item Value
}

// SpawnEntity creates an entity from spec and returns its id.
func (s *State) SpawnEntity(spec EntitySpec) ecs.EntityID {
	id := s.entities.CreateEntity()
	s.position.Set(id, &EntityPos{Pos: spec.Pos})
	s.info.Set(id, &EntityInfo{Type: spec.Type, Item: spec.Item})
	s.grid.Add(id, spec.Pos)
	return id
}

// Entity returns the components of a live entity.
func (s *State) Entity(id ecs.EntityID) (*EntityPos, *EntityInfo, bool) {
	if !s.entities.Alive(id) {
		return nil, nil, false
	}
	p, ok := s.position.Get(id)
	if !ok {
		return nil, nil, false
	}
	info, _ := s.info.Get(id)
	return p, info, true
}

// EntitiesAt returns the ids of entities standing at p.
func (s *State) EntitiesAt(p Pos) []ecs.EntityID {
	var out []ecs.EntityID
	k := cellOf(p)
	for _, id := range s.grid.InChunk(k.cx, k.cz) {
		if ep, ok := s.position.Get(id); ok && ep.Pos == p {
			out = append(out, id)
		}
	}
	return out
}

// EntitiesInChunk returns the ids of entities inside chunk column (cx, cz).
func (s *State) EntitiesInChunk(cx, cz int32) []ecs.EntityID {
	return s.grid.InChunk(cx, cz)
}

// EntityCount returns the number of entities with a position.
func (s *State) EntityCount() int {
	return s.position.Len()
}

// Despawn queues an entity for removal at the next FlushDespawned.
func (s *State) Despawn(id ecs.EntityID) {
	s.entities.MarkForDestruction(id)
}

// FlushDespawned removes queued entities and returns how many went.
func (s *State) FlushDespawned() int {
	return s.entities.FlushDestroyQueue()
}
