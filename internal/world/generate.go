package world

// ChunkSize is the edge length of a generated region.
const ChunkSize = 16

// Layer is one horizontal band of a flat generator, bottom up.
type Layer struct {
	Type   string
	Height int32
}

// DefaultLayers is bedrock, two dirt and a grass cover.
var DefaultLayers = []Layer{
	{Type: "bedrock", Height: 1},
	{Type: "dirt", Height: 2},
	{Type: "grass", Height: 1},
}

// Placement is one generated cell.
type Placement struct {
	Pos   Pos
	Value Value
}

// FlatChunk returns the cells of chunk (cx, cz) for the given layers, column by
// column and bottom up within each column.
func FlatChunk(cx, cz int32, layers []Layer) []Placement {
	if len(layers) == 0 {
		layers = DefaultLayers
	}
	var height int32
	for _, l := range layers {
		height += l.Height
	}
	out := make([]Placement, 0, ChunkSize*ChunkSize*int(height))
	for dx := int32(0); dx < ChunkSize; dx++ {
		for dz := int32(0); dz < ChunkSize; dz++ {
			x, z := cx*ChunkSize+dx, cz*ChunkSize+dz
			var y int32
			for _, l := range layers {
				for i := int32(0); i < l.Height; i++ {
					out = append(out, Placement{Pos: Pos{X: x, Y: y, Z: z}, Value: Value{Type: l.Type}})
					y++
				}
			}
		}
	}
	return out
}
