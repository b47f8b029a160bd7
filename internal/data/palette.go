package data

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/l1jgo/phasetrack/internal/world"
)

// BlockInfo describes one block type.
type BlockInfo struct {
	Type      string `yaml:"type"`
	Container bool   `yaml:"container"` // owns a slot container
	Reactive  bool   `yaml:"reactive"`  // re-evaluated when a neighbor changes
}

type paletteFile struct {
	Blocks []BlockInfo `yaml:"blocks"`
	Items  []string    `yaml:"items"`
}

// Palette is the set of known block and item types.
type Palette struct {
	blocks map[string]*BlockInfo
	items  map[string]struct{}
}

// LoadPalette loads palette.yaml.
func LoadPalette(path string) (*Palette, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read palette: %w", err)
	}
	var f paletteFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse palette: %w", err)
	}
	p := &Palette{
		blocks: make(map[string]*BlockInfo, len(f.Blocks)+1),
		items:  make(map[string]struct{}, len(f.Items)),
	}
	p.blocks[world.AirType] = &BlockInfo{Type: world.AirType}
	for i := range f.Blocks {
		b := &f.Blocks[i]
		if b.Type == "" {
			return nil, fmt.Errorf("parse palette: block %d has no type", i)
		}
		p.blocks[b.Type] = b
	}
	for _, it := range f.Items {
		p.items[it] = struct{}{}
	}
	return p, nil
}

// Known reports whether typ is a block or item type.
func (p *Palette) Known(typ string) bool {
	if _, ok := p.blocks[typ]; ok {
		return true
	}
	_, ok := p.items[typ]
	return ok
}

func (p *Palette) IsContainer(typ string) bool {
	b := p.blocks[typ]
	return b != nil && b.Container
}

func (p *Palette) IsReactive(typ string) bool {
	b := p.blocks[typ]
	return b != nil && b.Reactive
}

// Block returns the block info for typ, or nil.
func (p *Palette) Block(typ string) *BlockInfo { return p.blocks[typ] }

// BlockTypes lists block types, sorted.
func (p *Palette) BlockTypes() []string {
	out := make([]string, 0, len(p.blocks))
	for t := range p.blocks {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Count returns the number of block types, air included.
func (p *Palette) Count() int { return len(p.blocks) }
