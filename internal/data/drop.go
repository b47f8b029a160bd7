package data

import (
	"fmt"
	"math/rand"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/l1jgo/phasetrack/internal/world"
)

// DropItem is one possible drop of a block.
type DropItem struct {
	Item   string `yaml:"item"`
	Min    int32  `yaml:"min"`
	Max    int32  `yaml:"max"`
	Chance int    `yaml:"chance"` // out of 1,000,000; 0 means always
}

type blockDropEntry struct {
	Block string     `yaml:"block"`
	Items []DropItem `yaml:"items"`
}

type dropListFile struct {
	Drops []blockDropEntry `yaml:"drops"`
}

const chanceScale = 1_000_000

// DropTable holds block drops indexed by block type.
type DropTable struct {
	drops map[string][]DropItem
	rng   *rand.Rand
}

// Get returns the drop list for a block type, or nil if none defined.
func (t *DropTable) Get(block string) []DropItem {
	return t.drops[block]
}

// Count returns the number of block types with drop entries.
func (t *DropTable) Count() int {
	return len(t.drops)
}

// Seed makes rolls reproducible.
func (t *DropTable) Seed(seed int64) {
	t.rng = rand.New(rand.NewSource(seed))
}

// Drops rolls the drops of v. Single-goroutine use only.
func (t *DropTable) Drops(v world.Value) []world.Value {
	items := t.drops[v.Type]
	if len(items) == 0 {
		return nil
	}
	var out []world.Value
	for _, d := range items {
		if d.Chance > 0 && d.Chance < chanceScale && t.rng.Intn(chanceScale) >= d.Chance {
			continue
		}
		n := d.Min
		if d.Max > d.Min {
			n += int32(t.rng.Intn(int(d.Max-d.Min) + 1))
		}
		if n <= 0 {
			continue
		}
		out = append(out, world.Value{Type: d.Item, Count: n})
	}
	return out
}

// LoadDropTable loads block drop data from a YAML file.
func LoadDropTable(path string) (*DropTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read drop_list: %w", err)
	}
	var f dropListFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse drop_list: %w", err)
	}
	t := &DropTable{
		drops: make(map[string][]DropItem, len(f.Drops)),
		rng:   rand.New(rand.NewSource(1)),
	}
	for _, entry := range f.Drops {
		for _, it := range entry.Items {
			if it.Min < 0 || it.Max < 0 {
				return nil, fmt.Errorf("parse drop_list: %s/%s: negative count", entry.Block, it.Item)
			}
		}
		t.drops[entry.Block] = entry.Items
	}
	return t, nil
}
