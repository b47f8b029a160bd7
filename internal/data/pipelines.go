package data

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/l1jgo/phasetrack/internal/core/pipeline"
	"github.com/l1jgo/phasetrack/internal/world"
)

type regionEntry struct {
	Name string   `yaml:"name"`
	Min  [3]int32 `yaml:"min"`
	Max  [3]int32 `yaml:"max"`
}

// PipelineDef is one transition kind and its effect specs in run order.
type PipelineDef struct {
	Kind    string   `yaml:"kind"`
	Effects []string `yaml:"effects"`
}

type pipelineFile struct {
	ProtectedRegions []regionEntry `yaml:"protected_regions"`
	Pipelines        []PipelineDef `yaml:"pipelines"`
}

// PipelineSet is the parsed pipeline definition file.
type PipelineSet struct {
	Defs    []PipelineDef
	regions []pipeline.Region
}

// LoadPipelines loads pipelines.yaml.
func LoadPipelines(path string) (*PipelineSet, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pipelines: %w", err)
	}
	var f pipelineFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse pipelines: %w", err)
	}
	s := &PipelineSet{Defs: f.Pipelines}
	for _, r := range f.ProtectedRegions {
		lo := world.Pos{X: r.Min[0], Y: r.Min[1], Z: r.Min[2]}
		hi := world.Pos{X: r.Max[0], Y: r.Max[1], Z: r.Max[2]}
		if lo.X > hi.X || lo.Y > hi.Y || lo.Z > hi.Z {
			return nil, fmt.Errorf("parse pipelines: region %q: min exceeds max", r.Name)
		}
		s.regions = append(s.regions, pipeline.Region{Name: r.Name, Min: lo, Max: hi})
	}
	for i, d := range f.Pipelines {
		if d.Kind == "" {
			return nil, fmt.Errorf("parse pipelines: entry %d has no kind", i)
		}
	}
	return s, nil
}

// Regions returns the protected regions.
func (s *PipelineSet) Regions() []pipeline.Region { return s.regions }

// Install builds every definition through cat and registers it, in file
// order, and returns how many were registered.
func (s *PipelineSet) Install(reg *pipeline.Registry, cat *pipeline.Catalog) (int, error) {
	for _, d := range s.Defs {
		effects, err := cat.BuildAll(d.Effects)
		if err != nil {
			return 0, fmt.Errorf("pipeline %s: %w", d.Kind, err)
		}
		if err := reg.Register(pipeline.Kind(d.Kind), effects...); err != nil {
			return 0, err
		}
	}
	return len(s.Defs), nil
}
