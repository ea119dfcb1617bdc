package workflow

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"zimage/logger"
)

// ErrUnknownTemplate is returned by Fill for a name that was never loaded.
var ErrUnknownTemplate = errors.New("unknown workflow template")

// MissingSlotError means a template lacks a node for a required request
// field. It is a configuration error and surfaces at startup, not per call.
type MissingSlotError struct {
	Template string
	Slot     string
}

func (e *MissingSlotError) Error() string {
	return fmt.Sprintf("workflow template %q has no %s slot", e.Template, e.Slot)
}

type template struct {
	graph Graph
	slots slots
}

// Store holds the parameterized job graphs. Read-only after Load, so it is
// shared across requests without locking.
type Store struct {
	templates map[string]template
}

// Load reads every *.json graph in dir, resolves its placeholder slots and
// validates that each required slot exists.
func Load(dir string) (*Store, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to glob workflow templates: %w", err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no workflow templates found in %s", dir)
	}

	s := &Store{templates: make(map[string]template, len(files))}
	for _, file := range files {
		name := strings.TrimSuffix(filepath.Base(file), ".json")

		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read workflow template %s: %w", file, err)
		}

		var graph Graph
		if err := json.Unmarshal(data, &graph); err != nil {
			return nil, fmt.Errorf("failed to parse workflow template %s: %w", file, err)
		}

		slots := resolveSlots(graph)
		if err := validateSlots(name, slots); err != nil {
			return nil, err
		}

		s.templates[name] = template{graph: graph, slots: slots}
		logger.Debug("Loaded workflow template", "name", name,
			"positive", slots.positive, "negative", slots.negative,
			"sampler", slots.sampler, "latent", slots.latent)
	}

	logger.Info("Workflow templates loaded", "count", len(s.templates), "dir", dir)
	return s, nil
}

// Names returns the loaded template names, sorted.
func (s *Store) Names() []string {
	names := make([]string, 0, len(s.templates))
	for name := range s.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Has reports whether a template with the given name was loaded.
func (s *Store) Has(name string) bool {
	_, ok := s.templates[name]
	return ok
}

// Fill copies the named template and substitutes every placeholder slot
// with the corresponding parameter. It is a pure function of its inputs;
// the stored graph is never mutated.
func (s *Store) Fill(name string, p Params) (Graph, error) {
	tpl, ok := s.templates[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTemplate, name)
	}

	graph := cloneGraph(tpl.graph)

	for _, id := range tpl.slots.positive {
		graph[id].Inputs["text"] = p.Prompt
	}
	for _, id := range tpl.slots.negative {
		graph[id].Inputs["text"] = p.NegativePrompt
	}
	for _, id := range tpl.slots.sampler {
		inputs := graph[id].Inputs
		if _, ok := inputs["seed"]; ok {
			inputs["seed"] = p.Seed
		}
		if _, ok := inputs["noise_seed"]; ok {
			inputs["noise_seed"] = p.Seed
		}
		if _, ok := inputs["steps"]; ok {
			inputs["steps"] = p.Steps
		}
	}
	for _, id := range tpl.slots.latent {
		inputs := graph[id].Inputs
		inputs["width"] = p.Width
		inputs["height"] = p.Height
	}

	return graph, nil
}

func validateSlots(name string, s slots) error {
	switch {
	case len(s.positive) == 0:
		return &MissingSlotError{Template: name, Slot: "prompt"}
	case len(s.sampler) == 0:
		return &MissingSlotError{Template: name, Slot: "seed/steps"}
	case len(s.latent) == 0:
		return &MissingSlotError{Template: name, Slot: "width/height"}
	}
	return nil
}

var (
	textEncodeTypes = map[string]bool{
		"CLIPTextEncode":  true,
		"Qwen3TextEncode": true,
	}
	samplerTypes = map[string]bool{
		"KSampler":              true,
		"KSamplerAdvanced":      true,
		"FlowMatchSampler":      true,
		"SamplerCustomAdvanced": true,
	}
)

// resolveSlots walks the graph once and classifies nodes by class_type and
// _meta title, the same matching the engine's own frontend uses.
func resolveSlots(graph Graph) slots {
	var out slots

	for id, node := range graph {
		switch {
		case textEncodeTypes[node.ClassType]:
			if _, ok := node.Inputs["text"]; !ok {
				continue
			}
			title := ""
			if node.Meta != nil {
				title = strings.ToLower(node.Meta.Title)
			}
			switch {
			case strings.Contains(title, "negative"):
				out.negative = append(out.negative, id)
			case strings.Contains(title, "positive") || strings.Contains(title, "prompt"):
				out.positive = append(out.positive, id)
			case id == "3": // untitled legacy layout: node 3 is negative
				out.negative = append(out.negative, id)
			default:
				out.positive = append(out.positive, id)
			}

		case samplerTypes[node.ClassType]:
			_, hasSeed := node.Inputs["seed"]
			_, hasNoise := node.Inputs["noise_seed"]
			_, hasSteps := node.Inputs["steps"]
			if hasSeed || hasNoise || hasSteps {
				out.sampler = append(out.sampler, id)
			}

		case node.ClassType == "EmptyLatentImage" || node.ClassType == "EmptySD3LatentImage":
			_, hasWidth := node.Inputs["width"]
			_, hasHeight := node.Inputs["height"]
			if hasWidth && hasHeight {
				out.latent = append(out.latent, id)
			}
		}
	}

	sort.Strings(out.positive)
	sort.Strings(out.negative)
	sort.Strings(out.sampler)
	sort.Strings(out.latent)
	return out
}

func cloneGraph(graph Graph) Graph {
	out := make(Graph, len(graph))
	for id, node := range graph {
		copied := Node{ClassType: node.ClassType, Inputs: make(map[string]any, len(node.Inputs))}
		if node.Meta != nil {
			meta := *node.Meta
			copied.Meta = &meta
		}
		for k, v := range node.Inputs {
			copied.Inputs[k] = cloneValue(v)
		}
		out[id] = copied
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(val))
		for k, inner := range val {
			m[k] = cloneValue(inner)
		}
		return m
	case []any:
		s := make([]any, len(val))
		for i, inner := range val {
			s[i] = cloneValue(inner)
		}
		return s
	default:
		return val
	}
}
