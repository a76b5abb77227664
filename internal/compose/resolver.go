package compose

import (
	"clipforge/internal/domain"
	"clipforge/internal/faults"
)

// Chain orders a profile's stages by walking the predecessor links forward
// from the stage marked first. The walk is iterative with a visited set, so a
// cycle or a fork is reported instead of traversed. Disconnected stages (nil
// predecessor) are left out entirely.
func Chain(stages []domain.Stage) ([]domain.Stage, error) {
	var first *domain.Stage
	// successor index: predecessor stage id -> stage
	succ := make(map[string]domain.Stage, len(stages))
	byID := make(map[string]domain.Stage, len(stages))
	for _, s := range stages {
		byID[s.ID] = s
		if s.LastStage == nil {
			continue
		}
		if s.First() {
			if first != nil {
				return nil, faults.Configf("stage chain has two first stages: %s and %s", first.ID, s.ID)
			}
			s := s
			first = &s
			continue
		}
		if _, dup := succ[*s.LastStage]; dup {
			return nil, faults.Configf("stage chain forks at stage %s", *s.LastStage)
		}
		succ[*s.LastStage] = s
	}
	if first == nil {
		if len(stages) == 0 {
			return nil, nil
		}
		return nil, faults.Configf("stage chain has no first stage")
	}

	visited := map[string]bool{}
	var chain []domain.Stage
	cur := *first
	for {
		if visited[cur.ID] {
			return nil, faults.Configf("stage chain cycle detected at stage %s", cur.ID)
		}
		visited[cur.ID] = true
		chain = append(chain, cur)
		next, ok := succ[cur.ID]
		if !ok {
			return chain, nil
		}
		if _, known := byID[next.ID]; !known {
			return nil, faults.Configf("stage chain references unknown stage %s", next.ID)
		}
		cur = next
	}
}

// Resolve walks the ordered stage chain, dispatching each layer to its
// registered handler and folding the results into one composition context.
// Handler errors propagate unchanged; the resolver only classifies its own
// graph and dispatch defects, which are always configuration faults.
func Resolve(reg *Registry, stages []domain.Stage, layers map[string][]domain.Layer, in Inputs) (*Context, error) {
	chain, err := Chain(stages)
	if err != nil {
		return nil, err
	}
	cc := NewContext(in)
	for _, stage := range chain {
		for _, layer := range layers[stage.ID] {
			tag, body, err := DecodeHeader(layer.Payload)
			if err != nil {
				return nil, err
			}
			h, ok := reg.Lookup(tag)
			if !ok {
				return nil, faults.Configf("layer %s in stage %s has unknown type tag %d", layer.ID, stage.Name, tag)
			}
			if err := h.Apply(body, in, cc); err != nil {
				return nil, err
			}
		}
	}
	return cc, nil
}
