package validation

import (
	"fmt"
	"sort"

	"github.com/reflow-sh/reflow/internal/expressions"
	"github.com/reflow-sh/reflow/pkg/schema"
)

// validateDependencies performs graph analysis on operation instances:
// cycle detection over result-consumption edges (Kahn's algorithm) plus
// cycle detection over ${{ops.*}} parameter references.
func validateDependencies(instances []*schema.OperationInstance) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	ids := make(map[int]bool, len(instances))
	for _, inst := range instances {
		ids[inst.ID] = true
	}

	// edges[id] = instances whose results id consumes,
	// reverse[id] = instances consuming id's result.
	edges := make(map[int][]int, len(instances))
	reverse := make(map[int][]int, len(instances))

	for _, inst := range instances {
		seen := make(map[int]bool, len(inst.Dependencies))
		for _, dep := range inst.Dependencies {
			if !ids[dep.FromID] || seen[dep.FromID] || dep.FromID == inst.ID {
				continue // self-references already caught by semantic
			}
			seen[dep.FromID] = true
			edges[inst.ID] = append(edges[inst.ID], dep.FromID)
			reverse[dep.FromID] = append(reverse[dep.FromID], inst.ID)
		}
	}

	// Kahn's algorithm for cycle detection.
	inDegree := make(map[int]int, len(instances))
	for id := range ids {
		inDegree[id] = len(edges[id])
	}

	queue := make([]int, 0, len(instances))
	for id, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}
	// Sort roots for deterministic output.
	sort.Ints(queue)

	visited := 0
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		visited++
		for _, consumer := range reverse[node] {
			inDegree[consumer]--
			if inDegree[consumer] == 0 {
				queue = append(queue, consumer)
			}
		}
	}

	if visited != len(ids) {
		cyclic := make([]int, 0)
		for id, deg := range inDegree {
			if deg > 0 {
				cyclic = append(cyclic, id)
			}
		}
		sort.Ints(cyclic)
		result.AddError("ops", schema.ErrCodeValidation,
			fmt.Sprintf("operation results form a dependency cycle involving %v", cyclic))
		return result // interpolation analysis would report the same cycle
	}

	if err := expressions.DetectCircularRefs(instances); err != nil {
		result.AddError("ops", schema.ErrCodeInterpolation, err.Error())
	}

	return result
}
