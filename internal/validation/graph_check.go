package validation

import (
	"fmt"
	"sort"

	"github.com/rendis/stepflow/pkg/schema"
)

// validateGraph reports unreachable steps as warnings and cycles that no
// branching step can leave as errors. modes holds the resolved link mode of
// each step; steps missing from it are treated as able to branch.
func validateGraph(rev *schema.WorkflowRevision, modes map[int]schema.LinkMode) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	edges := make(map[int][]int, len(rev.Steps))
	for _, l := range rev.Links {
		edges[l.FromStepNo] = append(edges[l.FromStepNo], l.ToStepNo)
	}

	// Reachability: BFS from the start step.
	reachable := map[int]bool{rev.StartStepNo: true}
	queue := []int{rev.StartStepNo}
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		for _, next := range edges[node] {
			if !reachable[next] {
				reachable[next] = true
				queue = append(queue, next)
			}
		}
	}
	for i, s := range rev.Steps {
		if !reachable[s.StepNo] {
			result.AddWarning(fmt.Sprintf("steps[%d]", i), schema.ErrCodeValidation,
				fmt.Sprintf("step %d is unreachable from start step %d", s.StepNo, rev.StartStepNo))
		}
	}

	// Unconditional cycles: restrict to ONE and CONTAINER steps, whose next
	// step never depends on output, and look for a cycle with Kahn's algorithm.
	fixed := make(map[int]bool)
	for no, mode := range modes {
		if mode == schema.LinkModeOne || mode == schema.LinkModeContainer {
			fixed[no] = true
		}
	}
	inDegree := make(map[int]int, len(fixed))
	for no := range fixed {
		inDegree[no] = 0
	}
	for no := range fixed {
		for _, next := range edges[no] {
			if fixed[next] {
				inDegree[next]++
			}
		}
	}
	ready := make([]int, 0, len(fixed))
	for no, deg := range inDegree {
		if deg == 0 {
			ready = append(ready, no)
		}
	}
	for len(ready) > 0 {
		node := ready[0]
		ready = ready[1:]
		delete(inDegree, node)
		for _, next := range edges[node] {
			if !fixed[next] {
				continue
			}
			inDegree[next]--
			if inDegree[next] == 0 {
				ready = append(ready, next)
			}
		}
	}
	if len(inDegree) > 0 {
		cycle := make([]int, 0, len(inDegree))
		for no := range inDegree {
			cycle = append(cycle, no)
		}
		sort.Ints(cycle)
		result.AddStepError(cycle[0], "links", schema.ErrCodeMalformedGraph,
			fmt.Sprintf("steps %v form a cycle with no branching step; every run through it loops forever", cycle))
	}

	return result
}
