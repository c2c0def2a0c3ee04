// Package graph indexes a workflow revision for traversal.
package graph

import (
	"sort"

	"github.com/rendis/stepflow/pkg/schema"
)

// Graph is the per-run adjacency index of one revision. It is read-only
// once built and safe to share between concurrent runs.
type Graph struct {
	Revision *schema.WorkflowRevision
	Start    int
	steps    map[int]*schema.WorkflowStep // step no -> step
	out      map[int][]schema.WorkflowLink
	in       map[int][]int
}

// Build indexes rev. It fails with MALFORMED_GRAPH when a step number is not
// positive or is duplicated, the start step is missing, or a link references
// a step the revision does not contain. Step number 0 is reserved for "no
// step" in errors and log attributes.
func Build(rev *schema.WorkflowRevision) (*Graph, error) {
	if rev == nil {
		return nil, schema.NewError(schema.ErrCodeMalformedGraph, "revision is nil")
	}
	if len(rev.Steps) == 0 {
		return nil, schema.NewErrorf(schema.ErrCodeMalformedGraph, "revision %s has no steps", rev.ID)
	}

	g := &Graph{
		Revision: rev,
		Start:    rev.StartStepNo,
		steps:    make(map[int]*schema.WorkflowStep, len(rev.Steps)),
		out:      make(map[int][]schema.WorkflowLink, len(rev.Steps)),
		in:       make(map[int][]int, len(rev.Steps)),
	}

	for i := range rev.Steps {
		step := &rev.Steps[i]
		if step.StepNo < 1 {
			return nil, schema.NewErrorf(schema.ErrCodeMalformedGraph, "step number %d must be positive", step.StepNo)
		}
		if _, exists := g.steps[step.StepNo]; exists {
			return nil, schema.NewErrorf(schema.ErrCodeMalformedGraph, "duplicate step number %d", step.StepNo).WithStep(step.StepNo)
		}
		g.steps[step.StepNo] = step
	}

	if _, ok := g.steps[g.Start]; !ok {
		return nil, schema.NewErrorf(schema.ErrCodeMalformedGraph, "start step %d does not exist", g.Start)
	}

	for _, l := range rev.Links {
		if _, ok := g.steps[l.FromStepNo]; !ok {
			return nil, schema.NewErrorf(schema.ErrCodeMalformedGraph, "link %d -> %d: source step does not exist", l.FromStepNo, l.ToStepNo)
		}
		if _, ok := g.steps[l.ToStepNo]; !ok {
			return nil, schema.NewErrorf(schema.ErrCodeMalformedGraph, "link %d -> %d: target step does not exist", l.FromStepNo, l.ToStepNo).WithStep(l.FromStepNo)
		}
		g.out[l.FromStepNo] = append(g.out[l.FromStepNo], l)
		g.in[l.ToStepNo] = append(g.in[l.ToStepNo], l.FromStepNo)
	}

	return g, nil
}

// Step returns the step with the given number.
func (g *Graph) Step(stepNo int) (*schema.WorkflowStep, bool) {
	s, ok := g.steps[stepNo]
	return s, ok
}

// Outbound returns the links leaving stepNo, in revision order.
func (g *Graph) Outbound(stepNo int) []schema.WorkflowLink {
	return g.out[stepNo]
}

// Inbound returns the step numbers with a link into stepNo.
func (g *Graph) Inbound(stepNo int) []int {
	return g.in[stepNo]
}

// StepNos returns every step number in ascending order.
func (g *Graph) StepNos() []int {
	nos := make([]int, 0, len(g.steps))
	for n := range g.steps {
		nos = append(nos, n)
	}
	sort.Ints(nos)
	return nos
}

// Reachable returns the set of steps reachable from the start step by
// following any link.
func (g *Graph) Reachable() map[int]bool {
	seen := map[int]bool{g.Start: true}
	queue := []int{g.Start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, l := range g.out[cur] {
			if !seen[l.ToStepNo] {
				seen[l.ToStepNo] = true
				queue = append(queue, l.ToStepNo)
			}
		}
	}
	return seen
}

// Next selects the step that follows stepNo under the given link mode.
// final is the step's output after the postStep hook; only its string form
// matters, and only in TWO mode. ok is false when traversal ends there.
//
// A TWO step whose output matches no link ends the run normally. A ONE step
// without exactly one link is a configuration error.
func (g *Graph) Next(stepNo int, mode schema.LinkMode, final string) (next int, ok bool, err error) {
	links := g.out[stepNo]
	switch mode {
	case schema.LinkModeZero:
		return 0, false, nil
	case schema.LinkModeOne:
		if len(links) != 1 {
			return 0, false, schema.NewErrorf(schema.ErrCodeMalformedGraph,
				"step type with link mode ONE needs exactly one outbound link, found %d", len(links)).WithStep(stepNo)
		}
		return links[0].ToStepNo, true, nil
	case schema.LinkModeContainer:
		switch len(links) {
		case 0:
			return 0, false, nil
		case 1:
			return links[0].ToStepNo, true, nil
		default:
			return 0, false, schema.NewErrorf(schema.ErrCodeMalformedGraph,
				"container step has %d outbound links, expected at most one", len(links)).WithStep(stepNo)
		}
	case schema.LinkModeTwo:
		for _, l := range links {
			if cond, has := l.Condition(); has && cond == final {
				return l.ToStepNo, true, nil
			}
		}
		return 0, false, nil
	default:
		return 0, false, schema.NewErrorf(schema.ErrCodeMalformedGraph, "unknown link mode %q", mode).WithStep(stepNo)
	}
}
