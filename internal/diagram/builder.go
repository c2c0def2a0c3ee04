package diagram

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rendis/stepflow/internal/graph"
	"github.com/rendis/stepflow/internal/registry"
	"github.com/rendis/stepflow/pkg/schema"
)

const startID = "__start__"

// StepTypes resolves step types for node shapes. *registry.Registry
// satisfies it.
type StepTypes interface {
	StepType(name string) (*registry.StepType, error)
}

// Build constructs a DiagramModel from a revision. types may be nil, in
// which case every node is drawn as a plain step. When runLog is given, the
// steps it visited are overlaid and the links it followed are marked taken.
func Build(title string, rev *schema.WorkflowRevision, types StepTypes, runLog *schema.WorkflowRunLog) (*DiagramModel, error) {
	g, err := graph.Build(rev)
	if err != nil {
		return nil, fmt.Errorf("diagram: %w", err)
	}
	if title == "" {
		title = "Workflow"
	}

	nodes := make([]*Node, 0, len(rev.Steps)+1)
	nodes = append(nodes, &Node{ID: startID, Label: "Start", Kind: NodeKindStart})
	for _, no := range g.StepNos() {
		step, _ := g.Step(no)
		nodes = append(nodes, stepToNode(step, types))
	}

	edges := []Edge{{From: startID, To: nodeID(g.Start)}}
	for i := range rev.Links {
		l := rev.Links[i]
		cond, _ := l.Condition()
		edges = append(edges, Edge{From: nodeID(l.FromStepNo), To: nodeID(l.ToStepNo), Label: cond})
	}

	model := &DiagramModel{
		Title:  title,
		Nodes:  nodes,
		Edges:  edges,
		Levels: buildLevels(g),
	}
	if runLog != nil {
		overlayRun(model, runLog)
	}
	return model, nil
}

func nodeID(stepNo int) string {
	return "s" + strconv.Itoa(stepNo)
}

func stepToNode(step *schema.WorkflowStep, types StepTypes) *Node {
	n := &Node{
		ID:       nodeID(step.StepNo),
		StepNo:   step.StepNo,
		StepType: step.StepType,
		Label:    nodeLabel(step),
		Kind:     NodeKindStep,
	}
	if types == nil {
		return n
	}
	st, err := types.StepType(step.StepType)
	if err != nil {
		n.Kind = NodeKindUnknown
		return n
	}
	n.Kind = modeToKind(st.LinkMode)
	return n
}

func modeToKind(mode schema.LinkMode) NodeKind {
	switch mode {
	case schema.LinkModeTwo:
		return NodeKindDecision
	case schema.LinkModeContainer:
		return NodeKindContainer
	case schema.LinkModeZero:
		return NodeKindTerminal
	default:
		return NodeKindStep
	}
}

// nodeLabel is "<no>. <label>" with the step type on a second line.
func nodeLabel(step *schema.WorkflowStep) string {
	name := step.Label
	if name == "" {
		name = step.StepType
	}
	return fmt.Sprintf("%d. %s\n(%s)", step.StepNo, name, step.StepType)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// overlayRun marks visited nodes and taken edges. The failing step of a
// failed run carries the run error.
func overlayRun(model *DiagramModel, runLog *schema.WorkflowRunLog) {
	index := make(map[string]*Node, len(model.Nodes))
	for _, n := range model.Nodes {
		index[n.ID] = n
	}

	taken := make(map[[2]string]bool)
	prev := startID
	for _, s := range runLog.Steps {
		id := nodeID(s.StepNo)
		n, ok := index[id]
		if !ok {
			continue
		}
		if n.Status == nil {
			n.Status = &StatusOverlay{Status: StatusVisited}
		}
		n.Status.Visits++
		n.Status.DurationMs += s.DurationMs
		taken[[2]string{prev, id}] = true
		prev = id
	}

	if runLog.Error != nil && runLog.Error.StepNo != 0 {
		if n, ok := index[nodeID(runLog.Error.StepNo)]; ok {
			if n.Status == nil {
				n.Status = &StatusOverlay{}
			}
			n.Status.Status = StatusFailed
			n.Status.Error = runLog.Error.Error()
		}
	}

	for i := range model.Edges {
		e := &model.Edges[i]
		e.Taken = taken[[2]string{e.From, e.To}]
	}
}

// buildLevels groups nodes by breadth-first distance from the start step.
// Unreachable steps form a final level.
func buildLevels(g *graph.Graph) [][]string {
	levels := [][]string{{startID}}
	depth := map[int]int{g.Start: 1}
	frontier := []int{g.Start}
	for len(frontier) > 0 {
		level := make([]string, 0, len(frontier))
		var next []int
		for _, no := range frontier {
			level = append(level, nodeID(no))
			for _, l := range g.Outbound(no) {
				if _, seen := depth[l.ToStepNo]; !seen {
					depth[l.ToStepNo] = depth[no] + 1
					next = append(next, l.ToStepNo)
				}
			}
		}
		levels = append(levels, level)
		frontier = next
	}

	var orphans []string
	for _, no := range g.StepNos() {
		if _, ok := depth[no]; !ok {
			orphans = append(orphans, nodeID(no))
		}
	}
	if len(orphans) > 0 {
		levels = append(levels, orphans)
	}
	return levels
}
