package diagram

import "fmt"

// NodeKind classifies a diagram node by the link mode of its step type.
type NodeKind string

const (
	NodeKindStep      NodeKind = "step"      // ONE
	NodeKindDecision  NodeKind = "decision"  // TWO
	NodeKindContainer NodeKind = "container" // CONTAINER
	NodeKindTerminal  NodeKind = "terminal"  // ZERO
	NodeKindUnknown   NodeKind = "unknown"   // step type not registered
	NodeKindStart     NodeKind = "start"
)

// Overlay states applied from a run log.
const (
	StatusVisited = "visited"
	StatusFailed  = "failed"
)

// DiagramModel is the intermediate representation used by all renderers.
type DiagramModel struct {
	Title  string
	Nodes  []*Node
	Edges  []Edge
	Levels [][]string
}

// Node represents a single step in the diagram.
type Node struct {
	ID       string
	StepNo   int
	StepType string
	Label    string
	Kind     NodeKind
	Status   *StatusOverlay
}

// Edge is a link between two nodes. Label carries the condition value of
// conditional links.
type Edge struct {
	From  string
	To    string
	Label string
	Taken bool
}

// StatusOverlay holds what a run log recorded for one step.
type StatusOverlay struct {
	Status     string
	Visits     int
	DurationMs int64
	Error      string
}

// Node returns the node with the given id, or nil.
func (m *DiagramModel) Node(id string) *Node {
	for _, n := range m.Nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}

// visitSuffix marks nodes a run entered more than once.
func visitSuffix(n *Node) string {
	if n.Status == nil || n.Status.Visits < 2 {
		return ""
	}
	return fmt.Sprintf(" x%d", n.Status.Visits)
}
