package diagram

import (
	"fmt"
	"strings"
)

// RenderMermaid renders a DiagramModel as a Mermaid flowchart string.
func RenderMermaid(model *DiagramModel) string {
	var b strings.Builder

	b.WriteString("graph TD\n")

	if model.Title != "" {
		b.WriteString(fmt.Sprintf("    %%%% %s\n", model.Title))
	}

	for _, node := range model.Nodes {
		b.WriteString(fmt.Sprintf("    %s\n", mermaidNodeDef(node)))
	}

	var takenIdx []int
	for i, edge := range model.Edges {
		label := ""
		if edge.Label != "" {
			label = fmt.Sprintf("|%s|", mermaidEscapeLabel(edge.Label))
		}
		b.WriteString(fmt.Sprintf("    %s -->%s %s\n", edge.From, label, edge.To))
		if edge.Taken {
			takenIdx = append(takenIdx, i)
		}
	}

	b.WriteString("\n")
	b.WriteString("    classDef visited fill:#2d6a2d,stroke:#1a4a1a,color:#fff\n")
	b.WriteString("    classDef failed fill:#8b1a1a,stroke:#5c0e0e,color:#fff\n")
	b.WriteString("    classDef unknown fill:#6b6b6b,stroke:#4a4a4a,color:#fff,stroke-dasharray:5 5\n")

	for _, node := range model.Nodes {
		if cls := mermaidClass(node); cls != "" {
			b.WriteString(fmt.Sprintf("    class %s %s\n", node.ID, cls))
		}
	}
	for _, i := range takenIdx {
		b.WriteString(fmt.Sprintf("    linkStyle %d stroke:#2d6a2d,stroke-width:3px\n", i))
	}

	return b.String()
}

// mermaidNodeDef returns a Mermaid node definition with the appropriate shape.
func mermaidNodeDef(node *Node) string {
	label := mermaidEscapeLabel(firstLine(node.Label)) + visitSuffix(node)

	switch node.Kind {
	case NodeKindDecision:
		return fmt.Sprintf("%s{%q}", node.ID, label)
	case NodeKindContainer:
		return fmt.Sprintf("%s[[%q]]", node.ID, label)
	case NodeKindTerminal:
		return fmt.Sprintf("%s([%q])", node.ID, label)
	case NodeKindStart:
		return fmt.Sprintf("%s((%q))", node.ID, label)
	default:
		return fmt.Sprintf("%s[%q]", node.ID, label)
	}
}

// mermaidEscapeLabel replaces characters Mermaid treats as syntax inside
// quoted labels.
func mermaidEscapeLabel(s string) string {
	r := strings.NewReplacer(`"`, "#quot;", "|", "#124;")
	return r.Replace(s)
}

func mermaidClass(node *Node) string {
	if node.Status != nil {
		return node.Status.Status
	}
	if node.Kind == NodeKindUnknown {
		return "unknown"
	}
	return ""
}
