package diagram

import (
	"bytes"
	"context"
	"fmt"

	"github.com/goccy/go-graphviz"
	"github.com/goccy/go-graphviz/cgraph"
)

const (
	visitedColor = "#2d6a2d"
	failedColor  = "#8b1a1a"
)

var nodeShapes = map[NodeKind]cgraph.Shape{
	NodeKindStep:      cgraph.BoxShape,
	NodeKindDecision:  cgraph.DiamondShape,
	NodeKindContainer: cgraph.HexagonShape,
	NodeKindTerminal:  cgraph.EllipseShape,
	NodeKindUnknown:   cgraph.BoxShape,
	NodeKindStart:     cgraph.CircleShape,
}

var statusFill = map[string]string{
	StatusVisited: visitedColor,
	StatusFailed:  failedColor,
}

// RenderImage lays the model out top to bottom with dot and returns PNG
// bytes.
func RenderImage(ctx context.Context, model *DiagramModel) ([]byte, error) {
	gv, err := graphviz.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("diagram: create graphviz: %w", err)
	}
	defer gv.Close()
	gv.SetLayout(graphviz.DOT)

	g, err := gv.Graph()
	if err != nil {
		return nil, fmt.Errorf("diagram: create graph: %w", err)
	}
	defer g.Close()

	g.SetRankDir(cgraph.TBRank)
	if model.Title != "" {
		g.SetLabel(model.Title)
	}

	nodes, err := addNodes(g, model.Nodes)
	if err != nil {
		return nil, err
	}
	if err := addEdges(g, nodes, model.Edges); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := gv.Render(ctx, g, graphviz.PNG, &buf); err != nil {
		return nil, fmt.Errorf("diagram: render PNG: %w", err)
	}
	return buf.Bytes(), nil
}

func addNodes(g *cgraph.Graph, nodes []*Node) (map[string]*cgraph.Node, error) {
	out := make(map[string]*cgraph.Node, len(nodes))
	for _, n := range nodes {
		gn, err := g.CreateNodeByName(n.ID)
		if err != nil {
			return nil, fmt.Errorf("diagram: create node %s: %w", n.ID, err)
		}
		gn.SetLabel(n.Label + visitSuffix(n))
		if shape, ok := nodeShapes[n.Kind]; ok {
			gn.SetShape(shape)
		}
		switch n.Kind {
		case NodeKindUnknown:
			gn.SetStyle(cgraph.DashedNodeStyle)
		case NodeKindStart:
			gn.SetWidth(0.5)
			gn.SetHeight(0.5)
		}
		if n.Status != nil {
			if fill, ok := statusFill[n.Status.Status]; ok {
				gn.SetStyle(cgraph.FilledNodeStyle)
				gn.SetFillColor(fill)
				gn.SetFontColor("white")
			}
		}
		out[n.ID] = gn
	}
	return out, nil
}

// addEdges skips edges whose endpoints were never created.
func addEdges(g *cgraph.Graph, nodes map[string]*cgraph.Node, edges []Edge) error {
	for _, e := range edges {
		from, to := nodes[e.From], nodes[e.To]
		if from == nil || to == nil {
			continue
		}
		ge, err := g.CreateEdgeByName("", from, to)
		if err != nil {
			return fmt.Errorf("diagram: create edge %s -> %s: %w", e.From, e.To, err)
		}
		if e.Label != "" {
			ge.SetLabel(e.Label)
		}
		if e.Taken {
			ge.SetColor(visitedColor)
			ge.SetStyle(cgraph.BoldEdgeStyle)
		}
	}
	return nil
}
