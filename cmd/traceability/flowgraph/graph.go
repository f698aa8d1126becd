package flowgraph

import (
	"encoding/json"
	"fmt"
)

// NodeKind identifies what a graph node represents
type NodeKind string

const (
	KindStart   NodeKind = "START"
	KindEnd     NodeKind = "END"
	KindProcess NodeKind = "PROCESS"
	KindQCGate  NodeKind = "QC_GATE"
	KindBuffer  NodeKind = "BUFFER"
	KindRework  NodeKind = "REWORK"
	KindGroup   NodeKind = "GROUP" // layout container, excluded from execution
)

// Node is one node of a flow graph
type Node struct {
	ID     string     `json:"id"`
	Kind   NodeKind   `json:"kind"`
	Label  string     `json:"label,omitempty"`
	Config NodeConfig `json:"config,omitempty"`
}

// UnmarshalJSON dispatches the config payload by node kind
func (n *Node) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID     string          `json:"id"`
		Kind   NodeKind        `json:"kind"`
		Label  string          `json:"label"`
		Config json.RawMessage `json:"config"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	cfg, err := decodeConfig(raw.Kind, raw.Config)
	if err != nil {
		return fmt.Errorf("node %s: %w", raw.ID, err)
	}

	n.ID = raw.ID
	n.Kind = raw.Kind
	n.Label = raw.Label
	n.Config = cfg
	return nil
}

// Edge is a directed edge between two node IDs
type Edge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Graph is the document model of one flow version
type Graph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// Issue reason codes
const (
	IssueMissingStart    = "missing_start"
	IssueMissingEnd      = "missing_end"
	IssueDuplicateNodeID = "duplicate_node_id"
	IssueUnknownNodeRef  = "unknown_node_ref"
	IssueNoIncoming      = "no_incoming"
	IssueNoOutgoing      = "no_outgoing"
	IssueCycle           = "cycle"
	IssueBadLoopTarget   = "bad_loop_target"
)

// ValidationIssue is one structural problem found in a graph
type ValidationIssue struct {
	Code    string `json:"code"`
	NodeID  string `json:"node_id,omitempty"`
	From    string `json:"from,omitempty"`
	To      string `json:"to,omitempty"`
	Message string `json:"message"`
}

func (i ValidationIssue) String() string {
	if i.NodeID != "" {
		return fmt.Sprintf("%s (node %s): %s", i.Code, i.NodeID, i.Message)
	}
	return fmt.Sprintf("%s: %s", i.Code, i.Message)
}

// Validate checks the structural invariants of a graph and returns every
// issue found. Callers need the complete list to fix a draft in one pass,
// so validation never stops at the first problem.
func Validate(g *Graph) []ValidationIssue {
	var issues []ValidationIssue

	byID := make(map[string]*Node, len(g.Nodes))
	startCount, endCount := 0, 0
	for i := range g.Nodes {
		node := &g.Nodes[i]
		if _, dup := byID[node.ID]; dup {
			issues = append(issues, ValidationIssue{
				Code:    IssueDuplicateNodeID,
				NodeID:  node.ID,
				Message: fmt.Sprintf("node ID %q used more than once", node.ID),
			})
			continue
		}
		byID[node.ID] = node

		switch node.Kind {
		case KindStart:
			startCount++
		case KindEnd:
			endCount++
		}
	}

	if startCount == 0 {
		issues = append(issues, ValidationIssue{
			Code:    IssueMissingStart,
			Message: "flow must have at least one START node",
		})
	}
	if endCount == 0 {
		issues = append(issues, ValidationIssue{
			Code:    IssueMissingEnd,
			Message: "flow must have at least one END node",
		})
	}

	incoming := make(map[string]int)
	outgoing := make(map[string]int)
	for _, edge := range g.Edges {
		fromOK := true
		if _, exists := byID[edge.From]; !exists {
			issues = append(issues, ValidationIssue{
				Code:    IssueUnknownNodeRef,
				From:    edge.From,
				To:      edge.To,
				Message: fmt.Sprintf("edge references non-existent node: %s", edge.From),
			})
			fromOK = false
		}
		if _, exists := byID[edge.To]; !exists {
			issues = append(issues, ValidationIssue{
				Code:    IssueUnknownNodeRef,
				From:    edge.From,
				To:      edge.To,
				Message: fmt.Sprintf("edge references non-existent node: %s", edge.To),
			})
			continue
		}
		if fromOK {
			outgoing[edge.From]++
			incoming[edge.To]++
		}
	}

	// Connectivity: no dangling process nodes. GROUP nodes are pure layout
	// and carry no edges.
	for i := range g.Nodes {
		node := &g.Nodes[i]
		if node.Kind == KindGroup {
			continue
		}
		if node.Kind != KindStart && incoming[node.ID] == 0 {
			issues = append(issues, ValidationIssue{
				Code:    IssueNoIncoming,
				NodeID:  node.ID,
				Message: fmt.Sprintf("node %s has no incoming edge", node.ID),
			})
		}
		if node.Kind != KindEnd && outgoing[node.ID] == 0 {
			issues = append(issues, ValidationIssue{
				Code:    IssueNoOutgoing,
				NodeID:  node.ID,
				Message: fmt.Sprintf("node %s has no outgoing edge", node.ID),
			})
		}
	}

	// Rework loop targets must exist
	for i := range g.Nodes {
		node := &g.Nodes[i]
		if node.Kind != KindRework {
			continue
		}
		cfg, ok := node.Config.(*ReworkConfig)
		if !ok || cfg.LoopBackTo == "" {
			issues = append(issues, ValidationIssue{
				Code:    IssueBadLoopTarget,
				NodeID:  node.ID,
				Message: fmt.Sprintf("rework node %s must name a loop_back_to target", node.ID),
			})
			continue
		}
		if _, exists := byID[cfg.LoopBackTo]; !exists {
			issues = append(issues, ValidationIssue{
				Code:    IssueBadLoopTarget,
				NodeID:  node.ID,
				Message: fmt.Sprintf("rework node %s loops back to non-existent node: %s", node.ID, cfg.LoopBackTo),
			})
		}
	}

	issues = append(issues, detectCycles(g, byID)...)

	return issues
}

// detectCycles runs DFS over the graph, skipping edges that originate from
// REWORK nodes: a rework loop-back is the one sanctioned way to close a
// cycle. Any other back edge is an issue.
func detectCycles(g *Graph, byID map[string]*Node) []ValidationIssue {
	adjacency := make(map[string][]string)
	for _, edge := range g.Edges {
		from, fromOK := byID[edge.From]
		_, toOK := byID[edge.To]
		if !fromOK || !toOK {
			continue
		}
		if from.Kind == KindRework {
			continue
		}
		adjacency[edge.From] = append(adjacency[edge.From], edge.To)
	}

	visited := make(map[string]bool)
	recStack := make(map[string]bool)
	var issues []ValidationIssue

	var visit func(id string) bool
	visit = func(id string) bool {
		visited[id] = true
		recStack[id] = true

		for _, next := range adjacency[id] {
			if !visited[next] {
				if visit(next) {
					return true
				}
			} else if recStack[next] {
				issues = append(issues, ValidationIssue{
					Code:    IssueCycle,
					NodeID:  next,
					Message: fmt.Sprintf("cycle through node %s without a rework loop", next),
				})
				return true
			}
		}

		recStack[id] = false
		return false
	}

	for i := range g.Nodes {
		id := g.Nodes[i].ID
		if _, ok := byID[id]; !ok {
			continue
		}
		if !visited[id] {
			visit(id)
		}
	}

	return issues
}

// CanonicalSteps returns the nodes that participate in sequential run
// execution, in canonical order: a stable topological sort from START,
// with GROUP layout nodes excluded and rework loop-backs ignored.
func CanonicalSteps(g *Graph) []Node {
	order := make(map[string]int, len(g.Nodes))
	byID := make(map[string]*Node, len(g.Nodes))
	for i := range g.Nodes {
		node := &g.Nodes[i]
		if _, dup := byID[node.ID]; dup {
			continue
		}
		byID[node.ID] = node
		order[node.ID] = i
	}

	indegree := make(map[string]int)
	adjacency := make(map[string][]string)
	for _, edge := range g.Edges {
		from, fromOK := byID[edge.From]
		to, toOK := byID[edge.To]
		if !fromOK || !toOK {
			continue
		}
		if from.Kind == KindGroup || to.Kind == KindGroup {
			continue
		}
		if from.Kind == KindRework {
			continue
		}
		adjacency[edge.From] = append(adjacency[edge.From], edge.To)
		indegree[edge.To]++
	}

	// Kahn's algorithm with a stable tie-break on declaration order
	var frontier []string
	for i := range g.Nodes {
		node := &g.Nodes[i]
		if node.Kind == KindGroup {
			continue
		}
		if byID[node.ID] != node {
			continue
		}
		if indegree[node.ID] == 0 {
			frontier = append(frontier, node.ID)
		}
	}

	var steps []Node
	for len(frontier) > 0 {
		best := 0
		for i := 1; i < len(frontier); i++ {
			if order[frontier[i]] < order[frontier[best]] {
				best = i
			}
		}
		id := frontier[best]
		frontier = append(frontier[:best], frontier[best+1:]...)

		steps = append(steps, *byID[id])

		for _, next := range adjacency[id] {
			indegree[next]--
			if indegree[next] == 0 {
				frontier = append(frontier, next)
			}
		}
	}

	return steps
}

// CanonicalStepCount returns the number of canonical execution steps
func CanonicalStepCount(g *Graph) int {
	return len(CanonicalSteps(g))
}
