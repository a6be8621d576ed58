// Package graph holds conversation graphs: one node per utterance, directed
// edges for conversational relations.
package graph

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/mmgat/mmgat/pkg/autodiff"
	"gonum.org/v1/gonum/graph/simple"
)

// ErrNodeRange is returned when an edge references a node outside the graph.
var ErrNodeRange = errors.New("node out of range")

// Graph is a directed graph over nodes 0..n-1. Self-loops are tracked apart
// from the underlying gonum graph, which does not store them.
type Graph struct {
	g         *simple.DirectedGraph
	n         int
	selfLoops []bool
}

// New returns an edgeless graph with n nodes.
func New(n int) (*Graph, error) {
	if n <= 0 {
		return nil, fmt.Errorf("graph needs at least one node, got %d", n)
	}
	g := &Graph{g: simple.NewDirectedGraph(), n: n, selfLoops: make([]bool, n)}
	for i := 0; i < n; i++ {
		g.g.AddNode(simple.Node(i))
	}
	return g, nil
}

// NumNodes returns the number of nodes.
func (g *Graph) NumNodes() int { return g.n }

// NumEdges returns the number of edges, self-loops included.
func (g *Graph) NumEdges() int {
	count := g.g.Edges().Len()
	for _, loop := range g.selfLoops {
		if loop {
			count++
		}
	}
	return count
}

// AddEdge adds the edge u -> v. Adding an existing edge is a no-op.
func (g *Graph) AddEdge(u, v int) error {
	if u < 0 || u >= g.n || v < 0 || v >= g.n {
		return fmt.Errorf("%w: edge %d->%d in a graph of %d nodes", ErrNodeRange, u, v, g.n)
	}
	if u == v {
		g.selfLoops[u] = true
		return nil
	}
	g.g.SetEdge(simple.Edge{F: simple.Node(u), T: simple.Node(v)})
	return nil
}

// HasEdge reports whether the edge u -> v exists.
func (g *Graph) HasEdge(u, v int) bool {
	if u < 0 || u >= g.n || v < 0 || v >= g.n {
		return false
	}
	if u == v {
		return g.selfLoops[u]
	}
	return g.g.HasEdgeFromTo(int64(u), int64(v))
}

// AddSelfLoops gives every node an edge to itself, so no node is left
// without incoming messages.
func (g *Graph) AddSelfLoops() {
	for i := range g.selfLoops {
		g.selfLoops[i] = true
	}
}

// InDegree returns the number of edges ending at v.
func (g *Graph) InDegree(v int) int {
	d := g.g.To(int64(v)).Len()
	if g.selfLoops[v] {
		d++
	}
	return d
}

// OutDegree returns the number of edges starting at v.
func (g *Graph) OutDegree(v int) int {
	d := g.g.From(int64(v)).Len()
	if g.selfLoops[v] {
		d++
	}
	return d
}

// Edges returns all edges as parallel source and destination slices, sorted
// by destination then source.
func (g *Graph) Edges() (src, dst []int) {
	type edge struct{ u, v int }
	var edges []edge
	it := g.g.Edges()
	for it.Next() {
		e := it.Edge()
		edges = append(edges, edge{int(e.From().ID()), int(e.To().ID())})
	}
	for i, loop := range g.selfLoops {
		if loop {
			edges = append(edges, edge{i, i})
		}
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].v != edges[j].v {
			return edges[i].v < edges[j].v
		}
		return edges[i].u < edges[j].u
	})

	src, dst = make([]int, len(edges)), make([]int, len(edges))
	for i, e := range edges {
		src[i], dst[i] = e.u, e.v
	}
	return src, dst
}

// NormalizedEdges returns the edges weighted by
// 1/√max(outdeg(src), 1) · 1/√max(indeg(dst), 1), the symmetric
// normalisation of a graph convolution.
func (g *Graph) NormalizedEdges() autodiff.EdgeList {
	src, dst := g.Edges()
	weights := make([]float64, len(src))
	for i := range src {
		out := math.Max(float64(g.OutDegree(src[i])), 1)
		in := math.Max(float64(g.InDegree(dst[i])), 1)
		weights[i] = 1 / math.Sqrt(out*in)
	}
	return autodiff.EdgeList{N: g.n, Src: src, Dst: dst, Weight: weights}
}

// Batch merges graphs into one disjoint union. Node i of graph k becomes node
// offsets[k]+i of the result.
func Batch(gs ...*Graph) (*Graph, []int, error) {
	if len(gs) == 0 {
		return nil, nil, fmt.Errorf("batch needs at least one graph")
	}
	offsets := make([]int, len(gs))
	total := 0
	for k, g := range gs {
		offsets[k] = total
		total += g.n
	}

	merged, err := New(total)
	if err != nil {
		return nil, nil, err
	}
	for k, g := range gs {
		src, dst := g.Edges()
		for i := range src {
			if err := merged.AddEdge(src[i]+offsets[k], dst[i]+offsets[k]); err != nil {
				return nil, nil, err
			}
		}
	}
	return merged, offsets, nil
}
