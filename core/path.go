package core

import (
	"fmt"
	"strings"
)

// path follows Previous links from end back to a stage-0 root and returns the
// Nodes in chronological order.
func (e *GraphEngine) path(end *Node) []*Node {
	var out []*Node
	for cur := end; cur != nil; cur = e.Predecessor(cur) {
		out = append(out, cur)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// PolicyMatrix copies the policy bits of each path Node into a stage × state
// 0/1 matrix.
func PolicyMatrix(path []*Node) [][]int {
	out := make([][]int, len(path))
	for t, node := range path {
		out[t] = node.Policy.Bits()
	}
	return out
}

// FormatPath renders one line per stage, e.g. "time: 0---> 0-1".
func FormatPath(path []*Node) string {
	var b strings.Builder
	for _, node := range path {
		fmt.Fprintf(&b, "time: %d---> %s\n", node.Stage, node.Policy)
	}
	return b.String()
}
