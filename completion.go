package chat

import (
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

// Client command names, used after the command separator.
const (
	CommandConnect    = "c"
	CommandDisconnect = "dc"
	CommandHelp       = "h"
	CommandQuit       = "q"
)

// CompletionNode maps a command token to its possible continuations.
// A nil child marks a leaf.
type CompletionNode map[string]CompletionNode

func (n CompletionNode) clone() CompletionNode {
	if n == nil {
		return nil
	}
	out := make(CompletionNode, len(n))
	for k, v := range n {
		out[k] = v.clone()
	}
	return out
}

// Tokens returns the node's keys in sorted order.
func (n CompletionNode) Tokens() []string {
	tokens := make([]string, 0, len(n))
	for k := range n {
		tokens = append(tokens, k)
	}
	sort.Strings(tokens)
	return tokens
}

// Completions is the client-side tree of command continuations. It starts
// from the client's own commands and is extended by grammar hints from the
// server. Readers always see a complete tree: every update builds a new
// tree and swaps it in.
type Completions struct {
	sep  string
	seed CompletionNode

	mu   sync.Mutex // serializes writers
	root atomic.Pointer[CompletionNode]
}

// NewCompletions returns a tree seeded with the client commands for sep.
func NewCompletions(sep string) *Completions {
	c := &Completions{
		sep: sep,
		seed: CompletionNode{
			sep + CommandConnect:    {"localhost": {"1111": nil}},
			sep + CommandDisconnect: nil,
			sep + CommandHelp:       nil,
			sep + CommandQuit:       nil,
		},
	}
	c.Reset()
	return c
}

// Snapshot returns the current tree. Callers must not modify it.
func (c *Completions) Snapshot() CompletionNode {
	return *c.root.Load()
}

// Reset restores the seed tree.
func (c *Completions) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	root := c.seed.clone()
	c.root.Store(&root)
}

// Merge adds path to the tree. Every segment but the last becomes a node
// with children; the last becomes a leaf unless it already has children.
// Existing subtrees are never removed. Paths with empty segments are ignored.
func (c *Completions) Merge(path []string) {
	if len(path) == 0 {
		return
	}
	for _, seg := range path {
		if seg == "" {
			return
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	root := c.root.Load().clone()
	node := root
	for _, seg := range path[:len(path)-1] {
		child := node[seg]
		if child == nil {
			child = CompletionNode{}
			node[seg] = child
		}
		node = child
	}
	last := path[len(path)-1]
	if _, ok := node[last]; !ok {
		node[last] = nil
	}

	c.root.Store(&root)
}

// MergeHint merges a server command grammar such as
// "/msg $nick $message - sends a private message". Hints that do not start
// with the command separator are ignored, the description after " -" is
// dropped and "$" placeholders lose their sigil.
func (c *Completions) MergeHint(hint string) {
	hint = strings.TrimSpace(hint)
	if !strings.HasPrefix(hint, c.sep) {
		return
	}
	if i := strings.Index(hint, " -"); i >= 0 {
		hint = hint[:i]
	}

	path := strings.Fields(hint)
	for i, tok := range path {
		if len(tok) > 1 && tok[0] == '$' {
			path[i] = tok[1:]
		}
	}
	c.Merge(path)
}

// Suggest returns the tokens that may follow line. A trailing space means a
// new token is being started; otherwise the last token is used as a prefix.
func (c *Completions) Suggest(line string) []string {
	fields := strings.Fields(line)
	prefix := ""
	if len(fields) > 0 && !strings.HasSuffix(line, " ") {
		prefix = fields[len(fields)-1]
		fields = fields[:len(fields)-1]
	}

	node := c.Snapshot()
	for _, tok := range fields {
		node = node[tok]
		if node == nil {
			return nil
		}
	}

	var out []string
	for _, tok := range node.Tokens() {
		if strings.HasPrefix(tok, prefix) {
			out = append(out, tok)
		}
	}
	return out
}
