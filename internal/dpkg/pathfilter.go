package dpkg

import (
	"path"
	"sort"
	"strings"
)

// normalizePath normalizes an absolute path per §3: "/." is treated as
// "/", there are no "."/".." components or duplicate slashes, and the
// result always starts with "/".
func normalizePath(p string) string {
	if p == "" {
		return "/"
	}
	cleaned := path.Clean(p)
	if !strings.HasPrefix(cleaned, "/") {
		cleaned = "/" + cleaned
	}
	return cleaned
}

func components(normalized string) []string {
	if normalized == "/" {
		return nil
	}
	return strings.Split(strings.TrimPrefix(normalized, "/"), "/")
}

// filterNode is a trie node for PathFilter; terminal marks an outermost
// path boundary (everything under it, and the node itself, is included).
type filterNode struct {
	terminal bool
	children map[string]*filterNode
}

// PathFilter is a set of "outermost" paths: a path is included iff it
// equals or is under any of them (§3). A nil *PathFilter is the
// convention used throughout this module for "no filter, include
// everything" (e.g. loading every path owned by a single named package).
// A non-nil PathFilter built from zero paths includes nothing.
type PathFilter struct {
	root  *filterNode
	paths []string // the outermost paths actually kept, sorted ascending
}

// NewPathFilter builds a PathFilter from a set of paths: normalizes,
// dedupes, sorts ascending, and drops any path dominated by an
// earlier (shorter or equal) kept path, per §3/§8.
func NewPathFilter(paths []string) *PathFilter {
	normalized := make([]string, 0, len(paths))
	seen := make(map[string]bool, len(paths))
	for _, p := range paths {
		np := normalizePath(p)
		if !seen[np] {
			seen[np] = true
			normalized = append(normalized, np)
		}
	}
	sort.Strings(normalized)

	pf := &PathFilter{root: &filterNode{}}
	for _, p := range normalized {
		if pf.insert(p) {
			pf.paths = append(pf.paths, p)
		}
	}
	return pf
}

// insert adds p to the trie unless an ancestor of p is already terminal
// (in which case p is redundant). Returns whether p was actually kept.
func (pf *PathFilter) insert(p string) bool {
	node := pf.root
	for _, c := range components(p) {
		if node.terminal {
			return false // dominated by an earlier, shorter outermost path
		}
		if node.children == nil {
			node.children = make(map[string]*filterNode)
		}
		child, ok := node.children[c]
		if !ok {
			child = &filterNode{}
			node.children[c] = child
		}
		node = child
	}
	if node.terminal {
		return false // exact duplicate
	}
	node.terminal = true
	return true
}

// Includes reports whether p equals or is under any outermost path in the
// filter. A nil receiver includes everything.
func (pf *PathFilter) Includes(p string) bool {
	if pf == nil {
		return true
	}
	node := pf.root
	for _, c := range components(normalizePath(p)) {
		if node.terminal {
			return true
		}
		if node.children == nil {
			return false
		}
		child, ok := node.children[c]
		if !ok {
			return false
		}
		node = child
	}
	return node.terminal
}

// Paths returns the minimal set of outermost paths the filter was built
// from, sorted ascending.
func (pf *PathFilter) Paths() []string {
	if pf == nil {
		return nil
	}
	return pf.paths
}

// expandMinimalCover implements §4.1 expand_package_to_leaf_paths: sort
// descending, keep a path iff the previous kept path does not start with
// it, then reverse. The result is an antichain under prefix ordering that
// covers the same set of paths as the input.
func expandMinimalCover(paths []string) []string {
	normalized := make([]string, len(paths))
	for i, p := range paths {
		normalized[i] = normalizePath(p)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(normalized)))

	kept := make([]string, 0, len(normalized))
	for _, p := range normalized {
		if len(kept) == 0 || !strings.HasPrefix(kept[len(kept)-1], p) {
			kept = append(kept, p)
		}
	}
	for i, j := 0, len(kept)-1; i < j; i, j = i+1, j-1 {
		kept[i], kept[j] = kept[j], kept[i]
	}
	return kept
}
