package dpkg

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DefaultAdminDir is dpkg's administrative directory on a stock Debian or
// Ubuntu install.
const DefaultAdminDir = "/var/lib/dpkg"

// Index is the in-memory dpkg state index (§4.1): a single trie rooted at
// "/", built by reading info/*.list and info/*.md5sums under AdminDir.
type Index struct {
	// AdminDir is dpkg's administrative directory (info/*.list,
	// info/*.md5sums live under here). Defaults to DefaultAdminDir.
	AdminDir string

	root *Node
}

// NewIndex returns an empty Index rooted at adminDir. An empty adminDir
// means DefaultAdminDir.
func NewIndex(adminDir string) *Index {
	if adminDir == "" {
		adminDir = DefaultAdminDir
	}
	return &Index{AdminDir: adminDir, root: &Node{}}
}

func (idx *Index) infoPath(pkg, suffix string) string {
	return filepath.Join(idx.AdminDir, "info", pkg+suffix)
}

// Installed reports whether pkg has a .list file, i.e. dpkg considers it
// installed (possibly in a non-"installed" status; this index does not
// consult the status file at all, per the component design's note that it
// only reads info/*).
func (idx *Index) Installed(pkg string) bool {
	_, err := os.Stat(idx.infoPath(pkg, ".list"))
	return err == nil
}

// Root returns the index's root node (the "/" entry).
func (idx *Index) Root() *Node { return idx.root }

// LoadPackage reads pkg's .list and .md5sums into the index, unfiltered.
// Used by CheckPackage, where every path the package owns is in scope
// regardless of any --path filter (§6).
func (idx *Index) LoadPackage(pkg string) error {
	return idx.loadPackageFiltered(pkg, nil)
}

// LoadPaths reads every installed package's .list and .md5sums into the
// index, keeping only paths passing filter (nil filter keeps everything).
// This is the index construction used for CheckPath (§4.1).
func (idx *Index) LoadPaths(filter *PathFilter) error {
	entries, err := os.ReadDir(filepath.Join(idx.AdminDir, "info"))
	if err != nil {
		return fmt.Errorf("reading dpkg info directory: %w", err)
	}
	pkgs := make(map[string]bool)
	for _, e := range entries {
		name := e.Name()
		if strings.HasSuffix(name, ".list") {
			pkgs[strings.TrimSuffix(name, ".list")] = true
		}
	}
	names := make([]string, 0, len(pkgs))
	for p := range pkgs {
		names = append(names, p)
	}
	sort.Strings(names)

	for _, pkg := range names {
		if err := idx.loadPackageFiltered(pkg, filter); err != nil {
			return err
		}
	}
	return nil
}

func (idx *Index) loadPackageFiltered(pkg string, filter *PathFilter) error {
	paths, err := idx.readListFile(pkg, filter)
	if err != nil {
		return err
	}
	for _, p := range paths {
		idx.insertPath(p, pkg)
	}

	sums, err := idx.readMD5SumsFile(pkg, filter)
	if err != nil {
		return err
	}
	for p, h := range sums {
		n := idx.lookupExact(p)
		if n == nil {
			// md5sums names a path not present in .list: a dpkg
			// consistency inconsistency, not ours to fail on.
			n = idx.insertPath(p, pkg)
		}
		pi := n.packageInfoOrCreate(pkg)
		pi.MD5Sum = h
		pi.HasMD5Sum = true
	}
	return nil
}

// readListFile parses info/<pkg>.list: one absolute path per line.
func (idx *Index) readListFile(pkg string, filter *PathFilter) ([]string, error) {
	f, err := os.Open(idx.infoPath(pkg, ".list"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("package %s is not installed", pkg)
		}
		return nil, fmt.Errorf("reading %s.list: %w", pkg, err)
	}
	defer f.Close()

	var paths []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		p := normalizePath(line)
		if filter.Includes(p) {
			paths = append(paths, p)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading %s.list: %w", pkg, err)
	}
	return paths, nil
}

// readMD5SumsFile parses info/<pkg>.md5sums: "<md5>  <path>" lines, path
// relative to "/" with no leading slash, possibly with a "./" prefix.
// Missing .md5sums is not an error: not every package ships one (it's
// usually absent for packages with no regular files, §4.1).
func (idx *Index) readMD5SumsFile(pkg string, filter *PathFilter) (map[string]Hash, error) {
	f, err := os.Open(idx.infoPath(pkg, ".md5sums"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s.md5sums: %w", pkg, err)
	}
	defer f.Close()

	out := make(map[string]Hash)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		fields := strings.SplitN(line, "  ", 2)
		if len(fields) != 2 {
			// Some .md5sums files use a single space; fall back once.
			fields = strings.SplitN(line, " ", 2)
			if len(fields) != 2 {
				continue
			}
		}
		hash := Hash(fields[0])
		rel := strings.TrimPrefix(fields[1], "./")
		if !hash.Valid() {
			continue // malformed entry: drop and move on, never abort the load
		}
		p := normalizePath("/" + rel)
		if !filter.Includes(p) {
			continue
		}
		out[p] = hash
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading %s.md5sums: %w", pkg, err)
	}
	return out, nil
}

// insertPath walks/creates the trie path for p and records pkg as an
// owner of the final component.
func (idx *Index) insertPath(p string, pkg string) *Node {
	node := idx.root
	for _, c := range components(p) {
		node = node.childOrCreate(c)
	}
	node.recordOwner(pkg)
	return node
}

func (idx *Index) lookupExact(p string) *Node {
	node := idx.root
	for _, c := range components(p) {
		node = node.Child(c)
		if node == nil {
			return nil
		}
	}
	return node
}

// Lookup walks p component by component, returning the deepest node
// actually reached (last) and the node found at the end if the full path
// resolved (found, nil if not). When the path terminates partway through
// (an intermediate component doesn't exist), found is nil and last is the
// deepest node that did exist -- mirroring the original implementation's
// lookup() used to classify "missing" vs "extra" during traversal (§4.2).
func (idx *Index) Lookup(p string) (last *Node, found *Node) {
	node := idx.root
	last = node
	for _, c := range components(normalizePath(p)) {
		child := node.Child(c)
		if child == nil {
			return last, nil
		}
		node = child
		last = node
	}
	return last, node
}

// ExpandPackageToLeafPaths returns the minimal antichain of paths (under
// prefix ordering) that covers every path pkg owns, by reading its .list
// directly rather than consulting the index (§4.1 expand_package_to_leaf_paths:
// used to build a PathFilter for "check everything this package owns").
func (idx *Index) ExpandPackageToLeafPaths(pkg string) ([]string, error) {
	paths, err := idx.readListFile(pkg, nil)
	if err != nil {
		return nil, err
	}
	return expandMinimalCover(paths), nil
}
