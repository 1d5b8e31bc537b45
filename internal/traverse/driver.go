// Package traverse walks the filesystem against a dpkg state index,
// classifying every path as matching, missing, extra, or unverifiable,
// and submitting candidates whose content needs checking to the
// verification pipeline (§4.2).
package traverse

import (
	"context"
	"os"
	"path/filepath"
	"sort"

	"github.com/apt-diff/apt-diff/internal/dpkg"
	"github.com/apt-diff/apt-diff/internal/pipeline"
	"github.com/apt-diff/apt-diff/internal/report"
	"golang.org/x/sys/unix"
)

// Driver runs the traversal described in §4.2 over a *dpkg.Index, feeding
// VerifyRequests to a *pipeline.Supervisor and reporting findings that
// don't need a content check (missing, extra, unverifiable) directly.
type Driver struct {
	Index              *dpkg.Index
	Supervisor         *pipeline.Supervisor
	Logger             *report.Logger
	IgnoreConffiles    bool
	NoIgnoreExtras     bool
	ReportUnverifiable bool
}

// CheckPath walks path and everything under it, comparing the real
// filesystem against the index, reporting extras along the way (§6: the
// default whole-tree scan). A path dpkg has no record of and the
// filesystem doesn't have either can only be one the user typed, so it's
// reported here rather than left silently unvisited.
func (d *Driver) CheckPath(ctx context.Context, path string) error {
	_, node := d.Index.Lookup(path)
	if node == nil {
		if _, err := os.Lstat(path); os.IsNotExist(err) {
			d.Logger.SystemError("%s not found", path)
			return nil
		}
	}
	return d.visit(ctx, path, node, map[string]bool{}, false)
}

// visit classifies path against node (nil if the index has no record of
// it) and recurses into directories. visited tracks realpath-resolved
// directories already descended into, guarding against symlink loops when
// dpkg expects a directory that the filesystem provides via a symlink;
// withinSymlink records that some ancestor was such a symlink, which
// suppresses extra-path reporting underneath (the real tree reports
// those, §4.2).
//
// Once both the path and a node exist, §4.2 computes expect_file and
// expect_dir from the node (both at once is a data anomaly: warn and
// treat as a directory) and dispatches three ways: expect_dir recurses
// (visitExpectDir), expect_file runs the full symlink/filetype table a
// path claiming to be a regular file can present (dispatchExpectFile),
// and "neither" runs the same table's unverifiable/hash-less variant
// (dispatchUnknown).
func (d *Driver) visit(ctx context.Context, path string, node *dpkg.Node, visited map[string]bool, withinSymlink bool) error {
	lst, err := os.Lstat(path)
	notFound := os.IsNotExist(err)
	if err != nil && !notFound {
		d.Logger.SystemError("stat %s: %v", path, err)
		return nil
	}

	if node == nil {
		d.visitExtra(path, lst, notFound, withinSymlink)
		return nil
	}

	if notFound {
		d.Logger.Discrepancy("Missing path %s owned by %s", path, owner(node))
		return nil
	}

	expectDir := node.IsDir()
	expectFile := node.ExpectFile()
	if expectDir && expectFile {
		d.Logger.Warning("%s: dpkg records both file content and directory children; treating as a directory", path)
		expectFile = false
	}

	switch {
	case expectDir:
		return d.visitExpectDir(ctx, path, node, lst, visited, withinSymlink)
	case expectFile:
		d.dispatchExpectFile(path, node, lst, func() { d.verifyLeaf(path, path, node) })
		return nil
	default:
		d.dispatchUnknown(path, node, lst, func() { d.verifyLeaf(path, path, node) })
		return nil
	}
}

// visitExtra handles a path dpkg has no record of. Inside a symlinked
// directory the same path is reachable through the real tree too, so it's
// skipped without even counting it; otherwise the extra is counted and
// (with --no-ignore-extras) reported exactly once, without descending
// into it -- an unowned directory's whole subtree is just as unowned,
// and one line covers it.
func (d *Driver) visitExtra(path string, info os.FileInfo, notFound, withinSymlink bool) {
	if notFound || withinSymlink {
		return
	}
	if !d.NoIgnoreExtras {
		d.Logger.IgnoredExtra()
		return
	}
	if info.IsDir() {
		path += "/"
	}
	d.Logger.Discrepancy("Extra path %s not owned by any package", path)
}

// visitExpectDir handles a node with children whose path is present on
// disk. A plain directory recurses immediately; a symlink standing in for
// one is followed exactly once -- common for /usr-merge style layouts
// (/lib -> usr/lib) -- after warning about the directory/link conflict
// (§4.2, scenario 5), guarded against symlink cycles by visited.
func (d *Driver) visitExpectDir(ctx context.Context, path string, node *dpkg.Node, lst os.FileInfo, visited map[string]bool, withinSymlink bool) error {
	if lst.Mode()&os.ModeSymlink == 0 {
		if !lst.IsDir() {
			d.Logger.Discrepancy("Path %s owned by %s is supposed to be a directory", path, owner(node))
			return nil
		}
		return d.visitDir(ctx, path, node, visited, withinSymlink)
	}

	target, err := os.Stat(path)
	if err != nil {
		d.Logger.Discrepancy("Broken symbolic link %s supposed to be directory", path)
		return nil
	}
	if !target.IsDir() {
		d.Logger.Discrepancy("Symbolic link %s supposed to be directory", path)
		return nil
	}

	real, err := filepath.EvalSymlinks(path)
	if err != nil {
		d.Logger.Discrepancy("Broken symbolic link %s supposed to be directory", path)
		return nil
	}
	d.Logger.Warning("%s: expected directory is provided via a symbolic link", path)
	if visited[real] {
		return nil
	}
	visited[real] = true
	return d.visitDir(ctx, path, node, visited, true)
}

// dispatchExpectFile runs §4.2's expect_file filetype table: a path dpkg
// expects to carry verifiable content (a usable hash from some owner) is
// checked according to what it actually is on disk. verify is invoked for
// the two outcomes that require a content comparison (a plain regular
// file, and a symlink that itself points at a regular file, which is
// first flagged as unexpected since dpkg records regular files, not
// symlinks, for this path).
func (d *Driver) dispatchExpectFile(path string, node *dpkg.Node, lst os.FileInfo, verify func()) {
	if lst.Mode()&os.ModeSymlink != 0 {
		target, err := os.Stat(path)
		switch {
		case err != nil:
			d.Logger.Discrepancy("Broken symbolic link %s supposed to be file", path)
		case target.IsDir():
			d.Logger.Discrepancy("Symbolically linked directory %s supposed to be file", path)
		case target.Mode().IsRegular():
			d.Logger.Warning("%s: unexpected symbolic link to a regular file", path)
			verify()
		default:
			d.Logger.Discrepancy("Symbolically linked special file %s supposed to be regular file", path)
		}
		return
	}

	switch {
	case lst.IsDir():
		d.Logger.Discrepancy("Directory %s supposed to be file", path)
	case lst.Mode().IsRegular():
		verify()
	default:
		d.Logger.Discrepancy("Special file %s supposed to be regular file", path)
	}
}

// dispatchUnknown runs §4.2's "neither" filetype table for a path dpkg
// tracks as a leaf but carries no filetype expectation for at all (no
// owner has a usable hash, and it has no children): a symlink or
// directory can't be content-checked (unverifiable), a regular file still
// gets a hash-less file check, and anything else is merely noted.
func (d *Driver) dispatchUnknown(path string, node *dpkg.Node, lst os.FileInfo, verify func()) {
	switch {
	case lst.Mode()&os.ModeSymlink != 0:
		d.Logger.UnverifiableLink(d.ReportUnverifiable, path, owner(node))
	case lst.IsDir():
		d.Logger.UnverifiableDir(d.ReportUnverifiable, path, owner(node))
	case lst.Mode().IsRegular():
		verify()
	default:
		d.Logger.Warning("Special file installed at %s owned by %s", path, owner(node))
	}
}

func (d *Driver) visitDir(ctx context.Context, path string, node *dpkg.Node, visited map[string]bool, withinSymlink bool) error {
	names, err := readDirNames(path)
	if err != nil {
		d.Logger.SystemError("reading %s: %v", path, err)
		return nil
	}

	all := make(map[string]bool, len(names)+len(node.ChildNames()))
	for _, n := range names {
		all[n] = true
	}
	for _, n := range node.ChildNames() {
		all[n] = true
	}
	sorted := make([]string, 0, len(all))
	for n := range all {
		sorted = append(sorted, n)
	}
	sort.Strings(sorted)

	for _, name := range sorted {
		if err := d.visit(ctx, filepath.Join(path, name), node.Child(name), visited, withinSymlink); err != nil {
			return err
		}
	}
	return nil
}

// verifyLeaf groups node's owners by their usable hash (so a file owned
// by several packages that all agree on its content is checked exactly
// once) and submits one VerifyRequest per distinct hash, arbitrarily
// naming the first owner (by name) in each group for reporting (§9 open
// question: which owner to name when several agree). Owners that carry no
// PackageInfo at all bypass the hash verifier entirely and go straight to
// the fetcher as a no-hash record (§4.2 "For each owner with no
// PackageInfo, emit one no-hash record"). package_info entries that name
// a package not among node's owners are stale metadata: skipped quietly
// when harmless, otherwise warned and still submitted (§4.2 "Additionally
// scan package_info entries whose package is not an owner"). Nothing is
// submitted at all for a file this process can't read: that's an error,
// not a discrepancy.
func (d *Driver) verifyLeaf(recordedPath, filePath string, node *dpkg.Node) {
	if err := unix.Access(filePath, unix.R_OK); err != nil {
		d.Logger.SystemError("Don't have read permission for %s", recordedPath)
		return
	}

	// Copied before sorting: the index is immutable once loaded, and
	// Owners returns its backing slice.
	owners := append([]string(nil), node.Owners()...)
	ownerSet := make(map[string]bool, len(owners))
	for _, pkg := range owners {
		ownerSet[pkg] = true
	}
	sort.Strings(owners)

	byHash := make(map[dpkg.Hash][]string)

	for _, pkg := range owners {
		pi, ok := node.PackageInfo(pkg)
		if !ok {
			d.Supervisor.SubmitNoHash(pkg, recordedPath)
			continue
		}
		if hash, submit := d.considerHash(recordedPath, pkg, pi); submit {
			byHash[hash] = append(byHash[hash], pkg)
		}
	}

	piNames := node.PackageInfoNames()
	sort.Strings(piNames)
	for _, pkg := range piNames {
		if ownerSet[pkg] {
			continue
		}
		pi, _ := node.PackageInfo(pkg)
		if pi.HasConffile && pi.ConffileObsolete && !pi.HasMD5Sum {
			continue // harmless: obsolete conffile for a package that no longer owns the path
		}
		if !d.Index.Installed(pkg) {
			continue // harmless: stale package_info for a package that's gone entirely
		}
		d.Logger.Warning("%s: package_info names %s, which doesn't own the path", recordedPath, pkg)
		if hash, submit := d.considerHash(recordedPath, pkg, pi); submit {
			byHash[hash] = append(byHash[hash], pkg)
		}
	}

	// Every owner's hash was deliberately skipped (obsolete conffile,
	// --ignore-conffiles) or had none to begin with: already noted or
	// submitted hash-less above, nothing more to do.
	if len(byHash) == 0 {
		return
	}
	if len(byHash) > 1 {
		d.Logger.Warning("%s: owners disagree on expected content hash", recordedPath)
	}

	hashes := make([]dpkg.Hash, 0, len(byHash))
	for h := range byHash {
		hashes = append(hashes, h)
	}
	sort.Slice(hashes, func(i, j int) bool { return hashes[i] < hashes[j] })

	for _, h := range hashes {
		pkgs := byHash[h]
		d.Supervisor.Submit(pipeline.VerifyRequest{
			Path:     recordedPath,
			Package:  pkgs[0],
			FilePath: filePath,
			Expected: h,
		})
	}
}

// considerHash applies the per-owner skip rules (--ignore-conffiles,
// obsolete conffiles, md5sum/conffile disagreement) and returns the usable
// hash for pkg along with whether it should be folded into byHash.
func (d *Driver) considerHash(recordedPath, pkg string, pi *dpkg.PackageInfo) (dpkg.Hash, bool) {
	if d.IgnoreConffiles && pi.HasConffile {
		d.Logger.IgnoredConffile()
		return "", false
	}
	if pi.HasConffile && pi.ConffileObsolete && !pi.HasMD5Sum {
		d.Logger.Note("Skipping obsolete conffile %s owned by %s", recordedPath, pkg)
		return "", false
	}
	if pi.Conflicting() {
		d.Logger.Warning("%s: md5sum and conffile hash disagree for %s", recordedPath, pkg)
	}
	hash, ok := pi.UsableHash()
	if !ok {
		return "", false
	}
	return hash, true
}

func owner(node *dpkg.Node) string {
	owners := node.Owners()
	if len(owners) == 0 {
		return "unknown"
	}
	return owners[0]
}

func readDirNames(path string) ([]string, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name()
	}
	return names, nil
}
