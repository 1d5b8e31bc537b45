package traverse

import (
	"context"
	"os"

	"github.com/apt-diff/apt-diff/internal/dpkg"
)

// CheckPackage verifies every path pkg owns without ever looking at a
// directory's other contents: it walks only the minimal antichain of
// leaf paths the package's .list expands to (§4.1
// ExpandPackageToLeafPaths), so a --package run never reports an "extra"
// file that merely happens to live next to one of this package's files.
// This is the tree-isolation behavior a plain recursive CheckPath walk
// rooted at, say, "/usr" would not give you.
func (d *Driver) CheckPackage(ctx context.Context, pkg string) error {
	leaves, err := d.Index.ExpandPackageToLeafPaths(pkg)
	if err != nil {
		return err
	}
	for _, path := range leaves {
		if err := ctx.Err(); err != nil {
			return err
		}
		d.checkLeaf(path)
	}
	return nil
}

// checkLeaf classifies a single path this package owns, using the same
// expect_dir/expect_file/neither dispatch §4.2 defines for CheckPath
// (driver.go's visit), minus the recursion: CheckPackage never reads a
// directory's other entries, so an expect_dir leaf that does turn out to
// be a directory on disk is simply unverifiable rather than walked here.
// Its recorded children come from other packages: a path whose own
// package lists children under it is replaced by them in the antichain.
func (d *Driver) checkLeaf(path string) {
	_, node := d.Index.Lookup(path)
	if node == nil {
		// Every leaf came from this package's own .list; a nil node
		// here means the load produced no record for it, which isn't
		// possible barring an index bug. Report rather than panic.
		d.Logger.SystemError("internal error: %s has no index entry", path)
		return
	}

	lst, err := os.Lstat(path)
	if os.IsNotExist(err) {
		d.Logger.Discrepancy("Missing path %s owned by %s", path, owner(node))
		return
	}
	if err != nil {
		d.Logger.SystemError("stat %s: %v", path, err)
		return
	}

	expectDir := node.IsDir()
	expectFile := node.ExpectFile()
	if expectDir && expectFile {
		d.Logger.Warning("%s: dpkg records both file content and directory children; treating as a directory", path)
		expectFile = false
	}

	switch {
	case expectDir:
		d.checkExpectDirLeaf(path, node, lst)
	case expectFile:
		d.dispatchExpectFile(path, node, lst, func() { d.verifyLeaf(path, path, node) })
	default:
		d.dispatchUnknown(path, node, lst, func() { d.verifyLeaf(path, path, node) })
	}
}

// checkExpectDirLeaf handles an expect_dir leaf without recursing into it
// (CheckPackage's tree isolation): a plain on-disk directory is
// unverifiable content-wise (there's nothing to hash), a symlink standing
// in for one is the same after a warning, and anything else is a
// filetype-mismatch discrepancy.
func (d *Driver) checkExpectDirLeaf(path string, node *dpkg.Node, lst os.FileInfo) {
	if lst.Mode()&os.ModeSymlink != 0 {
		target, err := os.Stat(path)
		if err != nil || !target.IsDir() {
			d.Logger.Discrepancy("Path %s owned by %s is supposed to be a directory", path, owner(node))
			return
		}
		d.Logger.Warning("%s: expected directory is provided via a symbolic link", path)
		d.Logger.UnverifiableDir(d.ReportUnverifiable, path, owner(node))
		return
	}
	if !lst.IsDir() {
		d.Logger.Discrepancy("Path %s owned by %s is supposed to be a directory", path, owner(node))
		return
	}
	d.Logger.UnverifiableDir(d.ReportUnverifiable, path, owner(node))
}
