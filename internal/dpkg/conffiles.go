package dpkg

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// LoadConffiles runs dpkg-query --show -f '${Package} ${Conffiles}\n' over
// every installed package and records conffile hashes into the index
// (§4.1). Unlike info/*.md5sums, dpkg keeps conffile status in the status
// file rather than per-package, so this is a single query rather than one
// file per package.
//
// ${Conffiles} itself is a multi-line field: a package's first conffile
// entry shares its physical line with the package header ("<package>
// <path> <md5sum>[ obsolete]"), but every conffile after the first is its
// own line, prefixed with a leading space and carrying no package token
// ("<path> <md5sum>[ obsolete]"). §4.1 calls these out explicitly:
// "distinguishing leading-space (conffile entry) from non-space (package
// header)". LoadConffiles tracks the most recently seen header's package
// name so continuation lines can be attributed to the right package.
func (idx *Index) LoadConffiles(ctx context.Context, filter *PathFilter, warn func(format string, args ...any)) error {
	cmd := exec.CommandContext(ctx, "dpkg-query", "--show",
		"-f", `${Package} ${Conffiles}\n`)
	out, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("starting dpkg-query: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting dpkg-query: %w", err)
	}

	sc := bufio.NewScanner(out)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	currentPkg := ""
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, " ") {
			if currentPkg == "" {
				warn("ignoring conffile continuation line with no preceding package header: %q", line)
				continue
			}
			idx.parseConffilesLine(currentPkg, strings.TrimSpace(line), filter, warn)
			continue
		}
		pkg, rest, _ := strings.Cut(line, " ")
		currentPkg = pkg
		idx.parseConffilesLine(pkg, strings.TrimSpace(rest), filter, warn)
	}
	scanErr := sc.Err()

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("dpkg-query: %w", err)
	}
	if scanErr != nil {
		return fmt.Errorf("reading dpkg-query output: %w", scanErr)
	}
	return nil
}

// parseConffilesLine parses one conffile entry already attributed to pkg:
// "<path> <md5sum>[ obsolete]". entry is empty for a package header with
// no conffiles at all ("<package> " with nothing following), which is
// simply ignored. Per §4.1: "Each conffile line is split from the right
// on space(s): the last token is obsolete/hash; if obsolete, split
// again."
func (idx *Index) parseConffilesLine(pkg, entry string, filter *PathFilter, warn func(format string, args ...any)) {
	if entry == "" {
		return
	}
	fields := strings.Fields(entry)
	if len(fields) < 2 {
		return
	}

	obsolete := fields[len(fields)-1] == "obsolete"
	pathFields := fields[:len(fields)-1]
	hashToken := fields[len(fields)-1]
	if obsolete {
		if len(pathFields) < 2 {
			return
		}
		hashToken = pathFields[len(pathFields)-1]
		pathFields = pathFields[:len(pathFields)-1]
	}
	path := normalizePath(strings.Join(pathFields, " "))

	if hashToken == "newconffile" {
		// dpkg hasn't computed a hash yet (package half-configured);
		// nothing to verify against, so drop it with a warning rather
		// than aborting the whole load.
		warn("ignoring conffile %s for %s: no recorded hash (newconffile)", path, pkg)
		return
	}
	hash := Hash(hashToken)
	if !hash.Valid() {
		warn("ignoring conffile %s for %s: malformed hash %q", path, pkg, hashToken)
		return
	}
	if !filter.Includes(path) {
		return
	}
	idx.RecordConffile(pkg, path, hash, obsolete)
}

// RecordConffile stores a Conffiles entry for pkg at path, creating the
// trie node if the .list load didn't already produce one (dpkg records
// conffile status independently of the package manifest).
func (idx *Index) RecordConffile(pkg, path string, hash Hash, obsolete bool) {
	p := normalizePath(path)
	n := idx.lookupExact(p)
	if n == nil {
		n = idx.insertPath(p, pkg)
	}
	pi := n.packageInfoOrCreate(pkg)
	pi.ConffileHash = hash
	pi.ConffileObsolete = obsolete
	pi.HasConffile = true
}
