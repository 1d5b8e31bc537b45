// Package dpkg provides the dpkg state index: a trie of installed paths,
// keyed by path component, annotated with the owning packages and the
// expected content hash of each file.
package dpkg

// Hash is a 32-character lowercase hexadecimal MD5 digest, as recorded in
// dpkg's info/*.md5sums files and Conffiles fields.
type Hash string

// Valid reports whether h looks like a well-formed MD5 digest.
func (h Hash) Valid() bool {
	if len(h) != 32 {
		return false
	}
	for _, c := range h {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			return false
		}
	}
	return true
}

func (h Hash) String() string { return string(h) }
