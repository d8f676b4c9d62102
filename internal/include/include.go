// Package include expands the "$<'path'>" and "$<<path>>" file-include
// directives that may appear inside checkout/build/package script
// bodies, resolved against a recipe's source directory.
//
// "$<'glob'>" substitutes the matched file's contents, shell-quoted, so
// the script can use it inline. "$<<glob>>" substitutes a deterministic
// placeholder path under ${FOUNDRY_INCLUDE_TMPDIR} instead; this package
// does not write the contents to any file. Both forms also feed the included bytes into a separate
// digest script so a Variant-Id changes when included content changes,
// even though the executed script only ever sees a literal or a path.
package include

import (
	"crypto/sha1"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Result is the outcome of expanding includes in one script body.
type Result struct {
	// Script is the script text with every "$<...>" directive replaced.
	Script string
	// DigestScript accumulates one line per inclusion, each line the
	// SHA1 hex digest of the included bytes followed by the source
	// path, so two scripts that differ only by included file content
	// produce different digest scripts.
	DigestScript string
}

// FS abstracts the filesystem an include directive reads from, so tests
// can supply an in-memory tree.
type FS interface {
	fs.FS
	Glob(pattern string) ([]string, error)
}

// osFS adapts a real directory for use as an include.FS.
type osFS struct {
	root string
	fs.FS
}

// NewOSFS returns an FS rooted at dir.
func NewOSFS(dir string) FS {
	return &osFS{root: dir, FS: os.DirFS(dir)}
}

func (o *osFS) Glob(pattern string) ([]string, error) {
	matches, err := fs.Glob(o.FS, pattern)
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	return matches, nil
}

// Expand scans script for "$<'glob'>" and "$<<glob>>" directives and
// replaces them, returning the rewritten script and its digest script.
func Expand(script string, files FS) (Result, error) {
	var out strings.Builder
	var digestLines []string

	i := 0
	for i < len(script) {
		if strings.HasPrefix(script[i:], "$<<") {
			end := strings.Index(script[i+3:], ">>")
			if end < 0 {
				return Result{}, fmt.Errorf("unterminated $<< include directive")
			}
			pattern := script[i+3 : i+3+end]
			i += 3 + end + 2

			path, content, err := resolveOne(files, pattern)
			if err != nil {
				return Result{}, err
			}
			digestLines = append(digestLines, digestLine(path, content))
			out.WriteString(tempFilePlaceholder(path, content))
			continue
		}

		if strings.HasPrefix(script[i:], "$<'") {
			end := strings.Index(script[i+3:], "'>")
			if end < 0 {
				return Result{}, fmt.Errorf("unterminated $<'...'> include directive")
			}
			pattern := script[i+3 : i+3+end]
			i += 3 + end + 2

			path, content, err := resolveOne(files, pattern)
			if err != nil {
				return Result{}, err
			}
			digestLines = append(digestLines, digestLine(path, content))
			out.WriteString(shellQuote(string(content)))
			continue
		}

		out.WriteByte(script[i])
		i++
	}

	return Result{
		Script:       out.String(),
		DigestScript: strings.Join(digestLines, "\n"),
	}, nil
}

// resolveOne globs pattern and returns the contents of every match,
// concatenated in the order Glob returns them, with the first match's
// path (an empty match is an error per the include contract — a typo
// should fail loudly, not silently include nothing).
func resolveOne(files FS, pattern string) (string, []byte, error) {
	matches, err := files.Glob(pattern)
	if err != nil {
		return "", nil, fmt.Errorf("include %q: %w", pattern, err)
	}
	if len(matches) == 0 {
		return "", nil, fmt.Errorf("include %q: no matching file", pattern)
	}

	var content []byte
	var path string
	for _, m := range matches {
		b, err := fs.ReadFile(files, m)
		if err != nil {
			return "", nil, fmt.Errorf("include %q: %w", m, err)
		}
		content = append(content, b...)
		path = m
	}
	if len(matches) > 1 {
		path = matches[0]
	}
	return path, content, nil
}

func digestLine(path string, content []byte) string {
	sum := sha1.Sum(content)
	return fmt.Sprintf("%x %s", sum, path)
}

// shellQuote wraps s in single quotes, escaping any embedded single
// quote the POSIX-shell way: close, escaped quote, reopen.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// tempFilePlaceholder returns the path substituted for a "$<<glob>>"
// directive: ${FOUNDRY_INCLUDE_TMPDIR}/, the first 8 bytes of the
// content's SHA1 in hex, a dash, and the source file's base name. The
// content itself is not written anywhere.
func tempFilePlaceholder(path string, content []byte) string {
	sum := sha1.Sum(content)
	return fmt.Sprintf("${FOUNDRY_INCLUDE_TMPDIR}/%x-%s", sum[:8], filepath.Base(path))
}
