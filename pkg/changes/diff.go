package changes

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/sourcegraph/go-diff/diff"

	"github.com/callscope/callscope/pkg/callgraph"
)

// TrackedExtensions is the fixed allow-list of source extensions. Files
// with any other extension are dropped from the changed-line set.
var TrackedExtensions = []string{".ts", ".tsx"}

// IsTracked reports whether path has a tracked extension.
func IsTracked(path string) bool {
	for _, ext := range TrackedExtensions {
		if strings.HasSuffix(path, ext) {
			return true
		}
	}
	return false
}

// ParseUnifiedDiff reads a unified diff (git or plain) and returns the
// changed lines of every tracked file, numbered in the new version.
// Added lines are changed lines. A removed block marks the new-file line it
// sat next to, so a pure deletion still touches the enclosing function.
// Deleted files are skipped.
func ParseUnifiedDiff(patch []byte) (callgraph.ChangedLineSet, error) {
	out := make(callgraph.ChangedLineSet)
	if len(bytes.TrimSpace(patch)) == 0 {
		return out, nil
	}

	fileDiffs, err := diff.NewMultiFileDiffReader(bytes.NewReader(patch)).ReadAllFiles()
	if err != nil {
		return nil, fmt.Errorf("parsing diff: %w", err)
	}

	for _, fd := range fileDiffs {
		path, ok := newPath(fd)
		if !ok || !IsTracked(path) {
			continue
		}
		for _, hunk := range fd.Hunks {
			addHunk(out, path, hunk)
		}
	}
	return out, nil
}

// newPath returns the post-change path of a file diff with any a/ b/
// prefixes removed. It reports false for deletions.
func newPath(fd *diff.FileDiff) (string, bool) {
	if fd.NewName == "" || fd.NewName == "/dev/null" {
		return "", false
	}
	name := fd.NewName
	prefixed := fd.OrigName == "/dev/null" || strings.HasPrefix(fd.OrigName, "a/")
	if prefixed && strings.HasPrefix(name, "b/") {
		name = strings.TrimPrefix(name, "b/")
	}
	return name, true
}

func addHunk(out callgraph.ChangedLineSet, path string, hunk *diff.Hunk) {
	newLine := int(hunk.NewStartLine)
	for _, line := range strings.Split(string(hunk.Body), "\n") {
		if line == "" {
			continue
		}
		switch line[0] {
		case '+':
			out.Add(path, newLine)
			newLine++
		case '-':
			out.Add(path, max(newLine, 1))
		case ' ':
			newLine++
		}
	}
}
