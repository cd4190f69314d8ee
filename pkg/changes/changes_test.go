package changes_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/callscope/callscope/pkg/callgraph"
	"github.com/callscope/callscope/pkg/changes"
)

const modifyPatch = `diff --git a/src/util.ts b/src/util.ts
index 1111111..2222222 100644
--- a/src/util.ts
+++ b/src/util.ts
@@ -2,0 +3,2 @@ export function a() {
+  const x = 1;
+  return x;
@@ -10,2 +11,0 @@ export function b() {
-  old();
-  older();
diff --git a/README.md b/README.md
index 3333333..4444444 100644
--- a/README.md
+++ b/README.md
@@ -1 +1 @@
-hello
+world
`

func TestParseUnifiedDiff_AddedAndRemoved(t *testing.T) {
	got, err := changes.ParseUnifiedDiff([]byte(modifyPatch))
	require.NoError(t, err)

	assert.Equal(t, []string{"src/util.ts"}, got.Files())
	assert.Equal(t, []int{3, 4, 11}, got["src/util.ts"].Sorted())
}

func TestParseUnifiedDiff_ContextLines(t *testing.T) {
	patch := `--- a/app.tsx
+++ b/app.tsx
@@ -5,5 +5,5 @@
 one
 two
-three
+THREE
 four
 five
`
	got, err := changes.ParseUnifiedDiff([]byte(patch))
	require.NoError(t, err)
	assert.Equal(t, []int{7}, got["app.tsx"].Sorted())
}

func TestParseUnifiedDiff_NewAndDeletedFiles(t *testing.T) {
	patch := `diff --git a/src/new.ts b/src/new.ts
new file mode 100644
index 0000000..5555555
--- /dev/null
+++ b/src/new.ts
@@ -0,0 +1,2 @@
+export function fresh() {
+}
diff --git a/src/gone.ts b/src/gone.ts
deleted file mode 100644
index 6666666..0000000
--- a/src/gone.ts
+++ /dev/null
@@ -1,2 +0,0 @@
-export function gone() {
-}
`
	got, err := changes.ParseUnifiedDiff([]byte(patch))
	require.NoError(t, err)
	assert.Equal(t, []string{"src/new.ts"}, got.Files())
	assert.Equal(t, []int{1, 2}, got["src/new.ts"].Sorted())
}

func TestParseUnifiedDiff_Empty(t *testing.T) {
	got, err := changes.ParseUnifiedDiff([]byte("  \n"))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestIsTracked(t *testing.T) {
	tests := map[string]bool{
		"a.ts":       true,
		"b/c.tsx":    true,
		"types.d.ts": true,
		"x.js":       false,
		"y.jsx":      false,
		"README.md":  false,
	}
	for path, want := range tests {
		assert.Equal(t, want, changes.IsTracked(path), path)
	}
}

func TestPatchDetector_ReaderAndFile(t *testing.T) {
	ctx := context.Background()

	fromReader := &changes.PatchDetector{Path: "-", Reader: strings.NewReader(modifyPatch)}
	res, err := fromReader.DetectChanges(ctx, changes.Request{})
	require.NoError(t, err)
	assert.Equal(t, []string{"src/util.ts"}, res.Files())

	path := filepath.Join(t.TempDir(), "change.patch")
	require.NoError(t, os.WriteFile(path, []byte(modifyPatch), 0o644))
	fromFile := &changes.PatchDetector{Path: path}
	res, err = fromFile.DetectChanges(ctx, changes.Request{})
	require.NoError(t, err)
	assert.Equal(t, callgraph.NewLineSet(3, 4, 11), res.Lines["src/util.ts"])
}

func TestPatchDetector_MissingFile(t *testing.T) {
	d := &changes.PatchDetector{Path: filepath.Join(t.TempDir(), "nope.patch")}
	_, err := d.DetectChanges(context.Background(), changes.Request{})
	assert.ErrorContains(t, err, "reading patch")
}

func TestGitDetector_RequiresBase(t *testing.T) {
	_, err := changes.NewGitDetector().DetectChanges(context.Background(), changes.Request{RepoPath: t.TempDir()})
	assert.ErrorContains(t, err, "base ref")
}
