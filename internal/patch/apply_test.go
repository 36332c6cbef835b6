package patch

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFixture(t *testing.T, dir, rel, content string) {
	t.Helper()
	abs := filepath.Join(dir, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
}

func readFixture(t *testing.T, dir, rel string) string {
	t.Helper()
	raw, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(rel)))
	require.NoError(t, err)
	return string(raw)
}

func TestApplyModify(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "pkg/app.go", "package app\n\nfunc Run() {}\n")

	require.NoError(t, Apply(dir, modifyPatch))
	assert.Equal(t, "package app\n\nfunc Run() error {\n\treturn nil\n}\n",
		readFixture(t, dir, "pkg/app.go"))
}

func TestApplyPreservesCRLF(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "win.txt", "alpha\r\nbeta\r\ngamma\r\n")

	text := `diff --git a/win.txt b/win.txt
--- a/win.txt
+++ b/win.txt
@@ -1,3 +1,3 @@
 alpha
-beta
+BETA
 gamma
`
	require.NoError(t, Apply(dir, text))
	assert.Equal(t, "alpha\r\nBETA\r\ngamma\r\n", readFixture(t, dir, "win.txt"))
}

func TestApplyCreate(t *testing.T) {
	dir := t.TempDir()

	text := `diff --git a/docs/note.md b/docs/note.md
new file mode 100644
--- /dev/null
+++ b/docs/note.md
@@ -0,0 +1,2 @@
+# Note
+body
`
	require.NoError(t, Apply(dir, text))
	assert.Equal(t, "# Note\nbody\n", readFixture(t, dir, "docs/note.md"))
}

func TestApplyDeleteMissingIsNoop(t *testing.T) {
	dir := t.TempDir()

	text := `diff --git a/gone.txt b/gone.txt
deleted file mode 100644
--- a/gone.txt
+++ /dev/null
@@ -1,1 +0,0 @@
-bye
`
	require.NoError(t, Apply(dir, text))
	_, err := os.Stat(filepath.Join(dir, "gone.txt"))
	assert.True(t, os.IsNotExist(err))
}

func TestApplyRenameKeepsBytesAndPrunesDirs(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "old/deep/name.txt", "unchanged\ncontent\n")

	text := `diff --git a/old/deep/name.txt b/moved/name.txt
similarity index 100%
rename from old/deep/name.txt
rename to moved/name.txt
`
	require.NoError(t, Apply(dir, text))
	assert.Equal(t, "unchanged\ncontent\n", readFixture(t, dir, "moved/name.txt"))

	_, err := os.Stat(filepath.Join(dir, "old"))
	assert.True(t, os.IsNotExist(err), "emptied source directories should be pruned")
}

func TestApplyRenameWithEdit(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "a.txt", "one\ntwo\n")

	text := `diff --git a/a.txt b/b.txt
similarity index 60%
rename from a.txt
rename to b.txt
--- a/a.txt
+++ b/b.txt
@@ -1,2 +1,2 @@
 one
-two
+TWO
`
	require.NoError(t, Apply(dir, text))
	assert.Equal(t, "one\nTWO\n", readFixture(t, dir, "b.txt"))
}

func TestApplyHunkMismatch(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "a.txt", "something else\n")

	text := `diff --git a/a.txt b/a.txt
--- a/a.txt
+++ b/a.txt
@@ -1,1 +1,1 @@
-expected line
+replacement
`
	err := Apply(dir, text)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mismatch")
}

func TestApplyUndecodableTreatedAsEmpty(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "blob.txt", string([]byte{0xff, 0xfe, 0x00, 0x81}))

	text := `diff --git a/blob.txt b/blob.txt
--- a/blob.txt
+++ b/blob.txt
@@ -0,0 +1,1 @@
+fresh content
`
	require.NoError(t, Apply(dir, text))
	assert.Equal(t, "fresh content\n", readFixture(t, dir, "blob.txt"))
}
