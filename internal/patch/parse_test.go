package patch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const modifyPatch = `diff --git a/pkg/app.go b/pkg/app.go
index 1234567..89abcde 100644
--- a/pkg/app.go
+++ b/pkg/app.go
@@ -1,3 +1,4 @@
 package app

-func Run() {}
+func Run() error {
+	return nil
+}
`

func TestParseModify(t *testing.T) {
	diffs, err := Parse(modifyPatch)
	require.NoError(t, err)
	require.Len(t, diffs, 1)

	d := diffs[0]
	assert.Equal(t, Modified, d.State)
	assert.Equal(t, "pkg/app.go", d.OldPath)
	assert.Equal(t, "pkg/app.go", d.NewPath)
	require.Len(t, d.Hunks, 1)

	h := d.Hunks[0]
	assert.Equal(t, 1, h.OldStart)
	assert.Equal(t, 3, h.OldLines)
	assert.Equal(t, 4, h.NewLines)
	require.Len(t, h.Lines, 6)
	assert.Equal(t, OpRemove, h.Lines[2].Op)
	assert.Equal(t, "func Run() {}", h.Lines[2].Text)
	assert.Equal(t, OpAdd, h.Lines[3].Op)
}

func TestParseCreateAndDelete(t *testing.T) {
	text := `diff --git a/new.txt b/new.txt
new file mode 100644
index 0000000..e69de29
--- /dev/null
+++ b/new.txt
@@ -0,0 +1,2 @@
+hello
+world
diff --git a/gone.txt b/gone.txt
deleted file mode 100644
index e69de29..0000000
--- a/gone.txt
+++ /dev/null
@@ -1,1 +0,0 @@
-bye
`
	diffs, err := Parse(text)
	require.NoError(t, err)
	require.Len(t, diffs, 2)

	assert.Equal(t, Created, diffs[0].State)
	assert.Empty(t, diffs[0].OldPath)
	assert.Equal(t, "new.txt", diffs[0].NewPath)

	assert.Equal(t, Deleted, diffs[1].State)
	assert.Equal(t, "gone.txt", diffs[1].OldPath)
	assert.Empty(t, diffs[1].NewPath)
}

func TestParseRename(t *testing.T) {
	text := `diff --git a/old/name.txt b/new/name.txt
similarity index 100%
rename from old/name.txt
rename to new/name.txt
`
	diffs, err := Parse(text)
	require.NoError(t, err)
	require.Len(t, diffs, 1)
	assert.Equal(t, Renamed, diffs[0].State)
	assert.Equal(t, "old/name.txt", diffs[0].OldPath)
	assert.Equal(t, "new/name.txt", diffs[0].NewPath)
	assert.Empty(t, diffs[0].Hunks)
}

func TestParseBinaryRejected(t *testing.T) {
	text := `diff --git a/img.png b/img.png
index 1234567..89abcde 100644
Binary files a/img.png and b/img.png differ
`
	_, err := Parse(text)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "binary")
}

func TestParseTruncatedHunk(t *testing.T) {
	text := `diff --git a/a.txt b/a.txt
--- a/a.txt
+++ b/a.txt
@@ -1,3 +1,3 @@
 one
`
	_, err := Parse(text)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "truncated")
}

func TestParseNoEntries(t *testing.T) {
	_, err := Parse("not a patch at all")
	require.Error(t, err)
}
