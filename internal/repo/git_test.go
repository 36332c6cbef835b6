package repo

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// initRepo creates a git repo with one commit and returns its path.
func initRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	ctx := t.Context()

	require.NoError(t, Init(ctx, dir))
	require.NoError(t, EnsureIdentity(ctx, dir, "tester", "tester@example.com"))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello\n"), 0o644))
	_, err := run(ctx, dir, "add", "-A")
	require.NoError(t, err)
	require.NoError(t, Commit(ctx, dir, "initial"))
	return dir
}

func TestCurrentCommit(t *testing.T) {
	dir := initRepo(t)
	hash, err := CurrentCommit(t.Context(), dir)
	require.NoError(t, err)
	assert.Len(t, hash, 40)
}

func TestCapturePatch(t *testing.T) {
	dir := initRepo(t)
	base, err := CurrentCommit(t.Context(), dir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "new.txt"), []byte("added\n"), 0o644))

	patch, err := CapturePatch(t.Context(), dir, base)
	require.NoError(t, err)
	assert.Contains(t, patch, "diff --git a/new.txt b/new.txt")
	assert.Contains(t, patch, "+added")
}

func TestCapturePatch_NoChanges(t *testing.T) {
	dir := initRepo(t)
	base, err := CurrentCommit(t.Context(), dir)
	require.NoError(t, err)

	patch, err := CapturePatch(t.Context(), dir, base)
	require.NoError(t, err)
	assert.Empty(t, patch)
}

func TestHasStagedChanges(t *testing.T) {
	dir := initRepo(t)

	ok, err := HasStagedChanges(t.Context(), dir)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "x.txt"), []byte("x\n"), 0o644))
	ok, err = HasStagedChanges(t.Context(), dir)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCopyTree(t *testing.T) {
	src := initRepo(t)
	require.NoError(t, os.MkdirAll(filepath.Join(src, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "sub", "f.txt"), []byte("data\n"), 0o644))

	dst := filepath.Join(t.TempDir(), "workspace")
	require.NoError(t, os.MkdirAll(dst, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dst, "stale.txt"), []byte("old"), 0o644))

	require.NoError(t, CopyTree(src, dst))

	data, err := os.ReadFile(filepath.Join(dst, "sub", "f.txt"))
	require.NoError(t, err)
	assert.Equal(t, "data\n", string(data))

	// Destination is wiped first.
	_, err = os.Stat(filepath.Join(dst, "stale.txt"))
	assert.True(t, os.IsNotExist(err))

	// The copy includes .git, so git commands work in the new tree.
	_, err = CurrentCommit(t.Context(), dst)
	assert.NoError(t, err)
}

func TestCheckoutNewBranch(t *testing.T) {
	dir := initRepo(t)
	require.NoError(t, CheckoutNewBranch(t.Context(), dir, "fix-issue-1"))

	branch, err := run(t.Context(), dir, "rev-parse", "--abbrev-ref", "HEAD")
	require.NoError(t, err)
	assert.Equal(t, "fix-issue-1", branch)
}
