package store

import (
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadDocumentWithFrontmatter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "instructions.md")
	content := "---\ndisabled: true\n---\n\nAlways run gofmt before committing.\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	doc, err := ReadDocument(path)
	require.NoError(t, err)

	assert.True(t, GetBool(doc.Frontmatter, "disabled"))
	assert.Contains(t, doc.Body, "Always run gofmt")
	assert.NotContains(t, doc.Body, "disabled:")
}

func TestReadDocumentPlainMarkdown(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plain.md")
	require.NoError(t, os.WriteFile(path, []byte("Just prose, no header.\n"), 0o644))

	doc, err := ReadDocument(path)
	require.NoError(t, err)

	assert.Empty(t, doc.Frontmatter)
	assert.Equal(t, "Just prose, no header.\n", doc.Body)
}

func TestReadDocumentMissing(t *testing.T) {
	_, err := ReadDocument(filepath.Join(t.TempDir(), "absent.md"))
	assert.Error(t, err)
}

func TestWriteDocumentRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".patchpilot", "instructions.md")

	err := WriteDocument(path, &Document{
		Frontmatter: map[string]any{"disabled": false},
		Body:        "Prefer table driven tests.\n",
	})
	require.NoError(t, err)

	doc, err := ReadDocument(path)
	require.NoError(t, err)
	assert.False(t, GetBool(doc.Frontmatter, "disabled"))
	assert.Equal(t, "Prefer table driven tests.\n", doc.Body)
}

func TestWriteDocumentNoFrontmatterBlock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "note.md")

	require.NoError(t, WriteDocument(path, &Document{Body: "body only\n"}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "body only\n", string(data))
}

func TestGetBoolWrongType(t *testing.T) {
	fm := map[string]any{"disabled": "yes"}
	assert.False(t, GetBool(fm, "disabled"))
	assert.False(t, GetBool(fm, "missing"))
}

func TestExists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "file.txt")
	assert.False(t, Exists(path))

	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	assert.True(t, Exists(path))
}

func TestWithLockSerializesWriters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "output.jsonl")

	var active, maxActive int32
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := WithLock(path, 10*time.Second, func() error {
				n := atomic.AddInt32(&active, 1)
				for {
					m := atomic.LoadInt32(&maxActive)
					if n <= m || atomic.CompareAndSwapInt32(&maxActive, m, n) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				atomic.AddInt32(&active, -1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&maxActive))
}

func TestWithLockTimeout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "output.jsonl")

	held := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = WithLock(path, 10*time.Second, func() error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held
	defer close(release)

	err := WithLock(path, 200*time.Millisecond, func() error {
		t.Error("callback ran while lock was held elsewhere")
		return nil
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
}

func TestWithLockPropagatesError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "output.jsonl")

	err := WithLock(path, DefaultLockTimeout, func() error {
		return os.ErrPermission
	})
	assert.ErrorIs(t, err, os.ErrPermission)
}
