package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildThreadComment(t *testing.T) {
	assert.Equal(t, "latest feedback:\nonly one\n", BuildThreadComment([]string{"only one"}))

	got := BuildThreadComment([]string{"first", "second", "third"})
	assert.Equal(t, "first\nsecond\n---\nlatest feedback:\nthird\n", got)

	assert.Empty(t, BuildThreadComment(nil))
}

func TestAppendThreadFile(t *testing.T) {
	files := AppendThreadFile(nil, "main.go")
	files = AppendThreadFile(files, "store.go")
	files = AppendThreadFile(files, "main.go")
	files = AppendThreadFile(files, "")
	assert.Equal(t, []string{"main.go", "store.go"}, files)
}
