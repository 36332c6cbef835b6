package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractIssueReferences(t *testing.T) {
	assert.Equal(t, []int{12, 7}, ExtractIssueReferences("Fixes #12, relates to #7"))
	assert.Nil(t, ExtractIssueReferences("no references here"))
}

func TestExtractIssueReferencesIgnoresCodeAndURLs(t *testing.T) {
	text := "See #5.\n```\nignored #6\n```\nAlso `#7` and https://example.com/issues/8#issuecomment-9"
	assert.Equal(t, []int{5}, ExtractIssueReferences(text))
}

func TestCollectIssueReferences(t *testing.T) {
	iss := Issue{
		Body:           "Fixes #1 and #2",
		ReviewComments: []string{"see #3"},
		ReviewThreads:  []ReviewThread{{Comment: "dup of #2 and #4"}},
		ThreadComments: []string{"also #5"},
	}

	refs := CollectIssueReferences(iss, []int{1})
	assert.Equal(t, []int{2, 3, 4, 5}, refs)
}

func TestCollectIssueReferencesDedupes(t *testing.T) {
	iss := Issue{Body: "#9 #9 #9"}
	assert.Equal(t, []int{9}, CollectIssueReferences(iss, nil))
}
