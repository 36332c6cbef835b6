package provider

import (
	"regexp"
	"strconv"
)

var (
	fencedCodePattern = regexp.MustCompile("(?s)```.*?```")
	inlineCodePattern = regexp.MustCompile("`[^`]*`")
	urlPattern        = regexp.MustCompile(`https?://\S+`)
	issueRefPattern   = regexp.MustCompile(`#(\d+)`)
)

// ExtractIssueReferences returns the issue numbers referenced as #N in text.
// References inside fenced or inline code spans and inside URLs are ignored.
// Order follows first appearance; duplicates are preserved (callers dedupe).
func ExtractIssueReferences(text string) []int {
	cleaned := fencedCodePattern.ReplaceAllString(text, "")
	cleaned = inlineCodePattern.ReplaceAllString(cleaned, "")
	cleaned = urlPattern.ReplaceAllString(cleaned, "")

	var refs []int
	for _, m := range issueRefPattern.FindAllStringSubmatch(cleaned, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		refs = append(refs, n)
	}
	return refs
}

// CollectIssueReferences extracts references from every text channel of an
// issue (body, review comments, thread text, thread comments), drops numbers
// already listed in known, and returns the remaining ones deduplicated.
func CollectIssueReferences(issue Issue, known []int) []int {
	var all []int
	all = append(all, ExtractIssueReferences(issue.Body)...)
	for _, c := range issue.ReviewComments {
		all = append(all, ExtractIssueReferences(c)...)
	}
	for _, t := range issue.ReviewThreads {
		all = append(all, ExtractIssueReferences(t.Comment)...)
	}
	for _, c := range issue.ThreadComments {
		all = append(all, ExtractIssueReferences(c)...)
	}

	knownSet := make(map[int]bool, len(known))
	for _, n := range known {
		knownSet[n] = true
	}

	seen := make(map[int]bool)
	var refs []int
	for _, n := range all {
		if knownSet[n] || seen[n] {
			continue
		}
		seen[n] = true
		refs = append(refs, n)
	}
	return refs
}
