package provider

import "strings"

// BuildThreadComment concatenates the comments of one review thread into the
// canonical form: each comment on its own line, the last one prefixed with
// "latest feedback:", preceded by a "---" separator when the thread has more
// than one comment.
func BuildThreadComment(bodies []string) string {
	var b strings.Builder
	for i, body := range bodies {
		if i == len(bodies)-1 {
			if len(bodies) > 1 {
				b.WriteString("---\n")
			}
			b.WriteString("latest feedback:\n")
			b.WriteString(body)
			b.WriteString("\n")
		} else {
			b.WriteString(body)
			b.WriteString("\n")
		}
	}
	return b.String()
}

// AppendThreadFile adds path to files if it is non-empty and not already
// present, preserving first-seen order.
func AppendThreadFile(files []string, path string) []string {
	if path == "" {
		return files
	}
	for _, f := range files {
		if f == path {
			return files
		}
	}
	return append(files, path)
}
