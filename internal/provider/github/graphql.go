package github

import (
	"context"
	"fmt"
	"strconv"

	"github.com/shurcooL/githubv4"

	"github.com/patchpilot/patchpilot/internal/provider"
)

// prMetadataQuery retrieves closing issue references, top-level reviews and
// review threads for one pull request. The REST API does not expose thread
// resolution state, so this has to be GraphQL.
type prMetadataQuery struct {
	Repository struct {
		PullRequest struct {
			ClosingIssuesReferences struct {
				Edges []struct {
					Node struct {
						Body   string
						Number int
					}
				}
			} `graphql:"closingIssuesReferences(first: 10)"`
			Reviews struct {
				Nodes []struct {
					Body           string
					State          string
					FullDatabaseID string `graphql:"fullDatabaseId"`
				}
			} `graphql:"reviews(first: 100)"`
			ReviewThreads struct {
				Edges []struct {
					Node struct {
						ID         string
						IsResolved bool
						Comments   struct {
							Nodes []struct {
								Body           string
								Path           string
								FullDatabaseID string `graphql:"fullDatabaseId"`
							}
						} `graphql:"comments(first: 100)"`
					}
				}
			} `graphql:"reviewThreads(first: 100)"`
		} `graphql:"pullRequest(number: $pr)"`
	} `graphql:"repository(owner: $owner, name: $repo)"`
}

// DownloadPRMetadata retrieves closing-issue references, review bodies and
// unresolved review threads for one pull request. When commentID is
// non-zero, reviews are narrowed to the matching review and threads are
// kept only when they contain that comment.
func (a *Adapter) DownloadPRMetadata(ctx context.Context, prNumber int, commentID int64) (*provider.PRMetadata, error) {
	var query prMetadataQuery
	variables := map[string]any{
		"owner": githubv4.String(a.owner),
		"repo":  githubv4.String(a.repo),
		"pr":    githubv4.Int(prNumber),
	}
	if err := a.gql(ctx).Query(ctx, &query, variables); err != nil {
		return nil, fmt.Errorf("querying PR metadata: %w", err)
	}

	pr := query.Repository.PullRequest
	meta := &provider.PRMetadata{}

	for _, edge := range pr.ClosingIssuesReferences.Edges {
		meta.ClosingIssueBodies = append(meta.ClosingIssueBodies, edge.Node.Body)
		meta.ClosingIssueNumbers = append(meta.ClosingIssueNumbers, edge.Node.Number)
	}

	for _, review := range pr.Reviews.Nodes {
		if commentID != 0 && parseDatabaseID(review.FullDatabaseID) != commentID {
			continue
		}
		meta.ReviewBodies = append(meta.ReviewBodies, review.Body)
	}

	for _, edge := range pr.ReviewThreads.Edges {
		node := edge.Node
		if node.IsResolved {
			continue
		}

		var bodies []string
		var files []string
		containsComment := false
		for _, comment := range node.Comments.Nodes {
			if commentID != 0 && parseDatabaseID(comment.FullDatabaseID) == commentID {
				containsComment = true
			}
			bodies = append(bodies, comment.Body)
			files = provider.AppendThreadFile(files, comment.Path)
		}
		if commentID != 0 && !containsComment {
			continue
		}

		meta.ReviewThreads = append(meta.ReviewThreads, provider.ReviewThread{
			Comment: provider.BuildThreadComment(bodies),
			Files:   files,
		})
		meta.ThreadIDs = append(meta.ThreadIDs, node.ID)
	}

	return meta, nil
}

// ReplyToComment posts a reply on a review thread. threadID is the thread's
// GraphQL node ID; REST cannot reply to replies inside a thread.
func (a *Adapter) ReplyToComment(ctx context.Context, prNumber int, threadID, reply string) error {
	var mutation struct {
		AddPullRequestReviewThreadReply struct {
			Comment struct {
				ID string
			}
		} `graphql:"addPullRequestReviewThreadReply(input: $input)"`
	}
	input := githubv4.AddPullRequestReviewThreadReplyInput{
		PullRequestReviewThreadID: githubv4.NewID(threadID),
		Body:                      githubv4.String(replyPrefix + reply),
	}
	if err := a.gql(ctx).Mutate(ctx, &mutation, input, nil); err != nil {
		return fmt.Errorf("replying to thread %s: %w", threadID, err)
	}
	return nil
}

// parseDatabaseID converts a GraphQL fullDatabaseId string to int64;
// unparseable values return 0 and thus never match a real comment ID.
func parseDatabaseID(raw string) int64 {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return id
}
