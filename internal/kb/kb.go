// Package kb provides knowledge-base search for the scenarios:
// guideline and job-instruction snippets retrieved by free-text query
// within a named collection.
package kb

import "context"

// Result is one retrieved snippet.
type Result struct {
	Text   string `json:"text"`
	Source string `json:"source"`
}

// Searcher retrieves the topK most relevant snippets from a collection.
type Searcher interface {
	Search(ctx context.Context, collection, query string, topK int) ([]Result, error)
}

// Collections used by the scenarios.
const (
	CollectionJobInstructions = "courier_job_description"
	CollectionGuidelines      = "support_agent_guidelines"
	CollectionGeneral         = "general_instructions"
)
