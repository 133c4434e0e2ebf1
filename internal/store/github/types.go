// Package github implements the work item store over the GitHub API.
//
// Issue comments and pull requests go through the REST API; project items
// and their fields go through the GraphQL API (Projects v2 has no REST
// surface). The package maps both onto the store capability interface and
// keeps all GitHub wire shapes internal.
package github

import (
	"net/http"
	"time"
)

// API configuration constants.
const (
	// DefaultAPIEndpoint is the GitHub REST API base URL.
	DefaultAPIEndpoint = "https://api.github.com"

	// DefaultGraphQLEndpoint is the GitHub GraphQL API URL.
	DefaultGraphQLEndpoint = "https://api.github.com/graphql"

	// DefaultTimeout is the default HTTP request timeout.
	DefaultTimeout = 30 * time.Second

	// MaxRetries is the maximum number of retries for failed requests.
	MaxRetries = 3

	// MaxPageSize is the maximum number of records to fetch per page.
	MaxPageSize = 100

	// MaxPages is the maximum number of pages to fetch before stopping.
	// This prevents infinite loops from malformed Link headers or cursors.
	MaxPages = 1000
)

// Client provides store access backed by the GitHub API.
type Client struct {
	Token      string       // GitHub token with repo and project scopes
	Owner      string       // Repository owner (user or org)
	Repo       string       // Repository name
	ProjectID  string       // Projects v2 node id (PVT_...)
	BaseURL    string       // REST base URL (default: https://api.github.com)
	GraphQLURL string       // GraphQL URL (default: https://api.github.com/graphql)
	HTTPClient *http.Client // Optional custom HTTP client
}

// NewClient creates a new GitHub store client.
func NewClient(token, owner, repo, projectID string) *Client {
	return &Client{
		Token:      token,
		Owner:      owner,
		Repo:       repo,
		ProjectID:  projectID,
		BaseURL:    DefaultAPIEndpoint,
		GraphQLURL: DefaultGraphQLEndpoint,
		HTTPClient: &http.Client{Timeout: DefaultTimeout},
	}
}

// WithBaseURL returns a copy of the client with custom endpoints
// (for testing or GitHub Enterprise).
func (c *Client) WithBaseURL(baseURL, graphqlURL string) *Client {
	out := *c
	out.BaseURL = baseURL
	out.GraphQLURL = graphqlURL
	return &out
}

// restComment is an issue comment from the REST API.
type restComment struct {
	ID   int64  `json:"id"`
	Body string `json:"body"`
}

// restPull is a pull request from the REST API.
type restPull struct {
	Number   int        `json:"number"`
	State    string     `json:"state"` // "open" or "closed"
	Title    string     `json:"title"`
	Body     string     `json:"body"`
	HTMLURL  string     `json:"html_url"`
	Merged   bool       `json:"merged"`
	MergedAt *time.Time `json:"merged_at,omitempty"`
}

// graphQLRequest is the POST body for a GraphQL call.
type graphQLRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables,omitempty"`
}

// graphQLError is one error entry in a GraphQL response.
type graphQLError struct {
	Message string `json:"message"`
}
