package github

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/stagehand-sh/stagehand/internal/coorderr"
	"github.com/stagehand-sh/stagehand/internal/types"
)

// doGraphQL posts a GraphQL query and unmarshals the "data" object into out.
// GraphQL-level errors surface as transport failures; the coordination layer
// treats any unexpected shape as "the store is unreliable right now".
func (c *Client) doGraphQL(ctx context.Context, query string, variables map[string]interface{}, out interface{}) error {
	respBody, _, err := c.doRequest(ctx, http.MethodPost, c.GraphQLURL, graphQLRequest{
		Query:     query,
		Variables: variables,
	})
	if err != nil {
		return err
	}

	var envelope struct {
		Data   json.RawMessage `json:"data"`
		Errors []graphQLError  `json:"errors"`
	}
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return fmt.Errorf("parsing GraphQL response: %w", err)
	}
	if len(envelope.Errors) > 0 {
		msgs := make([]string, len(envelope.Errors))
		for i, e := range envelope.Errors {
			msgs[i] = e.Message
		}
		return fmt.Errorf("GraphQL errors: %s", strings.Join(msgs, "; "))
	}
	if out != nil {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return fmt.Errorf("parsing GraphQL data: %w", err)
		}
	}
	return nil
}

const listItemsQuery = `
query($project: ID!, $cursor: String) {
  node(id: $project) {
    ... on ProjectV2 {
      items(first: 100, after: $cursor) {
        pageInfo { hasNextPage endCursor }
        nodes {
          id
          status: fieldValueByName(name: "Status") {
            ... on ProjectV2ItemFieldSingleSelectValue { name }
          }
          sprint: fieldValueByName(name: "Sprint") {
            ... on ProjectV2ItemFieldTextValue { text }
            ... on ProjectV2ItemFieldIterationValue { title }
          }
          content {
            ... on Issue { number title url }
          }
        }
      }
    }
  }
}`

// listItemsResponse mirrors the shape of listItemsQuery.
type listItemsResponse struct {
	Node struct {
		Items struct {
			PageInfo struct {
				HasNextPage bool   `json:"hasNextPage"`
				EndCursor   string `json:"endCursor"`
			} `json:"pageInfo"`
			Nodes []struct {
				ID     string `json:"id"`
				Status *struct {
					Name string `json:"name"`
				} `json:"status"`
				Sprint *struct {
					Text  string `json:"text"`
					Title string `json:"title"`
				} `json:"sprint"`
				Content *struct {
					Number int    `json:"number"`
					Title  string `json:"title"`
					URL    string `json:"url"`
				} `json:"content"`
			} `json:"nodes"`
		} `json:"items"`
	} `json:"node"`
}

// ListProjectItems returns all items in the configured project whose
// content is an issue. Draft items and linked PR items are skipped.
func (c *Client) ListProjectItems(ctx context.Context) ([]types.WorkItem, error) {
	var all []types.WorkItem
	var cursor *string

	for page := 1; ; page++ {
		variables := map[string]interface{}{"project": c.ProjectID}
		if cursor != nil {
			variables["cursor"] = *cursor
		}

		var resp listItemsResponse
		if err := c.doGraphQL(ctx, listItemsQuery, variables, &resp); err != nil {
			return nil, coorderr.Transport(err, "listing project items")
		}

		for _, n := range resp.Node.Items.Nodes {
			if n.Content == nil || n.Content.Number == 0 {
				continue
			}
			item := types.WorkItem{
				ProjectItemID: n.ID,
				IssueNumber:   n.Content.Number,
				Title:         n.Content.Title,
				URL:           n.Content.URL,
			}
			if n.Status != nil {
				if status, err := types.ParseStatus(n.Status.Name); err == nil {
					item.Status = status
				}
			}
			if n.Sprint != nil {
				if n.Sprint.Title != "" {
					item.Sprint = n.Sprint.Title
				} else {
					item.Sprint = n.Sprint.Text
				}
			}
			all = append(all, item)
		}

		if !resp.Node.Items.PageInfo.HasNextPage {
			break
		}
		end := resp.Node.Items.PageInfo.EndCursor
		cursor = &end

		if page >= MaxPages {
			return nil, coorderr.Transport(
				fmt.Errorf("stopped after %d pages", MaxPages), "project item pagination limit exceeded")
		}
	}

	return all, nil
}

const fieldValueQuery = `
query($item: ID!, $field: String!) {
  node(id: $item) {
    ... on ProjectV2Item {
      fieldValueByName(name: $field) {
        ... on ProjectV2ItemFieldSingleSelectValue { name }
        ... on ProjectV2ItemFieldTextValue { text }
      }
    }
  }
}`

// GetProjectItemFieldValue reads a single field value for an item.
// Returns the empty string when the field is unset.
func (c *Client) GetProjectItemFieldValue(ctx context.Context, itemID, field string) (string, error) {
	var resp struct {
		Node struct {
			FieldValueByName *struct {
				Name string `json:"name"`
				Text string `json:"text"`
			} `json:"fieldValueByName"`
		} `json:"node"`
	}
	err := c.doGraphQL(ctx, fieldValueQuery, map[string]interface{}{
		"item": itemID, "field": field,
	}, &resp)
	if err != nil {
		return "", coorderr.Transport(err, "reading field %q of item %s", field, itemID)
	}

	v := resp.Node.FieldValueByName
	if v == nil {
		return "", nil
	}
	if v.Name != "" {
		return v.Name, nil
	}
	return v.Text, nil
}

const fieldOptionsQuery = `
query($project: ID!, $field: String!) {
  node(id: $project) {
    ... on ProjectV2 {
      field(name: $field) {
        ... on ProjectV2SingleSelectField {
          id
          options { id name }
        }
      }
    }
  }
}`

const updateFieldMutation = `
mutation($project: ID!, $item: ID!, $field: ID!, $option: String!) {
  updateProjectV2ItemFieldValue(input: {
    projectId: $project
    itemId: $item
    fieldId: $field
    value: { singleSelectOptionId: $option }
  }) {
    projectV2Item { id }
  }
}`

// UpdateProjectItemField writes a single-select field value for an item.
// The option id is resolved by name on every call; field layouts change
// rarely and the extra read keeps this client stateless.
func (c *Client) UpdateProjectItemField(ctx context.Context, itemID, field, value string) error {
	var fieldResp struct {
		Node struct {
			Field *struct {
				ID      string `json:"id"`
				Options []struct {
					ID   string `json:"id"`
					Name string `json:"name"`
				} `json:"options"`
			} `json:"field"`
		} `json:"node"`
	}
	err := c.doGraphQL(ctx, fieldOptionsQuery, map[string]interface{}{
		"project": c.ProjectID, "field": field,
	}, &fieldResp)
	if err != nil {
		return coorderr.Transport(err, "resolving field %q", field)
	}
	if fieldResp.Node.Field == nil {
		return coorderr.Transport(
			fmt.Errorf("field %q not found in project", field), "resolving field %q", field)
	}

	optionID := ""
	for _, opt := range fieldResp.Node.Field.Options {
		if strings.EqualFold(opt.Name, value) {
			optionID = opt.ID
			break
		}
	}
	if optionID == "" {
		return coorderr.Transport(
			fmt.Errorf("field %q has no option %q", field, value), "resolving field option")
	}

	err = c.doGraphQL(ctx, updateFieldMutation, map[string]interface{}{
		"project": c.ProjectID,
		"item":    itemID,
		"field":   fieldResp.Node.Field.ID,
		"option":  optionID,
	}, nil)
	if err != nil {
		return coorderr.Transport(err, "updating field %q of item %s", field, itemID)
	}
	return nil
}
