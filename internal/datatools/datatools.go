// Package datatools defines the tool and resource surfaces bound to the two
// endpoint groups: the full personal-data surface served on /mcp, and the
// reduced citation surface served on /chatgpt_mcp. Both are thin adapters
// over store.Store; all persistence rules live in the store.
package datatools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"

	"github.com/KennethLeeJE8/datadam-mcp-sub001/internal/engine"
	"github.com/KennethLeeJE8/datadam-mcp-sub001/internal/store"
	"github.com/KennethLeeJE8/datadam-mcp-sub001/internal/toolset"
	"github.com/KennethLeeJE8/datadam-mcp-sub001/mcp"
)

// CategoriesResourceURI addresses the category catalog resource.
const CategoriesResourceURI = "datadam://categories"

type extractArgs struct {
	Categories []string          `json:"categories" jsonschema:"required" jsonschema_description:"Categories to extract records from."`
	Filters    map[string]string `json:"filters,omitempty" jsonschema_description:"Equality filters over top-level content fields."`
	Limit      int               `json:"limit,omitempty" jsonschema_description:"Maximum records to return (default 50, max 100)."`
	Offset     int               `json:"offset,omitempty" jsonschema_description:"Number of records to skip for paging."`
}

type createArgs struct {
	Category       string         `json:"category" jsonschema:"required" jsonschema_description:"Category to file the record under."`
	Title          string         `json:"title" jsonschema:"required" jsonschema_description:"Human-readable record title."`
	Content        map[string]any `json:"content" jsonschema:"required" jsonschema_description:"Record fields as a JSON object."`
	Tags           []string       `json:"tags,omitempty" jsonschema_description:"Free-form tags for search."`
	Classification string         `json:"classification,omitempty" jsonschema:"enum=public,enum=personal,enum=sensitive,enum=confidential" jsonschema_description:"Sensitivity level (default personal)."`
}

type updateArgs struct {
	ID             string         `json:"id" jsonschema:"required" jsonschema_description:"Record id to update."`
	Title          *string        `json:"title,omitempty" jsonschema_description:"New title."`
	Content        map[string]any `json:"content,omitempty" jsonschema_description:"Replacement content object."`
	Tags           []string       `json:"tags,omitempty" jsonschema_description:"Replacement tag list."`
	Classification *string        `json:"classification,omitempty" jsonschema:"enum=public,enum=personal,enum=sensitive,enum=confidential" jsonschema_description:"New sensitivity level."`
}

type deleteArgs struct {
	IDs        []string `json:"ids" jsonschema:"required" jsonschema_description:"Record ids to delete."`
	HardDelete bool     `json:"hard_delete,omitempty" jsonschema_description:"Permanently remove instead of soft-deleting."`
}

type searchArgs struct {
	Query      string   `json:"query" jsonschema:"required" jsonschema_description:"Free-text search query."`
	Categories []string `json:"categories,omitempty" jsonschema_description:"Restrict search to these categories."`
	Limit      int      `json:"limit,omitempty" jsonschema_description:"Maximum results (default 10, max 100)."`
}

type addFieldArgs struct {
	FieldName       string         `json:"field_name" jsonschema:"required" jsonschema_description:"Content field name to register."`
	DataType        string         `json:"data_type" jsonschema:"required" jsonschema_description:"Expected type, e.g. string, number, date."`
	ValidationRules map[string]any `json:"validation_rules,omitempty" jsonschema_description:"Optional validation constraints."`
}

// PrimaryTools builds the full personal-data tool set served on the primary
// endpoint group.
func PrimaryTools(st store.Store) *toolset.Set {
	return toolset.NewSet(
		toolset.New("extract_personal_data", func(ctx context.Context, args extractArgs) (*mcp.CallToolResult, error) {
			if len(args.Categories) == 0 {
				return toolset.Errorf("categories is required"), nil
			}
			records, err := st.ExtractRecords(ctx, args.Categories, args.Filters, args.Limit, args.Offset)
			if err != nil {
				return nil, fmt.Errorf("extracting records: %w", err)
			}
			if records == nil {
				records = []store.Record{}
			}
			return toolset.JSONResult(map[string]any{
				"records": records,
				"count":   len(records),
			}), nil
		}, toolset.WithDescription("Extract personal data records by category, with optional field filters and paging.")),

		toolset.New("create_personal_data", func(ctx context.Context, args createArgs) (*mcp.CallToolResult, error) {
			rec, err := st.CreateRecord(ctx, store.NewRecord{
				Category:       args.Category,
				Title:          args.Title,
				Content:        args.Content,
				Tags:           args.Tags,
				Classification: args.Classification,
			})
			if err != nil {
				return toolset.Errorf("create failed: %v", err), nil
			}
			return toolset.JSONResult(rec), nil
		}, toolset.WithDescription("Create a new personal data record in the given category.")),

		toolset.New("update_personal_data", func(ctx context.Context, args updateArgs) (*mcp.CallToolResult, error) {
			rec, err := st.UpdateRecord(ctx, args.ID, store.RecordUpdate{
				Title:          args.Title,
				Content:        args.Content,
				Tags:           args.Tags,
				Classification: args.Classification,
			})
			if err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return toolset.Errorf("record not found: %s", args.ID), nil
				}
				return toolset.Errorf("update failed: %v", err), nil
			}
			return toolset.JSONResult(rec), nil
		}, toolset.WithDescription("Update an existing personal data record. Omitted fields are left unchanged.")),

		toolset.New("delete_personal_data", func(ctx context.Context, args deleteArgs) (*mcp.CallToolResult, error) {
			if len(args.IDs) == 0 {
				return toolset.Errorf("ids is required"), nil
			}
			n, err := st.DeleteRecords(ctx, args.IDs, args.HardDelete)
			if err != nil {
				return nil, fmt.Errorf("deleting records: %w", err)
			}
			return toolset.JSONResult(map[string]any{
				"deleted":     n,
				"hard_delete": args.HardDelete,
			}), nil
		}, toolset.WithDescription("Delete personal data records by id. Soft-deletes unless hard_delete is set.")),

		toolset.New("search_personal_data", func(ctx context.Context, args searchArgs) (*mcp.CallToolResult, error) {
			if args.Query == "" {
				return toolset.Errorf("query is required"), nil
			}
			results, err := st.SearchRecords(ctx, args.Query, args.Categories, args.Limit)
			if err != nil {
				return nil, fmt.Errorf("searching records: %w", err)
			}
			if results == nil {
				results = []store.SearchResult{}
			}
			return toolset.JSONResult(map[string]any{
				"results": results,
				"count":   len(results),
			}), nil
		}, toolset.WithDescription("Search personal data records by free text. Uses semantic similarity when embeddings are configured, keyword matching otherwise.")),

		toolset.New("add_personal_data_field", func(ctx context.Context, args addFieldArgs) (*mcp.CallToolResult, error) {
			err := st.AddFieldDefinition(ctx, store.FieldDefinition{
				FieldName:       args.FieldName,
				DataType:        args.DataType,
				ValidationRules: args.ValidationRules,
			})
			if err != nil {
				return toolset.Errorf("registering field failed: %v", err), nil
			}
			return toolset.TextResult(fmt.Sprintf("registered field %q (%s)", args.FieldName, args.DataType)), nil
		}, toolset.WithDescription("Register a content field definition used to document and validate record content.")),
	)
}

// CategoriesResource exposes the category catalog as a readable resource on
// the primary group.
func CategoriesResource(st store.Store) engine.StaticResource {
	return engine.StaticResource{
		Descriptor: mcp.Resource{
			URI:         CategoriesResourceURI,
			Name:        "available-categories",
			Description: "Data categories currently present in the store, with record counts.",
			MimeType:    "application/json",
		},
		Read: func(ctx context.Context) (mcp.ResourceContents, error) {
			cats, err := st.ListCategories(ctx)
			if err != nil {
				return mcp.ResourceContents{}, fmt.Errorf("listing categories: %w", err)
			}
			if cats == nil {
				cats = []store.Category{}
			}
			b, err := json.MarshalIndent(map[string]any{"categories": cats}, "", "  ")
			if err != nil {
				return mcp.ResourceContents{}, err
			}
			return mcp.ResourceContents{
				URI:      CategoriesResourceURI,
				MimeType: "application/json",
				Text:     string(b),
			}, nil
		},
	}
}

type citationSearchArgs struct {
	Query string `json:"query" jsonschema:"required" jsonschema_description:"Free-text search query."`
}

type citationFetchArgs struct {
	ID string `json:"id" jsonschema:"required" jsonschema_description:"Record id returned by search."`
}

// citationResult is one entry of the citation search result list.
type citationResult struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	URL   string `json:"url"`
}

// citationDocument is the fetch result shape expected by connector clients.
type citationDocument struct {
	ID       string         `json:"id"`
	Title    string         `json:"title"`
	Text     string         `json:"text"`
	URL      string         `json:"url"`
	Metadata map[string]any `json:"metadata"`
}

// CitationTools builds the reduced search/fetch surface served on the
// restricted endpoint group. Results carry synthetic record URLs so clients
// can render citations.
func CitationTools(st store.Store, baseURL string) *toolset.Set {
	recordURL := func(id string) string {
		return baseURL + "/records/" + url.PathEscape(id)
	}

	return toolset.NewSet(
		toolset.New("search", func(ctx context.Context, args citationSearchArgs) (*mcp.CallToolResult, error) {
			if args.Query == "" {
				return toolset.Errorf("query is required"), nil
			}
			found, err := st.SearchRecords(ctx, args.Query, nil, 10)
			if err != nil {
				return nil, fmt.Errorf("searching records: %w", err)
			}
			results := make([]citationResult, 0, len(found))
			for _, r := range found {
				results = append(results, citationResult{
					ID:    r.ID,
					Title: r.Title,
					URL:   recordURL(r.ID),
				})
			}
			return toolset.JSONResult(map[string]any{"results": results}), nil
		}, toolset.WithDescription("Search stored records and return citation stubs (id, title, url).")),

		toolset.New("fetch", func(ctx context.Context, args citationFetchArgs) (*mcp.CallToolResult, error) {
			rec, err := st.GetRecord(ctx, args.ID)
			if err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return toolset.Errorf("record not found: %s", args.ID), nil
				}
				return nil, fmt.Errorf("fetching record: %w", err)
			}
			text, err := json.MarshalIndent(rec.Content, "", "  ")
			if err != nil {
				return nil, err
			}
			return toolset.JSONResult(citationDocument{
				ID:    rec.ID,
				Title: rec.Title,
				Text:  string(text),
				URL:   recordURL(rec.ID),
				Metadata: map[string]any{
					"category":       rec.Category,
					"tags":           rec.Tags,
					"classification": rec.Classification,
					"updated_at":     rec.UpdatedAt,
				},
			}), nil
		}, toolset.WithDescription("Fetch the full text of a record previously returned by search.")),
	)
}
