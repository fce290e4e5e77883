package webdocs

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/KennethLeeJE8/datadam-mcp-sub001/internal/toolset"
	"github.com/KennethLeeJE8/datadam-mcp-sub001/mcp"
)

func TestDocsPage(t *testing.T) {
	tools := toolset.NewSet(
		toolset.New("search", func(ctx context.Context, args struct{}) (*mcp.CallToolResult, error) {
			return toolset.TextResult("ok"), nil
		}, toolset.WithDescription("Searches records. Supports **markdown** in descriptions.")),
	)

	h := New(
		mcp.ImplementationInfo{Name: "datadam", Version: "0.3.0"},
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		Group{
			Name:      "primary",
			Path:      "/mcp",
			Tools:     tools,
			Resources: []mcp.Resource{{URI: "datadam://categories", Name: "available-categories", Description: "Category list."}},
		},
	)

	req := httptest.NewRequest("GET", "/", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("want 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("want HTML content type, got %q", ct)
	}
	body := rec.Body.String()
	for _, want := range []string{"datadam", "/mcp", "search", "<strong>markdown</strong>", "datadam://categories"} {
		if !strings.Contains(body, want) {
			t.Errorf("page missing %q", want)
		}
	}
}

func TestDocsUnknownPath(t *testing.T) {
	h := New(mcp.ImplementationInfo{Name: "datadam", Version: "0.3.0"}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/nope", nil))
	if rec.Code != 404 {
		t.Fatalf("want 404, got %d", rec.Code)
	}
}
