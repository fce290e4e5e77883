package store

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KennethLeeJE8/datadam-mcp-sub001/internal/embeddings"
)

func newTestStore(t *testing.T, embed embeddings.Provider) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"), embed, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateAndGetRecord(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()

	rec, err := s.CreateRecord(ctx, NewRecord{
		Category: "contacts",
		Title:    "Ada Lovelace",
		Content:  map[string]any{"email": "ada@example.com"},
		Tags:     []string{"friend"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, ClassificationPersonal, rec.Classification)
	assert.False(t, rec.CreatedAt.IsZero())

	got, err := s.GetRecord(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, "Ada Lovelace", got.Title)
	assert.Equal(t, "ada@example.com", got.Content["email"])
	assert.Equal(t, []string{"friend"}, got.Tags)
}

func TestCreateRecordValidation(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()

	_, err := s.CreateRecord(ctx, NewRecord{Title: "no category"})
	assert.Error(t, err)

	_, err = s.CreateRecord(ctx, NewRecord{Category: "contacts"})
	assert.Error(t, err)

	_, err = s.CreateRecord(ctx, NewRecord{Category: "contacts", Title: "x", Classification: "top-secret"})
	assert.Error(t, err)
}

func TestGetRecordNotFound(t *testing.T) {
	s := newTestStore(t, nil)
	_, err := s.GetRecord(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateRecord(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()

	rec, err := s.CreateRecord(ctx, NewRecord{Category: "contacts", Title: "Ada", Content: map[string]any{"email": "old@example.com"}})
	require.NoError(t, err)

	newTitle := "Ada Lovelace"
	classification := ClassificationSensitive
	updated, err := s.UpdateRecord(ctx, rec.ID, RecordUpdate{
		Title:          &newTitle,
		Content:        map[string]any{"email": "new@example.com"},
		Classification: &classification,
	})
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", updated.Title)
	assert.Equal(t, "new@example.com", updated.Content["email"])
	assert.Equal(t, ClassificationSensitive, updated.Classification)
	assert.True(t, updated.UpdatedAt.After(rec.CreatedAt) || updated.UpdatedAt.Equal(rec.CreatedAt))

	got, err := s.GetRecord(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", got.Title)

	t.Run("partial update leaves other fields", func(t *testing.T) {
		tags := []string{"mathematician"}
		got, err := s.UpdateRecord(ctx, rec.ID, RecordUpdate{Tags: tags})
		require.NoError(t, err)
		assert.Equal(t, "Ada Lovelace", got.Title)
		assert.Equal(t, tags, got.Tags)
	})

	t.Run("unknown id", func(t *testing.T) {
		_, err := s.UpdateRecord(ctx, "nope", RecordUpdate{Title: &newTitle})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("invalid classification", func(t *testing.T) {
		bad := "nope"
		_, err := s.UpdateRecord(ctx, rec.ID, RecordUpdate{Classification: &bad})
		assert.Error(t, err)
	})
}

func TestDeleteRecords(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()

	a, err := s.CreateRecord(ctx, NewRecord{Category: "c", Title: "a", Content: map[string]any{}})
	require.NoError(t, err)
	b, err := s.CreateRecord(ctx, NewRecord{Category: "c", Title: "b", Content: map[string]any{}})
	require.NoError(t, err)

	t.Run("soft delete hides the record", func(t *testing.T) {
		n, err := s.DeleteRecords(ctx, []string{a.ID}, false)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		_, err = s.GetRecord(ctx, a.ID)
		assert.ErrorIs(t, err, ErrNotFound)

		// Already soft-deleted; a second soft delete affects nothing.
		n, err = s.DeleteRecords(ctx, []string{a.ID}, false)
		require.NoError(t, err)
		assert.Equal(t, 0, n)
	})

	t.Run("hard delete removes the row", func(t *testing.T) {
		n, err := s.DeleteRecords(ctx, []string{b.ID, "unknown"}, true)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("empty id list", func(t *testing.T) {
		n, err := s.DeleteRecords(ctx, nil, false)
		require.NoError(t, err)
		assert.Equal(t, 0, n)
	})
}

func TestExtractRecords(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()

	for _, r := range []NewRecord{
		{Category: "contacts", Title: "Ada", Content: map[string]any{"city": "London"}},
		{Category: "contacts", Title: "Grace", Content: map[string]any{"city": "New York"}},
		{Category: "documents", Title: "Passport", Content: map[string]any{"city": "London"}},
	} {
		_, err := s.CreateRecord(ctx, r)
		require.NoError(t, err)
	}

	t.Run("by category", func(t *testing.T) {
		out, err := s.ExtractRecords(ctx, []string{"contacts"}, nil, 0, 0)
		require.NoError(t, err)
		assert.Len(t, out, 2)
	})

	t.Run("multiple categories", func(t *testing.T) {
		out, err := s.ExtractRecords(ctx, []string{"contacts", "documents"}, nil, 0, 0)
		require.NoError(t, err)
		assert.Len(t, out, 3)
	})

	t.Run("content filter", func(t *testing.T) {
		out, err := s.ExtractRecords(ctx, []string{"contacts"}, map[string]string{"city": "London"}, 0, 0)
		require.NoError(t, err)
		require.Len(t, out, 1)
		assert.Equal(t, "Ada", out[0].Title)
	})

	t.Run("paging", func(t *testing.T) {
		page1, err := s.ExtractRecords(ctx, []string{"contacts"}, nil, 1, 0)
		require.NoError(t, err)
		page2, err := s.ExtractRecords(ctx, []string{"contacts"}, nil, 1, 1)
		require.NoError(t, err)
		require.Len(t, page1, 1)
		require.Len(t, page2, 1)
		assert.NotEqual(t, page1[0].ID, page2[0].ID)
	})

	t.Run("soft-deleted records excluded", func(t *testing.T) {
		out, err := s.ExtractRecords(ctx, []string{"documents"}, nil, 0, 0)
		require.NoError(t, err)
		require.Len(t, out, 1)
		_, err = s.DeleteRecords(ctx, []string{out[0].ID}, false)
		require.NoError(t, err)
		out, err = s.ExtractRecords(ctx, []string{"documents"}, nil, 0, 0)
		require.NoError(t, err)
		assert.Empty(t, out)
	})
}

func TestKeywordSearch(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()

	_, err := s.CreateRecord(ctx, NewRecord{Category: "notes", Title: "Grocery list", Content: map[string]any{"body": "milk and eggs"}})
	require.NoError(t, err)
	_, err = s.CreateRecord(ctx, NewRecord{Category: "notes", Title: "Travel plans", Content: map[string]any{"body": "flight to Lisbon"}, Tags: []string{"vacation"}})
	require.NoError(t, err)

	t.Run("title match outranks content match", func(t *testing.T) {
		out, err := s.SearchRecords(ctx, "grocery", nil, 10)
		require.NoError(t, err)
		require.Len(t, out, 1)
		assert.Equal(t, "Grocery list", out[0].Title)
		assert.Equal(t, 1.0, out[0].Score)
	})

	t.Run("content match", func(t *testing.T) {
		out, err := s.SearchRecords(ctx, "lisbon", nil, 10)
		require.NoError(t, err)
		require.Len(t, out, 1)
		assert.Equal(t, "Travel plans", out[0].Title)
	})

	t.Run("tag match", func(t *testing.T) {
		out, err := s.SearchRecords(ctx, "vacation", nil, 10)
		require.NoError(t, err)
		require.Len(t, out, 1)
	})

	t.Run("category restriction", func(t *testing.T) {
		out, err := s.SearchRecords(ctx, "grocery", []string{"documents"}, 10)
		require.NoError(t, err)
		assert.Empty(t, out)
	})

	t.Run("no match", func(t *testing.T) {
		out, err := s.SearchRecords(ctx, "zzzzz", nil, 10)
		require.NoError(t, err)
		assert.Empty(t, out)
	})
}

// stubEmbedder maps known words to fixed orthogonal-ish vectors so ranking is
// deterministic.
type stubEmbedder struct{ vectors map[string][]float32 }

func (e *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	for word, vec := range e.vectors {
		if strings.Contains(strings.ToLower(text), word) {
			return vec, nil
		}
	}
	return []float32{0, 0, 1}, nil
}

func TestVectorSearchRanking(t *testing.T) {
	embed := &stubEmbedder{vectors: map[string][]float32{
		"banana": {1, 0, 0},
		"fruit":  {0.9, 0.1, 0},
		"car":    {0, 1, 0},
	}}
	s := newTestStore(t, embed)
	ctx := context.Background()

	_, err := s.CreateRecord(ctx, NewRecord{Category: "notes", Title: "banana bread recipe", Content: map[string]any{}})
	require.NoError(t, err)
	_, err = s.CreateRecord(ctx, NewRecord{Category: "notes", Title: "car maintenance log", Content: map[string]any{}})
	require.NoError(t, err)

	out, err := s.SearchRecords(ctx, "fruit", nil, 10)
	require.NoError(t, err)
	require.NotEmpty(t, out)
	assert.Equal(t, "banana bread recipe", out[0].Title)
	assert.Greater(t, out[0].Score, 0.8)
	if len(out) > 1 {
		assert.Greater(t, out[0].Score, out[1].Score)
	}
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, cosineSimilarity([]float32{1, 0}, []float32{1, 0}), 1e-9)
	assert.InDelta(t, 0.0, cosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.Equal(t, 0.0, cosineSimilarity([]float32{1, 0}, []float32{1, 0, 0}))
	assert.Equal(t, 0.0, cosineSimilarity(nil, nil))
	assert.Equal(t, 0.0, cosineSimilarity([]float32{0, 0}, []float32{1, 0}))
}

func TestVectorEncoding(t *testing.T) {
	in := []float32{1.5, -2.25, 0}
	out := decodeVector(encodeVector(in))
	assert.Equal(t, in, out)

	assert.Nil(t, encodeVector(nil))
	assert.Nil(t, decodeVector(nil))
	assert.Nil(t, decodeVector([]byte{1, 2, 3}))
}

func TestListCategories(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := s.CreateRecord(ctx, NewRecord{Category: "contacts", Title: "x", Content: map[string]any{}})
		require.NoError(t, err)
	}
	_, err := s.CreateRecord(ctx, NewRecord{Category: "documents", Title: "y", Content: map[string]any{}})
	require.NoError(t, err)

	cats, err := s.ListCategories(ctx)
	require.NoError(t, err)
	require.Len(t, cats, 2)
	assert.Equal(t, Category{Name: "contacts", RecordCount: 3}, cats[0])
	assert.Equal(t, Category{Name: "documents", RecordCount: 1}, cats[1])
}

func TestFieldDefinitions(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()

	require.NoError(t, s.AddFieldDefinition(ctx, FieldDefinition{
		FieldName:       "email",
		DataType:        "string",
		ValidationRules: map[string]any{"format": "email"},
	}))

	defs, err := s.ListFieldDefinitions(ctx)
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, "email", defs[0].FieldName)
	assert.Equal(t, "string", defs[0].DataType)
	assert.Equal(t, "email", defs[0].ValidationRules["format"])

	t.Run("re-registration replaces", func(t *testing.T) {
		require.NoError(t, s.AddFieldDefinition(ctx, FieldDefinition{FieldName: "email", DataType: "text"}))
		defs, err := s.ListFieldDefinitions(ctx)
		require.NoError(t, err)
		require.Len(t, defs, 1)
		assert.Equal(t, "text", defs[0].DataType)
	})

	t.Run("validation", func(t *testing.T) {
		assert.Error(t, s.AddFieldDefinition(ctx, FieldDefinition{DataType: "string"}))
		assert.Error(t, s.AddFieldDefinition(ctx, FieldDefinition{FieldName: "x"}))
	})
}
