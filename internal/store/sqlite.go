package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/KennethLeeJE8/datadam-mcp-sub001/internal/embeddings"
)

const (
	defaultPageSize = 50
	maxPageSize     = 100

	// minSearchScore filters out near-orthogonal vector matches.
	minSearchScore = 0.1
)

// SQLiteStore implements Store on a local SQLite database. Embeddings are
// computed best-effort at write time when a provider is configured; a
// provider failure degrades the record to keyword-only search instead of
// failing the write.
type SQLiteStore struct {
	db    *sql.DB
	embed embeddings.Provider
	log   *slog.Logger
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLite opens (or creates) the database at path and ensures the schema
// exists. Pass ":memory:" for an ephemeral store. embed may be nil.
func NewSQLite(path string, embed embeddings.Provider, log *slog.Logger) (*SQLiteStore, error) {
	if log == nil {
		log = slog.Default()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if path == ":memory:" {
		// Each pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}
	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA foreign_keys=ON", "PRAGMA busy_timeout=5000"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying %s: %w", pragma, err)
		}
	}

	s := &SQLiteStore{db: db, embed: embed, log: log.With("component", "store")}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	s.log.Info("sqlite store initialized", "path", path)
	return s, nil
}

func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS personal_data (
			id TEXT PRIMARY KEY,
			category TEXT NOT NULL,
			title TEXT NOT NULL,
			content TEXT NOT NULL,
			tags TEXT NOT NULL DEFAULT '[]',
			classification TEXT NOT NULL DEFAULT 'personal',
			embedding BLOB,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			deleted_at TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_personal_data_category ON personal_data(category) WHERE deleted_at IS NULL;

		CREATE TABLE IF NOT EXISTS data_field_definitions (
			field_name TEXT PRIMARY KEY,
			data_type TEXT NOT NULL,
			validation_rules TEXT NOT NULL DEFAULT '{}',
			created_at TEXT NOT NULL
		);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateRecord implements Store.
func (s *SQLiteStore) CreateRecord(ctx context.Context, rec NewRecord) (*Record, error) {
	if rec.Category == "" {
		return nil, fmt.Errorf("category is required")
	}
	if rec.Title == "" {
		return nil, fmt.Errorf("title is required")
	}
	if rec.Classification == "" {
		rec.Classification = ClassificationPersonal
	}
	if !ValidClassification(rec.Classification) {
		return nil, fmt.Errorf("invalid classification: %s", rec.Classification)
	}
	if rec.Content == nil {
		rec.Content = map[string]any{}
	}
	if rec.Tags == nil {
		rec.Tags = []string{}
	}

	contentJSON, err := json.Marshal(rec.Content)
	if err != nil {
		return nil, fmt.Errorf("encoding content: %w", err)
	}
	tagsJSON, err := json.Marshal(rec.Tags)
	if err != nil {
		return nil, fmt.Errorf("encoding tags: %w", err)
	}

	now := time.Now().UTC()
	out := &Record{
		ID:             uuid.NewString(),
		Category:       rec.Category,
		Title:          rec.Title,
		Content:        rec.Content,
		Tags:           rec.Tags,
		Classification: rec.Classification,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	vec := s.embedRecord(ctx, out)

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO personal_data (id, category, title, content, tags, classification, embedding, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		out.ID, out.Category, out.Title, string(contentJSON), string(tagsJSON), out.Classification,
		encodeVector(vec), now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("inserting record: %w", err)
	}
	return out, nil
}

// GetRecord implements Store. Soft-deleted records do not resolve.
func (s *SQLiteStore) GetRecord(ctx context.Context, id string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, category, title, content, tags, classification, created_at, updated_at
		FROM personal_data WHERE id = ? AND deleted_at IS NULL`, id)
	return scanRecord(row)
}

// ExtractRecords implements Store.
func (s *SQLiteStore) ExtractRecords(ctx context.Context, categories []string, filters map[string]string, limit, offset int) ([]Record, error) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}

	var (
		where = []string{"deleted_at IS NULL"}
		args  []any
	)
	if len(categories) > 0 {
		where = append(where, "category IN ("+placeholders(len(categories))+")")
		for _, c := range categories {
			args = append(args, c)
		}
	}
	for key, val := range filters {
		// Equality match against a top-level content field.
		where = append(where, "json_extract(content, '$.'||?) = ?")
		args = append(args, key, val)
	}
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, category, title, content, tags, classification, created_at, updated_at
		FROM personal_data WHERE `+strings.Join(where, " AND ")+`
		ORDER BY updated_at DESC LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("querying records: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// UpdateRecord implements Store.
func (s *SQLiteStore) UpdateRecord(ctx context.Context, id string, upd RecordUpdate) (*Record, error) {
	rec, err := s.GetRecord(ctx, id)
	if err != nil {
		return nil, err
	}

	if upd.Title != nil {
		if *upd.Title == "" {
			return nil, fmt.Errorf("title cannot be empty")
		}
		rec.Title = *upd.Title
	}
	if upd.Content != nil {
		rec.Content = upd.Content
	}
	if upd.Tags != nil {
		rec.Tags = upd.Tags
	}
	if upd.Classification != nil {
		if !ValidClassification(*upd.Classification) {
			return nil, fmt.Errorf("invalid classification: %s", *upd.Classification)
		}
		rec.Classification = *upd.Classification
	}
	rec.UpdatedAt = time.Now().UTC()

	contentJSON, err := json.Marshal(rec.Content)
	if err != nil {
		return nil, fmt.Errorf("encoding content: %w", err)
	}
	tagsJSON, err := json.Marshal(rec.Tags)
	if err != nil {
		return nil, fmt.Errorf("encoding tags: %w", err)
	}
	vec := s.embedRecord(ctx, rec)

	res, err := s.db.ExecContext(ctx, `
		UPDATE personal_data
		SET title = ?, content = ?, tags = ?, classification = ?, embedding = ?, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL`,
		rec.Title, string(contentJSON), string(tagsJSON), rec.Classification,
		encodeVector(vec), rec.UpdatedAt.Format(time.RFC3339Nano), id,
	)
	if err != nil {
		return nil, fmt.Errorf("updating record: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	return rec, nil
}

// DeleteRecords implements Store.
func (s *SQLiteStore) DeleteRecords(ctx context.Context, ids []string, hard bool) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	args := make([]any, 0, len(ids)+1)
	var query string
	if hard {
		query = "DELETE FROM personal_data WHERE id IN (" + placeholders(len(ids)) + ")"
	} else {
		query = "UPDATE personal_data SET deleted_at = ? WHERE deleted_at IS NULL AND id IN (" + placeholders(len(ids)) + ")"
		args = append(args, time.Now().UTC().Format(time.RFC3339Nano))
	}
	for _, id := range ids {
		args = append(args, id)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("deleting records: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// SearchRecords implements Store. With an embedding provider the query is
// ranked by cosine similarity against stored vectors; records without a
// vector (or when no provider is configured) fall back to keyword scoring.
func (s *SQLiteStore) SearchRecords(ctx context.Context, query string, categories []string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 10
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	var queryVec []float32
	if s.embed != nil {
		vec, err := s.embed.Embed(ctx, query)
		if err != nil {
			s.log.WarnContext(ctx, "query embedding failed, falling back to keyword search", "err", err)
		} else {
			queryVec = vec
		}
	}

	var (
		where = []string{"deleted_at IS NULL"}
		args  []any
	)
	if len(categories) > 0 {
		where = append(where, "category IN ("+placeholders(len(categories))+")")
		for _, c := range categories {
			args = append(args, c)
		}
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, category, title, content, tags, classification, created_at, updated_at, embedding
		FROM personal_data WHERE `+strings.Join(where, " AND "), args...)
	if err != nil {
		return nil, fmt.Errorf("querying records: %w", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var (
			rec                             Record
			contentJSON, tagsJSON, cAt, uAt string
			blob                            []byte
		)
		if err := rows.Scan(&rec.ID, &rec.Category, &rec.Title, &contentJSON, &tagsJSON, &rec.Classification, &cAt, &uAt, &blob); err != nil {
			return nil, fmt.Errorf("scanning record: %w", err)
		}
		if err := finishRecord(&rec, contentJSON, tagsJSON, cAt, uAt); err != nil {
			return nil, err
		}

		var score float64
		if vec := decodeVector(blob); queryVec != nil && vec != nil {
			score = cosineSimilarity(queryVec, vec)
		} else {
			score = keywordScore(query, &rec)
		}
		if score >= minSearchScore {
			results = append(results, SearchResult{Record: rec, Score: score})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// ListCategories implements Store.
func (s *SQLiteStore) ListCategories(ctx context.Context) ([]Category, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT category, COUNT(*) FROM personal_data
		WHERE deleted_at IS NULL GROUP BY category ORDER BY category`)
	if err != nil {
		return nil, fmt.Errorf("querying categories: %w", err)
	}
	defer rows.Close()

	var out []Category
	for rows.Next() {
		var c Category
		if err := rows.Scan(&c.Name, &c.RecordCount); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// AddFieldDefinition implements Store. Re-registering a field name replaces
// its definition.
func (s *SQLiteStore) AddFieldDefinition(ctx context.Context, def FieldDefinition) error {
	if def.FieldName == "" {
		return fmt.Errorf("field_name is required")
	}
	if def.DataType == "" {
		return fmt.Errorf("data_type is required")
	}
	rules := def.ValidationRules
	if rules == nil {
		rules = map[string]any{}
	}
	rulesJSON, err := json.Marshal(rules)
	if err != nil {
		return fmt.Errorf("encoding validation rules: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO data_field_definitions (field_name, data_type, validation_rules, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(field_name) DO UPDATE SET data_type = excluded.data_type, validation_rules = excluded.validation_rules`,
		def.FieldName, def.DataType, string(rulesJSON), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting field definition: %w", err)
	}
	return nil
}

// ListFieldDefinitions implements Store.
func (s *SQLiteStore) ListFieldDefinitions(ctx context.Context) ([]FieldDefinition, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT field_name, data_type, validation_rules, created_at
		FROM data_field_definitions ORDER BY field_name`)
	if err != nil {
		return nil, fmt.Errorf("querying field definitions: %w", err)
	}
	defer rows.Close()

	var out []FieldDefinition
	for rows.Next() {
		var (
			def        FieldDefinition
			rulesJSON  string
			createdRaw string
		)
		if err := rows.Scan(&def.FieldName, &def.DataType, &rulesJSON, &createdRaw); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(rulesJSON), &def.ValidationRules); err != nil {
			return nil, fmt.Errorf("decoding validation rules: %w", err)
		}
		def.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdRaw)
		out = append(out, def)
	}
	return out, rows.Err()
}

// embedRecord computes the record's embedding, returning nil when no
// provider is configured or the provider fails.
func (s *SQLiteStore) embedRecord(ctx context.Context, rec *Record) []float32 {
	if s.embed == nil {
		return nil
	}
	vec, err := s.embed.Embed(ctx, embeddingText(rec))
	if err != nil {
		s.log.WarnContext(ctx, "record embedding failed", "id", rec.ID, "err", err)
		return nil
	}
	return vec
}

// embeddingText flattens the searchable parts of a record into one string.
func embeddingText(rec *Record) string {
	var b strings.Builder
	b.WriteString(rec.Title)
	for _, v := range rec.Content {
		if s, ok := v.(string); ok {
			b.WriteString("\n")
			b.WriteString(s)
		}
	}
	for _, t := range rec.Tags {
		b.WriteString("\n")
		b.WriteString(t)
	}
	return b.String()
}

// keywordScore is the degraded ranking used without vectors: title matches
// outrank content and tag matches.
func keywordScore(query string, rec *Record) float64 {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return 0
	}
	if strings.Contains(strings.ToLower(rec.Title), q) {
		return 1.0
	}
	for _, t := range rec.Tags {
		if strings.Contains(strings.ToLower(t), q) {
			return 0.75
		}
	}
	for _, v := range rec.Content {
		if s, ok := v.(string); ok && strings.Contains(strings.ToLower(s), q) {
			return 0.5
		}
	}
	return 0
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var (
		rec                             Record
		contentJSON, tagsJSON, cAt, uAt string
	)
	err := row.Scan(&rec.ID, &rec.Category, &rec.Title, &contentJSON, &tagsJSON, &rec.Classification, &cAt, &uAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning record: %w", err)
	}
	if err := finishRecord(&rec, contentJSON, tagsJSON, cAt, uAt); err != nil {
		return nil, err
	}
	return &rec, nil
}

func finishRecord(rec *Record, contentJSON, tagsJSON, cAt, uAt string) error {
	if err := json.Unmarshal([]byte(contentJSON), &rec.Content); err != nil {
		return fmt.Errorf("decoding content for %s: %w", rec.ID, err)
	}
	if err := json.Unmarshal([]byte(tagsJSON), &rec.Tags); err != nil {
		return fmt.Errorf("decoding tags for %s: %w", rec.ID, err)
	}
	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, cAt)
	rec.UpdatedAt, _ = time.Parse(time.RFC3339Nano, uAt)
	return nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
