package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"

	"transcript-rag/internal/config"
	"transcript-rag/internal/models"
)

// advisoryLockID serializes concurrent EnsureIndex callers across process
// instances; pg_advisory_xact_lock releases it with the transaction.
const advisoryLockID = 0x7261675f69647831

type chunkRow struct {
	bun.BaseModel `bun:"table:transcript_chunks,alias:c"`

	ID         int64             `bun:"id,pk,autoincrement"`
	DocumentID string            `bun:"document_id,notnull"`
	Ordinal    int               `bun:"ordinal,notnull"`
	ChunkText  string            `bun:"chunk_text,notnull"`
	Metadata   map[string]string `bun:"metadata,type:jsonb"`
	// Embedding travels as the pgvector text literal "[x,y,...]"; postgres
	// coerces it through the vector input function on write.
	Embedding string  `bun:"embedding,notnull"`
	Distance  float64 `bun:"distance,scanonly"`
}

// PostgresStore keeps chunks in a pgvector-typed column with an HNSW cosine
// index.
type PostgresStore struct {
	db  *bun.DB
	mu  sync.Mutex
	dim int
}

func openPostgres(cfg *config.DatabaseConfig) (*PostgresStore, error) {
	opts := []pgdriver.Option{pgdriver.WithDSN(cfg.DSN)}
	if cfg.Password != "" {
		opts = append(opts, pgdriver.WithPassword(cfg.Password))
	}
	sqldb := sql.OpenDB(pgdriver.NewConnector(opts...))
	db := bun.NewDB(sqldb, pgdialect.New())
	if cfg.Debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) EnsureIndex(ctx context.Context, dim int) error {
	if dim <= 0 {
		return wrapError("ensure index", fmt.Errorf("%w: dimension %d", ErrDimensionMismatch, dim))
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err := p.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock(?)", advisoryLockID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			"CREATE TABLE IF NOT EXISTS rag_meta (id integer PRIMARY KEY, embedding_dim integer NOT NULL)"); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO rag_meta (id, embedding_dim) VALUES (1, ?) ON CONFLICT (id) DO NOTHING", dim); err != nil {
			return err
		}

		var existing int
		if err := tx.QueryRowContext(ctx,
			"SELECT embedding_dim FROM rag_meta WHERE id = 1").Scan(&existing); err != nil {
			return err
		}
		if existing != dim {
			return fmt.Errorf("%w: index has dimension %d, requested %d", ErrDimensionMismatch, existing, dim)
		}

		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS transcript_chunks (
				id bigserial PRIMARY KEY,
				document_id text NOT NULL,
				ordinal integer NOT NULL,
				chunk_text text NOT NULL,
				metadata jsonb,
				embedding vector(%d) NOT NULL,
				UNIQUE (document_id, ordinal)
			)`, dim)); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			"CREATE INDEX IF NOT EXISTS transcript_chunks_embedding_idx ON transcript_chunks USING hnsw (embedding vector_cosine_ops)"); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			"CREATE INDEX IF NOT EXISTS transcript_chunks_document_idx ON transcript_chunks (document_id, ordinal)")
		return err
	})
	if err != nil {
		return wrapError("ensure index", err)
	}
	p.dim = dim
	return nil
}

// dimension reads the established index dimension; zero means EnsureIndex
// has not completed yet.
func (p *PostgresStore) dimension() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dim
}

func (p *PostgresStore) UpsertChunks(ctx context.Context, documentID string, chunks []models.Chunk) error {
	dim := p.dimension()
	if dim == 0 {
		return wrapError("upsert", ErrNotReady)
	}
	rows := make([]chunkRow, 0, len(chunks))
	for _, chunk := range chunks {
		if len(chunk.Embedding) != dim {
			return wrapError("upsert",
				fmt.Errorf("%w: chunk %d of document %s has %d values, index has %d",
					ErrDimensionMismatch, chunk.Ordinal, documentID, len(chunk.Embedding), dim))
		}
		rows = append(rows, chunkRow{
			DocumentID: documentID,
			Ordinal:    chunk.Ordinal,
			ChunkText:  chunk.Text,
			Metadata:   chunk.Metadata,
			Embedding:  vectorLiteral(chunk.Embedding),
		})
	}

	err := p.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewDelete().
			Model((*chunkRow)(nil)).
			Where("document_id = ?", documentID).
			Exec(ctx); err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		_, err := tx.NewInsert().Model(&rows).Exec(ctx)
		return err
	})
	return wrapError("upsert", err)
}

func (p *PostgresStore) TopK(ctx context.Context, queryVector []float32, k int) ([]models.RetrievedChunk, error) {
	dim := p.dimension()
	if dim == 0 {
		return nil, wrapError("search", ErrNotReady)
	}
	if len(queryVector) != dim {
		return nil, wrapError("search",
			fmt.Errorf("%w: query vector has %d values, index has %d", ErrDimensionMismatch, len(queryVector), dim))
	}

	literal := vectorLiteral(queryVector)
	var rows []chunkRow
	err := p.db.NewSelect().
		Model(&rows).
		Column("id", "document_id", "ordinal", "chunk_text", "metadata", "embedding").
		ColumnExpr("embedding <=> ?::vector AS distance", literal).
		OrderExpr("distance ASC, document_id ASC, ordinal ASC").
		Limit(k).
		Scan(ctx)
	if err != nil {
		return nil, wrapError("search", err)
	}

	results := make([]models.RetrievedChunk, 0, len(rows))
	for _, row := range rows {
		vec, err := parseVector(row.Embedding)
		if err != nil {
			return nil, wrapError("search", err)
		}
		results = append(results, models.RetrievedChunk{
			Chunk: models.Chunk{
				ID:         row.ID,
				DocumentID: row.DocumentID,
				Ordinal:    row.Ordinal,
				Text:       row.ChunkText,
				Metadata:   row.Metadata,
				Embedding:  vec,
			},
			Distance: row.Distance,
			Score:    similarity(row.Distance),
		})
	}
	return results, nil
}

func (p *PostgresStore) DeleteDocument(ctx context.Context, documentID string) error {
	_, err := p.db.NewDelete().
		Model((*chunkRow)(nil)).
		Where("document_id = ?", documentID).
		Exec(ctx)
	return wrapError("delete", err)
}

func (p *PostgresStore) Count(ctx context.Context) (int64, error) {
	n, err := p.db.NewSelect().Model((*chunkRow)(nil)).Count(ctx)
	if err != nil {
		return 0, wrapError("count", err)
	}
	return int64(n), nil
}

func (p *PostgresStore) Close() error { return p.db.Close() }

// vectorLiteral renders the pgvector text form "[x,y,...]".
func vectorLiteral(vector []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, v := range vector {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(v), 'g', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

func parseVector(literal string) ([]float32, error) {
	trimmed := strings.Trim(strings.TrimSpace(literal), "[]")
	if trimmed == "" {
		return nil, nil
	}
	parts := strings.Split(trimmed, ",")
	vector := make([]float32, len(parts))
	for i, part := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 32)
		if err != nil {
			return nil, fmt.Errorf("bad vector literal: %w", err)
		}
		vector[i] = float32(v)
	}
	return vector, nil
}
