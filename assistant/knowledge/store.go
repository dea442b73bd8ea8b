package knowledge

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/ZanzyTHEbar/guild-assistant/assistant/generation/providers"
	"github.com/ZanzyTHEbar/guild-assistant/assistant/similarity"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"
)

// ErrEmptyDocument is returned when ingesting text with no content.
var ErrEmptyDocument = errors.New("document has no content")

const defaultEmbedConcurrency = 4

// Passage is the payload stored in the similarity index.
type Passage struct {
	ID      int64
	GuildID string
	Source  string
	Text    string
}

// Record is one stored passage with its embedding.
type Record struct {
	Passage
	Embedding []float32
	Model     string
	CreatedAt time.Time
}

// Embedder produces embeddings for passages.
type Embedder interface {
	GenerateEmbedding(ctx context.Context, text string) (providers.EmbeddingResult, error)
}

// Store reads and writes knowledge records.
type Store struct {
	db        *sql.DB
	embedder  Embedder
	chunkSize int
	workers   int
	logger    zerolog.Logger

	mu      sync.Mutex
	index   *similarity.Index[Passage]
	indexed map[int64]uint32 // record id → index id
}

// Option configures a Store.
type Option func(*Store)

// WithChunkSize sets the maximum passage length in bytes.
func WithChunkSize(n int) Option { return func(s *Store) { s.chunkSize = n } }

// WithEmbedConcurrency bounds parallel embedding calls during ingest.
func WithEmbedConcurrency(n int) Option { return func(s *Store) { s.workers = n } }

// WithIndex keeps idx in sync with ingests and deletes.
func WithIndex(idx *similarity.Index[Passage]) Option { return func(s *Store) { s.index = idx } }

// WithLogger sets the store logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Store) { s.logger = l.With().Str("component", "knowledge").Logger() }
}

// NewStore creates a store over a migrated database.
func NewStore(db *sql.DB, embedder Embedder, opts ...Option) *Store {
	s := &Store{
		db:        db,
		embedder:  embedder,
		chunkSize: DefaultChunkSize,
		workers:   defaultEmbedConcurrency,
		logger:    zerolog.Nop(),
		indexed:   make(map[int64]uint32),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.workers < 1 {
		s.workers = 1
	}
	return s
}

// Ingest splits text into passages, embeds them and stores them under
// (guildID, source), replacing what that source held before. An empty
// guildID makes the passages visible to every guild. It returns the number
// of passages stored.
func (s *Store) Ingest(ctx context.Context, guildID, source, text string) (int, error) {
	chunks := Chunk(text, s.chunkSize)
	if len(chunks) == 0 {
		return 0, ErrEmptyDocument
	}

	records, err := s.embed(ctx, guildID, source, chunks)
	if err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin ingest: %w", err)
	}
	defer tx.Rollback()

	replaced, err := sourceIDs(ctx, tx, guildID, source)
	if err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM knowledge_records WHERE guild_id = ? AND source = ?`, guildID, source); err != nil {
		return 0, fmt.Errorf("delete previous passages: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO knowledge_records
		(guild_id, source, content, embedding, model, created_at) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for i := range records {
		rec := &records[i]
		res, err := stmt.ExecContext(ctx, rec.GuildID, rec.Source, rec.Text,
			EncodeVector(rec.Embedding), rec.Model, rec.CreatedAt.Unix())
		if err != nil {
			return 0, fmt.Errorf("insert passage %d of %s: %w", i, source, err)
		}
		if rec.ID, err = res.LastInsertId(); err != nil {
			return 0, fmt.Errorf("read passage id: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit ingest: %w", err)
	}

	s.unindex(replaced)
	for _, rec := range records {
		s.add(rec)
	}

	s.logger.Info().
		Str("guild_id", guildID).
		Str("source", source).
		Int("passages", len(records)).
		Int("replaced", len(replaced)).
		Msg("ingested document")
	return len(records), nil
}

func (s *Store) embed(ctx context.Context, guildID, source string, chunks []string) ([]Record, error) {
	records := make([]Record, len(chunks))
	now := time.Now().UTC().Truncate(time.Second)

	p := pool.New().WithContext(ctx).WithCancelOnError().WithMaxGoroutines(s.workers)
	for i, chunk := range chunks {
		p.Go(func(ctx context.Context) error {
			res, err := s.embedder.GenerateEmbedding(ctx, chunk)
			if err != nil {
				return fmt.Errorf("embed passage %d of %s: %w", i, source, err)
			}
			if len(res.Embedding) == 0 {
				return fmt.Errorf("embed passage %d of %s: empty embedding", i, source)
			}
			records[i] = Record{
				Passage:   Passage{GuildID: guildID, Source: source, Text: chunk},
				Embedding: res.Embedding,
				Model:     res.Model,
				CreatedAt: now,
			}
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return nil, err
	}
	return records, nil
}

// Delete removes every passage of source in guildID and returns how many
// were removed.
func (s *Store) Delete(ctx context.Context, guildID, source string) (int, error) {
	ids, err := sourceIDs(ctx, s.db, guildID, source)
	if err != nil {
		return 0, err
	}
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM knowledge_records WHERE guild_id = ? AND source = ?`, guildID, source); err != nil {
		return 0, fmt.Errorf("delete passages: %w", err)
	}
	s.unindex(ids)
	return len(ids), nil
}

// Each calls fn for every stored record in id order.
func (s *Store) Each(ctx context.Context, fn func(Record) error) error {
	rows, err := s.db.QueryContext(ctx, `SELECT id, guild_id, source, content, embedding, model, created_at
		FROM knowledge_records ORDER BY id`)
	if err != nil {
		return fmt.Errorf("query passages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			rec       Record
			blob      []byte
			createdAt int64
		)
		if err := rows.Scan(&rec.ID, &rec.GuildID, &rec.Source, &rec.Text, &blob, &rec.Model, &createdAt); err != nil {
			return fmt.Errorf("scan passage: %w", err)
		}
		if rec.Embedding, err = DecodeVector(blob); err != nil {
			return fmt.Errorf("passage %d: %w", rec.ID, err)
		}
		rec.CreatedAt = time.Unix(createdAt, 0).UTC()
		if err := fn(rec); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Count returns the number of stored passages.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM knowledge_records`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count passages: %w", err)
	}
	return n, nil
}

// Load adds every stored record to the index configured with WithIndex and
// returns how many were added. Records already indexed are skipped.
func (s *Store) Load(ctx context.Context) (int, error) {
	if s.index == nil {
		return 0, errors.New("store has no index")
	}
	loaded := 0
	err := s.Each(ctx, func(rec Record) error {
		if s.add(rec) {
			loaded++
		}
		return nil
	})
	if err != nil {
		return loaded, err
	}
	s.logger.Info().Int("passages", loaded).Msg("knowledge index loaded")
	return loaded, nil
}

func (s *Store) add(rec Record) bool {
	if s.index == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.indexed[rec.ID]; ok {
		return false
	}
	s.indexed[rec.ID] = s.index.Add(rec.GuildID, similarity.Record[Passage]{
		Vector:  similarity.FromFloat32(rec.Embedding),
		Payload: rec.Passage,
	})
	return true
}

func (s *Store) unindex(ids []int64) {
	if s.index == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if indexID, ok := s.indexed[id]; ok {
			s.index.Remove(indexID)
			delete(s.indexed, id)
		}
	}
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func sourceIDs(ctx context.Context, q querier, guildID, source string) ([]int64, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id FROM knowledge_records WHERE guild_id = ? AND source = ?`, guildID, source)
	if err != nil {
		return nil, fmt.Errorf("query passages of %s: %w", source, err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// EncodeVector packs v as little-endian float32s.
func EncodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

// DecodeVector unpacks a vector written by EncodeVector.
func DecodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("embedding blob length %d is not a multiple of 4", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v, nil
}

// DefaultChunkSize is the default maximum passage length in bytes.
const DefaultChunkSize = 800

// Chunk splits text into passages of at most size bytes. Paragraphs
// (separated by blank lines) are kept whole when they fit and merged with
// their neighbours while the result stays within size; longer paragraphs are
// split at word boundaries, and words longer than size at rune boundaries.
func Chunk(text string, size int) []string {
	if size <= 0 {
		size = DefaultChunkSize
	}
	text = strings.ReplaceAll(text, "\r\n", "\n")

	var (
		chunks  []string
		current strings.Builder
	)
	flush := func() {
		if current.Len() > 0 {
			chunks = append(chunks, current.String())
			current.Reset()
		}
	}
	appendPiece := func(piece, sep string) {
		if current.Len() > 0 && current.Len()+len(sep)+len(piece) > size {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString(sep)
		}
		current.WriteString(piece)
	}

	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if len(para) <= size {
			appendPiece(para, "\n\n")
			continue
		}
		flush()
		for _, word := range strings.Fields(para) {
			for _, piece := range splitWord(word, size) {
				appendPiece(piece, " ")
			}
		}
		flush()
	}
	flush()
	return chunks
}

func splitWord(word string, size int) []string {
	if len(word) <= size {
		return []string{word}
	}
	var pieces []string
	start := 0
	for i, r := range word {
		if i > start && i+utf8.RuneLen(r)-start > size {
			pieces = append(pieces, word[start:i])
			start = i
		}
	}
	return append(pieces, word[start:])
}
