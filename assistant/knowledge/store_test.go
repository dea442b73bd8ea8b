package knowledge

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"unicode/utf8"

	"github.com/ZanzyTHEbar/guild-assistant/assistant/generation/providers"
	"github.com/ZanzyTHEbar/guild-assistant/assistant/similarity"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// StubEmbedder maps text onto a small bag-of-keywords vector.
type StubEmbedder struct {
	fail  error
	calls atomic.Int32
}

var stubVocabulary = []string{"ticket", "rules", "role", "event"}

func (e *StubEmbedder) GenerateEmbedding(_ context.Context, text string) (providers.EmbeddingResult, error) {
	e.calls.Add(1)
	if e.fail != nil {
		return providers.EmbeddingResult{}, e.fail
	}
	return providers.EmbeddingResult{Embedding: stubVector(text), Model: "stub-embed"}, nil
}

func stubVector(text string) []float32 {
	text = strings.ToLower(text)
	v := make([]float32, len(stubVocabulary)+1)
	for i, word := range stubVocabulary {
		v[i] = float32(strings.Count(text, word))
	}
	v[len(stubVocabulary)] = 0.01
	return v
}

func createTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "knowledge.db")
	db, err := Open(context.Background(), dsn, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

const guide = `To open a ticket, use the ticket command in any channel.

Server rules: be kind, no spam, follow the rules of each channel.

Roles are granted by staff after you read the rules.`

func TestChunk(t *testing.T) {
	t.Run("merges short paragraphs", func(t *testing.T) {
		chunks := Chunk("one\n\ntwo\r\n\r\nthree", 100)
		assert.Equal(t, []string{"one\n\ntwo\n\nthree"}, chunks)
	})

	t.Run("respects the size bound", func(t *testing.T) {
		chunks := Chunk(guide, 80)
		require.Len(t, chunks, 3)
		for _, c := range chunks {
			assert.LessOrEqual(t, len(c), 80)
		}
	})

	t.Run("splits long paragraphs at words", func(t *testing.T) {
		long := strings.Repeat("word ", 50)
		chunks := Chunk(long, 24)
		require.NotEmpty(t, chunks)
		for _, c := range chunks {
			assert.LessOrEqual(t, len(c), 24)
			assert.NotContains(t, c, "  ")
		}
		assert.Equal(t, 50, strings.Count(strings.Join(chunks, " "), "word"))
	})

	t.Run("splits words longer than size", func(t *testing.T) {
		url := "https://example.com/" + strings.Repeat("a", 60)
		chunks := Chunk("see "+url, 32)
		require.Len(t, chunks, 4)
		for _, c := range chunks {
			assert.LessOrEqual(t, len(c), 32)
		}
		assert.Equal(t, "see", chunks[0])
		assert.Equal(t, url, strings.Join(chunks[1:], ""))

		chunks = Chunk(strings.Repeat("é", 10), 5)
		for _, c := range chunks {
			assert.LessOrEqual(t, len(c), 5)
			assert.True(t, utf8.ValidString(c))
		}
		assert.Equal(t, strings.Repeat("é", 10), strings.Join(chunks, ""))
	})

	t.Run("empty input", func(t *testing.T) {
		assert.Empty(t, Chunk(" \n\n \n", 10))
	})
}

func TestVectorEncoding(t *testing.T) {
	v := []float32{0, 1.5, -2.25, 3e-7}
	got, err := DecodeVector(EncodeVector(v))
	require.NoError(t, err)
	assert.Equal(t, v, got)

	_, err = DecodeVector([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestStore_IngestAndLoad(t *testing.T) {
	ctx := context.Background()
	db := createTestDB(t)
	embedder := &StubEmbedder{}
	index := similarity.NewIndex[Passage]()
	store := NewStore(db, embedder, WithChunkSize(80), WithIndex(index))

	n, err := store.Ingest(ctx, "g1", "faq.md", guide)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, int32(3), embedder.calls.Load())
	assert.Equal(t, 3, index.ScopeLen("g1"))

	var records []Record
	require.NoError(t, store.Each(ctx, func(r Record) error {
		records = append(records, r)
		return nil
	}))
	require.Len(t, records, 3)
	assert.Equal(t, "faq.md", records[0].Source)
	assert.Equal(t, "stub-embed", records[0].Model)
	assert.Equal(t, stubVector(records[0].Text), records[0].Embedding)
	assert.False(t, records[0].CreatedAt.IsZero())

	matches := index.Search(similarity.FromFloat32(stubVector("ticket")), "g1", 1, 0.5)
	require.Len(t, matches, 1)
	assert.Contains(t, matches[0].Payload.Text, "open a ticket")

	// A second process loads the same rows into its own index.
	fresh := similarity.NewIndex[Passage]()
	loaded, err := NewStore(db, embedder, WithIndex(fresh)).Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, loaded)
	assert.Equal(t, 3, fresh.Len())

	// Loading twice does not duplicate.
	loaded, err = store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, loaded)
	assert.Equal(t, 3, index.Len())
}

func TestStore_ReingestReplacesSource(t *testing.T) {
	ctx := context.Background()
	index := similarity.NewIndex[Passage]()
	store := NewStore(createTestDB(t), &StubEmbedder{}, WithChunkSize(80), WithIndex(index))

	_, err := store.Ingest(ctx, "g1", "faq.md", guide)
	require.NoError(t, err)
	_, err = store.Ingest(ctx, "", "global.md", "Events are announced every Friday.")
	require.NoError(t, err)

	n, err := store.Ingest(ctx, "g1", "faq.md", "Tickets close after a week of silence.")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Equal(t, 2, index.Len())

	removed, err := store.Delete(ctx, "g1", "faq.md")
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, index.Len())
	assert.Equal(t, 1, index.ScopeLen(similarity.GlobalScope))
}

func TestStore_IngestFailuresWriteNothing(t *testing.T) {
	ctx := context.Background()
	db := createTestDB(t)

	store := NewStore(db, &StubEmbedder{fail: errors.New("rate limited")})
	_, err := store.Ingest(ctx, "g1", "faq.md", guide)
	assert.ErrorContains(t, err, "rate limited")

	_, err = store.Ingest(ctx, "g1", "empty.md", "   ")
	assert.ErrorIs(t, err, ErrEmptyDocument)

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestStore_LoadRequiresIndex(t *testing.T) {
	_, err := NewStore(createTestDB(t), &StubEmbedder{}).Load(context.Background())
	assert.Error(t, err)
}

func TestLocalPath(t *testing.T) {
	path, ok := localPath("file:/tmp/x/k.db?_journal_mode=WAL")
	assert.True(t, ok)
	assert.Equal(t, "/tmp/x/k.db", path)

	_, ok = localPath("file::memory:?cache=shared")
	assert.False(t, ok)
	_, ok = localPath("libsql://db.turso.io")
	assert.False(t, ok)
}
