package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestLexProject(t *testing.T) (*DB, string) {
	t.Helper()
	db := openTestDB(t)
	proj, err := db.CreateProject(context.Background(), "p", "/repo/p", 256, "static")
	require.NoError(t, err)
	return db, proj.ID
}

func TestLexIndex_Search_FindsIndexedContent(t *testing.T) {
	db, projectID := openTestLexProject(t)
	ctx := context.Background()

	require.NoError(t, db.Lex().Index(ctx, projectID, []*Document{
		{ID: "a", Content: "func Authenticate validates the session token"},
		{ID: "b", Content: "func CacheEvict removes stale entries"},
	}))

	results, err := db.Lex().Search(ctx, projectID, "authenticate token", 10)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "a", results[0].EntityID)
}

func TestLexIndex_Search_EmptyQueryReturnsEmpty(t *testing.T) {
	db, projectID := openTestLexProject(t)
	results, err := db.Lex().Search(context.Background(), projectID, "   ", 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestLexIndex_Search_QueryOfOnlyStopWordsReturnsEmpty(t *testing.T) {
	db, projectID := openTestLexProject(t)
	results, err := db.Lex().Search(context.Background(), projectID, "func var return", 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestLexIndex_Index_ReplacesPreviousContentForSameID(t *testing.T) {
	db, projectID := openTestLexProject(t)
	ctx := context.Background()

	require.NoError(t, db.Lex().Index(ctx, projectID, []*Document{{ID: "a", Content: "original sentinel"}}))
	require.NoError(t, db.Lex().Index(ctx, projectID, []*Document{{ID: "a", Content: "replacement wording"}}))

	hits, err := db.Lex().Search(ctx, projectID, "sentinel", 10)
	require.NoError(t, err)
	assert.Empty(t, hits, "old content should no longer match after reindexing the same id")

	hits, err = db.Lex().Search(ctx, projectID, "replacement", 10)
	require.NoError(t, err)
	assert.NotEmpty(t, hits)
}

func TestLexIndex_Index_EmptyDocsIsNoop(t *testing.T) {
	db, projectID := openTestLexProject(t)
	require.NoError(t, db.Lex().Index(context.Background(), projectID, nil))
}

func TestLexIndex_Delete_RemovesFromIndexAndAllIDs(t *testing.T) {
	db, projectID := openTestLexProject(t)
	ctx := context.Background()

	require.NoError(t, db.Lex().Index(ctx, projectID, []*Document{
		{ID: "a", Content: "alpha content"},
		{ID: "b", Content: "beta content"},
	}))

	require.NoError(t, db.Lex().Delete(ctx, projectID, []string{"a"}))

	ids, err := db.Lex().AllIDs(ctx, projectID)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, ids)
}

func TestLexIndex_Delete_EmptyIDsIsNoop(t *testing.T) {
	db, projectID := openTestLexProject(t)
	require.NoError(t, db.Lex().Delete(context.Background(), projectID, nil))
}

func TestLexIndex_AllIDs_ReturnsSortedEntityIDs(t *testing.T) {
	db, projectID := openTestLexProject(t)
	ctx := context.Background()

	require.NoError(t, db.Lex().Index(ctx, projectID, []*Document{
		{ID: "zzz", Content: "content"},
		{ID: "aaa", Content: "content"},
	}))

	ids, err := db.Lex().AllIDs(ctx, projectID)
	require.NoError(t, err)
	assert.Equal(t, []string{"aaa", "zzz"}, ids)
}

func TestLexIndex_Search_RespectsLimit(t *testing.T) {
	db, projectID := openTestLexProject(t)
	ctx := context.Background()

	docs := make([]*Document, 0, 5)
	for i := 0; i < 5; i++ {
		docs = append(docs, &Document{ID: string(rune('a' + i)), Content: "shared matching keyword"})
	}
	require.NoError(t, db.Lex().Index(ctx, projectID, docs))

	results, err := db.Lex().Search(ctx, projectID, "shared", 2)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}
