package db

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/chauhan112/MyAIChat/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDB(t *testing.T) *Database {
	t.Helper()
	database, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return database
}

// frozenClock returns a clock that always reports the same instant.
func frozenClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func countMessages(t *testing.T, database *Database) int {
	t.Helper()
	var n int
	require.NoError(t, database.db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&n))
	return n
}

func TestNew_CreatesSchema(t *testing.T) {
	database := testDB(t)

	tables := map[string]bool{}
	rows, err := database.db.Query(`SELECT name FROM sqlite_master WHERE type='table'`)
	require.NoError(t, err)
	defer rows.Close()
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		tables[name] = true
	}

	assert.True(t, tables["conversations"])
	assert.True(t, tables["messages"])
}

func TestNew_CreatesParentDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "chat.db")
	database, err := New(path)
	require.NoError(t, err)
	defer database.Close()

	_, err = database.CreateConversation(context.Background(), "hello")
	assert.NoError(t, err)
}

func TestCreateConversation(t *testing.T) {
	ctx := context.Background()
	database := testDB(t)

	conv, err := database.CreateConversation(ctx, "  Trip Planning ")
	require.NoError(t, err)

	assert.Positive(t, conv.ID)
	assert.Equal(t, "Trip Planning", conv.Title)
	assert.False(t, conv.CreatedAt.IsZero())
	assert.Equal(t, conv.CreatedAt, conv.UpdatedAt)

	got, err := database.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, conv, got)
}

func TestCreateConversation_EmptyTitle(t *testing.T) {
	database := testDB(t)

	for _, title := range []string{"", "   ", "\t\n"} {
		_, err := database.CreateConversation(context.Background(), title)
		var verr *models.ValidationError
		assert.True(t, errors.As(err, &verr), "title %q: got %v", title, err)
	}

	convs, err := database.ListConversations(context.Background())
	require.NoError(t, err)
	assert.Empty(t, convs)
}

func TestListConversations_IncludesCreatedOnce(t *testing.T) {
	ctx := context.Background()
	database := testDB(t)

	_, err := database.CreateConversation(ctx, "Recipes")
	require.NoError(t, err)
	_, err = database.CreateConversation(ctx, "Trip Planning")
	require.NoError(t, err)

	convs, err := database.ListConversations(ctx)
	require.NoError(t, err)

	matches := 0
	for _, c := range convs {
		if c.Title == "Trip Planning" {
			matches++
		}
	}
	assert.Equal(t, 1, matches)
}

func TestListConversations_OrderedByRecency(t *testing.T) {
	ctx := context.Background()
	database := testDB(t)

	base := time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC)
	database.now = frozenClock(base)
	first, err := database.CreateConversation(ctx, "first")
	require.NoError(t, err)
	database.now = frozenClock(base.Add(time.Minute))
	second, err := database.CreateConversation(ctx, "second")
	require.NoError(t, err)

	convs, err := database.ListConversations(ctx)
	require.NoError(t, err)
	require.Len(t, convs, 2)
	assert.Equal(t, second.ID, convs[0].ID)
	assert.Equal(t, first.ID, convs[1].ID)

	database.now = frozenClock(base.Add(time.Hour))
	require.NoError(t, database.TouchConversation(ctx, first.ID))

	convs, err = database.ListConversations(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.ID, convs[0].ID)
	assert.Equal(t, second.ID, convs[1].ID)
}

func TestListConversations_Empty(t *testing.T) {
	convs, err := testDB(t).ListConversations(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, convs)
	assert.Empty(t, convs)
}

func TestAppendMessage(t *testing.T) {
	ctx := context.Background()
	database := testDB(t)
	conv, err := database.CreateConversation(ctx, "chat")
	require.NoError(t, err)

	msg, err := database.AppendMessage(ctx, conv.ID, models.RoleHuman, "hi there")
	require.NoError(t, err)

	assert.Positive(t, msg.ID)
	assert.Equal(t, conv.ID, msg.ConvID)
	assert.Equal(t, models.RoleHuman, msg.Role)
	assert.Equal(t, "hi there", msg.Content)
	assert.True(t, msg.Timestamp.After(conv.CreatedAt))

	msgs, err := database.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, *msg, msgs[0])
}

func TestAppendMessage_UnknownConversation(t *testing.T) {
	ctx := context.Background()
	database := testDB(t)
	conv, err := database.CreateConversation(ctx, "chat")
	require.NoError(t, err)
	_, err = database.AppendMessage(ctx, conv.ID, models.RoleHuman, "existing")
	require.NoError(t, err)

	_, err = database.AppendMessage(ctx, 999, models.RoleHuman, "lost")
	var nf *models.NotFoundError
	require.True(t, errors.As(err, &nf), "got %v", err)

	assert.Equal(t, 1, countMessages(t, database))
	convs, err := database.ListConversations(ctx)
	require.NoError(t, err)
	assert.Len(t, convs, 1)
}

func TestAppendMessage_EmptyRole(t *testing.T) {
	ctx := context.Background()
	database := testDB(t)
	conv, err := database.CreateConversation(ctx, "chat")
	require.NoError(t, err)

	_, err = database.AppendMessage(ctx, conv.ID, " ", "content")
	var verr *models.ValidationError
	assert.True(t, errors.As(err, &verr))
	assert.Equal(t, 0, countMessages(t, database))
}

func TestAppendMessage_TimestampsStrictlyIncrease(t *testing.T) {
	ctx := context.Background()
	database := testDB(t)

	// A clock that never moves and then steps backwards must not reorder messages.
	start := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)
	database.now = frozenClock(start)
	conv, err := database.CreateConversation(ctx, "chat")
	require.NoError(t, err)

	var want []string
	for i := 0; i < 20; i++ {
		if i == 10 {
			database.now = frozenClock(start.Add(-time.Hour))
		}
		content := fmt.Sprintf("message %d", i)
		_, err := database.AppendMessage(ctx, conv.ID, models.RoleHuman, content)
		require.NoError(t, err)
		want = append(want, content)
	}

	msgs, err := database.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, len(want))
	for i, m := range msgs {
		assert.Equal(t, want[i], m.Content)
		if i > 0 {
			assert.True(t, m.Timestamp.After(msgs[i-1].Timestamp), "message %d not after %d", i, i-1)
		}
	}
}

func TestListMessages_ScopedToConversation(t *testing.T) {
	ctx := context.Background()
	database := testDB(t)
	a, err := database.CreateConversation(ctx, "a")
	require.NoError(t, err)
	b, err := database.CreateConversation(ctx, "b")
	require.NoError(t, err)

	_, err = database.AppendMessage(ctx, a.ID, models.RoleHuman, "for a")
	require.NoError(t, err)
	_, err = database.AppendMessage(ctx, b.ID, models.RoleHuman, "for b")
	require.NoError(t, err)

	msgs, err := database.ListMessages(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "for a", msgs[0].Content)
}

func TestListMessages_RepeatableWithoutWrites(t *testing.T) {
	ctx := context.Background()
	database := testDB(t)
	conv, err := database.CreateConversation(ctx, "chat")
	require.NoError(t, err)
	for _, role := range []string{models.RoleHuman, models.RoleAI, models.RoleHuman} {
		_, err := database.AppendMessage(ctx, conv.ID, role, "text from "+role)
		require.NoError(t, err)
	}

	first, err := database.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	second, err := database.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestListMessages_UnknownConversation(t *testing.T) {
	_, err := testDB(t).ListMessages(context.Background(), 42)
	var nf *models.NotFoundError
	assert.True(t, errors.As(err, &nf))
}

func TestTouchConversation(t *testing.T) {
	ctx := context.Background()
	database := testDB(t)

	start := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)
	database.now = frozenClock(start)
	conv, err := database.CreateConversation(ctx, "chat")
	require.NoError(t, err)
	msg, err := database.AppendMessage(ctx, conv.ID, models.RoleAI, "answer")
	require.NoError(t, err)

	// Clock still frozen at creation time: updated_at must still cover the message.
	require.NoError(t, database.TouchConversation(ctx, conv.ID))
	got, err := database.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.False(t, got.UpdatedAt.Before(msg.Timestamp))
	assert.True(t, got.UpdatedAt.After(conv.UpdatedAt))

	later := start.Add(time.Minute)
	database.now = frozenClock(later)
	require.NoError(t, database.TouchConversation(ctx, conv.ID))
	got, err = database.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.True(t, later.Equal(got.UpdatedAt), "updated_at = %v", got.UpdatedAt)

	// Never moves backwards.
	database.now = frozenClock(start.Add(-time.Hour))
	require.NoError(t, database.TouchConversation(ctx, conv.ID))
	got, err = database.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.True(t, later.Equal(got.UpdatedAt), "updated_at = %v", got.UpdatedAt)
	assert.True(t, start.Equal(got.CreatedAt))
}

func TestTouchConversation_UnknownConversation(t *testing.T) {
	err := testDB(t).TouchConversation(context.Background(), 7)
	var nf *models.NotFoundError
	assert.True(t, errors.As(err, &nf))
}

func TestRenameConversation(t *testing.T) {
	ctx := context.Background()
	database := testDB(t)
	conv, err := database.CreateConversation(ctx, "old")
	require.NoError(t, err)

	require.NoError(t, database.RenameConversation(ctx, conv.ID, "new"))
	got, err := database.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "new", got.Title)

	var verr *models.ValidationError
	assert.True(t, errors.As(database.RenameConversation(ctx, conv.ID, ""), &verr))

	var nf *models.NotFoundError
	assert.True(t, errors.As(database.RenameConversation(ctx, 999, "x"), &nf))
}

func TestDeleteConversation_RemovesMessages(t *testing.T) {
	ctx := context.Background()
	database := testDB(t)
	doomed, err := database.CreateConversation(ctx, "doomed")
	require.NoError(t, err)
	kept, err := database.CreateConversation(ctx, "kept")
	require.NoError(t, err)
	for _, id := range []int64{doomed.ID, doomed.ID, kept.ID} {
		_, err := database.AppendMessage(ctx, id, models.RoleHuman, "hello")
		require.NoError(t, err)
	}

	require.NoError(t, database.DeleteConversation(ctx, doomed.ID))

	var nf *models.NotFoundError
	_, err = database.GetConversation(ctx, doomed.ID)
	assert.True(t, errors.As(err, &nf))
	assert.Equal(t, 1, countMessages(t, database))

	assert.True(t, errors.As(database.DeleteConversation(ctx, doomed.ID), &nf))
}

func TestForeignKeyCascade(t *testing.T) {
	ctx := context.Background()
	database := testDB(t)
	conv, err := database.CreateConversation(ctx, "chat")
	require.NoError(t, err)
	_, err = database.AppendMessage(ctx, conv.ID, models.RoleHuman, "hello")
	require.NoError(t, err)

	// Deleting the parent row directly relies on ON DELETE CASCADE.
	_, err = database.db.Exec(`DELETE FROM conversations WHERE id = ?`, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, countMessages(t, database))
}

func TestStorageError(t *testing.T) {
	database := testDB(t)
	require.NoError(t, database.Close())

	_, err := database.ListConversations(context.Background())
	var serr *models.StorageError
	require.True(t, errors.As(err, &serr), "got %v", err)
	assert.Error(t, errors.Unwrap(err))
}
