package chat

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) (*chatService, sqlmock.Sqlmock, redismock.ClientMock) {
	t.Helper()

	db, dbMock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	rdc, rdMock := redismock.NewClientMock()

	svc := NewChatService(rdc, db).(*chatService)
	return svc, dbMock, rdMock
}

func mustMarshal(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func TestStartChatWritesThroughCache(t *testing.T) {
	svc, dbMock, rdMock := newTestService(t)
	ctx := context.Background()

	room := &Chat{
		ChatID:         "meeting-1",
		CallbackURI:    "https://lms.example.org/hooks",
		CallbackSecret: "cb-secret",
		CallbackID:     "course-42",
	}

	dbMock.ExpectExec("INSERT INTO chats").
		WithArgs(room.ChatID, room.CallbackURI, room.CallbackSecret, room.CallbackID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	rdMock.ExpectPublish(RegistryChannel,
		mustMarshal(t, RegistryEvent{Op: registryOpCreate, Chat: *room})).SetVal(1)

	require.NoError(t, svc.StartChat(ctx, room))

	// No further SQL expectation: a get right after the create must be served
	// from the cache with exactly the created room.
	got, err := svc.GetChat(ctx, "meeting-1")
	require.NoError(t, err)
	assert.Equal(t, room, got)

	assert.NoError(t, dbMock.ExpectationsWereMet())
	assert.NoError(t, rdMock.ExpectationsWereMet())
}

func TestStartChatDuplicate(t *testing.T) {
	svc, dbMock, rdMock := newTestService(t)

	dbMock.ExpectExec("INSERT INTO chats").
		WithArgs("meeting-1", "", "", "").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := svc.StartChat(context.Background(), &Chat{ChatID: "meeting-1"})
	assert.ErrorIs(t, err, ErrChatExists)

	// No cache write, no notification for the losing create.
	assert.NoError(t, dbMock.ExpectationsWereMet())
	assert.NoError(t, rdMock.ExpectationsWereMet())
}

func TestGetChatFallsBackToStore(t *testing.T) {
	svc, dbMock, _ := newTestService(t)
	ctx := context.Background()

	rows := sqlmock.NewRows([]string{"chat_id", "callback_uri", "callback_secret", "callback_id"}).
		AddRow("meeting-1", "https://cb", "s", "id")
	dbMock.ExpectQuery("SELECT chat_id, callback_uri, callback_secret, callback_id").
		WithArgs("meeting-1").
		WillReturnRows(rows)

	got, err := svc.GetChat(ctx, "meeting-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "https://cb", got.CallbackURI)

	// Second read is a cache hit.
	again, err := svc.GetChat(ctx, "meeting-1")
	require.NoError(t, err)
	assert.Equal(t, got, again)

	assert.NoError(t, dbMock.ExpectationsWereMet())
}

func TestGetChatAbsentIsNilAndCached(t *testing.T) {
	svc, dbMock, _ := newTestService(t)
	ctx := context.Background()

	dbMock.ExpectQuery("SELECT chat_id, callback_uri, callback_secret, callback_id").
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)

	got, err := svc.GetChat(ctx, "ghost")
	require.NoError(t, err)
	assert.Nil(t, got)

	// The miss is cached too; no second query.
	got, err = svc.GetChat(ctx, "ghost")
	require.NoError(t, err)
	assert.Nil(t, got)

	assert.NoError(t, dbMock.ExpectationsWereMet())
}

func TestEndChatEvictsAndNotifies(t *testing.T) {
	svc, dbMock, rdMock := newTestService(t)
	ctx := context.Background()

	dbMock.ExpectExec("DELETE FROM chats").
		WithArgs("meeting-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	rdMock.ExpectPublish(RegistryChannel,
		mustMarshal(t, RegistryEvent{Op: registryOpDelete, Chat: Chat{ChatID: "meeting-1"}})).SetVal(1)

	require.NoError(t, svc.EndChat(ctx, "meeting-1"))

	// Deleted rooms are known-absent without touching the store.
	got, err := svc.GetChat(ctx, "meeting-1")
	require.NoError(t, err)
	assert.Nil(t, got)

	assert.NoError(t, dbMock.ExpectationsWereMet())
	assert.NoError(t, rdMock.ExpectationsWereMet())
}

func TestEndChatNotFound(t *testing.T) {
	svc, dbMock, _ := newTestService(t)

	dbMock.ExpectExec("DELETE FROM chats").
		WithArgs("ghost").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := svc.EndChat(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrChatNotFound)
}

func TestHistoryKeepsCreationOrder(t *testing.T) {
	svc, dbMock, _ := newTestService(t)

	rows := sqlmock.NewRows([]string{"user_name", "message"}).
		AddRow("alice", "first").
		AddRow("bob", "second")
	dbMock.ExpectQuery("SELECT user_name, message FROM messages").
		WithArgs("meeting-1").
		WillReturnRows(rows)

	msgs, err := svc.History(context.Background(), "meeting-1")
	require.NoError(t, err)
	assert.Equal(t, []ChatMessage{
		{UserName: "alice", Message: "first"},
		{UserName: "bob", Message: "second"},
	}, msgs)
}

func TestApplyRemoteConvergesCache(t *testing.T) {
	svc, dbMock, _ := newTestService(t)
	ctx := context.Background()

	svc.ApplyRemote(RegistryEvent{Op: registryOpCreate, Chat: Chat{ChatID: "meeting-9", CallbackURI: "https://cb"}})

	got, err := svc.GetChat(ctx, "meeting-9")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "https://cb", got.CallbackURI)

	svc.ApplyRemote(RegistryEvent{Op: registryOpDelete, Chat: Chat{ChatID: "meeting-9"}})

	got, err = svc.GetChat(ctx, "meeting-9")
	require.NoError(t, err)
	assert.Nil(t, got)

	assert.NoError(t, dbMock.ExpectationsWereMet())
}
