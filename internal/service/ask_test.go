package service

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"docchat/internal/config"
	"docchat/internal/domain"
	"docchat/internal/index"
	"docchat/internal/repository"
	"docchat/internal/session"
)

type fakeCompleter struct {
	lastPrompt []domain.Message
	answer     string
	err        error
}

func (f *fakeCompleter) Complete(_ context.Context, messages []domain.Message) (string, error) {
	f.lastPrompt = messages
	if f.err != nil {
		return "", f.err
	}
	return f.answer, nil
}

func newTestAskService(t *testing.T) (*AskService, *fakeCompleter, *session.Store) {
	t.Helper()
	db, err := repository.NewDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store := index.New(repository.NewStateRepository(db), zap.NewNop())
	ords, err := store.AppendChunks(
		[]string{"The refund window is 30 days.", "Shipping takes one week."},
		[]domain.ChunkMetadata{
			{Source: "policy.pdf", Kind: domain.KindPDF, Page: 4},
			{Source: "faq.txt", Kind: domain.KindText},
		},
	)
	require.NoError(t, err)
	require.NoError(t, store.AddVectors([][]float32{{1, 0, 0}, {0, 1, 0}}))
	store.RegisterDocument(domain.DocumentRecord{Filename: "policy.pdf", Fingerprint: "f1", ChunkOrdinals: ords[:1]})
	store.RegisterDocument(domain.DocumentRecord{Filename: "faq.txt", Fingerprint: "f2", ChunkOrdinals: ords[1:]})
	handle := index.NewHandle(store)

	sessions := session.NewStore(
		repository.NewSessionRepository(db),
		config.SessionConfig{MaxHistoryMessages: 6, TimeoutMinutes: 30, MaxTokensHistory: 8000, MaxStoredSessions: 20},
		zap.NewNop(),
	)
	completer := &fakeCompleter{answer: "The refund window is 30 days."}
	svc := NewAskService(
		NewPlanner(handle, 3, zap.NewNop()),
		NewBatcher(&fakeEmbedder{}, 10),
		completer,
		sessions,
		zap.NewNop(),
	)
	return svc, completer, sessions
}

func TestAskAnswersWithSources(t *testing.T) {
	svc, completer, _ := newTestAskService(t)

	resp, err := svc.Ask(context.Background(), domain.AskRequest{Question: "What is the refund window?"})
	require.NoError(t, err)
	assert.Equal(t, "The refund window is 30 days.", resp.Answer)
	assert.ElementsMatch(t, []string{"policy.pdf (page 4)", "faq.txt"}, resp.Sources)
	assert.NotEmpty(t, resp.SessionID)

	require.NotEmpty(t, completer.lastPrompt)
	system := completer.lastPrompt[0]
	assert.Equal(t, domain.RoleSystem, system.Role)
	assert.Contains(t, system.Content, "policy.pdf (page 4)")
	assert.Contains(t, system.Content, "The refund window is 30 days.")
	last := completer.lastPrompt[len(completer.lastPrompt)-1]
	assert.Equal(t, "What is the refund window?", last.Content)
}

func TestAskRecordsConversation(t *testing.T) {
	svc, _, sessions := newTestAskService(t)

	resp, err := svc.Ask(context.Background(), domain.AskRequest{Question: "first question"})
	require.NoError(t, err)

	detail, err := sessions.Get(resp.SessionID)
	require.NoError(t, err)
	require.Len(t, detail.Messages, 2)
	assert.Equal(t, domain.RoleUser, detail.Messages[0].Role)
	assert.Equal(t, "first question", detail.Messages[0].Content)
	assert.Equal(t, domain.RoleAssistant, detail.Messages[1].Role)
}

func TestAskReusesSession(t *testing.T) {
	svc, completer, _ := newTestAskService(t)

	resp, err := svc.Ask(context.Background(), domain.AskRequest{Question: "first question"})
	require.NoError(t, err)

	resp2, err := svc.Ask(context.Background(), domain.AskRequest{
		Question:  "second question",
		SessionID: resp.SessionID,
	})
	require.NoError(t, err)
	assert.Equal(t, resp.SessionID, resp2.SessionID)

	// prompt carries the earlier turns before the new question
	var contents []string
	for _, m := range completer.lastPrompt {
		contents = append(contents, m.Content)
	}
	joined := strings.Join(contents, "\n")
	assert.Contains(t, joined, "first question")
	assert.Contains(t, joined, "second question")
}

func TestAskEmptyIndex(t *testing.T) {
	db, err := repository.NewDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer db.Close()

	handle := index.NewHandle(index.New(repository.NewStateRepository(db), zap.NewNop()))
	sessions := session.NewStore(
		repository.NewSessionRepository(db),
		config.SessionConfig{MaxHistoryMessages: 6, TimeoutMinutes: 30, MaxTokensHistory: 8000, MaxStoredSessions: 20},
		zap.NewNop(),
	)
	svc := NewAskService(
		NewPlanner(handle, 3, zap.NewNop()),
		NewBatcher(&fakeEmbedder{}, 10),
		&fakeCompleter{},
		sessions,
		zap.NewNop(),
	)

	_, err = svc.Ask(context.Background(), domain.AskRequest{Question: "anything"})
	assert.ErrorIs(t, err, domain.ErrIndexEmpty)
}

func TestAskCompletionFailure(t *testing.T) {
	svc, completer, sessions := newTestAskService(t)
	completer.err = errors.New("model overloaded")

	_, err := svc.Ask(context.Background(), domain.AskRequest{Question: "a question", SessionID: "s1"})
	require.Error(t, err)

	// nothing was recorded for the failed turn
	detail, err := sessions.Get("s1")
	require.NoError(t, err)
	assert.Empty(t, detail.Messages)
}
