package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"docchat/internal/domain"
	"docchat/internal/llm"
	"docchat/internal/session"
)

const systemPromptTemplate = `You are a helpful assistant that answers questions using only the provided document excerpts.

Rules:
- Answer based only on the excerpts below. If they do not contain the answer, say you do not know.
- Answer in the same language as the question.
- Use Markdown formatting when it helps readability.
- Be concise and cite which source an answer comes from when it matters.

Document excerpts:

%s`

// AskService answers a question against the indexed corpus, threading the
// conversation through the session store.
type AskService struct {
	planner   *Planner
	batcher   *Batcher
	completer llm.Completer
	sessions  *session.Store
	log       *zap.Logger
}

// NewAskService wires question answering over retrieval, the chat model and
// session memory.
func NewAskService(planner *Planner, batcher *Batcher, completer llm.Completer, sessions *session.Store, logger *zap.Logger) *AskService {
	return &AskService{
		planner:   planner,
		batcher:   batcher,
		completer: completer,
		sessions:  sessions,
		log:       logger,
	}
}

// Ask retrieves context for the question, builds the prompt with session
// history and returns the model's answer with its sources. An empty session
// id starts a new conversation.
func (s *AskService) Ask(ctx context.Context, req domain.AskRequest) (*domain.AskResponse, error) {
	s.sessions.Sweep()

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	s.sessions.TouchOrCreate(sessionID, req.Question)

	vectors, err := s.batcher.Embed(ctx, []string{req.Question})
	if err != nil {
		return nil, fmt.Errorf("embed question: %w", err)
	}

	passages, sources, err := s.planner.Retrieve(vectors[0])
	if err != nil {
		return nil, err
	}

	prompt := s.sessions.BuildPrompt(sessionID, buildSystemPrompt(passages), req.Question)
	answer, err := s.completer.Complete(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("generate answer: %w", err)
	}

	s.sessions.Append(sessionID, domain.Message{Role: domain.RoleUser, Content: req.Question})
	s.sessions.Append(sessionID, domain.Message{Role: domain.RoleAssistant, Content: answer})

	s.log.Info("question answered",
		zap.String("session_id", sessionID),
		zap.Int("passages", len(passages)),
		zap.Strings("sources", sources),
	)

	return &domain.AskResponse{
		Answer:    answer,
		Sources:   sources,
		SessionID: sessionID,
	}, nil
}

func buildSystemPrompt(passages []domain.ContextPassage) string {
	blocks := make([]string, len(passages))
	for i, p := range passages {
		blocks[i] = fmt.Sprintf("Excerpt %d (source: %s):\n%s", i+1, p.Label, p.Text)
	}
	return fmt.Sprintf(systemPromptTemplate, strings.Join(blocks, "\n\n"))
}
