package session

import (
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"docchat/internal/config"
	"docchat/internal/domain"
	"docchat/internal/repository"
)

type entry struct {
	id           string
	title        string
	createdAt    time.Time
	lastActivity time.Time
	messages     []domain.Message
}

// Store keeps conversations in memory and mirrors them to the session
// repository after every mutation. The in-memory map is authoritative;
// a failed persist is logged and serving continues.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*entry
	repo     *repository.SessionRepository
	log      *zap.Logger
	cfg      config.SessionConfig
	now      func() time.Time
}

// NewStore creates an empty session store.
func NewStore(repo *repository.SessionRepository, cfg config.SessionConfig, logger *zap.Logger) *Store {
	return &Store{
		sessions: make(map[string]*entry),
		repo:     repo,
		log:      logger,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Load restores persisted sessions. Called once at startup.
func (s *Store) Load() error {
	records, err := s.repo.LoadAll()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range records {
		s.sessions[rec.ID] = &entry{
			id:           rec.ID,
			title:        rec.Title,
			createdAt:    time.Unix(rec.CreatedAt, 0),
			lastActivity: time.Unix(rec.LastActivity, 0),
			messages:     rec.Messages,
		}
	}
	if len(records) > 0 {
		s.log.Info("sessions restored", zap.Int("count", len(records)))
	}
	return nil
}

// TouchOrCreate refreshes the session's activity time, creating it if absent
// with a title derived from the first question.
func (s *Store) TouchOrCreate(id, firstQuestion string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if e, ok := s.sessions[id]; ok {
		e.lastActivity = now
		return
	}
	s.sessions[id] = &entry{
		id:           id,
		title:        makeTitle(firstQuestion),
		createdAt:    now,
		lastActivity: now,
	}
}

// Append adds a message to a session. The first user message sets the title.
// History is capped at the configured maximum; older messages are dropped.
// The whole store is persisted after every append.
func (s *Store) Append(id string, msg domain.Message) {
	s.mu.Lock()
	e, ok := s.sessions[id]
	if !ok {
		now := s.now()
		e = &entry{id: id, title: "New conversation", createdAt: now, lastActivity: now}
		s.sessions[id] = e
	}
	if msg.Role == domain.RoleUser && len(e.messages) == 0 {
		e.title = makeTitle(msg.Content)
	}
	e.messages = append(e.messages, msg)
	if len(e.messages) > s.cfg.MaxHistoryMessages {
		e.messages = e.messages[len(e.messages)-s.cfg.MaxHistoryMessages:]
	}
	e.lastActivity = s.now()
	records := s.recordsLocked()
	s.mu.Unlock()

	if err := s.repo.SaveAll(records); err != nil {
		s.log.Error("persist sessions failed", zap.Error(err))
	}
}

// History returns a copy of the session's messages.
func (s *Store) History(id string) []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.sessions[id]
	if !ok {
		return nil
	}
	return append([]domain.Message(nil), e.messages...)
}

// BuildPrompt assembles system prompt + history + question for the chat
// model. When the estimated token count exceeds the history budget, only the
// tail of the history is kept; the system prompt and the question always
// survive.
func (s *Store) BuildPrompt(id, systemPrompt, question string) []domain.Message {
	history := s.History(id)

	total := estimateTokens(systemPrompt) + estimateTokens(question)
	for _, m := range history {
		total += estimateTokens(m.Content)
	}
	if total > s.cfg.MaxTokensHistory {
		keep := s.cfg.MaxHistoryMessages / 2
		if len(history) > keep {
			history = history[len(history)-keep:]
		}
		s.log.Debug("history trimmed for token budget",
			zap.String("session_id", id),
			zap.Int("estimated_tokens", total),
		)
	}

	prompt := make([]domain.Message, 0, len(history)+2)
	prompt = append(prompt, domain.Message{Role: domain.RoleSystem, Content: systemPrompt})
	prompt = append(prompt, history...)
	prompt = append(prompt, domain.Message{Role: domain.RoleUser, Content: question})
	return prompt
}

// Sweep expires idle sessions and evicts the oldest beyond the storage cap,
// then persists. Called before each ask and at startup.
func (s *Store) Sweep() {
	s.mu.Lock()

	cutoff := s.now().Add(-time.Duration(s.cfg.TimeoutMinutes) * time.Minute)
	expired := 0
	for id, e := range s.sessions {
		if e.lastActivity.Before(cutoff) {
			delete(s.sessions, id)
			expired++
		}
	}

	evicted := 0
	if len(s.sessions) > s.cfg.MaxStoredSessions {
		ids := make([]string, 0, len(s.sessions))
		for id := range s.sessions {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool {
			return s.sessions[ids[i]].lastActivity.Before(s.sessions[ids[j]].lastActivity)
		})
		for _, id := range ids[:len(s.sessions)-s.cfg.MaxStoredSessions] {
			delete(s.sessions, id)
			evicted++
		}
	}

	records := s.recordsLocked()
	s.mu.Unlock()

	if expired > 0 || evicted > 0 {
		s.log.Info("sessions swept", zap.Int("expired", expired), zap.Int("evicted", evicted))
		if err := s.repo.SaveAll(records); err != nil {
			s.log.Error("persist sessions failed", zap.Error(err))
		}
	}
}

// List summarizes all sessions, most recently active first.
func (s *Store) List() []domain.SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	infos := make([]domain.SessionInfo, 0, len(s.sessions))
	for _, e := range s.sessions {
		infos = append(infos, domain.SessionInfo{
			ID:           e.id,
			Title:        e.title,
			CreatedAt:    e.createdAt.Unix(),
			LastActivity: e.lastActivity.Unix(),
			MessageCount: len(e.messages),
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].LastActivity > infos[j].LastActivity })
	return infos
}

// Get returns a session with its full history and refreshes its activity
// time, so an open conversation does not expire under the reader.
func (s *Store) Get(id string) (*domain.SessionDetail, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.sessions[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	e.lastActivity = s.now()
	return &domain.SessionDetail{
		ID:           e.id,
		Title:        e.title,
		CreatedAt:    e.createdAt.Unix(),
		LastActivity: e.lastActivity.Unix(),
		Messages:     append([]domain.Message(nil), e.messages...),
	}, nil
}

// Delete removes a session and persists.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	if _, ok := s.sessions[id]; !ok {
		s.mu.Unlock()
		return domain.ErrNotFound
	}
	delete(s.sessions, id)
	records := s.recordsLocked()
	s.mu.Unlock()

	if err := s.repo.SaveAll(records); err != nil {
		s.log.Error("persist sessions failed", zap.Error(err))
	}
	return nil
}

// Persist writes the current session set. Used on shutdown.
func (s *Store) Persist() error {
	s.mu.Lock()
	records := s.recordsLocked()
	s.mu.Unlock()
	return s.repo.SaveAll(records)
}

func (s *Store) recordsLocked() []domain.SessionRecord {
	records := make([]domain.SessionRecord, 0, len(s.sessions))
	for _, e := range s.sessions {
		records = append(records, domain.SessionRecord{
			ID:           e.id,
			Title:        e.title,
			CreatedAt:    e.createdAt.Unix(),
			LastActivity: e.lastActivity.Unix(),
			Messages:     e.messages,
		})
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	return records
}

// makeTitle derives a session title from the first question.
func makeTitle(question string) string {
	runes := []rune(strings.TrimSpace(question))
	if len(runes) > 40 {
		return string(runes[:37]) + "..."
	}
	if len(runes) == 0 {
		return "New conversation"
	}
	return string(runes)
}

// estimateTokens approximates token count as word count times 1.3.
func estimateTokens(text string) int {
	return int(float64(len(strings.Fields(text))) * 1.3)
}
