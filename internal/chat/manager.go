// File path: internal/chat/manager.go

// Package chat owns conversation sessions and turn orchestration. A turn
// resolves the session's profile, retrieves context, calls the completion
// provider, and records both sides of the exchange.
package chat

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/crawlchat/crawlchat/internal/common"
	"github.com/crawlchat/crawlchat/internal/fault"
	"github.com/crawlchat/crawlchat/internal/llm/providers"
	"github.com/crawlchat/crawlchat/internal/prefs"
	"github.com/crawlchat/crawlchat/internal/profile"
	"github.com/crawlchat/crawlchat/internal/retrieval"
	"github.com/crawlchat/crawlchat/internal/store"
)

const (
	defaultHistoryWindow = 20
	defaultChatTimeout   = 60 * time.Second

	noContextFound = "No relevant information found."
)

const promptGuidance = `When answering, use the provided context and conversation history.
If the answer is in the context, respond based on that information.
If the answer is not in the context but you can infer it from the conversation history, use that information.
If the answer is not in either, acknowledge that you don't have specific information about that topic,
but you can provide general information if relevant.

When presenting URLs to users, make sure to remove any '#chunk-X' fragments from the URLs to make them cleaner.
For example, change 'https://example.com/page/#chunk-0' to 'https://example.com/page/'.`

const noResultsAddendum = `
No relevant information was found in the database for this query.
You should check if you can answer based on the conversation history.
If not, politely inform the user that you don't have specific information about their query in your database,
but you can try to provide general information if appropriate.`

// Manager drives chat turns. Each session is a serial stream: turns for one
// session_id are processed in arrival order behind a per-session lock, while
// different sessions run in parallel.
type Manager struct {
	store     *store.Store
	engine    *retrieval.Engine
	profiles  *profile.Registry
	chat      providers.ChatProvider
	extractor *prefs.Extractor

	historyWindow int
	chatTimeout   time.Duration

	mu           sync.Mutex
	sessionLocks map[string]*sync.Mutex

	extractions sync.WaitGroup
}

// Option adjusts manager behavior.
type Option func(*Manager)

// WithHistoryWindow bounds how many prior messages feed each completion.
func WithHistoryWindow(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.historyWindow = n
		}
	}
}

// WithChatTimeout bounds each completion call.
func WithChatTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.chatTimeout = d
		}
	}
}

func NewManager(st *store.Store, engine *retrieval.Engine, registry *profile.Registry, chat providers.ChatProvider, extractor *prefs.Extractor, opts ...Option) *Manager {
	m := &Manager{
		store:         st,
		engine:        engine,
		profiles:      registry,
		chat:          chat,
		extractor:     extractor,
		historyWindow: defaultHistoryWindow,
		chatTimeout:   defaultChatTimeout,
		sessionLocks:  make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Request is one user turn.
type Request struct {
	SessionID       string `json:"session_id"`
	UserID          string `json:"user_id"`
	Message         string `json:"message"`
	ProfileOverride string `json:"profile"`
	IncludeContext  bool   `json:"include_context"`
	IncludeHistory  bool   `json:"include_history"`
}

// Response is the assistant's reply plus whatever the caller asked along.
type Response struct {
	SessionID string          `json:"session_id"`
	Profile   string          `json:"profile"`
	Reply     string          `json:"reply"`
	Context   []retrieval.Hit `json:"context,omitempty"`
	History   []store.Message `json:"history,omitempty"`
}

// HandleMessage runs one chat turn end to end. Completion failures surface to
// the caller untried; preference extraction runs after the reply is committed
// and never blocks or fails the response.
func (m *Manager) HandleMessage(ctx context.Context, req Request) (*Response, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, fault.New(fault.KindValidation, "message required")
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}

	lock := m.sessionLock(req.SessionID)
	lock.Lock()
	defer lock.Unlock()

	sess, prof, err := m.resolveSession(ctx, req)
	if err != nil {
		return nil, err
	}

	if _, err := m.store.AppendMessage(ctx, sess.SessionID, "user", req.Message); err != nil {
		return nil, fmt.Errorf("append user message: %w", err)
	}

	hits, err := m.engine.Search(ctx, retrieval.Request{
		Query:     req.Message,
		Threshold: prof.SearchSettings.Threshold,
		Limit:     prof.SearchSettings.Limit,
		Sites:     prof.SearchSettings.Sites,
	})
	if err != nil {
		common.Logger().Warn("chat: retrieval failed, continuing without context",
			"session", sess.SessionID, "error", err)
		hits = nil
	}

	history, err := m.store.History(ctx, sess.SessionID, m.historyWindow)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	messages := m.buildPrompt(prof, history, hits)

	chatCtx, cancel := context.WithTimeout(ctx, m.chatTimeout)
	reply, err := m.chat.Chat(chatCtx, messages)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}

	if _, err := m.store.AppendMessage(ctx, sess.SessionID, "assistant", reply); err != nil {
		return nil, fmt.Errorf("append assistant message: %w", err)
	}
	if err := m.store.TouchSession(ctx, sess.SessionID); err != nil {
		common.Logger().Warn("chat: touch session failed", "session", sess.SessionID, "error", err)
	}

	m.scheduleExtraction(sess.SessionID, req.UserID, req.Message, reply)

	resp := &Response{
		SessionID: sess.SessionID,
		Profile:   prof.Name,
		Reply:     reply,
	}
	if req.IncludeContext {
		resp.Context = hits
	}
	if req.IncludeHistory {
		full, err := m.store.History(ctx, sess.SessionID, 0)
		if err != nil {
			return nil, fmt.Errorf("load history: %w", err)
		}
		resp.History = visibleHistory(full)
	}
	return resp, nil
}

// resolveSession loads or creates the session row and resolves the active
// profile: explicit override beats the stored profile beats the default. An
// unknown override is an error; an unknown stored name falls back to default.
func (m *Manager) resolveSession(ctx context.Context, req Request) (*store.Session, profile.Profile, error) {
	var none profile.Profile

	sess, err := m.store.GetSession(ctx, req.SessionID)
	switch {
	case err == nil:
	case errors.Is(err, sql.ErrNoRows):
		sess = nil
	default:
		return nil, none, fmt.Errorf("load session: %w", err)
	}

	name := profile.DefaultName
	if sess != nil && sess.ActiveProfile != "" {
		name = sess.ActiveProfile
	}
	if req.ProfileOverride != "" {
		name = req.ProfileOverride
	}

	prof, err := m.profiles.Get(name)
	if err != nil {
		if req.ProfileOverride != "" {
			return nil, none, err
		}
		common.Logger().Warn("chat: stored profile not loaded, using default",
			"session", req.SessionID, "profile", name)
		prof, _ = m.profiles.Get(profile.DefaultName)
	}

	if sess == nil {
		sess, err = m.store.CreateSession(ctx, req.SessionID, req.UserID, prof.Name)
		if err != nil {
			return nil, none, fmt.Errorf("create session: %w", err)
		}
		if _, err := m.store.AppendMessage(ctx, sess.SessionID, "system", prof.SystemPrompt); err != nil {
			return nil, none, fmt.Errorf("seed system prompt: %w", err)
		}
		return sess, prof, nil
	}

	if req.ProfileOverride != "" && prof.Name != sess.ActiveProfile {
		if err := m.store.SetSessionProfile(ctx, sess.SessionID, prof.Name); err != nil {
			return nil, none, fmt.Errorf("switch profile: %w", err)
		}
		sess.ActiveProfile = prof.Name
	}
	return sess, prof, nil
}

// buildPrompt lays out the completion input: profile system message (with a
// no-results addendum when retrieval came back empty), the history window
// minus system rows, then the retrieved context as a trailing system message.
// The new user message is already in history at this point.
func (m *Manager) buildPrompt(prof profile.Profile, history []store.Message, hits []retrieval.Hit) []providers.Message {
	system := fmt.Sprintf("You are acting according to this profile: %s\n\n%s\n\n%s",
		prof.Name, prof.SystemPrompt, promptGuidance)
	if len(hits) == 0 {
		system += noResultsAddendum
	}

	messages := []providers.Message{{Role: "system", Content: system}}
	for _, msg := range history {
		if msg.Role == "system" {
			continue
		}
		messages = append(messages, providers.Message{Role: msg.Role, Content: msg.Content})
	}
	messages = append(messages, providers.Message{
		Role:    "system",
		Content: "Context for the current query:\n" + formatContext(hits),
	})
	return messages
}

// formatContext renders hits grouped by site, best match first within each
// group, with chunk fragments stripped from URLs.
func formatContext(hits []retrieval.Hit) string {
	if len(hits) == 0 {
		return noContextFound
	}

	bySite := make(map[string][]retrieval.Hit)
	var order []string
	for _, hit := range hits {
		name := hit.SiteName
		if name == "" {
			name = "Unknown Site"
		}
		if _, ok := bySite[name]; !ok {
			order = append(order, name)
		}
		bySite[name] = append(bySite[name], hit)
	}

	var parts []string
	for _, name := range order {
		group := bySite[name]
		sort.SliceStable(group, func(i, j int) bool { return group[i].Similarity > group[j].Similarity })
		parts = append(parts, fmt.Sprintf("Information from %s:", name))
		for i, hit := range group {
			url := hit.URL
			if idx := strings.Index(url, "#chunk-"); idx >= 0 {
				url = url[:idx]
			}
			parts = append(parts, fmt.Sprintf("Document %d (Similarity: %.4f):\nTitle: %s\nURL: %s\n\nContent:\n%s\n",
				i+1, hit.Similarity, hit.Title, url, hit.Content))
		}
	}
	return strings.Join(parts, "\n---\n")
}

// scheduleExtraction runs preference extraction for the turn off the request
// path. Failures are logged and dropped.
func (m *Manager) scheduleExtraction(sessionID, userID, message, reply string) {
	if m.extractor == nil || userID == "" {
		return
	}
	m.extractions.Add(1)
	go func() {
		defer m.extractions.Done()
		if _, err := m.extractor.ExtractAndMerge(context.Background(), userID, message, reply, sessionID); err != nil {
			common.Logger().Warn("chat: preference extraction failed",
				"session", sessionID, "user", userID, "error", err)
		}
	}()
}

// Wait blocks until all scheduled preference extractions have finished. Used
// on shutdown and in tests.
func (m *Manager) Wait() {
	m.extractions.Wait()
}

// SetProfile switches a session's active profile and seeds a fresh system
// message with the new prompt.
func (m *Manager) SetProfile(ctx context.Context, sessionID, name string) (profile.Profile, error) {
	var none profile.Profile
	prof, err := m.profiles.Get(name)
	if err != nil {
		return none, err
	}

	lock := m.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	if err := m.store.SetSessionProfile(ctx, sessionID, prof.Name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return none, fault.New(fault.KindNotFound, "session %s not found", sessionID)
		}
		return none, fmt.Errorf("switch profile: %w", err)
	}
	if _, err := m.store.AppendMessage(ctx, sessionID, "system", prof.SystemPrompt); err != nil {
		return none, fmt.Errorf("seed system prompt: %w", err)
	}
	return prof, nil
}

// GetHistory returns the session's user and assistant turns in order.
func (m *Manager) GetHistory(ctx context.Context, sessionID string) ([]store.Message, error) {
	if _, err := m.store.GetSession(ctx, sessionID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fault.New(fault.KindNotFound, "session %s not found", sessionID)
		}
		return nil, fmt.Errorf("load session: %w", err)
	}
	history, err := m.store.History(ctx, sessionID, 0)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	return visibleHistory(history), nil
}

// ClearHistory empties the session's messages and re-seeds the active
// profile's system prompt. The session row and its profile survive.
func (m *Manager) ClearHistory(ctx context.Context, sessionID string) error {
	lock := m.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	sess, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fault.New(fault.KindNotFound, "session %s not found", sessionID)
		}
		return fmt.Errorf("load session: %w", err)
	}
	if err := m.store.ClearHistory(ctx, sessionID); err != nil {
		return fmt.Errorf("clear history: %w", err)
	}

	prof, err := m.profiles.Get(sess.ActiveProfile)
	if err != nil {
		prof, _ = m.profiles.Get(profile.DefaultName)
	}
	if _, err := m.store.AppendMessage(ctx, sessionID, "system", prof.SystemPrompt); err != nil {
		return fmt.Errorf("seed system prompt: %w", err)
	}
	return nil
}

// Profiles lists the loaded profiles.
func (m *Manager) Profiles() []profile.Profile {
	return m.profiles.List()
}

func (m *Manager) sessionLock(sessionID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.sessionLocks[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		m.sessionLocks[sessionID] = lock
	}
	return lock
}

func visibleHistory(history []store.Message) []store.Message {
	out := make([]store.Message, 0, len(history))
	for _, msg := range history {
		if msg.Role == "system" {
			continue
		}
		out = append(out, msg)
	}
	return out
}
