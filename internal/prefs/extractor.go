// File path: internal/prefs/extractor.go
package prefs

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/crawlchat/crawlchat/internal/common"
	"github.com/crawlchat/crawlchat/internal/fault"
	"github.com/crawlchat/crawlchat/internal/llm/providers"
	"github.com/crawlchat/crawlchat/internal/store"
)

const defaultClassifyTimeout = 20 * time.Second

// Extractor proposes preferences from chat turns via the classification
// provider and merges them into the durable store. Merging is serialized per
// (user, type, value) key so the max-confidence rule never loses an update.
type Extractor struct {
	store      *store.Store
	classifier providers.ClassificationProvider
	timeout    time.Duration

	mu       sync.Mutex
	keyLocks map[string]*sync.Mutex
}

type Option func(*Extractor)

// WithClassifyTimeout bounds one classification call.
func WithClassifyTimeout(d time.Duration) Option {
	return func(e *Extractor) {
		if d > 0 {
			e.timeout = d
		}
	}
}

func NewExtractor(st *store.Store, classifier providers.ClassificationProvider, opts ...Option) *Extractor {
	e := &Extractor{
		store:      st,
		classifier: classifier,
		timeout:    defaultClassifyTimeout,
		keyLocks:   make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// ExtractAndMerge classifies one turn and merges every candidate. It is
// invoked as a best-effort side channel: callers log the returned error and
// never surface it to the chat response.
func (e *Extractor) ExtractAndMerge(ctx context.Context, userID, message, reply, sessionID string) ([]store.Preference, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, nil
	}
	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	candidates, err := e.classifier.Classify(callCtx, message, reply)
	if err != nil {
		return nil, err
	}
	merged := make([]store.Preference, 0, len(candidates))
	for _, cand := range candidates {
		pref, err := e.Merge(ctx, userID, cand, sessionID)
		if err != nil {
			common.Logger().Warn("prefs: merge failed", "user", userID, "type", cand.Type, "error", err)
			continue
		}
		merged = append(merged, *pref)
	}
	return merged, nil
}

// Merge applies one candidate: insert when the key is new, otherwise raise
// the stored confidence to max(existing, candidate) and refresh the usage
// metadata. Confidence only strengthens here; lowering trust requires an
// explicit deactivation.
func (e *Extractor) Merge(ctx context.Context, userID string, cand providers.CandidatePreference, sessionID string) (*store.Preference, error) {
	cand.Type = strings.ToLower(strings.TrimSpace(cand.Type))
	cand.Value = strings.TrimSpace(cand.Value)
	if cand.Type == "" || cand.Value == "" {
		return nil, fault.New(fault.KindValidation, "preference type and value required")
	}
	if cand.Confidence < 0 || cand.Confidence > 1 {
		return nil, fault.New(fault.KindValidation, "confidence %v out of range [0,1]", cand.Confidence)
	}
	lock := e.lockFor(userID + "\x00" + cand.Type + "\x00" + cand.Value)
	lock.Lock()
	defer lock.Unlock()

	existing, err := e.store.ActivePreference(ctx, userID, cand.Type, cand.Value)
	switch {
	case err == nil:
		confidence := existing.Confidence
		if cand.Confidence > confidence {
			confidence = cand.Confidence
		}
		if err := e.store.ReinforcePreference(ctx, existing.ID, confidence, cand.Context, sessionID); err != nil {
			return nil, err
		}
		return e.store.PreferenceByID(ctx, existing.ID)
	case errors.Is(err, sql.ErrNoRows):
		now := time.Now().UTC()
		pref := &store.Preference{
			ID:            uuid.NewString(),
			UserID:        userID,
			Type:          cand.Type,
			Value:         cand.Value,
			Context:       cand.Context,
			Confidence:    cand.Confidence,
			LastUsed:      &now,
			SourceSession: sessionID,
		}
		if err := e.store.InsertPreference(ctx, pref); err != nil {
			return nil, err
		}
		return pref, nil
	default:
		return nil, err
	}
}

func (e *Extractor) lockFor(key string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	lock, ok := e.keyLocks[key]
	if !ok {
		lock = &sync.Mutex{}
		e.keyLocks[key] = lock
	}
	return lock
}

// List returns a user's preferences ordered by confidence then recency.
func (e *Extractor) List(ctx context.Context, userID string, activeOnly bool, minConfidence float64, typeFilter string) ([]store.Preference, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fault.New(fault.KindValidation, "user id required")
	}
	if minConfidence < 0 || minConfidence > 1 {
		return nil, fault.New(fault.KindValidation, "min confidence %v out of range [0,1]", minConfidence)
	}
	return e.store.ListPreferences(ctx, userID, activeOnly, minConfidence, typeFilter)
}

// Add stores an explicitly managed preference, using the same merge rule as
// extraction so duplicates reinforce instead of erroring.
func (e *Extractor) Add(ctx context.Context, userID, prefType, prefValue, context_ string, confidence float64) (*store.Preference, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fault.New(fault.KindValidation, "user id required")
	}
	return e.Merge(ctx, userID, providers.CandidatePreference{
		Type:       prefType,
		Value:      prefValue,
		Context:    context_,
		Confidence: confidence,
	}, "")
}

// Deactivate soft-deletes one preference.
func (e *Extractor) Deactivate(ctx context.Context, id string) error {
	if err := e.store.DeactivatePreference(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fault.New(fault.KindNotFound, "preference %s not found", id)
		}
		return err
	}
	return nil
}

// Delete removes one preference permanently.
func (e *Extractor) Delete(ctx context.Context, id string) error {
	if err := e.store.DeletePreference(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fault.New(fault.KindNotFound, "preference %s not found", id)
		}
		return err
	}
	return nil
}

// Clear soft-deletes all of a user's active preferences.
func (e *Extractor) Clear(ctx context.Context, userID string) (int, error) {
	if strings.TrimSpace(userID) == "" {
		return 0, fault.New(fault.KindValidation, "user id required")
	}
	return e.store.ClearPreferences(ctx, userID)
}
