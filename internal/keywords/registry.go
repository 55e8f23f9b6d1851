// Package keywords keeps the session-scoped keyword list in sync with the
// backend and provides the matching rules used to highlight announcements.
package keywords

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"stationear/internal/domain"
	"stationear/internal/ports"
)

var ErrEmptyKeyword = errors.New("keyword text is empty")

// Registry mirrors the backend keyword list for one session at a time.
type Registry struct {
	backend  ports.KeywordBackend
	cache    ports.KeywordCache
	defaults []string
	logger   *slog.Logger

	mu        sync.Mutex
	sessionID domain.SessionID
	keywords  []domain.Keyword
	seeded    map[domain.SessionID]bool
}

// NewRegistry builds a registry. cache may be nil; defaults seed sessions that have no keywords anywhere.
func NewRegistry(backend ports.KeywordBackend, cache ports.KeywordCache, defaults []string, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		backend:  backend,
		cache:    cache,
		defaults: slices.Clone(defaults),
		logger:   logger.With("component", "keywords"),
		seeded:   make(map[domain.SessionID]bool),
	}
}

// List refreshes the keyword list for id from the backend. Switching to a new
// id drops the previous session's keywords before anything is fetched.
func (r *Registry) List(ctx context.Context, id domain.SessionID) ([]domain.Keyword, error) {
	r.scope(id)
	if id.IsZero() {
		return nil, nil
	}

	remote, err := r.backend.ListKeywords(ctx, id)
	if err != nil {
		cached, cacheErr := r.loadCache(ctx, id)
		if cacheErr != nil || len(cached) == 0 {
			return nil, fmt.Errorf("list keywords: %w", err)
		}
		r.logger.Warn("serving cached keywords", "session_id", id, "error", err)
		return r.apply(id, cached), nil
	}

	if len(remote) == 0 && r.shouldSeed(ctx, id) {
		if err := r.backend.RegisterKeywords(ctx, id, r.defaults); err != nil {
			r.logger.Warn("seed default keywords failed", "session_id", id, "error", err)
		} else if remote, err = r.backend.ListKeywords(ctx, id); err != nil {
			return nil, fmt.Errorf("list keywords: %w", err)
		}
	}

	keywords := r.apply(id, remote)
	r.saveCache(ctx, id, keywords)
	return keywords, nil
}

// Add registers text for id and returns the refreshed list. A keyword already
// present (ignoring case) is not registered again; it moves to the front instead.
func (r *Registry) Add(ctx context.Context, id domain.SessionID, text string) ([]domain.Keyword, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyKeyword
	}
	if id.IsZero() {
		return nil, errors.New("add keyword: no session")
	}
	r.scope(id)

	if promoted, ok := r.promote(id, text); ok {
		r.saveCache(ctx, id, promoted)
		return promoted, nil
	}
	if err := r.backend.RegisterKeywords(ctx, id, []string{text}); err != nil {
		return nil, fmt.Errorf("register keyword: %w", err)
	}
	return r.List(ctx, id)
}

// Remove deletes keyword from id. Keywords without a server id are dropped locally only.
func (r *Registry) Remove(ctx context.Context, id domain.SessionID, keyword domain.Keyword) ([]domain.Keyword, error) {
	r.scope(id)

	if keyword.ID == nil {
		r.logger.Info("keyword has no server id, skipping server delete", "session_id", id, "keyword", keyword.Text)
	} else if err := r.backend.DeleteKeyword(ctx, *keyword.ID); err != nil {
		return nil, fmt.Errorf("delete keyword: %w", err)
	}

	r.mu.Lock()
	if r.sessionID != id {
		r.mu.Unlock()
		return nil, nil
	}
	r.keywords = slices.DeleteFunc(r.keywords, func(existing domain.Keyword) bool {
		if keyword.ID != nil {
			return existing.ID != nil && *existing.ID == *keyword.ID
		}
		return existing.ID == nil && existing.Text == keyword.Text
	})
	remaining := slices.Clone(r.keywords)
	r.mu.Unlock()

	r.saveCache(ctx, id, remaining)
	return remaining, nil
}

// Current returns a copy of the locally held keywords.
func (r *Registry) Current() []domain.Keyword {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.keywords)
}

// Texts returns the keyword texts in list order; this is what session replacement carries over.
func (r *Registry) Texts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	texts := make([]string, 0, len(r.keywords))
	for _, keyword := range r.keywords {
		texts = append(texts, keyword.Text)
	}
	return texts
}

// SessionID returns the session the local list belongs to.
func (r *Registry) SessionID() domain.SessionID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessionID
}

func (r *Registry) scope(id domain.SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessionID != id {
		r.sessionID = id
		r.keywords = nil
	}
}

// apply stores keywords if id is still the scoped session.
func (r *Registry) apply(id domain.SessionID, keywords []domain.Keyword) []domain.Keyword {
	scoped := make([]domain.Keyword, 0, len(keywords))
	for _, keyword := range keywords {
		keyword.SessionID = id
		scoped = append(scoped, keyword)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessionID == id {
		r.keywords = scoped
	}
	return slices.Clone(scoped)
}

// promote moves the entry matching text (ignoring case) to the front of the list.
func (r *Registry) promote(id domain.SessionID, text string) ([]domain.Keyword, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessionID != id {
		return nil, false
	}
	index := slices.IndexFunc(r.keywords, func(existing domain.Keyword) bool {
		return strings.EqualFold(existing.Text, text)
	})
	if index < 0 {
		return nil, false
	}
	existing := r.keywords[index]
	r.keywords = slices.Insert(slices.Delete(r.keywords, index, index+1), 0, existing)
	return slices.Clone(r.keywords), true
}

func (r *Registry) shouldSeed(ctx context.Context, id domain.SessionID) bool {
	if len(r.defaults) == 0 {
		return false
	}
	r.mu.Lock()
	if r.seeded[id] {
		r.mu.Unlock()
		return false
	}
	r.seeded[id] = true
	r.mu.Unlock()

	cached, err := r.loadCache(ctx, id)
	return err == nil && len(cached) == 0
}

func (r *Registry) loadCache(ctx context.Context, id domain.SessionID) ([]domain.Keyword, error) {
	if r.cache == nil {
		return nil, nil
	}
	return r.cache.LoadKeywords(ctx, id)
}

func (r *Registry) saveCache(ctx context.Context, id domain.SessionID, keywords []domain.Keyword) {
	if r.cache == nil {
		return
	}
	if err := r.cache.SaveKeywords(ctx, id, keywords); err != nil {
		r.logger.Warn("cache keywords failed", "session_id", id, "error", err)
	}
}
