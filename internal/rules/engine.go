// Package rules corrects recurring recognition errors in announcement
// transcripts using a user-editable substitution file.
package rules

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
)

const defaultIterationLimit = 30

// Engine applies the substitutions from one rules file. It is safe for
// concurrent use; Reload swaps the rule set atomically.
type Engine struct {
	path           string
	iterationLimit int

	mu    sync.RWMutex
	rules []rule
}

// NewEngine loads the rules file at path. An empty path or a missing file
// yields an engine that leaves text unchanged.
func NewEngine(path string, iterationLimit int) (*Engine, error) {
	if iterationLimit <= 0 {
		iterationLimit = defaultIterationLimit
	}
	engine := &Engine{path: strings.TrimSpace(path), iterationLimit: iterationLimit}
	if err := engine.Reload(); err != nil {
		return nil, err
	}
	return engine, nil
}

// NewEngineFromText compiles rules held in memory.
func NewEngineFromText(contents string, iterationLimit int) (*Engine, error) {
	if iterationLimit <= 0 {
		iterationLimit = defaultIterationLimit
	}
	parsed, err := parseRules(contents)
	if err != nil {
		return nil, err
	}
	return &Engine{iterationLimit: iterationLimit, rules: parsed}, nil
}

// Path returns the rules file backing the engine.
func (e *Engine) Path() string {
	return e.path
}

// Reload re-reads the rules file. On error the previous rules stay active.
func (e *Engine) Reload() error {
	if e.path == "" {
		return nil
	}

	contents, err := os.ReadFile(e.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			e.swap(nil)
			return nil
		}
		return fmt.Errorf("failed to read rules file %q: %w", e.path, err)
	}

	parsed, err := parseRules(string(contents))
	if err != nil {
		return fmt.Errorf("failed to parse rules file %q: %w", e.path, err)
	}
	e.swap(parsed)
	return nil
}

// Len returns the number of active rules.
func (e *Engine) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.rules)
}

// Apply rewrites text until no rule changes it or the iteration limit is reached.
func (e *Engine) Apply(text string) string {
	e.mu.RLock()
	active := e.rules
	e.mu.RUnlock()

	if len(active) == 0 {
		return text
	}

	for range e.iterationLimit {
		changed := false
		for _, r := range active {
			if next, ok := r.apply(text); ok {
				text = next
				changed = true
			}
		}
		if !changed {
			break
		}
	}
	return text
}

func (e *Engine) swap(next []rule) {
	e.mu.Lock()
	e.rules = next
	e.mu.Unlock()
}
