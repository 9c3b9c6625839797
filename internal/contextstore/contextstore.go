// ABOUTME: Thread-safe TTL store for per-customer conversational context
// ABOUTME: Expired entries are logically absent; reads past expiry produce a fresh context

package contextstore

import (
	"hash/fnv"
	"log/slog"
	"sync"
	"time"
)

// Conversation stage constants
const (
	StageGreeting       = "greeting"
	StagePricingInquiry = "pricing_inquiry"
	StageSupportRequest = "support_request"
	StageInfoRequest    = "info_request"
	StageClosing        = "closing"
	StageGeneral        = "general"
)

// DefaultTTL is the context lifetime when none is configured.
const DefaultTTL = 2 * time.Hour

// lockShards is the size of the per-key mutex table.
const lockShards = 64

// Context is the conversational state kept per customer key. At most one live
// context exists per key; a context read past ExpiresAt is never reused.
type Context struct {
	CustomerKey         string
	Stage               string
	BotResponseCount    int
	EscalationRequested bool
	EscalationReason    string
	LastUserMessage     string
	LastBotResponse     string
	LastUpdated         time.Time
	ExpiresAt           time.Time
}

// Update carries a partial context change. Nil fields are left untouched;
// every applied update bumps LastUpdated and ExpiresAt.
type Update struct {
	Stage               *string
	BotResponseCount    *int
	EscalationRequested *bool
	EscalationReason    *string
	LastUserMessage     *string
	LastBotResponse     *string
}

// Store holds per-customer contexts with absolute TTL expiry.
type Store struct {
	mu       sync.RWMutex
	contexts map[string]*Context
	ttl      time.Duration
	now      func() time.Time
	logger   *slog.Logger

	// keyLocks serializes read-modify-write turns for the same customer key
	// without blocking unrelated customers.
	keyLocks [lockShards]sync.Mutex
}

// New creates a context store with the given TTL. Pass 0 for the default TTL
// and nil for the default logger.
func New(ttl time.Duration, logger *slog.Logger) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		contexts: make(map[string]*Context),
		ttl:      ttl,
		now:      time.Now,
		logger:   logger.With("component", "contextstore"),
	}
}

// LockKey acquires the per-key mutex for a customer key and returns the
// unlock function. Calls for different keys proceed in parallel; calls for
// the same key are serialized.
func (s *Store) LockKey(key string) func() {
	shard := &s.keyLocks[shardIndex(key)]
	shard.Lock()
	return shard.Unlock
}

func shardIndex(key string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(key))
	return h.Sum32() % lockShards
}

// Get returns the live context for a customer key. If none exists, or the
// stored one has expired, a fresh default context (stage greeting, zero
// counts) is created and returned. A stale context is never returned.
func (s *Store) Get(key string) *Context {
	now := s.now()

	s.mu.RLock()
	ctx, ok := s.contexts[key]
	s.mu.RUnlock()

	if ok && ctx.ExpiresAt.After(now) {
		return copyContext(ctx)
	}

	fresh := &Context{
		CustomerKey: key,
		Stage:       StageGreeting,
		LastUpdated: now,
		ExpiresAt:   now.Add(s.ttl),
	}

	s.mu.Lock()
	// Re-check under the write lock; another goroutine may have refreshed it
	if cur, ok := s.contexts[key]; ok && cur.ExpiresAt.After(now) {
		s.mu.Unlock()
		return copyContext(cur)
	}
	s.contexts[key] = fresh
	s.mu.Unlock()

	return copyContext(fresh)
}

// Update merges the given partial update into the context for key, creating
// a fresh context first if the stored one is absent or expired. LastUpdated
// and ExpiresAt are always refreshed.
func (s *Store) Update(key string, upd Update) *Context {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, ok := s.contexts[key]
	if !ok || !ctx.ExpiresAt.After(now) {
		ctx = &Context{
			CustomerKey: key,
			Stage:       StageGreeting,
		}
		s.contexts[key] = ctx
	}

	if upd.Stage != nil {
		ctx.Stage = *upd.Stage
	}
	if upd.BotResponseCount != nil {
		ctx.BotResponseCount = *upd.BotResponseCount
	}
	if upd.EscalationRequested != nil {
		ctx.EscalationRequested = *upd.EscalationRequested
	}
	if upd.EscalationReason != nil {
		ctx.EscalationReason = *upd.EscalationReason
	}
	if upd.LastUserMessage != nil {
		ctx.LastUserMessage = *upd.LastUserMessage
	}
	if upd.LastBotResponse != nil {
		ctx.LastBotResponse = *upd.LastBotResponse
	}

	ctx.LastUpdated = now
	ctx.ExpiresAt = now.Add(s.ttl)

	return copyContext(ctx)
}

// Clear removes the context for a customer key.
func (s *Store) Clear(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.contexts, key)
}

// SweepExpired deletes every context whose expiry has passed and returns the
// number removed. Safe to call concurrently with Get/Update.
func (s *Store) SweepExpired() int {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, ctx := range s.contexts {
		if !ctx.ExpiresAt.After(now) {
			delete(s.contexts, key)
			removed++
		}
	}

	if removed > 0 {
		s.logger.Debug("swept expired contexts", "removed", removed, "remaining", len(s.contexts))
	}
	return removed
}

// Len returns the number of stored contexts, expired or not.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.contexts)
}

func copyContext(ctx *Context) *Context {
	cp := *ctx
	return &cp
}
