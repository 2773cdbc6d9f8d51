package auth

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// SessionManagerOption customizes SessionManager construction.
type SessionManagerOption func(*SessionManager)

// WithSessionClock injects the clock used for expiry checks (useful for tests).
func WithSessionClock(clock func() time.Time) SessionManagerOption {
	return func(m *SessionManager) {
		if clock != nil {
			m.now = clock
		}
	}
}

// WithSessionLogger overrides the logger used by the SessionManager.
func WithSessionLogger(logger Logger) SessionManagerOption {
	return func(m *SessionManager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// SessionManager owns the process local AuthState. It is the only writer of
// that state and fans out every transition to its subscribers.
//
// Transitions are applied under a lock and queued for delivery in the order
// they happened. The goroutine that finds the queue idle drains it, so a
// subscriber that causes a new transition from within its callback gets that
// transition delivered after the current one finished reaching everyone.
type SessionManager struct {
	provider Provider
	now      func() time.Time
	logger   Logger

	mu          sync.Mutex
	state       AuthState
	expiresAt   int64
	subscribers map[uint64]*subscription
	nextID      uint64
	queue       []delivery
	delivering  bool

	initOnce sync.Once
}

type subscription struct {
	id       uint64
	callback func(AuthState)
	active   atomic.Bool
}

type delivery struct {
	state   AuthState
	targets []*subscription
}

// NewSessionManager returns a SessionManager in the idle state.
func NewSessionManager(provider Provider, opts ...SessionManagerOption) *SessionManager {
	m := &SessionManager{
		provider:    provider,
		now:         time.Now,
		logger:      defLogger{},
		state:       AuthState{Status: StatusIdle},
		subscribers: map[uint64]*subscription{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}

	return m
}

// Initialize resolves the initial state from the provider. It runs once per
// instance: concurrent and later callers wait for and share the first run.
// It never fails, provider errors degrade to unauthenticated.
func (m *SessionManager) Initialize(ctx context.Context) {
	m.initOnce.Do(func() {
		m.initialize(ctx)
	})
}

func (m *SessionManager) initialize(ctx context.Context) {
	started := m.apply(func(current AuthState) (AuthState, int64, bool) {
		if current.Status != StatusIdle {
			return current, 0, false
		}
		return AuthState{Status: StatusLoading}, 0, true
	})

	if !started {
		m.logger.Debug("session initialize skipped, state already %s", m.State().Status)
		return
	}

	next := AuthState{Status: StatusUnauthenticated}
	var expiresAt int64

	result := m.lookupSession(ctx)
	switch {
	case !result.Success:
		m.logger.Warn("session initialize failed, continuing unauthenticated: %s", result.Error.Error())
	case result.Data == nil:
		m.logger.Debug("session initialize found no session")
	case !validSession(*result.Data):
		m.logger.Warn("session initialize received an incomplete session")
	case result.Data.ExpiredAt(m.now()):
		m.logger.Info("session initialize found an expired session for user %s", result.Data.User.ID)
	default:
		next = stateFromSession(*result.Data)
		expiresAt = result.Data.ExpiresAt
	}

	m.apply(func(current AuthState) (AuthState, int64, bool) {
		// a login or logout raced the lookup, the explicit write wins
		if current.Status != StatusLoading {
			return current, 0, false
		}
		return next, expiresAt, true
	})
}

func (m *SessionManager) lookupSession(ctx context.Context) (result Result[*AuthSession]) {
	if m.provider == nil {
		return Ok[*AuthSession](nil)
	}

	defer func() {
		if r := recover(); r != nil {
			result = Fail[*AuthSession](NewError(CodeUnknown, fmt.Sprintf("provider panic: %v", r)))
		}
	}()

	return m.provider.GetSession(ctx)
}

// SetSession transitions to authenticated with the given session, replacing
// any prior state. Subscribers are notified before SetSession returns unless
// another goroutine is already delivering.
func (m *SessionManager) SetSession(session AuthSession) error {
	if !validSession(session) {
		return ErrInvalidSession
	}

	next := stateFromSession(session)
	m.apply(func(AuthState) (AuthState, int64, bool) {
		return next, session.ExpiresAt, true
	})
	return nil
}

// ClearSession transitions to unauthenticated. It does nothing, and notifies
// nobody, when the state is already unauthenticated.
func (m *SessionManager) ClearSession() {
	m.apply(func(current AuthState) (AuthState, int64, bool) {
		if current.Status == StatusUnauthenticated {
			return current, 0, false
		}
		return AuthState{Status: StatusUnauthenticated}, 0, true
	})
}

// State returns a copy of the current state
func (m *SessionManager) State() AuthState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneState(m.state)
}

// User returns the current user or nil
func (m *SessionManager) User() *AuthUser {
	return m.State().User
}

// AccessToken returns the current access token or an empty string
func (m *SessionManager) AccessToken() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.AccessToken
}

func (m *SessionManager) IsAuthenticated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Status == StatusAuthenticated
}

func (m *SessionManager) IsLoading() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Status == StatusLoading
}

// Expired reports whether the current session is past its expiry according to
// the manager clock. Sessions without a known expiry never expire here.
func (m *SessionManager) Expired() bool {
	m.mu.Lock()
	status, expiresAt := m.state.Status, m.expiresAt
	m.mu.Unlock()

	if status != StatusAuthenticated || expiresAt == 0 {
		return false
	}
	return m.now().Unix() >= expiresAt
}

// Subscribe registers callback for every future transition. The returned
// function removes the subscription and is safe to call more than once.
func (m *SessionManager) Subscribe(callback func(AuthState)) func() {
	if callback == nil {
		return func() {}
	}

	m.mu.Lock()
	m.nextID++
	sub := &subscription{id: m.nextID, callback: callback}
	sub.active.Store(true)
	m.subscribers[sub.id] = sub
	m.mu.Unlock()

	return func() {
		if !sub.active.CompareAndSwap(true, false) {
			return
		}
		m.mu.Lock()
		delete(m.subscribers, sub.id)
		m.mu.Unlock()
	}
}

// apply runs update under the state lock. When update reports a change the new
// state is stored, queued for the current subscribers and delivered.
func (m *SessionManager) apply(update func(current AuthState) (AuthState, int64, bool)) bool {
	m.mu.Lock()
	next, expiresAt, changed := update(m.state)
	if !changed {
		m.mu.Unlock()
		return false
	}

	prev := m.state.Status
	m.state = next
	m.expiresAt = expiresAt
	m.queue = append(m.queue, delivery{
		state:   cloneState(next),
		targets: m.subscriberSnapshot(),
	})

	if m.delivering {
		m.mu.Unlock()
		m.logger.Debug("session transition %s -> %s queued", prev, next.Status)
		return true
	}
	m.delivering = true
	m.mu.Unlock()

	m.logger.Debug("session transition %s -> %s", prev, next.Status)
	m.drain()
	return true
}

func (m *SessionManager) drain() {
	for {
		m.mu.Lock()
		if len(m.queue) == 0 {
			m.delivering = false
			m.mu.Unlock()
			return
		}
		d := m.queue[0]
		m.queue[0] = delivery{}
		m.queue = m.queue[1:]
		m.mu.Unlock()

		for _, sub := range d.targets {
			if !sub.active.Load() {
				continue
			}
			m.notify(sub, d.state)
		}
	}
}

func (m *SessionManager) notify(sub *subscription, state AuthState) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("session subscriber %d panicked: %v", sub.id, r)
		}
	}()
	sub.callback(cloneState(state))
}

// subscriberSnapshot must be called with mu held
func (m *SessionManager) subscriberSnapshot() []*subscription {
	if len(m.subscribers) == 0 {
		return nil
	}
	out := make([]*subscription, 0, len(m.subscribers))
	for _, sub := range m.subscribers {
		out = append(out, sub)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

func validSession(s AuthSession) bool {
	return s.User.ID != "" && s.AccessToken != ""
}

func stateFromSession(s AuthSession) AuthState {
	user := s.User
	return AuthState{
		Status:      StatusAuthenticated,
		User:        &user,
		AccessToken: s.AccessToken,
	}
}

func cloneState(s AuthState) AuthState {
	if s.User != nil {
		user := *s.User
		s.User = &user
	}
	return s
}
