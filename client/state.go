package client

import (
	"encoding/json"
	"sync"

	sessions "github.com/goliatone/go-sessions"
)

// Operation names the lifecycle actions the snapshot tracks. The set is
// closed: every state change is attributed to exactly one of these.
type Operation string

const (
	OpRegister     Operation = "register"
	OpLogin        Operation = "login"
	OpCheckSession Operation = "check_session"
	OpLogout       Operation = "logout"
)

// Snapshot is the client's current belief about the session. It is a
// value: mutating a returned snapshot never affects the store.
type Snapshot struct {
	IsAuthenticated bool
	IsLoading       bool
	User            *sessions.User
	Error           string
}

// Listener is notified after every applied transition.
type Listener func(Snapshot)

// StateStore serializes snapshot transitions. Each operation carries a
// version stamp so a resolution that lost a race against a newer
// attempt of the same operation is discarded instead of clobbering it.
type StateStore struct {
	mu        sync.Mutex
	snapshot  Snapshot
	versions  map[Operation]uint64
	storage   Storage
	logger    sessions.Logger
	listeners map[uint64]Listener
	nextSub   uint64
}

type StateStoreOption func(*StateStore)

func WithStateLogger(logger sessions.Logger) StateStoreOption {
	return func(s *StateStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewStateStore builds a store hydrated from storage: a previously
// persisted user yields an optimistic authenticated snapshot that the
// next session check will confirm or tear down.
func NewStateStore(storage Storage, opts ...StateStoreOption) *StateStore {
	if storage == nil {
		storage = NewMemoryStorage()
	}

	s := &StateStore{
		versions:  map[Operation]uint64{},
		storage:   storage,
		logger:    defLogger{},
		listeners: map[uint64]Listener{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	s.hydrate()

	return s
}

func (s *StateStore) hydrate() {
	payload, ok, err := s.storage.Load()
	if err != nil {
		s.logger.Warn("state storage load error: %v", err)
		return
	}

	if !ok {
		return
	}

	user := &sessions.User{}
	if err := json.Unmarshal(payload, user); err != nil {
		s.logger.Warn("state storage payload corrupt, discarding: %v", err)
		if err := s.storage.Clear(); err != nil {
			s.logger.Warn("state storage clear error: %v", err)
		}
		return
	}

	s.snapshot = Snapshot{
		IsAuthenticated: true,
		User:            user,
	}
}

// Snapshot returns the current state.
func (s *StateStore) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot
}

// Subscribe registers a listener, returning an unsubscribe function.
// Listeners run synchronously while the store lock is held, keep them
// short.
func (s *StateStore) Subscribe(fn Listener) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSub
	s.nextSub++
	s.listeners[id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

// Begin marks an operation pending and returns the version stamp that
// must accompany its resolution.
func (s *StateStore) Begin(op Operation) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.versions[op]++
	s.snapshot.IsLoading = true
	s.snapshot.Error = ""
	s.notify()

	return s.versions[op]
}

// Fulfill resolves a pending operation with an authenticated user.
// Stale versions are discarded.
func (s *StateStore) Fulfill(op Operation, version uint64, user *sessions.User) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if version != s.versions[op] {
		return
	}

	s.snapshot.IsLoading = false

	switch op {
	case OpLogout:
		s.snapshot.IsAuthenticated = false
		s.snapshot.User = nil
		s.snapshot.Error = ""
		s.clearStorage()
	case OpRegister:
		// registration does not log the user in, the belief stays as-is
		s.snapshot.Error = ""
	default:
		s.snapshot.IsAuthenticated = true
		s.snapshot.User = user
		s.snapshot.Error = ""
		s.persistUser(user)
	}

	s.notify()
}

// Reject resolves a pending operation with a failure. A failed login or
// session check tears down the local belief; a failed logout keeps the
// current user since the session may still be live on the server, and a
// failed registration never touches whoever is signed in.
func (s *StateStore) Reject(op Operation, version uint64, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if version != s.versions[op] {
		return
	}

	s.snapshot.IsLoading = false
	s.snapshot.Error = message

	if op != OpLogout && op != OpRegister {
		s.snapshot.IsAuthenticated = false
		s.snapshot.User = nil
		s.clearStorage()
	}

	s.notify()
}

func (s *StateStore) persistUser(user *sessions.User) {
	if user == nil {
		s.clearStorage()
		return
	}

	payload, err := json.Marshal(user)
	if err != nil {
		s.logger.Warn("state storage marshal error: %v", err)
		return
	}

	if err := s.storage.Save(payload); err != nil {
		s.logger.Warn("state storage save error: %v", err)
	}
}

func (s *StateStore) clearStorage() {
	if err := s.storage.Clear(); err != nil {
		s.logger.Warn("state storage clear error: %v", err)
	}
}

func (s *StateStore) notify() {
	for _, fn := range s.listeners {
		fn(s.snapshot)
	}
}
