package sessions_test

import (
	"context"
	"database/sql"
	"io"
	"mime/multipart"
	"sync"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/goliatone/go-router"
	sessions "github.com/goliatone/go-sessions"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/uptrace/bun"
)

// memoryUsers is an in-memory Users implementation. Tx variants ignore
// the handle; everything runs against the same maps.
type memoryUsers struct {
	mu      sync.Mutex
	byID    map[uuid.UUID]*sessions.User
	byEmail map[string]*sessions.User
}

func newMemoryUsers() *memoryUsers {
	return &memoryUsers{
		byID:    map[uuid.UUID]*sessions.User{},
		byEmail: map[string]*sessions.User{},
	}
}

func (m *memoryUsers) GetByEmail(ctx context.Context, email string) (*sessions.User, error) {
	return m.GetByEmailTx(ctx, nil, email)
}

func (m *memoryUsers) GetByEmailTx(_ context.Context, _ bun.IDB, email string) (*sessions.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.byEmail[sessions.NormalizeEmail(email)]
	if !ok {
		return nil, repository.NewRecordNotFound()
	}

	clone := *user
	return &clone, nil
}

func (m *memoryUsers) GetByIDTx(ctx context.Context, _ bun.IDB, id uuid.UUID) (*sessions.User, error) {
	return m.GetByID(ctx, id)
}

func (m *memoryUsers) GetByID(_ context.Context, id uuid.UUID) (*sessions.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.byID[id]
	if !ok {
		return nil, repository.NewRecordNotFound()
	}

	clone := *user
	return &clone, nil
}

func (m *memoryUsers) Create(ctx context.Context, user *sessions.User) (*sessions.User, error) {
	return m.CreateTx(ctx, nil, user)
}

func (m *memoryUsers) CreateTx(_ context.Context, _ bun.IDB, record *sessions.User, _ ...repository.InsertCriteria) (*sessions.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}

	clone := *record
	m.byID[record.ID] = &clone
	m.byEmail[sessions.NormalizeEmail(record.Email)] = &clone

	return record, nil
}

func (m *memoryUsers) MarkVerified(ctx context.Context, id uuid.UUID) error {
	return m.MarkVerifiedTx(ctx, nil, id)
}

func (m *memoryUsers) MarkVerifiedTx(_ context.Context, _ bun.IDB, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.byID[id]
	if !ok {
		return repository.NewRecordNotFound()
	}
	user.EmailVerified = true

	return nil
}

func (m *memoryUsers) ResetPassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	return m.ResetPasswordTx(ctx, nil, id, passwordHash)
}

func (m *memoryUsers) ResetPasswordTx(_ context.Context, _ bun.IDB, id uuid.UUID, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.byID[id]
	if !ok {
		return repository.NewRecordNotFound()
	}
	user.PasswordHash = passwordHash
	user.EmailVerified = true

	return nil
}

func (m *memoryUsers) TrackAttemptedLogin(ctx context.Context, user *sessions.User) error {
	return m.TrackAttemptedLoginTx(ctx, nil, user)
}

func (m *memoryUsers) TrackAttemptedLoginTx(_ context.Context, _ bun.IDB, user *sessions.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.byID[user.ID]
	if !ok {
		return repository.NewRecordNotFound()
	}

	now := time.Now()
	stored.LoginAttempts++
	stored.LoginAttemptAt = &now

	return nil
}

func (m *memoryUsers) TrackSuccessfulLogin(ctx context.Context, user *sessions.User) error {
	return m.TrackSuccessfulLoginTx(ctx, nil, user)
}

func (m *memoryUsers) TrackSuccessfulLoginTx(_ context.Context, _ bun.IDB, user *sessions.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.byID[user.ID]
	if !ok {
		return repository.NewRecordNotFound()
	}

	now := time.Now()
	stored.LoginAttempts = 0
	stored.LoginAttemptAt = nil
	stored.LoggedInAt = &now

	return nil
}

// memorySessions is an in-memory Sessions implementation.
type memorySessions struct {
	mu      sync.Mutex
	records map[uuid.UUID]*sessions.Session
}

func newMemorySessions() *memorySessions {
	return &memorySessions{records: map[uuid.UUID]*sessions.Session{}}
}

func (m *memorySessions) Create(ctx context.Context, record *sessions.Session) (*sessions.Session, error) {
	return m.CreateTx(ctx, nil, record)
}

func (m *memorySessions) CreateTx(_ context.Context, _ bun.IDB, record *sessions.Session, _ ...repository.InsertCriteria) (*sessions.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	clone := *record
	m.records[record.ID] = &clone

	return record, nil
}

func (m *memorySessions) Get(_ context.Context, id uuid.UUID) (*sessions.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.records[id]
	if !ok {
		return nil, repository.NewRecordNotFound()
	}

	clone := *record
	return &clone, nil
}

func (m *memorySessions) Revoke(ctx context.Context, id uuid.UUID, at time.Time) error {
	return m.RevokeTx(ctx, nil, id, at)
}

func (m *memorySessions) RevokeTx(_ context.Context, _ bun.IDB, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.records[id]
	if !ok || record.Revoked {
		return nil
	}

	record.Revoked = true
	record.RevokedAt = &at

	return nil
}

// memoryArtifacts is an in-memory Artifacts implementation with the same
// single-winner consume semantics as the SQL version.
type memoryArtifacts struct {
	mu      sync.Mutex
	records map[uuid.UUID]*sessions.VerificationArtifact
}

func newMemoryArtifacts() *memoryArtifacts {
	return &memoryArtifacts{records: map[uuid.UUID]*sessions.VerificationArtifact{}}
}

func (m *memoryArtifacts) Create(ctx context.Context, record *sessions.VerificationArtifact) (*sessions.VerificationArtifact, error) {
	return m.CreateTx(ctx, nil, record)
}

func (m *memoryArtifacts) CreateTx(_ context.Context, _ bun.IDB, record *sessions.VerificationArtifact, _ ...repository.InsertCriteria) (*sessions.VerificationArtifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	clone := *record
	m.records[record.ID] = &clone

	return record, nil
}

func (m *memoryArtifacts) Get(_ context.Context, id uuid.UUID) (*sessions.VerificationArtifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.records[id]
	if !ok {
		return nil, sessions.ErrArtifactNotFound
	}

	clone := *record
	return &clone, nil
}

func (m *memoryArtifacts) Consume(ctx context.Context, id uuid.UUID, now time.Time) (*sessions.VerificationArtifact, error) {
	return m.ConsumeTx(ctx, nil, id, now)
}

func (m *memoryArtifacts) ConsumeTx(_ context.Context, _ bun.IDB, id uuid.UUID, now time.Time) (*sessions.VerificationArtifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.records[id]
	if !ok {
		return nil, sessions.ErrArtifactNotFound
	}

	if record.Expired(now) {
		return nil, sessions.ErrArtifactExpired
	}

	if record.Consumed {
		return nil, sessions.ErrArtifactConsumed
	}

	record.Consumed = true
	record.ConsumedAt = &now

	clone := *record
	return &clone, nil
}

// noopLogger keeps test output clean when a failure path logs.
type noopLogger struct{}

func (noopLogger) Debug(format string, args ...any) {}
func (noopLogger) Info(format string, args ...any)  {}
func (noopLogger) Warn(format string, args ...any)  {}
func (noopLogger) Error(format string, args ...any) {}

// memoryRepoManager wires the in-memory stores into the RepositoryManager
// surface. RunInTx just runs the function, there is no real transaction.
type memoryRepoManager struct {
	users     *memoryUsers
	sessions  *memorySessions
	artifacts *memoryArtifacts
}

func newMemoryRepoManager() *memoryRepoManager {
	return &memoryRepoManager{
		users:     newMemoryUsers(),
		sessions:  newMemorySessions(),
		artifacts: newMemoryArtifacts(),
	}
}

func (m *memoryRepoManager) Validate() error { return nil }

func (m *memoryRepoManager) MustValidate() {}

func (m *memoryRepoManager) RunInTx(ctx context.Context, _ *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	return f(ctx, bun.Tx{})
}

func (m *memoryRepoManager) Users() sessions.Users { return m.users }

func (m *memoryRepoManager) Sessions() sessions.Sessions { return m.sessions }

func (m *memoryRepoManager) Artifacts() sessions.Artifacts { return m.artifacts }

// recordingSink collects activity events.
type recordingSink struct {
	mu     sync.Mutex
	events []sessions.ActivityEvent
}

func (s *recordingSink) Record(_ context.Context, event sessions.ActivityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) Events() []sessions.ActivityEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]sessions.ActivityEvent, len(s.events))
	copy(out, s.events)
	return out
}

// MockContext mocks router.Context for controller tests.
type MockContext struct {
	mock.Mock
	NextCalled bool
}

func (m *MockContext) Next() error {
	m.NextCalled = true
	return nil
}

func (m *MockContext) Context() context.Context {
	args := m.Called()
	c, ok := args.Get(0).(context.Context)
	if !ok {
		panic("arg needs to be context.Context")
	}
	return c
}

func (m *MockContext) SetContext(ctx context.Context) {
	m.Called(ctx)
}

func (m *MockContext) Path() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockContext) Method() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockContext) Body() []byte {
	args := m.Called()
	return args.Get(0).([]byte)
}

func (m *MockContext) Status(code int) router.Context {
	m.Called(code)
	return m
}

func (m *MockContext) SendString(s string) error {
	args := m.Called(s)
	return args.Error(0)
}

func (m *MockContext) Send(b []byte) error {
	args := m.Called(b)
	return args.Error(0)
}

func (m *MockContext) JSON(code int, val any) error {
	args := m.Called(code, val)
	return args.Error(0)
}

func (m *MockContext) NoContent(code int) error {
	args := m.Called(code)
	return args.Error(0)
}

func (m *MockContext) Render(name string, bind any, layout ...string) error {
	if len(layout) > 0 {
		args := m.Called(name, bind, layout[0])
		return args.Error(0)
	}
	args := m.Called(name, bind)
	return args.Error(0)
}

func (m *MockContext) Redirect(path string, status ...int) error {
	if len(status) > 0 {
		args := m.Called(path, status)
		return args.Error(0)
	}
	args := m.Called(path)
	return args.Error(0)
}

func (m *MockContext) RedirectToRoute(name string, data router.ViewContext, status ...int) error {
	if len(status) > 0 {
		args := m.Called(name, data, status[0])
		return args.Error(0)
	}
	args := m.Called(name, data)
	return args.Error(0)
}

func (m *MockContext) RedirectBack(fallback string, status ...int) error {
	if len(status) > 0 {
		args := m.Called(fallback, status)
		return args.Error(0)
	}
	args := m.Called(fallback)
	return args.Error(0)
}

func (m *MockContext) SetHeader(key, val string) router.Context {
	m.Called(key, val)
	return m
}

func (m *MockContext) Header(key string) string {
	args := m.Called(key)
	return args.String(0)
}

func (m *MockContext) Get(key string, defaultValue any) any {
	args := m.Called(key, defaultValue)
	return args.Get(0)
}

func (m *MockContext) GetBool(key string, defaultValue bool) bool {
	args := m.Called(key, defaultValue)
	return args.Bool(0)
}

func (m *MockContext) GetInt(key string, def int) int {
	args := m.Called(key, def)
	return args.Int(0)
}

func (m *MockContext) Set(key string, val any) {
	m.Called(key, val)
}

func (m *MockContext) Bind(i any) error {
	args := m.Called(i)
	return args.Error(0)
}

func (m *MockContext) BindJSON(i any) error {
	args := m.Called(i)
	return args.Error(0)
}

func (m *MockContext) BindXML(i any) error {
	args := m.Called(i)
	return args.Error(0)
}

func (m *MockContext) BindQuery(i any) error {
	args := m.Called(i)
	return args.Error(0)
}

func (m *MockContext) CookieParser(i any) error {
	args := m.Called(i)
	return args.Error(0)
}

func (m *MockContext) Cookie(cookie *router.Cookie) {
	m.Called(cookie)
}

func (m *MockContext) Cookies(key string, defaultValue ...string) string {
	if len(defaultValue) > 0 {
		args := m.Called(key, defaultValue[0])
		return args.String(0)
	}
	args := m.Called(key)
	return args.String(0)
}

func (m *MockContext) Param(key string, defaultValue ...string) string {
	if len(defaultValue) > 0 {
		args := m.Called(key, defaultValue[0])
		return args.String(0)
	}
	args := m.Called(key)
	return args.String(0)
}

func (m *MockContext) ParamsInt(key string, defaultValue int) int {
	args := m.Called(key, defaultValue)
	return args.Int(0)
}

func (m *MockContext) Query(key string, defaultValue ...string) string {
	if len(defaultValue) > 0 {
		args := m.Called(key, defaultValue[0])
		return args.String(0)
	}
	args := m.Called(key)
	return args.String(0)
}

func (m *MockContext) QueryInt(key string, defaultValue int) int {
	args := m.Called(key, defaultValue)
	return args.Int(0)
}

func (m *MockContext) Queries() map[string]string {
	args := m.Called()
	return args.Get(0).(map[string]string)
}

func (m *MockContext) GetString(key string, defaultValue string) string {
	args := m.Called(key, defaultValue)
	return args.String(0)
}

func (m *MockContext) Locals(key any, value ...any) any {
	if len(value) > 0 {
		m.Called(key, value[0])
		return nil
	}
	args := m.Called(key)
	return args.Get(0)
}

func (m *MockContext) OriginalURL() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockContext) OnNext(callback func() error) {
	m.Called(callback)
}

func (m *MockContext) Referer() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockContext) QueryValues(name string) []string {
	args := m.Called(name)
	vals, _ := args.Get(0).([]string)
	return vals
}

func (m *MockContext) LocalsMerge(key any, value map[string]any) map[string]any {
	args := m.Called(key, value)
	merged, _ := args.Get(0).(map[string]any)
	return merged
}

func (m *MockContext) FormFile(key string) (*multipart.FileHeader, error) {
	args := m.Called(key)
	header, _ := args.Get(0).(*multipart.FileHeader)
	return header, args.Error(1)
}

func (m *MockContext) FormValue(key string, defaultValue ...string) string {
	if len(defaultValue) > 0 {
		args := m.Called(key, defaultValue[0])
		return args.String(0)
	}
	args := m.Called(key)
	return args.String(0)
}

func (m *MockContext) IP() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockContext) SendStatus(code int) error {
	args := m.Called(code)
	return args.Error(0)
}

func (m *MockContext) SendStream(r io.Reader) error {
	args := m.Called(r)
	return args.Error(0)
}

func (m *MockContext) RouteName() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockContext) RouteParams() map[string]string {
	args := m.Called()
	params, _ := args.Get(0).(map[string]string)
	return params
}
