package client_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
	sessions "github.com/goliatone/go-sessions"
	"github.com/goliatone/go-sessions/client"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAuthServer speaks the authority's JSON envelope and tracks the
// session cookie like the real HTTP surface does.
type fakeAuthServer struct {
	*httptest.Server

	user       *sessions.User
	sessionID  string
	meRequests []*http.Request
}

func newFakeAuthServer(t *testing.T) *fakeAuthServer {
	t.Helper()

	s := &fakeAuthServer{
		user: &sessions.User{
			ID:       uuid.New(),
			Username: "pepe",
			Email:    "pepe@example.com",
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/auth/register", func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]string
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			s.writeError(w, http.StatusBadRequest, "Error parsing body")
			return
		}
		if payload["email"] == "taken@example.com" {
			s.writeError(w, http.StatusConflict, "email already registered")
			return
		}
		s.writeUser(w, http.StatusCreated)
	})
	mux.HandleFunc("/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]string
		_ = json.NewDecoder(r.Body).Decode(&payload)
		if payload["password"] != "secret-password" {
			s.writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		s.sessionID = uuid.NewString()
		http.SetCookie(w, &http.Cookie{
			Name:     "session_id",
			Value:    s.sessionID,
			HttpOnly: true,
			Path:     "/",
		})
		s.writeUser(w, http.StatusOK)
	})
	mux.HandleFunc("/auth/me", func(w http.ResponseWriter, r *http.Request) {
		s.meRequests = append(s.meRequests, r)
		cookie, err := r.Cookie("session_id")
		if err != nil || s.sessionID == "" || cookie.Value != s.sessionID {
			s.writeError(w, http.StatusUnauthorized, "no active session")
			return
		}
		s.writeUser(w, http.StatusOK)
	})
	mux.HandleFunc("/auth/logout", func(w http.ResponseWriter, r *http.Request) {
		s.sessionID = ""
		_ = json.NewEncoder(w).Encode(map[string]any{"success": true})
	})

	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)

	return s
}

func (s *fakeAuthServer) writeUser(w http.ResponseWriter, status int) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success": true,
		"data":    s.user,
	})
}

func (s *fakeAuthServer) writeError(w http.ResponseWriter, status int, message string) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success": false,
		"error":   message,
	})
}

func newTestClient(t *testing.T, server *fakeAuthServer) *client.Client {
	t.Helper()

	c, err := client.NewClient(server.URL)
	require.NoError(t, err)

	return c
}

func TestClientLoginAdoptsIdentity(t *testing.T) {
	server := newFakeAuthServer(t)
	c := newTestClient(t, server)

	user, err := c.Login(context.Background(), "pepe@example.com", "secret-password")
	require.NoError(t, err)
	assert.Equal(t, server.user.ID, user.ID)

	snapshot := c.State().Snapshot()
	assert.True(t, snapshot.IsAuthenticated)
	assert.False(t, snapshot.IsLoading)
	require.NotNil(t, snapshot.User)
	assert.Equal(t, server.user.ID, snapshot.User.ID)
}

func TestClientLoginFailureRecordsMessage(t *testing.T) {
	server := newFakeAuthServer(t)
	c := newTestClient(t, server)

	_, err := c.Login(context.Background(), "pepe@example.com", "wrong-password")
	require.Error(t, err)

	// the snapshot carries the operation-level message, the returned
	// error still has the server's detail
	snapshot := c.State().Snapshot()
	assert.False(t, snapshot.IsAuthenticated)
	assert.Nil(t, snapshot.User)
	assert.Equal(t, "User login failed", snapshot.Error)

	var richErr *goerrors.Error
	require.True(t, goerrors.As(err, &richErr))
	assert.Equal(t, "invalid credentials", richErr.Message)
}

func TestClientSessionCookieRidesAlong(t *testing.T) {
	server := newFakeAuthServer(t)
	c := newTestClient(t, server)

	_, err := c.Login(context.Background(), "pepe@example.com", "secret-password")
	require.NoError(t, err)

	user, err := c.CheckSession(context.Background())
	require.NoError(t, err)
	assert.Equal(t, server.user.ID, user.ID)

	require.NotEmpty(t, server.meRequests)
	assert.Equal(t, "no-cache", server.meRequests[0].Header.Get("Cache-Control"))
}

func TestClientCheckSessionWithoutLogin(t *testing.T) {
	server := newFakeAuthServer(t)
	c := newTestClient(t, server)

	_, err := c.CheckSession(context.Background())
	require.Error(t, err)

	snapshot := c.State().Snapshot()
	assert.False(t, snapshot.IsAuthenticated)
	assert.Equal(t, "Authentication failed", snapshot.Error)
}

func TestClientCheckSessionTimeout(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		_ = json.NewEncoder(w).Encode(map[string]any{"success": true})
	}))
	t.Cleanup(slow.Close)

	c, err := client.NewClient(slow.URL, client.WithTimeout(50*time.Millisecond))
	require.NoError(t, err)

	_, err = c.CheckSession(context.Background())
	require.Error(t, err)

	// a session we cannot confirm counts as no session
	snapshot := c.State().Snapshot()
	assert.False(t, snapshot.IsAuthenticated)
	assert.Equal(t, "Authentication failed", snapshot.Error)
}

func TestClientLogoutClearsState(t *testing.T) {
	server := newFakeAuthServer(t)
	c := newTestClient(t, server)

	_, err := c.Login(context.Background(), "pepe@example.com", "secret-password")
	require.NoError(t, err)

	require.NoError(t, c.Logout(context.Background()))

	snapshot := c.State().Snapshot()
	assert.False(t, snapshot.IsAuthenticated)
	assert.Nil(t, snapshot.User)

	_, err = c.CheckSession(context.Background())
	require.Error(t, err)
}

func TestClientRegisterDoesNotAuthenticate(t *testing.T) {
	server := newFakeAuthServer(t)
	c := newTestClient(t, server)

	user, err := c.Register(context.Background(), client.RegisterInput{
		Email:    "pepe@example.com",
		Password: "secret-password",
	})
	require.NoError(t, err)
	assert.Equal(t, server.user.ID, user.ID)

	// the created account is returned but the caller still has to log in
	snapshot := c.State().Snapshot()
	assert.False(t, snapshot.IsAuthenticated)
	assert.Nil(t, snapshot.User)
	assert.False(t, snapshot.IsLoading)
	assert.Empty(t, snapshot.Error)
}

func TestClientRegisterDuplicate(t *testing.T) {
	server := newFakeAuthServer(t)
	c := newTestClient(t, server)

	_, err := c.Register(context.Background(), client.RegisterInput{
		Email:    "taken@example.com",
		Password: "secret-password",
	})
	require.Error(t, err)

	snapshot := c.State().Snapshot()
	assert.False(t, snapshot.IsAuthenticated)
	assert.Equal(t, "User registration failed", snapshot.Error)
}

func TestClientRegisterFailureKeepsExistingIdentity(t *testing.T) {
	server := newFakeAuthServer(t)
	c := newTestClient(t, server)

	_, err := c.Login(context.Background(), "pepe@example.com", "secret-password")
	require.NoError(t, err)

	// registering a second account fails, the signed-in user survives
	_, err = c.Register(context.Background(), client.RegisterInput{
		Email:    "taken@example.com",
		Password: "secret-password",
	})
	require.Error(t, err)

	snapshot := c.State().Snapshot()
	assert.True(t, snapshot.IsAuthenticated)
	require.NotNil(t, snapshot.User)
	assert.Equal(t, server.user.ID, snapshot.User.ID)
	assert.Equal(t, "User registration failed", snapshot.Error)
}

func TestClientStatePersistsAcrossClients(t *testing.T) {
	server := newFakeAuthServer(t)
	storage := client.NewFileStorage(t.TempDir() + "/user.json")

	first, err := client.NewClient(server.URL, client.WithStateStore(client.NewStateStore(storage)))
	require.NoError(t, err)

	_, err = first.Login(context.Background(), "pepe@example.com", "secret-password")
	require.NoError(t, err)

	// a new process hydrates the optimistic identity from disk
	second, err := client.NewClient(server.URL, client.WithStateStore(client.NewStateStore(storage)))
	require.NoError(t, err)

	snapshot := second.State().Snapshot()
	assert.True(t, snapshot.IsAuthenticated)
	require.NotNil(t, snapshot.User)
	assert.Equal(t, server.user.ID, snapshot.User.ID)
}
