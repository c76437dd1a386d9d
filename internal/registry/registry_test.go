package registry

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_RegisterAndRemove(t *testing.T) {
	s := NewStore()

	a := s.Register("10.0.0.1:5000")
	b := s.Register("10.0.0.2:5000")
	assert.NotEqual(t, a.ID(), b.ID())
	assert.Equal(t, 2, s.Len())

	a.Line(true)
	a.Line(false)

	got, ok := s.Get(a.ID())
	require.True(t, ok)
	assert.Equal(t, "10.0.0.1:5000", got.Remote)
	assert.Equal(t, int64(2), got.Lines)
	assert.Equal(t, int64(1), got.Records)
	assert.NotZero(t, got.ConnectedAt)

	s.Remove(a)
	_, ok = s.Get(a.ID())
	assert.False(t, ok)
	assert.Equal(t, 1, s.Len())

	// Removing twice, or nil, is harmless.
	s.Remove(a)
	s.Remove(nil)
	assert.Equal(t, 1, s.Len())
}

func TestStore_ListOrdered(t *testing.T) {
	s := NewStore()
	for _, addr := range []string{"a:1", "b:2", "c:3"} {
		s.Register(addr)
	}

	list := s.List()
	require.Len(t, list, 3)
	assert.Equal(t, "a:1", list[0].Remote)
	assert.Equal(t, "c:3", list[2].Remote)
}

func TestEntry_NilSafe(t *testing.T) {
	var e *Entry
	e.Line(true)
	assert.Zero(t, e.ID())
}

func TestServer_HandleListConnections(t *testing.T) {
	store := NewStore()
	store.Register("127.0.0.1:40000").Line(true)
	server := NewServer(store)

	req := httptest.NewRequest(http.MethodGet, "/api/connections", nil)
	w := httptest.NewRecorder()
	server.HandleListConnections(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var list []Connection
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "127.0.0.1:40000", list[0].Remote)
	assert.Equal(t, int64(1), list[0].Records)

	req = httptest.NewRequest(http.MethodPost, "/api/connections", nil)
	w = httptest.NewRecorder()
	server.HandleListConnections(w, req)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}
