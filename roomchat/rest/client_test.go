package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRoomServer(t *testing.T) *httptest.Server {
	t.Helper()
	var mu sync.Mutex
	rooms := []Room{{RoomID: "r-1", Name: "general"}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		if r.URL.Path != "/chat" {
			http.NotFound(w, r)
			return
		}
		switch r.Method {
		case http.MethodGet:
			_ = json.NewEncoder(w).Encode(rooms)
		case http.MethodPost:
			name := r.URL.Query().Get("name")
			if name == "taken" {
				w.WriteHeader(http.StatusConflict)
				_ = json.NewEncoder(w).Encode(ErrorResponse{Error: "room exists"})
				return
			}
			room := Room{RoomID: "r-" + name, Name: name}
			rooms = append(rooms, room)
			_ = json.NewEncoder(w).Encode(room)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestListAndCreateRooms(t *testing.T) {
	srv := newRoomServer(t)
	c := NewClient(srv.URL + "/")
	ctx := context.Background()

	rooms, err := c.ListRooms(ctx)
	require.NoError(t, err)
	assert.Equal(t, []Room{{RoomID: "r-1", Name: "general"}}, rooms)

	room, err := c.CreateRoom(ctx, "  random talk ")
	require.NoError(t, err)
	assert.Equal(t, &Room{RoomID: "r-random talk", Name: "random talk"}, room)

	rooms, err = c.ListRooms(ctx)
	require.NoError(t, err)
	assert.Len(t, rooms, 2)
}

func TestCreateRoomRejectsBlankName(t *testing.T) {
	c := NewClient("http://127.0.0.1:0")
	_, err := c.CreateRoom(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyRoomName)
}

func TestAPIError(t *testing.T) {
	srv := newRoomServer(t)
	c := NewClient(srv.URL)

	_, err := c.CreateRoom(context.Background(), "taken")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	assert.Equal(t, "room exists", apiErr.Message)
	assert.Equal(t, "api error (status 409): room exists", err.Error())
}

func TestListRoomsEmptyBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	rooms, err := NewClient(srv.URL).ListRooms(context.Background())
	require.NoError(t, err)
	assert.Empty(t, rooms)
	assert.NotNil(t, rooms)
}

func TestPlainTextError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "backend down", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	c.SetHTTPClient(srv.Client())
	_, err := c.ListRooms(context.Background())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "backend down", apiErr.Message)
}

func TestUnfollowedRedirectIsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/login", http.StatusFound)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	c.SetHTTPClient(&http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
	})
	rooms, err := c.ListRooms(context.Background())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusFound, apiErr.StatusCode)
	assert.Nil(t, rooms)
}
