package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roomly/connect/internal/model"
	"github.com/roomly/connect/internal/pubsub"
	"github.com/roomly/connect/internal/services"
	"github.com/roomly/connect/internal/store/sqlite"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	st, err := sqlite.New(filepath.Join(t.TempDir(), "connect.db"))
	require.NoError(t, err)
	broker := pubsub.NewBroker(64, nil, zerolog.Nop())
	t.Cleanup(broker.Close)
	convs := services.NewConversationService(st, broker, nil, zerolog.Nop())
	matches := services.NewMatchService(st, convs, broker, nil, zerolog.Nop())
	srv := httptest.NewServer(NewRouter(st, convs, matches, nil))
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url string, body interface{}) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decode(t *testing.T, resp *http.Response, out interface{}) {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func TestConversationFlow(t *testing.T) {
	srv := newTestServer(t)

	// ana starts a conversation with luis.
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/users/ana/conversations",
		map[string]interface{}{"otherUserId": "luis"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var conv model.Conversation
	decode(t, resp, &conv)
	require.NotEmpty(t, conv.ConversationID)

	// Starting again from the other side returns the same thread.
	resp = doJSON(t, http.MethodPost, srv.URL+"/api/users/luis/conversations",
		map[string]interface{}{"otherUserId": "ana"})
	var again model.Conversation
	decode(t, resp, &again)
	assert.Equal(t, conv.ConversationID, again.ConversationID)

	// ana sends a message.
	resp = doJSON(t, http.MethodPost,
		fmt.Sprintf("%s/api/users/ana/conversations/%s/messages", srv.URL, conv.ConversationID),
		map[string]interface{}{"body": "Hola"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var msg model.Message
	decode(t, resp, &msg)
	assert.Equal(t, "Hola", msg.Body)
	assert.False(t, msg.Read)

	// luis lists conversations and sees one unread.
	resp = doJSON(t, http.MethodGet, srv.URL+"/api/users/luis/conversations", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list struct {
		Conversations []model.ConversationSummary `json:"conversations"`
		Count         int                         `json:"count"`
	}
	decode(t, resp, &list)
	require.Equal(t, 1, list.Count)
	assert.Equal(t, 1, list.Conversations[0].UnreadCount)
	require.NotNil(t, list.Conversations[0].LastMessage)
	assert.Equal(t, "Hola", list.Conversations[0].LastMessage.Body)

	// luis marks the thread read.
	resp = doJSON(t, http.MethodPost,
		fmt.Sprintf("%s/api/users/luis/conversations/%s/read", srv.URL, conv.ConversationID), nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	_ = resp.Body.Close()

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/users/luis/conversations", nil)
	decode(t, resp, &list)
	assert.Equal(t, 0, list.Conversations[0].UnreadCount)

	// Archive and mute toggles.
	resp = doJSON(t, http.MethodPut,
		fmt.Sprintf("%s/api/users/ana/conversations/%s/archive", srv.URL, conv.ConversationID),
		map[string]interface{}{"archived": true})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	_ = resp.Body.Close()
	resp = doJSON(t, http.MethodPut,
		fmt.Sprintf("%s/api/users/luis/conversations/%s/mute", srv.URL, conv.ConversationID),
		map[string]interface{}{"muted": true})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestMessageValidationAndAuthorization(t *testing.T) {
	srv := newTestServer(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/users/ana/conversations",
		map[string]interface{}{"otherUserId": "luis"})
	var conv model.Conversation
	decode(t, resp, &conv)

	// Empty body is a 400.
	resp = doJSON(t, http.MethodPost,
		fmt.Sprintf("%s/api/users/ana/conversations/%s/messages", srv.URL, conv.ConversationID),
		map[string]interface{}{"body": "   "})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	_ = resp.Body.Close()

	// An outsider is a 403.
	resp = doJSON(t, http.MethodPost,
		fmt.Sprintf("%s/api/users/eva/conversations/%s/messages", srv.URL, conv.ConversationID),
		map[string]interface{}{"body": "hola"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	_ = resp.Body.Close()

	// Unknown conversation is a 404.
	resp = doJSON(t, http.MethodPost,
		srv.URL+"/api/users/ana/conversations/no-such-conv/messages",
		map[string]interface{}{"body": "hola"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	_ = resp.Body.Close()

	// Self conversation is a 400.
	resp = doJSON(t, http.MethodPost, srv.URL+"/api/users/ana/conversations",
		map[string]interface{}{"otherUserId": "ana"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	_ = resp.Body.Close()

	// Malformed JSON is a 400.
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/api/users/ana/conversations",
		bytes.NewBufferString("{not json"))
	raw, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, raw.StatusCode)
	_ = raw.Body.Close()
}

func TestLikeAndMatchFlow(t *testing.T) {
	srv := newTestServer(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/users/ana/likes/luis", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var res model.LikeResult
	decode(t, resp, &res)
	assert.False(t, res.Matched)

	// Not matched yet.
	resp = doJSON(t, http.MethodGet, srv.URL+"/api/users/ana/matches/luis", nil)
	var check struct {
		Matched bool `json:"matched"`
	}
	decode(t, resp, &check)
	assert.False(t, check.Matched)

	// Reciprocal like closes the match.
	resp = doJSON(t, http.MethodPost, srv.URL+"/api/users/luis/likes/ana", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decode(t, resp, &res)
	require.True(t, res.Matched)
	require.NotNil(t, res.Match)
	assert.NotEmpty(t, res.Match.ConversationID)

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/users/luis/matches", nil)
	var matches struct {
		Matches []model.Match `json:"matches"`
		Count   int           `json:"count"`
	}
	decode(t, resp, &matches)
	assert.Equal(t, 1, matches.Count)

	// Self like is a 400.
	resp = doJSON(t, http.MethodPost, srv.URL+"/api/users/ana/likes/ana", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	_ = resp.Body.Close()

	// Unlike returns 204 and the match survives.
	resp = doJSON(t, http.MethodDelete, srv.URL+"/api/users/ana/likes/luis", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	_ = resp.Body.Close()
	resp = doJSON(t, http.MethodGet, srv.URL+"/api/users/ana/matches/luis", nil)
	decode(t, resp, &check)
	assert.True(t, check.Matched)
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t)

	resp := doJSON(t, http.MethodGet, srv.URL+"/api/health", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body struct {
		Status string `json:"status"`
	}
	decode(t, resp, &body)
	assert.Equal(t, "healthy", body.Status)
}
