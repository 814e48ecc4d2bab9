package llmapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_Generate(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"  Add buses to Blue Line.  "}}]}`))
	}))
	defer srv.Close()

	c := New(srv.URL+"/v1/", "secret", "", time.Second)
	text, err := c.Generate(context.Background(), "be brief", "fleet summary")
	require.NoError(t, err)

	assert.Equal(t, "Add buses to Blue Line.", text)
	assert.Equal(t, DefaultModel, got.Model)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, chatMessage{Role: "system", Content: "be brief"}, got.Messages[0])
	assert.Equal(t, chatMessage{Role: "user", Content: "fleet summary"}, got.Messages[1])
}

func TestClient_GenerateErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{name: "server error", status: http.StatusInternalServerError, body: `oops`},
		{name: "api error", status: http.StatusOK, body: `{"error":{"message":"quota exceeded"}}`},
		{name: "no choices", status: http.StatusOK, body: `{"choices":[]}`},
		{name: "blank completion", status: http.StatusOK, body: `{"choices":[{"message":{"content":" "}}]}`},
		{name: "bad json", status: http.StatusOK, body: `{`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			_, err := New(srv.URL, "", "m", time.Second).Generate(context.Background(), "s", "p")
			assert.Error(t, err)
		})
	}
}

func TestClient_GenerateHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := New(srv.URL, "", "", 5*time.Second).Generate(ctx, "s", "p")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
