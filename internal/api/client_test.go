package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cchalm/gtd-copilot/internal/cache"
	"github.com/cchalm/gtd-copilot/internal/chat"
	"github.com/cchalm/gtd-copilot/internal/items"
	"github.com/cchalm/gtd-copilot/internal/mutation"
	"github.com/cchalm/gtd-copilot/internal/stream"
	"github.com/cchalm/gtd-copilot/internal/suggestion"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client, err := NewClient(context.Background(), server.URL+"/", "secret")
	require.NoError(t, err)
	return client
}

func TestNewClient_RejectsRelativeURL(t *testing.T) {
	_, err := NewClient(context.Background(), "localhost:8080", "")
	assert.Error(t, err)
}

func TestSubmit_StreamsEvents(t *testing.T) {
	var got chat.SubmitRequest
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions/stream", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/x-ndjson")
		for _, ev := range []stream.Event{
			{Type: stream.EventTextDelta, Content: "Hallo"},
			{Type: stream.EventDone},
		} {
			b, err := stream.Encode(ev)
			require.NoError(t, err)
			_, _ = w.Write(b)
			w.(http.Flusher).Flush()
		}
	}))

	thread := chat.NewThread("conv-7")
	chat.NewAssembler(thread, client).Send(context.Background(), "Hi", map[string]string{"view": "inbox"})

	assert.Equal(t, "Hi", got.Text)
	assert.Equal(t, "conv-7", got.ConversationID)
	assert.Equal(t, "inbox", got.Context["view"])

	msgs := thread.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "Hallo", msgs[1].Text)
}

func TestSubmit_StatusError(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model overloaded", http.StatusBadGateway)
	}))

	_, err := client.Submit(context.Background(), chat.SubmitRequest{Text: "x"})
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadGateway, se.StatusCode)
	assert.Equal(t, "model overloaded", se.Body)
}

func TestExecute(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/execute-tool", r.URL.Path)
		var body struct {
			ToolCall       stream.ToolCall `json:"toolCall"`
			ConversationID string          `json:"conversationId"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "create_action", body.ToolCall.Name)
		assert.JSONEq(t, `{"name":"Kartons kaufen"}`, string(body.ToolCall.Arguments))
		assert.Equal(t, "conv", body.ConversationID)

		_, _ = io.WriteString(w, `{"createdItems":[{"canonical_id":"a1","name":"Kartons kaufen","type":"action"}]}`)
	}))
	s, err := suggestion.FromToolCall(stream.ToolCall{Name: "create_action", Arguments: []byte(`{"name":"Kartons kaufen"}`)})
	require.NoError(t, err)

	refs, err := client.Execute(context.Background(), s, "conv")
	require.NoError(t, err)
	assert.Equal(t, []items.CreatedItemRef{{ID: "a1", Name: "Kartons kaufen", Type: items.RefAction}}, refs)
}

// fakeBackend serves the item endpoints from a MemoryRemote
func fakeBackend(t *testing.T, remote *items.MemoryRemote) http.Handler {
	mux := http.NewServeMux()
	writeJSON := func(w http.ResponseWriter, v any) {
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(v))
	}
	mux.HandleFunc("GET /items", func(w http.ResponseWriter, r *http.Request) {
		c, err := remote.List(r.Context(), items.Partition(r.URL.Query().Get("partition")))
		require.NoError(t, err)
		writeJSON(w, c)
	})
	mux.HandleFunc("POST /items", func(w http.ResponseWriter, r *http.Request) {
		var d items.Draft
		require.NoError(t, json.NewDecoder(r.Body).Decode(&d))
		it, err := remote.Create(r.Context(), d)
		require.NoError(t, err)
		writeJSON(w, it)
	})
	mux.HandleFunc("PATCH /items/{id}", func(w http.ResponseWriter, r *http.Request) {
		var p items.Patch
		require.NoError(t, json.NewDecoder(r.Body).Decode(&p))
		it, err := remote.Patch(r.Context(), r.PathValue("id"), p)
		if err != nil {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		writeJSON(w, it)
	})
	mux.HandleFunc("POST /items/{id}/archive", func(w http.ResponseWriter, r *http.Request) {
		if err := remote.Archive(r.Context(), r.PathValue("id")); err != nil {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	return mux
}

func TestItems_ThroughEngine(t *testing.T) {
	remote := items.NewMemoryRemote(
		items.Item{ID: "1", Name: "Kartons kaufen", Type: items.TypeAction, Bucket: items.BucketNext},
	)
	client := newTestClient(t, fakeBackend(t, remote))
	engine := mutation.NewEngine(cache.NewMemoryStore(), client)
	ctx := context.Background()

	require.NoError(t, engine.Refresh(ctx))

	focused, err := engine.ToggleFocus(ctx, "1")
	require.NoError(t, err)
	assert.True(t, focused.IsFocused)

	created, err := engine.Create(ctx, items.Draft{Name: "Idee"})
	require.NoError(t, err)
	assert.Equal(t, "item-2", created.ID)
	assert.Equal(t, items.BucketInbox, created.Bucket)

	require.NoError(t, engine.Archive(ctx, "1"))
	active, err := remote.List(ctx, items.PartitionActive)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "item-2", active[0].ID)
}

func TestPatch_NotFoundMatchesNoSuchItem(t *testing.T) {
	client := newTestClient(t, fakeBackend(t, items.NewMemoryRemote()))

	_, err := client.Patch(context.Background(), "nope", items.Patch{})
	assert.ErrorIs(t, err, items.ErrNoSuchItem)

	err = client.Archive(context.Background(), "nope")
	assert.ErrorIs(t, err, items.ErrNoSuchItem)
}
