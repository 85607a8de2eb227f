package broadcast

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTruncateUnderLimit(t *testing.T) {
	assert.Equal(t, "hello", truncate("hello", 10))
}

func TestTruncateOverLimitAddsEllipsis(t *testing.T) {
	out := truncate(strings.Repeat("a", 20), 10)
	assert.Len(t, out, 10)
	assert.True(t, strings.HasSuffix(out, "..."))
}

func TestTruncateExactlyAtLimit(t *testing.T) {
	s := strings.Repeat("a", 10)
	assert.Equal(t, s, truncate(s, 10))
}

func TestSendMediaGroupRejectsEmpty(t *testing.T) {
	p := New("https://api.telegram.org", "token", "@channel", time.Second)
	_, err := p.SendMediaGroup(nil, nil, "")
	assert.Error(t, err)
}

func TestSendMediaGroupRejectsOversizedGroup(t *testing.T) {
	p := New("https://api.telegram.org", "token", "@channel", time.Second)
	items := make([]MediaItem, MaxMediaGroupSize+1)
	for i := range items {
		items[i] = MediaItem{Path: "/nonexistent"}
	}
	_, err := p.SendMediaGroup(nil, items, "")
	assert.Error(t, err)
}

func TestSendMessageSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/bottest-token/sendMessage", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true,"result":{"message_id":42}}`))
	}))
	defer server.Close()

	p := New(server.URL, "test-token", "@channel", 5*time.Second)
	id, err := p.SendMessage(nil, "hello there")
	assert.NoError(t, err)
	assert.Equal(t, 42, id)
}

func TestSendMessagePermanentFailureSurfacesDescription(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"ok":false,"description":"chat not found"}`))
	}))
	defer server.Close()

	p := New(server.URL, "test-token", "@channel", 5*time.Second)
	_, err := p.SendMessage(nil, "hello")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "chat not found")
}

func TestNotifyOperatorsReturnsFirstSuccessfulID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		w.Header().Set("Content-Type", "application/json")
		if r.FormValue("chat_id") == "bad" {
			w.Write([]byte(`{"ok":false,"description":"blocked"}`))
			return
		}
		w.Write([]byte(`{"ok":true,"result":{"message_id":7}}`))
	}))
	defer server.Close()

	p := New(server.URL, "test-token", "@channel", 5*time.Second)
	id, err := p.NotifyOperators(nil, []string{"bad", "good"}, "status update")
	assert.NoError(t, err)
	assert.Equal(t, 7, id)
}

func TestNotifyOperatorsAllFail(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":false,"description":"blocked"}`))
	}))
	defer server.Close()

	p := New(server.URL, "test-token", "@channel", 5*time.Second)
	_, err := p.NotifyOperators(nil, []string{"a", "b"}, "status update")
	assert.Error(t, err)
}
