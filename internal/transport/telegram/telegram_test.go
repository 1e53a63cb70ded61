package telegram

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kit "jobvisor/internal/transport"
	logx "jobvisor/pkg/logx"
)

func TestSplitText(t *testing.T) {
	t.Parallel()
	assert.Equal(t, []string{"short"}, splitText("short", 10))

	long := strings.Repeat("a", 8) + "\n" + strings.Repeat("b", 8)
	assert.Equal(t, []string{"aaaaaaaa", "bbbbbbbb"}, splitText(long, 10))

	noBreak := strings.Repeat("c", 25)
	got := splitText(noBreak, 10)
	require.Len(t, got, 3)
	assert.Equal(t, noBreak, strings.Join(got, ""))
}

func TestSendText(t *testing.T) {
	t.Parallel()
	var (
		mu    sync.Mutex
		calls []map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/sendMessage") {
			http.NotFound(w, r)
			return
		}
		body, _ := io.ReadAll(r.Body)
		var m map[string]any
		_ = json.Unmarshal(body, &m)
		mu.Lock()
		calls = append(calls, m)
		mu.Unlock()
		_, _ = io.WriteString(w, `{"ok":true,"result":{"message_id":77,"date":0,"chat":{"id":-100123,"type":"supergroup"}}}`)
	}))
	defer srv.Close()

	s, err := New(Config{Token: "123:abc", APIURL: srv.URL}, logx.Nop())
	require.NoError(t, err)

	ref, err := s.SendText(context.Background(), kit.ChatTarget{ChatID: -100123, ThreadID: 9}, "[Backup] FAILED (RC=3)", nil)
	require.NoError(t, err)
	assert.Equal(t, 77, ref.MessageID)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, calls, 1)
	assert.Equal(t, "[Backup] FAILED (RC=3)", calls[0]["text"])
}

func TestNewRequiresToken(t *testing.T) {
	t.Parallel()
	_, err := New(Config{}, logx.Nop())
	assert.Error(t, err)
}
