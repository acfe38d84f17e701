package lark

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeOpenAPI answers the token and message endpoints of the open platform
type fakeOpenAPI struct {
	mu       sync.Mutex
	idType   string
	body     map[string]any
	failCode int
}

func (f *fakeOpenAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if strings.Contains(r.URL.Path, "/auth/") {
		_, _ = w.Write([]byte(`{"code":0,"msg":"ok","tenant_access_token":"t-test","app_access_token":"a-test","expire":7200}`))
		return
	}

	raw, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	f.idType = r.URL.Query().Get("receive_id_type")
	_ = json.Unmarshal(raw, &f.body)
	code := f.failCode
	f.mu.Unlock()

	if code != 0 {
		_, _ = w.Write([]byte(`{"code":230001,"msg":"invalid receive_id"}`))
		return
	}
	_, _ = w.Write([]byte(`{"code":0,"msg":"success","data":{"message_id":"om_1"}}`))
}

func TestMessenger_SendMessage(t *testing.T) {
	api := &fakeOpenAPI{}
	server := httptest.NewServer(api)
	defer server.Close()

	m := NewMessenger(Config{AppID: "cli_test", AppSecret: "secret", BaseURL: server.URL, Timeout: 2 * time.Second}, zap.NewNop())

	require.NoError(t, m.SendMessage(context.Background(), "ou_abc", `He said "done"`))

	api.mu.Lock()
	defer api.mu.Unlock()
	assert.Equal(t, "open_id", api.idType)
	assert.Equal(t, "ou_abc", api.body["receive_id"])
	assert.Equal(t, "text", api.body["msg_type"])
	assert.JSONEq(t, `{"text":"He said \"done\""}`, api.body["content"].(string))
}

func TestMessenger_APIFailure(t *testing.T) {
	api := &fakeOpenAPI{failCode: 230001}
	server := httptest.NewServer(api)
	defer server.Close()

	m := NewMessenger(Config{AppID: "cli_test", AppSecret: "secret", BaseURL: server.URL}, zap.NewNop())
	err := m.SendMessage(context.Background(), "oc_chat", "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "230001")
}

func TestMessenger_RejectsEmptyInput(t *testing.T) {
	m := NewMessenger(Config{AppID: "a", AppSecret: "b"}, zap.NewNop())
	assert.Error(t, m.SendMessage(context.Background(), "", "hi"))
	assert.Error(t, m.SendMessage(context.Background(), "ou_1", ""))
}
