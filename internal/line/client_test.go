package line

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type recorded struct {
	path    string
	auth    string
	retry   string
	payload map[string]any
}

type fakeLINE struct {
	mu     sync.Mutex
	calls  []recorded
	status int
	body   string
}

func (f *fakeLINE) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var payload map[string]any
	_ = json.NewDecoder(r.Body).Decode(&payload)
	f.mu.Lock()
	f.calls = append(f.calls, recorded{
		path:    r.URL.Path,
		auth:    r.Header.Get("Authorization"),
		retry:   r.Header.Get("X-Line-Retry-Key"),
		payload: payload,
	})
	f.mu.Unlock()
	if f.status == 0 {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{}`))
		return
	}
	w.WriteHeader(f.status)
	_, _ = w.Write([]byte(f.body))
}

func (f *fakeLINE) snapshot() []recorded {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recorded(nil), f.calls...)
}

func newTestClient(t *testing.T, f *fakeLINE) *Client {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL+"/", "access-token")
}

func TestReply(t *testing.T) {
	f := &fakeLINE{}
	c := newTestClient(t, f)

	require.NoError(t, c.Reply(context.Background(), "tok1", TextMessages("hello")))
	calls := f.snapshot()
	require.Len(t, calls, 1)
	call := calls[0]
	require.Equal(t, "/v2/bot/message/reply", call.path)
	require.Equal(t, "Bearer access-token", call.auth)
	require.Equal(t, "tok1", call.payload["replyToken"])
	require.Equal(t, []any{map[string]any{"type": "text", "text": "hello"}}, call.payload["messages"])
}

func TestPush_SetsRetryKey(t *testing.T) {
	f := &fakeLINE{}
	c := newTestClient(t, f)

	require.NoError(t, c.Push(context.Background(), "U1", TextMessages("hello")))
	require.NoError(t, c.Push(context.Background(), "U1", TextMessages("again")))
	calls := f.snapshot()
	require.Len(t, calls, 2)
	require.Equal(t, "/v2/bot/message/push", calls[0].path)
	require.Equal(t, "U1", calls[0].payload["to"])
	require.NotEmpty(t, calls[0].retry)
	require.NotEqual(t, calls[0].retry, calls[1].retry)
}

func TestShowLoading_ClampsSeconds(t *testing.T) {
	f := &fakeLINE{status: http.StatusAccepted, body: `{}`}
	c := newTestClient(t, f)

	for _, s := range []int{0, 5, 30, 60, 600} {
		require.NoError(t, c.ShowLoading(context.Background(), "U1", s))
	}
	var got []float64
	for _, call := range f.snapshot() {
		require.Equal(t, "/v2/bot/chat/loading/start", call.path)
		require.Equal(t, "U1", call.payload["chatId"])
		got = append(got, call.payload["loadingSeconds"].(float64))
	}
	require.Equal(t, []float64{5, 5, 30, 60, 60}, got)
}

func TestAPIError_InvalidReplyToken(t *testing.T) {
	f := &fakeLINE{status: http.StatusBadRequest, body: `{"message":"Invalid reply token"}`}
	c := newTestClient(t, f)

	err := c.Reply(context.Background(), "expired", TextMessages("hello"))
	require.Error(t, err)
	require.True(t, IsInvalidReplyToken(err))

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	require.Contains(t, apiErr.Error(), "Invalid reply token")
}

func TestAPIError_OtherErrors(t *testing.T) {
	cases := []struct {
		status int
		body   string
	}{
		{http.StatusBadRequest, `{"message":"The request body has 1 error(s)","details":[{"message":"May not be empty","property":"messages[0].text"}]}`},
		{http.StatusUnauthorized, `{"message":"Authentication failed"}`},
		{http.StatusTooManyRequests, `{"message":"You have reached your monthly limit."}`},
		{http.StatusInternalServerError, `not json`},
	}
	for _, tc := range cases {
		f := &fakeLINE{status: tc.status, body: tc.body}
		c := newTestClient(t, f)
		err := c.Reply(context.Background(), "tok", TextMessages("hello"))
		require.Error(t, err)
		require.False(t, IsInvalidReplyToken(err), "status %d", tc.status)
	}
	require.False(t, IsInvalidReplyToken(errors.New("invalid reply token")))
	require.False(t, IsInvalidReplyToken(nil))
}

func TestAPIError_Details(t *testing.T) {
	f := &fakeLINE{status: http.StatusBadRequest, body: `{"message":"The request body has 1 error(s)","details":[{"message":"May not be empty","property":"messages[0].text"}]}`}
	err := newTestClient(t, f).Push(context.Background(), "U1", TextMessages(""))

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, []ErrorDetail{{Message: "May not be empty", Property: "messages[0].text"}}, apiErr.Details)
}

func TestTextMessages_Truncates(t *testing.T) {
	long := strings.Repeat("あ", MaxTextLength+10)
	msgs := TextMessages(long, "short")
	require.Len(t, msgs, 2)
	require.Equal(t, MaxTextLength, len([]rune(msgs[0].Text)))
	require.Equal(t, "short", msgs[1].Text)
	require.Equal(t, "text", msgs[1].Type)
}
