package webhook

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/comigor/line-relay/internal/delivery"
	"github.com/comigor/line-relay/internal/history"
	"github.com/comigor/line-relay/internal/line"
	"github.com/comigor/line-relay/internal/prompt"
	"github.com/comigor/line-relay/internal/relay"
	"github.com/comigor/line-relay/internal/signature"
	"github.com/comigor/line-relay/internal/worker"
)

const (
	secret    = "s3cr3t"
	helloBody = `{"events":[{"type":"message","message":{"type":"text","id":"1","text":"hello"}, "source":{"userId":"U1"}, "replyToken":"tok1"}]}`
)

type fixedCompleter struct {
	mu    sync.Mutex
	calls int
}

func (f *fixedCompleter) Complete(_ context.Context, turns []history.Turn) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return "<model output>", nil
}

func (f *fixedCompleter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type recordingMessenger struct {
	mu       sync.Mutex
	replyErr error
	replies  []string
	pushes   []string
}

func (m *recordingMessenger) Reply(_ context.Context, token string, _ []line.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.replyErr != nil {
		return m.replyErr
	}
	m.replies = append(m.replies, token)
	return nil
}

func (m *recordingMessenger) Push(_ context.Context, to string, _ []line.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pushes = append(m.pushes, to)
	return nil
}

type recordingLoader struct {
	mu      sync.Mutex
	chats   []string
	seconds []int
}

func (l *recordingLoader) ShowLoading(_ context.Context, chatID string, seconds int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.chats = append(l.chats, chatID)
	l.seconds = append(l.seconds, seconds)
	return nil
}

type fixture struct {
	history   *history.Store
	completer *fixedCompleter
	messenger *recordingMessenger
	loader    *recordingLoader
	exec      *worker.Executor
	router    http.Handler
}

func newFixture(t *testing.T, channelSecret string) *fixture {
	t.Helper()
	f := &fixture{
		history:   history.New(history.DefaultCapacity),
		completer: &fixedCompleter{},
		messenger: &recordingMessenger{},
		loader:    &recordingLoader{},
		exec:      worker.NewExecutor(4),
	}
	svc := relay.New(f.history, &prompt.Static{}, f.completer, delivery.New(f.messenger), nil)
	f.router = NewHandler(channelSecret, svc, f.loader, 60, f.exec).Router()
	return f
}

// post sends body signed with signingSecret and waits for scheduled work.
func (f *fixture) post(t *testing.T, body, signingSecret string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	if signingSecret != "" {
		req.Header.Set(SignatureHeader, signature.Sign([]byte(signingSecret), []byte(body)))
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.exec.Shutdown(ctx))
	return rec
}

func TestWebhook_AcceptsSignedTextMessage(t *testing.T) {
	f := newFixture(t, secret)

	rec := f.post(t, helloBody, secret)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	require.Equal(t, []history.Turn{
		history.User("hello"),
		history.Assistant("<model output>"),
	}, f.history.Get("U1"))
	assert.Equal(t, []string{"tok1"}, f.messenger.replies)
	assert.Empty(t, f.messenger.pushes)
	assert.Equal(t, []string{"U1"}, f.loader.chats)
	assert.Equal(t, []int{60}, f.loader.seconds)
}

func TestWebhook_RejectsWrongSecret(t *testing.T) {
	f := newFixture(t, secret)

	rec := f.post(t, helloBody, "not-the-secret")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Nil(t, f.history.Get("U1"))
	assert.Zero(t, f.completer.count())
	assert.Empty(t, f.loader.chats)
}

func TestWebhook_RejectsMissingSignature(t *testing.T) {
	f := newFixture(t, secret)

	rec := f.post(t, helloBody, "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, f.completer.count())
}

func TestWebhook_RejectsWhenSecretUnset(t *testing.T) {
	f := newFixture(t, "")

	rec := f.post(t, helloBody, secret)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, f.completer.count())
}

func TestWebhook_RejectsMalformedBody(t *testing.T) {
	f := newFixture(t, secret)

	rec := f.post(t, `{"events":[`, secret)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebhook_ExpiredTokenFallsBackToPush(t *testing.T) {
	f := newFixture(t, secret)
	f.messenger.replyErr = &line.APIError{StatusCode: http.StatusBadRequest, Message: "Invalid reply token"}

	rec := f.post(t, helloBody, secret)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, f.messenger.replies)
	assert.Equal(t, []string{"U1"}, f.messenger.pushes)
	assert.Equal(t, 2, f.history.Len("U1"))
}

func TestWebhook_ProcessesEveryTextEvent(t *testing.T) {
	f := newFixture(t, secret)
	body := `{"destination":"Ubot","events":[
		{"type":"message","message":{"type":"text","id":"1","text":"one"},"source":{"type":"user","userId":"U1"},"replyToken":"t1"},
		{"type":"message","message":{"type":"sticker","id":"2"},"source":{"type":"user","userId":"U1"},"replyToken":"t2"},
		{"type":"follow","source":{"type":"user","userId":"U3"},"replyToken":"t3"},
		{"type":"message","message":{"type":"text","id":"4","text":"two"},"source":{"type":"user","userId":"U2"},"replyToken":"t4"},
		{"type":"message","message":{"type":"text","id":"5","text":"three"},"source":{"type":"user","userId":"U1"},"replyToken":"t5"}
	]}`

	rec := f.post(t, body, secret)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, 3, f.completer.count())
	assert.ElementsMatch(t, []string{"t1", "t4", "t5"}, f.messenger.replies)
	assert.Equal(t, []history.Turn{
		history.User("one"), history.Assistant("<model output>"),
		history.User("three"), history.Assistant("<model output>"),
	}, f.history.Get("U1"))
	assert.Equal(t, 2, f.history.Len("U2"))
	assert.Zero(t, f.history.Len("U3"))
}

func TestWebhook_EmptyEvents(t *testing.T) {
	f := newFixture(t, secret)

	rec := f.post(t, `{"destination":"Ubot","events":[]}`, secret)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, f.completer.count())
}

func TestWebhook_SchedulerClosed(t *testing.T) {
	f := newFixture(t, secret)
	require.NoError(t, f.exec.Shutdown(context.Background()))

	rec := f.post(t, helloBody, secret)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, f.completer.count())
}

func TestHealthz(t *testing.T) {
	f := newFixture(t, secret)

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestWebhook_SkipsStandbyEvents(t *testing.T) {
	f := newFixture(t, secret)
	body := `{"destination":"Ubot","events":[
		{"type":"message","mode":"standby","message":{"type":"text","id":"1","text":"not ours"},"source":{"type":"user","userId":"U1"}},
		{"type":"message","mode":"active","message":{"type":"text","id":"2","text":"ours"},"source":{"type":"user","userId":"U2"},"replyToken":"t2"}
	]}`

	rec := f.post(t, body, secret)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, f.completer.count())
	assert.Zero(t, f.history.Len("U1"))
	assert.Equal(t, []string{"U2"}, f.loader.chats)
	assert.Equal(t, []string{"t2"}, f.messenger.replies)
}

func TestWebhook_RelaysRedeliveredEvents(t *testing.T) {
	f := newFixture(t, secret)
	body := `{"events":[{"type":"message","mode":"active","webhookEventId":"01H","deliveryContext":{"isRedelivery":true},
		"message":{"type":"text","id":"1","text":"again"},"source":{"type":"user","userId":"U1"},"replyToken":"tok1"}]}`

	rec := f.post(t, body, secret)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, f.history.Len("U1"))
}
