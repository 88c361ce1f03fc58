// Package webhook receives messaging platform webhooks, authenticates them and
// schedules the relay of every text message as a background task.
package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/comigor/line-relay/internal/logger"
	"github.com/comigor/line-relay/internal/relay"
	"github.com/comigor/line-relay/internal/signature"
	"github.com/comigor/line-relay/internal/worker"
)

// SignatureHeader carries the base64 HMAC-SHA256 of the raw body.
const SignatureHeader = "X-Line-Signature"

const maxBodyBytes = 1 << 20

// Scheduler runs background tasks; see worker.Executor.
type Scheduler interface {
	Submit(key, name string, task worker.Task) error
	Go(name string, task worker.Task) error
}

// Relayer answers a message.
type Relayer interface {
	Handle(ctx context.Context, m relay.Message) error
}

// Loader shows the chat loading indicator.
type Loader interface {
	ShowLoading(ctx context.Context, chatID string, seconds int) error
}

// Handler is the webhook endpoint.
type Handler struct {
	secret         []byte
	relay          Relayer
	loader         Loader
	loadingSeconds int
	sched          Scheduler
}

// NewHandler creates a Handler. A nil loader disables the loading indicator.
func NewHandler(secret string, r Relayer, l Loader, loadingSeconds int, s Scheduler) *Handler {
	return &Handler{
		secret:         []byte(secret),
		relay:          r,
		loader:         l,
		loadingSeconds: loadingSeconds,
		sched:          s,
	}
}

// Router mounts the webhook and health routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	r.Post("/webhook", h.ServeWebhook)
	return r
}

// ServeWebhook authenticates the body, schedules work for each event and
// answers immediately without waiting for any relay.
func (h *Handler) ServeWebhook(w http.ResponseWriter, r *http.Request) {
	log := logger.L.With("request_id", middleware.GetReqID(r.Context()))

	sig := r.Header.Get(SignatureHeader)
	if len(h.secret) == 0 || sig == "" {
		log.Warn("webhook rejected: channel secret or signature not found")
		http.Error(w, "channel secret or signature not found", http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		log.Warn("webhook rejected: read body", "error", err)
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}
	if !signature.Verify(h.secret, body, sig) {
		log.Warn("webhook rejected: bad signature")
		http.Error(w, "bad signature", http.StatusBadRequest)
		return
	}
	log.Debug("webhook body", "body", string(body))

	var payload Payload
	if err := json.Unmarshal(body, &payload); err != nil {
		log.Warn("webhook rejected: malformed body", "error", err)
		http.Error(w, "malformed body", http.StatusBadRequest)
		return
	}

	log.Debug("webhook accepted", "destination", payload.Destination, "events", len(payload.Events))
	received := time.Now()
	for _, ev := range payload.Events {
		h.dispatch(ev, received)
	}
	_, _ = w.Write([]byte("ok"))
}

// dispatch schedules one event. Failures to schedule are logged and do not
// affect the other events of the batch.
func (h *Handler) dispatch(ev Event, received time.Time) {
	log := logger.L.With("event", ev.WebhookEventID)
	if ev.Standby() {
		log.Debug("ignoring standby event", "type", ev.Type)
		return
	}
	if !ev.IsText() {
		log.Debug("ignoring event", "type", ev.Type)
		return
	}
	uid := ev.Source.UserID
	if uid == "" {
		log.Warn("ignoring text message without user id", "source", ev.Source.Type)
		return
	}
	if ev.DeliveryContext.IsRedelivery {
		log.Info("redelivered event", "user", uid, "message", ev.Message.ID)
	}

	if h.loader != nil {
		err := h.sched.Go("loading:"+uid, func(ctx context.Context) {
			if err := h.loader.ShowLoading(ctx, uid, h.loadingSeconds); err != nil {
				log.Warn("loading indicator failed", "user", uid, "error", err)
			}
		})
		if err != nil {
			log.Warn("loading indicator not scheduled", "user", uid, "error", err)
		}
	}

	msg := relay.Message{
		ID:         ev.Message.ID,
		UserID:     uid,
		ReplyToken: ev.ReplyToken,
		Text:       ev.Message.Text,
		ReceivedAt: ev.Time(received),
	}
	task := "relay:" + uuid.NewString()
	err := h.sched.Submit(uid, task, func(ctx context.Context) {
		if err := h.relay.Handle(ctx, msg); err != nil {
			log.Error("relay failed", "task", task, "user", uid, "message", msg.ID, "error", err)
		}
	})
	if err != nil {
		log.Error("relay not scheduled", "user", uid, "message", msg.ID, "error", err)
	}
}
