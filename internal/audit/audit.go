// Package audit records answered questions to optional external sinks.
// Sink failures never affect what the user receives; callers log and drop them.
package audit

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/comigor/line-relay/internal/config"
)

// Entry is one answered question.
type Entry struct {
	MessageID string    `json:"messageId"`
	UserID    string    `json:"-"`
	Question  string    `json:"question"`
	Response  string    `json:"response"`
	SheetName string    `json:"sheetName,omitempty"`
	CreatedAt time.Time `json:"-"`
}

// Sink stores audit entries.
type Sink interface {
	Record(ctx context.Context, e Entry) error
}

// Nop discards entries.
type Nop struct{}

func (Nop) Record(context.Context, Entry) error { return nil }

// Multi fans an entry out to every sink and joins their errors.
type Multi []Sink

func (m Multi) Record(ctx context.Context, e Entry) error {
	var errs []error
	for _, s := range m {
		if err := s.Record(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink that holds resources.
func Close(s Sink) error {
	switch v := s.(type) {
	case Multi:
		var errs []error
		for _, inner := range v {
			errs = append(errs, Close(inner))
		}
		return errors.Join(errs...)
	case io.Closer:
		return v.Close()
	}
	return nil
}

// New builds the sinks enabled in cfg, or Nop when none is.
func New(cfg config.AuditConfig) Sink {
	var sinks Multi
	if cfg.URL != "" {
		sinks = append(sinks, NewHTTPSink(cfg.URL, cfg.SheetName))
	}
	if cfg.SQLitePath != "" {
		sinks = append(sinks, NewSQLiteSink(cfg.SQLitePath))
	}
	switch len(sinks) {
	case 0:
		return Nop{}
	case 1:
		return sinks[0]
	}
	return sinks
}
