package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPSink posts entries as JSON to a web endpoint such as a spreadsheet script.
type HTTPSink struct {
	url       string
	sheetName string
	client    *http.Client
}

// NewHTTPSink creates an HTTPSink. sheetName is sent only when non-empty.
func NewHTTPSink(url, sheetName string) *HTTPSink {
	return &HTTPSink{
		url:       url,
		sheetName: sheetName,
		client:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *HTTPSink) Record(ctx context.Context, e Entry) error {
	if e.SheetName == "" {
		e.SheetName = s.sheetName
	}
	body, err := json.Marshal(e)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("audit sink: unexpected status code: %d", resp.StatusCode)
	}
	return nil
}
