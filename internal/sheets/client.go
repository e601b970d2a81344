// Package sheets talks to the Apps Script web app that fronts the
// property's spreadsheet. Every tab is fetched as a list of rows keyed
// by header name; writes go through the addRow / updateUserWorkflow
// actions the web app exposes.
package sheets

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/rs/zerolog"
)

const requestTimeout = 15 * time.Second

// ErrSourceUnavailable marks any failure to reach or parse the
// tabular source. Callers branch with errors.Is and degrade.
var ErrSourceUnavailable = errors.New("sheet source unavailable")

type SourceError struct {
	Sheet string
	Err   error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("sheet %q unavailable: %v", e.Sheet, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

func (e *SourceError) Is(target error) bool { return target == ErrSourceUnavailable }

// Row is one sheet row, header -> cell rendered as a string.
type Row map[string]string

type Client struct {
	webappURL string
	http      *http.Client
	log       zerolog.Logger
}

func NewClient(webappURL string, log zerolog.Logger) *Client {
	return &Client{
		webappURL: webappURL,
		http:      &http.Client{Timeout: requestTimeout},
		log:       log,
	}
}

// Fetch returns every row of the named sheet tab.
func (c *Client) Fetch(ctx context.Context, sheet string) ([]Row, error) {
	if c.webappURL == "" {
		return nil, &SourceError{Sheet: sheet, Err: errors.New("webapp url not configured")}
	}

	u, err := url.Parse(c.webappURL)
	if err != nil {
		return nil, &SourceError{Sheet: sheet, Err: fmt.Errorf("parse webapp url: %w", err)}
	}
	q := u.Query()
	q.Set("action", "getSheetData")
	q.Set("sheet", sheet)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, &SourceError{Sheet: sheet, Err: err}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &SourceError{Sheet: sheet, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &SourceError{Sheet: sheet, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &SourceError{Sheet: sheet, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	var raw []map[string]any
	if err := sonic.Unmarshal(body, &raw); err != nil {
		// The web app reports problems as a JSON object with an
		// error field rather than an HTTP status.
		var failure map[string]any
		if jerr := sonic.Unmarshal(body, &failure); jerr == nil {
			if msg, ok := failure["error"]; ok {
				return nil, &SourceError{Sheet: sheet, Err: fmt.Errorf("webapp error: %v", msg)}
			}
		}
		return nil, &SourceError{Sheet: sheet, Err: fmt.Errorf("unexpected response format: %w", err)}
	}

	rows := make([]Row, 0, len(raw))
	for _, m := range raw {
		row := make(Row, len(m))
		for k, v := range m {
			row[k] = cellString(v)
		}
		rows = append(rows, row)
	}
	c.log.Debug().Str("sheet", sheet).Int("rows", len(rows)).Msg("fetched sheet")
	return rows, nil
}

// AddRow appends one row to the named sheet tab.
func (c *Client) AddRow(ctx context.Context, sheet string, row map[string]string) error {
	payload := map[string]any{
		"action":  "addRow",
		"sheet":   sheet,
		"rowData": row,
	}
	return c.post(ctx, sheet, payload)
}

// UpdateWorkflow patches columns of the client row matched by email.
func (c *Client) UpdateWorkflow(ctx context.Context, sheet, email string, updates map[string]string) error {
	payload := map[string]any{
		"action":  "updateUserWorkflow",
		"sheet":   sheet,
		"email":   email,
		"updates": updates,
	}
	return c.post(ctx, sheet, payload)
}

func (c *Client) post(ctx context.Context, sheet string, payload map[string]any) error {
	if c.webappURL == "" {
		return &SourceError{Sheet: sheet, Err: errors.New("webapp url not configured")}
	}

	body, err := sonic.Marshal(payload)
	if err != nil {
		return &SourceError{Sheet: sheet, Err: fmt.Errorf("marshal payload: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webappURL, bytes.NewReader(body))
	if err != nil {
		return &SourceError{Sheet: sheet, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return &SourceError{Sheet: sheet, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &SourceError{Sheet: sheet, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return &SourceError{Sheet: sheet, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	var failure map[string]any
	if jerr := sonic.Unmarshal(respBody, &failure); jerr == nil {
		if msg, ok := failure["error"]; ok {
			return &SourceError{Sheet: sheet, Err: fmt.Errorf("webapp error: %v", msg)}
		}
	}
	return nil
}

func cellString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		return fmt.Sprint(val)
	}
}
