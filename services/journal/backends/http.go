package backends

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
)

const maxErrorBody = 512

// StatusError reports a non-2xx reply from a REST backend.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

// Temporary reports whether the backend signalled a transient condition.
func (e *StatusError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// restCall is a single outbound request description.
type restCall struct {
	method  string
	url     string
	headers map[string]string
	body    any
}

// doJSON executes call and decodes a JSON reply into out. When out is a
// *[]byte the raw body is stored instead.
func doJSON(ctx context.Context, client *http.Client, call restCall, out any) error {
	var body io.Reader
	if call.body != nil {
		buf, err := json.Marshal(call.body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(buf)
	}
	method := call.method
	if method == "" {
		method = http.MethodGet
	}
	req, err := http.NewRequestWithContext(ctx, method, call.url, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if call.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range call.headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	if raw, ok := out.(*[]byte); ok {
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}
		*raw = data
		return nil
	}
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// tableName validates an identifier that will be interpolated into SQL.
func tableName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = "entries"
	}
	if !identifierPattern.MatchString(name) {
		return "", fmt.Errorf("invalid table name %q", name)
	}
	return name, nil
}

func selectAll(table string) string {
	return "SELECT * FROM " + table
}

// decodeDocument parses a stored JSON blob holding entries. It accepts a bare
// array, an object with an "entries" array, or newline-delimited objects.
func decodeDocument(data []byte) ([]record, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}
	switch data[0] {
	case '[':
		var records []record
		if err := unmarshalNumbers(data, &records); err != nil {
			return nil, fmt.Errorf("decode entries: %w", err)
		}
		return records, nil
	case '{':
		var wrapped struct {
			Entries []record `json:"entries"`
		}
		if err := unmarshalNumbers(data, &wrapped); err == nil && wrapped.Entries != nil {
			return wrapped.Entries, nil
		}
		return decodeLines(data)
	default:
		return nil, fmt.Errorf("decode entries: unexpected leading byte %q", data[0])
	}
}

func decodeLines(data []byte) ([]record, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var records []record
	for dec.More() {
		var rec record
		if err := dec.Decode(&rec); err != nil {
			return nil, fmt.Errorf("decode entries: %w", err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func unmarshalNumbers(data []byte, out any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(out)
}
