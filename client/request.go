package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Request describes one API call. Path may hold {name} placeholders that are
// filled from PathParams.
type Request struct {
	Method     string
	Path       string
	PathParams map[string]string
	Query      url.Values
	Body       any // nil, []byte, json.RawMessage or a JSON-encodable value
	Headers    http.Header
	Timeout    time.Duration // per attempt; 0 => Config.Timeout
	// Retryable allows retries for methods that are not idempotent.
	Retryable bool
	// NoAuth skips the bearer header and 401 refresh handling.
	NoAuth bool
}

// Response is the normalized form of every API reply.
type Response struct {
	Success   bool
	Status    int
	Message   string
	Data      json.RawMessage
	Errors    map[string][]string
	RequestID string
	Header    http.Header
}

// Decode unmarshals Data into v. An empty Data leaves v untouched.
func (r *Response) Decode(v any) error {
	if len(r.Data) == 0 || string(r.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(r.Data, v); err != nil {
		return fmt.Errorf("client: decode response data: %w", err)
	}
	return nil
}

var idempotentMethods = map[string]bool{
	http.MethodGet:     true,
	http.MethodHead:    true,
	http.MethodOptions: true,
	http.MethodPut:     true,
	http.MethodDelete:  true,
}

func (r Request) retryable() bool {
	return r.Retryable || idempotentMethods[strings.ToUpper(r.Method)]
}

func expandPath(path string, params map[string]string) (string, error) {
	if !strings.Contains(path, "{") {
		return path, nil
	}
	var b strings.Builder
	for {
		i := strings.IndexByte(path, '{')
		if i < 0 {
			b.WriteString(path)
			return b.String(), nil
		}
		j := strings.IndexByte(path[i:], '}')
		if j < 0 {
			return "", fmt.Errorf("unterminated placeholder in %q", path)
		}
		name := path[i+1 : i+j]
		v, ok := params[name]
		if !ok || v == "" {
			return "", fmt.Errorf("missing path parameter %q", name)
		}
		b.WriteString(path[:i])
		b.WriteString(url.PathEscape(v))
		path = path[i+j+1:]
	}
}

func encodeBody(body any) ([]byte, error) {
	switch b := body.(type) {
	case nil:
		return nil, nil
	case []byte:
		return b, nil
	case json.RawMessage:
		return b, nil
	default:
		return json.Marshal(b)
	}
}

// envelope is the API's reply shape: {success, message?, data?, errors?}.
type envelope struct {
	Success *bool           `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Errors  json.RawMessage `json:"errors"`
}

func normalize(status int, header http.Header, raw []byte) *Response {
	resp := &Response{
		Status:  status,
		Success: status >= 200 && status < 300,
		Header:  header,
	}
	var env envelope
	if len(bytes.TrimSpace(raw)) > 0 && json.Unmarshal(raw, &env) == nil {
		if env.Success != nil {
			resp.Success = *env.Success && resp.Success
		}
		resp.Message = env.Message
		resp.Data = env.Data
		resp.Errors = fieldErrors(env.Errors)
		return resp
	}
	if msg := strings.TrimSpace(string(raw)); msg != "" && !resp.Success {
		resp.Message = msg
	}
	return resp
}

// fieldErrors accepts {field: [msg]} and {field: msg}.
func fieldErrors(raw json.RawMessage) map[string][]string {
	if len(raw) == 0 {
		return nil
	}
	var many map[string][]string
	if json.Unmarshal(raw, &many) == nil {
		return many
	}
	var one map[string]string
	if json.Unmarshal(raw, &one) == nil {
		out := make(map[string][]string, len(one))
		for k, v := range one {
			out[k] = []string{v}
		}
		return out
	}
	return nil
}
