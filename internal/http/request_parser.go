// This file turns request parameters into filter selections. GET requests
// carry the selection in the query string; POST requests may send it as a
// form or as a JSON object whose values are strings, numbers or arrays.

package http

import (
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// maxBodyBytes bounds selection bodies.
const maxBodyBytes = 64 << 10

// RequestBodyParser reads a request body once and exposes it as url.Values
// whatever its encoding.
type RequestBodyParser struct {
	body        []byte
	contentType string
	values      url.Values
	parsed      bool
	err         error
}

// NewRequestBodyParser creates a parser for the given request.
func NewRequestBodyParser(r *http.Request) *RequestBodyParser {
	p := &RequestBodyParser{contentType: r.Header.Get("Content-Type")}
	if r.Body != nil {
		p.body, p.err = io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
		if p.err == nil && len(p.body) > maxBodyBytes {
			p.err = fmt.Errorf("request body larger than %d bytes", maxBodyBytes)
		}
	}
	return p
}

// Parse decodes the body as JSON when the content type or the first byte says
// so, and as a form otherwise.
func (p *RequestBodyParser) Parse() error {
	if p.parsed {
		return p.err
	}
	p.parsed = true
	if p.err != nil {
		return p.err
	}

	body := strings.TrimSpace(string(p.body))
	if body == "" {
		p.values = url.Values{}
		return nil
	}

	if p.IsJSON() {
		p.values, p.err = jsonValues([]byte(body))
		return p.err
	}
	p.values, p.err = url.ParseQuery(body)
	return p.err
}

// Values returns the parsed parameters with control characters removed.
func (p *RequestBodyParser) Values() url.Values {
	return sanitizeValues(p.values)
}

// IsJSON reports whether the body is treated as JSON.
func (p *RequestBodyParser) IsJSON() bool {
	mt, _, _ := mime.ParseMediaType(p.contentType)
	if mt == "application/json" {
		return true
	}
	trimmed := strings.TrimSpace(string(p.body))
	return strings.HasPrefix(trimmed, "{")
}

// ContentType returns the Content-Type header value.
func (p *RequestBodyParser) ContentType() string {
	return p.contentType
}

func jsonValues(body []byte) (url.Values, error) {
	var raw map[string]any
	dec := json.NewDecoder(strings.NewReader(string(body)))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode selection: %w", err)
	}

	values := url.Values{}
	for key, v := range raw {
		switch val := v.(type) {
		case []any:
			for _, item := range val {
				s, err := stringValue(key, item)
				if err != nil {
					return nil, err
				}
				values.Add(key, s)
			}
		case nil:
		default:
			s, err := stringValue(key, val)
			if err != nil {
				return nil, err
			}
			values.Set(key, s)
		}
	}
	return values, nil
}

func stringValue(key string, v any) (string, error) {
	switch val := v.(type) {
	case string:
		return val, nil
	case json.Number:
		return val.String(), nil
	case bool:
		return strconv.FormatBool(val), nil
	default:
		return "", fmt.Errorf("%s: unsupported value %v", key, v)
	}
}

// selectionValues returns the filter parameters of r: the query string for
// GET and HEAD, the body merged over the query string otherwise.
func selectionValues(r *http.Request) (url.Values, error) {
	query := sanitizeValues(r.URL.Query())
	if r.Method == http.MethodGet || r.Method == http.MethodHead {
		return query, nil
	}

	p := NewRequestBodyParser(r)
	if err := p.Parse(); err != nil {
		return nil, err
	}
	for key, vs := range p.Values() {
		query[key] = vs
	}
	return query, nil
}

func sanitizeValues(in url.Values) url.Values {
	out := make(url.Values, len(in))
	for key, vs := range in {
		clean := make([]string, 0, len(vs))
		for _, v := range vs {
			clean = append(clean, sanitizeInput(v))
		}
		out[sanitizeInput(key)] = clean
	}
	return out
}

// sanitizeInput removes control characters except tab and newlines, and trims
// whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
}
