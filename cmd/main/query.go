package main

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/CTAG07/ecg/pkg/compose"
)

const maxFormBytes = 1 << 20

var errMalformedQuery = errors.New("malformed query string")

// parseSelectionQuery decodes a raw query string into a generation request.
// Repeated fields may use the plain name, the bracketed name or an indexed
// name (language, language[], language[0]); values are kept in the order
// they appear. For theme and font the first value wins. Unknown fields are
// ignored.
func parseSelectionQuery(raw string, req *compose.Request) error {
	for raw != "" {
		var pair string
		pair, raw, _ = strings.Cut(raw, "&")
		if pair == "" {
			continue
		}
		rawKey, rawValue, _ := strings.Cut(pair, "=")

		key, err := url.QueryUnescape(rawKey)
		if err != nil {
			return fmt.Errorf("%w: invalid key %q: %v", errMalformedQuery, rawKey, err)
		}
		value, err := url.QueryUnescape(rawValue)
		if err != nil {
			return fmt.Errorf("%w: invalid value for %q: %v", errMalformedQuery, key, err)
		}

		name, err := fieldName(key)
		if err != nil {
			return err
		}
		switch name {
		case "feature":
			req.Features = append(req.Features, value)
		case "language":
			req.Languages = append(req.Languages, value)
		case "theme":
			if req.Theme == "" {
				req.Theme = value
			}
		case "font":
			if req.Font == "" {
				req.Font = value
			}
		}
	}
	return nil
}

// fieldName strips an empty or numeric bracket suffix from key.
func fieldName(key string) (string, error) {
	open := strings.IndexByte(key, '[')
	if open < 0 {
		if strings.IndexByte(key, ']') >= 0 {
			return "", fmt.Errorf("%w: unbalanced brackets in %q", errMalformedQuery, key)
		}
		return key, nil
	}
	if !strings.HasSuffix(key, "]") {
		return "", fmt.Errorf("%w: unbalanced brackets in %q", errMalformedQuery, key)
	}
	index := key[open+1 : len(key)-1]
	for _, c := range index {
		if c < '0' || c > '9' {
			return "", fmt.Errorf("%w: unsupported index %q in %q", errMalformedQuery, index, key)
		}
	}
	return key[:open], nil
}

// parseSelection decodes the request's query string and, for form posts, its
// url-encoded body. Body values follow query values.
func parseSelection(w http.ResponseWriter, r *http.Request) (compose.Request, error) {
	var req compose.Request
	if err := parseSelectionQuery(r.URL.RawQuery, &req); err != nil {
		return req, err
	}
	if r.Method != http.MethodPost {
		return req, nil
	}

	ct := r.Header.Get("Content-Type")
	if ct != "" {
		mediaType, _, err := mime.ParseMediaType(ct)
		if err != nil || mediaType != "application/x-www-form-urlencoded" {
			return req, fmt.Errorf("%w: unsupported content type %q", errMalformedQuery, ct)
		}
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxFormBytes))
	if err != nil {
		return req, fmt.Errorf("%w: failed to read body: %v", errMalformedQuery, err)
	}
	if err = parseSelectionQuery(string(body), &req); err != nil {
		return req, err
	}
	return req, nil
}

// encodeSelection renders req back into the bracketed query form.
func encodeSelection(req compose.Request) string {
	values := url.Values{}
	if req.Theme != "" {
		values.Set("theme", req.Theme)
	}
	if req.Font != "" {
		values.Set("font", req.Font)
	}
	for _, f := range req.Features {
		values.Add("feature[]", f)
	}
	for _, l := range req.Languages {
		values.Add("language[]", l)
	}
	return values.Encode()
}
