package rating

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rotisserie/eris"
)

// HTTPStore consumes the standalone player ranking service:
//
//	GET   /players/{name}          -> Record, 404 if unknown
//	POST  /players                 {name, rating?, gameResult?} -> Record (create or update)
//	PATCH /players/{name}/rating   {newRating, gameResult} -> Record, 404 if unknown
//	GET   /players/top?limit=N     -> []Record
type HTTPStore struct {
	baseURL  string
	client   *http.Client
	defaultR int
}

// NewHTTPStore creates a client for the service at baseURL. Players the
// service does not know yet are created with defaultRating. A nil client uses
// one with a 5 second timeout.
func NewHTTPStore(baseURL string, client *http.Client, defaultRating int) *HTTPStore {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	if defaultRating <= 0 {
		defaultRating = DefaultRating
	}
	return &HTTPStore{
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   client,
		defaultR: defaultRating,
	}
}

// Compile-time check that HTTPStore implements Store.
var _ Store = (*HTTPStore)(nil)

// GetRating implements Store. Unknown players are created on the service.
func (h *HTTPStore) GetRating(ctx context.Context, name string) (int, error) {
	if name == "" {
		return 0, ErrInvalidName
	}

	var rec Record
	err := h.do(ctx, http.MethodGet, "/players/"+url.PathEscape(name), nil, &rec)
	if eris.Is(err, ErrNotFound) {
		err = h.do(ctx, http.MethodPost, "/players", map[string]any{
			"name":   name,
			"rating": h.defaultR,
		}, &rec)
	}
	if err != nil {
		return 0, err
	}
	return rec.Rating, nil
}

// SetRating implements Store.
func (h *HTTPStore) SetRating(ctx context.Context, name string, rating int, outcome Outcome) error {
	if name == "" {
		return ErrInvalidName
	}

	err := h.do(ctx, http.MethodPatch, "/players/"+url.PathEscape(name)+"/rating", map[string]any{
		"newRating":  rating,
		"gameResult": outcome,
	}, nil)
	if eris.Is(err, ErrNotFound) {
		// Record vanished (service restart); recreate it with the result.
		err = h.do(ctx, http.MethodPost, "/players", map[string]any{
			"name":       name,
			"rating":     rating,
			"gameResult": outcome,
		}, nil)
	}
	return err
}

// Top implements Store.
func (h *HTTPStore) Top(ctx context.Context, limit int) ([]Entry, error) {
	limit = normalizeLimit(limit)

	var recs []Record
	if err := h.do(ctx, http.MethodGet, "/players/top?limit="+strconv.Itoa(limit), nil, &recs); err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(recs))
	for _, rec := range recs {
		entries = append(entries, Entry{Name: rec.Name, Rating: rec.Rating})
	}
	return entries, nil
}

// do sends one request. 404 maps to ErrNotFound; transport failures and other
// non-2xx statuses map to ErrUnavailable.
func (h *HTTPStore) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return eris.Wrap(err, "encode request")
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, h.baseURL+path, reader)
	if err != nil {
		return eris.Wrapf(err, "build %s %s", method, path)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return eris.Wrapf(ErrUnavailable, "%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return eris.Wrapf(ErrNotFound, "%s %s", method, path)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return eris.Wrapf(ErrUnavailable, "%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return eris.Wrapf(err, "decode %s %s", method, path)
	}
	return nil
}
