package consultation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/npezzotti/go-consult/internal/database"
	"github.com/npezzotti/go-consult/internal/types"
	"github.com/rs/zerolog"
)

// Client talks to the consultation-record service over its REST surface. It
// also implements database.Repository so the service can be the system of
// record for chat and notes.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	log     zerolog.Logger
}

var _ Records = (*Client)(nil)
var _ database.Repository = (*Client)(nil)

func NewClient(baseURL, token string, httpClient *http.Client, logger zerolog.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    httpClient,
		log:     logger.With().Str("module", "consultation").Logger(),
	}
}

func (c *Client) endpoint(consultationId, resource string, query url.Values) string {
	u := fmt.Sprintf("%s/consultation/%s/%s", c.baseURL, url.PathEscape(consultationId), resource)
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

func (c *Client) do(ctx context.Context, method, endpoint string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()

	c.log.Debug().Str("method", method).Str("url", endpoint).Int("status", resp.StatusCode).Msg("records request")

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: unexpected status %d: %s", method, endpoint, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	if out == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	return nil
}

func (c *Client) Participants(ctx context.Context, consultationId string) (types.Participants, error) {
	var p types.Participants
	if err := c.do(ctx, http.MethodGet, c.endpoint(consultationId, "participants", nil), nil, &p); err != nil {
		return types.Participants{}, err
	}

	if p.ConsultationId == "" {
		p.ConsultationId = consultationId
	}
	// roles come from the slot, not from whatever the payload claims
	p.Patient.Role = types.RolePatient
	p.Doctor.Role = types.RoleDoctor

	return p, nil
}

func (c *Client) ChatEnabled(ctx context.Context, consultationId string) (bool, error) {
	p, err := c.Participants(ctx, consultationId)
	if err != nil {
		return false, err
	}

	return p.ChatEnabled, nil
}

func (c *Client) MarkEnded(ctx context.Context, consultationId string, summary types.CallSummary) error {
	return c.do(ctx, http.MethodPost, c.endpoint(consultationId, "mark-ended", nil), summary, nil)
}

func pageQuery(before int64, limit int) url.Values {
	q := url.Values{}
	if before > 0 {
		q.Set("before", strconv.FormatInt(before, 10))
	}
	q.Set("limit", strconv.Itoa(database.NormalizeLimit(limit)))
	return q
}

func (c *Client) CreateChatMessage(ctx context.Context, msg types.ChatMessage) (types.ChatMessage, error) {
	var created types.ChatMessage
	if err := c.do(ctx, http.MethodPost, c.endpoint(msg.ConsultationId, "chat-history", nil), msg, &created); err != nil {
		return types.ChatMessage{}, err
	}

	return created, nil
}

func (c *Client) GetChatHistory(ctx context.Context, consultationId string, before int64, limit int) ([]types.ChatMessage, error) {
	messages := make([]types.ChatMessage, 0)
	if err := c.do(ctx, http.MethodGet, c.endpoint(consultationId, "chat-history", pageQuery(before, limit)), nil, &messages); err != nil {
		return nil, err
	}

	return messages, nil
}

func (c *Client) CreateNote(ctx context.Context, note types.Note) (types.Note, error) {
	var created types.Note
	if err := c.do(ctx, http.MethodPost, c.endpoint(note.ConsultationId, "notes", nil), note, &created); err != nil {
		return types.Note{}, err
	}

	return created, nil
}

func (c *Client) GetNotes(ctx context.Context, consultationId string, before int64, limit int) ([]types.Note, error) {
	notes := make([]types.Note, 0)
	if err := c.do(ctx, http.MethodGet, c.endpoint(consultationId, "notes", pageQuery(before, limit)), nil, &notes); err != nil {
		return nil, err
	}

	return notes, nil
}
