// Package api fetches room lists, room metadata, and message history from the chat
// server's HTTP API.
package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/roomchat/pkg/chat"
)

// maxBody caps how much of a response is read.
const maxBody = 8 << 20

type Client struct {
	base *url.URL
	http *http.Client
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.http = c
	}
}

func NewClient(baseURL string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, errors.New("api client: base URL is empty")
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return nil, errors.Wrap(err, "api client: invalid base URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errors.Errorf("api client: unsupported scheme %q", u.Scheme)
	}
	// requests end with their context; there is no client-side deadline
	c := &Client{
		base: u,
		http: &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ListRooms returns the rooms user participates in.
func (c *Client) ListRooms(ctx context.Context, user chat.UserID) ([]chat.Room, error) {
	body, err := c.get(ctx, userQuery(user), "api", "chats")
	if err != nil {
		return nil, errors.Wrap(err, "list rooms")
	}
	return chat.DecodeRooms(body)
}

func (c *Client) GetRoom(ctx context.Context, room chat.RoomID) (chat.Room, error) {
	body, err := c.get(ctx, nil, "api", "chats", room.String())
	if err != nil {
		return chat.Room{}, errors.Wrapf(err, "get room %s", room)
	}
	return chat.DecodeRoom(body)
}

// History returns room's messages, oldest first, as visible to user.
func (c *Client) History(ctx context.Context, room chat.RoomID, user chat.UserID) ([]chat.Message, error) {
	body, err := c.get(ctx, userQuery(user), "api", "chats", room.String(), "messages")
	if err != nil {
		return nil, errors.Wrapf(err, "history for room %s", room)
	}
	return chat.DecodeMessages(body)
}

func userQuery(user chat.UserID) url.Values {
	q := url.Values{}
	q.Set("userId", strconv.FormatInt(int64(user), 10))
	return q
}

func (c *Client) get(ctx context.Context, query url.Values, elems ...string) ([]byte, error) {
	u := *c.base
	u.Path = path.Join(append([]string{"/", u.Path}, elems...)...)
	if query != nil {
		u.RawQuery = query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	log.Debug().Str("component", "api").Str("url", u.String()).Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).Msg("request finished")
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	if err != nil {
		return nil, errors.Wrap(err, "read body")
	}
	return body, nil
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("HTTP %d", e.Code)
	}
	return fmt.Sprintf("HTTP %d: %s", e.Code, e.Body)
}
