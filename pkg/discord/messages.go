package discord

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/go-resty/resty/v2"
)

// Route templates. Path params are escaped by resty.
const (
	routeChannelMessages = "/channels/{channel}/messages"
	routeOwnReaction     = "/channels/{channel}/messages/{message}/reactions/{emoji}/@me"
)

// Message is a channel message. Only the id is used.
type Message struct {
	ID Snowflake `json:"id"`
}

// FetchMessageIDs lists up to limit message ids in channel, newest first.
// With before set, only messages older than it are returned. An empty slice
// means the history is exhausted.
func (c *Client) FetchMessageIDs(ctx context.Context, channel Snowflake, limit int, before *Snowflake) ([]Snowflake, error) {
	if limit < 1 || limit > MaxPageSize {
		return nil, fmt.Errorf("%w: %d (want 1..%d)", ErrInvalidPageSize, limit, MaxPageSize)
	}

	resp, err := c.transport.Do(ctx, func() *resty.Request {
		req := c.transport.NewRequest(resty.MethodGet, routeChannelMessages).
			SetPathParam("channel", channel.String()).
			SetQueryParam("limit", strconv.Itoa(limit))
		if before != nil {
			req.SetQueryParam("before", before.String())
		}
		return req
	})
	if err != nil {
		return nil, err
	}

	var messages []Message
	if err := json.Unmarshal(resp.Body(), &messages); err != nil {
		return nil, &ProtocolError{Op: "decode message list", Err: err}
	}

	ids := make([]Snowflake, 0, len(messages))
	for i, m := range messages {
		if m.ID == 0 {
			return nil, &ProtocolError{Op: "decode message list", Err: fmt.Errorf("message %d has no id", i)}
		}
		ids = append(ids, m.ID)
	}
	return ids, nil
}

// AddReaction reacts to message with emoji as the token's user. Reacting
// twice has no further effect.
func (c *Client) AddReaction(ctx context.Context, channel, message Snowflake, emoji string) error {
	_, err := c.transport.Do(ctx, func() *resty.Request {
		return c.transport.NewRequest(resty.MethodPut, routeOwnReaction).
			SetPathParam("channel", channel.String()).
			SetPathParam("message", message.String()).
			SetPathParam("emoji", emoji).
			SetHeader("Content-Length", "0")
	})
	return err
}
