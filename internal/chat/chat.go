// Package chat sends and updates chat messages through the Slack Web API.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/slack-go/slack"
)

// Message is an outbound chat message. TS selects the message to replace on Update.
type Message struct {
	Channel string
	TS      string
	Text    string
	Blocks  []slack.Block
}

// PostResult identifies a posted message.
type PostResult struct {
	Channel string `json:"channel"`
	TS      string `json:"ts"`
}

// Messenger is the chat send/update boundary.
type Messenger interface {
	Post(ctx context.Context, msg Message) (PostResult, error)
	Update(ctx context.Context, msg Message) error
}

// API is the subset of *slack.Client used here.
type API interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
	UpdateMessageContext(ctx context.Context, channelID, timestamp string, options ...slack.MsgOption) (string, string, string, error)
}

// TokenFunc resolves the bot token, typically from the parameter store.
type TokenFunc func(ctx context.Context) (string, error)

// Client is a Messenger backed by slack-go. The underlying API client is
// built on first use from the token source and reused afterwards.
type Client struct {
	username string
	token    TokenFunc
	options  []slack.Option

	mu  sync.Mutex
	api API
}

// New creates a client that resolves its token lazily.
func New(token TokenFunc, username string, options ...slack.Option) *Client {
	return &Client{token: token, username: username, options: options}
}

// NewWithAPI creates a client around an existing API implementation.
func NewWithAPI(api API, username string) *Client {
	return &Client{api: api, username: username}
}

func (c *Client) client(ctx context.Context) (API, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.api != nil {
		return c.api, nil
	}
	if c.token == nil {
		return nil, errors.New("slack token source is not configured")
	}
	token, err := c.token(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve slack bot token: %w", err)
	}
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("slack bot token is empty")
	}
	c.api = slack.New(token, c.options...)
	return c.api, nil
}

func (c *Client) msgOptions(msg Message) []slack.MsgOption {
	opts := []slack.MsgOption{slack.MsgOptionText(msg.Text, false)}
	if c.username != "" {
		opts = append(opts, slack.MsgOptionUsername(c.username))
	}
	if len(msg.Blocks) > 0 {
		opts = append(opts, slack.MsgOptionBlocks(msg.Blocks...))
	}
	return opts
}

// Post sends msg to msg.Channel.
func (c *Client) Post(ctx context.Context, msg Message) (PostResult, error) {
	if strings.TrimSpace(msg.Channel) == "" {
		return PostResult{}, errors.New("slack channel is required")
	}
	api, err := c.client(ctx)
	if err != nil {
		return PostResult{}, err
	}
	channel, ts, err := api.PostMessageContext(ctx, msg.Channel, c.msgOptions(msg)...)
	if err != nil {
		return PostResult{}, fmt.Errorf("send slack message: %w", err)
	}
	slog.Debug("slack message posted", "channel", channel, "ts", ts)
	return PostResult{Channel: channel, TS: ts}, nil
}

// Update replaces the message identified by msg.Channel and msg.TS.
func (c *Client) Update(ctx context.Context, msg Message) error {
	if strings.TrimSpace(msg.Channel) == "" || strings.TrimSpace(msg.TS) == "" {
		return fmt.Errorf("slack update requires channel and ts, got channel=%q ts=%q", msg.Channel, msg.TS)
	}
	api, err := c.client(ctx)
	if err != nil {
		return err
	}
	if _, _, _, err := api.UpdateMessageContext(ctx, msg.Channel, msg.TS, c.msgOptions(msg)...); err != nil {
		return fmt.Errorf("update slack message: %w", err)
	}
	return nil
}
