// Package api is the REST client for the Pulse chat backend. The realtime
// layer only pushes events; everything durable (chat lists, message
// history, sends, read marks) goes through these endpoints.
package api

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/pkg/errors"
	"resty.dev/v3"

	"github.com/pulsesocial/pulse-go/internal/auth"
	"github.com/pulsesocial/pulse-go/internal/model"
	"github.com/pulsesocial/pulse-go/internal/version"
)

const defaultTimeout = 15 * time.Second

// Upload is a local attachment included with a message send.
type Upload struct {
	Name        string
	ContentType string
	Reader      io.Reader
}

// Client talks to the Pulse REST API with bearer-token auth.
type Client struct {
	http   *resty.Client
	tokens auth.TokenSource
}

// NewClient creates a REST client for the given base URL.
func NewClient(baseURL string, tokens auth.TokenSource) *Client {
	return &Client{
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(defaultTimeout).
			SetHeader("User-Agent", "pulse-go/"+version.Version()),
		tokens: tokens,
	}
}

// Close releases the underlying HTTP resources.
func (c *Client) Close() error {
	return c.http.Close()
}

func (c *Client) request(ctx context.Context) (*resty.Request, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}
	return c.http.R().SetContext(ctx).SetAuthToken(token), nil
}

func checkStatus(res *resty.Response, op string) error {
	if res.IsError() {
		return errors.Errorf("%s: server returned %s", op, res.Status())
	}
	return nil
}

// ListChats fetches the chat list for the authenticated user.
func (c *Client) ListChats(ctx context.Context) ([]model.Chat, error) {
	req, err := c.request(ctx)
	if err != nil {
		return nil, err
	}
	var chats []model.Chat
	res, err := req.SetResult(&chats).Get("/v1/chats")
	if err != nil {
		return nil, errors.Wrap(err, "list chats")
	}
	if err := checkStatus(res, "list chats"); err != nil {
		return nil, err
	}
	return chats, nil
}

// CreateOrGetChat returns the chat with the given participant, creating it
// when none exists yet.
func (c *Client) CreateOrGetChat(ctx context.Context, participantID string) (*model.Chat, error) {
	req, err := c.request(ctx)
	if err != nil {
		return nil, err
	}
	var chat model.Chat
	res, err := req.
		SetBody(map[string]string{"participantId": participantID}).
		SetResult(&chat).
		Post("/v1/chats")
	if err != nil {
		return nil, errors.Wrap(err, "create chat")
	}
	if err := checkStatus(res, "create chat"); err != nil {
		return nil, err
	}
	return &chat, nil
}

// messagePage is the paginated message-list response shape.
type messagePage struct {
	Messages []model.Message `json:"messages"`
	HasMore  bool            `json:"hasMore"`
}

// ListMessages fetches one page of a chat's message history, newest first.
func (c *Client) ListMessages(ctx context.Context, chatID string, page, size int) ([]model.Message, bool, error) {
	req, err := c.request(ctx)
	if err != nil {
		return nil, false, err
	}
	var out messagePage
	res, err := req.
		SetQueryParam("page", fmt.Sprintf("%d", page)).
		SetQueryParam("size", fmt.Sprintf("%d", size)).
		SetResult(&out).
		Get("/v1/chats/" + chatID + "/messages")
	if err != nil {
		return nil, false, errors.Wrap(err, "list messages")
	}
	if err := checkStatus(res, "list messages"); err != nil {
		return nil, false, err
	}
	return out.Messages, out.HasMore, nil
}

// SendMessage posts a message, with optional multipart attachments, and
// returns the server-confirmed message.
func (c *Client) SendMessage(ctx context.Context, chatID, content string, uploads []Upload) (*model.Message, error) {
	req, err := c.request(ctx)
	if err != nil {
		return nil, err
	}
	req.SetFormData(map[string]string{"content": content})
	for _, up := range uploads {
		req.SetMultipartField("attachments", up.Name, up.ContentType, up.Reader)
	}
	var msg model.Message
	res, err := req.
		SetResult(&msg).
		Post("/v1/chats/" + chatID + "/messages")
	if err != nil {
		return nil, errors.Wrap(err, "send message")
	}
	if err := checkStatus(res, "send message"); err != nil {
		return nil, err
	}
	return &msg, nil
}

// DeleteMessage removes a single message.
func (c *Client) DeleteMessage(ctx context.Context, chatID, messageID string) error {
	req, err := c.request(ctx)
	if err != nil {
		return err
	}
	res, err := req.Delete("/v1/chats/" + chatID + "/messages/" + messageID)
	if err != nil {
		return errors.Wrap(err, "delete message")
	}
	return checkStatus(res, "delete message")
}

// DeleteChat removes a chat and its history.
func (c *Client) DeleteChat(ctx context.Context, chatID string) error {
	req, err := c.request(ctx)
	if err != nil {
		return err
	}
	res, err := req.Delete("/v1/chats/" + chatID)
	if err != nil {
		return errors.Wrap(err, "delete chat")
	}
	return checkStatus(res, "delete chat")
}

// MarkAsRead zeroes the unread counter for a chat on the server.
func (c *Client) MarkAsRead(ctx context.Context, chatID string) error {
	req, err := c.request(ctx)
	if err != nil {
		return err
	}
	res, err := req.Post("/v1/chats/" + chatID + "/read")
	if err != nil {
		return errors.Wrap(err, "mark as read")
	}
	return checkStatus(res, "mark as read")
}
