// Package conversations is the request/response side of the messaging core:
// history, sends and mutations against the chat backend.
package conversations

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/render"

	"github.com/kgellert/hodatay-classroom/internal/channels"
	"github.com/kgellert/hodatay-classroom/internal/errs"
	response "github.com/kgellert/hodatay-classroom/internal/lib"
	"github.com/kgellert/hodatay-classroom/internal/lib/logger/sl"
	"github.com/kgellert/hodatay-classroom/internal/messages"
	userdomain "github.com/kgellert/hodatay-classroom/internal/users/domain"
	userhandlers "github.com/kgellert/hodatay-classroom/internal/users/handlers"
)

type Repository interface {
	ListChannels(ctx context.Context) ([]channels.Channel, error)
	FetchHistory(ctx context.Context, ref messages.ConversationRef, cursor messages.Cursor) ([]messages.Message, error)
	Send(ctx context.Context, ref messages.ConversationRef, draft messages.Draft) (messages.Message, error)
	Edit(ctx context.Context, messageID, text string, actorID int64) (messages.Message, error)
	Delete(ctx context.Context, messageID string, actorID int64) error
	AddReaction(ctx context.Context, messageID, emoji string, actorID int64) error
	RemoveReaction(ctx context.Context, messageID, emoji string, actorID int64) error
	InviteMembers(ctx context.Context, channelID string, userIDs []int64) error
	ListDirectConversations(ctx context.Context) ([]messages.DirectConversation, error)
	CreateChannel(ctx context.Context, name string, memberIDs []int64) (channels.Channel, error)
}

type Client struct {
	baseURL string
	userID  int64
	timeout time.Duration
	http    *http.Client
	log     *slog.Logger
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

// New builds a client acting as userID. Every call is bounded by timeout.
func New(baseURL string, userID int64, timeout time.Duration, log *slog.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		userID:  userID,
		timeout: timeout,
		http:    &http.Client{},
		log:     log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) UserID() int64 { return c.userID }

func (c *Client) ListChannels(ctx context.Context) ([]channels.Channel, error) {
	var out channels.GetChannelsResponse
	if err := c.do(ctx, "conversations.ListChannels", http.MethodGet, "/channels", nil, &out); err != nil {
		return nil, err
	}
	return out.Channels, nil
}

func historyPath(ref messages.ConversationRef) (string, error) {
	switch {
	case ref.IsChannel():
		return "/channels/" + url.PathEscape(ref.ChannelID) + "/messages", nil
	case ref.IsDirect():
		return fmt.Sprintf("/dm/%d/%d", ref.UserA, ref.UserB), nil
	}
	return "", messages.ErrInvalidConversation
}

func (c *Client) FetchHistory(ctx context.Context, ref messages.ConversationRef, cursor messages.Cursor) ([]messages.Message, error) {
	const op = "conversations.FetchHistory"

	path, err := historyPath(ref.Normalize())
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	if cursor.Before != "" {
		q.Set("before", cursor.Before)
	}
	if cursor.Limit > 0 {
		q.Set("limit", strconv.Itoa(cursor.Limit))
	}
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var out messages.GetMessagesResponse
	if err := c.do(ctx, op, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	if out.Messages == nil {
		return []messages.Message{}, nil
	}
	return out.Messages, nil
}

// Send validates the draft before touching the network.
func (c *Client) Send(ctx context.Context, ref messages.ConversationRef, draft messages.Draft) (messages.Message, error) {
	const op = "conversations.Send"

	if err := draft.Validate(); err != nil {
		return messages.Message{}, err
	}

	ref = ref.Normalize()
	req := messages.CreateMessageRequest{
		ClientID:    draft.ClientID,
		Text:        draft.Text,
		Attachments: draft.Attachments,
	}

	var path string
	switch {
	case ref.IsChannel():
		path = "/channels/" + url.PathEscape(ref.ChannelID) + "/messages"
	case ref.IsDirect() && ref.Includes(c.userID):
		path = "/dm"
		req.RecipientID = ref.Peer(c.userID)
	default:
		return messages.Message{}, messages.ErrInvalidConversation
	}

	var out messages.CreateMessageResponse
	if err := c.do(ctx, op, http.MethodPost, path, req, &out); err != nil {
		return messages.Message{}, err
	}
	return out.Message, nil
}

func (c *Client) Edit(ctx context.Context, messageID, text string, actorID int64) (messages.Message, error) {
	var out messages.CreateMessageResponse
	err := c.do(ctx, "conversations.Edit", http.MethodPatch, "/messages/"+url.PathEscape(messageID),
		messages.EditMessageRequest{Text: text, ActorID: actorID}, &out)
	if err != nil {
		return messages.Message{}, err
	}
	return out.Message, nil
}

func (c *Client) Delete(ctx context.Context, messageID string, actorID int64) error {
	return c.do(ctx, "conversations.Delete", http.MethodDelete, "/messages/"+url.PathEscape(messageID),
		messages.DeleteMessageRequest{ActorID: actorID}, nil)
}

func (c *Client) AddReaction(ctx context.Context, messageID, emoji string, actorID int64) error {
	if strings.TrimSpace(emoji) == "" {
		return messages.ErrEmojiIsRequired
	}
	return c.do(ctx, "conversations.AddReaction", http.MethodPost, "/messages/"+url.PathEscape(messageID)+"/reactions",
		messages.ReactionRequest{Emoji: emoji, ActorID: actorID}, nil)
}

func (c *Client) RemoveReaction(ctx context.Context, messageID, emoji string, actorID int64) error {
	if strings.TrimSpace(emoji) == "" {
		return messages.ErrEmojiIsRequired
	}
	path := "/messages/" + url.PathEscape(messageID) + "/reactions/" + url.PathEscape(emoji)
	return c.do(ctx, "conversations.RemoveReaction", http.MethodDelete, path,
		messages.ReactionRequest{ActorID: actorID}, nil)
}

func (c *Client) InviteMembers(ctx context.Context, channelID string, userIDs []int64) error {
	ids := channels.UniquePositive(userIDs)
	if len(ids) == 0 {
		return channels.ErrEmptyParticipants
	}
	return c.do(ctx, "conversations.InviteMembers", http.MethodPost, "/channels/"+url.PathEscape(channelID)+"/members",
		channels.InviteMembersRequest{UserIDs: ids}, nil)
}

func (c *Client) ListDirectConversations(ctx context.Context) ([]messages.DirectConversation, error) {
	var out messages.GetDirectConversationsResponse
	if err := c.do(ctx, "conversations.ListDirectConversations", http.MethodGet, "/dm", nil, &out); err != nil {
		return nil, err
	}
	return out.Conversations, nil
}

func (c *Client) CreateChannel(ctx context.Context, name string, memberIDs []int64) (channels.Channel, error) {
	if channels.NormalizeName(name) == "" {
		return channels.Channel{}, channels.ErrEmptyName
	}

	var out channels.GetChannelResponse
	err := c.do(ctx, "conversations.CreateChannel", http.MethodPost, "/channels",
		channels.CreateChannelRequest{Name: name, MemberIDs: memberIDs}, &out)
	if err != nil {
		return channels.Channel{}, err
	}
	return out.Channel, nil
}

// Me resolves the acting user, role included.
func (c *Client) Me(ctx context.Context) (userdomain.User, error) {
	var resp userdomain.SignInResponse
	if err := c.do(ctx, "conversations.Me", http.MethodGet, "/me", nil, &resp); err != nil {
		return userdomain.User{}, err
	}
	return resp.User, nil
}

func (c *Client) MarkRead(ctx context.Context, channelID string) error {
	return c.do(ctx, "conversations.MarkRead", http.MethodPost, "/channels/"+url.PathEscape(channelID)+"/read", nil, nil)
}

// do performs one bounded round trip. Non-2xx answers come back as taxonomy
// errors, network failures and timeouts as errs.ErrTransport.
func (c *Client) do(ctx context.Context, op, method, path string, body, out any) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encode body: %w", op, err)
		}
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.AddCookie(&http.Cookie{Name: userhandlers.CookieName, Value: strconv.FormatInt(c.userID, 10)})

	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Warn("request failed", slog.String("op", op), slog.String("path", path), sl.Err(err))
		return fmt.Errorf("%s: %w: %w", op, errs.ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e response.ErrorResponse
		_ = render.DecodeJSON(resp.Body, &e)
		return fmt.Errorf("%s: %w", op, errs.FromStatus(resp.StatusCode, e.Error.Code, e.Error.Message))
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}

	if err := render.DecodeJSON(resp.Body, out); err != nil {
		return fmt.Errorf("%s: decode response: %w: %w", op, errs.ErrTransport, err)
	}
	return nil
}
