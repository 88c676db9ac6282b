// Package api is the REST client for the chat server's request/response
// endpoints. Real-time traffic goes over the STOMP channel instead.
package api

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
	"time"

	"github.com/AngkinV/Nexus-Chat/internal/event"
)

// Error is a failed REST call. Message comes from the server's JSON body
// when it has one, else a generic text naming the operation.
type Error struct {
	Op      string
	Status  int
	Message string
}

func (e *Error) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return fmt.Sprintf("%s: %s (status %d)", e.Op, e.Message, e.Status)
}

// Client talks to the server's /api endpoints.
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      func() string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithToken sets a source for the bearer token sent on every request.
func WithToken(token func() string) Option {
	return func(c *Client) { c.token = token }
}

// New creates a client for baseURL, e.g. http://localhost:8080/api.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// UserChats lists every conversation the user belongs to.
func (c *Client) UserChats(ctx context.Context, userID int64) ([]Chat, error) {
	var out []Chat
	err := c.do(ctx, "load chats", http.MethodGet, "/chats/user/"+id(userID), nil, nil, &out)
	return out, err
}

// CreateDirectChat opens (or returns the existing) direct chat with contactID.
func (c *Client) CreateDirectChat(ctx context.Context, userID, contactID int64) (Chat, error) {
	var out Chat
	q := url.Values{"userId": {id(userID)}, "contactId": {id(contactID)}}
	err := c.do(ctx, "create direct chat", http.MethodPost, "/chats/direct", q, nil, &out)
	return out, err
}

// CreateGroupChat creates a group owned by userID.
func (c *Client) CreateGroupChat(ctx context.Context, userID int64, name string, memberIDs []int64) (Chat, error) {
	var out Chat
	q := url.Values{"userId": {id(userID)}}
	body := map[string]any{"name": name, "memberIds": memberIDs}
	err := c.do(ctx, "create group chat", http.MethodPost, "/chats/group", q, body, &out)
	return out, err
}

// ChatMessages fetches one history page, oldest first.
func (c *Client) ChatMessages(ctx context.Context, chatID, userID int64, page, size int) ([]event.ChatMessage, error) {
	q := url.Values{
		"userId": {id(userID)},
		"page":   {strconv.Itoa(page)},
		"size":   {strconv.Itoa(size)},
	}
	var raw json.RawMessage
	if err := c.do(ctx, "load messages", http.MethodGet, "/messages/chat/"+id(chatID), q, nil, &raw); err != nil {
		return nil, err
	}
	return decodePage(raw)
}

// MarkChatRead marks every message in chatID as read by userID.
func (c *Client) MarkChatRead(ctx context.Context, chatID, userID int64) error {
	q := url.Values{"userId": {id(userID)}}
	return c.do(ctx, "mark read", http.MethodPut, "/messages/chat/"+id(chatID)+"/read", q, nil, nil)
}

// Contacts lists the user's accepted contacts.
func (c *Client) Contacts(ctx context.Context, userID int64) ([]event.User, error) {
	var out []event.User
	err := c.do(ctx, "load contacts", http.MethodGet, "/contacts/user/"+id(userID)+"/detailed", nil, nil, &out)
	return out, err
}

// AddContact adds contactID directly or files a request, as the peer's
// privacy settings decide.
func (c *Client) AddContact(ctx context.Context, userID, contactID int64, message string) (AddContactResult, error) {
	body := map[string]any{"userId": userID, "contactUserId": contactID}
	if message != "" {
		body["message"] = message
	}
	var out AddContactResult
	if err := c.do(ctx, "add contact", http.MethodPost, "/contacts", nil, body, &out); err != nil {
		return AddContactResult{}, err
	}
	return out, out.validate()
}

// RemoveContact drops contactID from the user's contacts.
func (c *Client) RemoveContact(ctx context.Context, userID, contactID int64) error {
	body := map[string]any{"userId": userID, "contactUserId": contactID}
	return c.do(ctx, "remove contact", http.MethodDelete, "/contacts", nil, body, nil)
}

// PendingRequests lists inbound requests awaiting an answer.
func (c *Client) PendingRequests(ctx context.Context, userID int64) ([]event.ContactRequest, error) {
	var out []event.ContactRequest
	err := c.do(ctx, "load pending requests", http.MethodGet, "/contacts/requests/pending/"+id(userID), nil, nil, &out)
	return out, err
}

// SentRequests lists the user's outbound requests still pending.
func (c *Client) SentRequests(ctx context.Context, userID int64) ([]event.ContactRequest, error) {
	var out []event.ContactRequest
	err := c.do(ctx, "load sent requests", http.MethodGet, "/contacts/requests/sent/"+id(userID), nil, nil, &out)
	return out, err
}

// AcceptRequest accepts an inbound request and returns the new contact.
func (c *Client) AcceptRequest(ctx context.Context, requestID, userID int64) (event.User, error) {
	var out event.User
	q := url.Values{"userId": {id(userID)}}
	err := c.do(ctx, "accept request", http.MethodPost, "/contacts/requests/"+id(requestID)+"/accept", q, nil, &out)
	return out, err
}

// RejectRequest rejects an inbound request.
func (c *Client) RejectRequest(ctx context.Context, requestID, userID int64) error {
	q := url.Values{"userId": {id(userID)}}
	return c.do(ctx, "reject request", http.MethodPost, "/contacts/requests/"+id(requestID)+"/reject", q, nil, nil)
}

func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, body, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: marshal request: %w", op, err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return fmt.Errorf("%s: create request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != nil {
		if tok := c.token(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &Error{Op: op, Message: err.Error()}
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: read response: %w", op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &Error{Op: op, Status: resp.StatusCode, Message: serverMessage(data, op)}
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}

func serverMessage(data []byte, op string) string {
	var body struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(data, &body) == nil && body.Message != "" {
		return body.Message
	}
	return op + " failed"
}

// decodePage accepts either a bare array or a paged object with a content
// array.
func decodePage(raw json.RawMessage) ([]event.ChatMessage, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var list []event.ChatMessage
	if raw[0] == '[' {
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, fmt.Errorf("load messages: decode response: %w", err)
		}
		return list, nil
	}
	var page struct {
		Content []event.ChatMessage `json:"content"`
	}
	if err := json.Unmarshal(raw, &page); err != nil {
		return nil, fmt.Errorf("load messages: decode response: %w", err)
	}
	return page.Content, nil
}

func id(v int64) string { return strconv.FormatInt(v, 10) }
