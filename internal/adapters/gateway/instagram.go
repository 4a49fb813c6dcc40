package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"gitlab.com/timkado/api/daisi-webhook-worker/internal/adapters/config"
	"gitlab.com/timkado/api/daisi-webhook-worker/internal/adapters/metrics"
	"gitlab.com/timkado/api/daisi-webhook-worker/internal/domain"
)

const (
	opReplyComment      = "reply_comment"
	opReplyMessage      = "reply_message"
	opListConversations = "list_conversations"

	graphTimeLayout = "2006-01-02T15:04:05-0700"

	conversationFields = "participants,messages{id,message,from,to,created_time,attachments}"
)

// Graph error codes that signal throttling or a temporary outage.
var transientGraphCodes = map[int]bool{1: true, 2: true, 4: true, 17: true, 32: true, 341: true, 613: true}

// InstagramClient calls the Instagram Graph API on behalf of client accounts.
type InstagramClient struct {
	httpClient *http.Client
	baseURL    string
	pageSize   int
	limiter    *rate.Limiter
	logger     domain.Logger
}

// NewInstagramClient builds the client. Besides the per-account window enforced by the
// RateLimiter, a process-wide token bucket keeps one replica from bursting the API.
func NewInstagramClient(cfgProvider config.Provider, logger domain.Logger) *InstagramClient {
	gwCfg := cfgProvider.Get().Gateway

	calls := gwCfg.LocalCallsPerWindow
	if calls <= 0 {
		calls = 10
	}
	window := time.Duration(gwCfg.LocalWindowSeconds) * time.Second
	if window <= 0 {
		window = time.Minute
	}

	return &InstagramClient{
		httpClient: &http.Client{Timeout: time.Duration(gwCfg.TimeoutSeconds) * time.Second},
		baseURL:    strings.TrimRight(gwCfg.BaseURL, "/"),
		pageSize:   gwCfg.PageSize,
		limiter:    rate.NewLimiter(rate.Every(window/time.Duration(calls)), calls),
		logger:     logger,
	}
}

type graphError struct {
	Message      string `json:"message"`
	Type         string `json:"type"`
	Code         int    `json:"code"`
	ErrorSubcode int    `json:"error_subcode"`
	IsTransient  bool   `json:"is_transient"`
}

type graphActor struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

type graphAttachment struct {
	MimeType  string `json:"mime_type"`
	FileURL   string `json:"file_url"`
	ImageData *struct {
		URL string `json:"url"`
	} `json:"image_data"`
	VideoData *struct {
		URL string `json:"url"`
	} `json:"video_data"`
}

type graphMessage struct {
	ID      string     `json:"id"`
	Message string     `json:"message"`
	From    graphActor `json:"from"`
	To      struct {
		Data []graphActor `json:"data"`
	} `json:"to"`
	CreatedTime string `json:"created_time"`
	Attachments struct {
		Data []graphAttachment `json:"data"`
	} `json:"attachments"`
}

type graphConversation struct {
	ID           string `json:"id"`
	Participants struct {
		Data []graphActor `json:"data"`
	} `json:"participants"`
	Messages struct {
		Data []graphMessage `json:"data"`
	} `json:"messages"`
}

type graphConversationList struct {
	Data   []graphConversation `json:"data"`
	Paging struct {
		Cursors struct {
			After string `json:"after"`
		} `json:"cursors"`
		Next string `json:"next"`
	} `json:"paging"`
}

// ReplyToComment posts a public reply under a comment and returns the reply's ID.
func (c *InstagramClient) ReplyToComment(ctx context.Context, creds domain.GatewayCredentials, commentID, text string) (string, error) {
	params := url.Values{}
	params.Set("message", text)

	var out struct {
		ID string `json:"id"`
	}
	path := fmt.Sprintf("/%s/replies", url.PathEscape(commentID))
	if err := c.do(ctx, opReplyComment, http.MethodPost, path, creds, params, nil, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

// ReplyToMessage sends a direct message to recipientID and returns the message ID.
func (c *InstagramClient) ReplyToMessage(ctx context.Context, creds domain.GatewayCredentials, recipientID, text string) (string, error) {
	body := map[string]any{
		"recipient": map[string]string{"id": recipientID},
		"message":   map[string]string{"text": text},
	}
	var out struct {
		RecipientID string `json:"recipient_id"`
		MessageID   string `json:"message_id"`
	}
	path := fmt.Sprintf("/%s/messages", url.PathEscape(creds.InstagramAccountID))
	if err := c.do(ctx, opReplyMessage, http.MethodPost, path, creds, nil, body, &out); err != nil {
		return "", err
	}
	return out.MessageID, nil
}

// ListConversations returns one page of the account's conversations with their messages.
// An empty NextCursor marks the last page.
func (c *InstagramClient) ListConversations(ctx context.Context, creds domain.GatewayCredentials, cursor string) (*domain.ConversationPage, error) {
	params := url.Values{}
	params.Set("platform", "instagram")
	params.Set("fields", conversationFields)
	if c.pageSize > 0 {
		params.Set("limit", fmt.Sprint(c.pageSize))
	}
	if cursor != "" {
		params.Set("after", cursor)
	}

	var out graphConversationList
	path := fmt.Sprintf("/%s/conversations", url.PathEscape(creds.InstagramAccountID))
	if err := c.do(ctx, opListConversations, http.MethodGet, path, creds, params, nil, &out); err != nil {
		return nil, err
	}

	page := &domain.ConversationPage{}
	if out.Paging.Next != "" {
		page.NextCursor = out.Paging.Cursors.After
	}
	for _, gc := range out.Data {
		conv := domain.RemoteConversation{ID: gc.ID}
		for _, p := range gc.Participants.Data {
			conv.Participants = append(conv.Participants, domain.Actor{ID: p.ID, Username: p.Username})
		}
		for _, gm := range gc.Messages.Data {
			conv.Messages = append(conv.Messages, toRemoteMessage(gm))
		}
		page.Conversations = append(page.Conversations, conv)
	}
	return page, nil
}

func toRemoteMessage(gm graphMessage) domain.RemoteMessage {
	m := domain.RemoteMessage{
		ID:       gm.ID,
		Text:     gm.Message,
		FromID:   gm.From.ID,
		FromName: gm.From.Username,
	}
	if len(gm.To.Data) > 0 {
		m.ToID = gm.To.Data[0].ID
	}
	if t, err := time.Parse(graphTimeLayout, gm.CreatedTime); err == nil {
		m.CreatedAt = t.UTC()
	}
	for _, a := range gm.Attachments.Data {
		m.Attachments = append(m.Attachments, toAttachment(a))
	}
	return m
}

func toAttachment(a graphAttachment) domain.Attachment {
	switch {
	case a.ImageData != nil:
		return domain.Attachment{Type: "image", URL: a.ImageData.URL}
	case a.VideoData != nil:
		return domain.Attachment{Type: "video", URL: a.VideoData.URL}
	case strings.HasPrefix(a.MimeType, "audio/"):
		return domain.Attachment{Type: "audio", URL: a.FileURL}
	}
	return domain.Attachment{Type: "file", URL: a.FileURL}
}

func (c *InstagramClient) do(ctx context.Context, op, method, path string, creds domain.GatewayCredentials, params url.Values, body any, out any) (err error) {
	defer func() {
		result := "ok"
		if err != nil {
			result = "error"
		}
		metrics.IncrementGatewayCall(op, result)
	}()

	if err := c.limiter.Wait(ctx); err != nil {
		return &domain.ExternalError{Op: op, Retryable: true, Err: err}
	}


	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: failed to encode request: %w", op, err)
		}
		reader = bytes.NewReader(payload)
	}

	target := c.baseURL + path
	if len(params) > 0 {
		target += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("%s: failed to create request: %w", op, err)
	}
	// The token travels in a header so transport errors, which quote the URL, never carry it.
	req.Header.Set("Authorization", "Bearer "+creds.AccessToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &domain.ExternalError{Op: op, Retryable: true, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return &domain.ExternalError{Op: op, StatusCode: resp.StatusCode, Retryable: true, Err: err}
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return classify(op, resp.StatusCode, raw)
	}
	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return &domain.ExternalError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to decode response: %w", err)}
		}
	}
	return nil
}

// classify turns a Graph error response into an ExternalError. Throttling, server errors
// and errors the API marks transient are retryable; everything else is permanent.
func classify(op string, status int, raw []byte) *domain.ExternalError {
	var envelope struct {
		Error *graphError `json:"error"`
	}
	ee := &domain.ExternalError{Op: op, StatusCode: status}
	if err := json.Unmarshal(raw, &envelope); err == nil && envelope.Error != nil {
		ee.Code = envelope.Error.Code
		ee.Err = errors.New(envelope.Error.Message)
		ee.Retryable = envelope.Error.IsTransient || transientGraphCodes[envelope.Error.Code]
	} else {
		ee.Err = fmt.Errorf("unexpected response: %s", truncate(string(raw), 200))
	}
	if status == http.StatusTooManyRequests || status >= http.StatusInternalServerError {
		ee.Retryable = true
	}
	return ee
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
