package provider

import (
	"context"
	"fmt"

	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

// GmailClient lists and fetches messages for one user per call; it holds no
// per-user state.
type GmailClient struct {
	opts Options
}

func NewGmailClient(opts Options) *GmailClient {
	return &GmailClient{opts: opts}
}

func (c *GmailClient) service(ctx context.Context, accessToken string) (*gmail.Service, error) {
	srv, err := gmail.NewService(ctx, option.WithHTTPClient(httpClient(ctx, accessToken)))
	if err != nil {
		return nil, fmt.Errorf("unable to create Gmail service: %w", err)
	}
	return srv, nil
}

// ListMessageIDs returns one page of message ids matching the query.
func (c *GmailClient) ListMessageIDs(ctx context.Context, accessToken, query, pageToken string, pageSize int64) (MailPage, error) {
	srv, err := c.service(ctx, accessToken)
	if err != nil {
		return MailPage{}, err
	}

	if pageSize <= 0 {
		pageSize = 50
	}
	if pageSize > 500 {
		pageSize = 500 // Gmail API maximum
	}

	var resp *gmail.ListMessagesResponse
	err = c.opts.Retry.Do(ctx, func() error {
		callCtx, cancel := context.WithTimeout(ctx, c.opts.requestTimeout())
		defer cancel()

		call := srv.Users.Messages.List("me").MaxResults(pageSize).Context(callCtx)
		if query != "" {
			call = call.Q(query)
		}
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		resp, err = call.Do()
		return err
	})
	if err != nil {
		return MailPage{}, fmt.Errorf("unable to list messages: %w", err)
	}

	page := MailPage{NextPageToken: resp.NextPageToken}
	for _, msg := range resp.Messages {
		page.IDs = append(page.IDs, msg.Id)
	}
	return page, nil
}

// FetchMessages retrieves the raw payload for each id. Callers bound the
// slice size; fetches are sequential on purpose to stay under provider
// quotas. Individual fetch failures after retries fail the whole call so the
// run's retry semantics stay in one place.
func (c *GmailClient) FetchMessages(ctx context.Context, accessToken string, ids []string) ([]MailItem, error) {
	srv, err := c.service(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	items := make([]MailItem, 0, len(ids))
	for _, id := range ids {
		var msg *gmail.Message
		err = c.opts.Retry.Do(ctx, func() error {
			callCtx, cancel := context.WithTimeout(ctx, c.opts.requestTimeout())
			defer cancel()

			msg, err = srv.Users.Messages.Get("me", id).Format("raw").Context(callCtx).Do()
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("unable to fetch message %s: %w", id, err)
		}

		items = append(items, MailItem{
			ID:           msg.Id,
			ThreadID:     msg.ThreadId,
			InternalDate: msg.InternalDate,
			LabelIDs:     msg.LabelIds,
			Raw:          msg.Raw,
		})
	}
	return items, nil
}

// Watch registers the mailbox on the configured Pub/Sub topic so new mail
// triggers a sync without polling.
func (c *GmailClient) Watch(ctx context.Context, accessToken, topicName string) error {
	srv, err := c.service(ctx, accessToken)
	if err != nil {
		return err
	}

	// Clear any existing watch first; Gmail allows only one per user.
	_ = srv.Users.Stop("me").Context(ctx).Do()

	req := &gmail.WatchRequest{
		TopicName: topicName,
		LabelIds:  []string{"INBOX"},
	}
	_, err = srv.Users.Watch("me", req).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("unable to watch mailbox: %w", err)
	}
	return nil
}
