// Package provider wraps the Google mail and calendar APIs behind small,
// rate-limit-aware clients. Every outbound call runs under the shared retry
// policy and a per-request timeout. Payloads are returned verbatim; parsing
// happens downstream at normalization time.
package provider

import (
	"context"
	"net/http"
	"time"

	"github.com/PBLIZZ/app-omnicrm-sub012/pkg/retry"

	"golang.org/x/oauth2"
)

const (
	Gmail    = "google_gmail"
	Calendar = "google_calendar"
)

// MailItem is one fetched mail message: the verbatim raw payload plus the
// provider metadata needed to order and label it.
type MailItem struct {
	ID           string   `json:"id"`
	ThreadID     string   `json:"thread_id,omitempty"`
	InternalDate int64    `json:"internal_date"` // ms since epoch
	LabelIDs     []string `json:"label_ids,omitempty"`
	Raw          string   `json:"raw"` // base64url RFC 2822 message
}

// MailPage is one page of message ids from the list API.
type MailPage struct {
	IDs           []string
	NextPageToken string
}

// EventItem is one calendar event, payload stored verbatim as JSON.
type EventItem struct {
	ID       string
	StartsAt time.Time
	Payload  []byte
}

// EventPage is one page of calendar events.
type EventPage struct {
	Items         []EventItem
	NextPageToken string
}

// Options carries the shared policy knobs for both clients.
type Options struct {
	Retry          retry.Policy
	RequestTimeout time.Duration
}

func (o Options) requestTimeout() time.Duration {
	if o.RequestTimeout <= 0 {
		return 30 * time.Second
	}
	return o.RequestTimeout
}

// httpClient builds an oauth2-authenticated HTTP client for a bare access
// token. Refresh is the token vault's job, not the transport's.
func httpClient(ctx context.Context, accessToken string) *http.Client {
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"})
	return oauth2.NewClient(ctx, src)
}
