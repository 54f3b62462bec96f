package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

// CalendarClient lists events from the user's primary calendar.
type CalendarClient struct {
	opts Options
}

func NewCalendarClient(opts Options) *CalendarClient {
	return &CalendarClient{opts: opts}
}

func (c *CalendarClient) service(ctx context.Context, accessToken string) (*calendar.Service, error) {
	srv, err := calendar.NewService(ctx, option.WithHTTPClient(httpClient(ctx, accessToken)))
	if err != nil {
		return nil, fmt.Errorf("unable to create Calendar service: %w", err)
	}
	return srv, nil
}

// ListEvents returns one page of events with their verbatim JSON payloads.
// Recurring events are expanded so each occurrence is its own item.
func (c *CalendarClient) ListEvents(ctx context.Context, accessToken, pageToken string, pageSize int64) (EventPage, error) {
	srv, err := c.service(ctx, accessToken)
	if err != nil {
		return EventPage{}, err
	}

	if pageSize <= 0 {
		pageSize = 50
	}
	if pageSize > 250 {
		pageSize = 250 // Calendar API maximum
	}

	var resp *calendar.Events
	err = c.opts.Retry.Do(ctx, func() error {
		callCtx, cancel := context.WithTimeout(ctx, c.opts.requestTimeout())
		defer cancel()

		call := srv.Events.List("primary").
			MaxResults(pageSize).
			SingleEvents(true).
			ShowDeleted(false).
			Context(callCtx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		resp, err = call.Do()
		return err
	})
	if err != nil {
		return EventPage{}, fmt.Errorf("unable to list events: %w", err)
	}

	page := EventPage{NextPageToken: resp.NextPageToken}
	for _, ev := range resp.Items {
		payload, err := json.Marshal(ev)
		if err != nil {
			return EventPage{}, fmt.Errorf("unable to encode event %s: %w", ev.Id, err)
		}
		page.Items = append(page.Items, EventItem{
			ID:       ev.Id,
			StartsAt: eventStart(ev),
			Payload:  payload,
		})
	}
	return page, nil
}

// eventStart extracts the occurrence time, falling back to the created
// timestamp for events with no usable start.
func eventStart(ev *calendar.Event) time.Time {
	if ev.Start != nil {
		if ev.Start.DateTime != "" {
			if t, err := time.Parse(time.RFC3339, ev.Start.DateTime); err == nil {
				return t
			}
		}
		if ev.Start.Date != "" {
			if t, err := time.Parse("2006-01-02", ev.Start.Date); err == nil {
				return t
			}
		}
	}
	if t, err := time.Parse(time.RFC3339, ev.Created); err == nil {
		return t
	}
	return time.Time{}
}
