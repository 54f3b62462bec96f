package usecase

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	ingestdomain "github.com/PBLIZZ/app-omnicrm-sub012/internal/ingest/domain"
	interactiondomain "github.com/PBLIZZ/app-omnicrm-sub012/internal/interaction/domain"
	"github.com/PBLIZZ/app-omnicrm-sub012/pkg/provider"

	"github.com/emersion/go-message/mail"
)

// parseMailEvent turns a stored mail raw event into an interaction. The
// payload is the MailItem captured at sync time; the message itself is the
// verbatim RFC 2822 blob, parsed here and nowhere earlier.
func parseMailEvent(event *ingestdomain.RawEvent) (*interactiondomain.Interaction, error) {
	var item provider.MailItem
	if err := json.Unmarshal(event.Payload, &item); err != nil {
		return nil, fmt.Errorf("decode mail payload: %w", err)
	}
	if item.Raw == "" {
		return nil, errors.New("mail payload has no raw message")
	}

	raw, err := decodeBase64URL(item.Raw)
	if err != nil {
		return nil, fmt.Errorf("decode raw message: %w", err)
	}

	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse message: %w", err)
	}

	subject, _ := mr.Header.Subject()

	var participants []string
	for _, field := range []string{"From", "To", "Cc"} {
		if list, err := mr.Header.AddressList(field); err == nil {
			for _, addr := range list {
				participants = append(participants, addr.Address)
			}
		}
	}

	var textBody, htmlBody string
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			// Keep whatever was readable; a broken trailing part does not
			// invalidate the message.
			break
		}
		header, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		contentType, _, _ := header.ContentType()
		data, err := io.ReadAll(part.Body)
		if err != nil {
			continue
		}
		switch contentType {
		case "text/plain":
			if textBody == "" {
				textBody = string(data)
			}
		case "text/html":
			if htmlBody == "" {
				htmlBody = string(data)
			}
		}
	}

	body := textBody
	isHTML := false
	if body == "" {
		body = htmlBody
		isHTML = htmlBody != ""
	}

	occurredAt := event.OccurredAt
	if occurredAt.IsZero() && item.InternalDate > 0 {
		occurredAt = time.UnixMilli(item.InternalDate)
	}
	if occurredAt.IsZero() {
		if date, err := mr.Header.Date(); err == nil {
			occurredAt = date
		}
	}

	return &interactiondomain.Interaction{
		Type:         interactiondomain.TypeMail,
		Subject:      subject,
		Body:         body,
		BodyPreview:  preview(body, isHTML),
		Participants: strings.Join(participants, ", "),
		OccurredAt:   occurredAt,
	}, nil
}

// calendarEventPayload is the subset of the verbatim event JSON that the
// transform cares about.
type calendarEventPayload struct {
	ID          string `json:"id"`
	Summary     string `json:"summary"`
	Description string `json:"description"`
	Start       struct {
		DateTime string `json:"dateTime"`
		Date     string `json:"date"`
	} `json:"start"`
	Attendees []struct {
		Email string `json:"email"`
	} `json:"attendees"`
	Organizer struct {
		Email string `json:"email"`
	} `json:"organizer"`
}

// parseCalendarEvent turns a stored calendar raw event into an interaction.
func parseCalendarEvent(event *ingestdomain.RawEvent) (*interactiondomain.Interaction, error) {
	var ev calendarEventPayload
	if err := json.Unmarshal(event.Payload, &ev); err != nil {
		return nil, fmt.Errorf("decode calendar payload: %w", err)
	}
	if ev.ID == "" {
		return nil, errors.New("calendar payload has no event id")
	}

	var participants []string
	if ev.Organizer.Email != "" {
		participants = append(participants, ev.Organizer.Email)
	}
	for _, attendee := range ev.Attendees {
		if attendee.Email != "" && attendee.Email != ev.Organizer.Email {
			participants = append(participants, attendee.Email)
		}
	}

	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		if ev.Start.DateTime != "" {
			if t, err := time.Parse(time.RFC3339, ev.Start.DateTime); err == nil {
				occurredAt = t
			}
		} else if ev.Start.Date != "" {
			if t, err := time.Parse("2006-01-02", ev.Start.Date); err == nil {
				occurredAt = t
			}
		}
	}

	return &interactiondomain.Interaction{
		Type:         interactiondomain.TypeMeeting,
		Subject:      ev.Summary,
		Body:         ev.Description,
		BodyPreview:  preview(ev.Description, false),
		Participants: strings.Join(participants, ", "),
		OccurredAt:   occurredAt,
	}, nil
}

// decodeBase64URL accepts both padded and unpadded url-safe base64, which
// Gmail has been observed to vary on.
func decodeBase64URL(s string) ([]byte, error) {
	if data, err := base64.RawURLEncoding.DecodeString(s); err == nil {
		return data, nil
	}
	return base64.URLEncoding.DecodeString(s)
}

var htmlTagPattern = regexp.MustCompile(`<[^>]*>`)

// preview produces a short plain-text teaser from the body.
func preview(body string, isHTML bool) string {
	text := body
	if isHTML {
		text = htmlTagPattern.ReplaceAllString(text, " ")
		text = strings.ReplaceAll(text, "&nbsp;", " ")
		text = strings.ReplaceAll(text, "&amp;", "&")
		text = strings.ReplaceAll(text, "&lt;", "<")
		text = strings.ReplaceAll(text, "&gt;", ">")
	}
	text = strings.Join(strings.Fields(text), " ")
	if len(text) > 200 {
		// Back up to a rune boundary so the cut never splits a
		// multi-byte character.
		cut := 200
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut] + "..."
	}
	return text
}
