package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"

	"github.com/kincareapp/kincare/internal/model"
)

const googleAPIBase = "https://www.googleapis.com/calendar/v3"

// Google implements Provider against the Google Calendar REST API.
type Google struct {
	base   string
	source oauth2.TokenSource
	http   *http.Client
}

// NewGoogle creates a Google Calendar provider. The token source supplies
// per-request OAuth2 access tokens; an expired refresh token surfaces as
// an auth error and pauses the connection.
func NewGoogle(source oauth2.TokenSource) *Google {
	return &Google{
		base:   googleAPIBase,
		source: source,
		http:   &http.Client{Timeout: 30 * time.Second},
	}
}

// NewGoogleWithBase is NewGoogle against a custom API base URL, for tests.
func NewGoogleWithBase(base string, source oauth2.TokenSource) *Google {
	g := NewGoogle(source)
	g.base = base
	return g
}

func (g *Google) Name() model.Provider { return model.ProviderGoogle }

// googleEvent mirrors the subset of the Google Calendar event resource the
// sync engine needs.
type googleEvent struct {
	ID          string         `json:"id,omitempty"`
	Etag        string         `json:"etag,omitempty"`
	Status      string         `json:"status,omitempty"`
	Summary     string         `json:"summary,omitempty"`
	Description string         `json:"description,omitempty"`
	Location    string         `json:"location,omitempty"`
	Start       googleDateTime `json:"start,omitempty"`
	End         googleDateTime `json:"end,omitempty"`
	Recurrence  []string       `json:"recurrence,omitempty"`
	Updated     string         `json:"updated,omitempty"`
}

type googleDateTime struct {
	DateTime string `json:"dateTime,omitempty"`
	Date     string `json:"date,omitempty"`
	TimeZone string `json:"timeZone,omitempty"`
}

func (g *Google) ListEvents(ctx context.Context, calendarID string, since time.Time) ([]Event, error) {
	path := fmt.Sprintf("/calendars/%s/events?singleEvents=false&showDeleted=true", url.PathEscape(calendarID))
	if !since.IsZero() {
		path += "&updatedMin=" + url.QueryEscape(since.UTC().Format(time.RFC3339))
	}

	var events []Event
	pageToken := ""
	for {
		reqPath := path
		if pageToken != "" {
			reqPath += "&pageToken=" + url.QueryEscape(pageToken)
		}

		body, err := g.do(ctx, "list", http.MethodGet, reqPath, nil)
		if err != nil {
			return nil, err
		}

		var page struct {
			Items         []googleEvent `json:"items"`
			NextPageToken string        `json:"nextPageToken"`
		}
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, &Error{Provider: g.Name(), Op: "list", Message: "malformed response", Err: err}
		}

		for _, item := range page.Items {
			events = append(events, fromGoogleEvent(item))
		}

		if page.NextPageToken == "" {
			return events, nil
		}
		pageToken = page.NextPageToken
	}
}

func (g *Google) CreateEvent(ctx context.Context, calendarID string, ev Event) (Event, error) {
	path := fmt.Sprintf("/calendars/%s/events", url.PathEscape(calendarID))
	payload, err := json.Marshal(toGoogleEvent(ev))
	if err != nil {
		return Event{}, &Error{Provider: g.Name(), Op: "create", Message: "marshal failed", Err: err}
	}

	body, err := g.do(ctx, "create", http.MethodPost, path, payload)
	if err != nil {
		return Event{}, err
	}
	return g.decodeEvent("create", body)
}

func (g *Google) UpdateEvent(ctx context.Context, calendarID, eventID, etag string, ev Event) (Event, error) {
	path := fmt.Sprintf("/calendars/%s/events/%s", url.PathEscape(calendarID), url.PathEscape(eventID))
	payload, err := json.Marshal(toGoogleEvent(ev))
	if err != nil {
		return Event{}, &Error{Provider: g.Name(), Op: "update", Message: "marshal failed", Err: err}
	}

	body, err := g.doWithEtag(ctx, "update", http.MethodPut, path, payload, etag)
	if err != nil {
		return Event{}, err
	}
	return g.decodeEvent("update", body)
}

func (g *Google) DeleteEvent(ctx context.Context, calendarID, eventID string) error {
	path := fmt.Sprintf("/calendars/%s/events/%s", url.PathEscape(calendarID), url.PathEscape(eventID))
	_, err := g.do(ctx, "delete", http.MethodDelete, path, nil)
	return err
}

func (g *Google) decodeEvent(op string, body []byte) (Event, error) {
	var ge googleEvent
	if err := json.Unmarshal(body, &ge); err != nil {
		return Event{}, &Error{Provider: g.Name(), Op: op, Message: "malformed response", Err: err}
	}
	return fromGoogleEvent(ge), nil
}

func (g *Google) do(ctx context.Context, op, method, path string, body []byte) ([]byte, error) {
	return g.doWithEtag(ctx, op, method, path, body, "")
}

func (g *Google) doWithEtag(ctx context.Context, op, method, path string, body []byte, etag string) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.base+path, reader)
	if err != nil {
		return nil, &Error{Provider: g.Name(), Op: op, Message: "bad request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if etag != "" {
		req.Header.Set("If-Match", etag)
	}

	tok, err := g.source.Token()
	if err != nil {
		return nil, &Error{Provider: g.Name(), Op: op, Auth: true, Message: "token refresh failed", Err: err}
	}
	tok.SetAuthHeader(req)

	resp, err := g.http.Do(req)
	if err != nil {
		return nil, &Error{Provider: g.Name(), Op: op, Retryable: true, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, &Error{Provider: g.Name(), Op: op, Retryable: true, Message: "reading response", Err: err}
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return respBody, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &Error{
			Provider: g.Name(), Op: op, StatusCode: resp.StatusCode,
			Auth: true, Message: "authorization revoked",
		}
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, &Error{
			Provider: g.Name(), Op: op, StatusCode: resp.StatusCode,
			Retryable: true, Message: fmt.Sprintf("http %d", resp.StatusCode),
		}
	default:
		return nil, &Error{
			Provider: g.Name(), Op: op, StatusCode: resp.StatusCode,
			Message: fmt.Sprintf("http %d", resp.StatusCode),
		}
	}
}

func toGoogleEvent(ev Event) googleEvent {
	ge := googleEvent{
		Summary:     ev.Title,
		Description: ev.Description,
		Location:    ev.Location,
	}
	if ev.Recurrence != "" {
		ge.Recurrence = []string{ev.Recurrence}
	}
	if ev.AllDay {
		ge.Start = googleDateTime{Date: ev.StartAt.UTC().Format("2006-01-02")}
		ge.End = googleDateTime{Date: ev.EndAt.UTC().Format("2006-01-02")}
	} else {
		ge.Start = googleDateTime{DateTime: ev.StartAt.UTC().Format(time.RFC3339)}
		ge.End = googleDateTime{DateTime: ev.EndAt.UTC().Format(time.RFC3339)}
	}
	return ge
}

func fromGoogleEvent(ge googleEvent) Event {
	ev := Event{
		ID:          ge.ID,
		Etag:        ge.Etag,
		Title:       ge.Summary,
		Description: ge.Description,
		Location:    ge.Location,
		Deleted:     ge.Status == "cancelled",
	}
	if len(ge.Recurrence) > 0 {
		ev.Recurrence = ge.Recurrence[0]
	}
	if ge.Start.Date != "" {
		ev.AllDay = true
		ev.StartAt, _ = time.Parse("2006-01-02", ge.Start.Date)
		ev.EndAt, _ = time.Parse("2006-01-02", ge.End.Date)
	} else {
		ev.StartAt, _ = time.Parse(time.RFC3339, ge.Start.DateTime)
		ev.EndAt, _ = time.Parse(time.RFC3339, ge.End.DateTime)
	}
	if ge.Updated != "" {
		ev.UpdatedAt, _ = time.Parse(time.RFC3339, ge.Updated)
	}
	return ev
}
