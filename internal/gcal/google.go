package gcal

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// taskIDProperty is the private extended property carrying the local task
// identifier on events this engine creates.
const taskIDProperty = "taskbell_task_id"

// GoogleClient implements Client against the Google Calendar v3 API.
type GoogleClient struct {
	srv        *calendar.Service
	calendarID string
	timeout    time.Duration
}

// NewGoogleClient builds a calendar client from a per-user OAuth token
// source. calendarID is usually "primary". All remote calls carry the given
// bounded timeout.
func NewGoogleClient(ctx context.Context, ts oauth2.TokenSource, calendarID string, timeout time.Duration) (*GoogleClient, error) {
	srv, err := calendar.NewService(ctx, option.WithTokenSource(ts))
	if err != nil {
		return nil, fmt.Errorf("unable to create calendar service: %w", err)
	}
	if calendarID == "" {
		calendarID = "primary"
	}
	return &GoogleClient{srv: srv, calendarID: calendarID, timeout: timeout}, nil
}

func (c *GoogleClient) ListDeltasSince(ctx context.Context, cursor Cursor) (DeltaPage, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var page DeltaPage
	pageToken := ""
	for {
		call := c.srv.Events.List(c.calendarID).
			Context(ctx).
			SingleEvents(true).
			ShowDeleted(true).
			MaxResults(250)

		switch {
		case cursor.Token != "":
			call = call.SyncToken(cursor.Token)
		case !cursor.UpdatedMin.IsZero():
			call = call.UpdatedMin(cursor.UpdatedMin.Format(time.RFC3339))
		}
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		events, err := call.Do()
		if err != nil {
			return DeltaPage{}, classifyListError(err)
		}

		for _, ev := range events.Items {
			delta, ok := toDelta(ev)
			if !ok {
				continue
			}
			page.Deltas = append(page.Deltas, delta)
		}

		if events.NextPageToken == "" {
			page.NextToken = events.NextSyncToken
			return page, nil
		}
		pageToken = events.NextPageToken
	}
}

func (c *GoogleClient) CreateEvent(ctx context.Context, payload EventPayload) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	created, err := c.srv.Events.Insert(c.calendarID, toEvent(payload)).Context(ctx).Do()
	if err != nil {
		return "", classifyError(err)
	}
	return created.Id, nil
}

func (c *GoogleClient) UpdateEvent(ctx context.Context, eventID string, payload EventPayload) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if _, err := c.srv.Events.Patch(c.calendarID, eventID, toEvent(payload)).Context(ctx).Do(); err != nil {
		return classifyError(err)
	}
	return nil
}

func (c *GoogleClient) DeleteEvent(ctx context.Context, eventID string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.srv.Events.Delete(c.calendarID, eventID).Context(ctx).Do(); err != nil {
		return classifyError(err)
	}
	return nil
}

func toEvent(payload EventPayload) *calendar.Event {
	ev := &calendar.Event{
		Summary:     payload.Title,
		Description: payload.Description,
	}
	if !payload.StartAt.IsZero() {
		if payload.AllDay {
			ev.Start = &calendar.EventDateTime{Date: payload.StartAt.Format("2006-01-02")}
			ev.End = &calendar.EventDateTime{Date: payload.StartAt.AddDate(0, 0, 1).Format("2006-01-02")}
		} else {
			ev.Start = &calendar.EventDateTime{DateTime: payload.StartAt.Format(time.RFC3339)}
			ev.End = &calendar.EventDateTime{DateTime: payload.StartAt.Add(time.Hour).Format(time.RFC3339)}
		}
	}
	if payload.LocalTaskID != 0 {
		ev.ExtendedProperties = &calendar.EventExtendedProperties{
			Private: map[string]string{taskIDProperty: strconv.FormatInt(payload.LocalTaskID, 10)},
		}
	}
	return ev
}

func toDelta(ev *calendar.Event) (Delta, bool) {
	if ev.Id == "" {
		return Delta{}, false
	}

	modified, err := time.Parse(time.RFC3339, ev.Updated)
	if err != nil {
		modified = time.Now().UTC()
	}

	if ev.Status == "cancelled" {
		return Delta{EventID: ev.Id, Kind: DeltaDelete, ModifiedAt: modified}, true
	}

	payload := EventPayload{
		Title:       ev.Summary,
		Description: ev.Description,
	}
	if ev.Start != nil {
		if ev.Start.DateTime != "" {
			if t, err := time.Parse(time.RFC3339, ev.Start.DateTime); err == nil {
				payload.StartAt = t
			}
		} else if ev.Start.Date != "" {
			if t, err := time.Parse("2006-01-02", ev.Start.Date); err == nil {
				payload.StartAt = t
				payload.AllDay = true
			}
		}
	}
	if ev.ExtendedProperties != nil {
		if raw, ok := ev.ExtendedProperties.Private[taskIDProperty]; ok {
			if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
				payload.LocalTaskID = id
			}
		}
	}
	return Delta{EventID: ev.Id, Kind: DeltaUpsert, Payload: payload, ModifiedAt: modified}, true
}

// classifyError maps provider failures onto the engine's error taxonomy.
// Timeouts are transient, never interpreted as deletions.
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case 403:
			// 403 is rate limiting as often as it is a permission problem.
			for _, e := range apiErr.Errors {
				if e.Reason == "rateLimitExceeded" || e.Reason == "userRateLimitExceeded" {
					return fmt.Errorf("%w: %v", ErrTransient, err)
				}
			}
			return fmt.Errorf("%w: %v", ErrUnauthorized, err)
		case 401:
			return fmt.Errorf("%w: %v", ErrUnauthorized, err)
		case 404, 410:
			return fmt.Errorf("%w: %v", ErrNotFound, err)
		default:
			if apiErr.Code == 429 || apiErr.Code >= 500 {
				return fmt.Errorf("%w: %v", ErrTransient, err)
			}
			return err
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	return fmt.Errorf("%w: %v", ErrTransient, err)
}

// classifyListError is the delta-listing variant: there a 410 means the sync
// token expired, not that an event is gone.
func classifyListError(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == 410 {
		return fmt.Errorf("%w: %v", ErrCursorInvalid, err)
	}
	return classifyError(err)
}
