package timeline

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

var (
	// ErrInvalidDate indicates a date that is not in YYYY-MM-DD form.
	ErrInvalidDate = errors.New("timeline: invalid date")
	// ErrInvalidTimestamp indicates a timestamp whose day component cannot
	// be derived.
	ErrInvalidTimestamp = errors.New("timeline: invalid timestamp")
)

// Entry is a user-authored diary record. The payload is free-form JSON; the
// engine only interprets the identity and time fields below.
type Entry map[string]any

// ID returns the entry's stable identifier, "" when unset.
func (e Entry) ID() string {
	value, _ := e["id"].(string)
	return value
}

// SetID assigns the entry's stable identifier.
func (e Entry) SetID(id string) {
	e["id"] = id
}

// StartTime returns the entry's startTime timestamp, "" when unset.
func (e Entry) StartTime() string {
	value, _ := e["startTime"].(string)
	return value
}

// EndTime returns the entry's endTime timestamp, "" when unset.
func (e Entry) EndTime() string {
	value, _ := e["endTime"].(string)
	return value
}

// Published returns the entry's published timestamp, "" when unset.
func (e Entry) Published() string {
	value, _ := e["published"].(string)
	return value
}

// SetPublished assigns the published timestamp.
func (e Entry) SetPublished(value string) {
	e["published"] = value
}

// ImageKey returns the object-store key of the attached image, "" when the
// entry has none.
func (e Entry) ImageKey() string {
	value, _ := e["imageKey"].(string)
	return value
}

// ParseDate parses a YYYY-MM-DD calendar date.
func ParseDate(value string) (time.Time, error) {
	parsed, err := time.Parse(dateLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, value)
	}
	return parsed, nil
}

// dayOf extracts the calendar-day component of a timestamp string. Only the
// day prefix is interpreted; no timezone arithmetic is applied.
func dayOf(timestamp string) (time.Time, error) {
	datePart, _, _ := strings.Cut(timestamp, "T")
	parsed, err := time.Parse(dateLayout, datePart)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidTimestamp, timestamp)
	}
	return parsed, nil
}

// span derives the inclusive [startDate, endDate] range the entry covers.
// When the entry has no startTime, its published timestamp (defaulted to now
// and persisted back) covers a single day.
func (e Entry) span(now time.Time) (time.Time, time.Time, error) {
	if startTime := e.StartTime(); startTime != "" {
		start, err := dayOf(startTime)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		end := start
		if endTime := e.EndTime(); endTime != "" {
			if end, err = dayOf(endTime); err != nil {
				return time.Time{}, time.Time{}, err
			}
		}
		return start, end, nil
	}

	published := e.Published()
	if published == "" {
		published = now.Format(time.RFC3339)
		e.SetPublished(published)
	}
	day, err := dayOf(published)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return day, day, nil
}

func bucketPartitionKey(userID, year string) string {
	return fmt.Sprintf("USER#%s#YEAR#%s", userID, year)
}

func bucketSortKey(date string) string {
	return "DATE#" + date
}
