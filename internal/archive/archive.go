// Package archive exports one day of tank history at a time as CSV objects
// in blob storage, keyed archive/<owner>/<tank>/<YYYY-MM-DD>.csv. Objects are
// write-once: exporting a day that already exists is a no-op.
package archive

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"aquawatch/internal/blob"
	"aquawatch/internal/observability"
	"aquawatch/pkg/domain"
)

const (
	dayLayout   = "2006-01-02"
	contentType = "text/csv"
)

var header = []string{"observed_at", "temperature", "ph", "oxygen", "water_level"}

// HistoryReader is the store access the archiver needs.
type HistoryReader interface {
	History(ctx context.Context, userID, tankID string) ([]domain.Reading, error)
}

// Archiver writes daily CSV exports.
type Archiver struct {
	store    HistoryReader
	blobs    blob.Store
	location *time.Location
	logger   observability.Logger
}

// Option configures an Archiver.
type Option func(*Archiver)

// WithLocation sets the zone that defines day boundaries (default time.Local).
func WithLocation(loc *time.Location) Option {
	return func(a *Archiver) {
		if loc != nil {
			a.location = loc
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l observability.Logger) Option {
	return func(a *Archiver) {
		if l != nil {
			a.logger = l
		}
	}
}

// New returns an archiver reading from store and writing to blobs.
func New(store HistoryReader, blobs blob.Store, opts ...Option) *Archiver {
	a := &Archiver{store: store, blobs: blobs, location: time.Local, logger: observability.NopLogger()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Key returns the object key for one tank day.
func Key(owner, tankID string, day time.Time) string {
	return fmt.Sprintf("archive/%s/%s/%s.csv", owner, tankID, day.Format(dayLayout))
}

// ExportDay writes the readings of tank observed on day. It reports whether
// an object was created; an existing object or an empty day creates none.
func (a *Archiver) ExportDay(ctx context.Context, owner string, tank domain.TankProfile, day time.Time) (bool, error) {
	start := time.Date(day.In(a.location).Year(), day.In(a.location).Month(), day.In(a.location).Day(), 0, 0, 0, 0, a.location)
	end := start.AddDate(0, 0, 1)
	key := Key(owner, tank.ID, start)

	if _, err := a.blobs.Head(ctx, key); err == nil {
		return false, nil
	} else if !errors.Is(err, blob.ErrNotFound) {
		return false, fmt.Errorf("head %s: %w", key, err)
	}

	history, err := a.store.History(ctx, owner, tank.ID)
	if err != nil {
		return false, err
	}
	var rows []domain.Reading
	for _, r := range history {
		if !r.ObservedAt.Before(start) && r.ObservedAt.Before(end) {
			rows = append(rows, r)
		}
	}
	if len(rows) == 0 {
		return false, nil
	}

	payload, err := encode(rows)
	if err != nil {
		return false, err
	}
	_, err = a.blobs.Put(ctx, key, bytes.NewReader(payload), blob.PutOptions{
		ContentType: contentType,
		Metadata:    map[string]string{"tank-name": tank.DisplayName, "rows": strconv.Itoa(len(rows))},
	})
	if errors.Is(err, blob.ErrExists) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("put %s: %w", key, err)
	}
	a.logger.Info("archive_exported", "key", key, "rows", len(rows))
	return true, nil
}

// Open streams a previously exported day.
func (a *Archiver) Open(ctx context.Context, owner, tankID string, day time.Time) (io.ReadCloser, error) {
	_, rc, err := a.blobs.Get(ctx, Key(owner, tankID, day))
	return rc, err
}

// List returns the keys of every export for the owner's tank.
func (a *Archiver) List(ctx context.Context, owner, tankID string) ([]blob.Info, error) {
	return a.blobs.List(ctx, fmt.Sprintf("archive/%s/%s/", owner, tankID))
}

func encode(rows []domain.Reading) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(header); err != nil {
		return nil, err
	}
	for _, r := range rows {
		if err := w.Write([]string{
			r.ObservedAt.UTC().Format(time.RFC3339Nano),
			strconv.FormatFloat(r.Temperature, 'f', -1, 64),
			strconv.FormatFloat(r.PH, 'f', -1, 64),
			strconv.FormatFloat(r.Oxygen, 'f', -1, 64),
			strconv.FormatFloat(r.WaterLevel, 'f', -1, 64),
		}); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

// Decode parses an export back into readings.
func Decode(r io.Reader) ([]domain.Reading, error) {
	records, err := csv.NewReader(r).ReadAll()
	if err != nil {
		return nil, err
	}
	var out []domain.Reading
	for i, row := range records {
		if i == 0 && len(row) > 0 && row[0] == header[0] {
			continue
		}
		if len(row) != len(header) {
			return nil, fmt.Errorf("row %d: expected %d fields, got %d", i, len(header), len(row))
		}
		observed, err := time.Parse(time.RFC3339Nano, row[0])
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		var vals [4]float64
		for j := range vals {
			if vals[j], err = strconv.ParseFloat(row[j+1], 64); err != nil {
				return nil, fmt.Errorf("row %d %s: %w", i, header[j+1], err)
			}
		}
		out = append(out, domain.Reading{Temperature: vals[0], PH: vals[1], Oxygen: vals[2], WaterLevel: vals[3], ObservedAt: observed})
	}
	return out, nil
}
