// Package journal keeps a summary record of every finished voice session.
//
// Records are encoded with msgpack and stored either in memory or in a
// BadgerDB directory:
//
//	j, err := journal.NewBadger(journal.BadgerOptions{Dir: dir, Logger: logger})
//	if err != nil {
//	    return err
//	}
//	defer j.Close()
//	err = j.Put(ctx, rec)
package journal

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// ErrNotFound is returned by Get when no record has the given id.
var ErrNotFound = errors.New("journal: not found")

// Record summarises one session.
type Record struct {
	ID        string    `msgpack:"id" json:"id" yaml:"id"`
	StartedAt time.Time `msgpack:"started_at" json:"started_at" yaml:"started_at"`
	EndedAt   time.Time `msgpack:"ended_at" json:"ended_at" yaml:"ended_at"`
	Reason    string    `msgpack:"reason" json:"reason" yaml:"reason"`
	// Error is the failure that ended the session, if any.
	Error      string `msgpack:"error,omitempty" json:"error,omitempty" yaml:"error,omitempty"`
	Turns      int    `msgpack:"turns" json:"turns" yaml:"turns"`
	Utterances int    `msgpack:"utterances" json:"utterances" yaml:"utterances"`
	BargeIns   int    `msgpack:"barge_ins" json:"barge_ins" yaml:"barge_ins"`
	// Recording is where the session's microphone audio was stored.
	Recording string `msgpack:"recording,omitempty" json:"recording,omitempty" yaml:"recording,omitempty"`
}

// Duration returns how long the session lasted.
func (r Record) Duration() time.Duration {
	if r.EndedAt.Before(r.StartedAt) {
		return 0
	}
	return r.EndedAt.Sub(r.StartedAt)
}

// Store persists records.
type Store interface {
	// Put stores r, replacing any record with the same id.
	Put(ctx context.Context, r Record) error

	// Get returns the record with the given id or ErrNotFound.
	Get(ctx context.Context, id string) (Record, error)

	// List yields records, most recently started first.
	List(ctx context.Context) iter.Seq2[Record, error]

	Close() error
}

const keyPrefix = "session:"

func key(id string) []byte {
	return []byte(keyPrefix + id)
}

func encode(r Record) ([]byte, error) {
	if r.ID == "" {
		return nil, errors.New("journal: record has no id")
	}
	b, err := msgpack.Marshal(&r)
	if err != nil {
		return nil, fmt.Errorf("journal: encode %s: %w", r.ID, err)
	}
	return b, nil
}

func decode(b []byte) (Record, error) {
	var r Record
	if err := msgpack.Unmarshal(b, &r); err != nil {
		return Record{}, fmt.Errorf("journal: decode: %w", err)
	}
	return r, nil
}

// newestFirst orders records by start time, newest first, breaking ties by
// id so the order is stable.
func newestFirst(records []Record) {
	slices.SortFunc(records, func(a, b Record) int {
		if c := b.StartedAt.Compare(a.StartedAt); c != 0 {
			return c
		}
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
}

// Collect drains List into a slice, stopping after limit records when limit
// is positive.
func Collect(ctx context.Context, s Store, limit int) ([]Record, error) {
	var out []Record
	for r, err := range s.List(ctx) {
		if err != nil {
			return out, err
		}
		out = append(out, r)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}
