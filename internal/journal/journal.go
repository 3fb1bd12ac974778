// Package journal records connection lifecycle events (connect, join, leave)
// as an audit trail. The journal is never read back into the hub: a restarted
// process always starts with empty stores.
package journal

import (
	"context"
	"fmt"
	"time"
)

// Kind is the type of a journal entry.
type Kind string

const (
	KindConnected Kind = "connected"
	KindJoined    Kind = "joined"
	KindLeft      Kind = "left"
)

// Entry is one journal record.
type Entry struct {
	ID           int64     `json:"id"`
	Kind         Kind      `json:"kind"`
	ConnectionID string    `json:"connectionId"`
	IdentityID   string    `json:"identityId,omitempty"`
	DisplayName  string    `json:"displayName,omitempty"`
	Reason       string    `json:"reason,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Recorder stores journal entries.
type Recorder interface {
	Record(ctx context.Context, entry Entry) error
	Recent(ctx context.Context, limit int) ([]Entry, error)
	Close() error
}

const (
	DriverNone   = "none"
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
)

// Options selects and configures a Recorder.
type Options struct {
	Driver   string
	Path     string
	Capacity int
}

// Open builds the Recorder named by opts.Driver.
func Open(opts Options) (Recorder, error) {
	switch opts.Driver {
	case "", DriverNone:
		return Nop{}, nil
	case DriverMemory:
		return NewMemory(opts.Capacity), nil
	case DriverSQLite:
		s, err := OpenSQLite(opts.Path)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown journal driver %q", opts.Driver)
	}
}

// Nop discards every entry.
type Nop struct{}

func (Nop) Record(context.Context, Entry) error { return nil }

func (Nop) Recent(context.Context, int) ([]Entry, error) { return []Entry{}, nil }

func (Nop) Close() error { return nil }
