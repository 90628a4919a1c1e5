// Package store defines the persistence contracts the dispatch core depends
// on: area/action/reaction/owner lookup and the durable job-name registry.
// The full application schema lives with the (external) API layer; only the
// tables the orchestration core reads and writes are modeled here.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Area is a user-owned automation unit pairing one action with N reactions.
type Area struct {
	ID      string
	Name    string
	UserID  string
	Enabled bool

	// Reactions are eagerly loaded by AreaByAction.
	Reactions []Reaction
}

// Action is the trigger half of an area.
// ServiceAction has the form "<service>.A.<actionName>".
type Action struct {
	ID            string
	AreaID        string
	ServiceAction string

	// Options is user-supplied adapter configuration.
	Options map[string]any

	// Data is adapter-opaque persisted state (e.g. a last-seen cursor).
	Data map[string]any
}

// Reaction is the effect half of an area.
// ServiceReaction has the form "<service>.R.<reactionName>".
type Reaction struct {
	ID              string
	AreaID          string
	ServiceReaction string
	Options         map[string]any
	Data            map[string]any
}

// User owns areas. Only the fields the dispatcher needs are modeled.
type User struct {
	ID    string
	Email string
}

// AddOpts records what is needed to later cancel a specific repeating
// queue registration.
type AddOpts struct {
	EveryMillis    int64  `json:"everyMillis"`
	RegistrationID string `json:"registrationId"`
}

// JobName is a durable row mapping a deterministic job name to the current
// underlying queue job id. At most one active (non-canceled) row exists per
// name at a time.
type JobName struct {
	JobID    string
	JobName  string
	AddOpts  *AddOpts
	Canceled bool
}

// AreaStore resolves areas, actions and reactions for dispatch.
type AreaStore interface {
	// Action returns the action with the given id.
	Action(ctx context.Context, id string) (*Action, error)

	// Area returns the area with the given id, reactions included.
	Area(ctx context.Context, id string) (*Area, error)

	// AreaByAction returns the area owning the given action, with its
	// reactions eagerly loaded.
	AreaByAction(ctx context.Context, actionID string) (*Area, error)

	// Reaction returns the reaction with the given id.
	Reaction(ctx context.Context, id string) (*Reaction, error)

	PutArea(ctx context.Context, area *Area) error
	PutAction(ctx context.Context, action *Action) error
	PutReaction(ctx context.Context, reaction *Reaction) error
	DeleteAction(ctx context.Context, id string) error
	DeleteReaction(ctx context.Context, id string) error
	SetAreaEnabled(ctx context.Context, id string, enabled bool) error
}

// UserStore resolves area owners.
type UserStore interface {
	User(ctx context.Context, id string) (*User, error)
	PutUser(ctx context.Context, user *User) error
}

// JobNameStore persists the job-name registry rows.
type JobNameStore interface {
	// ActiveByName returns the non-canceled row for the given name,
	// or ErrNotFound.
	ActiveByName(ctx context.Context, name string) (*JobName, error)

	// ByJobID returns the row (canceled or not) for the given queue job id,
	// or ErrNotFound.
	ByJobID(ctx context.Context, jobID string) (*JobName, error)

	// Insert persists a new row.
	Insert(ctx context.Context, row *JobName) error

	// MarkCanceled flips the canceled flag on the row with the given job id.
	MarkCanceled(ctx context.Context, jobID string) error

	// Delete removes the row with the given job id. Deleting a missing row
	// is not an error.
	Delete(ctx context.Context, jobID string) error
}

// Store aggregates the persistence contracts the daemon wires together.
type Store interface {
	AreaStore
	UserStore
	JobNameStore
	Close() error
}
