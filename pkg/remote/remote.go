package remote

import (
	"context"
	"errors"
)

var (
	// ErrNotFound means the remote object no longer exists.
	ErrNotFound = errors.New("remote event not found")
	// ErrPreconditionFailed means the held version token is not the remote's current one.
	ErrPreconditionFailed = errors.New("remote version does not match")
	// ErrTransient covers network failures, timeouts and rate limiting.
	ErrTransient = errors.New("transient remote failure")
	// ErrAuth means the credential is expired or revoked. It is never retried here.
	ErrAuth = errors.New("remote authorization failed")
)

type ReminderMethod string

const (
	ReminderPopup ReminderMethod = "popup"
	ReminderEmail ReminderMethod = "email"
)

type Reminder struct {
	Method  ReminderMethod `json:"method"`
	Minutes int            `json:"minutes"`
}

// Payload is the wire representation of one remote calendar event.
// Start and End are civil date-times ("2006-01-02T15:04:05") interpreted in TimeZone.
type Payload struct {
	Summary     string     `json:"summary"`
	Description string     `json:"description,omitempty"`
	Start       string     `json:"start"`
	End         string     `json:"end"`
	TimeZone    string     `json:"timeZone"`
	ColorId     string     `json:"colorId,omitempty"`
	Reminders   []Reminder `json:"reminders,omitempty"`
	Recurrence  []string   `json:"recurrence,omitempty"`
}

// AnyVersion is held in place of a token for stores that do not supply one. It matches any revision.
const AnyVersion = "*"

// Ref identifies a remote object at a given revision.
type Ref struct {
	RemoteId string
	Version  string
}

// Event is a remote object as fetched. Version is empty when the store cannot supply one.
type Event struct {
	Ref
	Payload Payload
}

type Client interface {
	Create(ctx context.Context, payload Payload) (Ref, error)
	// Update replaces the remote object. A non-empty expectedVersion makes the write conditional
	// and a mismatch yields ErrPreconditionFailed.
	Update(ctx context.Context, remoteId string, payload Payload, expectedVersion string) (Ref, error)
	Get(ctx context.Context, remoteId string) (Event, error)
}

// Normalize fills in AnyVersion when the store returned no token, so a linked event always holds one.
func (r Ref) Normalize() Ref {
	if r.Version == "" {
		r.Version = AnyVersion
	}
	return r
}

// Comparable reports whether two tokens can be compared for optimistic concurrency.
func Comparable(held, current string) bool {
	return held != "" && held != AnyVersion && current != "" && current != AnyVersion
}

// ClientProvider resolves the remote calendar client of an owner.
type ClientProvider interface {
	ClientFor(ctx context.Context, ownerId int) (Client, error)
}

// IsRetryable reports whether the failure may succeed if the whole request is repeated later.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransient)
}
