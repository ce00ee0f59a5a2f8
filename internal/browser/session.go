package browser

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound means a selector matched nothing in the given scope.
	ErrNotFound = errors.New("element not found")
	// ErrTimeout means a wait condition was not met within its timeout.
	ErrTimeout = errors.New("wait timed out")
	// ErrClosed is returned by every call on a session after Close.
	ErrClosed = errors.New("session closed")
)

// Condition is what WaitFor waits for.
type Condition int

const (
	// Present waits for the element to be attached to the DOM.
	Present Condition = iota
	// Visible waits for the element to be rendered and visible.
	Visible
	// Clickable waits for the element to be visible and enabled.
	Clickable
)

func (c Condition) String() string {
	switch c {
	case Present:
		return "present"
	case Visible:
		return "visible"
	case Clickable:
		return "clickable"
	default:
		return "unknown"
	}
}

// Element is a handle scoped to one node of the rendered page.
// Find and Ancestor return ErrNotFound when nothing matches.
type Element interface {
	Find(selector string) (Element, error)
	FindAll(selector string) ([]Element, error)
	// Ancestor returns the nearest enclosing element with the given tag name.
	Ancestor(tag string) (Element, error)
	Text() (string, error)
	InnerHTML() (string, error)
	// Attribute returns "" when the attribute is missing.
	Attribute(name string) (string, error)
	Click() error
	// Fill clears any prior content and types value.
	Fill(value string) error
}

// Session is one exclusively owned browser tab.
type Session interface {
	Navigate(ctx context.Context, url string) error
	// WaitFor blocks until selector satisfies cond or timeout elapses (ErrTimeout).
	WaitFor(ctx context.Context, selector string, cond Condition, timeout time.Duration) (Element, error)
	Find(selector string) (Element, error)
	Close() error
}

// Opener creates a fresh session for one run.
type Opener func(ctx context.Context) (Session, error)
