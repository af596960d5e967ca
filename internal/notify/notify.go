package notify

import (
	"context"
	"errors"
)

type Event string

const (
	EventTokenLaunched       Event = "tokenLaunched"
	EventTrade               Event = "trade"
	EventTokenUpdate         Event = "tokenUpdate"
	EventTokenHoldersUpdated Event = "tokenHoldersUpdated"
	EventGraduate            Event = "graduate"
)

type Scope string

const (
	ScopePublic Scope = "public"
	ScopeToken  Scope = "token"
	ScopeUser   Scope = "user"
)

// Target addresses one subscription scope. Key is empty for the public scope
// and holds a lowercase token or account address otherwise.
type Target struct {
	Scope Scope
	Key   string
}

func Public() Target {
	return Target{Scope: ScopePublic}
}

func Token(address string) Target {
	return Target{Scope: ScopeToken, Key: address}
}

func User(address string) Target {
	return Target{Scope: ScopeUser, Key: address}
}

// Notification is one outbound state change. The same event may carry a
// different payload per target, so every notification holds exactly one payload.
type Notification struct {
	Event        Event
	TokenAddress string
	Targets      []Target
	Data         interface{}
}

type INotifier interface {
	Publish(ctx context.Context, n Notification) error
}

// Multi delivers to every notifier and joins their errors.
type Multi []INotifier

func (m Multi) Publish(ctx context.Context, n Notification) error {
	var errs []error
	for _, notifier := range m {
		if notifier == nil {
			continue
		}
		if err := notifier.Publish(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop drops every notification.
type Nop struct{}

func (Nop) Publish(context.Context, Notification) error { return nil }
