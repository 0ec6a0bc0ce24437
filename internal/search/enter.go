// File: internal/search/enter.go
package search

import (
	"context"
)

// DefaultTypeVerifyTries bounds EnterText when no explicit bound is given.
const DefaultTypeVerifyTries = 1000

// EnterText clears the input and types text until the input reads back as
// text, at most tries times. Only a read-back mismatch is retried; an error
// from the Actor ends the operation immediately. All failures match
// ErrActorInteraction.
func EnterText(ctx context.Context, actor Actor, text string, tries int) error {
	if tries <= 0 {
		tries = DefaultTypeVerifyTries
	}
	for range tries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := actor.ClearInput(ctx); err != nil {
			return &InteractionError{Op: "clear", Text: text, Err: err}
		}
		ok, err := actor.Type(ctx, text)
		if err != nil {
			return &InteractionError{Op: "type", Text: text, Err: err}
		}
		if ok {
			return nil
		}
	}
	return &InteractionError{Op: "type", Text: text}
}
