package eventfold

import (
	"context"
)

// AppendHookFunc observes every committed append, live or promoted from a
// pending event, after the record has executed against the model. Hooks are
// at-least-once observers: an erroring hook is logged and counted but never
// fails the append, and delivery to external systems gets no exactly-once
// guarantee.
type AppendHookFunc func(ctx context.Context, r Record) error
