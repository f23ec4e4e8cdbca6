package eventfold

import (
	"context"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
)

// Pattern is one predicate over stored events. A candidate event matches when
// its cmd equals Cmd, its correlation id equals CorrelationID when given, and
// every key of Where equals the corresponding field of the event's data.
type Pattern struct {
	Cmd           string         `json:"cmd"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Where         map[string]any `json:"where,omitempty"`
}

// CountCondition requires at least Count distinct events matching Pattern.
type CountCondition struct {
	Pattern Pattern `json:"pattern"`
	Count   int     `json:"count"`
}

// WaitFor is a boolean expression over event patterns that gates a deferred
// event's execution. Exactly one combinator must be set:
//
//   - All: every pattern has at least one matching stored event.
//   - Any: at least one pattern matches.
//   - Sequence: each step is satisfied by a distinct event with an id strictly
//     greater than the id satisfying the previous step, in list order.
//   - Count: at least Count distinct events match the pattern.
//
// Combinators compose only at the top level; there are no nested boolean trees.
type WaitFor struct {
	All      []Pattern       `json:"all,omitempty"`
	Any      []Pattern       `json:"any,omitempty"`
	Sequence []Pattern       `json:"sequence,omitempty"`
	Count    *CountCondition `json:"count,omitempty"`
}

// Validate fails fast on malformed expressions so that a conditional append is
// rejected at the time it is made, not later during evaluation.
func (w WaitFor) Validate() error {
	var set int
	if len(w.All) > 0 {
		set++
	}
	if len(w.Any) > 0 {
		set++
	}
	if len(w.Sequence) > 0 {
		set++
	}
	if w.Count != nil {
		set++
	}

	if set != 1 {
		return errors.Wrap(ErrMalformedWaitFor, "exactly one combinator must be set", j.KV("set", set))
	}

	for _, p := range w.patterns() {
		if p.Cmd == "" {
			return errors.Wrap(ErrMalformedWaitFor, "pattern cmd must be provided")
		}
	}

	if w.Count != nil && w.Count.Count < 1 {
		return errors.Wrap(ErrMalformedWaitFor, "count must be positive", j.KV("count", w.Count.Count))
	}

	return nil
}

func (w WaitFor) patterns() []Pattern {
	switch {
	case len(w.All) > 0:
		return w.All
	case len(w.Any) > 0:
		return w.Any
	case len(w.Sequence) > 0:
		return w.Sequence
	case w.Count != nil:
		return []Pattern{w.Count.Pattern}
	default:
		return nil
	}
}

// satisfied evaluates the expression against the current log state.
func (w WaitFor) satisfied(ctx context.Context, store EventStore) (bool, error) {
	switch {
	case len(w.All) > 0:
		for _, p := range w.All {
			matches, err := matchPattern(ctx, store, p)
			if err != nil {
				return false, err
			}

			if len(matches) == 0 {
				return false, nil
			}
		}

		return true, nil

	case len(w.Any) > 0:
		for _, p := range w.Any {
			matches, err := matchPattern(ctx, store, p)
			if err != nil {
				return false, err
			}

			if len(matches) > 0 {
				return true, nil
			}
		}

		return false, nil

	case len(w.Sequence) > 0:
		// Each step must be satisfied by an event with an id strictly greater
		// than the event satisfying the previous step. Taking the earliest
		// eligible match per step never rules out a later satisfying assignment.
		var prev int64
		for _, p := range w.Sequence {
			matches, err := matchPattern(ctx, store, p, FilterByMinID(prev+1))
			if err != nil {
				return false, err
			}

			if len(matches) == 0 {
				return false, nil
			}

			prev = matches[0].ID
		}

		return true, nil

	case w.Count != nil:
		matches, err := matchPattern(ctx, store, w.Count.Pattern)
		if err != nil {
			return false, err
		}

		return len(matches) >= w.Count.Count, nil

	default:
		return false, errors.Wrap(ErrMalformedWaitFor, "no combinator set")
	}
}

func matchPattern(ctx context.Context, store EventStore, p Pattern, filters ...EventFilter) ([]Record, error) {
	if p.CorrelationID != "" {
		filters = append(filters, FilterByCorrelationID(p.CorrelationID))
	}

	candidates, err := store.ListByCommand(ctx, p.Cmd, filters...)
	if err != nil {
		return nil, err
	}

	if len(p.Where) == 0 {
		return candidates, nil
	}

	var matches []Record
	for _, r := range candidates {
		if whereMatches(p.Where, r.Data) {
			matches = append(matches, r)
		}
	}

	return matches, nil
}

// whereMatches reports whether every key of where equals the corresponding data
// field. Values are compared through the JSON codec so that numeric types
// authored in Go match the same values read back from a store.
func whereMatches(where map[string]any, data Data) bool {
	for k, want := range where {
		got, ok := data[k]
		if !ok {
			return false
		}

		if !looseEqual(want, got) {
			return false
		}
	}

	return true
}

func looseEqual(a, b any) bool {
	if a == b {
		return true
	}

	ab, err := Marshal(&a)
	if err != nil {
		return false
	}

	bb, err := Marshal(&b)
	if err != nil {
		return false
	}

	return string(ab) == string(bb)
}
