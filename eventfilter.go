package eventfold

// MakeEventFilter collects the provided filters into a queryable form for
// store implementations.
func MakeEventFilter(filters ...EventFilter) *eventFilters {
	var ef eventFilters
	for _, f := range filters {
		f(&ef)
	}

	return &ef
}

type eventFilters struct {
	byCorrelationID FilterValue[string]
	byMinID         FilterValue[int64]
	byMaxID         FilterValue[int64]
}

func (e eventFilters) ByCorrelationID() FilterValue[string] {
	return e.byCorrelationID
}

// ByMinID filters records to id >= the value.
func (e eventFilters) ByMinID() FilterValue[int64] {
	return e.byMinID
}

// ByMaxID filters records to id <= the value.
func (e eventFilters) ByMaxID() FilterValue[int64] {
	return e.byMaxID
}

type FilterValue[T any] struct {
	Enabled bool
	Value   T
}

type EventFilter func(filters *eventFilters)

func FilterByCorrelationID(correlationID string) EventFilter {
	return func(filters *eventFilters) {
		filters.byCorrelationID = FilterValue[string]{Enabled: true, Value: correlationID}
	}
}

func FilterByMinID(id int64) EventFilter {
	return func(filters *eventFilters) {
		filters.byMinID = FilterValue[int64]{Enabled: true, Value: id}
	}
}

func FilterByMaxID(id int64) EventFilter {
	return func(filters *eventFilters) {
		filters.byMaxID = FilterValue[int64]{Enabled: true, Value: id}
	}
}
