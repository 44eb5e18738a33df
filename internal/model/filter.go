package model

// TagProvider is the normalized tag catalog row (spec §3). Upserted at
// startup from filter config, keyed on (Tag, Module), never deleted by the
// pipeline.
type TagProvider struct {
	ID          int64
	Tag         string
	Module      string
	Prefix      string
	Category    string
	Repository  string
	Description string
}

// FilterDecision is the outcome of running the Filter Engine (C3) against a
// single transaction: whether to keep its payload bytes and which tag, if
// any, to attach.
type FilterDecision struct {
	StorePayload bool
	TagRef       *int64
}
