package state

import (
	"sort"
	"time"
)

// Key names one entry of the shared record for the key/value API.
type Key string

const (
	KeyTestCaseStarted         Key = "test_case_started"
	KeyStartProcessID          Key = "start_process_id"
	KeyLoadedTables            Key = "loaded_tables"
	KeyPreviousTestWasIsolated Key = "previous_test_was_isolated"
)

// Keys lists every key accepted by Get, Set and Remove.
var Keys = []Key{
	KeyTestCaseStarted,
	KeyStartProcessID,
	KeyLoadedTables,
	KeyPreviousTestWasIsolated,
}

// Record is the state shared between the main process and isolated-test
// processes of one test class.
type Record struct {
	// ClassID identifies the test class the record was created for.
	ClassID string

	// CreatorToken is minted by the process that created the record.
	CreatorToken string

	TestCaseStarted bool
	StartProcessID  int

	// LoadedTables holds the resource keys of populated fixture tables,
	// sorted and without duplicates.
	LoadedTables []string

	PreviousTestWasIsolated bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsLoaded reports whether the table with the given resource key is recorded
// as populated.
func (r Record) IsLoaded(resourceKey string) bool {
	i := sort.SearchStrings(r.LoadedTables, resourceKey)
	return i < len(r.LoadedTables) && r.LoadedTables[i] == resourceKey
}

// SetLoadedTables replaces the loaded-table set.
func (r *Record) SetLoadedTables(keys []string) {
	r.LoadedTables = normalizeKeys(keys)
}

func normalizeKeys(keys []string) []string {
	out := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// document is the on-disk form. Pointer fields distinguish a removed key
// from one holding its zero value.
type document struct {
	Version                 string    `json:"version"`
	ClassID                 string    `json:"class_id,omitempty"`
	CreatorToken            string    `json:"creator_token,omitempty"`
	TestCaseStarted         *bool     `json:"test_case_started,omitempty"`
	StartProcessID          *int      `json:"start_process_id,omitempty"`
	LoadedTables            *[]string `json:"loaded_tables,omitempty"`
	PreviousTestWasIsolated *bool     `json:"previous_test_was_isolated,omitempty"`
	CreatedAt               time.Time `json:"created_at"`
	UpdatedAt               time.Time `json:"updated_at"`
}

func (d document) record() Record {
	r := Record{
		ClassID:      d.ClassID,
		CreatorToken: d.CreatorToken,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
	if d.TestCaseStarted != nil {
		r.TestCaseStarted = *d.TestCaseStarted
	}
	if d.StartProcessID != nil {
		r.StartProcessID = *d.StartProcessID
	}
	if d.LoadedTables != nil {
		r.LoadedTables = normalizeKeys(*d.LoadedTables)
	}
	if d.PreviousTestWasIsolated != nil {
		r.PreviousTestWasIsolated = *d.PreviousTestWasIsolated
	}
	return r
}

func documentOf(r Record) document {
	started := r.TestCaseStarted
	pid := r.StartProcessID
	tables := normalizeKeys(r.LoadedTables)
	isolated := r.PreviousTestWasIsolated
	return document{
		ClassID:                 r.ClassID,
		CreatorToken:            r.CreatorToken,
		TestCaseStarted:         &started,
		StartProcessID:          &pid,
		LoadedTables:            &tables,
		PreviousTestWasIsolated: &isolated,
		CreatedAt:               r.CreatedAt,
		UpdatedAt:               r.UpdatedAt,
	}
}

func (d document) get(key Key) (any, bool) {
	switch key {
	case KeyTestCaseStarted:
		if d.TestCaseStarted != nil {
			return *d.TestCaseStarted, true
		}
	case KeyStartProcessID:
		if d.StartProcessID != nil {
			return *d.StartProcessID, true
		}
	case KeyLoadedTables:
		if d.LoadedTables != nil {
			return normalizeKeys(*d.LoadedTables), true
		}
	case KeyPreviousTestWasIsolated:
		if d.PreviousTestWasIsolated != nil {
			return *d.PreviousTestWasIsolated, true
		}
	}
	return nil, false
}

func (d *document) set(key Key, value any) error {
	switch key {
	case KeyTestCaseStarted, KeyPreviousTestWasIsolated:
		b, ok := value.(bool)
		if !ok {
			return invalidValue(key, value)
		}
		if key == KeyTestCaseStarted {
			d.TestCaseStarted = &b
		} else {
			d.PreviousTestWasIsolated = &b
		}
	case KeyStartProcessID:
		var pid int
		switch v := value.(type) {
		case int:
			pid = v
		case int64:
			pid = int(v)
		default:
			return invalidValue(key, value)
		}
		d.StartProcessID = &pid
	case KeyLoadedTables:
		tables, ok := value.([]string)
		if !ok {
			return invalidValue(key, value)
		}
		tables = normalizeKeys(tables)
		d.LoadedTables = &tables
	default:
		return unknownKey(key)
	}
	return nil
}

func (d *document) remove(key Key) error {
	switch key {
	case KeyTestCaseStarted:
		d.TestCaseStarted = nil
	case KeyStartProcessID:
		d.StartProcessID = nil
	case KeyLoadedTables:
		d.LoadedTables = nil
	case KeyPreviousTestWasIsolated:
		d.PreviousTestWasIsolated = nil
	default:
		return unknownKey(key)
	}
	return nil
}
