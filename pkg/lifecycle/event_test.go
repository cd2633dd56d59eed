package lifecycle

import (
	"errors"
	"testing"
)

func TestParseEvent(t *testing.T) {
	tests := []struct {
		name string
		want Event
	}{
		{"ClassSetup", EventClassSetup},
		{"class-setup", EventClassSetup},
		{"classSetup", EventClassSetup},
		{"test_setup", EventTestSetup},
		{"TestTeardown", EventTestTeardown},
		{"class teardown", EventClassTeardown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseEvent(tt.name)
			if err != nil {
				t.Fatalf("ParseEvent(%q): %v", tt.name, err)
			}
			if got != tt.want {
				t.Errorf("ParseEvent(%q) = %v, want %v", tt.name, got, tt.want)
			}
		})
	}

	if _, err := ParseEvent("beforeAll"); !errors.Is(err, ErrUnknownEvent) {
		t.Errorf("ParseEvent(beforeAll) err = %v", err)
	}
}

func TestEvent_Valid(t *testing.T) {
	for _, e := range Events {
		if !e.Valid() {
			t.Errorf("%v not valid", e)
		}
	}
	if Event(0).Valid() || Event(5).Valid() {
		t.Error("out-of-range event reported valid")
	}
}
