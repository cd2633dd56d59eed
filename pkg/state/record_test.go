package state

import (
	"reflect"
	"testing"
)

func TestRecord_SetLoadedTables(t *testing.T) {
	var r Record
	r.SetLoadedTables([]string{"users", "", "countries", "users"})

	want := []string{"countries", "users"}
	if !reflect.DeepEqual(r.LoadedTables, want) {
		t.Errorf("LoadedTables = %v, want %v", r.LoadedTables, want)
	}
	if !r.IsLoaded("users") || r.IsLoaded("") {
		t.Errorf("IsLoaded gave wrong answers for %v", r.LoadedTables)
	}
}

func TestDocument_RemoveDistinguishesZeroValue(t *testing.T) {
	doc := documentOf(Record{TestCaseStarted: false})

	if v, ok := doc.get(KeyTestCaseStarted); !ok || v != false {
		t.Errorf("get = %v, %v; want false, true", v, ok)
	}
	if err := doc.remove(KeyTestCaseStarted); err != nil {
		t.Fatal(err)
	}
	if _, ok := doc.get(KeyTestCaseStarted); ok {
		t.Error("removed key still present")
	}
}
