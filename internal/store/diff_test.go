package store

import "testing"

func TestChangedKeysAddedAndRemoved(t *testing.T) {
	prev := &Store{Flags: map[string]*FlagEntry{
		"a": {Key: "a", definitionJSON: `{"v":1}`},
		"b": {Key: "b", definitionJSON: `{"v":1}`},
	}}
	next := &Store{Flags: map[string]*FlagEntry{
		"a": {Key: "a", definitionJSON: `{"v":1}`}, // unchanged
		"c": {Key: "c", definitionJSON: `{"v":1}`}, // added
	}}

	changed := map[string]bool{}
	for _, k := range ChangedKeys(prev, next) {
		changed[k] = true
	}
	if changed["a"] {
		t.Fatal(`"a" is unchanged and should not be reported`)
	}
	if !changed["b"] {
		t.Fatal(`"b" was removed and should be reported`)
	}
	if !changed["c"] {
		t.Fatal(`"c" was added and should be reported`)
	}
}

func TestChangedKeysNilPrevMeansEverythingIsNew(t *testing.T) {
	next := &Store{Flags: map[string]*FlagEntry{
		"a": {Key: "a", definitionJSON: `{"v":1}`},
	}}
	changed := ChangedKeys(nil, next)
	if len(changed) != 1 || changed[0] != "a" {
		t.Fatalf("ChangedKeys(nil, next) = %v, want [a]", changed)
	}
}
