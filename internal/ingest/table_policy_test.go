package ingest

import (
	"reflect"
	"testing"
)

func TestOrdinalPolicy(t *testing.T) {
	if DefaultTableKinds.Limit() != 2 {
		t.Fatalf("default limit = %d", DefaultTableKinds.Limit())
	}
	if kind, found := DefaultTableKinds.Kind(0); !found || kind != TableFinalAction {
		t.Fatalf("ordinal 0 = %q, %v", kind, found)
	}
	if kind, found := DefaultTableKinds.Kind(1); !found || kind != TableDatesForFiling {
		t.Fatalf("ordinal 1 = %q, %v", kind, found)
	}
	if _, found := DefaultTableKinds.Kind(2); found {
		t.Fatal("ordinal 2 should be out of range")
	}
}

func TestParseTableKinds(t *testing.T) {
	tests := []struct {
		name    string
		in      []string
		want    OrdinalPolicy
		wantErr bool
	}{
		{"empty uses default", nil, DefaultTableKinds, false},
		{"reversed", []string{"dates_for_filing", "final_action"}, OrdinalPolicy{TableDatesForFiling, TableFinalAction}, false},
		{"final action only", []string{"final_action"}, OrdinalPolicy{TableFinalAction}, false},
		{"unknown", []string{"employment"}, nil, true},
		{"duplicate", []string{"final_action", "final_action"}, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTableKinds(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected an error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
		})
	}
}
