package textutil

import (
	"reflect"
	"testing"
)

func TestNormalizeSearch(t *testing.T) {
	cases := []struct {
		name  string
		input string
		want  string
	}{
		{name: "empty", input: "   ", want: ""},
		{name: "folds case", input: "Blue Bottle", want: "blue bottle"},
		{name: "collapses whitespace", input: "  Taco \t  Stand\n", want: "taco stand"},
		{name: "strips markup", input: "<b>Pho</b> House", want: "pho house"},
		{name: "keeps ampersand", input: "Fish & Chips", want: "fish & chips"},
		{name: "full width", input: "ＲＡＭＥＮ", want: "ramen"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := NormalizeSearch(tc.input); got != tc.want {
				t.Fatalf("expected %q got %q", tc.want, got)
			}
		})
	}
}

func TestMatchesSearch(t *testing.T) {
	if !MatchesSearch("", "anything") {
		t.Fatalf("expected empty term to match")
	}
	if !MatchesSearch("bottle", "rest_1", "Blue BOTTLE Coffee") {
		t.Fatalf("expected case-insensitive match")
	}
	if MatchesSearch("sushi", "Blue Bottle") {
		t.Fatalf("expected no match")
	}
}

func TestNormalizeIDs(t *testing.T) {
	got := NormalizeIDs([]string{" a ", "b", "", "a", "c "})
	want := []string{"a", "b", "c"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %#v got %#v", want, got)
	}
	if NormalizeIDs([]string{" ", ""}) != nil {
		t.Fatalf("expected nil for blank input")
	}
}
