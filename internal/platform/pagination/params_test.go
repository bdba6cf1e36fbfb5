package pagination

import (
	"errors"
	"net/url"
	"testing"
)

func TestParseDefaults(t *testing.T) {
	params, err := Parse(url.Values{}, Options{})
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if params.Limit != DefaultLimit || params.Offset != 0 {
		t.Fatalf("expected defaults, got %+v", params)
	}

	params, err = Parse(url.Values{}, Options{DefaultLimit: 500, MaxLimit: 40})
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if params.Limit != 40 {
		t.Fatalf("expected default clamped to max 40, got %d", params.Limit)
	}
}

func TestParseLimitAndOffset(t *testing.T) {
	opts := Options{DefaultLimit: 25, MaxLimit: 40}

	params, err := Parse(url.Values{"limit": {"30"}, "offset": {"60"}}, opts)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if params.Limit != 30 || params.Offset != 60 {
		t.Fatalf("unexpected params %+v", params)
	}

	params, err = Parse(url.Values{"limit": {"400"}}, opts)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if params.Limit != 40 {
		t.Fatalf("expected limit clamped to 40, got %d", params.Limit)
	}
}

func TestParseRejectsInvalidValues(t *testing.T) {
	cases := []struct {
		name   string
		values url.Values
		want   error
	}{
		{"non numeric limit", url.Values{"limit": {"abc"}}, ErrInvalidLimit},
		{"zero limit", url.Values{"limit": {"0"}}, ErrInvalidLimit},
		{"negative offset", url.Values{"offset": {"-1"}}, ErrInvalidOffset},
		{"non numeric offset", url.Values{"offset": {"x"}}, ErrInvalidOffset},
		{"offset too deep", url.Values{"offset": {"10001"}}, ErrInvalidOffset},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Parse(tc.values, Options{}); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}
