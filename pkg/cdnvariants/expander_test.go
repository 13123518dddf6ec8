package cdnvariants

import (
	"reflect"
	"testing"
)

func TestExpandInputAlwaysFirst(t *testing.T) {
	e := Default()
	got := e.Expand("https://cdn.example.com/v/123/medium.mp4")
	if len(got) < 2 {
		t.Fatalf("expected expanded candidates, got %v", got)
	}
	if got[0] != "https://cdn.example.com/v/123/medium.mp4" {
		t.Errorf("input must be the first candidate, got %q", got[0])
	}
}

func TestExpandVideoRenditions(t *testing.T) {
	e := Default()
	got := e.Expand("https://cdn.example.com/v/123/medium.mp4")
	want := []string{
		"https://cdn.example.com/v/123/medium.mp4",
		"https://cdn.example.com/v/123/download.mp4",
		"https://cdn.example.com/v/123/original.mp4",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Expand = %v, want %v", got, want)
	}
}

func TestExpandPreservesAuthToken(t *testing.T) {
	e := Default()
	got := e.Expand("https://cdn.example.com/v/1/medium.mp4?token=SECRET&expires=99")
	for _, u := range got {
		if u != "https://cdn.example.com/v/1/medium.mp4?token=SECRET&expires=99" &&
			u != "https://cdn.example.com/v/1/download.mp4?token=SECRET&expires=99" &&
			u != "https://cdn.example.com/v/1/original.mp4?token=SECRET&expires=99" {
			t.Errorf("substitution touched more than the rendition segment: %q", u)
		}
	}
}

func TestExpandPlaylist(t *testing.T) {
	e := Default()
	got := e.Expand("https://cdn.example.com/v/1/playlist.m3u8")
	want := []string{
		"https://cdn.example.com/v/1/playlist.m3u8",
		"https://cdn.example.com/v/1/download.mp4",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Expand = %v, want %v", got, want)
	}
}

func TestExpandNoMatch(t *testing.T) {
	e := Default()
	got := e.Expand("https://cdn.example.com/docs/readme.txt")
	if len(got) != 1 || got[0] != "https://cdn.example.com/docs/readme.txt" {
		t.Errorf("unmatched URL must yield only itself, got %v", got)
	}
}

func TestFirstMatchingRuleWins(t *testing.T) {
	e := New()
	e.MustRegister(`a\.mp4`, `b.mp4`)
	e.MustRegister(`a\.mp4`, `c.mp4`)
	got := e.Expand("https://x/a.mp4")
	want := []string{"https://x/a.mp4", "https://x/b.mp4"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Expand = %v, want first rule only %v", got, want)
	}
}

func TestRegisterRejectsBadPattern(t *testing.T) {
	e := New()
	if err := e.Register(`([`, "x"); err == nil {
		t.Error("expected error for invalid pattern")
	}
	if err := e.Register(`ok`); err == nil {
		t.Error("expected error for missing substitutions")
	}
}
