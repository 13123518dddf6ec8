package models

import "testing"

func TestCandidateKeyStripsQueryAndFragment(t *testing.T) {
	a := NewCandidateURL("https://cdn.example.com/v/1/file.mp4?token=abc")
	b := NewCandidateURL("https://cdn.example.com/v/1/file.mp4?token=zzz#frag")
	if a.Key != b.Key {
		t.Errorf("keys differ: %q vs %q", a.Key, b.Key)
	}
	if a.Raw == b.Raw {
		t.Error("raw URLs must stay distinct")
	}
}

func TestCandidateKeyCaseInsensitiveHost(t *testing.T) {
	a := NewCandidateURL("HTTPS://CDN.Example.COM/v/File.mp4")
	b := NewCandidateURL("https://cdn.example.com/v/File.mp4")
	if a.Key != b.Key {
		t.Errorf("scheme/host must compare case-insensitively: %q vs %q", a.Key, b.Key)
	}
}

func TestCandidateKeyPathCaseSensitive(t *testing.T) {
	a := NewCandidateURL("https://cdn.example.com/v/file.mp4")
	b := NewCandidateURL("https://cdn.example.com/v/FILE.mp4")
	if a.Key == b.Key {
		t.Error("path must compare case-sensitively")
	}
}

func TestDeleted(t *testing.T) {
	item := &ContentItem{}
	if item.Deleted() {
		t.Error("zero item must not be deleted")
	}
}
