package urlnorm

import "testing"

func TestCanonicalizeIdempotent(t *testing.T) {
	cases := []string{
		"HTTP://Example.com:80/Docs/",
		"https://example.com/docs/intro?x=1#frag",
		"https://example.com",
		"https://example.com/a/./b/../c/",
	}
	for _, c := range cases {
		first, err := Canonicalize(c)
		if err != nil {
			t.Fatalf("Canonicalize(%q): %v", c, err)
		}
		second, err := Canonicalize(first)
		if err != nil {
			t.Fatalf("Canonicalize(%q): %v", first, err)
		}
		if first != second {
			t.Fatalf("not idempotent: %q -> %q -> %q", c, first, second)
		}
	}
}

func TestCanonicalizeStripsFragmentAndQuery(t *testing.T) {
	withFrag, err := Canonicalize("https://example.com/docs/advanced#frag")
	if err != nil {
		t.Fatal(err)
	}
	withQuery, err := Canonicalize("https://example.com/docs/advanced?x=1")
	if err != nil {
		t.Fatal(err)
	}
	if withFrag != withQuery {
		t.Fatalf("expected equal canonicalization, got %q vs %q", withFrag, withQuery)
	}
	if withFrag != "https://example.com/docs/advanced" {
		t.Fatalf("unexpected canonical form: %q", withFrag)
	}
}

func TestCanonicalizeRootPathKeepsSlash(t *testing.T) {
	got, err := Canonicalize("https://example.com/")
	if err != nil {
		t.Fatal(err)
	}
	if got != "https://example.com/" {
		t.Fatalf("expected root slash preserved, got %q", got)
	}
}

func TestCanonicalizeRejectsNonHTTPScheme(t *testing.T) {
	if _, err := Canonicalize("ftp://example.com/file"); err == nil {
		t.Fatal("expected error for non-http(s) scheme")
	}
}

func TestInScope(t *testing.T) {
	start := "https://example.com/docs"
	tests := []struct {
		url  string
		want bool
	}{
		{"https://example.com/docs", true},
		{"https://example.com/docs/intro", true},
		{"https://example.com/docsish", false},
		{"https://example.com/other", false},
		{"https://other.com/docs/intro", false},
		{"http://example.com/docs/intro", false},
	}
	for _, tc := range tests {
		got, err := InScope(start, tc.url)
		if err != nil {
			t.Fatalf("InScope(%q): %v", tc.url, err)
		}
		if got != tc.want {
			t.Errorf("InScope(%q) = %v, want %v", tc.url, got, tc.want)
		}
	}
}

func TestPageIDStable(t *testing.T) {
	u := "https://example.com/docs/intro"
	id1 := PageID(u)
	id2 := PageID(u)
	if id1 != id2 {
		t.Fatalf("PageID not stable: %q vs %q", id1, id2)
	}
	if len(id1) != len("p_")+64 {
		t.Fatalf("unexpected id length: %q", id1)
	}
}

func TestResolveRelative(t *testing.T) {
	got, err := Resolve("https://example.com/docs/intro", "../advanced?x=1#y")
	if err != nil {
		t.Fatal(err)
	}
	if got != "https://example.com/advanced" {
		t.Fatalf("got %q", got)
	}
}
