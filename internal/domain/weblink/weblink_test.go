package weblink

import (
	"testing"
	"time"
)

func TestIsReady(t *testing.T) {
	const v = "v3"
	cases := []struct {
		name string
		w    *Weblink
		want bool
	}{
		{"nil", nil, false},
		{"fresh", &Weblink{ParseStatus: StatusProcessing}, false},
		{"parsed current", &Weblink{ParsedDocStorageKey: "docs/x.md", ParseStatus: StatusFinish, ParserVersion: v}, true},
		{"parsed stale", &Weblink{ParsedDocStorageKey: "docs/x.md", ParseStatus: StatusFinish, ParserVersion: "v2"}, false},
		{"finish without key", &Weblink{ParseStatus: StatusFinish, ParserVersion: v}, false},
		{"failed", &Weblink{ParsedDocStorageKey: "docs/x.md", ParseStatus: StatusFailed, ParserVersion: v}, false},
	}
	for _, tc := range cases {
		if got := IsReady(tc.w, v); got != tc.want {
			t.Fatalf("%s: want=%v got=%v", tc.name, tc.want, got)
		}
	}
}

func TestStateIndexedRequiresCurrentVersion(t *testing.T) {
	w := &Weblink{ChunkStorageKey: "chunks/x-v2.json", ChunkStatus: StatusFinish, ParserVersion: "v2"}
	if w.State("v3").Indexed() {
		t.Fatalf("stale version should not count as indexed")
	}
	if !w.State("v2").Indexed() {
		t.Fatalf("matching version should count as indexed")
	}
}

func TestHasContentMeta(t *testing.T) {
	for raw, want := range map[string]bool{"": false, "{}": false, "null": false, `{"topics":[]}`: true} {
		w := &Weblink{ContentMeta: []byte(raw)}
		if got := w.HasContentMeta(); got != want {
			t.Fatalf("content meta %q: want=%v got=%v", raw, want, got)
		}
	}
}

func TestContentMetaValid(t *testing.T) {
	if (&ContentMeta{}).Valid() {
		t.Fatalf("empty topics should be invalid")
	}
	if (&ContentMeta{Topics: []Topic{{Name: "Go"}}}).Valid() {
		t.Fatalf("missing first key should be invalid")
	}
	if !(&ContentMeta{Topics: []Topic{{Key: "go", Name: "Go"}}}).Valid() {
		t.Fatalf("keyed topic should be valid")
	}
}

func TestDocumentCloneIsDeep(t *testing.T) {
	ts := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	d := &Document{PageContent: "x", Metadata: PageMeta{Title: "t", PublishedTime: &ts}}
	c := d.Clone()
	c.PageContent = "y"
	*c.Metadata.PublishedTime = ts.Add(time.Hour)
	if d.PageContent != "x" || !d.Metadata.PublishedTime.Equal(ts) {
		t.Fatalf("clone shares state with original")
	}
}

func TestIngestionJobDefaults(t *testing.T) {
	now := time.Now()
	j := IngestionJob{URL: "https://a.com/"}
	if !j.VisitedAt(now).Equal(now) {
		t.Fatalf("missing visit time should default to now")
	}
	if j.ParseSource() != ParseSourceServerCrawl {
		t.Fatalf("parse source: want=%q got=%q", ParseSourceServerCrawl, j.ParseSource())
	}
	j.StorageKey = "html/abc.html"
	if j.ParseSource() != ParseSourceClientUpload {
		t.Fatalf("parse source: want=%q got=%q", ParseSourceClientUpload, j.ParseSource())
	}
}
