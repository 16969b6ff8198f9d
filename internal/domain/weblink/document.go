package weblink

import "time"

// PageMeta is the metadata stored alongside a parsed document.
type PageMeta struct {
	Title         string     `json:"title,omitempty"`
	Source        string     `json:"source,omitempty"`
	PublishedTime *time.Time `json:"publishedTime,omitempty"`
}

// Document is a parsed page: markdown text plus metadata.
type Document struct {
	PageContent string   `json:"pageContent"`
	Metadata    PageMeta `json:"metadata"`
}

func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	out := *d
	if d.Metadata.PublishedTime != nil {
		t := *d.Metadata.PublishedTime
		out.Metadata.PublishedTime = &t
	}
	return &out
}

// Data is what the pipeline knows about a page in-process: the parsed document and,
// when available, the raw HTML it came from.
type Data struct {
	HTML string
	Doc  *Document
}

func (d Data) Clone() Data {
	return Data{HTML: d.HTML, Doc: d.Doc.Clone()}
}

// Chunk is one indexed slice of a document with its embedding.
type Chunk struct {
	Index     int       `json:"index"`
	Heading   string    `json:"heading,omitempty"`
	Content   string    `json:"content"`
	Tokens    int       `json:"tokens"`
	Embedding []float32 `json:"embedding,omitempty"`
}

// ChunkSet is the serialized chunk artifact for one URL at one parser version.
type ChunkSet struct {
	URL           string    `json:"url"`
	ParserVersion string    `json:"parserVersion"`
	Title         string    `json:"title,omitempty"`
	Chunks        []Chunk   `json:"chunks"`
	CreatedAt     time.Time `json:"createdAt"`
}

// ContentMeta is the classification result for a page.
type ContentMeta struct {
	Topics []Topic `json:"topics"`
}

type Topic struct {
	Key         string  `json:"key"`
	Name        string  `json:"name"`
	Score       float64 `json:"score,omitempty"`
	Description string  `json:"description,omitempty"`
}

// Valid reports whether the result carries the fields the pipeline requires.
func (m *ContentMeta) Valid() bool {
	return m != nil && len(m.Topics) > 0 && m.Topics[0].Key != ""
}

// Selection is a user-highlighted excerpt of a page.
type Selection struct {
	Content string `json:"content"`
	XPath   string `json:"xPath,omitempty"`
}

// Source references a page by its metadata, optionally narrowed to selections.
type Source struct {
	Metadata   PageMeta    `json:"metadata"`
	Selections []Selection `json:"selections,omitempty"`
}
