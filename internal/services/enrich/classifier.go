package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/yungbote/weblink-backend/internal/domain/weblink"
	"github.com/yungbote/weblink-backend/internal/ingestion/extractor"
	"github.com/yungbote/weblink-backend/internal/platform/openai"
)

const classifyInputTokens = 3000

const classifySystem = `You classify web pages for a personal reading library.
Return up to 3 topics ordered by relevance. Each topic has a short lowercase snake_case key,
a human readable name, a relevance score between 0 and 1 and a one sentence description.
Return an empty topics array when the page has no meaningful content.`

func contentMetaSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"topics": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"key":         map[string]any{"type": "string"},
						"name":        map[string]any{"type": "string"},
						"score":       map[string]any{"type": "number"},
						"description": map[string]any{"type": "string"},
					},
					"required":             []string{"key", "name", "score", "description"},
					"additionalProperties": false,
				},
			},
		},
		"required":             []string{"topics"},
		"additionalProperties": false,
	}
}

type Classifier struct {
	ai openai.Client
}

func NewClassifier(ai openai.Client) *Classifier {
	return &Classifier{ai: ai}
}

// Classify returns the topics of doc. The result may be empty; callers decide
// whether it is worth storing.
func (c *Classifier) Classify(ctx context.Context, doc *weblink.Document) (*weblink.ContentMeta, error) {
	if doc == nil || strings.TrimSpace(doc.PageContent) == "" {
		return &weblink.ContentMeta{}, nil
	}
	var user strings.Builder
	if doc.Metadata.Title != "" {
		fmt.Fprintf(&user, "Title: %s\n", doc.Metadata.Title)
	}
	if doc.Metadata.Source != "" {
		fmt.Fprintf(&user, "URL: %s\n", doc.Metadata.Source)
	}
	user.WriteString("\n")
	user.WriteString(extractor.TrimToTokens(doc.PageContent, classifyInputTokens))

	obj, err := c.ai.GenerateJSON(ctx, classifySystem, user.String(), "weblink_content_meta_v1", contentMetaSchema())
	if err != nil {
		return nil, err
	}
	b, _ := json.Marshal(obj)
	var out weblink.ContentMeta
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("decode content meta: %w", err)
	}
	for i := range out.Topics {
		out.Topics[i].Key = strings.TrimSpace(strings.ToLower(out.Topics[i].Key))
		out.Topics[i].Name = strings.TrimSpace(out.Topics[i].Name)
	}
	return &out, nil
}
