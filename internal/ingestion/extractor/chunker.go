package extractor

import (
	"fmt"
	"strings"

	"github.com/yungbote/weblink-backend/internal/domain/weblink"
)

// Version names the current parse and chunk output. Links indexed under another
// version are re-chunked.
const Version = "md-1"

type ChunkConfig struct {
	TargetTokens int `yaml:"target_tokens"`
	MaxTokens    int `yaml:"max_tokens"`
	MinTokens    int `yaml:"min_tokens"`
}

func DefaultChunkConfig() ChunkConfig {
	return ChunkConfig{TargetTokens: 500, MaxTokens: 800, MinTokens: 100}
}

func (c ChunkConfig) Validate() error {
	if c.MinTokens <= 0 || c.TargetTokens <= 0 || c.MaxTokens <= 0 {
		return fmt.Errorf("chunk sizes must be positive: min=%d target=%d max=%d", c.MinTokens, c.TargetTokens, c.MaxTokens)
	}
	if c.MinTokens >= c.TargetTokens {
		return fmt.Errorf("MinTokens (%d) must be less than TargetTokens (%d)", c.MinTokens, c.TargetTokens)
	}
	if c.TargetTokens > c.MaxTokens {
		return fmt.Errorf("TargetTokens (%d) must not exceed MaxTokens (%d)", c.TargetTokens, c.MaxTokens)
	}
	return nil
}

// Chunker splits markdown on headings, then paragraphs, packing sections up to the
// target size.
type Chunker struct {
	cfg ChunkConfig
}

func NewChunker(cfg ChunkConfig) (*Chunker, error) {
	if cfg.TargetTokens == 0 {
		cfg = DefaultChunkConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Chunker{cfg: cfg}, nil
}

type section struct {
	heading string
	content string
}

func (c *Chunker) Chunk(doc *weblink.Document) []weblink.Chunk {
	if doc == nil || strings.TrimSpace(doc.PageContent) == "" {
		return nil
	}
	var (
		out     []weblink.Chunk
		heading string
		buf     strings.Builder
	)
	flush := func() {
		text := strings.TrimSpace(buf.String())
		buf.Reset()
		if text == "" {
			return
		}
		out = append(out, weblink.Chunk{Heading: heading, Content: text, Tokens: EstimateTokens(text)})
	}

	for _, sec := range parseSections(doc.PageContent) {
		tokens := EstimateTokens(sec.content)
		if tokens > c.cfg.MaxTokens {
			flush()
			heading = sec.heading
			for _, part := range c.splitLarge(sec.content) {
				out = append(out, weblink.Chunk{Heading: sec.heading, Content: part, Tokens: EstimateTokens(part)})
			}
			continue
		}
		current := EstimateTokens(buf.String())
		if current > 0 && current+tokens > c.cfg.TargetTokens {
			flush()
		}
		if buf.Len() == 0 {
			heading = sec.heading
		} else {
			buf.WriteString("\n\n")
		}
		buf.WriteString(sec.content)
	}
	flush()

	out = c.mergeSmallTail(out)
	for i := range out {
		out[i].Index = i
	}
	return out
}

func parseSections(content string) []section {
	var (
		sections []section
		current  section
		inCode   bool
		lines    []string
	)
	push := func() {
		current.content = strings.TrimSpace(strings.Join(lines, "\n"))
		if current.content != "" {
			sections = append(sections, current)
		}
		lines = nil
	}
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~") {
			inCode = !inCode
		}
		if !inCode && isHeading(trimmed) {
			push()
			current = section{heading: strings.TrimSpace(strings.TrimLeft(trimmed, "#"))}
		}
		lines = append(lines, line)
	}
	push()
	return sections
}

func isHeading(line string) bool {
	if !strings.HasPrefix(line, "#") {
		return false
	}
	level := len(line) - len(strings.TrimLeft(line, "#"))
	return level <= 6 && len(line) > level && line[level] == ' '
}

func (c *Chunker) splitLarge(content string) []string {
	var (
		out []string
		buf strings.Builder
	)
	flush := func() {
		if s := strings.TrimSpace(buf.String()); s != "" {
			out = append(out, s)
		}
		buf.Reset()
	}
	for _, para := range strings.Split(content, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if EstimateTokens(para) > c.cfg.MaxTokens {
			flush()
			out = append(out, hardSplit(para, c.cfg.TargetTokens*CharsPerToken)...)
			continue
		}
		if buf.Len() > 0 && EstimateTokens(buf.String())+EstimateTokens(para) > c.cfg.TargetTokens {
			flush()
		}
		if buf.Len() > 0 {
			buf.WriteString("\n\n")
		}
		buf.WriteString(para)
	}
	flush()
	return out
}

func hardSplit(s string, maxRunes int) []string {
	r := []rune(s)
	var out []string
	for len(r) > 0 {
		n := maxRunes
		if n > len(r) {
			n = len(r)
		}
		out = append(out, strings.TrimSpace(string(r[:n])))
		r = r[n:]
	}
	return out
}

func (c *Chunker) mergeSmallTail(chunks []weblink.Chunk) []weblink.Chunk {
	if len(chunks) < 2 {
		return chunks
	}
	last := chunks[len(chunks)-1]
	prev := chunks[len(chunks)-2]
	if last.Tokens >= c.cfg.MinTokens || prev.Tokens+last.Tokens > c.cfg.MaxTokens {
		return chunks
	}
	prev.Content = prev.Content + "\n\n" + last.Content
	prev.Tokens = EstimateTokens(prev.Content)
	chunks[len(chunks)-2] = prev
	return chunks[:len(chunks)-1]
}
