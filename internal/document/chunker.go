package document

import (
	"fmt"
	"strings"

	"github.com/scholarly-ai/tutor-backend/internal/model"
	"github.com/scholarly-ai/tutor-backend/internal/tokenizer"
)

// Chunker splits extracted text into overlapping, token-bounded chunks,
// splitting preferentially on paragraph, then sentence, then word
// boundaries.
type Chunker struct {
	counter       *tokenizer.Counter
	chunkSize     int // target tokens per chunk
	overlapTokens int
}

// NewChunker builds a Chunker. overlapTokens must be smaller than
// chunkSize or it is clamped to chunkSize/4.
func NewChunker(counter *tokenizer.Counter, chunkSize, overlapTokens int) *Chunker {
	if chunkSize <= 0 {
		chunkSize = 800
	}
	if overlapTokens < 0 || overlapTokens >= chunkSize {
		overlapTokens = chunkSize / 4
	}
	return &Chunker{counter: counter, chunkSize: chunkSize, overlapTokens: overlapTokens}
}

type rawChunk struct {
	content   string
	pageIndex *int
}

// Split splits text (optionally page-delimited by "\f") into chunks, each
// carrying the chunk's page index when the source text is paginated.
// Empty chunks are dropped.
func (c *Chunker) Split(text string) ([]string, []*int) {
	pages := strings.Split(text, "\f")
	var segments []rawChunk

	for pageNum, page := range pages {
		if strings.TrimSpace(page) == "" {
			continue
		}
		idx := pageNum
		var pageIdx *int
		if len(pages) > 1 {
			pageIdx = &idx
		}
		for _, seg := range c.buildSegments(splitParagraphs(page)) {
			segments = append(segments, rawChunk{content: seg, pageIndex: pageIdx})
		}
	}

	overlapped := c.applyOverlap(segments)

	contents := make([]string, 0, len(overlapped))
	pageIndexes := make([]*int, 0, len(overlapped))
	for _, seg := range overlapped {
		trimmed := strings.TrimSpace(seg.content)
		if trimmed == "" {
			continue
		}
		contents = append(contents, trimmed)
		pageIndexes = append(pageIndexes, seg.pageIndex)
	}
	return contents, pageIndexes
}

// buildSegments merges small paragraphs and splits large ones to fit
// chunkSize tokens.
func (c *Chunker) buildSegments(paragraphs []string) []string {
	var segments []string
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			segments = append(segments, current.String())
			current.Reset()
		}
	}

	for _, para := range paragraphs {
		paraTokens := c.counter.Count(para)
		currentTokens := c.counter.Count(current.String())

		if currentTokens > 0 && currentTokens+paraTokens > c.chunkSize {
			flush()
		}

		if paraTokens > c.chunkSize {
			flush()
			segments = append(segments, c.splitLargeParagraph(para)...)
			continue
		}

		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
	}
	flush()

	return segments
}

// splitLargeParagraph splits a paragraph exceeding chunkSize tokens on
// sentence boundaries, falling back to word boundaries for a single
// pathologically long sentence.
func (c *Chunker) splitLargeParagraph(para string) []string {
	sentences := splitSentences(para)
	var chunks []string
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			chunks = append(chunks, current.String())
			current.Reset()
		}
	}

	for _, sent := range sentences {
		sentTokens := c.counter.Count(sent)
		currentTokens := c.counter.Count(current.String())

		if currentTokens > 0 && currentTokens+sentTokens > c.chunkSize {
			flush()
		}
		if sentTokens > c.chunkSize {
			flush()
			chunks = append(chunks, c.splitByWords(sent)...)
			continue
		}
		if current.Len() > 0 {
			current.WriteString(" ")
		}
		current.WriteString(sent)
	}
	flush()

	if len(chunks) == 0 && len(para) > 0 {
		chunks = c.splitByWords(para)
	}
	return chunks
}

func (c *Chunker) splitByWords(text string) []string {
	words := strings.Fields(text)
	var chunks []string
	var current []string
	currentTokens := 0

	for _, w := range words {
		wTokens := c.counter.Count(w)
		if currentTokens > 0 && currentTokens+wTokens > c.chunkSize {
			chunks = append(chunks, strings.Join(current, " "))
			current = nil
			currentTokens = 0
		}
		current = append(current, w)
		currentTokens += wTokens
	}
	if len(current) > 0 {
		chunks = append(chunks, strings.Join(current, " "))
	}
	return chunks
}

// applyOverlap prepends the tail of each chunk (sized to overlapTokens) to
// the following chunk, preserving the source page index of the chunk it
// was split from.
func (c *Chunker) applyOverlap(segments []rawChunk) []rawChunk {
	if len(segments) <= 1 {
		return segments
	}

	result := make([]rawChunk, len(segments))
	result[0] = segments[0]

	for i := 1; i < len(segments); i++ {
		tail := c.lastNTokens(segments[i-1].content, c.overlapTokens)
		if tail == "" {
			result[i] = segments[i]
			continue
		}
		result[i] = rawChunk{content: tail + "\n\n" + segments[i].content, pageIndex: segments[i].pageIndex}
	}
	return result
}

func (c *Chunker) lastNTokens(text string, n int) string {
	if n <= 0 {
		return ""
	}
	words := strings.Fields(text)
	// binary-search-free approximation: walk back from the end word by
	// word until the token budget is spent.
	count := 0
	start := len(words)
	for start > 0 {
		w := words[start-1]
		wTokens := c.counter.Count(w)
		if count+wTokens > n {
			break
		}
		count += wTokens
		start--
	}
	if start >= len(words) {
		return ""
	}
	return strings.Join(words[start:], " ")
}

func splitParagraphs(text string) []string {
	raw := strings.Split(text, "\n\n")
	var out []string
	for _, p := range raw {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func splitSentences(text string) []string {
	var sentences []string
	var current strings.Builder
	runes := []rune(text)
	for i, r := range runes {
		current.WriteRune(r)
		if (r == '.' || r == '!' || r == '?') && i+1 < len(runes) && runes[i+1] == ' ' {
			sentences = append(sentences, strings.TrimSpace(current.String()))
			current.Reset()
		}
	}
	if current.Len() > 0 {
		sentences = append(sentences, strings.TrimSpace(current.String()))
	}
	return sentences
}

// toChunks assembles model.Chunk values from split text, metadata
// template, and per-segment page indexes.
func toChunks(contents []string, pageIndexes []*int, meta model.ChunkMetadata) ([]model.Chunk, error) {
	if len(contents) == 0 {
		return nil, fmt.Errorf("document: no non-empty chunks produced")
	}
	chunks := make([]model.Chunk, 0, len(contents))
	for i, content := range contents {
		m := meta
		m.ChunkIndex = i
		m.PageIndex = pageIndexes[i]
		chunks = append(chunks, model.Chunk{Text: content, Metadata: m})
	}
	return chunks, nil
}
