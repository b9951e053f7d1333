// Package evaluator implements the Response Evaluator: a confidence score
// combining retrieval similarity and context coverage, plus a
// hallucination-flag scan over the generated draft. It is a review
// trigger, not a block — callers decide what happens with a low score or
// a non-empty flag list.
package evaluator

import (
	"regexp"
	"strings"
)

// Input bundles everything Evaluate needs from the earlier Retrieve and
// Generate stages.
type Input struct {
	Draft        string
	Context      []string // the kept chunk texts used to ground Generate
	SourceScores []float64 // scores of the chunks kept in Context, same order
	IsRefusal    bool      // draft is the "not in materials" decline, not a grounded answer
}

// Result is §4.9 Evaluate's output.
type Result struct {
	Confidence         float64
	Coverage           float64
	HallucinationFlags []string
	NeedsReview        bool
}

// Evaluate computes confidence = 0.6*avg(top-k source scores) + 0.4*coverage,
// scans for hallucination flags, and decides needs_review per §4.9's rule:
// confidence < tauReview OR hallucination flags present OR (empty context
// and draft is not a refusal).
func Evaluate(in Input, tauReview float64) Result {
	coverage := Coverage(in.Draft, in.Context)
	avgScore := avgSourceScore(in.SourceScores)

	confidence := 0.0
	if len(in.Context) == 0 {
		// No grounding signal at all; coverage is defined as 0 per §4.9.
		confidence = 0.0
	} else {
		confidence = 0.6*avgScore + 0.4*coverage
	}

	flags := HallucinationFlags(in.Draft, in.Context)

	needsReview := confidence < tauReview ||
		len(flags) > 0 ||
		(len(in.Context) == 0 && !in.IsRefusal)

	return Result{
		Confidence:         confidence,
		Coverage:           coverage,
		HallucinationFlags: flags,
		NeedsReview:        needsReview,
	}
}

func avgSourceScore(scores []float64) float64 {
	if len(scores) == 0 {
		return 0
	}
	total := 0.0
	for _, s := range scores {
		total += s
	}
	return total / float64(len(scores))
}

var wordRe = regexp.MustCompile(`[a-zA-Z0-9]+`)

// stopwords are excluded from coverage's content-word set; their presence
// or absence says nothing about grounding.
var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "is": true, "are": true, "was": true,
	"were": true, "be": true, "been": true, "to": true, "of": true, "and": true,
	"or": true, "in": true, "on": true, "for": true, "with": true, "it": true,
	"this": true, "that": true, "as": true, "by": true, "at": true, "from": true,
	"you": true, "your": true, "i": true, "we": true, "can": true, "will": true,
	"do": true, "does": true, "not": true, "but": true,
}

// Coverage measures the fraction of content words in draft that appear
// (after lemma-ish normalization — lowercasing plus a simple plural/suffix
// strip) in the concatenated context. Returns 0 when context is empty.
func Coverage(draft string, context []string) float64 {
	if len(context) == 0 {
		return 0
	}
	ctxWords := contentWordSet(strings.Join(context, " "))
	draftWords := wordRe.FindAllString(strings.ToLower(draft), -1)

	total, matched := 0, 0
	for _, w := range draftWords {
		lemma := lemma(w)
		if stopwords[lemma] || len(lemma) <= 2 {
			continue
		}
		total++
		if ctxWords[lemma] {
			matched++
		}
	}
	if total == 0 {
		return 1 // nothing substantive claimed; trivially "covered"
	}
	return float64(matched) / float64(total)
}

func contentWordSet(text string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range wordRe.FindAllString(strings.ToLower(text), -1) {
		l := lemma(w)
		if !stopwords[l] && len(l) > 2 {
			set[l] = true
		}
	}
	return set
}

// lemma is a deliberately simple normalization (not a real lemmatizer):
// strips a trailing "s", "es", "ed", or "ing" so "exports"/"exporting"
// match "export". False matches are acceptable — this is a coverage
// heuristic, not a parser.
func lemma(w string) string {
	switch {
	case strings.HasSuffix(w, "ing") && len(w) > 5:
		return w[:len(w)-3]
	case strings.HasSuffix(w, "ed") && len(w) > 4:
		return w[:len(w)-2]
	case strings.HasSuffix(w, "es") && len(w) > 4:
		return w[:len(w)-2]
	case strings.HasSuffix(w, "s") && len(w) > 3 && !strings.HasSuffix(w, "ss"):
		return w[:len(w)-1]
	default:
		return w
	}
}

var (
	numberRe = regexp.MustCompile(`\b\d[\d,.]*%?\b`)
	dateRe   = regexp.MustCompile(`(?i)\b(\d{4}|jan(uary)?|feb(ruary)?|mar(ch)?|apr(il)?|may|jun(e)?|jul(y)?|aug(ust)?|sep(tember)?|oct(ober)?|nov(ember)?|dec(ember)?)\s*\d{0,4}\b`)
	// entityRe is a coarse proper-noun detector: capitalized words, run
	// together into multi-word spans. A capitalized word at the start of a
	// sentence matches too.
	entityRe = regexp.MustCompile(`\b([A-Z][a-zA-Z]+(?:\s+[A-Z][a-zA-Z]+)*)\b`)
)

// HallucinationFlags scans draft for numeric quantities, dates, and named
// entities that do not appear (verbatim, case-insensitively) in context.
// Intentionally simple per §9's design note: it is a review trigger, not a
// ground-truth claim verifier, and will produce false positives.
func HallucinationFlags(draft string, context []string) []string {
	if draft == "" {
		return nil
	}
	ctxLower := strings.ToLower(strings.Join(context, " \n "))

	var flags []string
	seen := make(map[string]bool)
	add := func(kind, value string) {
		key := kind + ":" + strings.ToLower(value)
		if seen[key] {
			return
		}
		seen[key] = true
		flags = append(flags, kind+": "+value)
	}

	for _, m := range numberRe.FindAllString(draft, -1) {
		if !strings.Contains(ctxLower, strings.ToLower(m)) {
			add("numeric", m)
		}
	}
	for _, m := range dateRe.FindAllString(draft, -1) {
		if !strings.Contains(ctxLower, strings.ToLower(m)) {
			add("date", m)
		}
	}
	for _, m := range entityRe.FindAllString(draft, -1) {
		if len(m) < 3 {
			continue
		}
		if !strings.Contains(ctxLower, strings.ToLower(m)) {
			add("entity", m)
		}
	}
	return flags
}
