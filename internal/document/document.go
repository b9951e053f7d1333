// Package document implements the Document Processor: MIME-dispatched
// text extraction (PDF, plain text, audio/video transcription) followed
// by recursive, token-bounded chunking with overlap.
package document

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/scholarly-ai/tutor-backend/internal/apperr"
	"github.com/scholarly-ai/tutor-backend/internal/model"
)

// Transcriber is the subset of the Model Gateway the Document Processor
// depends on for audio/video content.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) (string, error)
}

// Processor dispatches on declared content type and chunks the extracted
// text.
type Processor struct {
	docAI       PDFExtractor // primary, may be nil if Document AI isn't configured
	nativePDF   PDFExtractor // fallback, always available
	transcriber Transcriber
	chunker     *Chunker
}

// NewProcessor builds a Processor. docAI may be nil to skip straight to
// the native PDF fallback (e.g. in tests or when Document AI isn't
// configured for the deployment).
func NewProcessor(docAI PDFExtractor, transcriber Transcriber, chunker *Chunker) *Processor {
	return &Processor{
		docAI:       docAI,
		nativePDF:   NativePDFExtractor{},
		transcriber: transcriber,
		chunker:     chunker,
	}
}

// Process extracts text per declaredType and returns chunks with no
// embedding set yet (the Model Gateway embeds them downstream, and the
// Vector Index assigns tenant_id on upsert). filename and title feed
// chunk metadata; tenantID stamps every chunk's metadata.
func (p *Processor) Process(ctx context.Context, data []byte, declaredType model.ContentType, filename, title, tenantID string) ([]model.Chunk, error) {
	if len(data) == 0 {
		return nil, apperr.New(apperr.InputInvalid, "document.Process: empty input")
	}

	var text string
	var err error

	switch declaredType {
	case model.ContentPDF:
		text, err = p.extractPDF(ctx, data)
	case model.ContentText:
		text, err = p.extractText(data)
	case model.ContentAudio, model.ContentVideo:
		text, err = p.extractTranscript(ctx, data)
	default:
		return nil, apperr.New(apperr.InputInvalid, fmt.Sprintf("document.Process: unsupported content type %q", declaredType))
	}
	if err != nil {
		return nil, err
	}

	contents, pageIndexes := p.chunker.Split(text)
	chunks, err := toChunks(contents, pageIndexes, model.ChunkMetadata{
		Source:      filename,
		Title:       title,
		ContentType: declaredType,
		TenantID:    tenantID,
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.ExtractionFailed, "document.Process: empty corpus after chunking", err)
	}
	return chunks, nil
}

// extractPDF tries Document AI first (page-anchored, entity-aware),
// falling back to the native ledongthuc/pdf path when Document AI isn't
// configured or returns any error.
func (p *Processor) extractPDF(ctx context.Context, data []byte) (string, error) {
	if p.docAI != nil {
		text, _, err := p.docAI.Extract(ctx, data)
		if err == nil {
			return text, nil
		}
	}
	text, _, err := p.nativePDF.Extract(ctx, data)
	if err != nil {
		return "", apperr.Wrap(apperr.ExtractionFailed, "document.extractPDF: both document AI and native fallback failed", err)
	}
	return text, nil
}

func (p *Processor) extractText(data []byte) (string, error) {
	if !utf8.Valid(data) {
		return "", apperr.New(apperr.ExtractionFailed, "document.extractText: input is not valid UTF-8")
	}
	return string(data), nil
}

func (p *Processor) extractTranscript(ctx context.Context, data []byte) (string, error) {
	if p.transcriber == nil {
		return "", apperr.New(apperr.Internal, "document.extractTranscript: no transcriber configured")
	}
	text, err := p.transcriber.Transcribe(ctx, data)
	if err != nil {
		return "", apperr.Wrap(apperr.ExtractionFailed, "document.extractTranscript: transcription failed", err)
	}
	return text, nil
}
