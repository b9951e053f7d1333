package document

import (
	"context"
	"fmt"
	"strings"

	documentai "cloud.google.com/go/documentai/apiv1"
	"cloud.google.com/go/documentai/apiv1/documentaipb"
	"google.golang.org/api/option"
)

// PDFExtractor extracts page-delimited text from a PDF's raw bytes.
type PDFExtractor interface {
	Extract(ctx context.Context, data []byte) (text string, pages int, err error)
}

// DocAIExtractor extracts PDF text via Document AI's inline (raw-bytes)
// processing path — process() receives bytes, never a GCS URI, so this
// sends the document inline rather than through a bucket reference.
type DocAIExtractor struct {
	client    *documentai.DocumentProcessorClient
	processor string // projects/{project}/locations/{location}/processors/{id}
}

// NewDocAIExtractor builds a DocAIExtractor for the given processor and
// regional endpoint.
func NewDocAIExtractor(ctx context.Context, project, location, processorID string) (*DocAIExtractor, error) {
	endpoint := fmt.Sprintf("%s-documentai.googleapis.com:443", location)
	client, err := documentai.NewDocumentProcessorClient(ctx, option.WithEndpoint(endpoint))
	if err != nil {
		return nil, fmt.Errorf("document.NewDocAIExtractor: %w", err)
	}
	return &DocAIExtractor{
		client:    client,
		processor: fmt.Sprintf("projects/%s/locations/%s/processors/%s", project, location, processorID),
	}, nil
}

func (e *DocAIExtractor) Extract(ctx context.Context, data []byte) (string, int, error) {
	req := &documentaipb.ProcessRequest{
		Name: e.processor,
		Source: &documentaipb.ProcessRequest_RawDocument{
			RawDocument: &documentaipb.RawDocument{
				Content:  data,
				MimeType: "application/pdf",
			},
		},
	}

	resp, err := e.client.ProcessDocument(ctx, req)
	if err != nil {
		return "", 0, fmt.Errorf("document.DocAIExtractor.Extract: %w", err)
	}
	if resp.Document == nil {
		return "", 0, fmt.Errorf("document.DocAIExtractor.Extract: nil document in response")
	}

	pages := pageDelimitedText(resp.Document)
	return pages, len(resp.Document.Pages), nil
}

// pageDelimitedText rebuilds the document's text as "\f"-delimited pages
// using each page's TextAnchor segments, so the chunker can carry a
// page_index per chunk the way §4.2 requires.
func pageDelimitedText(doc *documentaipb.Document) string {
	if len(doc.Pages) == 0 {
		return doc.Text
	}
	full := doc.Text
	var pages []string
	for _, page := range doc.Pages {
		anchor := page.GetLayout().GetTextAnchor()
		if anchor == nil || len(anchor.TextSegments) == 0 {
			continue
		}
		var sb strings.Builder
		for _, seg := range anchor.TextSegments {
			start, end := int(seg.StartIndex), int(seg.EndIndex)
			if start < 0 || end > len(full) || start > end {
				continue
			}
			sb.WriteString(full[start:end])
		}
		pages = append(pages, sb.String())
	}
	if len(pages) == 0 {
		return full
	}
	return strings.Join(pages, "\f")
}

func (e *DocAIExtractor) Close() {
	if e.client != nil {
		e.client.Close()
	}
}
