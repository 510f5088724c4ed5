package gcp

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	documentai "cloud.google.com/go/documentai/apiv1"
	"cloud.google.com/go/documentai/apiv1/documentaipb"
	"google.golang.org/api/option"
)

// DocumentConfig names the Document AI OCR processor.
type DocumentConfig struct {
	ProjectID   string
	Location    string
	ProcessorID string
	Credentials string
}

// Page is the text of one document page. Number starts at 1.
type Page struct {
	Number int
	Text   string
}

// DocumentAI extracts page text from PDFs.
type DocumentAI struct {
	client    *documentai.DocumentProcessorClient
	processor string
}

// NewDocumentAI opens a Document AI client against the regional endpoint.
func NewDocumentAI(ctx context.Context, cfg DocumentConfig) (*DocumentAI, error) {
	location := strings.TrimSpace(cfg.Location)
	if location == "" {
		location = "us"
	}
	name := processorName(cfg.ProjectID, location, cfg.ProcessorID)
	if name == "" {
		return nil, fmt.Errorf("document ai project and processor are required")
	}
	endpoint := fmt.Sprintf("%s-documentai.googleapis.com:443", location)
	opts := append([]option.ClientOption{option.WithEndpoint(endpoint)}, ClientOptions(cfg.Credentials)...)
	c, err := documentai.NewDocumentProcessorClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("documentai client: %w", err)
	}
	slog.Info("Document AI initialized", "endpoint", endpoint, "processor", name)
	return &DocumentAI{client: c, processor: name}, nil
}

// Close releases the client.
func (d *DocumentAI) Close() error {
	return d.client.Close()
}

// ExtractPages runs the processor on data and returns the text of each page.
func (d *DocumentAI) ExtractPages(ctx context.Context, data []byte, mimeType string) ([]Page, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Minute)
	defer cancel()

	if mimeType == "" {
		mimeType = "application/pdf"
	}
	resp, err := d.client.ProcessDocument(ctx, &documentaipb.ProcessRequest{
		Name: d.processor,
		Source: &documentaipb.ProcessRequest_RawDocument{
			RawDocument: &documentaipb.RawDocument{Content: data, MimeType: mimeType},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("documentai ProcessDocument: %w", err)
	}
	if resp == nil {
		return nil, nil
	}
	return pagesFromDocument(resp.GetDocument()), nil
}

// pagesFromDocument prefers paragraph layout per page and falls back to the
// page layout anchor, then to the whole document text as page 1.
func pagesFromDocument(doc *documentaipb.Document) []Page {
	if doc == nil {
		return nil
	}
	var pages []Page
	for i, p := range doc.Pages {
		if p == nil {
			continue
		}
		num := int(p.PageNumber)
		if num == 0 {
			num = i + 1
		}
		var parts []string
		for _, para := range p.Paragraphs {
			if para == nil || para.Layout == nil {
				continue
			}
			if t := strings.TrimSpace(textFromAnchor(doc.Text, para.Layout.TextAnchor)); t != "" {
				parts = append(parts, t)
			}
		}
		text := strings.Join(parts, "\n\n")
		if text == "" && p.Layout != nil {
			text = strings.TrimSpace(textFromAnchor(doc.Text, p.Layout.TextAnchor))
		}
		if text != "" {
			pages = append(pages, Page{Number: num, Text: text})
		}
	}
	if len(pages) == 0 {
		if t := strings.TrimSpace(doc.Text); t != "" {
			pages = append(pages, Page{Number: 1, Text: t})
		}
	}
	return pages
}

func textFromAnchor(full string, anchor *documentaipb.Document_TextAnchor) string {
	if anchor == nil || len(anchor.TextSegments) == 0 || full == "" {
		return ""
	}
	var b strings.Builder
	for _, seg := range anchor.TextSegments {
		if seg == nil {
			continue
		}
		start := max(int(seg.StartIndex), 0)
		end := min(int(seg.EndIndex), len(full))
		if start >= end {
			continue
		}
		b.WriteString(full[start:end])
	}
	return b.String()
}

func processorName(project, location, processorID string) string {
	project = strings.TrimSpace(project)
	location = strings.TrimSpace(location)
	processorID = strings.TrimSpace(processorID)
	if project == "" || location == "" || processorID == "" {
		return ""
	}
	return fmt.Sprintf("projects/%s/locations/%s/processors/%s", project, location, processorID)
}
