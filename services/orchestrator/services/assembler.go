// Copyright (C) 2026 Athrael Soju
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package services

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/athrael-soju/Snappy-sub002/services/orchestrator/datatypes"
)

// assemblerTracer is the OpenTelemetry tracer for ContentAssembler operations.
var assemblerTracer = otel.Tracer("snappy.orchestrator.services.assembler")

const (
	// maxAssetBytes caps a single fetched asset. Anything larger is
	// refused rather than inlined into the model context.
	maxAssetBytes = 20 << 20

	// assetFetchConcurrency bounds parallel asset downloads per request.
	assetFetchConcurrency = 8

	// assetFetchRate throttles asset downloads so a document-heavy turn
	// cannot hammer the local asset server.
	assetFetchRate  = rate.Limit(32)
	assetFetchBurst = 8

	assetFetchTimeout = 15 * time.Second
)

// regionLabelWhitelist lists the OCR region classes worth showing to the
// model as standalone crops. Everything else (paragraphs, headers, page
// furniture) is already covered by the page image and extracted text.
var regionLabelWhitelist = []string{"figure", "diagram", "chart", "table", "graph"}

// mdImagePattern matches markdown image references: ![alt](url).
var mdImagePattern = regexp.MustCompile(`!\[([^\]]*)\]\(([^)\s]+)\)`)

// HTTPClient abstracts the HTTP transport used for asset fetches so tests
// can substitute a mock.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// =============================================================================
// ContentAssembler
// =============================================================================

// ContentAssembler turns retrieved documents into multimodal content parts
// for the model context.
//
// # Description
//
// An assembler is created per chat turn and discarded with it. It owns a
// per-turn asset cache: every distinct local asset URL is fetched at most
// once per turn no matter how many builders or markdown references name
// it. Fetch failures are isolated per part; one broken asset never fails
// the turn, it only drops (or leaves untouched) the part that needed it.
//
// Three builders project documents into parts:
//
//   - BuildImageParts: one image part per document page image.
//   - BuildTextParts: a single text part concatenating every document's
//     OCR text under an index of the documents it contains, preferring
//     inline markdown > text > raw_text, then the companion JSON file.
//     Markdown image references to local assets are rewritten to inline
//     data URLs.
//   - BuildRegionParts: image parts for whitelisted OCR region crops
//     (figure, diagram, chart, table, graph).
//
// Only URLs pointing at localhost are inlined; remote URLs pass through
// untouched for the provider to fetch itself.
//
// # Thread Safety
//
// Safe for concurrent use within its turn; the asset cache is locked.
type ContentAssembler struct {
	fetcher *assetFetcher
}

// NewContentAssembler creates an assembler with the default HTTP transport.
func NewContentAssembler() *ContentAssembler {
	return NewContentAssemblerWithClient(&http.Client{Timeout: assetFetchTimeout})
}

// NewContentAssemblerWithClient creates an assembler with an injected
// transport. Used by tests.
func NewContentAssemblerWithClient(client HTTPClient) *ContentAssembler {
	return &ContentAssembler{
		fetcher: &assetFetcher{
			client:  client,
			limiter: rate.NewLimiter(assetFetchRate, assetFetchBurst),
			cache:   make(map[string]string),
		},
	}
}

// BuildImageParts returns one image part per document that has a usable
// page image, in document order. Local images are inlined as data URLs;
// documents whose image cannot be fetched are dropped.
func (a *ContentAssembler) BuildImageParts(ctx context.Context, docs []datatypes.RetrievedDocument) []datatypes.ContentPart {
	ctx, span := assemblerTracer.Start(ctx, "ContentAssembler.BuildImageParts")
	defer span.End()

	results := make([]string, len(docs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(assetFetchConcurrency)

	for i, doc := range docs {
		if doc.ImageURL == nil || *doc.ImageURL == "" {
			continue
		}
		i, imageURL := i, *doc.ImageURL
		g.Go(func() error {
			resolved, err := a.fetcher.resolve(gctx, imageURL)
			if err != nil {
				slog.Warn("Skipping document image", "url", imageURL, "error", err)
				return nil
			}
			results[i] = resolved
			return nil
		})
	}
	// Workers never return errors; Wait only observes context cancellation.
	_ = g.Wait()

	parts := make([]datatypes.ContentPart, 0, len(docs))
	for _, resolved := range results {
		if resolved != "" {
			parts = append(parts, datatypes.ImagePart(resolved))
		}
	}
	span.SetAttributes(
		attribute.Int("docs", len(docs)),
		attribute.Int("image_parts", len(parts)),
	)
	return parts
}

// BuildTextParts returns at most one text part: every document's OCR
// text concatenated in document order, preceded by an index naming each
// contributing document as "[n] label". Keeping all page text in a
// single part bounds the message-part count no matter how many pages
// were retrieved.
//
// Text resolution per document: inline markdown, then inline text, then
// inline raw_text, then the companion JSON file named by json_url (same
// priority inside the file). Documents with no text anywhere are skipped;
// an empty slice is returned when no document has any. Markdown image
// references are rewritten via RewriteMarkdownImages.
func (a *ContentAssembler) BuildTextParts(ctx context.Context, docs []datatypes.RetrievedDocument) []datatypes.ContentPart {
	ctx, span := assemblerTracer.Start(ctx, "ContentAssembler.BuildTextParts")
	defer span.End()

	results := make([]string, len(docs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(assetFetchConcurrency)

	for i := range docs {
		i, doc := i, docs[i]
		g.Go(func() error {
			text := a.documentText(gctx, doc)
			if text == "" {
				return nil
			}
			results[i] = a.RewriteMarkdownImages(gctx, text)
			return nil
		})
	}
	_ = g.Wait()

	var index, sections []string
	for i, text := range results {
		if text == "" {
			continue
		}
		heading := fmt.Sprintf("[%d] %s", i+1, docs[i].DisplayLabel(i))
		index = append(index, heading)
		sections = append(sections, heading+"\n"+text)
	}
	span.SetAttributes(
		attribute.Int("docs", len(docs)),
		attribute.Int("text_sections", len(sections)),
	)
	if len(sections) == 0 {
		return []datatypes.ContentPart{}
	}
	combined := "Documents:\n" + strings.Join(index, "\n") + "\n\n" + strings.Join(sections, "\n\n")
	return []datatypes.ContentPart{datatypes.TextPart(combined)}
}

// BuildRegionParts returns image parts for the whitelisted OCR region
// crops of all documents, in document-then-region order. Regions without
// a crop URL, with a non-whitelisted label, or whose crop cannot be
// fetched are dropped.
func (a *ContentAssembler) BuildRegionParts(ctx context.Context, docs []datatypes.RetrievedDocument) []datatypes.ContentPart {
	ctx, span := assemblerTracer.Start(ctx, "ContentAssembler.BuildRegionParts")
	defer span.End()

	type regionRef struct{ cropURL string }
	var refs []regionRef
	for _, doc := range docs {
		for _, region := range doc.Regions() {
			if region.CropURL() == "" || !regionLabelAllowed(region.Label()) {
				continue
			}
			refs = append(refs, regionRef{cropURL: region.CropURL()})
		}
	}

	results := make([]string, len(refs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(assetFetchConcurrency)

	for i, ref := range refs {
		i, cropURL := i, ref.cropURL
		g.Go(func() error {
			resolved, err := a.fetcher.resolve(gctx, cropURL)
			if err != nil {
				slog.Warn("Skipping region crop", "url", cropURL, "error", err)
				return nil
			}
			results[i] = resolved
			return nil
		})
	}
	_ = g.Wait()

	parts := make([]datatypes.ContentPart, 0, len(refs))
	for _, resolved := range results {
		if resolved != "" {
			parts = append(parts, datatypes.ImagePart(resolved))
		}
	}
	span.SetAttributes(
		attribute.Int("regions_considered", len(refs)),
		attribute.Int("region_parts", len(parts)),
	)
	return parts
}

// RewriteMarkdownImages replaces local-asset markdown image references
// with inline data URLs. References whose asset cannot be fetched, and
// references to remote hosts, are left exactly as written.
func (a *ContentAssembler) RewriteMarkdownImages(ctx context.Context, markdown string) string {
	return mdImagePattern.ReplaceAllStringFunc(markdown, func(match string) string {
		groups := mdImagePattern.FindStringSubmatch(match)
		alt, ref := groups[1], groups[2]
		if !isLocalURL(ref) {
			return match
		}
		dataURL, err := a.fetcher.dataURL(ctx, ref)
		if err != nil {
			slog.Warn("Leaving markdown image reference as-is", "url", ref, "error", err)
			return match
		}
		return fmt.Sprintf("![%s](%s)", alt, dataURL)
	})
}

// documentText resolves a document's OCR text by priority: inline
// markdown > text > raw_text > companion JSON file.
func (a *ContentAssembler) documentText(ctx context.Context, doc datatypes.RetrievedDocument) string {
	if md := doc.InlineMarkdown(); md != "" {
		return md
	}
	if txt := doc.InlineText(); txt != "" {
		return txt
	}
	if raw := doc.InlineRawText(); raw != "" {
		return raw
	}
	if doc.JSONURL == nil || *doc.JSONURL == "" {
		return ""
	}
	ocrDoc, err := a.fetcher.ocrDocument(ctx, *doc.JSONURL)
	if err != nil {
		slog.Warn("Skipping companion OCR document", "url", *doc.JSONURL, "error", err)
		return ""
	}
	return ocrDoc.BestText()
}

// regionLabelAllowed reports whether an OCR region class is on the
// whitelist. The label is split on non-letter runes and each word is
// compared case-insensitively against the whitelist, so qualified labels
// like "figure_caption" or "Table 3" match while "paragraph" does not
// match "graph".
func regionLabelAllowed(label string) bool {
	words := strings.FieldsFunc(strings.ToLower(label), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	for _, word := range words {
		for _, allowed := range regionLabelWhitelist {
			if word == allowed {
				return true
			}
		}
	}
	return false
}

// isLocalURL reports whether a URL points at the local asset server.
// Only these are inlined; everything else is presumed reachable by the
// model provider directly.
func isLocalURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	host := u.Hostname()
	return host == "localhost" || host == "127.0.0.1"
}

// =============================================================================
// assetFetcher
// =============================================================================

// assetFetcher downloads local assets and converts them to data URLs,
// caching per URL for the lifetime of one chat turn.
type assetFetcher struct {
	client  HTTPClient
	limiter *rate.Limiter

	mu    sync.Mutex
	cache map[string]string
}

// resolve returns a model-usable URL for an image asset: local URLs are
// fetched and inlined, remote URLs pass through unchanged.
func (f *assetFetcher) resolve(ctx context.Context, raw string) (string, error) {
	if !isLocalURL(raw) {
		return raw, nil
	}
	return f.dataURL(ctx, raw)
}

// dataURL fetches an asset and encodes it as a base64 data URL. Results
// and only results are cached; a failed fetch is retried on the next
// reference to the same URL.
func (f *assetFetcher) dataURL(ctx context.Context, assetURL string) (string, error) {
	f.mu.Lock()
	if cached, ok := f.cache[assetURL]; ok {
		f.mu.Unlock()
		return cached, nil
	}
	f.mu.Unlock()

	if err := f.limiter.Wait(ctx); err != nil {
		return "", err
	}

	body, contentType, err := f.get(ctx, assetURL)
	if err != nil {
		return "", err
	}
	if contentType == "" {
		contentType = "image/png"
	}
	dataURL := fmt.Sprintf("data:%s;base64,%s", contentType, base64.StdEncoding.EncodeToString(body))

	f.mu.Lock()
	f.cache[assetURL] = dataURL
	f.mu.Unlock()
	return dataURL, nil
}

// ocrDocument fetches and parses a companion OCR JSON file.
func (f *assetFetcher) ocrDocument(ctx context.Context, jsonURL string) (*datatypes.OCRDocument, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	body, _, err := f.get(ctx, jsonURL)
	if err != nil {
		return nil, err
	}
	var doc datatypes.OCRDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse OCR document: %w", err)
	}
	return &doc, nil
}

// get performs one GET and returns the body and media type.
func (f *assetFetcher) get(ctx context.Context, assetURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", assetURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create asset request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("asset fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("asset fetch returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxAssetBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read asset body: %w", err)
	}
	if len(body) > maxAssetBytes {
		return nil, "", fmt.Errorf("asset exceeds %d byte limit", maxAssetBytes)
	}

	contentType := resp.Header.Get("Content-Type")
	if i := strings.Index(contentType, ";"); i >= 0 {
		contentType = strings.TrimSpace(contentType[:i])
	}
	return body, contentType, nil
}
