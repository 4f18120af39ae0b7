package services

import (
	"context"
	"crypto/tls"
	"fmt"
	"hash/fnv"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"

	"chiba-chatbot/internal/models"
)

const (
	DefaultChunkSize        = 1000
	DefaultChunkOverlap     = 200
	DefaultFetchConcurrency = 4
	DefaultFetchTimeout     = 30 * time.Second
	DefaultMaxKeywords      = 10
)

// IngestConfig holds configuration for the document ingestor
type IngestConfig struct {
	URLs             []string
	ChunkSize        int
	ChunkOverlap     int
	FetchConcurrency int
	FetchTimeout     time.Duration
	// Some of the source sites serve certificates that fail verification;
	// the fetcher can be told to tolerate them
	InsecureSkipVerify bool
	ExtractKeywords    bool
	MaxKeywords        int
}

// IngestService fetches the configured source pages, strips them to plain
// text, and splits each document into overlapping chunks. This runs once per
// index build, never per-request.
type IngestService struct {
	config     IngestConfig
	httpClient *http.Client
	extractor  *KeywordExtractor
	logger     *log.Logger
}

// NewIngestService creates a new ingest service
func NewIngestService(config IngestConfig, logger *log.Logger) *IngestService {
	if config.ChunkSize == 0 {
		config.ChunkSize = DefaultChunkSize
	}
	if config.ChunkOverlap == 0 {
		config.ChunkOverlap = DefaultChunkOverlap
	}
	if config.ChunkOverlap >= config.ChunkSize {
		config.ChunkOverlap = config.ChunkSize / 5
	}
	if config.FetchConcurrency == 0 {
		config.FetchConcurrency = DefaultFetchConcurrency
	}
	if config.FetchTimeout == 0 {
		config.FetchTimeout = DefaultFetchTimeout
	}
	if config.MaxKeywords == 0 {
		config.MaxKeywords = DefaultMaxKeywords
	}

	transport := &http.Transport{}
	if config.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return &IngestService{
		config: config,
		httpClient: &http.Client{
			Timeout:   config.FetchTimeout,
			Transport: transport,
		},
		extractor: NewKeywordExtractor(),
		logger:    logger,
	}
}

// IngestAll fetches every configured URL and returns the ordered chunk
// sequence: document order follows the configured URL order, chunks keep
// their intra-document position. A URL that fails to fetch or parse is
// logged and skipped; it yields no chunks but never aborts the run.
func (s *IngestService) IngestAll(ctx context.Context) ([]*models.Chunk, error) {
	if len(s.config.URLs) == 0 {
		return nil, fmt.Errorf("no source URLs configured")
	}

	s.logger.Printf("Ingesting %d source URLs (concurrency: %d)", len(s.config.URLs), s.config.FetchConcurrency)

	docs := make([]*models.SourceDocument, len(s.config.URLs))
	sem := make(chan struct{}, s.config.FetchConcurrency)
	var wg sync.WaitGroup

	for i, url := range s.config.URLs {
		wg.Add(1)
		go func(i int, url string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			doc, err := s.fetchDocument(ctx, url)
			if err != nil {
				s.logger.Printf("Skipping %s: %v", url, err)
				return
			}
			docs[i] = doc
		}(i, url)
	}
	wg.Wait()

	var chunks []*models.Chunk
	fetched := 0
	for _, doc := range docs {
		if doc == nil {
			continue
		}
		fetched++
		chunks = append(chunks, s.chunkDocument(doc)...)
	}

	if fetched == 0 {
		return nil, fmt.Errorf("all %d source URLs failed to fetch", len(s.config.URLs))
	}

	s.logger.Printf("Ingested %d/%d documents into %d chunks", fetched, len(s.config.URLs), len(chunks))
	return chunks, nil
}

// fetchDocument downloads one page and converts it to plain text
func (s *IngestService) fetchDocument(ctx context.Context, url string) (*models.SourceDocument, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch failed with status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}

	text, err := HTMLToText(string(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	if text == "" {
		return nil, fmt.Errorf("page has no text content")
	}

	return &models.SourceDocument{
		URL:       url,
		Text:      text,
		FetchedAt: time.Now(),
	}, nil
}

// chunkDocument splits one document's text into overlapping chunks
func (s *IngestService) chunkDocument(doc *models.SourceDocument) []*models.Chunk {
	pieces := SplitText(doc.Text, s.config.ChunkSize, s.config.ChunkOverlap)

	docID := documentID(doc.URL)
	chunks := make([]*models.Chunk, 0, len(pieces))
	for i, text := range pieces {
		metadata := map[string]interface{}{}

		if s.config.ExtractKeywords {
			if keywords, err := s.extractor.ExtractKeywords(text, s.config.MaxKeywords); err == nil && len(keywords) > 0 {
				metadata["keywords"] = keywords
			}
		}

		chunks = append(chunks, &models.Chunk{
			ID:         fmt.Sprintf("%s_chunk_%d", docID, i),
			SourceURL:  doc.URL,
			Text:       text,
			Metadata:   metadata,
			ChunkIndex: i,
		})
	}

	return chunks
}

// HTMLToText strips an HTML page down to its visible plain text
func HTMLToText(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", err
	}

	doc.Find("script, style, noscript, iframe").Remove()

	// Collapse runs of whitespace within lines and drop empty lines
	var lines []string
	for _, line := range strings.Split(doc.Text(), "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		lines = append(lines, strings.Join(fields, " "))
	}

	return strings.Join(lines, "\n"), nil
}

// SplitText splits text into chunks of at most size runes, adjacent chunks
// sharing exactly overlap runes (the final chunk may be shorter). Sizes are
// in runes so multi-byte Japanese text is not cut mid-character.
func SplitText(text string, size, overlap int) []string {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}
	if size <= 0 || len(runes) <= size {
		return []string{text}
	}

	step := size - overlap
	var chunks []string
	for start := 0; start < len(runes); start += step {
		end := start + size
		if end >= len(runes) {
			chunks = append(chunks, string(runes[start:]))
			break
		}
		chunks = append(chunks, string(runes[start:end]))
	}

	return chunks
}

// documentID derives a stable short identifier from a source URL
func documentID(url string) string {
	h := fnv.New32a()
	h.Write([]byte(url))
	return fmt.Sprintf("doc_%08x", h.Sum32())
}
