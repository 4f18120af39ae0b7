package services

import (
	"sort"
	"strings"
	"unicode"

	"github.com/jdkato/prose/v2"
)

// KeywordExtractor tags chunk text and keeps the most frequent nouns.
// The keywords end up as chunk metadata in the vector index; they are
// best-effort only and most useful for English source pages.
type KeywordExtractor struct {
	stopWords map[string]bool
	minLength int
}

// NewKeywordExtractor creates a new keyword extractor
func NewKeywordExtractor() *KeywordExtractor {
	stopWords := map[string]bool{
		"the": true, "a": true, "an": true, "and": true, "or": true, "but": true,
		"in": true, "on": true, "at": true, "to": true, "for": true, "of": true,
		"with": true, "by": true, "is": true, "are": true, "was": true, "were": true,
		"be": true, "been": true, "have": true, "has": true, "had": true, "do": true,
		"does": true, "did": true, "will": true, "would": true, "could": true, "should": true,
		"this": true, "that": true, "these": true, "those": true, "it": true, "its": true,
	}

	return &KeywordExtractor{
		stopWords: stopWords,
		minLength: 2,
	}
}

// ExtractKeywords returns up to limit keywords from the text, ordered by
// descending frequency. Text prose cannot tag yields an empty list, not an
// error.
func (ke *KeywordExtractor) ExtractKeywords(text string, limit int) ([]string, error) {
	doc, err := prose.NewDocument(text)
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int)
	for _, tok := range doc.Tokens() {
		// Nouns only (NN, NNS, NNP, NNPS)
		if !strings.HasPrefix(tok.Tag, "NN") {
			continue
		}

		word := strings.ToLower(strings.TrimFunc(tok.Text, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsNumber(r)
		}))

		if len(word) < ke.minLength || ke.stopWords[word] {
			continue
		}

		counts[word]++
	}

	keywords := make([]string, 0, len(counts))
	for word := range counts {
		keywords = append(keywords, word)
	}

	sort.Slice(keywords, func(i, j int) bool {
		if counts[keywords[i]] != counts[keywords[j]] {
			return counts[keywords[i]] > counts[keywords[j]]
		}
		return keywords[i] < keywords[j]
	})

	if limit > 0 && len(keywords) > limit {
		keywords = keywords[:limit]
	}

	return keywords, nil
}
