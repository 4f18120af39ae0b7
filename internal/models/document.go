package models

import (
	"time"
)

// SourceDocument represents one fetched web page before chunking.
// Created once at ingestion and immutable thereafter.
type SourceDocument struct {
	URL       string    `json:"url"`
	Text      string    `json:"text"`
	FetchedAt time.Time `json:"fetched_at"`
}
