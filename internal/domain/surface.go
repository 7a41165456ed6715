package domain

import (
	"context"
	"html/template"
	"net/http"
)

// Locator finds the live output location for a stable key. It reports false
// when the consumer has already discarded the entry.
type Locator interface {
	Locate(ctx context.Context, key string) (Target, bool)
}

// Target is a writable output location on a rendering surface.
type Target interface {
	Write(ctx context.Context, markup template.HTML) error
}

// Fetcher is the request/response capability producers use to reach
// third-party endpoints.
type Fetcher interface {
	Get(ctx context.Context, url string, header http.Header) ([]byte, error)
}
