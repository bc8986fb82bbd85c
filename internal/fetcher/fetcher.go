package fetcher

import (
	"context"
	"time"
)

// MaxBatchItems bounds the number of URLs a single BatchDetail call may request.
const MaxBatchItems = 10

// Payload is the decompressed body returned by the marketplace access point.
type Payload struct {
	URL       string
	Body      []byte
	Encoding  string
	FetchedAt time.Time
}

// BatchResult is one slot of a BatchDetail call, in input order.
type BatchResult struct {
	URL     string
	Payload Payload
	Err     error
}

// Client retrieves raw marketplace pages.
type Client interface {
	Search(ctx context.Context, keyword, domain string) (Payload, error)
	Detail(ctx context.Context, itemID, domain string) (Payload, error)
	Reviews(ctx context.Context, itemID, domain string) (Payload, error)
	BatchDetail(ctx context.Context, urls []string) ([]BatchResult, error)
}

// Recorder receives one call per outbound request for cost auditing.
type Recorder interface {
	Record(ctx context.Context, kind string)
}
