// Package mail describes templated notification batches and the sender port.
package mail

import (
	"context"
	netmail "net/mail"
)

// DefaultBatchLimit is the provider's ceiling of personalizations per call.
const DefaultBatchLimit = 750

// Personalization is one recipient's addressing and template variables.
type Personalization struct {
	To           netmail.Address
	CustomArgs   map[string]string
	TemplateData map[string]any
}

// Batch is a single templated send to many recipients.
type Batch struct {
	TemplateID       string
	From             netmail.Address // zero value means the sender's default
	Category         string
	Personalizations []Personalization
}

// ChunkFailure records a sub-batch that the provider rejected.
type ChunkFailure struct {
	Index      int
	Recipients []string
	Err        error
}

// Result reports what happened to a batch.
type Result struct {
	Chunks    int
	Delivered []string // recipient addresses accepted by the provider
	Failed    []ChunkFailure
}

// FailedRecipients returns the set of addresses in failed chunks.
func (r Result) FailedRecipients() map[string]struct{} {
	failed := make(map[string]struct{})
	for _, f := range r.Failed {
		for _, addr := range f.Recipients {
			failed[addr] = struct{}{}
		}
	}
	return failed
}

// Sender delivers templated batches. Implementations never return a batch-level
// error for provider failures; they are reported per chunk in Result.
type Sender interface {
	Send(ctx context.Context, batch Batch) Result
}

// Partition splits personalizations into consecutive chunks of at most size.
func Partition(ps []Personalization, size int) [][]Personalization {
	if size <= 0 {
		size = DefaultBatchLimit
	}
	if len(ps) == 0 {
		return nil
	}
	chunks := make([][]Personalization, 0, (len(ps)+size-1)/size)
	for start := 0; start < len(ps); start += size {
		end := start + size
		if end > len(ps) {
			end = len(ps)
		}
		chunks = append(chunks, ps[start:end])
	}
	return chunks
}
