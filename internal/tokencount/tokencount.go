// Package tokencount estimates token counts for text ingested into
// observations and summaries, feeding the discoveryTokens figure used by
// the context engine's savings header.
package tokencount

import (
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

// Counter wraps a cached tokenizer codec. Codec construction does a small
// amount of table setup, so one Counter is shared across all ingestion
// handlers rather than rebuilt per request.
type Counter struct {
	once  sync.Once
	codec tokenizer.Codec
	err   error
}

// New returns a ready-to-use Counter. Codec initialization is deferred to
// the first Count call.
func New() *Counter {
	return &Counter{}
}

func (c *Counter) init() {
	c.codec, c.err = tokenizer.Get(tokenizer.Cl100kBase)
}

// Count returns the number of tokens text encodes to under the cl100k_base
// vocabulary. On codec initialization failure it falls back to a
// characters/4 estimate rather than failing the ingestion request.
func (c *Counter) Count(text string) int64 {
	if text == "" {
		return 0
	}
	c.once.Do(c.init)
	if c.err != nil {
		return int64(len(text) / 4)
	}
	ids, _, err := c.codec.Encode(text)
	if err != nil {
		return int64(len(text) / 4)
	}
	return int64(len(ids))
}
