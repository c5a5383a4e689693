package local

import (
	"strings"
	"unicode"
)

// DefaultTokenCacheSize bounds the tokenization LRU.
const DefaultTokenCacheSize = 512

// Tokenizer maps text to model token ids: lowercase words split on
// non-alphanumeric runes, with greedy longest-match subword fallback against
// the model vocabulary. Results are cached by the literal input string.
type Tokenizer struct {
	model *Model
	cache *lruCache[[]int32]
}

// NewTokenizer creates a tokenizer over the model vocabulary.
func NewTokenizer(model *Model, cacheSize int) *Tokenizer {
	if cacheSize <= 0 {
		cacheSize = DefaultTokenCacheSize
	}
	return &Tokenizer{
		model: model,
		cache: newLRUCache[[]int32](cacheSize),
	}
}

// Tokenize returns the token ids for text. Concurrent callers racing on an
// uncached text may tokenize it twice; the cache keeps one result.
func (t *Tokenizer) Tokenize(text string) []int32 {
	if ids, ok := t.cache.get(text); ok {
		return ids
	}
	ids := t.tokenize(text)
	t.cache.put(text, ids)
	return ids
}

// CacheLen returns the number of cached tokenizations. For tests and stats.
func (t *Tokenizer) CacheLen() int {
	return t.cache.len()
}

func (t *Tokenizer) tokenize(text string) []int32 {
	words := splitWords(strings.ToLower(text))
	ids := make([]int32, 0, len(words))
	for _, word := range words {
		ids = append(ids, t.wordIDs(word)...)
	}
	return ids
}

// wordIDs resolves one word: exact vocabulary hit, then greedy
// longest-prefix subwords, then the hash bucket for the whole word.
func (t *Tokenizer) wordIDs(word string) []int32 {
	if id, ok := t.model.Lookup(word); ok {
		return []int32{id}
	}

	var ids []int32
	rest := word
	for len(rest) > 0 {
		matched := false
		for end := len(rest); end > 0; end-- {
			piece := rest[:end]
			if len(ids) > 0 {
				piece = "##" + piece
			}
			if id, ok := t.model.Lookup(piece); ok {
				ids = append(ids, id)
				rest = rest[end:]
				matched = true
				break
			}
		}
		if !matched {
			// No decomposition exists; fall back to hashing the whole word.
			return []int32{t.model.BucketID(word)}
		}
	}
	return ids
}

// splitWords breaks text into maximal alphanumeric runs.
func splitWords(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}
