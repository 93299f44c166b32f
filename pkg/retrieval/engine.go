// Package retrieval answers free-text questions from a listing's extracted
// document text using keyword-scored sentence extraction.
//
// Matching is lexical: a query token must literally occur in a
// sentence. Stored embeddings are not consulted.
package retrieval

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	defaultMaxSentences = 3
	minTokenLength      = 4
)

var stopwords = map[string]struct{}{
	"this": {}, "that": {}, "what": {}, "about": {}, "with": {},
	"from": {}, "have": {}, "they": {}, "will": {}, "would": {},
	"there": {}, "their": {}, "when": {}, "where": {}, "which": {},
}

type EngineConfig struct {
	MaxSentences int
}

type Engine struct {
	config EngineConfig
}

// Result is a relevant excerpt. Sentences are in corpus order.
type Result struct {
	Answer    string
	Sentences []string
	Tokens    []string
}

func NewWithConfig(config EngineConfig) *Engine {
	if config.MaxSentences <= 0 {
		config.MaxSentences = defaultMaxSentences
	}
	return &Engine{config: config}
}

func New() *Engine {
	return NewWithConfig(EngineConfig{})
}

// Answer searches texts, in the order given, for sentences relevant to query.
// The boolean is false when nothing relevant exists (no context), in which case
// the caller should use its canned fallback.
func (e *Engine) Answer(source string, texts []string, query string) (Result, bool) {
	corpus := BuildCorpus(texts)
	if corpus == "" {
		return Result{}, false
	}

	tokens := Tokenize(query)
	if len(tokens) == 0 {
		return Result{}, false
	}

	var relevant []string
	for _, sentence := range SplitSentences(corpus) {
		if matches(sentence, tokens) {
			relevant = append(relevant, sentence)
			if len(relevant) == e.config.MaxSentences {
				break
			}
		}
	}
	if len(relevant) == 0 {
		return Result{}, false
	}

	return Result{
		Answer:    "Based on the documents for " + source + ": " + strings.Join(relevant, ". ") + ".",
		Sentences: relevant,
		Tokens:    tokens,
	}, true
}

// BuildCorpus joins the non-blank texts with paragraph breaks.
func BuildCorpus(texts []string) string {
	parts := make([]string, 0, len(texts))
	for _, text := range texts {
		if strings.TrimSpace(text) != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n\n")
}

// SplitSentences splits on '.', '!' and '?' and drops blank fragments.
func SplitSentences(corpus string) []string {
	fragments := strings.FieldsFunc(corpus, func(r rune) bool {
		return r == '.' || r == '!' || r == '?'
	})

	sentences := make([]string, 0, len(fragments))
	for _, fragment := range fragments {
		if trimmed := strings.TrimSpace(fragment); trimmed != "" {
			sentences = append(sentences, trimmed)
		}
	}
	return sentences
}

// Tokenize lowercases the query, splits it on whitespace, trims surrounding
// punctuation and drops short tokens and stopwords.
func Tokenize(query string) []string {
	var tokens []string
	for _, field := range strings.Fields(strings.ToLower(query)) {
		token := strings.TrimFunc(field, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		if utf8.RuneCountInString(token) < minTokenLength {
			continue
		}
		if _, ok := stopwords[token]; ok {
			continue
		}
		tokens = append(tokens, token)
	}
	return tokens
}

func matches(sentence string, tokens []string) bool {
	lower := strings.ToLower(sentence)
	for _, token := range tokens {
		if strings.Contains(lower, token) {
			return true
		}
	}
	return false
}
