package llm

import (
	"strings"
	"unicode/utf8"
)

// DefaultCharsPerToken is the usual English ratio for current models.
const DefaultCharsPerToken = 4.0

// CharacterBasedTokenEstimator estimates tokens from the rune count. It is
// used for prompt truncation and as the fallback when a provider does not
// report usage.
type CharacterBasedTokenEstimator struct{ charsPerToken float64 }

// NewCharacterBasedTokenEstimator creates an estimator. Non-positive ratios
// use DefaultCharsPerToken.
func NewCharacterBasedTokenEstimator(charsPerToken float64) *CharacterBasedTokenEstimator {
	if charsPerToken <= 0 {
		charsPerToken = DefaultCharsPerToken
	}
	return &CharacterBasedTokenEstimator{charsPerToken: charsPerToken}
}

// EstimateTokens rounds up, so any non-empty text counts as at least one
// token.
func (e *CharacterBasedTokenEstimator) EstimateTokens(text string) int {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0
	}
	tokens := int(float64(n) / e.charsPerToken)
	if float64(tokens)*e.charsPerToken < float64(n) {
		tokens++
	}
	return tokens
}

// WordBasedTokenEstimator estimates tokens from the word count.
type WordBasedTokenEstimator struct{ TokensPerWord float64 }

// NewWordBasedTokenEstimator creates an estimator. Non-positive ratios use
// 0.75 tokens per word.
func NewWordBasedTokenEstimator(tokensPerWord float64) *WordBasedTokenEstimator {
	if tokensPerWord <= 0 {
		tokensPerWord = 0.75
	}
	return &WordBasedTokenEstimator{TokensPerWord: tokensPerWord}
}

// EstimateTokens implements TokenEstimator.
func (e *WordBasedTokenEstimator) EstimateTokens(text string) int {
	return int(float64(len(strings.Fields(text))) * e.TokensPerWord)
}
