package textfeat

import (
	"regexp"
	"strings"
)

var (
	sentenceSplitRE = regexp.MustCompile(`[.!?]+`)
	syllableRE      = regexp.MustCompile(`[aeiouy]+`)
)

// readability computes the Flesch reading-ease score and the average
// sentence length in words. The Flesch scale is deliberately unclamped:
// pathological input (a wall of unbroken jargon) can score below zero,
// and that signal is worth keeping.
func readability(text string) (flesch, avgSentenceLen float64) {
	words := strings.Fields(text)
	if len(words) == 0 {
		return 0, 0
	}

	sentences := 0
	for _, s := range sentenceSplitRE.Split(text, -1) {
		if strings.TrimSpace(s) != "" {
			sentences++
		}
	}
	if sentences == 0 {
		sentences = 1
	}

	syllables := 0
	for _, w := range words {
		syllables += countSyllables(w)
	}

	wordCount := float64(len(words))
	avgSentenceLen = wordCount / float64(sentences)
	flesch = 206.835 - 1.015*avgSentenceLen - 84.6*(float64(syllables)/wordCount)
	return flesch, avgSentenceLen
}

// countSyllables approximates syllables as the number of contiguous
// vowel groups, with a floor of one per word.
func countSyllables(word string) int {
	n := len(syllableRE.FindAllStringIndex(strings.ToLower(word), -1))
	if n < 1 {
		return 1
	}
	return n
}
