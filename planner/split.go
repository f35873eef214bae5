package planner

import (
	"strings"
	"unicode"

	"github.com/reelsmith/reelsmith-api/failure"
	"github.com/reelsmith/reelsmith-api/models"
)

// Split deterministically splits a fixed script into scenes. It never fails
// for well-formed non-empty input; empty or whitespace-only input is an
// invalid request.
func Split(script, strategy string) ([]models.Scene, error) {
	if strings.TrimSpace(script) == "" {
		return nil, failure.New(failure.InvalidRequest, "script is required")
	}

	var parts []string
	switch strategy {
	case models.SplitParagraph, "":
		parts = splitParagraphs(script)
	case models.SplitLine:
		parts = splitLines(script)
	case models.SplitSentence:
		parts = splitSentences(script)
	default:
		return nil, failure.New(failure.InvalidRequest, "unknown split_strategy %q", strategy)
	}

	scenes := make([]models.Scene, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		scenes = append(scenes, models.Scene{Index: len(scenes), Text: part})
	}
	if len(scenes) == 0 {
		return nil, failure.New(failure.InvalidRequest, "script produced no scenes")
	}
	return scenes, nil
}

// splitParagraphs splits on blank lines.
func splitParagraphs(script string) []string {
	normalized := strings.ReplaceAll(script, "\r\n", "\n")
	var parts []string
	var current []string
	for _, line := range strings.Split(normalized, "\n") {
		if strings.TrimSpace(line) == "" {
			if len(current) > 0 {
				parts = append(parts, strings.Join(current, "\n"))
				current = nil
			}
			continue
		}
		current = append(current, line)
	}
	if len(current) > 0 {
		parts = append(parts, strings.Join(current, "\n"))
	}
	return parts
}

// splitLines splits on line breaks, discarding empty lines.
func splitLines(script string) []string {
	normalized := strings.ReplaceAll(script, "\r\n", "\n")
	return strings.Split(normalized, "\n")
}

// Abbreviations whose trailing period does not end a sentence.
var abbreviations = map[string]bool{
	"mr": true, "mrs": true, "ms": true, "dr": true, "prof": true,
	"sr": true, "jr": true, "st": true, "vs": true, "etc": true,
	"e.g": true, "i.e": true, "no": true, "fig": true, "approx": true,
}

// splitSentences locates sentence-terminal punctuation, looking back for
// abbreviations and decimal points to avoid false boundaries.
func splitSentences(script string) []string {
	runes := []rune(script)
	var parts []string
	start := 0

	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if !isTerminal(r) {
			continue
		}
		// Consume a run of terminal punctuation ("?!", "...").
		end := i
		for end+1 < len(runes) && isTerminal(runes[end+1]) {
			end++
		}
		if r == '.' && end == i && isFalseBoundary(runes, i) {
			continue
		}
		parts = append(parts, string(runes[start:end+1]))
		start = end + 1
		i = end
	}
	if start < len(runes) {
		parts = append(parts, string(runes[start:]))
	}
	return parts
}

func isTerminal(r rune) bool {
	switch r {
	case '.', '!', '?', '。', '！', '？':
		return true
	}
	return false
}

// isFalseBoundary reports whether the period at position i is part of a
// decimal number or a known abbreviation rather than a sentence end.
func isFalseBoundary(runes []rune, i int) bool {
	// Decimal point: digit on both sides.
	if i > 0 && i+1 < len(runes) && unicode.IsDigit(runes[i-1]) && unicode.IsDigit(runes[i+1]) {
		return true
	}
	// Look back for the word preceding the period.
	end := i
	start := end
	for start > 0 {
		prev := runes[start-1]
		if unicode.IsLetter(prev) || prev == '.' {
			start--
			continue
		}
		break
	}
	if start == end {
		return false
	}
	word := strings.ToLower(strings.TrimSuffix(string(runes[start:end]), "."))
	if abbreviations[word] {
		return true
	}
	// Single-letter initials like "J." in "J. Smith".
	if len([]rune(word)) == 1 {
		return true
	}
	return false
}
