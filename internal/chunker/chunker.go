// Package chunker splits long replies into pieces a chat platform accepts.
package chunker

import "unicode"

// Chunk splits text into pieces of at most limit runes. A piece ends after the last
// whitespace that fits; a piece with no whitespace is cut at exactly limit runes.
// Continuation pieces have leading whitespace removed; nothing else is dropped.
func Chunk(text string, limit int) []string {
	if limit <= 0 || text == "" {
		return nil
	}

	runes := []rune(text)
	var chunks []string

	for first := true; len(runes) > 0; first = false {
		if !first {
			runes = trimLeftSpace(runes)
			if len(runes) == 0 {
				break
			}
		}

		if len(runes) <= limit {
			chunks = append(chunks, string(runes))
			break
		}

		cut := splitPoint(runes, limit)
		chunks = append(chunks, string(runes[:cut]))
		runes = runes[cut:]
	}

	return chunks
}

// splitPoint returns how many runes of runes (len > limit) go into the next chunk.
// The split whitespace stays with the chunk, so the rune at the returned index is
// the start of the remainder. A newline in the second half of the window wins over
// later spaces.
func splitPoint(runes []rune, limit int) int {
	space := -1
	for i := limit - 1; i > 0; i-- {
		if runes[i] == '\n' && i >= limit/2 {
			return i + 1
		}
		if space < 0 && unicode.IsSpace(runes[i]) {
			space = i
		}
	}
	if space > 0 {
		return space + 1
	}
	return limit
}

func trimLeftSpace(runes []rune) []rune {
	i := 0
	for i < len(runes) && unicode.IsSpace(runes[i]) {
		i++
	}
	return runes[i:]
}
