// Package moderation masks forbidden words in chat messages before they are
// stored and delivered.
package moderation

import (
	"unicode"

	goahocorasick "github.com/anknown/ahocorasick"
	"github.com/samber/lo"
)

// Moderator masks words of a dictionary, resisting case, leet speak and
// punctuation inserted between letters.
type Moderator struct {
	matcher     *goahocorasick.Machine
	replacement rune
	empty       bool
}

// NewModerator builds the matcher for words. An empty dictionary yields a
// moderator that never changes anything.
func NewModerator(words []string, replacement rune) (*Moderator, error) {
	patterns := lo.FilterMap(words, func(word string, _ int) ([]rune, bool) {
		pattern, _ := normalize([]rune(word))
		return pattern, len(pattern) > 0
	})
	if len(patterns) == 0 {
		return &Moderator{replacement: replacement, empty: true}, nil
	}
	machine := new(goahocorasick.Machine)
	if err := machine.Build(patterns); err != nil {
		return nil, err
	}
	return &Moderator{matcher: machine, replacement: replacement}, nil
}

// Censor returns content with every match replaced rune by rune, spaces
// and punctuation in between included, and the matched words.
func (m *Moderator) Censor(content string) (string, []string) {
	if m.empty {
		return content, nil
	}
	original := []rune(content)
	normalized, positions := normalize(original)
	if len(normalized) == 0 {
		return content, nil
	}

	spans := m.matcher.MultiPatternSearch(normalized, false)
	if len(spans) == 0 {
		return content, nil
	}
	found := make([]string, 0, len(spans))
	for _, span := range spans {
		end := span.Pos + len(span.Word)
		if span.Pos < 0 || end > len(positions) {
			continue
		}
		for i := positions[span.Pos]; i <= positions[end-1]; i++ {
			original[i] = m.replacement
		}
		found = append(found, string(span.Word))
	}
	return string(original), found
}

// normalize lowercases, undoes leet speak and drops noise.
// positions[i] is the index in input of the i-th normalized rune.
func normalize(input []rune) (normalized []rune, positions []int) {
	normalized = make([]rune, 0, len(input))
	positions = make([]int, 0, len(input))
	for i, r := range input {
		r = unleet(r)
		if unicode.IsPunct(r) || unicode.IsSpace(r) || unicode.IsSymbol(r) {
			continue
		}
		normalized = append(normalized, unicode.ToLower(r))
		positions = append(positions, i)
	}
	return normalized, positions
}

func unleet(r rune) rune {
	switch r {
	case '4', '@':
		return 'a'
	case '3', '€':
		return 'e'
	case '1', '!', '|':
		return 'i'
	case '0':
		return 'o'
	case '5', '$':
		return 's'
	default:
		return r
	}
}
