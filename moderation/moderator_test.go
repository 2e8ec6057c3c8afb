package moderation

import (
	"log/slog"
	"testing"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

const replacementChar = '*'

// The dictionary uses specific words to avoid partial collisions (e.g., "he" inside "The")
func TestModerator_Censor(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	dictionary := []string{"scammer", "moron", "idiot"}
	mod, err := NewModerator(dictionary, replacementChar, log)
	req.NoError(err)

	tests := []struct {
		name     string
		input    string
		expected string
		words    []string
	}{
		{
			name:     "Simple word and space preservation",
			input:    "What a moron move",
			expected: "What a ***** move",
			words:    []string{"moron"},
		},
		{
			name:     "Multiple occurrences",
			input:    "moron moron moron",
			expected: "***** ***** *****",
			words:    []string{"moron", "moron", "moron"},
		},
		{
			name: "Leet speak and internal punctuation",
			// m (index 7) . 0 . r . 0 n (index 15) -> 9 characters
			input:    "You're m.0.r.0.n !",
			expected: "You're ********* !",
			words:    []string{"moron"},
		},
		{
			name:     "Uppercase and extreme noise",
			input:    "I-D-I-O-T met a S.C.A.M.M.E.R",
			expected: "********* met a *************",
			words:    []string{"idiot", "scammer"},
		},
		{
			name:     "Accents around the match (UTF-8)",
			input:    "Un été avec un moron",
			expected: "Un été avec un *****",
			words:    []string{"moron"},
		},
		{
			name:     "Word adjacent to trailing punctuation",
			input:    "such a scammer!",
			expected: "such a *******!",
			words:    []string{"scammer"},
		},
		{
			name:     "Nothing to censor",
			input:    "chat-relay is running fine",
			expected: "chat-relay is running fine",
			words:    nil,
		},
		{
			name:     "Empty string",
			input:    "",
			expected: "",
			words:    nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			content, words := mod.Censor(tt.input)
			req.Equal(tt.expected, content, "test=%s,", tt.name)
			req.Equal(tt.words, words, "expected=%s,words=%s", tt.expected, words)
		})
	}
}

func TestModerator_NoiseOnlyDictionaryEntries(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)

	// Given a dictionary polluted with pure noise entries
	dictionary := []string{"...", ",,,", "", "idiot"}

	mod, err := NewModerator(dictionary, replacementChar, log)
	req.NoError(err)

	// Then the real word is still censored
	content, words := mod.Censor("The idiot is here")
	req.Equal("The ***** is here", content)
	req.Equal([]string{"idiot"}, words)

	// And noise alone stays untouched
	content, words = mod.Censor("Well ...")
	req.Equal("Well ...", content)
	req.Nil(words)
}

func TestLoadCensoredWords(t *testing.T) {
	req := require.New(t)

	// When loading the embedded dictionaries
	data, err := LoadCensoredWords()

	// Then every language file contributes
	req.NoError(err)
	req.Contains(data.Languages, "en")
	req.Contains(data.Languages, "fr")
	req.Contains(data.Words, "moron")
	req.Contains(data.Words, "abruti")
}
