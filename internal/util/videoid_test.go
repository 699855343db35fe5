package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractVideoID(t *testing.T) {
	valid := map[string]string{
		"dQw4w9WgXcQ":                                 "dQw4w9WgXcQ",
		" dQw4w9WgXcQ ":                               "dQw4w9WgXcQ",
		"https://www.youtube.com/watch?v=dQw4w9WgXcQ": "dQw4w9WgXcQ",
		"https://youtube.com/watch?v=dQw4w9WgXcQ&t=42": "dQw4w9WgXcQ",
		"https://m.youtube.com/watch?v=dQw4w9WgXcQ":   "dQw4w9WgXcQ",
		"youtube.com/watch?v=dQw4w9WgXcQ":             "dQw4w9WgXcQ",
		"https://youtu.be/dQw4w9WgXcQ":                "dQw4w9WgXcQ",
		"https://www.youtube.com/shorts/dQw4w9WgXcQ":  "dQw4w9WgXcQ",
		"https://www.youtube.com/embed/dQw4w9WgXcQ":   "dQw4w9WgXcQ",
		"https://www.youtube.com/live/a_b-c_d-e_f":    "a_b-c_d-e_f",
	}
	for in, want := range valid {
		got, err := ExtractVideoID(in)
		if assert.NoError(t, err, in) {
			assert.Equal(t, want, got, in)
		}
	}

	invalid := []string{
		"",
		"short",
		"dQw4w9WgXcQQ",
		"dQw4w9WgXc!",
		"https://vimeo.com/dQw4w9WgXcQ",
		"https://www.youtube.com/watch?v=tooshort",
		"https://www.youtube.com/channel/UC123",
	}
	for _, in := range invalid {
		_, err := ExtractVideoID(in)
		assert.Error(t, err, in)
	}
}
