package quiz_test

import (
	stderrors "errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/chatquiz/internal/domain"
	"github.com/victornm/chatquiz/internal/errors"
	"github.com/victornm/chatquiz/internal/quiz"
)

func TestParse(t *testing.T) {
	tests := map[string]struct {
		source string
		want   []domain.Question
	}{
		"free text and multiple choice": {
			source: "2+2?    4    ()\nCapital of France?    {Paris, Berlin, Madrid}    ()\n",
			want: []domain.Question{
				{Text: "2+2?", Answer: domain.FreeText("4")},
				{Text: "Capital of France?", Answer: domain.MultipleChoice("Paris", "Berlin", "Madrid")},
			},
		},

		"blank lines are skipped": {
			source: "\n\nQ1    A1    ()\n   \nQ2    A2    ()\n\n",
			want: []domain.Question{
				{Text: "Q1", Answer: domain.FreeText("A1")},
				{Text: "Q2", Answer: domain.FreeText("A2")},
			},
		},

		"media kinds": {
			source: strings.Join([]string{
				"Who is this?    Heidi    (Image: https://example.org/heidi.png)",
				"What happens next?    It explodes    [Video: https://example.org/v.mp4]",
				"Which song?    Alpenglühn    (Audio: song.mp3)",
				"Short media?    Yes    (Image: )",
			}, "\r\n"),
			want: []domain.Question{
				{Text: "Who is this?", Answer: domain.FreeText("Heidi"), Media: domain.Media{Kind: domain.MediaImage, URL: "https://example.org/heidi.png"}},
				{Text: "What happens next?", Answer: domain.FreeText("It explodes"), Media: domain.Media{Kind: domain.MediaVideo, URL: "https://example.org/v.mp4"}},
				{Text: "Which song?", Answer: domain.FreeText("Alpenglühn"), Media: domain.Media{Kind: domain.MediaAudio, URL: "song.mp3"}},
				{Text: "Short media?", Answer: domain.FreeText("Yes")},
			},
		},

		"empty source": {
			source: "",
			want:   nil,
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			q, err := quiz.Parse("test", strings.NewReader(tt.source))
			require.NoError(t, err)
			assert.Equal(t, "test", q.Name)
			assert.Equal(t, tt.want, q.Questions)
		})
	}
}

func TestParse_FreeTextRoundTrip(t *testing.T) {
	lines := []string{
		"What is the answer?    42    ()",
		"Who wrote Faust?    Goethe    ()",
		"Longest river?    The Nile, probably    ()",
	}

	q, err := quiz.Parse("roundtrip", strings.NewReader(strings.Join(lines, "\n")))
	require.NoError(t, err)
	require.Len(t, q.Questions, len(lines))

	for i, question := range q.Questions {
		got := strings.Join([]string{question.Text, question.Answer.Correct(), "()"}, "    ")
		assert.Equal(t, lines[i], got)
	}
}

func TestParse_Malformed(t *testing.T) {
	tests := map[string]struct {
		source   string
		wantLine int
	}{
		"too few fields": {
			source:   "Q1    A1    ()\nQ2    A2\n",
			wantLine: 2,
		},
		"too many fields": {
			source:   "Q1    A1    ()    extra\n",
			wantLine: 1,
		},
		"unknown media kind": {
			source:   "Q1    A1    (Gif: x.gif)\n",
			wantLine: 1,
		},
		"empty choice list": {
			source:   "\nQ1    {}    ()\n",
			wantLine: 2,
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			q, err := quiz.Parse("bad", strings.NewReader(tt.source))
			require.Nil(t, q, "no partial quiz should be produced")

			var malformed *quiz.MalformedSourceError
			require.True(t, stderrors.As(err, &malformed))
			assert.Equal(t, tt.wantLine, malformed.Line)
		})
	}
}

func TestLoader_Load(t *testing.T) {
	fallback := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(fallback, "geo.txt"), []byte("Capital of France?    {Paris, Berlin}    ()\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(fallback, "broken.txt"), []byte("just one field\n"), 0o600))

	l := quiz.NewLoader(fallback)

	t.Run("found in fallback", func(t *testing.T) {
		q, err := l.Load("geo.txt")
		require.NoError(t, err)
		require.Len(t, q.Questions, 1)
		assert.Equal(t, "Paris", q.Questions[0].Answer.Correct())
	})

	t.Run("not found", func(t *testing.T) {
		_, err := l.Load("missing.txt")
		assert.True(t, errors.Is(err, errors.CodeNotFound))
	})

	t.Run("malformed", func(t *testing.T) {
		_, err := l.Load("broken.txt")
		assert.True(t, errors.Is(err, errors.CodeInvalidArgument))

		var malformed *quiz.MalformedSourceError
		assert.True(t, stderrors.As(err, &malformed))
	})

	t.Run("path escape", func(t *testing.T) {
		_, err := l.Load("../etc/passwd")
		assert.True(t, errors.Is(err, errors.CodeInvalidArgument))
	})
}
