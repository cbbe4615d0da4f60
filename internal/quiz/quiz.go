// Package quiz reads quiz sources.
//
// A source is line oriented. Every non-blank line holds exactly three fields
// separated by four spaces: the question, the answer and the media.
//
//	Capital of France?    {Paris, Berlin, Madrid}    (Image: https://example.org/paris.png)
//
// An answer wrapped in braces is a list of choices separated by ", " where the
// first choice is the correct one. Anything else is a free text answer. The
// media field is wrapped in a pair of brackets and reads "Kind: value", where
// Kind is Image, Video or Audio. An empty media field means no media.
package quiz

import (
	"bufio"
	stderrors "errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/victornm/chatquiz/internal/domain"
	"github.com/victornm/chatquiz/internal/errors"
)

const (
	fieldSeparator  = "    "
	choiceSeparator = ", "
	fieldCount      = 3
)

// MalformedSourceError reports a line that does not follow the source format.
// A malformed line aborts the whole load.
type MalformedSourceError struct {
	Line   int
	Reason string
}

func (e *MalformedSourceError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Reason)
}

// Parse reads a quiz from r. Questions keep the order of their lines.
func Parse(name string, r io.Reader) (*domain.Quiz, error) {
	q := &domain.Quiz{Name: name}

	sc := bufio.NewScanner(r)
	n := 0
	for sc.Scan() {
		n++
		line := strings.TrimRight(sc.Text(), "\r\n")
		if strings.TrimSpace(line) == "" {
			continue
		}

		question, err := parseLine(n, line)
		if err != nil {
			return nil, err
		}
		q.Questions = append(q.Questions, question)
	}

	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read quiz %s: %w", name, err)
	}

	return q, nil
}

func parseLine(n int, line string) (domain.Question, error) {
	fields := strings.Split(line, fieldSeparator)
	if len(fields) != fieldCount {
		return domain.Question{}, &MalformedSourceError{
			Line:   n,
			Reason: fmt.Sprintf("want %d fields separated by 4 spaces, got %d", fieldCount, len(fields)),
		}
	}

	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}

	if fields[0] == "" {
		return domain.Question{}, &MalformedSourceError{Line: n, Reason: "empty question"}
	}

	answer, err := parseAnswer(fields[1])
	if err != nil {
		return domain.Question{}, &MalformedSourceError{Line: n, Reason: err.Error()}
	}

	media, err := parseMedia(fields[2])
	if err != nil {
		return domain.Question{}, &MalformedSourceError{Line: n, Reason: err.Error()}
	}

	return domain.Question{
		Text:   fields[0],
		Answer: answer,
		Media:  media,
	}, nil
}

func parseAnswer(s string) (domain.Answer, error) {
	if !strings.HasPrefix(s, "{") || !strings.HasSuffix(s, "}") || len(s) < 2 {
		return domain.FreeText(s), nil
	}

	inner := strings.TrimSpace(s[1 : len(s)-1])
	if inner == "" {
		return domain.Answer{}, fmt.Errorf("empty choice list")
	}

	choices := strings.Split(inner, choiceSeparator)
	for i := range choices {
		choices[i] = strings.TrimSpace(choices[i])
	}

	return domain.MultipleChoice(choices...), nil
}

func parseMedia(s string) (domain.Media, error) {
	if len(s) < 2 {
		return domain.Media{}, nil
	}

	// Strip the enclosing pair, whatever it is.
	inner := strings.TrimSpace(s[1 : len(s)-1])
	kind, value, _ := strings.Cut(inner, ":")
	kind, value = strings.TrimSpace(kind), strings.TrimSpace(value)
	if value == "" {
		return domain.Media{}, nil
	}

	switch strings.ToLower(kind) {
	case "image":
		return domain.Media{Kind: domain.MediaImage, URL: value}, nil
	case "video":
		return domain.Media{Kind: domain.MediaVideo, URL: value}, nil
	case "audio":
		return domain.Media{Kind: domain.MediaAudio, URL: value}, nil
	default:
		return domain.Media{}, fmt.Errorf("unknown media kind %q", kind)
	}
}

// Loader finds quiz sources by name in a list of directories.
type Loader struct {
	dirs []string
}

// NewLoader returns a Loader that looks in the working directory first and then
// in each fallback directory.
func NewLoader(fallback ...string) *Loader {
	dirs := []string{"."}
	for _, d := range fallback {
		if d != "" {
			dirs = append(dirs, d)
		}
	}

	return &Loader{dirs: dirs}
}

// Load opens and parses the quiz named name.
func (l *Loader) Load(name string) (*domain.Quiz, error) {
	if name == "" || filepath.IsAbs(name) || strings.Contains(filepath.ToSlash(name), "../") {
		return nil, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("invalid quiz name %q", name))
	}

	for _, dir := range l.dirs {
		path := filepath.Join(dir, name)

		f, err := os.Open(path)
		if stderrors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("open quiz %s: %w", path, err)
		}

		q, err := Parse(name, f)
		f.Close()

		var malformed *MalformedSourceError
		if stderrors.As(err, &malformed) {
			return nil, errors.New(errors.CodeInvalidArgument,
				errors.WithMessagef("quiz %q is malformed: %s", name, malformed),
				errors.WithCause(err))
		}

		return q, err
	}

	return nil, errors.New(errors.CodeNotFound,
		errors.WithMessagef("quiz %q not found", name))
}
