package script

import (
	"bufio"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/scriptreel/api/internal/model"
)

// ParseErrorKind classifies script parse failures
type ParseErrorKind string

const (
	KindMissingHeader      ParseErrorKind = "missing_header"
	KindMalformedHeader    ParseErrorKind = "malformed_header"
	KindNonMonotonicOffset ParseErrorKind = "non_monotonic_offset"
	KindNoScenes           ParseErrorKind = "no_scenes"
)

// ParseError describes why a script failed to parse, with line context
// so the author can fix it.
type ParseError struct {
	Kind ParseErrorKind
	Line int    // 1-based line number
	Text string // offending line, trimmed
}

func (e *ParseError) Error() string {
	if e.Text == "" {
		return fmt.Sprintf("script: %s at line %d", e.Kind, e.Line)
	}
	return fmt.Sprintf("script: %s at line %d: %q", e.Kind, e.Line, e.Text)
}

// ValidationError reports a script that parsed but exceeds a configured
// limit (scene count, narration length).
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("script validation: %s: %s", e.Field, e.Message)
}

var (
	// [M:SS - title] or [MM:SS - title]
	sceneHeaderRe = regexp.MustCompile(`^\[(\d{1,2}):(\d{2})\s*-\s*(.*?)\s*\]$`)
	// Narration (speaker): "text"  with the speaker group optional
	narrationRe = regexp.MustCompile(`(?i)^narration(?:\s*\(([^)]*)\))?\s*:\s*(.*)$`)
)

const (
	scriptPrefix  = "script:"
	visualPrefix  = "visual:"
	overlayPrefix = "on-screen text:"
)

// Parse converts shooting-script text into a structured Script. Keywords
// are case-insensitive. Scene identity is the positional index; offsets
// must be non-decreasing. Lines before the first scene header other than
// the mandatory SCRIPT: title are ignored, as are unknown keywords inside
// a scene block. A missing END marker is tolerated.
func Parse(text string) (*model.Script, error) {
	scanner := bufio.NewScanner(strings.NewReader(text))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var (
		title      string
		headerSeen bool
		scenes     []model.Scene
		current    *model.Scene
		lastOffset = -1
		lineNo     int
		endReached bool
	)

	flush := func() {
		if current != nil {
			scenes = append(scenes, *current)
			current = nil
		}
	}

	for scanner.Scan() && !endReached {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		lower := strings.ToLower(line)

		switch {
		case strings.HasPrefix(line, "["):
			m := sceneHeaderRe.FindStringSubmatch(line)
			if m == nil {
				return nil, &ParseError{Kind: KindMalformedHeader, Line: lineNo, Text: line}
			}
			if !headerSeen {
				return nil, &ParseError{Kind: KindMissingHeader, Line: lineNo, Text: line}
			}
			minutes, _ := strconv.Atoi(m[1])
			seconds, _ := strconv.Atoi(m[2])
			if seconds > 59 {
				return nil, &ParseError{Kind: KindMalformedHeader, Line: lineNo, Text: line}
			}
			offset := minutes*60 + seconds
			if offset < lastOffset {
				return nil, &ParseError{Kind: KindNonMonotonicOffset, Line: lineNo, Text: line}
			}
			lastOffset = offset
			flush()
			current = &model.Scene{
				Index:          len(scenes),
				StartOffsetSec: offset,
				Title:          m[3],
			}

		case strings.HasPrefix(lower, scriptPrefix):
			if !headerSeen {
				title = strings.TrimSpace(line[len(scriptPrefix):])
				headerSeen = true
			}

		case current == nil:
			// Top-level line outside any scene block, ignored.

		case strings.HasPrefix(lower, visualPrefix):
			current.VisualDescription = strings.TrimSpace(line[len(visualPrefix):])

		case strings.HasPrefix(lower, overlayPrefix):
			overlay := strings.TrimSpace(line[len(overlayPrefix):])
			if overlay != "" {
				current.OnScreenText = append(current.OnScreenText, overlay)
			}

		case strings.HasPrefix(lower, "narration"):
			if m := narrationRe.FindStringSubmatch(line); m != nil {
				narr := parseNarration(m[1], m[2])
				if narr != nil {
					current.Narration = narr
				}
			}

		case lower == "end" || strings.HasPrefix(lower, "end "):
			flush()
			endReached = true

		default:
			// Unknown keyword inside a scene block, ignored.
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("script: read input: %w", err)
	}
	flush()

	if !headerSeen {
		return nil, &ParseError{Kind: KindMissingHeader, Line: 1}
	}
	if len(scenes) == 0 {
		return nil, &ParseError{Kind: KindNoScenes, Line: lineNo}
	}
	return &model.Script{Title: title, Scenes: scenes}, nil
}

// parseNarration builds the segment from the regex captures, stripping
// one pair of surrounding double quotes. Empty text means a visual-only
// scene and yields nil.
func parseNarration(speaker, text string) *model.NarrationSegment {
	text = strings.TrimSpace(text)
	if len(text) >= 2 && strings.HasPrefix(text, `"`) && strings.HasSuffix(text, `"`) {
		text = text[1 : len(text)-1]
	}
	if text == "" {
		return nil
	}
	return &model.NarrationSegment{
		Speaker: strings.TrimSpace(speaker),
		Text:    text,
	}
}

// MaxNarrationChars is the hard cap on one scene's narration text.
const MaxNarrationChars = 5000

// CheckLimits rejects scripts that parsed but exceed the submission
// limits. maxScenes <= 0 means no scene cap.
func CheckLimits(s *model.Script, maxScenes int) error {
	if maxScenes > 0 && len(s.Scenes) > maxScenes {
		return &ValidationError{
			Field:   "scenes",
			Message: fmt.Sprintf("script has %d scenes, maximum is %d", len(s.Scenes), maxScenes),
		}
	}
	for _, sc := range s.Scenes {
		if sc.Narration == nil {
			continue
		}
		if n := len(sc.Narration.Text); n > MaxNarrationChars {
			return &ValidationError{
				Field:   fmt.Sprintf("scenes[%d].narration", sc.Index),
				Message: fmt.Sprintf("narration is %d chars, maximum is %d", n, MaxNarrationChars),
			}
		}
	}
	return nil
}
