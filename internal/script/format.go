package script

import (
	"fmt"
	"strings"

	"github.com/scriptreel/api/internal/model"
)

// Format renders a Script back to canonical shooting-script text. The
// output parses to an equivalent Script: same scene count, offsets,
// narration, and on-screen text.
func Format(s *model.Script) string {
	var b strings.Builder

	fmt.Fprintf(&b, "SCRIPT: %s\n", s.Title)
	for _, sc := range s.Scenes {
		fmt.Fprintf(&b, "\n[%d:%02d - %s]\n", sc.StartOffsetSec/60, sc.StartOffsetSec%60, sc.Title)
		if sc.VisualDescription != "" {
			fmt.Fprintf(&b, "Visual: %s\n", sc.VisualDescription)
		}
		if sc.Narration != nil {
			if sc.Narration.Speaker != "" {
				fmt.Fprintf(&b, "Narration (%s): \"%s\"\n", sc.Narration.Speaker, sc.Narration.Text)
			} else {
				fmt.Fprintf(&b, "Narration: \"%s\"\n", sc.Narration.Text)
			}
		}
		for _, overlay := range sc.OnScreenText {
			fmt.Fprintf(&b, "ON-SCREEN TEXT: %s\n", overlay)
		}
	}
	fmt.Fprintf(&b, "\nEND %s\n", s.Title)

	return b.String()
}
