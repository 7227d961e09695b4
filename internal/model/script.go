package model

// Script is the structured form of a shooting script. Scenes are ordered
// by StartOffsetSec, non-decreasing, and there is always at least one.
type Script struct {
	Title  string  `json:"title"`
	Scenes []Scene `json:"scenes"`
}

// Scene is one timed unit of the script. Identity is the positional
// Index, not the title. Immutable after parsing.
type Scene struct {
	Index             int               `json:"index"`
	StartOffsetSec    int               `json:"startOffsetSec"`
	Title             string            `json:"title"`
	VisualDescription string            `json:"visualDescription"`
	Narration         *NarrationSegment `json:"narration,omitempty"`
	OnScreenText      []string          `json:"onScreenText,omitempty"`
}

// NarrationSegment is the spoken line of a scene. An empty Speaker means
// the narrator default voice.
type NarrationSegment struct {
	Speaker string `json:"speaker,omitempty"`
	Text    string `json:"text"`
}

// PlannedDurationSec returns the timeline slot for scene i: the distance
// to the next scene's offset, or fallbackSec for the last scene and for
// scenes sharing an offset with their successor.
func (s *Script) PlannedDurationSec(i int, fallbackSec int) int {
	if i < 0 || i >= len(s.Scenes) {
		return fallbackSec
	}
	if i == len(s.Scenes)-1 {
		return fallbackSec
	}
	d := s.Scenes[i+1].StartOffsetSec - s.Scenes[i].StartOffsetSec
	if d <= 0 {
		return fallbackSec
	}
	return d
}
