package service

import (
	"github.com/scriptreel/api/internal/model"
	"github.com/scriptreel/api/internal/script"
)

// ScriptService parses scripts synchronously without creating jobs.
type ScriptService struct {
	maxScenes int
}

func NewScriptService(maxScenes int) *ScriptService {
	return &ScriptService{maxScenes: maxScenes}
}

// Validate parses the script and summarizes its timeline. Grammar and
// limit violations come back as errors for the handler to surface with
// line context.
func (s *ScriptService) Validate(req *model.ScriptValidateRequest) (*model.ScriptValidateResponse, error) {
	parsed, err := script.Parse(req.ScriptContent)
	if err != nil {
		return nil, err
	}
	if err := script.CheckLimits(parsed, s.maxScenes); err != nil {
		return nil, err
	}

	scenes := make([]model.ScenePreview, 0, len(parsed.Scenes))
	for _, scene := range parsed.Scenes {
		preview := model.ScenePreview{
			Index:          scene.Index,
			StartOffsetSec: scene.StartOffsetSec,
			Title:          scene.Title,
			HasNarration:   scene.Narration != nil,
			OverlayCount:   len(scene.OnScreenText),
		}
		if scene.Narration != nil {
			preview.Speaker = scene.Narration.Speaker
		}
		scenes = append(scenes, preview)
	}

	return &model.ScriptValidateResponse{
		Valid:      true,
		Title:      parsed.Title,
		SceneCount: len(parsed.Scenes),
		Scenes:     scenes,
	}, nil
}
