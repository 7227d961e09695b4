package handler

import (
	"github.com/gofiber/fiber/v2"

	"github.com/scriptreel/api/internal/service"
	"github.com/scriptreel/api/pkg/response"
)

type StatsHandler struct {
	stats *service.PipelineStats
}

func NewStatsHandler(stats *service.PipelineStats) *StatsHandler {
	return &StatsHandler{stats: stats}
}

// Pipeline handles GET /api/pipeline/stats
func (h *StatsHandler) Pipeline(c *fiber.Ctx) error {
	return response.OK(c, h.stats.Snapshot())
}
