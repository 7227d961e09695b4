package handler

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/scriptreel/api/internal/model"
	"github.com/scriptreel/api/internal/service"
	"github.com/scriptreel/api/pkg/response"
)

type ScriptHandler struct {
	service   *service.ScriptService
	validator *validator.Validate
}

func NewScriptHandler(svc *service.ScriptService, v *validator.Validate) *ScriptHandler {
	return &ScriptHandler{
		service:   svc,
		validator: v,
	}
}

// Validate handles POST /api/script/validate
func (h *ScriptHandler) Validate(c *fiber.Ctx) error {
	var req model.ScriptValidateRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, err := h.service.Validate(&req)
	if err != nil {
		if details, ok := scriptErrorDetails(err); ok {
			return response.ValidationError(c, err.Error(), details)
		}
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, result)
}
