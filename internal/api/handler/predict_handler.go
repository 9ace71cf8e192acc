package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/cuongbtq/predict-queue/internal/api/dispatcher"
	"github.com/cuongbtq/predict-queue/internal/api/dto"
	"github.com/cuongbtq/predict-queue/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

// PredictHandler handles prediction requests
type PredictHandler struct {
	logger     *slog.Logger
	dispatcher Predictor
}

// NewPredictHandler creates a new PredictHandler instance
func NewPredictHandler(deps *Dependencies) *PredictHandler {
	RegisterValidators()

	return &PredictHandler{
		logger:     deps.Logger,
		dispatcher: deps.Dispatcher,
	}
}

// Predict handles POST /api/v1/predict
// Enqueues the image for classification and waits for the worker's answer
func (h *PredictHandler) Predict(c *gin.Context) {
	var req dto.PredictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:   "Invalid request body",
			Details: validationDetails(err),
		})
		return
	}

	model, err := domain.ParseModelSelector(req.Model)
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	}

	prediction, err := h.dispatcher.SubmitAndAwait(c.Request.Context(), dispatcher.Payload{
		ImageName: req.ImageName,
		Model:     model,
	})
	if err != nil {
		status, message := statusForError(err)
		h.logger.Error("Prediction failed",
			slog.String("image_name", req.ImageName),
			slog.String("model", model.String()),
			slog.Int("status", status),
			slog.String("error", err.Error()),
		)
		_ = c.Error(err)
		c.JSON(status, dto.ErrorResponse{Error: message})
		return
	}

	c.JSON(http.StatusOK, dto.PredictResponse{
		Success:    true,
		Prediction: prediction.Label,
		Score:      prediction.Score,
	})
}

func statusForError(err error) (int, string) {
	var submissionErr *domain.SubmissionError

	switch {
	case errors.Is(err, domain.ErrInferenceFailure):
		return http.StatusUnprocessableEntity, "The image could not be classified"
	case errors.Is(err, domain.ErrDispatchTimeout):
		return http.StatusGatewayTimeout, "Timed out waiting for a prediction"
	case errors.As(err, &submissionErr):
		return http.StatusServiceUnavailable, "Prediction queue is unavailable"
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

func validationDetails(err error) []string {
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return nil
	}

	details := make([]string, 0, len(validationErrs))
	for _, e := range validationErrs {
		details = append(details, "Field '"+e.Field()+"' failed on the '"+e.Tag()+"' tag.")
	}
	return details
}
