package dto

// PredictRequest is the body of POST /api/v1/predict
type PredictRequest struct {
	ImageName string `json:"image_name" binding:"required,max=255,image_file"`
	Model     string `json:"model" binding:"omitempty,model_selector"`
}

// PredictResponse is returned for a completed prediction
type PredictResponse struct {
	Success    bool    `json:"success"`
	Prediction string  `json:"prediction"`
	Score      float64 `json:"score"`
}

// ErrorResponse is returned whenever no prediction is available
type ErrorResponse struct {
	Success bool     `json:"success"`
	Error   string   `json:"error"`
	Details []string `json:"details,omitempty"`
}
