package handler

// HealthResponse represents the response for the health endpoint
type HealthResponse struct {
	Status string `json:"status"`
	Cache  string `json:"cache"`
}
