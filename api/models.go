package api

// RootResponse is returned by the root endpoint
type RootResponse struct {
	Message string `json:"message" example:"Deep Research Memory API is running"`
}

// ErrorResponse carries a client-safe failure description
type ErrorResponse struct {
	Detail string `json:"detail" example:"user_id and prompt are required"`
}

// HealthResponse reports the status of the server and its collaborators
type HealthResponse struct {
	Status    string            `json:"status" example:"healthy"`
	Timestamp string            `json:"timestamp" example:"2024-01-01T00:00:00Z"`
	Version   string            `json:"version" example:"1.0.0"`
	Uptime    string            `json:"uptime" example:"1h2m3s"`
	Topology  string            `json:"topology" example:"supervisor"`
	Checks    map[string]string `json:"checks"`
}

// SearchRequest starts a research request
type SearchRequest struct {
	UserID string `json:"user_id" example:"alice"`
	Prompt string `json:"prompt" example:"What did I say about Paris?"`
}
