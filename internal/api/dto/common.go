package dto

type ErrorResponse struct {
	Error   string            `json:"error"`
	Details map[string]string `json:"details,omitempty"`
}

type SuccessResponse struct {
	Message string `json:"message"`
}

// StatusResponse is the body of endpoints that only acknowledge a request.
type StatusResponse struct {
	Status bool `json:"status"`
}

type URLResponse struct {
	URL string `json:"url"`
}
