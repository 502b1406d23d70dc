package http

// APIResponse is the envelope every handler writes. Status repeats the
// HTTP status code.
type APIResponse struct {
	Status  int         `json:"status"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// ValidationError describes one rejected request field.
type ValidationError struct {
	Code    string                 `json:"code,omitempty"`
	Field   string                 `json:"field,omitempty"`
	Message string                 `json:"message,omitempty"`
	Params  map[string]interface{} `json:"params,omitempty"`
}

// Response headers set by the market data and trigger endpoints.
const (
	HeaderCache      = "X-Cache"
	HeaderRetryAfter = "Retry-After"
)
