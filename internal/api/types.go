package api

// ResponseError is the body of every error response.
type ResponseError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// ErrorResponse wraps ResponseError as {"error": {...}}.
type ErrorResponse struct {
	Error ResponseError `json:"error"`
}

// HealthResponse is returned by GET /healthz.
type HealthResponse struct {
	Status string `json:"status"`
}

// Error types reported in ResponseError.Type.
const (
	errTypeInvalidRequest = "invalid_request_error"
	errTypeFormat         = "format_error"
	errTypeBackend        = "backend_error"
	errTypeTooLarge       = "request_too_large"
	errTypeServer         = "server_error"
)

// Response headers describing a codec result.
const (
	HeaderRequestID     = "X-Request-Id"
	HeaderInputSize     = "X-Llmc-Input-Size"
	HeaderOutputSize    = "X-Llmc-Output-Size"
	HeaderPipeline      = "X-Llmc-Pipeline"
	HeaderMethod        = "X-Llmc-Method"
	HeaderBackend       = "X-Llmc-Backend"
	HeaderDeltaOverflow = "X-Llmc-Delta-Overflow"
)
