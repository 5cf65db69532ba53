package dispatch

import (
	"encoding/json"
	"net/http"

	"github.com/kfatkin/CodePipeline-Slack-Hooks/internal/hookerr"
)

const (
	corsHeader    = "Access-Control-Allow-Origin"
	contentHeader = "Content-Type"
)

// Response is the terminal reply to one delivery. Body is JSON.
type Response struct {
	StatusCode int               `json:"statusCode"`
	Body       string            `json:"body"`
	Headers    map[string]string `json:"headers"`
}

type errorBody struct {
	Error string `json:"error"`
}

type textBody struct {
	Text string `json:"text"`
}

// JSON encodes data as the body of a response with status.
func JSON(status int, data any) Response {
	body, err := json.Marshal(data)
	if err != nil {
		status = http.StatusInternalServerError
		body = []byte(`{"error":"encode response"}`)
	}
	return Response{
		StatusCode: status,
		Body:       string(body),
		Headers: map[string]string{
			corsHeader:    "*",
			contentHeader: "application/json",
		},
	}
}

// OK is a 200 response carrying data.
func OK(data any) Response {
	return JSON(http.StatusOK, data)
}

// Fail renders err with the status its kind maps to, or fallback when err
// carries no kind.
func Fail(err error, fallback int) Response {
	return JSON(hookerr.StatusCode(err, fallback), errorBody{Error: err.Error()})
}

// Text is the chat reply shape {"text": s}.
func Text(s string) Response {
	return OK(textBody{Text: s})
}
