package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

var (
	ErrNotFound   = &APIError{StatusCode: http.StatusNotFound, Message: "resource not found"}
	ErrBadRequest = &APIError{StatusCode: http.StatusBadRequest, Message: "invalid request"}
	// ErrConflict is returned when the workspace is already being built.
	ErrConflict = &APIError{StatusCode: http.StatusConflict, Message: "build already running"}
	ErrInternal = &APIError{StatusCode: http.StatusInternalServerError, Message: "internal server error"}

	// ErrStreamEnded is returned when a build log stream closes before its
	// exit marker.
	ErrStreamEnded = errors.New("build log stream ended without exit marker")
)

// APIError is an error response from the API.
type APIError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Is matches on status code so errors.Is(err, ErrNotFound) works for any 404.
func (e *APIError) Is(target error) bool {
	t, ok := target.(*APIError)
	if !ok {
		return false
	}
	return e.StatusCode == t.StatusCode
}

func (e *APIError) Unwrap() error {
	return e.Err
}

type errorResponse struct {
	Error string `json:"error"`
}

func handleErrorResponse(resp *http.Response) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    http.StatusText(resp.StatusCode),
			Err:        err,
		}
	}

	var errResp errorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
		return &APIError{StatusCode: resp.StatusCode, Message: errResp.Error}
	}
	return &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

func IsBadRequest(err error) bool {
	return errors.Is(err, ErrBadRequest)
}
