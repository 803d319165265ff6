// Package types contains the API response types
package types

import (
	"errors"
	"net/http"
	"time"
)

var (
	BuildVersion string
	BuildTime    string
)

// APIVersion is the version of the HTTP API
const APIVersion = "1.0.0"

// Version is the version struct
type Version struct {
	APIVersion     string `json:"api_version,omitempty"`
	OSType         string `json:"os_type,omitempty"`
	BuilderVersion string `json:"builder_version,omitempty"`
}

// Response is the envelope of every API answer
// swagger:response envelope
type Response struct {
	Success   bool    `json:"success"`
	Data      any     `json:"data"`
	Error     *string `json:"error"`
	// ErrorName is the category of the error, e.g. LoginError or buyError
	ErrorName string  `json:"errorName,omitempty"`
	Timestamp string  `json:"timestamp"`
}

// OK wraps data in a successful envelope
func OK(data any) Response {
	return Response{Success: true, Data: data, Timestamp: now()}
}

// Fail wraps err in a failed envelope
func Fail(err error) Response {
	msg := "Unknown error"
	if err != nil && err.Error() != "" {
		msg = err.Error()
	}
	resp := Response{Success: false, Error: &msg, Timestamp: now()}
	var named interface{ Name() string }
	if errors.As(err, &named) {
		resp.ErrorName = named.Name()
	}
	return resp
}

func now() string {
	return time.Now().Format(time.RFC3339)
}

// ValidationError is a rejected request parameter
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// Name is the error category
func (e *ValidationError) Name() string { return "ValidationError" }

// Invalid returns a ValidationError
func Invalid(msg string) error {
	return &ValidationError{Message: msg}
}

// StatusOf is the HTTP status for err
func StatusOf(err error) int {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
