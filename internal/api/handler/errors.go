package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/timmy/lookbook/internal/api/middleware"
	"github.com/timmy/lookbook/internal/graph"
	"github.com/timmy/lookbook/internal/poller"
	"github.com/timmy/lookbook/internal/service"
)

// StatusClientClosedRequest reports a request the client gave up on, such as a
// disconnect during a waiting generation. It is not a server failure.
const StatusClientClosedRequest = 499

// StatusFor maps a service error to an HTTP status code.
func StatusFor(err error) int {
	var (
		unknown   *graph.UnknownParentError
		cycle     *graph.CycleError
		failed    *service.JobFailedError
		timeout   *poller.PollTimeoutError
		submit    *poller.SubmissionError
		transport *poller.PollTransportError
	)
	switch {
	case errors.Is(err, service.ErrInvalidRequest),
		errors.Is(err, graph.ErrInvalidArtifact),
		errors.As(err, &unknown),
		errors.As(err, &cycle):
		return http.StatusBadRequest
	case errors.Is(err, graph.ErrArtifactNotFound), errors.Is(err, service.ErrRunNotFound):
		return http.StatusNotFound
	case errors.Is(err, graph.ErrDuplicateArtifact):
		return http.StatusConflict
	case errors.As(err, &failed):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.Canceled):
		return StatusClientClosedRequest
	case errors.As(err, &timeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.As(err, &submit), errors.As(err, &transport):
		return http.StatusBadGateway
	case errors.Is(err, service.ErrStorageDisabled):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// respondError writes err as a JSON error body. Server-side failures are logged.
func respondError(c *gin.Context, action string, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		middleware.GetLogger(c).WithError(err).WithField("status", status).Errorf("%s failed", action)
	}
	c.JSON(status, gin.H{
		"error": action + " failed: " + err.Error(),
	})
}
