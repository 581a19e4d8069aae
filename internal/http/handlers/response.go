// Package handlers provides HTTP handler implementations for the public API.
//
// This file defines the response envelope shared by every endpoint and the
// helpers that write it. The website's form script only understands one
// shape, so errors and successes both use it:
//
//	HTTP/1.1 400 Bad Request
//	{ "success": false, "message": "Please fill in all required fields (name, email, and phone)." }
//
//	HTTP/1.1 200 OK
//	{ "success": true, "message": "Thank you for your inquiry! We will get back to you soon." }
//
// The correlation ID travels in the X-Request-ID response header.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-venue-backend/internal/http/middleware"
)

// ContactResponse is the JSON envelope returned by all endpoints.
type ContactResponse struct {
	// Success is true only when the notification was delivered.
	Success bool `json:"success" example:"true"`
	// Message is safe to show to the visitor as-is.
	Message string `json:"message" example:"Thank you for your inquiry! We will get back to you soon."`
}

// fail aborts the request with {success:false,message} and logs 5xx with the
// request-scoped logger.
func fail(c *gin.Context, status int, msg string) {
	if status >= http.StatusInternalServerError {
		middleware.LoggerFrom(c).Error().
			Int("status", status).
			Str("message", msg).
			Msg("api error")
	}
	c.AbortWithStatusJSON(status, ContactResponse{Success: false, Message: msg})
}

// Fail is the exported variant of fail() for router fallbacks.
func Fail(c *gin.Context, status int, msg string) { fail(c, status, msg) }
