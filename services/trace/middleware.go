// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package trace

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RequestIDMiddleware assigns every request an ID before handlers run.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		getOrCreateRequestID(c)
		c.Next()
	}
}

// RateLimitMiddleware applies a shared token bucket to all requests.
//
// Description:
//
//	Allows rps requests per second with bursts up to burst. Requests over
//	the limit get 429 with code RATE_LIMITED and a Retry-After header.
//	rps <= 0 disables limiting.
//
// Thread Safety: The returned handler is safe for concurrent use.
func RateLimitMiddleware(rps float64, burst int) gin.HandlerFunc {
	if rps <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	if burst < 1 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(rps), burst)

	return func(c *gin.Context) {
		if limiter.Allow() {
			c.Next()
			return
		}
		rateLimitedTotal.Inc()
		slog.Warn("request rate limited",
			slog.String("request_id", getOrCreateRequestID(c)),
			slog.String("path", c.Request.URL.Path),
		)
		c.Header("Retry-After", "1")
		c.AbortWithStatusJSON(http.StatusTooManyRequests, ErrorResponse{
			Error: "rate limit exceeded",
			Code:  "RATE_LIMITED",
		})
	}
}
