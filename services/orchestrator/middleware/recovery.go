// Copyright (C) 2026 Athrael Soju
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package middleware provides HTTP middleware for the orchestrator service.
//
// This package contains middleware for panic recovery and request
// processing, tuned for a server that speaks both JSON and SSE.
//
// # Recovery Flow
//
// The recovery middleware distinguishes two kinds of panic:
//
//	Request
//	   │
//	   ▼
//	Recovery
//	   │
//	   ├─► panic(http.ErrAbortHandler) ─► re-panic (net/http drops the
//	   │                                  connection without a response)
//	   │
//	   └─► any other panic ─► log + 500 JSON error
//
// Streaming handlers deliberately panic with http.ErrAbortHandler to
// terminate a half-written SSE response abortively. Swallowing that panic
// and writing a JSON body would corrupt the stream, so it is passed
// through to net/http untouched.
package middleware

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Recovery returns a Gin middleware that recovers from handler panics.
//
// # Description
//
// Recovers from panics in downstream handlers, logs the panic value with
// the request path, and responds with HTTP 500. The sentinel panic value
// http.ErrAbortHandler is re-raised instead so net/http tears down the
// connection without writing anything further.
//
// # Outputs
//
//   - gin.HandlerFunc: Middleware function ready for use with Gin
//
// # Thread Safety
//
// Thread-safe. The returned middleware can be used concurrently.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}

			if err, ok := r.(error); ok && errors.Is(err, http.ErrAbortHandler) {
				// Streaming handlers use this to kill the socket.
				panic(r)
			}

			slog.Error("panic recovered",
				"path", c.Request.URL.Path,
				"method", c.Request.Method,
				"panic", r,
			)

			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error": "internal server error",
			})
		}()

		c.Next()
	}
}
