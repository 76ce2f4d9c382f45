// Package apierr writes API error responses in the gateway's error envelope.
//
// Every error body has the shape {"detail": <string or upstream JSON>}.
// Upstream provider errors are forwarded with their original status code and
// their JSON body verbatim inside the envelope.
package apierr

import (
	"encoding/json"

	"github.com/valyala/fasthttp"
)

// InvalidKeyDetail is the uniform 401 diagnostic. The same message is used for
// missing, unknown, and inactive keys so callers cannot enumerate valid keys.
const InvalidKeyDetail = "Invalid or inactive API key"

type envelope struct {
	Detail json.RawMessage `json:"detail"`
}

// Write writes {"detail": msg} with the given HTTP status.
func Write(ctx *fasthttp.RequestCtx, status int, msg string) {
	detail, _ := json.Marshal(msg)
	writeEnvelope(ctx, status, detail)
}

// WriteRaw writes {"detail": <raw>} with the given HTTP status. raw must be a
// valid JSON value; invalid payloads fall back to a string rendering.
func WriteRaw(ctx *fasthttp.RequestCtx, status int, raw []byte) {
	if !json.Valid(raw) {
		Write(ctx, status, string(raw))
		return
	}
	writeEnvelope(ctx, status, raw)
}

// WriteUnauthorized writes the uniform 401 response.
func WriteUnauthorized(ctx *fasthttp.RequestCtx) {
	Write(ctx, fasthttp.StatusUnauthorized, InvalidKeyDetail)
}

// WriteRateLimit writes a 429 with a standard Retry-After header.
func WriteRateLimit(ctx *fasthttp.RequestCtx) {
	ctx.Response.Header.Set("Retry-After", "60")
	Write(ctx, fasthttp.StatusTooManyRequests, "Rate limit exceeded")
}

// WriteProvider forwards an upstream provider failure. When the upstream
// supplied a JSON body it is placed in the envelope verbatim; otherwise msg is
// used as the detail string.
func WriteProvider(ctx *fasthttp.RequestCtx, status int, body []byte, msg string) {
	if status < 400 {
		status = fasthttp.StatusBadGateway
	}
	if len(body) > 0 && json.Valid(body) {
		writeEnvelope(ctx, status, body)
		return
	}
	Write(ctx, status, msg)
}

// WriteTimeout writes a 504 for an upstream call that exceeded its deadline.
func WriteTimeout(ctx *fasthttp.RequestCtx) {
	Write(ctx, fasthttp.StatusGatewayTimeout, "Provider request timed out")
}

func writeEnvelope(ctx *fasthttp.RequestCtx, status int, detail json.RawMessage) {
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	body, _ := json.Marshal(envelope{Detail: detail})
	ctx.SetBody(body)
}
