package httpapi

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/lyzr/canvas-engine/internal/ratelimit"
)

// setRateLimitHeaders stamps the response with the rate-limit headers spec.md
// §6 requires on every webhook response, not only rejections.
func setRateLimitHeaders(c echo.Context, res *ratelimit.Result) {
	h := c.Response().Header()
	h.Set("X-RateLimit-Limit", strconv.FormatInt(res.Limit, 10))
	h.Set("X-RateLimit-Remaining", strconv.FormatInt(res.Remaining, 10))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(res.RetryAfterSeconds, 10))
}

// isInternalRequest reports whether a request carries the shared internal
// service secret, bypassing boundary rate limits (grounded on the teacher's
// common/middleware.isInternalRequest).
func isInternalRequest(c echo.Context, secret string) bool {
	if secret == "" {
		return false
	}
	return c.Request().Header.Get("X-Internal-Service") == secret
}

// GlobalRateLimitMiddleware enforces the global webhook-boundary bucket
// before the body is even parsed (spec §4.7 step 1). Fails open on a Redis
// error, same as the teacher's GlobalRateLimitMiddleware, since availability
// beats strict enforcement when the limiter itself is unreachable.
func GlobalRateLimitMiddleware(limiter *ratelimit.Limiter, limit int64, windowSec int, internalSecret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if limiter == nil || isInternalRequest(c, internalSecret) {
				return next(c)
			}
			res, err := limiter.CheckGlobal(c.Request().Context(), limit, windowSec)
			if err != nil {
				return next(c)
			}
			setRateLimitHeaders(c, res)
			if !res.Allowed {
				return tooManyRequests(c, res.Limit, res.RetryAfterSeconds)
			}
			return next(c)
		}
	}
}

// IPRateLimitMiddleware enforces a per-client-IP bucket at the webhook
// boundary (spec §4.7 step 1, "rate limit by client identifier").
func IPRateLimitMiddleware(limiter *ratelimit.Limiter, limit int64, windowSec int, internalSecret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if limiter == nil || isInternalRequest(c, internalSecret) {
				return next(c)
			}
			res, err := limiter.CheckIP(c.Request().Context(), c.RealIP(), limit, windowSec)
			if err != nil {
				return next(c)
			}
			setRateLimitHeaders(c, res)
			if !res.Allowed {
				return tooManyRequests(c, res.Limit, res.RetryAfterSeconds)
			}
			return next(c)
		}
	}
}

func tooManyRequests(c echo.Context, limit, retryAfter int64) error {
	return c.JSON(http.StatusTooManyRequests, map[string]interface{}{
		"error":   "rate_limited",
		"message": "rate limit exceeded",
		"details": map[string]interface{}{
			"limit":               limit,
			"retry_after_seconds": retryAfter,
		},
	})
}
