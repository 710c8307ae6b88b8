package egress

import (
	"net/http"
	"strconv"

	"github.com/greentic-ai/messaging-gateway/internal/gatewayerr"
)

// transportError classifies a network-level send failure as retryable,
// per spec §4.9's normative retryable classification (transport errors).
func transportError(code string, err error) *gatewayerr.Error {
	return gatewayerr.Transient(code, err.Error(), 0)
}

// terminalPlatformError classifies a platform-reported application error
// (not an HTTP status) as terminal and non-retryable.
func terminalPlatformError(platform, code string) *gatewayerr.Error {
	return gatewayerr.Terminal(platform+"_"+code, "platform rejected message: "+code)
}

// withRetryAfter parses a Retry-After header (seconds) into BackoffMS, per
// spec §4.9's "backoff_ms parsed from Retry-After" hint.
func withRetryAfter(err *gatewayerr.Error, resp *http.Response) *gatewayerr.Error {
	if err == nil || resp == nil {
		return err
	}
	if raw := resp.Header.Get("Retry-After"); raw != "" {
		if secs, parseErr := strconv.Atoi(raw); parseErr == nil {
			err.BackoffMS = int64(secs) * 1000
		}
	}
	return err
}
