package amber

import (
	"net/http"
	"strings"
	"time"

	"AmberPull/internal/domain/models"
	"AmberPull/pkg/util"

	"github.com/dunglas/httpsfv"
)

const (
	headerLimit     = "ratelimit-limit"
	headerRemaining = "ratelimit-remaining"
	headerReset     = "ratelimit-reset"
	headerPolicy    = "ratelimit-policy"
	headerDate      = "date"
)

// ParseRateLimitHeaders reads the IETF RateLimit headers, e.g.
// ratelimit-policy: 50;w=300. Header names match case-insensitively.
// ratelimit-limit, when present, overrides the policy quota. The Date
// header anchors ResetAt; now is used without it. Missing or malformed
// policy, remaining, or reset values yield ok=false.
func ParseRateLimitHeaders(h http.Header, now time.Time) (models.RateLimitInfo, bool) {
	policy, ok := headerValue(h, headerPolicy)
	if !ok {
		return models.RateLimitInfo{}, false
	}
	quota, window, ok := parsePolicy(policy)
	if !ok {
		return models.RateLimitInfo{}, false
	}

	remaining, ok := nonNegative(h, headerRemaining)
	if !ok {
		return models.RateLimitInfo{}, false
	}
	reset, ok := nonNegative(h, headerReset)
	if !ok {
		return models.RateLimitInfo{}, false
	}
	if limit, ok := nonNegative(h, headerLimit); ok {
		quota = limit
	}

	anchor := now
	if d, ok := headerValue(h, headerDate); ok {
		if t, ok := util.ParseHTTPDate(d); ok {
			anchor = t
		}
	}

	return models.RateLimitInfo{
		Limit:         quota,
		Remaining:     remaining,
		ResetSeconds:  reset,
		WindowSeconds: window,
		Policy:        policy,
		ResetAt:       anchor.Add(time.Duration(reset) * time.Second),
	}, true
}

// parsePolicy reads the first member of the structured-field policy list:
// an integer item carrying an integer "w" parameter.
func parsePolicy(policy string) (quota, window int, ok bool) {
	list, err := httpsfv.UnmarshalList([]string{policy})
	if err != nil || len(list) == 0 {
		return 0, 0, false
	}
	item, isItem := list[0].(httpsfv.Item)
	if !isItem {
		return 0, 0, false
	}
	q, isInt := item.Value.(int64)
	if !isInt || q < 0 {
		return 0, 0, false
	}
	if item.Params == nil {
		return 0, 0, false
	}
	wv, found := item.Params.Get("w")
	if !found {
		return 0, 0, false
	}
	w, isInt := wv.(int64)
	if !isInt || w < 0 {
		return 0, 0, false
	}
	return int(q), int(w), true
}

func nonNegative(h http.Header, name string) (int, bool) {
	raw, ok := headerValue(h, name)
	if !ok {
		return 0, false
	}
	v, ok := util.ParseInt(raw)
	if !ok || v < 0 {
		return 0, false
	}
	return v, true
}

func headerValue(h http.Header, name string) (string, bool) {
	for k, vs := range h {
		if strings.EqualFold(k, name) && len(vs) > 0 {
			v := strings.TrimSpace(vs[0])
			return v, v != ""
		}
	}
	return "", false
}
