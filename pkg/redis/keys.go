package redis

import "strings"

const (
	keyNamespace   = "chataccess"
	dedupeSegment  = "dedupe"
	limiterSegment = "ratelimit"
)

// IdempotencyKey namespaces a processed-event marker, e.g.
// chataccess:dedupe:mail-worker:<event id>.
func (c *Client) IdempotencyKey(scope, id string) string {
	return joinKey(dedupeSegment, scope, id)
}

// RateLimitKey namespaces a fixed-window counter.
func (c *Client) RateLimitKey(scope string) string {
	return joinKey(limiterSegment, scope)
}

func joinKey(parts ...string) string {
	segments := make([]string, 0, len(parts)+1)
	segments = append(segments, keyNamespace)
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		segments = append(segments, part)
	}
	return strings.Join(segments, ":")
}
