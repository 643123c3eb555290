package pubsub

import (
	"fmt"
	"strings"
)

const (
	topicsCollection        = "topics"
	subscriptionsCollection = "subscriptions"
)

// resourceName expands a short ID into projects/<project>/<collection>/<id>.
// Names that are already fully qualified are returned unchanged.
func (c *Client) resourceName(collection, name string) string {
	if c == nil {
		return ""
	}
	n := strings.TrimSpace(name)
	if n == "" {
		return ""
	}
	if strings.HasPrefix(n, "projects/") && strings.Contains(n, "/"+collection+"/") {
		return n
	}
	if c.projectID == "" {
		return ""
	}
	return fmt.Sprintf("projects/%s/%s/%s", c.projectID, collection, n)
}
