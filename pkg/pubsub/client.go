package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/chataccess/pkg/config"
	"github.com/angelmondragon/chataccess/pkg/logger"
)

var (
	errProjectIDRequired = errors.New("gcp project id is required")
	errNothingRequired   = errors.New("pubsub client needs at least one topic or subscription")
	errNotInitialized    = errors.New("pubsub client not initialized")
)

// Requirements lists the resources a process depends on. They are checked at
// startup and on every Ping so a missing topic or subscription fails fast.
type Requirements struct {
	Topics        []string
	Subscriptions []string
}

// PublisherRequirements covers the outbox relay, which only writes to the mail topic.
func PublisherRequirements(cfg config.PubSubConfig) Requirements {
	return Requirements{Topics: []string{cfg.MailTopic}}
}

// MailWorkerRequirements covers the mail worker, which only reads the mail subscription.
func MailWorkerRequirements(cfg config.PubSubConfig) Requirements {
	return Requirements{Subscriptions: []string{cfg.MailSubscription}}
}

// Client wraps a Pub/Sub v2 client bound to one project.
type Client struct {
	client    *gcppubsub.Client
	projectID string
	needs     Requirements
}

// NewClient dials Pub/Sub and verifies every required resource exists.
func NewClient(ctx context.Context, gcp config.GCPConfig, needs Requirements, logg *logger.Logger) (*Client, error) {
	projectID := strings.TrimSpace(gcp.ProjectID)
	if projectID == "" {
		return nil, errProjectIDRequired
	}
	needs = needs.normalized()
	if len(needs.Topics) == 0 && len(needs.Subscriptions) == 0 {
		return nil, errNothingRequired
	}

	raw, err := gcppubsub.NewClient(ctx, projectID, clientOptions(gcp)...)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}
	c := &Client{client: raw, projectID: projectID, needs: needs}
	if err := c.Ping(ctx); err != nil {
		_ = raw.Close()
		return nil, err
	}

	if logg != nil {
		logg.Info(logg.WithFields(ctx, map[string]any{
			"gcp_project":   projectID,
			"topics":        needs.Topics,
			"subscriptions": needs.Subscriptions,
		}), "pubsub client initialized")
	}
	return c, nil
}

// clientOptions prefers inline credentials over a key file. With neither set
// the client falls back to application default credentials or the emulator.
func clientOptions(gcp config.GCPConfig) []option.ClientOption {
	var opts []option.ClientOption
	switch {
	case strings.TrimSpace(gcp.CredentialsJSON) != "":
		opts = append(opts, option.WithCredentialsJSON([]byte(gcp.CredentialsJSON)))
	case strings.TrimSpace(gcp.ApplicationCredentials) != "":
		opts = append(opts, option.WithCredentialsFile(strings.TrimSpace(gcp.ApplicationCredentials)))
	}
	return opts
}

func (r Requirements) normalized() Requirements {
	return Requirements{Topics: compact(r.Topics), Subscriptions: compact(r.Subscriptions)}
}

func compact(names []string) []string {
	out := make([]string, 0, len(names))
	for _, name := range names {
		if trimmed := strings.TrimSpace(name); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// Ping confirms every required topic and subscription still exists.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.client == nil {
		return errNotInitialized
	}
	for _, topic := range c.needs.Topics {
		_, err := c.client.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{
			Topic: c.resourceName(topicsCollection, topic),
		})
		if err := classify("topic", topic, err); err != nil {
			return err
		}
	}
	for _, sub := range c.needs.Subscriptions {
		_, err := c.client.SubscriptionAdminClient.GetSubscription(ctx, &pubsubpb.GetSubscriptionRequest{
			Subscription: c.resourceName(subscriptionsCollection, sub),
		})
		if err := classify("subscription", sub, err); err != nil {
			return err
		}
	}
	return nil
}

func classify(kind, name string, err error) error {
	switch {
	case err == nil:
		return nil
	case status.Code(err) == codes.NotFound:
		return fmt.Errorf("%s %q does not exist", kind, name)
	default:
		return fmt.Errorf("checking %s %q: %w", kind, name, err)
	}
}

// Subscriber returns a receive handle for a subscription ID or full resource name.
func (c *Client) Subscriber(name string) *gcppubsub.Subscriber {
	if c == nil || c.client == nil {
		return nil
	}
	full := c.resourceName(subscriptionsCollection, name)
	if full == "" {
		return nil
	}
	return c.client.Subscriber(full)
}

// Publisher returns a publish handle for a topic ID or full resource name.
func (c *Client) Publisher(name string) *gcppubsub.Publisher {
	if c == nil || c.client == nil {
		return nil
	}
	full := c.resourceName(topicsCollection, name)
	if full == "" {
		return nil
	}
	return c.client.Publisher(full)
}

// Close releases the underlying gRPC connections.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}
