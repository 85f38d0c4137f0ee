package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/bazari-settlement/pkg/config"
	"github.com/angelmondragon/bazari-settlement/pkg/logger"
)

// Mode selects which settlement resource a client depends on.
type Mode int

const (
	// ModePublish is used by the outbox publisher; the settlement topic must exist.
	ModePublish Mode = iota
	// ModeSubscribe is used by the hooks worker; the settlement subscription must exist.
	ModeSubscribe
)

func (m Mode) String() string {
	if m == ModeSubscribe {
		return "subscribe"
	}
	return "publish"
}

// Client wraps the Pub/Sub v2 client. Publisher handles are cached per topic
// and flushed on Close.
type Client struct {
	client    *pubsub.Client
	projectID string
	cfg       config.PubSubConfig
	mode      Mode

	mu         sync.Mutex
	publishers map[string]*pubsub.Publisher
}

var (
	errProjectIDRequired = errors.New("gcp project id is required")
	errNotInitialized    = errors.New("pubsub client not initialized")
)

// NewClient connects to Pub/Sub and verifies the resource mode depends on.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.PubSubConfig, mode Mode, logg *logger.Logger) (*Client, error) {
	if strings.TrimSpace(gcp.ProjectID) == "" {
		return nil, errProjectIDRequired
	}
	psClient, err := pubsub.NewClient(ctx, gcp.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	c := &Client{
		client:     psClient,
		projectID:  gcp.ProjectID,
		cfg:        cfg,
		mode:       mode,
		publishers: map[string]*pubsub.Publisher{},
	}
	if err := c.Ping(ctx); err != nil {
		_ = psClient.Close()
		return nil, err
	}
	if logg != nil {
		logg.Info(logg.WithFields(ctx, map[string]any{
			"pubsub_mode": mode.String(),
			"project_id":  gcp.ProjectID,
		}), "pubsub client initialized")
	}
	return c, nil
}

// Ping checks that the settlement topic (publish) or subscription (subscribe)
// exists.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.client == nil {
		return errNotInitialized
	}
	if c.mode == ModeSubscribe {
		return c.checkSubscription(ctx, c.cfg.SettlementSubscription)
	}
	return c.checkTopic(ctx, c.cfg.SettlementTopic)
}

func (c *Client) checkTopic(ctx context.Context, name string) error {
	fullName := ResourceName(c.projectID, "topics", name)
	if fullName == "" {
		return errors.New("settlement topic is not configured")
	}
	_, err := c.client.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{Topic: fullName})
	return lookupError("topic", name, err)
}

func (c *Client) checkSubscription(ctx context.Context, name string) error {
	fullName := ResourceName(c.projectID, "subscriptions", name)
	if fullName == "" {
		return errors.New("settlement subscription is not configured")
	}
	_, err := c.client.SubscriptionAdminClient.GetSubscription(ctx, &pubsubpb.GetSubscriptionRequest{Subscription: fullName})
	return lookupError("subscription", name, err)
}

func lookupError(kind, name string, err error) error {
	switch {
	case err == nil:
		return nil
	case status.Code(err) == codes.NotFound:
		return fmt.Errorf("%s %q does not exist", kind, name)
	default:
		return fmt.Errorf("checking %s %q: %w", kind, name, err)
	}
}

// SettlementSubscription returns the subscriber used by the hooks worker.
func (c *Client) SettlementSubscription() *pubsub.Subscriber {
	if c == nil || c.client == nil {
		return nil
	}
	fullName := ResourceName(c.projectID, "subscriptions", c.cfg.SettlementSubscription)
	if fullName == "" {
		return nil
	}
	return c.client.Subscriber(fullName)
}

// Publisher returns the cached publisher for a topic ID or resource name.
func (c *Client) Publisher(name string) *pubsub.Publisher {
	if c == nil || c.client == nil {
		return nil
	}
	fullName := ResourceName(c.projectID, "topics", name)
	if fullName == "" {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if pub, ok := c.publishers[fullName]; ok {
		return pub
	}
	pub := c.client.Publisher(fullName)
	c.publishers[fullName] = pub
	return pub
}

// Close flushes cached publishers and releases the client.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	c.mu.Lock()
	for name, pub := range c.publishers {
		pub.Stop()
		delete(c.publishers, name)
	}
	c.mu.Unlock()
	return c.client.Close()
}

// ResourceName expands a short topic or subscription ID into its full resource
// path. kind is "topics" or "subscriptions"; full paths pass through.
func ResourceName(projectID, kind, name string) string {
	n := strings.TrimSpace(name)
	if n == "" {
		return ""
	}
	if strings.HasPrefix(n, "projects/") && strings.Contains(n, "/"+kind+"/") {
		return n
	}
	p := strings.TrimSpace(projectID)
	if p == "" {
		return ""
	}
	return fmt.Sprintf("projects/%s/%s/%s", p, kind, n)
}
