// Package websub manages WebSub (PubSubHubbub) subscriptions: the hub
// client and the periodic lease-renewal loop.
package websub

import (
	"fmt"
	"net/http"
	"net/url"
	"time"

	"autowatch/internal/corerr"
)

// HubClient talks to the PubSubHubbub hub: a form-encoded POST carrying
// hub.callback/hub.topic/hub.mode/hub.lease_seconds.
type HubClient interface {
	Subscribe(channelID, callbackURL string, leaseSeconds int, secret string) error
	Unsubscribe(channelID, callbackURL string) error
}

// HTTPHubClient is the production HubClient.
type HTTPHubClient struct {
	hubURL string
	client *http.Client
}

func NewHTTPHubClient() *HTTPHubClient {
	return &HTTPHubClient{
		hubURL: "https://pubsubhubbub.appspot.com/subscribe",
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

func topicURL(channelID string) string {
	return fmt.Sprintf("https://www.youtube.com/xml/feeds/videos.xml?channel_id=%s", channelID)
}

func (c *HTTPHubClient) Subscribe(channelID, callbackURL string, leaseSeconds int, secret string) error {
	return c.request(channelID, callbackURL, "subscribe", leaseSeconds, secret)
}

func (c *HTTPHubClient) Unsubscribe(channelID, callbackURL string) error {
	return c.request(channelID, callbackURL, "unsubscribe", 0, "")
}

func (c *HTTPHubClient) request(channelID, callbackURL, mode string, leaseSeconds int, secret string) error {
	data := url.Values{}
	data.Set("hub.callback", callbackURL)
	data.Set("hub.topic", topicURL(channelID))
	data.Set("hub.mode", mode)
	data.Set("hub.verify", "async")
	if leaseSeconds > 0 {
		data.Set("hub.lease_seconds", fmt.Sprintf("%d", leaseSeconds))
	}
	if secret != "" {
		data.Set("hub.secret", secret)
	}

	resp, err := c.client.PostForm(c.hubURL, data)
	if err != nil {
		return corerr.AsTransient(fmt.Errorf("posting to hub: %w", err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusGone:
		return corerr.AsNotFound(fmt.Errorf("hub returned 410 for channel %s", channelID))
	case resp.StatusCode >= 500:
		return corerr.AsTransient(fmt.Errorf("hub returned status %d", resp.StatusCode))
	default:
		return corerr.AsMalformed(fmt.Errorf("hub returned status %d", resp.StatusCode))
	}
}
