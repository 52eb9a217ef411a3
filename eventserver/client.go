package eventserver

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
)

// Host name used in the URLs. The requests always go to the socket.
const socketBaseURL = "http://leasekeeper"

// Default timeout of the event delivery.
const defaultRequestTimeout = 10 * time.Second

// REST client posting the helper events to the daemon over the unix
// socket.
type Client struct {
	innerClient *resty.Client
}

// Creates the client connecting to the socket.
func NewClient(socketPath string) *Client {
	if socketPath == "" {
		socketPath = DefaultSocketPath
	}
	dialer := &net.Dialer{}
	transport := &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			return dialer.DialContext(ctx, "unix", socketPath)
		},
	}
	innerClient := resty.New().
		SetTransport(transport).
		SetBaseURL(socketBaseURL).
		SetTimeout(defaultRequestTimeout)
	return &Client{innerClient: innerClient}
}

// Sets custom timeout of the requests.
func (c *Client) SetRequestTimeout(timeout time.Duration) {
	c.innerClient.SetTimeout(timeout)
}

// Posts the event. The daemon acknowledges the event with the no content
// status.
func (c *Client) SendEvent(ctx context.Context, event *Event) error {
	if err := event.Validate(); err != nil {
		return err
	}
	response, err := c.innerClient.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(event).
		Post(EventsPath)
	if err != nil {
		return errors.Wrap(err, "cannot send the event to the daemon")
	}
	if response.StatusCode() != http.StatusNoContent {
		return errors.Errorf("daemon rejected the event with status %d: %s",
			response.StatusCode(), strings.TrimSpace(response.String()))
	}
	return nil
}
