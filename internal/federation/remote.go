package federation

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/avast/retry-go/v4"
)

const registerTimeout = 10 * time.Second

// RemoteClient is the remote-role half of federation: it registers this
// host with an HQ on startup, retries with backoff if the HQ rejects the
// registration, and deregisters on graceful shutdown.
type RemoteClient struct {
	hqURL  string
	id     string
	name   string
	token  string
	client *http.Client
}

// NewRemoteClient constructs a client for registering id/name with hqURL
// using token for authentication, per spec.md §4.9's remote role.
func NewRemoteClient(hqURL, id, name, token string) *RemoteClient {
	return &RemoteClient{
		hqURL:  hqURL,
		id:     id,
		name:   name,
		token:  token,
		client: &http.Client{Timeout: registerTimeout},
	}
}

type registerBody struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	BaseURL string `json:"baseUrl"`
	Token   string `json:"token"`
}

// Register POSTs this remote's registration to the HQ, retrying with
// exponential backoff capped at 60s on failure.
func (c *RemoteClient) Register(ctx context.Context, selfBaseURL string) error {
	return retry.Do(
		func() error { return c.registerOnce(ctx, selfBaseURL) },
		retry.Context(ctx),
		retry.Attempts(0), // unlimited: keep retrying until ctx is cancelled
		retry.Delay(time.Second),
		retry.MaxDelay(60*time.Second),
		retry.DelayType(retry.BackOffDelay),
		retry.OnRetry(func(n uint, err error) {
			slog.Warn("[federation] HQ registration attempt failed, retrying", "attempt", n, "error", err)
		}),
	)
}

func (c *RemoteClient) registerOnce(ctx context.Context, selfBaseURL string) error {
	body, err := json.Marshal(registerBody{ID: c.id, Name: c.name, BaseURL: selfBaseURL, Token: c.token})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.hqURL+"/api/remotes/register", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return apiStatusError(resp.StatusCode)
	}
	return nil
}

// Unregister DELETEs this remote's registration from the HQ on graceful
// shutdown.
func (c *RemoteClient) Unregister(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.hqURL+"/api/remotes/"+c.id, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return nil
}

type statusError int

func (e statusError) Error() string {
	return http.StatusText(int(e))
}

func apiStatusError(code int) error { return statusError(code) }
