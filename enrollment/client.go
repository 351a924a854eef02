package enrollment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/kioskops/provisioning-agent/api"
	"github.com/kioskops/provisioning-agent/metrics"
)

// Default polling parameters for AwaitApproval.
const (
	DefaultApprovalTimeout = 300 * time.Second
	DefaultPollInterval    = 30 * time.Second
)

var (
	// ErrRecordNotFound means the service has no enrollment record for the
	// fingerprint. Distinct from rejection; the polling loop treats it like
	// pending.
	ErrRecordNotFound = errors.New("enrollment record not found")

	// ErrRejected means an administrator rejected the enrollment. Terminal.
	ErrRejected = errors.New("enrollment rejected")

	// ErrCredentialMissing means the service reported approved but carried
	// no credential. Terminal, because polling again cannot heal it.
	ErrCredentialMissing = errors.New("approved enrollment carried no credential")

	// ErrApprovalTimeout means the polling loop exhausted its wall-clock
	// budget without a terminal answer.
	ErrApprovalTimeout = errors.New("timed out waiting for enrollment approval")
)

// RequestError is a non-2xx response from the approval service.
type RequestError struct {
	StatusCode int
	Body       string
}

// Error returns a description including the HTTP status.
func (e *RequestError) Error() string {
	return fmt.Sprintf("approval service returned %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether the response class permits a retry: rate
// limiting and server errors do, client errors do not.
func (e *RequestError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Retryable classifies an error from Submit or PollStatus. Transport
// failures (timeouts, refused connections) are retryable; HTTP client errors
// and a missing record are not.
func Retryable(err error) bool {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr.Retryable()
	}
	if errors.Is(err, ErrRecordNotFound) {
		return false
	}
	return err != nil
}

// Client talks to a remote approval service over HTTP.
type Client struct {
	// ServerAddr is the base URL of the approval service.
	ServerAddr string

	httpClient *http.Client
	log        *slog.Logger
}

// NewClient creates an approval service client.
func NewClient(serverAddr string, log *slog.Logger) *Client {
	return &Client{
		ServerAddr: serverAddr,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		log:        log,
	}
}

// Submit registers the fingerprint with the approval service. A service that
// already holds an approved record for the fingerprint answers approved with
// the credential immediately; otherwise the response is pending.
func (c *Client) Submit(ctx context.Context, req *api.RegisterRequest) (*api.EnrollmentResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("could not encode registration request: %w", err)
	}

	url := fmt.Sprintf("%s/api/enrollment/register", c.ServerAddr)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("could not request registration endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.requestError(resp)
	}

	var parsed api.EnrollmentResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("could not parse registration response: %w", err)
	}
	return &parsed, nil
}

// SubmitWithRetry wraps Submit in bounded exponential backoff over the
// retryable error classes (rate limiting, server errors, transport
// failures). Client errors abort immediately.
func (c *Client) SubmitWithRetry(ctx context.Context, req *api.RegisterRequest, maxElapsed time.Duration) (*api.EnrollmentResponse, error) {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = maxElapsed

	return backoff.RetryWithData(func() (*api.EnrollmentResponse, error) {
		resp, err := c.Submit(ctx, req)
		if err != nil {
			if !Retryable(err) {
				return nil, backoff.Permanent(err)
			}
			c.log.Warn("Enrollment submission failed, will retry", "err", err)
			return nil, err
		}
		return resp, nil
	}, backoff.WithContext(bo, ctx))
}

// PollStatus performs one status read for the fingerprint. A 404 maps to
// ErrRecordNotFound.
func (c *Client) PollStatus(ctx context.Context, fingerprint string) (*api.EnrollmentResponse, error) {
	url := fmt.Sprintf("%s/api/enrollment/status/%s", c.ServerAddr, fingerprint)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("could not request status endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrRecordNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, c.requestError(resp)
	}

	var parsed api.EnrollmentResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("could not parse status response: %w", err)
	}
	return &parsed, nil
}

// AwaitApproval polls the fingerprint's status until approval, rejection, or
// the wall-clock timeout. On approval it returns the credential. Rejection
// returns ErrRejected wrapping the administrator's reason; an approved record
// without a credential returns ErrCredentialMissing. Transport and server
// errors are logged and do not end the loop; an expired or missing record
// keeps the loop polling.
//
// The inter-poll sleep is the loop's only suspension point and observes ctx,
// so an abandoned caller leaks no timer beyond the current interval.
func (c *Client) AwaitApproval(ctx context.Context, fingerprint string, totalTimeout, pollInterval time.Duration) (string, error) {
	deadline := time.Now().Add(totalTimeout)

	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		metrics.EnrollmentPolls.Inc()
		record, err := c.PollStatus(ctx, fingerprint)
		switch {
		case err == nil:
			switch record.Status {
			case api.EnrollmentApproved:
				if record.Credential == "" {
					c.log.Error("Approval service anomaly: approved without credential", "fingerprint", fingerprint)
					return "", ErrCredentialMissing
				}
				return record.Credential, nil
			case api.EnrollmentRejected:
				return "", fmt.Errorf("%w: %s", ErrRejected, record.Reason)
			case api.EnrollmentExpired:
				c.log.Info("Enrollment request expired, continuing to poll", "fingerprint", fingerprint)
			case api.EnrollmentPending:
				c.log.Debug("Enrollment still pending", "fingerprint", fingerprint)
			default:
				c.log.Warn("Unknown enrollment status, continuing to poll", "status", string(record.Status))
			}
		case errors.Is(err, ErrRecordNotFound):
			c.log.Debug("Enrollment record not found yet", "fingerprint", fingerprint)
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return "", err
		default:
			metrics.EnrollmentPollErrors.Inc()
			c.log.Warn("Enrollment status poll failed, continuing", "err", err)
		}

		// Never sleep past the deadline.
		wait := pollInterval
		if remaining := time.Until(deadline); wait > remaining {
			wait = remaining
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", ctx.Err()
		case <-timer.C:
		}
	}

	return "", ErrApprovalTimeout
}

func (c *Client) requestError(resp *http.Response) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		body = nil
	}
	return &RequestError{StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(body))}
}
