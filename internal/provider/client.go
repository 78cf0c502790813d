package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const DefaultTimeout = 10 * time.Second

// NewClient builds a resty client for baseURL. Retries are left to callers.
func NewClient(baseURL string, timeout time.Duration) (*resty.Client, error) {
	return Configure(baseURL, resty.New(), timeout)
}

// Configure points an existing client at baseURL, keeping its transport.
func Configure(baseURL string, client *resty.Client, timeout time.Duration) (*resty.Client, error) {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("base url is required")
	}
	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	client.SetBaseURL(base)
	if client.GetClient().Timeout == 0 {
		client.SetTimeout(timeout)
	}
	client.SetRetryCount(0)
	client.SetHeader("Accept", "application/json")
	return client, nil
}

// Check turns a resty result into an APIError unless the call returned 2xx.
func Check(service string, resp *resty.Response, err error) error {
	if err != nil {
		return &APIError{
			Service:   service,
			Message:   "request failed",
			Transient: !errors.Is(err, context.Canceled),
			Cause:     err,
		}
	}
	if resp == nil {
		return &APIError{Service: service, Message: "empty response", Transient: true}
	}

	code := resp.StatusCode()
	if code >= http.StatusOK && code < http.StatusMultipleChoices {
		return nil
	}

	msg := fmt.Sprintf("returned status %d", code)
	if body := strings.TrimSpace(resp.String()); body != "" {
		msg = fmt.Sprintf("%s: %s", msg, body)
	}
	return &APIError{
		Service:    service,
		StatusCode: code,
		Message:    msg,
		Transient:  isTransientStatus(code),
	}
}
