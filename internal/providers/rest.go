package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
)

// HTTPError is a non-2xx answer from a provider REST API.
type HTTPError struct {
	StatusCode int
	Body       []byte
}

func (e *HTTPError) Error() string {
	body := string(e.Body)
	if len(body) > 200 {
		body = body[:200]
	}
	return fmt.Sprintf("provider returned %d: %s", e.StatusCode, body)
}

// restClient is a small JSON client over fiber's fasthttp Agent.
type restClient struct {
	baseURL string
	headers map[string]string
}

func newRESTClient(baseURL string, headers map[string]string) *restClient {
	return &restClient{baseURL: strings.TrimRight(baseURL, "/"), headers: headers}
}

// do sends in as JSON (when non-nil) and decodes a 2xx body into out (when
// non-nil). The context deadline becomes the request timeout.
func (c *restClient) do(ctx context.Context, method, path string, in, out interface{}, extra map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	a := fiber.AcquireAgent()
	req := a.Request()
	req.Header.SetMethod(method)
	req.SetRequestURI(c.baseURL + path)
	if err := a.Parse(); err != nil {
		fiber.ReleaseAgent(a)
		return fmt.Errorf("parse request: %w", err)
	}

	for k, v := range c.headers {
		a.Set(k, v)
	}
	for k, v := range extra {
		a.Set(k, v)
	}
	a.Set(fiber.HeaderAccept, fiber.MIMEApplicationJSON)
	if in != nil {
		a.JSON(in)
	}

	deadline, hasDeadline := ctx.Deadline()
	if hasDeadline {
		a.Timeout(time.Until(deadline))
	}

	// Bytes releases the agent.
	code, body, errs := a.Bytes()
	if len(errs) > 0 {
		if hasDeadline && !time.Now().Before(deadline) {
			return context.DeadlineExceeded
		}
		return fmt.Errorf("%s %s: %w", method, path, errs[0])
	}
	if code < 200 || code >= 300 {
		return &HTTPError{StatusCode: code, Body: body}
	}
	if out != nil && len(body) > 0 {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decode %s response: %w", path, err)
		}
	}
	return nil
}
