package common

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"
)

// HTTPTestHelper wraps an http.Client pointed at the application under test
// with request logging through t.Logf.
type HTTPTestHelper struct {
	BaseURL string
	Client  *http.Client
	T       *testing.T
}

// NewHTTPTestHelper returns a helper bound to this environment's base URL.
func (env *TestEnvironment) NewHTTPTestHelper(t *testing.T) *HTTPTestHelper {
	return &HTTPTestHelper{
		BaseURL: env.GetBaseURL(),
		Client:  &http.Client{Timeout: 60 * time.Second},
		T:       t,
	}
}

func (h *HTTPTestHelper) do(method, path string, body io.Reader, contentType string) (*http.Response, error) {
	url := h.BaseURL + path
	h.T.Logf("%s %s", method, url)

	req, err := http.NewRequest(method, url, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return h.Client.Do(req)
}

// GET fetches a path relative to the base URL.
func (h *HTTPTestHelper) GET(path string) (*http.Response, error) {
	return h.do(http.MethodGet, path, nil, "")
}

// POST sends a JSON body to a path relative to the base URL.
func (h *HTTPTestHelper) POST(path string, body interface{}) (*http.Response, error) {
	if body == nil {
		return h.do(http.MethodPost, path, nil, "")
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}
	return h.do(http.MethodPost, path, bytes.NewReader(payload), "application/json")
}

// PostForm submits form values the way the application's HTML forms do.
func (h *HTTPTestHelper) PostForm(path string, values map[string][]string) (*http.Response, error) {
	h.T.Logf("POST (form) %s%s", h.BaseURL, path)
	return h.Client.PostForm(h.BaseURL+path, values)
}

// DELETE sends a DELETE to a path relative to the base URL.
func (h *HTTPTestHelper) DELETE(path string) (*http.Response, error) {
	return h.do(http.MethodDelete, path, nil, "")
}

// AssertStatusCode fails the test if the response status differs.
func (h *HTTPTestHelper) AssertStatusCode(resp *http.Response, expected int) {
	if resp.StatusCode != expected {
		h.T.Errorf("Expected status code %d, got %d", expected, resp.StatusCode)
	}
}

// ParseJSONResponse decodes the response body into target, logging the raw
// body for the test record.
func (h *HTTPTestHelper) ParseJSONResponse(resp *http.Response, target interface{}) error {
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	h.T.Logf("Response body: %s", string(body))

	if err := json.Unmarshal(body, target); err != nil {
		return fmt.Errorf("failed to parse JSON response: %w", err)
	}
	return nil
}
