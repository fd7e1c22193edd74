package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
)

// CLI holds the client configuration
type CLI struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

// APIError is a non-2xx answer from the ebox server. The server reports
// errors as {"status", "code", "error"}; health endpoints only carry status.
type APIError struct {
	StatusCode int    `json:"-"`
	Code       int    `json:"code"`
	Status     string `json:"status"`
	Detail     string `json:"error"`
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("ebox: HTTP %d", e.StatusCode)
	if e.Status != "" {
		msg += ": " + e.Status
	}
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	return msg
}

func parseAPIError(statusCode int, data []byte) *APIError {
	apiErr := &APIError{}
	if err := json.Unmarshal(data, apiErr); err != nil || apiErr.Status == "" {
		apiErr = &APIError{Status: string(bytes.TrimSpace(data))}
	}
	apiErr.StatusCode = statusCode
	if apiErr.Code == 0 {
		apiErr.Code = statusCode
	}
	return apiErr
}

// ---- HTTP Helpers ----

func (c *CLI) get(ctx context.Context, path string) ([]byte, error) {
	return c.request(ctx, http.MethodGet, path, nil)
}

func (c *CLI) post(ctx context.Context, path string, body interface{}) ([]byte, error) {
	return c.request(ctx, http.MethodPost, path, body)
}

func (c *CLI) request(ctx context.Context, method, path string, body interface{}) ([]byte, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		return nil, parseAPIError(resp.StatusCode, data)
	}

	return data, nil
}

// ---- Utility Functions ----

func prettyPrint(w io.Writer, data []byte) error {
	var obj interface{}
	if err := json.Unmarshal(data, &obj); err != nil {
		fmt.Fprintln(w, string(data))
		return nil
	}
	out, err := json.MarshalIndent(obj, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(w, string(out))
	return nil
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
