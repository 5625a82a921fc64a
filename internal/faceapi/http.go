package faceapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/kozaktomas/facelink/internal/apperr"
)

// errorBody is the error document the service returns on failure.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Field   string `json:"field"`
}

// readErrorBody reads the response body for error messages.
func readErrorBody(r io.Reader) string {
	body, err := io.ReadAll(io.LimitReader(r, 64<<10))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(body))
}

// errorFromResponse converts a non-2xx response into a transport error.
// The message comes from the error body when present, else from the status.
func errorFromResponse(resp *http.Response) error {
	raw := readErrorBody(resp.Body)
	msg := fmt.Sprintf("request failed with status %d", resp.StatusCode)

	var body errorBody
	field := ""
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &body); err == nil {
			field = body.Field
			switch {
			case body.Message != "":
				msg = body.Message
			case body.Error != "":
				msg = body.Error
			}
		} else {
			msg = fmt.Sprintf("%s: %s", msg, raw)
		}
	}

	e := apperr.Transport(apperr.ClassForStatus(resp.StatusCode), resp.StatusCode, msg, nil)
	e.Field = field
	return e
}

// networkError wraps a failure to obtain any response.
func networkError(err error) error {
	msg := err.Error()
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Err != nil {
		msg = urlErr.Err.Error()
	}
	return apperr.Transport(apperr.ClassNetwork, 0, msg, err)
}

// send performs req and returns the response if its status is 2xx.
func (c *Client) send(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := c.httpClient.Do(req) //nolint:gosec // URL constructed from validated parsedURL via resolveURL
	if err != nil {
		c.logger.Debug("request failed",
			slog.String("method", req.Method), slog.String("url", req.URL.String()), slog.Any("error", err))
		return nil, networkError(err)
	}
	c.logger.Debug("request done",
		slog.String("method", req.Method),
		slog.String("url", req.URL.String()),
		slog.Int("status", resp.StatusCode),
		slog.Duration("elapsed", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, errorFromResponse(resp)
	}
	return resp, nil
}

// decodeJSON reads resp and unmarshals it into a new T.
func decodeJSON[T any](c *Client, endpoint string, resp *http.Response) (*T, error) {
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, networkError(fmt.Errorf("could not read response body: %w", err))
	}

	c.captureResponse(endpoint, body)

	var result T
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, apperr.Transport(apperr.ClassServer, resp.StatusCode,
			"could not decode response", fmt.Errorf("could not unmarshal response: %w", err))
	}
	return &result, nil
}

// doGetJSON performs a GET request and unmarshals the JSON response into the result type.
func doGetJSON[T any](ctx context.Context, c *Client, endpoint string) (*T, error) {
	return doRequestJSON[T](ctx, c, http.MethodGet, endpoint, nil)
}

// doPostJSON performs a POST request with a JSON body and unmarshals the JSON response.
func doPostJSON[T any](ctx context.Context, c *Client, endpoint string, requestBody any) (*T, error) {
	return doRequestJSON[T](ctx, c, http.MethodPost, endpoint, requestBody)
}

// doRequestJSON performs an HTTP request with an optional JSON body and a JSON response.
func doRequestJSON[T any](ctx context.Context, c *Client, method, endpoint string, requestBody any) (*T, error) {
	var bodyReader io.Reader
	if requestBody != nil {
		jsonBody, err := json.Marshal(requestBody)
		if err != nil {
			return nil, fmt.Errorf("could not marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.resolveURL(endpoint), bodyReader)
	if err != nil {
		return nil, fmt.Errorf("could not create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if requestBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.send(req)
	if err != nil {
		return nil, err
	}
	return decodeJSON[T](c, endpoint, resp)
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// doPostMultipart uploads file as the multipart "file" field and unmarshals the JSON response.
func doPostMultipart[T any](ctx context.Context, c *Client, endpoint string, file File) (*T, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition",
		fmt.Sprintf(`form-data; name="file"; filename="%s"`, quoteEscaper.Replace(file.Name)))
	contentType := file.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	header.Set("Content-Type", contentType)

	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, fmt.Errorf("could not create form file: %w", err)
	}
	if _, err := part.Write(file.Data); err != nil {
		return nil, fmt.Errorf("could not copy file data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("could not close writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.resolveURL(endpoint), &body)
	if err != nil {
		return nil, fmt.Errorf("could not create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.send(req)
	if err != nil {
		return nil, err
	}
	return decodeJSON[T](c, endpoint, resp)
}

// doGetRaw performs a GET request and returns the raw response body.
func doGetRaw(ctx context.Context, c *Client, endpoint string) (*Blob, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.resolveURL(endpoint), nil)
	if err != nil {
		return nil, fmt.Errorf("could not create request: %w", err)
	}

	resp, err := c.send(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, networkError(fmt.Errorf("could not read response body: %w", err))
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	return &Blob{ContentType: contentType, Data: data}, nil
}
