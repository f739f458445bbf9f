// Package recognize submits a still image to the face recognition service.
package recognize

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"time"

	"github.com/pkg/errors"
)

const (
	formField = "file"
	fileName  = "blink_capture.jpg"

	// error bodies are only read for their detail message
	maxErrorBody = 64 << 10
)

// Result is the decoded answer of the recognition service.
type Result struct {
	Status     string  `json:"status"`
	Match      bool    `json:"match"`
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
	Message    string  `json:"message,omitempty"`

	HTTPStatus int `json:"-"`
}

// Recognized reports whether the service identified a known person.
func (r *Result) Recognized() bool {
	return r.HTTPStatus >= 200 && r.HTTPStatus < 300 && r.Status == "success" && r.Match
}

type Client struct {
	url     string
	timeout time.Duration
	http    *http.Client
}

// New returns a client posting to endpoint, e.g. http://127.0.0.1:8000/recognize.
// A positive timeout bounds each request.
func New(endpoint string, timeout time.Duration) *Client {
	return &Client{
		url:     endpoint,
		timeout: timeout,
		http:    &http.Client{},
	}
}

// Recognize uploads one JPEG image.
// A non-2xx answer is returned as a Result with HTTPStatus set and a nil error.
// Transport failures and undecodable 2xx bodies are errors.
func (c *Client) Recognize(ctx context.Context, jpeg []byte) (*Result, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	body, contentType, err := formBody(jpeg)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, body)
	if err != nil {
		return nil, errors.Wrap(err, "could not create request")
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "could not send request")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		res := &Result{HTTPStatus: resp.StatusCode, Message: errorDetail(resp.Body)}
		return res, nil
	}

	res := &Result{}
	if err := json.NewDecoder(resp.Body).Decode(res); err != nil {
		return nil, errors.Wrap(err, "could not decode response")
	}
	res.HTTPStatus = resp.StatusCode
	return res, nil
}

func formBody(jpeg []byte) (io.Reader, string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="`+formField+`"; filename="`+fileName+`"`)
	h.Set("Content-Type", "image/jpeg")
	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, "", errors.Wrap(err, "could not create form file")
	}
	if _, err := part.Write(jpeg); err != nil {
		return nil, "", errors.Wrap(err, "could not write image")
	}
	if err := writer.Close(); err != nil {
		return nil, "", errors.Wrap(err, "could not close writer")
	}
	return &body, writer.FormDataContentType(), nil
}

// errorDetail pulls the message out of a FastAPI style {"detail": ...} body.
func errorDetail(r io.Reader) string {
	var payload struct {
		Detail  string `json:"detail"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(io.LimitReader(r, maxErrorBody)).Decode(&payload); err != nil {
		return ""
	}
	if payload.Detail != "" {
		return payload.Detail
	}
	return payload.Message
}

// Health is the answer of the service root.
type Health struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Version string `json:"version"`
}

// Health queries the root of the host serving the recognize endpoint.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	u, err := url.Parse(c.url)
	if err != nil {
		return nil, errors.Wrap(err, "invalid recognize url")
	}
	u.Path = "/"
	u.RawQuery = ""

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "could not create request")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "could not send request")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("health check failed with status %d", resp.StatusCode)
	}

	h := &Health{}
	if err := json.NewDecoder(resp.Body).Decode(h); err != nil {
		return nil, errors.Wrap(err, "could not decode health response")
	}
	return h, nil
}
