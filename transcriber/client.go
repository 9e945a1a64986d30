package transcriber

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"earshot/log"
	"earshot/upload"
)

const fallbackMessage = "Failed to transcribe audio"

// ServerError is a failed transcription request. Message is safe to show
// to the user.
type ServerError struct {
	Status  int
	Message string
	Err     error
}

func (e *ServerError) Error() string { return e.Message }
func (e *ServerError) Unwrap() error { return e.Err }

// Client posts files to the transcription route.
type Client struct {
	endpoint string
	http     *http.Client
}

func NewClient(endpoint string, timeout time.Duration) *Client {
	return &Client{endpoint: endpoint, http: newHTTPClient(timeout)}
}

func (c *Client) Endpoint() string { return c.endpoint }

// Warm pre-connects to the endpoint's host.
func (c *Client) Warm() {
	if d := warmConn(c.http, c.endpoint); d > 0 {
		log.Debugf("client: warmed %s in %dms", c.endpoint, d.Milliseconds())
	}
}

type transcriptionResponse struct {
	Text string `json:"text"`
}

// Submit uploads cand as the single "file" field and returns the
// transcript text.
func (c *Client) Submit(ctx context.Context, cand upload.Candidate) (string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, cand.Name))
	header.Set("Content-Type", cand.MIMEType)
	part, err := writer.CreatePart(header)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(cand.Data); err != nil {
		return "", err
	}
	if err := writer.Close(); err != nil {
		return "", err
	}

	var trace uploadTrace
	req, err := http.NewRequestWithContext(trace.attach(ctx), http.MethodPost, c.endpoint, &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		log.Submission(log.SubmissionData{File: cand.Name, SizeKB: float64(len(cand.Data)) / 1024, TotalMs: ms(trace.Total()), ErrMessage: err.Error()})
		return "", &ServerError{Message: fallbackMessage, Err: err}
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &ServerError{Status: resp.StatusCode, Message: fallbackMessage, Err: err}
	}
	log.Submission(log.SubmissionData{
		File:      cand.Name,
		SizeKB:    float64(len(cand.Data)) / 1024,
		Status:    resp.StatusCode,
		RequestID: requestID(resp.Header),
		Reused:    trace.Reused,
		ConnectMs: ms(trace.Connect),
		UploadMs:  ms(trace.Upload),
		TTFBMs:    ms(trace.TTFB),
		TotalMs:   ms(trace.Total()),
	})

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &ServerError{Status: resp.StatusCode, Message: errorMessage(respBody)}
	}

	var tr transcriptionResponse
	if err := json.Unmarshal(respBody, &tr); err != nil {
		return "", &ServerError{Status: resp.StatusCode, Message: fallbackMessage, Err: err}
	}
	return tr.Text, nil
}

// errorMessage accepts {"error":{"message":"..."}} and {"error":"..."}.
func errorMessage(body []byte) string {
	var envelope struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || len(envelope.Error) == 0 {
		return fallbackMessage
	}

	var nested struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(envelope.Error, &nested); err == nil && strings.TrimSpace(nested.Message) != "" {
		return nested.Message
	}
	var flat string
	if err := json.Unmarshal(envelope.Error, &flat); err == nil && strings.TrimSpace(flat) != "" {
		return flat
	}
	return fallbackMessage
}

func ms(d time.Duration) float64 { return float64(d.Microseconds()) / 1000 }
