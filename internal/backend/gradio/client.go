package gradio

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/kiranshivaraju/gatekeeper/internal/backend"
	"github.com/kiranshivaraju/gatekeeper/internal/config"
)

// Sentinel errors for Gradio transport failures.
var (
	ErrBackendUnreachable = errors.New("gradio backend unreachable")
	ErrBackendQuery       = errors.New("gradio backend query error")
	ErrBackendTimeout     = errors.New("gradio backend timeout")
)

// AppError is an error reported by the Gradio app itself through the
// event stream. Its message is the app's message unchanged.
type AppError struct {
	Message string
}

func (e *AppError) Error() string { return e.Message }

// Client implements backend.Backend against a Gradio app's HTTP API.
type Client struct {
	baseURL     string
	prefix      string
	apiName     string
	downloadDir string
	client      *http.Client
}

// NewClient creates a Gradio client. A zero cfg.Timeout leaves requests
// without a deadline.
func NewClient(cfg config.GradioConfig) *Client {
	prefix := strings.TrimRight(cfg.APIPrefix, "/")
	if prefix != "" && !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		prefix:      prefix,
		apiName:     strings.Trim(cfg.APIName, "/"),
		downloadDir: cfg.DownloadDir,
		client:      &http.Client{Timeout: cfg.Timeout},
	}
}

func (c *Client) Name() string { return "gradio" }

// Infer uploads the media files, calls the inference endpoint and waits for
// its result. The produced video is downloaded into the download directory
// and reported as the output's temporary location.
func (c *Client) Infer(ctx context.Context, req backend.Request) (backend.Response, error) {
	audio, err := c.upload(ctx, req.AudioPath)
	if err != nil {
		return backend.Response{}, err
	}
	video, err := c.upload(ctx, req.VideoPath)
	if err != nil {
		return backend.Response{}, err
	}

	eventID, err := c.call(ctx, callRequest{Data: []any{
		audio,
		videoInput{Video: video},
		req.BBoxShift,
		req.ExtraMargin,
		req.ParsingMode,
		req.LeftCheekWidth,
		req.RightCheekWidth,
	}})
	if err != nil {
		return backend.Response{}, err
	}

	outputs, err := c.await(ctx, eventID)
	if err != nil {
		return backend.Response{}, err
	}
	if len(outputs) == 0 {
		return backend.Response{}, nil
	}

	fd, ok := videoFile(outputs[0])
	if !ok {
		return backend.Response{Outputs: []backend.Output{{}}}, nil
	}
	local, err := c.fetch(ctx, fd)
	if err != nil {
		return backend.Response{}, err
	}
	return backend.Response{Outputs: []backend.Output{{Video: local}}}, nil
}

// Ready checks that the Gradio app answers its info endpoint.
func (c *Client) Ready(ctx context.Context) error {
	u := c.endpoint("/info")

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: gradio not ready (status %d)", ErrBackendUnreachable, resp.StatusCode)
	}
	return nil
}

// upload sends a local file to the app and returns the reference the app
// expects in place of the file.
func (c *Client) upload(ctx context.Context, path string) (fileData, error) {
	f, err := os.Open(path)
	if err != nil {
		return fileData{}, err
	}
	defer f.Close()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		part, err := mw.CreateFormFile("files", filepath.Base(path))
		if err == nil {
			_, err = io.Copy(part, f)
		}
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/upload"), pr)
	if err != nil {
		pr.CloseWithError(err)
		return fileData{}, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.client.Do(httpReq)
	if err != nil {
		pr.CloseWithError(err)
		return fileData{}, classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fileData{}, fmt.Errorf("%w: upload status %d", ErrBackendQuery, resp.StatusCode)
	}

	var paths []string
	if err := json.NewDecoder(resp.Body).Decode(&paths); err != nil {
		return fileData{}, fmt.Errorf("decoding upload response: %w", err)
	}
	if len(paths) == 0 {
		return fileData{}, fmt.Errorf("%w: upload returned no paths", ErrBackendQuery)
	}

	return newFileData(paths[0], filepath.Base(path)), nil
}

// call queues a prediction and returns its event id.
func (c *Client) call(ctx context.Context, body callRequest) (string, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("encoding call request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/call/"+c.apiName), bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: call status %d", ErrBackendQuery, resp.StatusCode)
	}

	var cr callResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return "", fmt.Errorf("decoding call response: %w", err)
	}
	if cr.EventID == "" {
		return "", fmt.Errorf("%w: call returned no event id", ErrBackendQuery)
	}
	return cr.EventID, nil
}

// await reads the event stream for eventID until the prediction completes.
func (c *Client) await(ctx context.Context, eventID string) ([]json.RawMessage, error) {
	u := c.endpoint("/call/" + c.apiName + "/" + url.PathEscape(eventID))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: stream status %d", ErrBackendQuery, resp.StatusCode)
	}

	var outputs []json.RawMessage
	err = readEvents(resp.Body, func(ev event) (bool, error) {
		switch ev.Name {
		case "complete":
			if err := json.Unmarshal([]byte(ev.Data), &outputs); err != nil {
				return true, fmt.Errorf("decoding prediction output: %w", err)
			}
			return true, nil
		case "error":
			return true, &AppError{Message: appErrorMessage(ev.Data)}
		default:
			return false, nil
		}
	})
	if err != nil {
		var appErr *AppError
		if errors.As(err, &appErr) {
			return nil, err
		}
		if errors.Is(err, errStreamEnded) {
			return nil, fmt.Errorf("%w: %v", ErrBackendQuery, err)
		}
		return nil, classifyError(err)
	}
	return outputs, nil
}

// fetch makes the produced file available locally. Files the app exposes by
// URL are downloaded into the download directory; a bare path is assumed to
// be on this host already.
func (c *Client) fetch(ctx context.Context, fd fileData) (string, error) {
	if fd.URL == "" {
		return fd.Path, nil
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.absolute(fd.URL), nil)
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: download status %d", ErrBackendQuery, resp.StatusCode)
	}

	name := fd.OrigName
	if name == "" {
		name = filepath.Base(fd.Path)
	}
	out, err := os.CreateTemp(c.downloadDir, "gradio-*"+filepath.Ext(name))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		os.Remove(out.Name())
		return "", classifyError(err)
	}
	if err := out.Close(); err != nil {
		os.Remove(out.Name())
		return "", err
	}
	return out.Name(), nil
}

func (c *Client) endpoint(path string) string {
	return c.baseURL + c.prefix + path
}

func (c *Client) absolute(u string) string {
	if strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://") {
		return u
	}
	return c.baseURL + "/" + strings.TrimLeft(u, "/")
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrBackendTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrBackendTimeout, err)
	}

	return fmt.Errorf("%w: %v", ErrBackendUnreachable, err)
}

// Compile-time check that Client implements backend.Backend.
var _ backend.Backend = (*Client)(nil)
