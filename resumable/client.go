// Package resumable implements the client side of the chunked resumable
// upload protocol used to relay finished artifacts to remote storage.
package resumable

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
)

const (
	// ProtocolVersion is sent on every request in the Protocol-Resumable header
	ProtocolVersion = "1.0.0"

	// DefaultChunkSize is the PATCH body size
	DefaultChunkSize int64 = 5 << 20

	HeaderProtocol  = "Protocol-Resumable"
	HeaderLength    = "Upload-Length"
	HeaderOffset    = "Upload-Offset"
	HeaderMetadata  = "Upload-Metadata"
	ContentTypeBody = "application/offset+octet-stream"

	selfTestSize = 1024
)

// Result describes a finished upload
type Result struct {
	Location string
	Size     int64
	Chunks   int
}

// ProgressFunc receives telemetry after each acknowledged chunk. A non-nil
// return aborts the upload with that error.
type ProgressFunc func(Progress) error

// Client uploads files to a resumable-upload endpoint
type Client struct {
	HTTPClient *http.Client
	ChunkSize  int64

	now func() time.Time
}

// session is the transient protocol state of one upload
type session struct {
	location string
	total    int64
	offset   int64
	body     io.ReaderAt
}

// NewClient creates a client with the default chunk size
func NewClient(httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Minute}
	}
	return &Client{
		HTTPClient: httpClient,
		ChunkSize:  DefaultChunkSize,
		now:        time.Now,
	}
}

// Upload streams the file at path to endpoint under the given remote filename
func (c *Client) Upload(ctx context.Context, endpoint, path, filename string, onProgress ProgressFunc) (*Result, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open artifact: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat artifact: %w", err)
	}

	return c.upload(ctx, endpoint, file, info.Size(), filename, onProgress)
}

// SelfTest runs create plus one chunk with a small zero-filled buffer to
// validate an endpoint, then tries to delete the synthetic object.
func (c *Client) SelfTest(ctx context.Context, endpoint string) (*Result, error) {
	name := fmt.Sprintf("fetchrelay-selftest-%s.bin", uuid.New().String())
	data := make([]byte, selfTestSize)

	result, err := c.upload(ctx, endpoint, bytes.NewReader(data), int64(len(data)), name, nil)
	if err != nil {
		return nil, err
	}

	// DELETE support is optional on the server
	if err := c.remove(ctx, result.Location); err != nil {
		log.Printf("Self-test cleanup of %s skipped: %v", result.Location, err)
	}
	return result, nil
}

func (c *Client) upload(ctx context.Context, endpoint string, body io.ReaderAt, total int64, filename string, onProgress ProgressFunc) (*Result, error) {
	location, err := c.create(ctx, endpoint, total, filename)
	if err != nil {
		return nil, err
	}

	s := &session{
		location: location,
		total:    total,
		body:     body,
	}

	chunkSize := c.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	buf := make([]byte, chunkSize)
	chunks := 0

	for s.offset < s.total {
		n := chunkSize
		if remaining := s.total - s.offset; remaining < n {
			n = remaining
		}

		read, err := s.body.ReadAt(buf[:n], s.offset)
		if int64(read) < n {
			if err == nil {
				err = io.ErrUnexpectedEOF
			}
			return nil, fmt.Errorf("failed to read chunk at offset %d: %w", s.offset, err)
		}

		started := c.clock()
		next, err := c.patch(ctx, s, buf[:n])
		if err != nil {
			return nil, err
		}
		elapsed := c.clock().Sub(started)

		s.offset = next
		chunks++

		if onProgress != nil {
			if err := onProgress(newProgress(s.offset, s.total, n, elapsed)); err != nil {
				return nil, err
			}
		}
	}

	return &Result{Location: s.location, Size: s.total, Chunks: chunks}, nil
}

func (c *Client) create(ctx context.Context, endpoint string, total int64, filename string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("invalid upload endpoint: %w", err)
	}
	req.Header.Set(HeaderProtocol, ProtocolVersion)
	req.Header.Set(HeaderLength, strconv.FormatInt(total, 10))
	req.Header.Set(HeaderMetadata, "filename "+base64.StdEncoding.EncodeToString([]byte(filename)))

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload create request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return "", newProtocolError("create", resp, "")
	}

	location := resp.Header.Get("Location")
	if location == "" {
		return "", newProtocolError("create", resp, "missing Location header")
	}

	resolved, err := resolveLocation(endpoint, location)
	if err != nil {
		return "", &ProtocolError{Op: "create", StatusCode: resp.StatusCode, Reason: err.Error()}
	}
	return resolved, nil
}

func (c *Client) patch(ctx context.Context, s *session, chunk []byte) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, s.location, bytes.NewReader(chunk))
	if err != nil {
		return 0, fmt.Errorf("invalid session location: %w", err)
	}
	req.Header.Set(HeaderProtocol, ProtocolVersion)
	req.Header.Set(HeaderOffset, strconv.FormatInt(s.offset, 10))
	req.Header.Set("Content-Type", ContentTypeBody)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("upload chunk at offset %d failed: %w", s.offset, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return 0, newProtocolError("patch", resp, "")
	}
	io.Copy(io.Discard, resp.Body)

	next := s.offset + int64(len(chunk))
	if echoed := resp.Header.Get(HeaderOffset); echoed != "" {
		v, err := strconv.ParseInt(echoed, 10, 64)
		if err != nil {
			return 0, &ProtocolError{Op: "patch", StatusCode: resp.StatusCode, Reason: "malformed Upload-Offset " + strconv.Quote(echoed)}
		}
		next = v
	}

	if next <= s.offset || next > s.total {
		return 0, &ProtocolError{
			Op:         "patch",
			StatusCode: resp.StatusCode,
			Reason:     fmt.Sprintf("server acknowledged offset %d after sending from %d of %d", next, s.offset, s.total),
		}
	}
	return next, nil
}

func (c *Client) remove(ctx context.Context, location string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, location, nil)
	if err != nil {
		return err
	}
	req.Header.Set(HeaderProtocol, ProtocolVersion)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return newProtocolError("delete", resp, "")
	}
	return nil
}

func (c *Client) clock() time.Time {
	if c.now == nil {
		return time.Now()
	}
	return c.now()
}

// resolveLocation makes a session location absolute against the endpoint.
// An http location from an https endpoint is upgraded to https.
func resolveLocation(endpoint, location string) (string, error) {
	base, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid endpoint %q: %w", endpoint, err)
	}
	ref, err := url.Parse(location)
	if err != nil {
		return "", fmt.Errorf("invalid Location %q: %w", location, err)
	}

	resolved := base.ResolveReference(ref)
	if base.Scheme == "https" && resolved.Scheme == "http" {
		resolved.Scheme = "https"
	}
	return resolved.String(), nil
}
