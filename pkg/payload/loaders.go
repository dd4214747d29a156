package payload

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/Sriram-PR/alt-text-gen/pkg/fetch"
	"github.com/Sriram-PR/alt-text-gen/pkg/models"
	"github.com/Sriram-PR/alt-text-gen/pkg/utils"
)

// maxDownloadBytes bounds reads when oversize images may be downscaled
const maxDownloadBytes = 32 << 20

// errNotApplicable means the loader has nothing to work with for this asset
var errNotApplicable = errors.New("loader not applicable")

// Loader reads an asset's bytes, stopping after limit bytes
type Loader interface {
	Name() string
	Load(ctx context.Context, asset *models.ImageAsset, limit int64) ([]byte, error)
}

// FileLoader reads FilePath from the local filesystem
type FileLoader struct{}

func (FileLoader) Name() string { return "file" }

func (FileLoader) Load(_ context.Context, asset *models.ImageAsset, limit int64) ([]byte, error) {
	if asset.FilePath == "" {
		return nil, errNotApplicable
	}
	f, err := os.Open(asset.FilePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", utils.ErrFilesystem, err)
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, limit))
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %w", utils.ErrFilesystem, asset.FilePath, err)
	}
	return data, nil
}

// HTTPLoader downloads the asset URL with a descriptive User-Agent and per-host spacing
type HTTPLoader struct {
	client      *http.Client
	rateLimiter *fetch.RateLimiter
	userAgent   string
	delay       time.Duration
}

func (l *HTTPLoader) Name() string { return "http" }

func (l *HTTPLoader) Load(ctx context.Context, asset *models.ImageAsset, limit int64) ([]byte, error) {
	if asset.URL == "" || l.client == nil {
		return nil, errNotApplicable
	}
	u, err := url.Parse(asset.URL)
	if err != nil {
		return nil, err
	}
	if l.rateLimiter != nil {
		l.rateLimiter.ApplyDelay(ctx, u.Hostname(), l.delay)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, asset.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", utils.ErrRequestCreation, err)
	}
	req.Header.Set("User-Agent", l.userAgent)
	req.Header.Set("Accept", "image/*")

	resp, err := l.client.Do(req)
	if l.rateLimiter != nil {
		l.rateLimiter.UpdateLastRequestTime(u.Hostname())
	}
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return readImageResponse(resp, limit)
}

// SocketLoader is the last resort: a hand-written HTTP/1.1 GET over a plain TCP or TLS connection.
// It sidesteps proxies and client-level transport settings that sometimes break the HTTP loader.
type SocketLoader struct {
	userAgent string
	timeout   time.Duration
}

func (l *SocketLoader) Name() string { return "socket" }

func (l *SocketLoader) Load(ctx context.Context, asset *models.ImageAsset, limit int64) ([]byte, error) {
	if asset.URL == "" {
		return nil, errNotApplicable
	}
	u, err := url.Parse(asset.URL)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	timeout := l.timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	addr := u.Host
	if u.Port() == "" {
		if u.Scheme == "https" {
			addr = net.JoinHostPort(u.Hostname(), "443")
		} else {
			addr = net.JoinHostPort(u.Hostname(), "80")
		}
	}

	var conn net.Conn
	dialer := &net.Dialer{Timeout: timeout}
	if u.Scheme == "https" {
		tlsDialer := &tls.Dialer{NetDialer: dialer, Config: &tls.Config{ServerName: u.Hostname()}}
		conn, err = tlsDialer.DialContext(ctx, "tcp", addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	request := fmt.Sprintf("GET %s HTTP/1.1\r\nHost: %s\r\nUser-Agent: %s\r\nAccept: image/*\r\nConnection: close\r\n\r\n",
		u.RequestURI(), u.Host, l.userAgent)
	if _, err := io.WriteString(conn, request); err != nil {
		return nil, err
	}

	resp, err := http.ReadResponse(bufio.NewReader(conn), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return readImageResponse(resp, limit)
}

func readImageResponse(resp *http.Response, limit int64) ([]byte, error) {
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("image download returned status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", utils.ErrResponseBodyRead, err)
	}
	if len(data) == 0 {
		return nil, errors.New("image download returned an empty body")
	}
	return data, nil
}
