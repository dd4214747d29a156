package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/Sriram-PR/alt-text-gen/pkg/config"
	"github.com/Sriram-PR/alt-text-gen/pkg/utils"
)

// DefaultMaxRetries is the number of 429 retries when the caller passes a negative count
const DefaultMaxRetries = 3

// maxResponseBytes guards against unbounded provider responses
const maxResponseBytes = 8 << 20

var tryAgainRegex = regexp.MustCompile(`(?i)try again in\s+([0-9]*\.?[0-9]+)\s*(ms|s)\b`)

// Request is a provider call. The body is replayed on every attempt.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// Response is a fully read 2xx response
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// SleepFunc waits for d or until ctx is done
type SleepFunc func(ctx context.Context, d time.Duration) error

// Executor sends provider requests, retrying only on HTTP 429.
type Executor struct {
	client    *http.Client
	limiter   *rate.Limiter // nil = no client-side pacing
	baseDelay time.Duration
	maxDelay  time.Duration
	sleep     SleepFunc
	now       func() time.Time
	log       *logrus.Entry
}

// NewExecutor creates an Executor from the application config.
func NewExecutor(client *http.Client, cfg *config.AppConfig, log *logrus.Entry) *Executor {
	e := &Executor{
		client:    client,
		baseDelay: cfg.InitialRetryDelay,
		maxDelay:  cfg.MaxRetryDelay,
		sleep:     SleepContext,
		now:       time.Now,
		log:       log.WithField("component", "executor"),
	}
	if cfg.RequestsPerMinute > 0 {
		e.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 1)
	}
	return e
}

// WithSleep replaces the backoff wait. Used by tests to record delays instead of sleeping.
func (e *Executor) WithSleep(fn SleepFunc) *Executor {
	e.sleep = fn
	return e
}

// Execute performs req. 429 responses are retried up to maxRetries times using the server's
// suggested delay or exponential backoff. Any other status >= 400 is an API error; transport
// failures are returned without retry.
func (e *Executor) Execute(ctx context.Context, req Request, maxRetries int) (*Response, error) {
	if maxRetries < 0 {
		maxRetries = DefaultMaxRetries
	}
	reqLog := e.log.WithField("url", req.URL)

	var lastDelay time.Duration
	var lastMessage string

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if e.limiter != nil {
			if err := e.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		resp, err := e.do(ctx, req)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			reqLog.WithField("attempt", attempt).Warnf("Transport failure: %s", utils.RedactError(err))
			return nil, &utils.GenError{Kind: utils.KindTransport, Message: "request failed", Err: err}
		}

		switch {
		case resp.Status >= 200 && resp.Status < 300:
			return resp, nil

		case resp.Status == http.StatusTooManyRequests:
			lastMessage = ErrorMessage(resp.Body)
			delay, fromServer := RetryDelay(resp.Header, lastMessage, e.now())
			if !fromServer {
				delay = e.backoff(attempt)
			}
			lastDelay = delay
			if attempt == maxRetries {
				break
			}
			reqLog.WithFields(logrus.Fields{
				"attempt": attempt + 1, "max_retries": maxRetries, "delay": delay, "server_delay": fromServer,
			}).Warn("Rate limited, retrying...")
			if err := e.sleep(ctx, delay); err != nil {
				return nil, err
			}

		default:
			msg := ErrorMessage(resp.Body)
			if msg == "" {
				msg = http.StatusText(resp.Status)
			}
			reqLog.WithField("status_code", resp.Status).Warnf("Provider error: %s", utils.RedactSecrets(msg))
			return nil, &utils.GenError{
				Kind:    utils.KindAPIError,
				Status:  resp.Status,
				Message: utils.RedactSecrets(msg),
			}
		}
	}

	reqLog.Errorf("Rate limit retries exhausted after %d attempts", maxRetries+1)
	return nil, &utils.GenError{
		Kind:       utils.KindRateLimited,
		Status:     http.StatusTooManyRequests,
		RetryAfter: lastDelay,
		Message:    utils.RedactSecrets(fmt.Sprintf("rate limit exceeded after %d retries: %s", maxRetries, lastMessage)),
	}
}

// do performs one attempt and reads the whole body
func (e *Executor) do(ctx context.Context, req Request) (*Response, error) {
	method := req.Method
	if method == "" {
		method = http.MethodPost
	}
	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", utils.ErrRequestCreation, err)
	}
	for k, vals := range req.Header {
		for _, v := range vals {
			httpReq.Header.Add(k, v)
		}
	}

	httpResp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", utils.ErrResponseBodyRead, err)
	}
	return &Response{Status: httpResp.StatusCode, Header: httpResp.Header, Body: data}, nil
}

// backoff returns base * 2^attempt capped at maxDelay, with +/- 10% jitter
func (e *Executor) backoff(attempt int) time.Duration {
	base := e.baseDelay
	if base <= 0 {
		base = time.Second
	}
	delay := time.Duration(float64(base) * math.Pow(2, float64(attempt)))
	if e.maxDelay > 0 && (delay <= 0 || delay > e.maxDelay) {
		delay = e.maxDelay
	}
	if spread := int64(delay) / 5; spread > 0 {
		delay += time.Duration(rand.Int63n(spread)) - delay/10
	}
	return delay
}

// RetryDelay extracts the server-suggested wait from a 429 response.
// Order: retry-after-ms, retry-after (seconds or HTTP date), then "try again in Nms|Ns" in message.
// The bool is false when no hint was found.
func RetryDelay(h http.Header, message string, now time.Time) (time.Duration, bool) {
	if v := strings.TrimSpace(h.Get("retry-after-ms")); v != "" {
		if ms, err := strconv.ParseFloat(v, 64); err == nil && ms >= 0 {
			return time.Duration(ms * float64(time.Millisecond)), true
		}
	}
	if v := strings.TrimSpace(h.Get("retry-after")); v != "" {
		if secs, err := strconv.ParseFloat(v, 64); err == nil && secs >= 0 {
			return time.Duration(secs * float64(time.Second)), true
		}
		if at, err := http.ParseTime(v); err == nil {
			if d := at.Sub(now); d > 0 {
				return d, true
			}
			return 0, true
		}
	}
	if m := tryAgainRegex.FindStringSubmatch(message); m != nil {
		n, err := strconv.ParseFloat(m[1], 64)
		if err == nil {
			if strings.EqualFold(m[2], "ms") {
				return time.Duration(n * float64(time.Millisecond)), true
			}
			return time.Duration(n * float64(time.Second)), true
		}
	}
	return 0, false
}

// ErrorMessage pulls error.message out of a provider error envelope, falling back to a body snippet.
func ErrorMessage(body []byte) string {
	var envelope openai.ErrorResponse
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error != nil && envelope.Error.Message != "" {
		return envelope.Error.Message
	}
	return utils.SanitizePlainText(string(body))
}

// SleepContext waits for d, returning early with ctx.Err() when ctx is done.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
