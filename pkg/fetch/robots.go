package fetch

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/temoto/robotstxt"
)

// maxRobotsBytes caps how much of a robots.txt file is read
const maxRobotsBytes = 512 << 10

// RobotsChecker answers whether an agent may fetch a URL, caching robots.txt per origin.
// Any failure to obtain or parse robots.txt allows the fetch.
type RobotsChecker struct {
	client      *http.Client
	rateLimiter *RateLimiter
	userAgent   string
	delay       time.Duration
	cache       map[string]*robotstxt.RobotsData // scheme://host -> parsed data (nil on failure)
	cacheMu     sync.Mutex
	log         *logrus.Entry
}

// NewRobotsChecker creates a RobotsChecker. userAgent identifies this tool when fetching robots.txt.
func NewRobotsChecker(client *http.Client, rateLimiter *RateLimiter, userAgent string, delay time.Duration, log *logrus.Entry) *RobotsChecker {
	return &RobotsChecker{
		client:      client,
		rateLimiter: rateLimiter,
		userAgent:   userAgent,
		delay:       delay,
		cache:       make(map[string]*robotstxt.RobotsData),
		log:         log.WithField("component", "robots"),
	}
}

// Allowed reports whether agent may fetch target according to the origin's robots.txt
func (rc *RobotsChecker) Allowed(ctx context.Context, target *url.URL, agent string) bool {
	data := rc.robotsData(ctx, target)
	if data == nil {
		return true
	}
	return data.TestAgent(target.RequestURI(), agent)
}

func (rc *RobotsChecker) robotsData(ctx context.Context, target *url.URL) *robotstxt.RobotsData {
	scheme := target.Scheme
	if scheme != "http" && scheme != "https" {
		scheme = "https"
	}
	origin := scheme + "://" + target.Host

	rc.cacheMu.Lock()
	data, found := rc.cache[origin]
	rc.cacheMu.Unlock()
	if found {
		return data
	}

	data = rc.fetch(ctx, origin, target.Hostname())

	rc.cacheMu.Lock()
	rc.cache[origin] = data
	rc.cacheMu.Unlock()
	return data
}

func (rc *RobotsChecker) fetch(ctx context.Context, origin, host string) *robotstxt.RobotsData {
	robotsURL := origin + "/robots.txt"
	robotsLog := rc.log.WithField("robots_url", robotsURL)

	if rc.rateLimiter != nil {
		rc.rateLimiter.ApplyDelay(ctx, host, rc.delay)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		robotsLog.Warnf("Error creating request: %v", err)
		return nil
	}
	req.Header.Set("User-Agent", rc.userAgent)

	resp, err := rc.client.Do(req)
	if rc.rateLimiter != nil {
		rc.rateLimiter.UpdateLastRequestTime(host)
	}
	if err != nil {
		robotsLog.Debugf("Fetching robots.txt failed: %v", err)
		return nil
	}
	defer resp.Body.Close()

	// 5xx would make robotstxt disallow everything; treat it as unknown instead
	if resp.StatusCode >= 500 {
		robotsLog.Debugf("robots.txt returned %d, allowing", resp.StatusCode)
		return nil
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRobotsBytes))
	if err != nil {
		robotsLog.Debugf("Error reading body: %v", err)
		return nil
	}
	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		robotsLog.Debugf("Error parsing robots.txt: %v", err)
		return nil
	}
	robotsLog.Debug("Fetched and parsed robots.txt")
	return data
}
