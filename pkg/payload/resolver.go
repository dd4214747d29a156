// Package payload turns an image asset into something the generation API can look at:
// a remote URL, an inline data URI, or nothing at all.
package payload

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/alt-text-gen/pkg/config"
	"github.com/Sriram-PR/alt-text-gen/pkg/fetch"
	"github.com/Sriram-PR/alt-text-gen/pkg/models"
	"github.com/Sriram-PR/alt-text-gen/pkg/utils"
)

// imageAccessRegex matches provider error text that blames the image reference rather than the request
var imageAccessRegex = regexp.MustCompile(`(?i)download|\b403\b|\b404\b|timeout|timed out|invalid image|unsupported image|could not process image|image url|image_url`)

// RobotsPolicy decides whether the provider's fetcher may read a URL
type RobotsPolicy interface {
	Allowed(ctx context.Context, target *url.URL, agent string) bool
}

// Attempt is one strategy in priority order. Resolve is called lazily by the orchestrator.
type Attempt struct {
	Kind    models.StrategyKind
	Resolve func(ctx context.Context) (string, error)
}

// Resolver builds strategy lists for assets
type Resolver struct {
	cfg           config.PayloadConfig
	robots        RobotsPolicy // nil skips the robots check
	loaders       []Loader
	imagePatterns []*regexp.Regexp
	log           *logrus.Entry
}

// NewResolver creates a Resolver with the standard loader chain: filesystem, HTTP, raw socket.
func NewResolver(cfg config.PayloadConfig, client *http.Client, rateLimiter *fetch.RateLimiter, robots RobotsPolicy, log *logrus.Entry) *Resolver {
	// Patterns were compiled once during config validation; errors here are impossible
	patterns, _ := utils.CompileRegexPatterns(cfg.ImageErrorPatterns)
	log = log.WithField("component", "payload")
	return &Resolver{
		cfg:    cfg,
		robots: robots,
		loaders: []Loader{
			&FileLoader{},
			&HTTPLoader{client: client, rateLimiter: rateLimiter, userAgent: cfg.UserAgent, delay: cfg.DelayPerHost},
			&SocketLoader{userAgent: cfg.UserAgent, timeout: cfg.SocketTimeout},
		},
		imagePatterns: patterns,
		log:           log,
	}
}

// WithLoaders replaces the byte loader chain
func (r *Resolver) WithLoaders(loaders ...Loader) *Resolver {
	r.loaders = loaders
	return r
}

// Strategies returns the ordered attempts for asset: remote-url, inline-base64, omitted.
// Image strategies are only offered when the generation config includes images.
func (r *Resolver) Strategies(asset *models.ImageAsset, gen config.GenerationConfig) []Attempt {
	var attempts []Attempt
	if gen.ImageIsIncluded() {
		if asset.URL != "" {
			attempts = append(attempts, Attempt{
				Kind:    models.StrategyRemoteURL,
				Resolve: func(ctx context.Context) (string, error) { return r.remoteURL(ctx, asset) },
			})
		}
		if asset.FilePath != "" || asset.URL != "" {
			attempts = append(attempts, Attempt{
				Kind:    models.StrategyInlineBase64,
				Resolve: func(ctx context.Context) (string, error) { return r.inline(ctx, asset) },
			})
		}
	}
	attempts = append(attempts, Attempt{
		Kind:    models.StrategyOmitted,
		Resolve: func(context.Context) (string, error) { return "", nil },
	})
	return attempts
}

// IsImageAccessFailure reports whether err is a provider error blaming the image reference,
// meaning the next strategy is worth trying.
func (r *Resolver) IsImageAccessFailure(err error) bool {
	ge, ok := utils.AsGenError(err)
	if !ok || ge.Kind != utils.KindAPIError {
		return false
	}
	if imageAccessRegex.MatchString(ge.Message) {
		return true
	}
	return utils.MatchesAny(ge.Message, r.imagePatterns)
}

// remoteURL validates that the provider can plausibly fetch the asset's URL itself
func (r *Resolver) remoteURL(ctx context.Context, asset *models.ImageAsset) (string, error) {
	u, err := url.Parse(asset.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", &utils.GenError{Kind: utils.KindImageUnavailable, Message: "asset URL is not an absolute http(s) URL"}
	}
	if !IsPublicHost(u.Hostname()) {
		return "", &utils.GenError{Kind: utils.KindImageUnavailable, Message: "asset host " + u.Hostname() + " is not publicly reachable"}
	}
	if r.robots != nil && r.cfg.RobotsAreRespected() && !r.robots.Allowed(ctx, u, r.cfg.ProviderAgent) {
		return "", &utils.GenError{Kind: utils.KindImageUnavailable, Message: "robots.txt disallows " + r.cfg.ProviderAgent}
	}
	return u.String(), nil
}

// inline loads the bytes through the loader chain and encodes them as a data URI
func (r *Resolver) inline(ctx context.Context, asset *models.ImageAsset) (string, error) {
	limit := r.readLimit()
	var errs []error
	for _, loader := range r.loaders {
		data, err := loader.Load(ctx, asset, limit)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			if errors.Is(err, errNotApplicable) {
				continue
			}
			r.log.WithFields(logrus.Fields{"asset_id": asset.ID, "loader": loader.Name()}).Debugf("Loader failed: %v", err)
			errs = append(errs, err)
			continue
		}
		return r.encode(asset, data)
	}
	if len(errs) == 0 {
		return "", &utils.GenError{Kind: utils.KindImageUnavailable, Message: "asset has no byte source"}
	}
	return "", &utils.GenError{Kind: utils.KindImageUnavailable, Message: "all loaders failed", Err: errors.Join(errs...)}
}

// readLimit is one byte over the cap so oversize files are detected without reading them whole,
// unless downscaling needs the complete image.
func (r *Resolver) readLimit() int64 {
	if r.cfg.DownscaleOversize {
		return maxDownloadBytes
	}
	return r.cfg.MaxImageBytes + 1
}

// IsPublicHost rejects loopback, private, link-local and reserved development hostnames.
func IsPublicHost(host string) bool {
	h := strings.ToLower(strings.TrimSuffix(host, "."))
	if h == "" || h == "localhost" {
		return false
	}
	for _, suffix := range []string{".localhost", ".local", ".test", ".internal", ".invalid", ".example"} {
		if strings.HasSuffix(h, suffix) {
			return false
		}
	}
	if ip := net.ParseIP(h); ip != nil {
		return !(ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() ||
			ip.IsLinkLocalMulticast() || ip.IsUnspecified())
	}
	return true
}
