// Package regsgov provides the regulations.gov v4 API client with retry,
// rate-limit detection, and shared request-budget gating.
package regsgov

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/aaravmat1209/public-comment-analysis/pkg/ratelimit"
)

// Prometheus metrics for API operations.
var (
	apiRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pca_api_requests_total",
		Help: "Total regulations.gov requests by endpoint and status",
	}, []string{"endpoint", "status"})

	apiRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pca_api_request_duration_seconds",
		Help:    "regulations.gov request duration in seconds by endpoint",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	}, []string{"endpoint"})

	apiErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pca_api_errors_total",
		Help: "Total regulations.gov errors by class",
	}, []string{"class"})
)

const defaultBaseURL = "https://api.regulations.gov/v4"

// MaxPageSize is the largest page[size] the comments endpoint accepts.
const MaxPageSize = 250

// MaxPagesPerQuery is the deepest page[number] one filter query can reach.
// Beyond this the caller must narrow the filter window (a new "set").
const MaxPagesPerQuery = 20

// markerAPILayout is the lastModifiedDate filter format the API requires.
const markerAPILayout = "2006-01-02 15:04:05"

// Client is the regulations.gov API client.
type Client struct {
	httpClient *http.Client
	limiter    *ratelimit.Tracker
	config     Config
	logger     zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// APIKey is the X-Api-Key credential (required).
	APIKey string

	// BaseURL overrides the production API root (tests).
	BaseURL string

	// UserAgent identifies the caller.
	UserAgent string

	// HTTPTimeout bounds a single HTTP exchange.
	HTTPTimeout time.Duration

	// Retry controls transient-error backoff.
	Retry RetryConfig

	// Limiter optionally gates requests against the shared budget state.
	Limiter *ratelimit.Tracker
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(apiKey string) Config {
	return Config{
		APIKey:      apiKey,
		BaseURL:     defaultBaseURL,
		UserAgent:   "public-comment-analysis/1.0",
		HTTPTimeout: 30 * time.Second,
		Retry:       DefaultRetryConfig(),
	}
}

// New creates a new regulations.gov client.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api key is required")
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}

	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 30 * time.Second
	}

	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = DefaultRetryConfig()
	}

	logger := log.With().Str("component", "regsgov-client").Logger()

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.HTTPTimeout,
		},
		limiter: cfg.Limiter,
		config:  cfg,
		logger:  logger,
	}, nil
}

// Page is one fetched page of comments with per-comment detail.
type Page struct {
	// Comments holds the fully detailed comment records fetched so far.
	Comments []Comment

	// Attachments holds attachment metadata for the fetched comments.
	Attachments []Attachment

	// ResumeMarker is the maximum lastModifiedDate observed across fetched
	// records. String comparison is ordering-correct for the API's ISO
	// timestamps. Empty when nothing was fetched.
	ResumeMarker string

	// RateLimited is true when the fetch stopped early on the rate limit.
	// The fetched records above are still valid and must be persisted.
	RateLimited bool
}

// FetchCommentsPage fetches one page of comments for an upstream object,
// including per-comment detail and attachment listings. A sinceMarker limits
// the query to records at or after that lastModifiedDate, so a resumed fetch
// never re-requests more than the bounded tail of a page.
//
// Rate limiting is not an error: the returned Page carries RateLimited=true
// with every record fetched before the signal.
func (c *Client) FetchCommentsPage(ctx context.Context, objectID string, pageNumber, pageSize int, sinceMarker string) (*Page, error) {
	query := url.Values{}
	query.Set("filter[commentOnId]", objectID)
	query.Set("page[size]", strconv.Itoa(pageSize))
	query.Set("page[number]", strconv.Itoa(pageNumber))
	// Stable sort keeps pagination consistent across requests.
	query.Set("sort", "lastModifiedDate,documentId")

	if sinceMarker != "" {
		if formatted := formatMarkerForAPI(sinceMarker); formatted != "" {
			query.Set("filter[lastModifiedDate][ge]", formatted)
			c.logger.Debug().
				Str("resume_marker", formatted).
				Int("page", pageNumber).
				Msg("Using lastModifiedDate filter")
		}
	}

	page := &Page{}

	var list listResponse
	if err := c.getJSON(ctx, "comments_list", "/comments", query, &list); err != nil {
		if classify(err) == ErrorClassRateLimit {
			// Nothing fetched yet; the whole page goes back to reprocessing.
			page.RateLimited = true
			return page, nil
		}
		return nil, fmt.Errorf("fetch comments page %d: %w", pageNumber, err)
	}

	for _, res := range list.Data {
		detailQuery := url.Values{}
		detailQuery.Set("include", "attachments")

		var detail detailResponse
		err := c.getJSON(ctx, "comment_detail", "/comments/"+res.ID, detailQuery, &detail)
		if err != nil {
			if classify(err) == ErrorClassRateLimit {
				c.logger.Warn().
					Int("page", pageNumber).
					Int("fetched", len(page.Comments)).
					Msg("Rate limit reached mid-page, truncating")
				page.RateLimited = true
				break
			}
			// A single bad detail record must not sink the page.
			c.logger.Warn().
				Err(err).
				Str("comment_id", res.ID).
				Msg("Skipping comment, detail fetch failed")
			continue
		}

		comment := commentFromResource(detail.Data)
		page.Comments = append(page.Comments, comment)

		for _, inc := range detail.Included {
			if att, ok := attachmentFromResource(inc, comment.CommentID, comment.CommentOnDocumentID); ok {
				page.Attachments = append(page.Attachments, att)
			}
		}

		if marker := res.Attributes.LastModifiedDate; marker != "" && marker > page.ResumeMarker {
			page.ResumeMarker = marker
		}
	}

	return page, nil
}

// getJSON performs a GET with budget gating, retry, and classification, then
// decodes the body into out.
func (c *Client) getJSON(ctx context.Context, endpointLabel, path string, query url.Values, out any) error {
	startTime := time.Now()
	defer func() {
		apiRequestDuration.WithLabelValues(endpointLabel).Observe(time.Since(startTime).Seconds())
	}()

	if c.limiter != nil {
		allowed, err := c.limiter.ShouldAllowRequest(ctx)
		if err != nil {
			return fmt.Errorf("rate limit check: %w", err)
		}
		if !allowed {
			apiRequestsTotal.WithLabelValues(endpointLabel, "budget_blocked").Inc()
			apiErrorsTotal.WithLabelValues(string(ErrorClassRateLimit)).Inc()
			return ErrRateLimited
		}
	}

	reqURL := c.config.BaseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	return retryWithBackoff(ctx, c.config.Retry, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("X-Api-Key", c.config.APIKey)
		req.Header.Set("Accept", "application/vnd.api+json")
		if c.config.UserAgent != "" {
			req.Header.Set("User-Agent", c.config.UserAgent)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			apiErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
			apiRequestsTotal.WithLabelValues(endpointLabel, "network_error").Inc()
			return &APIError{ErrorClass: ErrorClassNetwork, Message: "request failed", Err: err}
		}
		defer resp.Body.Close()

		if c.limiter != nil {
			if err := c.limiter.UpdateFromHeaders(ctx, resp.Header); err != nil {
				c.logger.Warn().Err(err).Msg("Failed to update rate limit state from headers")
			}
		}

		apiRequestsTotal.WithLabelValues(endpointLabel, strconv.Itoa(resp.StatusCode)).Inc()

		if resp.StatusCode == http.StatusTooManyRequests {
			apiErrorsTotal.WithLabelValues(string(ErrorClassRateLimit)).Inc()
			c.logger.Warn().
				Str("endpoint", endpointLabel).
				Msg("Rate limit reached")
			return ErrRateLimited
		}

		if resp.StatusCode >= 400 {
			errorClass := classifyStatus(resp.StatusCode)
			apiErrorsTotal.WithLabelValues(string(errorClass)).Inc()

			c.logger.Warn().
				Str("endpoint", endpointLabel).
				Int("status", resp.StatusCode).
				Str("error_class", string(errorClass)).
				Msg("Request error")

			return &APIError{
				StatusCode: resp.StatusCode,
				ErrorClass: errorClass,
				Message:    resp.Status,
			}
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			apiErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
			return &APIError{ErrorClass: ErrorClassNetwork, Message: "read body", Err: err}
		}

		if err := json.Unmarshal(body, out); err != nil {
			// A malformed body from a 200 is not transient.
			return &APIError{
				StatusCode: resp.StatusCode,
				ErrorClass: ErrorClassClient,
				Message:    "decode response",
				Err:        err,
			}
		}

		return nil
	})
}

// classifyStatus categorizes an HTTP status for handling and observability.
func classifyStatus(status int) ErrorClass {
	switch {
	case status == http.StatusTooManyRequests:
		return ErrorClassRateLimit
	case status >= 400 && status < 500:
		return ErrorClassClient
	case status >= 500:
		return ErrorClassServer
	default:
		return ""
	}
}

// formatMarkerForAPI converts an ISO marker ("2006-01-02T15:04:05Z") into the
// filter format the API requires. Returns "" when the marker does not parse.
func formatMarkerForAPI(marker string) string {
	t, err := time.Parse("2006-01-02T15:04:05Z", marker)
	if err != nil {
		log.Warn().Str("resume_marker", marker).Msg("Unparseable resume marker, ignoring filter")
		return ""
	}
	return t.Format(markerAPILayout)
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}
