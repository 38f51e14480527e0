package hibiki

import (
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Option configures a Manager.
type Option func(*resolvedOptions)

// resolvedOptions holds all overrides after applying defaults.
// Unexported — callers use the With* functions.
type resolvedOptions struct {
	logger           *slog.Logger
	version          string
	endpoint         string
	publicKey        string
	secretKey        string
	httpClient       *http.Client
	batchSize        int
	flushInterval    time.Duration
	maxRetries       int // -1 means "use config"
	breakerThreshold int
	breakerReset     time.Duration
	queueCapacity    int
	disabled         bool
	consoleWriter    io.Writer
	consoleSet       bool
	backends         []Backend
}

// WithLogger sets the structured logger for the Manager and every trace it
// creates. If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported in logs and OTEL metrics.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithEndpoint overrides the ingestion backend URL from config (HIBIKI_ENDPOINT env var).
func WithEndpoint(url string) Option {
	return func(o *resolvedOptions) { o.endpoint = url }
}

// WithCredentials overrides the API key pair from config
// (HIBIKI_PUBLIC_KEY / HIBIKI_SECRET_KEY env vars).
func WithCredentials(publicKey, secretKey string) Option {
	return func(o *resolvedOptions) {
		o.publicKey = publicKey
		o.secretKey = secretKey
	}
}

// WithHTTPClient sets a custom HTTP client for the ingestion transport.
func WithHTTPClient(c *http.Client) Option {
	return func(o *resolvedOptions) { o.httpClient = c }
}

// WithBatchSize overrides the flush batch size (HIBIKI_BATCH_SIZE env var).
func WithBatchSize(n int) Option {
	return func(o *resolvedOptions) { o.batchSize = n }
}

// WithFlushInterval overrides the flush interval (HIBIKI_FLUSH_INTERVAL env var).
func WithFlushInterval(d time.Duration) Option {
	return func(o *resolvedOptions) { o.flushInterval = d }
}

// WithMaxRetries overrides the per-batch retry count (HIBIKI_MAX_RETRIES env var).
func WithMaxRetries(n int) Option {
	return func(o *resolvedOptions) { o.maxRetries = n }
}

// WithCircuitBreaker overrides the breaker's consecutive-failure threshold
// and reset timeout (HIBIKI_BREAKER_THRESHOLD / HIBIKI_BREAKER_RESET_TIMEOUT).
func WithCircuitBreaker(threshold int, resetTimeout time.Duration) Option {
	return func(o *resolvedOptions) {
		o.breakerThreshold = threshold
		o.breakerReset = resetTimeout
	}
}

// WithQueueCapacity overrides the bounded queue size (HIBIKI_QUEUE_CAPACITY env var).
func WithQueueCapacity(n int) Option {
	return func(o *resolvedOptions) { o.queueCapacity = n }
}

// WithDisabled forces the no-op backend regardless of configuration.
func WithDisabled() Option {
	return func(o *resolvedOptions) { o.disabled = true }
}

// WithConsole adds a console backend writing human-readable lines to w
// (os.Stdout when w is nil), alongside any other configured backend.
func WithConsole(w io.Writer) Option {
	return func(o *resolvedOptions) {
		o.consoleWriter = w
		o.consoleSet = true
	}
}

// WithBackend adds a custom backend. Multiple backends may be registered;
// all of them receive every event.
func WithBackend(b Backend) Option {
	return func(o *resolvedOptions) { o.backends = append(o.backends, b) }
}

// TraceOption configures a single trace at creation.
type TraceOption func(*traceOptions)

type traceOptions struct {
	userID    string
	sessionID string
	metadata  map[string]any
	tags      []string
}

// WithUserID attributes the trace to a user.
func WithUserID(id string) TraceOption {
	return func(o *traceOptions) { o.userID = id }
}

// WithSessionID groups the trace into a session.
func WithSessionID(id string) TraceOption {
	return func(o *traceOptions) { o.sessionID = id }
}

// WithTraceMetadata seeds the trace metadata.
func WithTraceMetadata(md map[string]any) TraceOption {
	return func(o *traceOptions) {
		if o.metadata == nil {
			o.metadata = map[string]any{}
		}
		for k, v := range md {
			o.metadata[k] = v
		}
	}
}

// WithTraceTags seeds the trace tag set.
func WithTraceTags(tags ...string) TraceOption {
	return func(o *traceOptions) { o.tags = append(o.tags, tags...) }
}
