// Package binance implements the Binance spot REST client, request signing and the
// user data stream transport.
package binance

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/coachpo/meltica-trader/errs"
	"github.com/coachpo/meltica-trader/internal/observability"
)

const (
	exchangeName      = "binance"
	defaultHost       = "https://api.binance.com"
	defaultFutureHost = "https://fapi.binance.com"
	defaultTimeout    = 10 * time.Second
	defaultRecvWindow = 5 * time.Second
	maxErrorBody      = 4 << 10
	apiKeyHeader      = "X-MBX-APIKEY"
)

// Doer executes HTTP requests.
type Doer interface {
	Do(*http.Request) (*http.Response, error)
}

// ClientOptions configures the REST client.
type ClientOptions struct {
	Host               string
	FuturesHost        string
	AccessKey          string
	SecretKey          string
	HTTPClient         Doer
	Timeout            time.Duration
	InsecureSkipVerify bool
	RecvWindow         time.Duration
	RequestsPerSecond  float64
	Burst              int
	Clock              func() time.Time
	Logger             observability.Logger
	Metrics            *observability.Metrics
}

func (o ClientOptions) withDefaults() ClientOptions {
	o.Host = strings.TrimRight(strings.TrimSpace(o.Host), "/")
	if o.Host == "" {
		o.Host = defaultHost
	}
	o.FuturesHost = strings.TrimRight(strings.TrimSpace(o.FuturesHost), "/")
	if o.FuturesHost == "" {
		o.FuturesHost = defaultFutureHost
	}
	if o.Timeout <= 0 {
		o.Timeout = defaultTimeout
	}
	if o.RecvWindow <= 0 {
		o.RecvWindow = defaultRecvWindow
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	if o.HTTPClient == nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		if o.InsecureSkipVerify {
			transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} // #nosec G402 -- operator opt-in.
		}
		o.HTTPClient = &http.Client{Timeout: o.Timeout, Transport: transport}
	}
	return o
}

// Client issues REST calls against Binance spot, margin and USD-M futures endpoints. Every
// operation returns either a populated result with a nil error or the zero value with an error.
type Client struct {
	host       string
	futureHost string
	accessKey  string
	signer     Signer
	http       Doer
	timeout    time.Duration
	recvWindow time.Duration
	limiter    *rate.Limiter
	clock      func() time.Time
	logger     observability.Logger
	metrics    *observability.Metrics
}

// NewClient builds a REST client.
func NewClient(opts ClientOptions) *Client {
	opts = opts.withDefaults()
	var limiter *rate.Limiter
	if opts.RequestsPerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}
	return &Client{
		host:       opts.Host,
		futureHost: opts.FuturesHost,
		accessKey:  opts.AccessKey,
		signer:     NewSigner(opts.SecretKey),
		http:       opts.HTTPClient,
		timeout:    opts.Timeout,
		recvWindow: opts.RecvWindow,
		limiter:    limiter,
		clock:      opts.Clock,
		logger:     observability.OrDefault(opts.Logger),
		metrics:    opts.Metrics,
	}
}

// RawSymbol converts a symbol into exchange form by removing separator characters.
func RawSymbol(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	s = strings.ReplaceAll(s, "/", "")
	return strings.ReplaceAll(s, "-", "")
}

type apiError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func (c *Client) timestamp() string {
	return strconv.FormatInt(c.clock().UnixMilli(), 10)
}

func (c *Client) recvWindowMillis() string {
	return strconv.FormatInt(c.recvWindow.Milliseconds(), 10)
}

// signed appends the timestamp and returns the parameter list for an authenticated call.
func (c *Client) signed(params *Params) *Params {
	if params == nil {
		params = NewParams()
	}
	return params.Set("timestamp", c.timestamp())
}

func (c *Client) do(ctx context.Context, method, path string, params *Params, auth bool, out any) error {
	return c.send(ctx, c.host, method, path, params, auth, out)
}

func (c *Client) doFutures(ctx context.Context, method, path string, params *Params, auth bool, out any) error {
	return c.send(ctx, c.futureHost, method, path, params, auth, out)
}

// send composes the request URL, applies the limiter and decodes the JSON response into out.
// All parameters travel in the query string; signed calls append the signature last.
func (c *Client) send(ctx context.Context, host, method, path string, params *Params, auth bool, out any) error {
	var query string
	if auth {
		query = c.signer.SignedQuery(params)
	} else {
		query = params.Encode()
	}
	endpoint := host + path
	if query != "" {
		endpoint += "?" + query
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return errs.New(exchangeName, errs.CodeRateLimited,
				errs.WithMessage("request limiter"),
				errs.WithField("endpoint", path),
				errs.WithCause(err))
		}
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, method, endpoint, nil)
	if err != nil {
		return fmt.Errorf("create %s request: %w", path, err)
	}
	req.Header.Set(apiKeyHeader, c.accessKey)

	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.metrics.RecordREST(ctx, path, 0, time.Since(started))
		return errs.New(exchangeName, errs.CodeNetwork,
			errs.WithMessage(method+" "+path),
			errs.WithField("endpoint", path),
			errs.WithCause(err))
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	c.metrics.RecordREST(ctx, path, resp.StatusCode, time.Since(started))
	c.logger.Debug("binance rest",
		observability.F("method", method),
		observability.F("endpoint", path),
		observability.F("status", resp.StatusCode))

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return decodeAPIError(path, resp.StatusCode, body)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	decoder := json.NewDecoder(resp.Body)
	if err := decoder.Decode(out); err != nil {
		return errs.New(exchangeName, errs.CodeExchange,
			errs.WithMessage("decode "+path),
			errs.WithHTTP(resp.StatusCode),
			errs.WithField("endpoint", path),
			errs.WithCause(err))
	}
	return nil
}

func decodeAPIError(path string, status int, body []byte) error {
	opts := []errs.Option{
		errs.WithHTTP(status),
		errs.WithField("endpoint", path),
	}
	var apiErr apiError
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Msg != "" {
		opts = append(opts,
			errs.WithMessage(apiErr.Msg),
			errs.WithRawCode(strconv.Itoa(apiErr.Code)),
			errs.WithRawMessage(apiErr.Msg),
			errs.WithCanonicalCode(errs.CanonicalFromBinance(apiErr.Code, apiErr.Msg)))
	} else if trimmed := strings.TrimSpace(string(body)); trimmed != "" {
		opts = append(opts, errs.WithRawMessage(trimmed))
	}
	return errs.New(exchangeName, errs.CodeFromHTTP(status), opts...)
}

// IsOrderNotFound reports whether err signals an unknown order on the exchange.
func IsOrderNotFound(err error) bool {
	return errs.HasCanonical(err, errs.CanonicalOrderNotFound)
}

var errEmptyListenKey = errors.New("binance: empty listen key")
