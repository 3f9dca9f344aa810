package market

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"wheelhouse/internal/logger"
)

// RESTClient talks to the brokerage HTTP API. Retry/backoff lives here, not
// in scanner or monitor code, so retry semantics are uniform and testable.
type RESTClient struct {
	baseURL    *url.URL
	httpClient *http.Client
	apiToken   string
	retries    int
}

// RESTConfig configures the brokerage client.
type RESTConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	APIToken       string `mapstructure:"api_token"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	Retries        int    `mapstructure:"retries"`
}

// NewRESTClient constructs the brokerage client from configuration.
func NewRESTClient(cfg RESTConfig) (*RESTClient, error) {
	raw := strings.TrimSpace(cfg.BaseURL)
	if raw == "" {
		return nil, fmt.Errorf("brokerage.base_url cannot be empty")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing brokerage.base_url: %w", err)
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = CallTimeout
	}
	retries := cfg.Retries
	if retries <= 0 {
		retries = 2
	}
	return &RESTClient{
		baseURL:    parsed,
		httpClient: &http.Client{Timeout: timeout},
		apiToken:   strings.TrimSpace(cfg.APIToken),
		retries:    retries,
	}, nil
}

// SetHTTPClient sets the HTTP client for testing.
func (c *RESTClient) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

func (c *RESTClient) GetQuote(ctx context.Context, symbol string) (Quote, error) {
	body, err := c.get(ctx, "/v1/quotes/"+url.PathEscape(symbol))
	if err != nil {
		return Quote{}, err
	}
	root := gjson.ParseBytes(body)
	return Quote{
		Symbol: symbol,
		Bid:    root.Get("bid").Float(),
		Ask:    root.Get("ask").Float(),
		Last:   root.Get("last").Float(),
		Time:   root.Get("timestamp").Int(),
	}, nil
}

func (c *RESTClient) GetPriceHistory(ctx context.Context, symbol string, lookback int) ([]Bar, error) {
	path := fmt.Sprintf("/v1/history/%s?lookback=%d", url.PathEscape(symbol), lookback)
	body, err := c.get(ctx, path)
	if err != nil {
		return nil, err
	}
	var bars []Bar
	gjson.GetBytes(body, "bars").ForEach(func(_, v gjson.Result) bool {
		bars = append(bars, Bar{
			Time:   v.Get("t").Int(),
			Open:   v.Get("o").Float(),
			High:   v.Get("h").Float(),
			Low:    v.Get("l").Float(),
			Close:  v.Get("c").Float(),
			Volume: v.Get("v").Float(),
		})
		return true
	})
	return bars, nil
}

func (c *RESTClient) GetOptionChain(ctx context.Context, symbol string) ([]OptionContract, error) {
	body, err := c.get(ctx, "/v1/chains/"+url.PathEscape(symbol))
	if err != nil {
		return nil, err
	}
	var contracts []OptionContract
	var parseErr error
	gjson.GetBytes(body, "contracts").ForEach(func(_, v gjson.Result) bool {
		exp, err := time.Parse("2006-01-02", v.Get("expiration").String())
		if err != nil {
			parseErr = fmt.Errorf("bad expiration %q: %w", v.Get("expiration").String(), err)
			return false
		}
		contracts = append(contracts, OptionContract{
			Underlying:   symbol,
			OCCSymbol:    v.Get("occ_symbol").String(),
			Right:        Right(v.Get("right").String()),
			Strike:       v.Get("strike").Float(),
			Expiration:   exp,
			Bid:          v.Get("bid").Float(),
			Ask:          v.Get("ask").Float(),
			Last:         v.Get("last").Float(),
			Volume:       v.Get("volume").Int(),
			OpenInterest: v.Get("open_interest").Int(),
			IV:           v.Get("iv").Float(),
			Greeks: Greeks{
				Delta: v.Get("greeks.delta").Float(),
				Gamma: v.Get("greeks.gamma").Float(),
				Theta: v.Get("greeks.theta").Float(),
				Vega:  v.Get("greeks.vega").Float(),
			},
		})
		return true
	})
	if parseErr != nil {
		return nil, parseErr
	}
	return contracts, nil
}

func (c *RESTClient) PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return OrderResult{}, err
	}
	// Order placement is never retried here: a timeout after the broker may
	// have accepted the order is ambiguous, not failed.
	body, err := c.do(ctx, http.MethodPost, "/v1/orders", payload)
	if err != nil {
		if isTimeout(err) {
			return OrderResult{}, fmt.Errorf("placing order %s: %w", req.ID, ErrOrderUnknown)
		}
		return OrderResult{}, err
	}
	return parseOrderResult(body), nil
}

func (c *RESTClient) OrderStatus(ctx context.Context, brokerOrderID string) (OrderResult, error) {
	body, err := c.get(ctx, "/v1/orders/"+url.PathEscape(brokerOrderID))
	if err != nil {
		return OrderResult{}, err
	}
	return parseOrderResult(body), nil
}

func parseOrderResult(body []byte) OrderResult {
	root := gjson.ParseBytes(body)
	status := OrderStatus(root.Get("status").String())
	switch status {
	case OrderFilled, OrderPending, OrderRejected:
	default:
		status = OrderPending
	}
	return OrderResult{
		BrokerOrderID: root.Get("order_id").String(),
		Status:        status,
		FillPrice:     root.Get("fill_price").Float(),
		FilledQty:     int(root.Get("filled_qty").Int()),
		Reason:        root.Get("reason").String(),
	}
}

// get performs a GET with bounded retries and linear backoff. Read-only
// calls are safe to retry; order placement is not and bypasses this.
func (c *RESTClient) get(ctx context.Context, path string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
			}
			logger.Debugf("broker retry %d for %s", attempt, path)
		}
		body, err := c.do(ctx, http.MethodGet, path, nil)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !isTimeout(err) {
			break
		}
	}
	if isTimeout(lastErr) {
		return nil, fmt.Errorf("%s: %w", path, ErrBrokerTimeout)
	}
	return nil, lastErr
}

func (c *RESTClient) do(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	endpoint := *c.baseURL
	parsed, err := url.Parse(path)
	if err != nil {
		return nil, err
	}
	endpoint.Path = strings.TrimRight(endpoint.Path, "/") + parsed.Path
	endpoint.RawQuery = parsed.RawQuery

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), reader)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiToken)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("broker %s %s: status=%d body=%s", method, path, resp.StatusCode, truncate(body, 200))
	}
	return body, nil
}

func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
