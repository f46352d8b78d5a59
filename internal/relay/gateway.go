// Package relay implements the metered pass-through to the upstream LLM
// providers: admission against the credit balance, byte-for-byte
// forwarding, usage extraction, and settlement.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/tokengate/tokengate/internal/auth"
	"github.com/tokengate/tokengate/internal/config"
	"github.com/tokengate/tokengate/internal/journal"
	"github.com/tokengate/tokengate/internal/metrics"
	"github.com/tokengate/tokengate/internal/model"
	"github.com/tokengate/tokengate/internal/pricing"
	"github.com/tokengate/tokengate/internal/provider"
	"github.com/tokengate/tokengate/internal/repository"
)

const (
	// providerKeyHeader carries a caller-supplied upstream credential.
	// Honored only for subscribers; such requests bypass metering.
	providerKeyHeader = "X-Provider-Key"

	// settleTimeout bounds the post-response debit and journal writes.
	// Settlement uses a fresh context because the request context is
	// often already done by the time a stream closes.
	settleTimeout = 5 * time.Second

	// maxErrorBody caps how much of an upstream error response is read.
	maxErrorBody = 1 << 20

	streamCopyBufferSize = 32 * 1024
)

// Ledger is the balance store the gateway admits and settles against.
type Ledger interface {
	GetBalance(ctx context.Context, userID string) (int64, error)
	DebitBalance(ctx context.Context, userID string, amount int64) (bool, error)
}

// Gateway relays chat requests to the configured upstreams.
type Gateway struct {
	cfg       *config.Config
	ledger    Ledger
	publisher *journal.Publisher
	logger    *slog.Logger
	metrics   metrics.Recorder
	client    *http.Client
}

// New creates a relay gateway. publisher may be nil (journalling disabled).
func New(cfg *config.Config, ledger Ledger, publisher *journal.Publisher, logger *slog.Logger, recorder metrics.Recorder) *Gateway {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	return &Gateway{
		cfg:       cfg,
		ledger:    ledger,
		publisher: publisher,
		logger:    logger.With("component", "relay"),
		metrics:   recorder,
		client: &http.Client{
			// No overall timeout: streamed responses legitimately run
			// for minutes. Header wait and inter-chunk gaps are bounded
			// separately.
			Transport: &http.Transport{
				// Keep the wire bytes identical to what upstream sent
				// so forwarding and the usage scanner see the same
				// stream the caller does.
				DisableCompression:    true,
				ResponseHeaderTimeout: cfg.UpstreamHeaderTimeout,
				MaxIdleConnsPerHost:   32,
			},
		},
	}
}

// ChatCompletions handles POST /v1/chat/completions.
func (g *Gateway) ChatCompletions(w http.ResponseWriter, r *http.Request) {
	g.relay(w, r, provider.OpenAI)
}

// Messages handles POST /v1/messages.
func (g *Gateway) Messages(w http.ResponseWriter, r *http.Request) {
	g.relay(w, r, provider.Anthropic)
}

// relayRequest is the subset of the request body the gateway inspects.
// The body is forwarded upstream unmodified.
type relayRequest struct {
	Model               string          `json:"model"`
	Stream              bool            `json:"stream"`
	MaxTokens           int64           `json:"max_tokens"`
	MaxCompletionTokens int64           `json:"max_completion_tokens"`
	System              json.RawMessage `json:"system"`
	Messages            []relayMessage  `json:"messages"`
}

type relayMessage struct {
	Content json.RawMessage `json:"content"`
}

// promptChars counts the characters the token heuristic should see: the
// message and system text, not the JSON framing around it. Requests with
// no recognizable message text fall back to the raw body length, which
// overestimates and therefore never admits a request the text would not.
func promptChars(req relayRequest, body []byte) int64 {
	total := contentChars(req.System)
	for _, m := range req.Messages {
		total += contentChars(m.Content)
	}
	if total == 0 {
		return int64(len(body))
	}
	return total
}

// contentChars counts text characters in a content value, which is either
// a plain string or a list of content blocks carrying text fields.
// Unrecognized shapes count their raw length.
func contentChars(raw json.RawMessage) int64 {
	if len(raw) == 0 {
		return 0
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return int64(len(s))
	}
	var blocks []struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &blocks); err == nil {
		var n int64
		for _, b := range blocks {
			n += int64(len(b.Text))
		}
		return n
	}
	return int64(len(raw))
}

func (g *Gateway) relay(w http.ResponseWriter, r *http.Request, p provider.Provider) {
	start := time.Now()
	g.metrics.IncRelayRequest(p.Tag())

	authCtx := auth.AuthFromContext(r.Context())
	if authCtx == nil {
		writeRelayError(w, http.StatusUnauthorized, "auth_error", "authentication required", nil)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeRelayError(w, http.StatusBadRequest, "proxy_error", "failed to read request body", nil)
		return
	}

	var req relayRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeRelayError(w, http.StatusBadRequest, "proxy_error", "request body must be valid JSON", nil)
		return
	}
	if req.Model == "" {
		writeRelayError(w, http.StatusBadRequest, "proxy_error", "model is required", nil)
		return
	}
	billingModel := pricing.ResolveAlias(req.Model)

	// Subscribers may bring their own upstream key; those requests skip
	// the balance gate and are never debited. Without an active
	// subscription the header is ignored and the request is metered.
	callerKey := r.Header.Get(providerKeyHeader)
	byok := callerKey != "" && authCtx.SubscriptionActive

	inputEstimate := pricing.EstimateTokens(promptChars(req, body))

	if !byok {
		maxOut := req.MaxTokens
		if maxOut <= 0 {
			maxOut = req.MaxCompletionTokens
		}
		if maxOut <= 0 {
			maxOut = p.DefaultMaxOutput()
		}

		estimate := pricing.EstimateMaxCost(billingModel, inputEstimate, maxOut)
		balance, err := g.ledger.GetBalance(r.Context(), authCtx.UserID)
		if err != nil && !isBalanceNotFound(err) {
			g.logger.Error("balance lookup failed", "user_id", authCtx.UserID, "error", err)
			writeRelayError(w, http.StatusInternalServerError, "server_error", "internal error", nil)
			return
		}
		if balance < estimate {
			writeRelayError(w, http.StatusPaymentRequired, "insufficient_credits",
				"credit balance too low for this request", map[string]any{
					"balance":        balance,
					"estimated_cost": estimate,
				})
			return
		}
	}

	upstreamKey := g.masterKey(p)
	if byok {
		upstreamKey = callerKey
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	upReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL(p)+p.Path(), bytes.NewReader(body))
	if err != nil {
		g.logger.Error("build upstream request failed", "provider", p.Tag(), "error", err)
		writeRelayError(w, http.StatusInternalServerError, "server_error", "internal error", nil)
		return
	}
	upReq.Header.Set("Content-Type", "application/json")
	if accept := r.Header.Get("Accept"); accept != "" {
		upReq.Header.Set("Accept", accept)
	}
	p.ApplyAuth(upReq.Header, upstreamKey)

	resp, err := g.client.Do(upReq)
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			g.logger.Warn("upstream timed out", "provider", p.Tag(), "error", err)
			writeRelayError(w, http.StatusGatewayTimeout, "provider_error", "upstream timed out", nil)
			return
		}
		g.logger.Error("upstream request failed", "provider", p.Tag(), "error", err)
		writeRelayError(w, http.StatusBadGateway, "provider_error", "upstream request failed", nil)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		g.passThroughError(w, resp, p)
		return
	}

	if strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream") {
		g.relayStream(w, resp, cancel, relayBilling{
			auth:          authCtx,
			provider:      p,
			model:         billingModel,
			inputEstimate: inputEstimate,
			byok:          byok,
		})
	} else {
		g.relayBuffered(w, resp, relayBilling{
			auth:          authCtx,
			provider:      p,
			model:         billingModel,
			inputEstimate: inputEstimate,
			byok:          byok,
		})
	}

	g.metrics.ObserveRelayDuration(time.Since(start))
}

// relayBilling carries what settlement needs after the upstream exchange.
type relayBilling struct {
	auth          *model.AuthContext
	provider      provider.Provider
	model         string
	inputEstimate int64
	byok          bool
}

// relayBuffered forwards a non-streaming response, billing before the
// body is released: a debit that fails on insufficient funds converts
// the response into a 402.
func (g *Gateway) relayBuffered(w http.ResponseWriter, resp *http.Response, billing relayBilling) {
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		g.logger.Error("upstream body read failed", "provider", billing.provider.Tag(), "error", err)
		writeRelayError(w, http.StatusBadGateway, "provider_error", "upstream response truncated", nil)
		return
	}

	if billing.byok {
		copyResponseHeaders(w.Header(), resp.Header)
		w.WriteHeader(resp.StatusCode)
		_, _ = w.Write(respBody)
		return
	}

	usage, reported := billing.provider.ParseUsage(respBody)
	inTokens, outTokens := usage.InputTokens, usage.OutputTokens
	if !reported {
		inTokens = billing.inputEstimate
		outTokens = pricing.EstimateTokens(int64(len(respBody)))
	}

	cost := pricing.Cost(billing.model, inTokens, outTokens)
	debited, err := g.debit(billing.auth.UserID, cost)
	if err != nil {
		// Store failure after the upstream already answered: forward the
		// response, log loudly. The journal record still captures usage.
		g.logger.Error("settlement debit errored",
			"user_id", billing.auth.UserID,
			"cost", cost,
			"error", err,
		)
	} else if !debited {
		g.metrics.IncDebit("insufficient")
		g.journalUsage(billing, inTokens, outTokens, cost, !reported)
		writeRelayError(w, http.StatusPaymentRequired, "insufficient_credits",
			"credit balance exhausted during request", map[string]any{
				"cost": cost,
			})
		return
	} else {
		g.metrics.IncDebit("ok")
	}

	g.journalUsage(billing, inTokens, outTokens, cost, !reported)

	copyResponseHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(respBody)
}

// relayStream forwards SSE chunks as they arrive, feeding the same bytes
// to the usage scanner, and settles exactly once after the stream ends.
// Settlement failures here can only be logged: the response is gone.
func (g *Gateway) relayStream(w http.ResponseWriter, resp *http.Response, cancelUpstream context.CancelFunc, billing relayBilling) {
	copyResponseHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)

	flusher, _ := w.(http.Flusher)
	scanner := billing.provider.NewScanner()

	idle := time.AfterFunc(g.cfg.StreamIdleTimeout, cancelUpstream)
	defer idle.Stop()

	buf := make([]byte, streamCopyBufferSize)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			idle.Reset(g.cfg.StreamIdleTimeout)
			chunk := buf[:n]
			scanner.Feed(chunk)
			if _, werr := w.Write(chunk); werr != nil {
				// Client went away; stop pulling from upstream and bill
				// what was observed.
				cancelUpstream()
				break
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err != nil {
			if err != io.EOF {
				g.logger.Warn("stream ended early",
					"provider", billing.provider.Tag(),
					"error", err,
				)
			}
			break
		}
	}

	if billing.byok {
		return
	}

	usage := scanner.Usage()
	inTokens := usage.InputTokens
	if !usage.InputSeen {
		inTokens = billing.inputEstimate
	}
	outTokens := usage.OutputTokens
	if !usage.OutputSeen {
		outTokens = pricing.EstimateTokens(usage.OutputChars)
	}
	estimated := !usage.InputSeen || !usage.OutputSeen

	cost := pricing.Cost(billing.model, inTokens, outTokens)
	debited, err := g.debit(billing.auth.UserID, cost)
	switch {
	case err != nil:
		g.logger.Error("settlement debit errored",
			"user_id", billing.auth.UserID,
			"cost", cost,
			"error", err,
		)
	case !debited:
		g.metrics.IncDebit("insufficient")
		g.logger.Warn("streamed usage exceeded remaining balance",
			"user_id", billing.auth.UserID,
			"cost", cost,
		)
	default:
		g.metrics.IncDebit("ok")
	}

	g.journalUsage(billing, inTokens, outTokens, cost, estimated)
}

// passThroughError forwards an upstream error response verbatim, unbilled.
func (g *Gateway) passThroughError(w http.ResponseWriter, resp *http.Response, p provider.Provider) {
	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		writeRelayError(w, http.StatusBadGateway, "provider_error", "upstream response truncated", nil)
		return
	}

	g.logger.Warn("upstream error passed through",
		"provider", p.Tag(),
		"status", resp.StatusCode,
		"body", truncate(string(respBody), 512),
	)

	copyResponseHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(respBody)
}

// debit runs the settlement debit on a fresh context so it survives the
// request context ending.
func (g *Gateway) debit(userID string, cost int64) (bool, error) {
	if cost <= 0 {
		return true, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), settleTimeout)
	defer cancel()
	return g.ledger.DebitBalance(ctx, userID, cost)
}

func (g *Gateway) journalUsage(billing relayBilling, inTokens, outTokens, cost int64, estimated bool) {
	if g.publisher == nil {
		return
	}
	g.publisher.PublishAsync(journal.UsagePayload{
		RecordID:     ulid.Make().String(),
		UserID:       billing.auth.UserID,
		Provider:     billing.provider.Tag(),
		Model:        billing.model,
		InputTokens:  inTokens,
		OutputTokens: outTokens,
		Cost:         cost,
		Estimated:    estimated,
		RequestedAt:  time.Now().UnixMilli(),
	})
}

func (g *Gateway) baseURL(p provider.Provider) string {
	switch p {
	case provider.Anthropic:
		return strings.TrimRight(g.cfg.AnthropicBaseURL, "/")
	default:
		return strings.TrimRight(g.cfg.OpenAIBaseURL, "/")
	}
}

func (g *Gateway) masterKey(p provider.Provider) string {
	switch p {
	case provider.Anthropic:
		return g.cfg.AnthropicAPIKey
	default:
		return g.cfg.OpenAIAPIKey
	}
}

// copyResponseHeaders copies upstream headers, dropping hop-by-hop ones.
func copyResponseHeaders(dst, src http.Header) {
	for key, values := range src {
		switch http.CanonicalHeaderKey(key) {
		case "Connection", "Keep-Alive", "Transfer-Encoding", "Upgrade",
			"Proxy-Authenticate", "Proxy-Authorization", "Te", "Trailer":
			continue
		}
		for _, v := range values {
			dst.Add(key, v)
		}
	}
}

func writeRelayError(w http.ResponseWriter, status int, errType, message string, extra map[string]any) {
	payload := map[string]any{
		"message": message,
		"type":    errType,
	}
	for k, v := range extra {
		payload[k] = v
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": payload})
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

func isBalanceNotFound(err error) bool {
	return errors.Is(err, repository.ErrBalanceNotFound)
}
