// Package chain implements the RPC Client described in §4.1: head/block/logs
// against a primary Flare endpoint with fallback, jittered exponential
// backoff, TransientRpcError/FatalRpcError classification, and a per-endpoint
// rate limit protecting the fallback from being hammered during a primary
// outage.
package chain

import (
	"context"
	"fmt"
	"math/big"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"golang.org/x/time/rate"

	"flare-emissary/internal/apperrors"
	"flare-emissary/internal/decode"
)

const (
	backoffBase = 200 * time.Millisecond
	backoffCap  = 5 * time.Second
	maxAttempts = 5

	// endpointRateLimit caps outbound requests per endpoint. It exists to
	// protect the fallback endpoint from being hammered by every retry of
	// every poller call once the primary starts failing over to it.
	endpointRateLimit = 20 // requests/sec
	endpointBurst     = 40
)

// Header is the minimal block header the poller and reorg detector need.
type Header struct {
	Number     uint64
	Hash       string
	ParentHash string
	Timestamp  uint64
}

// Client is the RPC Client of §4.1: stateless from the caller's point of
// view (pooling connections is an implementation detail), primary-then-
// fallback endpoint selection per call, jittered exponential backoff on
// transient failures.
type Client struct {
	endpoints []string
	timeout   time.Duration

	mu       sync.Mutex
	clients  []*ethclient.Client // lazily dialed, parallel to endpoints
	limiters []*rate.Limiter     // one per endpoint, parallel to endpoints
	rng      *rand.Rand
}

// New builds a Client against primary (required) and fallback (optional,
// pass "" to omit) endpoints.
func New(primary, fallback string, timeout time.Duration) *Client {
	endpoints := []string{primary}
	if fallback != "" {
		endpoints = append(endpoints, fallback)
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	limiters := make([]*rate.Limiter, len(endpoints))
	for i := range limiters {
		limiters[i] = rate.NewLimiter(rate.Limit(endpointRateLimit), endpointBurst)
	}
	return &Client{
		endpoints: endpoints,
		timeout:   timeout,
		clients:   make([]*ethclient.Client, len(endpoints)),
		limiters:  limiters,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Close releases every dialed connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, cl := range c.clients {
		if cl != nil {
			cl.Close()
			c.clients[i] = nil
		}
	}
}

func (c *Client) dial(ctx context.Context, idx int) (*ethclient.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.clients[idx] != nil {
		return c.clients[idx], nil
	}
	cl, err := ethclient.DialContext(ctx, c.endpoints[idx])
	if err != nil {
		return nil, err
	}
	c.clients[idx] = cl
	return cl, nil
}

// call runs fn against each endpoint in order, retrying each with jittered
// exponential backoff on a transient failure before falling through to the
// next endpoint. A fatal (non-retryable) failure aborts immediately.
func (c *Client) call(ctx context.Context, op string, fn func(ctx context.Context, cl *ethclient.Client) error) error {
	var lastErr error
	for idx, endpoint := range c.endpoints {
		cl, err := c.dial(ctx, idx)
		if err != nil {
			lastErr = apperrors.NewTransientRPCError(endpoint, err)
			continue
		}

		for attempt := 1; attempt <= maxAttempts; attempt++ {
			if err := c.limiters[idx].Wait(ctx); err != nil {
				return err
			}

			callCtx, cancel := context.WithTimeout(ctx, c.timeout)
			err := fn(callCtx, cl)
			cancel()

			if err == nil {
				return nil
			}

			classified := classify(endpoint, op, err)
			lastErr = classified

			if !apperrors.IsRetryable(classified) {
				return classified
			}
			if attempt == maxAttempts {
				break
			}

			delay := jitteredBackoff(c.rng, attempt)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return lastErr
}

// jitteredBackoff implements full jitter: sleep = random(0, min(cap, base *
// 2^(attempt-1))), per §4.1/§7's retry policy.
func jitteredBackoff(rng *rand.Rand, attempt int) time.Duration {
	max := backoffBase << uint(attempt-1)
	if max > backoffCap || max <= 0 {
		max = backoffCap
	}
	return time.Duration(rng.Int63n(int64(max)))
}

// classify maps a raw ethclient error onto the taxonomy of §7. Connection
// resets, timeouts, and 5xx-shaped responses are transient; anything that
// looks like a malformed/unexpected payload is fatal.
func classify(endpoint, op string, err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout"),
		strings.Contains(msg, "connection reset"),
		strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "eof"),
		strings.Contains(msg, "502"),
		strings.Contains(msg, "503"),
		strings.Contains(msg, "504"),
		strings.Contains(msg, "too many requests"),
		strings.Contains(msg, "429"):
		return apperrors.NewTransientRPCError(endpoint, fmt.Errorf("%s: %w", op, err))
	default:
		return apperrors.NewFatalRPCError(endpoint, fmt.Errorf("%s: %w", op, err))
	}
}

// Head returns the latest block header known to the first endpoint that
// responds.
func (c *Client) Head(ctx context.Context) (Header, error) {
	var out Header
	err := c.call(ctx, "eth_blockNumber+eth_getBlockByNumber", func(ctx context.Context, cl *ethclient.Client) error {
		h, err := cl.HeaderByNumber(ctx, nil)
		if err != nil {
			return err
		}
		out = headerFromEth(h)
		return nil
	})
	return out, err
}

// Block fetches the header at height n.
func (c *Client) Block(ctx context.Context, n uint64) (Header, error) {
	var out Header
	err := c.call(ctx, "eth_getBlockByNumber", func(ctx context.Context, cl *ethclient.Client) error {
		h, err := cl.HeaderByNumber(ctx, new(big.Int).SetUint64(n))
		if err != nil {
			return err
		}
		out = headerFromEth(h)
		return nil
	})
	return out, err
}

func headerFromEth(h *types.Header) Header {
	return Header{
		Number:     h.Number.Uint64(),
		Hash:       h.Hash().Hex(),
		ParentHash: h.ParentHash.Hex(),
		Timestamp:  h.Time,
	}
}

// Logs fetches logs for the inclusive [from, to] range, optionally filtered
// by addresses/topics, and adapts them to decode.RawLog so the decoder
// registry never imports go-ethereum's log type directly.
func (c *Client) Logs(ctx context.Context, from, to uint64, addresses []string, topics [][]string) ([]decode.RawLog, error) {
	filter := buildFilterQuery(from, to, addresses, topics)

	var out []decode.RawLog
	err := c.call(ctx, "eth_getLogs", func(ctx context.Context, cl *ethclient.Client) error {
		logs, err := cl.FilterLogs(ctx, filter)
		if err != nil {
			return err
		}
		out = make([]decode.RawLog, 0, len(logs))
		for _, l := range logs {
			out = append(out, rawLogFromEth(l))
		}
		return nil
	})
	return out, err
}

func rawLogFromEth(l types.Log) decode.RawLog {
	return decode.RawLog{
		Address:     l.Address,
		Topics:      l.Topics,
		Data:        l.Data,
		BlockNumber: l.BlockNumber,
		BlockHash:   l.BlockHash,
		TxHash:      l.TxHash,
		LogIndex:    l.Index,
		Removed:     l.Removed,
	}
}

// buildFilterQuery converts our string-based address/topic filters into an
// ethereum.FilterQuery. topics follows go-ethereum's convention: topics[i]
// is the set of acceptable values for position i, nil/empty means "any".
func buildFilterQuery(from, to uint64, addresses []string, topics [][]string) ethereum.FilterQuery {
	q := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
	}
	for _, a := range addresses {
		q.Addresses = append(q.Addresses, common.HexToAddress(a))
	}
	if len(topics) > 0 {
		q.Topics = make([][]common.Hash, len(topics))
		for i, group := range topics {
			hashes := make([]common.Hash, len(group))
			for j, t := range group {
				hashes[j] = common.HexToHash(t)
			}
			q.Topics[i] = hashes
		}
	}
	return q
}
