package payout

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

// RPCClient implements Client against the treasury signer's JSON-RPC server.
// The signer holds the reserve keypair; this process never touches key
// material.
type RPCClient struct {
	endpoint  string
	authToken string
	http      *http.Client
	nextID    atomic.Int64
}

// NewRPCClient constructs a treasury client. timeout bounds each call; zero
// selects a 15 second default.
func NewRPCClient(endpoint, authToken string, timeout time.Duration) *RPCClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &RPCClient{
		endpoint:  strings.TrimSpace(endpoint),
		authToken: strings.TrimSpace(authToken),
		http: &http.Client{
			Timeout: timeout,
		},
	}
}

type jsonRPCRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
	ID      int64       `json:"id"`
}

type jsonRPCResponse struct {
	JSONRPC string           `json:"jsonrpc"`
	ID      int64            `json:"id"`
	Result  json.RawMessage  `json:"result"`
	Error   *jsonRPCErrorObj `json:"error"`
}

type jsonRPCErrorObj struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// Transfer submits a treasury_transfer call. A well-formed JSON-RPC error is
// a definitive rejection (the signer evaluated the request and refused);
// every other failure mode leaves the outcome unknown and is transient.
func (c *RPCClient) Transfer(ctx context.Context, destination, amount, denomination string) (string, error) {
	params := map[string]string{
		"destination":  strings.TrimSpace(destination),
		"amount":       strings.TrimSpace(amount),
		"denomination": strings.TrimSpace(denomination),
	}
	var result struct {
		Signature string `json:"signature"`
	}
	if err := c.call(ctx, "treasury_transfer", []interface{}{params}, &result); err != nil {
		return "", err
	}
	if strings.TrimSpace(result.Signature) == "" {
		return "", &TransientError{Err: fmt.Errorf("treasury returned no signature")}
	}
	return result.Signature, nil
}

// ReserveBalance submits a treasury_balance call.
func (c *RPCClient) ReserveBalance(ctx context.Context) (Balance, error) {
	var result Balance
	if err := c.call(ctx, "treasury_balance", []interface{}{}, &result); err != nil {
		return Balance{}, err
	}
	return result, nil
}

func (c *RPCClient) call(ctx context.Context, method string, params interface{}, out interface{}) error {
	if c.endpoint == "" {
		return &TransientError{Err: fmt.Errorf("treasury endpoint not configured")}
	}
	reqBody := jsonRPCRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      c.nextID.Add(1),
	}
	encoded, err := json.Marshal(reqBody)
	if err != nil {
		return &TransientError{Err: fmt.Errorf("encode %s: %w", method, err)}
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(encoded))
	if err != nil {
		return &TransientError{Err: fmt.Errorf("build %s: %w", method, err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.authToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.authToken)
	}
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return &TransientError{Err: fmt.Errorf("%s: %w", method, err)}
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &TransientError{Err: fmt.Errorf("read %s response: %w", method, err)}
	}
	if resp.StatusCode != http.StatusOK {
		return &TransientError{Err: fmt.Errorf("%s: status %d", method, resp.StatusCode)}
	}
	var rpcResp jsonRPCResponse
	if err := json.Unmarshal(body, &rpcResp); err != nil {
		return &TransientError{Err: fmt.Errorf("decode %s response: %w", method, err)}
	}
	if rpcResp.Error != nil {
		return &RejectedError{Code: rpcResp.Error.Code, Message: rpcResp.Error.Message}
	}
	if out != nil {
		if len(rpcResp.Result) == 0 {
			return &TransientError{Err: fmt.Errorf("%s: empty result", method)}
		}
		if err := json.Unmarshal(rpcResp.Result, out); err != nil {
			return &TransientError{Err: fmt.Errorf("decode %s result: %w", method, err)}
		}
	}
	return nil
}
