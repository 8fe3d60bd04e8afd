package wallet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/quoroomlabs/quoroom/internal/errs"
)

// ChainRPC submits transfers to a chain gateway. The engine treats the
// chain as opaque: one call in, a transaction hash out.
type ChainRPC interface {
	SendToken(ctx context.Context, req TransferRequest) (txHash string, err error)
}

// TransferRequest is the wire shape of one transfer submission. The signing
// key rides along only for the duration of the call.
type TransferRequest struct {
	From          string `json:"from"`
	To            string `json:"to"`
	Amount        string `json:"amount"` // decimal string
	TokenAddress  string `json:"tokenAddress"`
	TokenDecimals int    `json:"tokenDecimals"`
	Network       string `json:"network"`
	PrivateKeyHex string `json:"privateKey"`
}

const rpcTimeout = 60 * time.Second

// HTTPChainRPC posts transfers to a JSON gateway endpoint.
type HTTPChainRPC struct {
	url    string
	client *http.Client
}

func NewHTTPChainRPC(url string) *HTTPChainRPC {
	return &HTTPChainRPC{
		url:    url,
		client: &http.Client{Timeout: rpcTimeout},
	}
}

// SendToken submits the transfer and waits for the gateway's receipt.
func (c *HTTPChainRPC) SendToken(ctx context.Context, req TransferRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal transfer: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/transfer", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", errs.Wrap(errs.KindChainFailed, err, "chain rpc unreachable")
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if resp.StatusCode != http.StatusOK {
		return "", errs.New(errs.KindChainFailed, "chain rpc status %d: %s", resp.StatusCode, string(raw))
	}
	var receipt struct {
		TxHash string `json:"txHash"`
	}
	if err := json.Unmarshal(raw, &receipt); err != nil || receipt.TxHash == "" {
		return "", errs.New(errs.KindChainFailed, "chain rpc returned no transaction hash")
	}
	return receipt.TxHash, nil
}
