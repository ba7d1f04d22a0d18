package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DevnetClient reads escrow state from a cmd/devnet process over HTTP.
type DevnetClient struct {
	baseURL    string
	httpClient *http.Client
	log        *zap.Logger
}

func NewDevnetClient(baseURL string, log *zap.Logger) *DevnetClient {
	return &DevnetClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		log: log,
	}
}

type balanceResponse struct {
	Balance string `json:"balance"`
}

func (c *DevnetClient) ContractBalance(ctx context.Context) (*big.Int, error) {
	var out balanceResponse
	found, err := c.get(ctx, "/contract/balance", &out)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("devnet: contract balance not available")
	}
	return ParseWei(out.Balance)
}

func (c *DevnetClient) Receipt(ctx context.Context, txHash string) (*Receipt, error) {
	if !IsTxHash(txHash) {
		return nil, fmt.Errorf("chain: invalid tx hash %q", txHash)
	}
	var out Receipt
	found, err := c.get(ctx, "/tx/"+txHash, &out)
	if err != nil {
		return nil, err
	}
	if !found {
		return &Receipt{Found: false}, nil
	}
	out.Found = true
	return &out, nil
}

func (c *DevnetClient) get(ctx context.Context, path string, dst any) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return false, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("devnet unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return false, fmt.Errorf("devnet returned %d: %s", resp.StatusCode, string(body))
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return false, err
	}
	return true, nil
}
