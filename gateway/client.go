// Copyright 2025 The indexer-go Authors
// This file is part of the indexer-go library.
//
// The indexer-go library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The indexer-go library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the indexer-go library. If not, see <http://www.gnu.org/licenses/>.

// Package gateway implements the HTTP client for the voucher-exchange
// endpoints a gateway exposes: single-shot receipt collection, partial
// voucher collection and partial voucher merging.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/graphprotocol/indexer-go/allocations"
	"github.com/graphprotocol/indexer-go/vouchers"
)

// DefaultTimeout bounds a single exchange round trip.
const DefaultTimeout = 60 * time.Second

// Endpoint pathnames, rooted at scheme://host of the configured base URL.
const (
	collectReceiptsPath = "collect-receipts"
	partialVoucherPath  = "partial-voucher"
	voucherPath         = "voucher"
)

var (
	// ErrMalformedResponse means the gateway answered 2xx but the body
	// carried neither fees nor amount.
	ErrMalformedResponse = errors.New("malformed gateway response")

	// ErrMixedPartialVouchers means a merge was attempted over partial
	// vouchers of more than one allocation, or over no partial vouchers.
	ErrMixedPartialVouchers = errors.New("partial vouchers span multiple allocations")
)

// StatusError is a non-2xx gateway response. The body is carried for logging
// only; callers retry on the next tick.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("gateway returned status %d: %s", e.Status, e.Body)
}

// Client talks to one gateway's voucher-exchange endpoints.
type Client struct {
	base   string
	client *http.Client
}

// NewClient builds a client from a base URL. Any path or query components of
// the base are discarded; only scheme and host are kept.
func NewClient(baseURL string, timeout time.Duration) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid gateway base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("gateway base url %q needs scheme and host", baseURL)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		base:   u.Scheme + "://" + u.Host,
		client: &http.Client{Timeout: timeout},
	}, nil
}

// voucherResponse tolerates the two field spellings gateways use for the
// aggregated value.
type voucherResponse struct {
	Allocation allocations.ID   `json:"allocation"`
	Signature  hexutil.Bytes    `json:"signature"`
	Fees       *vouchers.Amount `json:"fees"`
	Amount     *vouchers.Amount `json:"amount"`
}

func (r *voucherResponse) value() (*big.Int, error) {
	switch {
	case r.Fees != nil:
		return r.Fees.Int, nil
	case r.Amount != nil:
		return r.Amount.Int, nil
	default:
		return nil, ErrMalformedResponse
	}
}

// Collect exchanges one encoded receipt batch for a final voucher.
func (c *Client) Collect(ctx context.Context, encoded []byte) (*vouchers.Voucher, error) {
	body, err := c.post(ctx, collectReceiptsPath, "application/octet-stream", encoded)
	if err != nil {
		return nil, err
	}
	return decodeVoucher(body)
}

// CollectPartial exchanges one encoded receipt chunk for a partial voucher.
func (c *Client) CollectPartial(ctx context.Context, encoded []byte) (*vouchers.PartialVoucher, error) {
	body, err := c.post(ctx, partialVoucherPath, "application/octet-stream", encoded)
	if err != nil {
		return nil, err
	}
	partial := new(vouchers.PartialVoucher)
	if err := json.Unmarshal(body, partial); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if partial.Fees.Int == nil {
		return nil, ErrMalformedResponse
	}
	return partial, nil
}

// MergePartial combines the partial vouchers of one allocation into the
// final voucher.
func (c *Client) MergePartial(ctx context.Context, partials []*vouchers.PartialVoucher) (*vouchers.Voucher, error) {
	if len(partials) == 0 {
		return nil, ErrMixedPartialVouchers
	}
	allocation := partials[0].Allocation
	for _, p := range partials[1:] {
		if p.Allocation != allocation {
			return nil, ErrMixedPartialVouchers
		}
	}
	request, err := json.Marshal(map[string]interface{}{
		"allocation":      allocation,
		"partialVouchers": partials,
	})
	if err != nil {
		return nil, err
	}
	body, err := c.post(ctx, voucherPath, "application/json", request)
	if err != nil {
		return nil, err
	}
	return decodeVoucher(body)
}

func decodeVoucher(body []byte) (*vouchers.Voucher, error) {
	var resp voucherResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	value, err := resp.value()
	if err != nil {
		return nil, err
	}
	return &vouchers.Voucher{
		Allocation: resp.Allocation,
		Amount:     vouchers.NewAmount(value),
		Signature:  resp.Signature,
	}, nil
}

func (c *Client) post(ctx context.Context, path, contentType string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/"+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Status: resp.StatusCode, Body: string(data)}
	}
	return data, nil
}
