package confirmer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ariefcatur/go-resource-saga.git/internal/saga"
)

// Client adapter Remote Confirmer: satu call per confirm ke transaction
// API punyanya service lain. Hasilnya id transaksi -> external_ref.
// Unreachable (network/timeout/5xx) dibedakan dari Rejected (4xx:
// payload invalid/duplikat) karena konsekuensinya beda: yang pertama
// boleh retry / ditunggu expire, yang kedua harus cancel.
type Client struct {
	baseURL string
	http    *http.Client
	service string
}

func New(baseURL, serviceName string, hc *http.Client) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{baseURL: baseURL, http: hc, service: serviceName}
}

// ---- Wire format (transaction API) ----

type transactionReq struct {
	ID          string    `json:"id"`
	Description string    `json:"description"`
	Type        string    `json:"type"`
	ResourceRef string    `json:"resource_ref"`
	Amount      int64     `json:"amount"`
	ReservedBy  string    `json:"reserved_by,omitempty"`
	WorkOrder   string    `json:"work_order,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	Source      string    `json:"source"`
}

type transactionResp struct {
	ID    string `json:"id"`
	Error string `json:"error,omitempty"`
}

// Confirm record-kan satu reservation di remote service. Return
// external_ref saat sukses.
func (c *Client) Confirm(ctx context.Context, res saga.Reservation) (string, error) {
	path := fmt.Sprintf("%s/transactions/%s", c.baseURL, res.ResourceID)

	body := transactionReq{
		ID:          "txn-" + res.ID,
		Description: fmt.Sprintf("settle %s reservation %s", res.Type, res.ID),
		Type:        "debit",
		ResourceRef: string(res.Type) + ":" + res.ResourceID,
		Amount:      res.Quantity,
		ReservedBy:  res.RequestedBy,
		WorkOrder:   res.WorkOrder,
		Timestamp:   time.Now().UTC(),
		Source:      c.service,
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, path, bytes.NewReader(raw))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		// network error / timeout / ctx deadline -> transient
		return "", fmt.Errorf("post %s: %v: %w", path, err, saga.ErrUnreachable)
	}
	defer resp.Body.Close()

	b, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var out transactionResp
		if err := json.Unmarshal(b, &out); err != nil || out.ID == "" {
			// sukses tanpa id tidak bisa dipakai sebagai external_ref
			return "", fmt.Errorf("post %s: malformed success body: %w", path, saga.ErrUnreachable)
		}
		return out.ID, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		var out transactionResp
		_ = json.Unmarshal(b, &out)
		return "", fmt.Errorf("post %s: status %d %s: %w", path, resp.StatusCode, out.Error, saga.ErrRejected)
	default:
		return "", fmt.Errorf("post %s: status %d: %w", path, resp.StatusCode, saga.ErrUnreachable)
	}
}

// AsConfirmFunc supaya langsung bisa dipasang ke Coordinator.Confirm.
func (c *Client) AsConfirmFunc() saga.ConfirmFunc {
	return func(ctx context.Context, res saga.Reservation) (string, error) {
		return c.Confirm(ctx, res)
	}
}
