// Package payments talks to the payment processor's REST API. Only the
// read side needed for reconciliation is implemented.
package payments

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	apperrors "pass-provisioning/internal/common/errors"
	httpclient "pass-provisioning/internal/common/http"
	"pass-provisioning/internal/models"
)

const transactionsPath = "/v1/transactions"

// Credentials resolves the API key and processor account for a tenant.
type Credentials interface {
	PaymentAPIKey(tenantID string) string
	PaymentAccount(tenantID string) string
}

type Client struct {
	http     *httpclient.Client
	creds    Credentials
	pageSize int
}

func NewClient(http *httpclient.Client, creds Credentials, pageSize int) *Client {
	if pageSize <= 0 {
		pageSize = 100
	}
	return &Client{http: http, creds: creds, pageSize: pageSize}
}

type listResponse struct {
	Data    []models.Transaction `json:"data"`
	HasMore bool                 `json:"has_more"`
}

// ListCompleted pages through completed transactions for a tenant created
// in [from, to).
func (c *Client) ListCompleted(ctx context.Context, tenantID string, from, to time.Time) ([]models.Transaction, error) {
	headers, err := c.headers(tenantID)
	if err != nil {
		return nil, err
	}

	var (
		all           []models.Transaction
		startingAfter string
	)
	for {
		query := url.Values{}
		query.Set("status", "completed")
		query.Set("created_gte", strconv.FormatInt(from.Unix(), 10))
		query.Set("created_lt", strconv.FormatInt(to.Unix(), 10))
		query.Set("limit", strconv.Itoa(c.pageSize))
		if startingAfter != "" {
			query.Set("starting_after", startingAfter)
		}

		var page listResponse
		if err := c.http.GetJSON(ctx, transactionsPath, query, headers, &page); err != nil {
			return nil, classify("list_transactions", err)
		}
		all = append(all, page.Data...)

		if !page.HasMore || len(page.Data) == 0 {
			return all, nil
		}
		startingAfter = page.Data[len(page.Data)-1].ID
	}
}

func (c *Client) GetTransaction(ctx context.Context, tenantID, id string) (*models.Transaction, error) {
	headers, err := c.headers(tenantID)
	if err != nil {
		return nil, err
	}

	var txn models.Transaction
	if err := c.http.GetJSON(ctx, transactionsPath+"/"+url.PathEscape(id), nil, headers, &txn); err != nil {
		return nil, classify("get_transaction", err)
	}
	return &txn, nil
}

func (c *Client) headers(tenantID string) (map[string]string, error) {
	key := c.creds.PaymentAPIKey(tenantID)
	if key == "" {
		return nil, apperrors.NewPaymentAPIError("credentials", fmt.Errorf("no payment api key for tenant %q", tenantID), false)
	}
	headers := map[string]string{"Authorization": "Bearer " + key}
	if account := c.creds.PaymentAccount(tenantID); account != "" {
		headers["Payment-Account"] = account
	}
	return headers, nil
}

func classify(operation string, err error) error {
	var statusErr *httpclient.StatusError
	if stderrors.As(err, &statusErr) {
		return apperrors.NewPaymentAPIError(operation, err, statusErr.Temporary())
	}
	if stderrors.Is(err, context.Canceled) {
		return err
	}
	return apperrors.NewPaymentAPIError(operation, err, true)
}
