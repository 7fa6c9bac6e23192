package books

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"billsync/internal/model"
)

const maxFaultBody = 64 << 10

// Client is the HTTP implementation of the books API.
type Client struct {
	baseURL string
	cred    Credential
	client  *http.Client
}

func NewClient(baseURL string, cred Credential) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		cred:    cred,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

type entityPayload struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type vendorCreateRequest struct {
	Name string `json:"name"`
}

type billLinePayload struct {
	Amount      float64 `json:"amount"`
	Description string  `json:"description,omitempty"`
	AccountID   string  `json:"accountId"`
	CustomerID  string  `json:"customerId"`
	Billable    bool    `json:"billable"`
	ClassID     string  `json:"classId,omitempty"`
}

type billCreateRequest struct {
	VendorID     string            `json:"vendorId"`
	TxnDate      string            `json:"txnDate"`
	DocNumber    string            `json:"docNumber"`
	DepartmentID string            `json:"departmentId,omitempty"`
	Currency     string            `json:"currency,omitempty"`
	Lines        []billLinePayload `json:"lines"`
}

type customFieldPayload struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type invoiceCreateRequest struct {
	CustomerID           string               `json:"customerId"`
	TxnDate              string               `json:"txnDate"`
	PONumber             string               `json:"poNumber,omitempty"`
	CustomFields         []customFieldPayload `json:"customFields,omitempty"`
	Currency             string               `json:"currency"`
	FromBillID           string               `json:"fromBillId"`
	FromBillableExpenses bool                 `json:"fromBillableExpenses"`
}

type createResponse struct {
	ID string `json:"id"`
}

func (c *Client) FindCustomerByName(ctx context.Context, name string) (*model.Entity, error) {
	return c.findEntity(ctx, "customers", name)
}

func (c *Client) CreateCustomer(ctx context.Context, spec CustomerSpec) (*model.Entity, error) {
	var payload entityPayload
	if err := c.postJSON(ctx, c.path("customers"), spec, &payload); err != nil {
		return nil, err
	}
	return &model.Entity{ID: payload.ID, Name: payload.Name}, nil
}

func (c *Client) FindVendorByName(ctx context.Context, name string) (*model.Entity, error) {
	return c.findEntity(ctx, "vendors", name)
}

func (c *Client) CreateVendor(ctx context.Context, name string) (*model.Entity, error) {
	var payload entityPayload
	if err := c.postJSON(ctx, c.path("vendors"), vendorCreateRequest{Name: name}, &payload); err != nil {
		return nil, err
	}
	return &model.Entity{ID: payload.ID, Name: payload.Name}, nil
}

func (c *Client) FindDepartmentByName(ctx context.Context, name string) (*model.Entity, error) {
	return c.findEntity(ctx, "departments", name)
}

func (c *Client) FindClassByName(ctx context.Context, name string) (*model.Entity, error) {
	return c.findEntity(ctx, "classes", name)
}

func (c *Client) DefaultExpenseAccount(ctx context.Context) (*model.Entity, error) {
	req, err := c.newRequest(ctx, http.MethodGet, c.path("accounts/default-expense"), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var payload entityPayload
		if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
		return &model.Entity{ID: payload.ID, Name: payload.Name}, nil
	case http.StatusNotFound:
		return nil, nil
	default:
		return nil, readFault(resp)
	}
}

func (c *Client) CreateBill(ctx context.Context, bill *model.Bill) (string, error) {
	body := billCreateRequest{
		VendorID:  bill.Vendor.ID,
		TxnDate:   bill.TxnDate.Format("2006-01-02"),
		DocNumber: bill.DocNumber,
		Currency:  bill.Currency,
	}
	if bill.Department != nil {
		body.DepartmentID = bill.Department.ID
	}
	for _, line := range bill.Lines {
		wire := billLinePayload{
			Amount:      line.Amount,
			Description: line.Description,
			AccountID:   line.ExpenseAccount.ID,
			CustomerID:  line.SubCustomer.ID,
			Billable:    line.Billable,
		}
		if line.Class != nil {
			wire.ClassID = line.Class.ID
		}
		body.Lines = append(body.Lines, wire)
	}

	var payload createResponse
	if err := c.postJSON(ctx, c.path("bills"), body, &payload); err != nil {
		return "", err
	}
	return payload.ID, nil
}

func (c *Client) CreateInvoice(ctx context.Context, invoice *model.Invoice) (string, error) {
	body := invoiceCreateRequest{
		CustomerID:           invoice.SubCustomer.ID,
		TxnDate:              invoice.TxnDate.Format("2006-01-02"),
		PONumber:             invoice.PONumber,
		Currency:             invoice.Currency,
		FromBillID:           invoice.FromBillID,
		FromBillableExpenses: true,
	}
	if invoice.PointOfContact != "" {
		body.CustomFields = append(body.CustomFields, customFieldPayload{
			Name:  "Point of Contact",
			Value: invoice.PointOfContact,
		})
	}

	var payload createResponse
	if err := c.postJSON(ctx, c.path("invoices"), body, &payload); err != nil {
		return "", err
	}
	return payload.ID, nil
}

func (c *Client) UploadAttachment(ctx context.Context, att Attachment) (string, error) {
	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	if err := form.WriteField("attachableType", att.EntityType); err != nil {
		return "", fmt.Errorf("write form field: %w", err)
	}
	if err := form.WriteField("attachableId", att.EntityID); err != nil {
		return "", fmt.Errorf("write form field: %w", err)
	}
	part, err := form.CreateFormFile("file", att.FileName)
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(att.Data); err != nil {
		return "", fmt.Errorf("write file part: %w", err)
	}
	if err := form.Close(); err != nil {
		return "", fmt.Errorf("close form: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, c.path("attachments"), &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		var payload createResponse
		if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
			return "", fmt.Errorf("decode response: %w", err)
		}
		return payload.ID, nil
	default:
		return "", readFault(resp)
	}
}

func (c *Client) path(suffix string) string {
	return fmt.Sprintf("/v1/%s/%s", url.PathEscape(c.cred.AccountID), suffix)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cred.Token)
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *Client) findEntity(ctx context.Context, kind, name string) (*model.Entity, error) {
	path := c.path(kind) + "?name=" + url.QueryEscape(name)
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var payload entityPayload
		if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
		return &model.Entity{ID: payload.ID, Name: payload.Name}, nil
	case http.StatusNotFound:
		return nil, nil
	default:
		return nil, readFault(resp)
	}
}

func (c *Client) postJSON(ctx context.Context, path string, in, out any) error {
	buf, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, path, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	default:
		return readFault(resp)
	}
}

func readFault(resp *http.Response) *APIFault {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxFaultBody))
	return decodeFault(resp.StatusCode, body)
}
