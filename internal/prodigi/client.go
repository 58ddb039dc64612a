// Package prodigi orders physical prints of gallery images.
package prodigi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	SandboxBaseURL    = "https://api.sandbox.prodigi.com/v4.0"
	ProductionBaseURL = "https://api.prodigi.com/v4.0"

	standardShipping = 1
)

var (
	ErrNotConfigured  = errors.New("Prodigi API key not configured")
	ErrUnknownProduct = errors.New("unknown product")
)

type Client struct {
	baseURL    string
	apiKey     string
	catalog    Catalog
	httpClient *http.Client
	log        *zap.SugaredLogger
	now        func() time.Time
}

func NewClient(baseURL, apiKey string, catalog Catalog, logger *zap.SugaredLogger) *Client {
	if baseURL == "" {
		baseURL = SandboxBaseURL
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		catalog: catalog,
		log:     logger,
		now:     time.Now,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *Client) Catalog() Catalog {
	return c.catalog
}

// QuoteItem is one line of a quote request.
type QuoteItem struct {
	ProductSKU string `json:"productSku" validate:"required"`
	Quantity   int    `json:"quantity" validate:"required,min=1,max=20"`
}

type QuoteRequest struct {
	CountryCode string      `json:"countryCode" validate:"required,iso3166_1_alpha2"`
	Items       []QuoteItem `json:"items" validate:"required,min=1,dive"`
}

// Money is Prodigi's amount representation.
type Money struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

type Quote struct {
	Subtotal *Money `json:"subtotal,omitempty"`
	Shipping *Money `json:"shipping,omitempty"`
	Tax      *Money `json:"tax,omitempty"`
	Total    *Money `json:"total,omitempty"`
	Currency string `json:"currency,omitempty"`
}

type Address struct {
	Line1       string `json:"line1" validate:"required"`
	Line2       string `json:"line2,omitempty"`
	PostalCode  string `json:"postalCode" validate:"required"`
	CountryCode string `json:"countryCode" validate:"required,iso3166_1_alpha2"`
	City        string `json:"city" validate:"required"`
	State       string `json:"state,omitempty"`
}

type Recipient struct {
	Name    string  `json:"name" validate:"required"`
	Email   string  `json:"email" validate:"omitempty,email"`
	Address Address `json:"address" validate:"required"`
}

type OrderItem struct {
	ImageIndex int    `json:"imageIndex" validate:"min=1,max=4"`
	ProductSKU string `json:"productSku" validate:"required"`
	Quantity   int    `json:"quantity" validate:"required,min=1,max=20"`
	ImageURL   string `json:"imageUrl" validate:"required,url"`
}

type OrderRequest struct {
	GalleryID string      `json:"galleryId,omitempty"`
	Recipient Recipient   `json:"recipient" validate:"required"`
	Items     []OrderItem `json:"items" validate:"required,min=1,dive"`
}

type Order struct {
	OrderID           string `json:"orderId"`
	Status            string `json:"status"`
	MerchantReference string `json:"merchantReference"`
	Total             *Money `json:"total,omitempty"`
	Currency          string `json:"currency,omitempty"`
	EstimatedShipping string `json:"estimatedShipping,omitempty"`
}

type apiAddress struct {
	Line1           string `json:"line1"`
	Line2           string `json:"line2"`
	PostalOrZipCode string `json:"postalOrZipCode"`
	CountryCode     string `json:"countryCode"`
	TownOrCity      string `json:"townOrCity"`
	StateOrCounty   string `json:"stateOrCounty"`
}

type apiRecipient struct {
	Name    string     `json:"name"`
	Email   string     `json:"email,omitempty"`
	Address apiAddress `json:"address"`
}

type apiAsset struct {
	PrintArea string `json:"printArea"`
	URL       string `json:"url"`
}

type apiItem struct {
	MerchantReference string     `json:"merchantReference,omitempty"`
	SKU               string     `json:"sku"`
	Copies            int        `json:"copies"`
	Sizing            string     `json:"sizing,omitempty"`
	Assets            []apiAsset `json:"assets,omitempty"`
}

type apiQuoteRequest struct {
	ShippingMethod         int       `json:"shippingMethod"`
	DestinationCountryCode string    `json:"destinationCountryCode"`
	Items                  []apiItem `json:"items"`
}

type apiOrderRequest struct {
	MerchantReference string       `json:"merchantReference"`
	ShippingMethod    int          `json:"shippingMethod"`
	Recipient         apiRecipient `json:"recipient"`
	Items             []apiItem    `json:"items"`
}

type costSummary struct {
	Items     *Money `json:"items"`
	Shipping  *Money `json:"shipping"`
	Tax       *Money `json:"tax"`
	TotalCost *Money `json:"totalCost"`
}

type apiQuoteResponse struct {
	Outcome string `json:"outcome"`
	Quotes  []struct {
		CostSummary costSummary `json:"costSummary"`
	} `json:"quotes"`
}

type apiOrderResponse struct {
	Outcome string `json:"outcome"`
	Order   struct {
		ID     string `json:"id"`
		Status struct {
			Stage string `json:"stage"`
		} `json:"status"`
		Charges []struct {
			TotalCost *Money `json:"totalCost"`
		} `json:"charges"`
		Shipments []struct {
			FulfillmentLocation struct {
				CountryCode string `json:"countryCode"`
			} `json:"fulfillmentLocation"`
			DispatchDate string `json:"dispatchDate"`
		} `json:"shipments"`
	} `json:"order"`
}

func (c *Client) checkSKUs(skus ...string) error {
	for _, sku := range skus {
		if _, ok := c.catalog.BySKU(sku); !ok {
			return fmt.Errorf("%w: %s", ErrUnknownProduct, sku)
		}
	}
	return nil
}

// Quote prices items for a destination with standard shipping.
func (c *Client) Quote(ctx context.Context, req QuoteRequest) (*Quote, error) {
	if c.apiKey == "" {
		return nil, ErrNotConfigured
	}
	c.log.Infof("💰 Getting Prodigi quote...")

	payload := apiQuoteRequest{
		ShippingMethod:         standardShipping,
		DestinationCountryCode: strings.ToUpper(req.CountryCode),
	}
	for _, item := range req.Items {
		if err := c.checkSKUs(item.ProductSKU); err != nil {
			return nil, err
		}
		payload.Items = append(payload.Items, apiItem{SKU: item.ProductSKU, Copies: item.Quantity})
	}

	var resp apiQuoteResponse
	if err := c.post(ctx, "/orders/quotes", payload, &resp); err != nil {
		return nil, fmt.Errorf("Prodigi quote error: %w", err)
	}
	if len(resp.Quotes) == 0 {
		return nil, fmt.Errorf("Prodigi quote error: no quotes returned (%s)", resp.Outcome)
	}

	cost := resp.Quotes[0].CostSummary
	quote := &Quote{
		Subtotal: cost.Items,
		Shipping: cost.Shipping,
		Tax:      cost.Tax,
		Total:    cost.TotalCost,
	}
	if cost.TotalCost != nil {
		quote.Currency = cost.TotalCost.Currency
	}
	return quote, nil
}

// CreateOrder places a print order. Every item prints the full image area.
func (c *Client) CreateOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	if c.apiKey == "" {
		return nil, ErrNotConfigured
	}
	c.log.Infof("🛒 Creating Prodigi order...")

	addr := req.Recipient.Address
	payload := apiOrderRequest{
		MerchantReference: fmt.Sprintf("omoide-%d", c.now().UnixMilli()),
		ShippingMethod:    standardShipping,
		Recipient: apiRecipient{
			Name:  req.Recipient.Name,
			Email: req.Recipient.Email,
			Address: apiAddress{
				Line1:           addr.Line1,
				Line2:           addr.Line2,
				PostalOrZipCode: addr.PostalCode,
				CountryCode:     strings.ToUpper(addr.CountryCode),
				TownOrCity:      addr.City,
				StateOrCounty:   addr.State,
			},
		},
	}
	for _, item := range req.Items {
		if err := c.checkSKUs(item.ProductSKU); err != nil {
			return nil, err
		}
		payload.Items = append(payload.Items, apiItem{
			MerchantReference: fmt.Sprintf("item-%d", item.ImageIndex),
			SKU:               item.ProductSKU,
			Copies:            item.Quantity,
			Sizing:            "fillPrintArea",
			Assets:            []apiAsset{{PrintArea: "default", URL: item.ImageURL}},
		})
	}

	var resp apiOrderResponse
	if err := c.post(ctx, "/orders", payload, &resp); err != nil {
		return nil, fmt.Errorf("Prodigi API error: %w", err)
	}
	if resp.Order.ID == "" {
		return nil, fmt.Errorf("Prodigi API error: order not created (%s)", resp.Outcome)
	}

	order := &Order{
		OrderID:           resp.Order.ID,
		Status:            resp.Order.Status.Stage,
		MerchantReference: payload.MerchantReference,
	}
	if len(resp.Order.Charges) > 0 && resp.Order.Charges[0].TotalCost != nil {
		order.Total = resp.Order.Charges[0].TotalCost
		order.Currency = order.Total.Currency
	}
	if len(resp.Order.Shipments) > 0 {
		order.EstimatedShipping = resp.Order.Shipments[0].DispatchDate
	}

	c.log.Infof("✅ Prodigi order created: %s", order.OrderID)
	return order, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Message string `json:"message"`
			Outcome string `json:"outcome"`
		}
		_ = json.Unmarshal(raw, &apiErr)
		msg := apiErr.Message
		if msg == "" {
			msg = apiErr.Outcome
		}
		if msg == "" {
			msg = "Unknown error"
		}
		return fmt.Errorf("%d - %s", resp.StatusCode, msg)
	}

	return json.Unmarshal(raw, out)
}
