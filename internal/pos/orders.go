package pos

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/fjod/go_cart/ordering-service/internal/domain"
)

const (
	creationSuccess = "Success"
	creationError   = "Error"
)

type RemoteState string

const (
	RemoteConfirmed  RemoteState = "confirmed"
	RemoteInProgress RemoteState = "in_progress"
	RemoteFailed     RemoteState = "failed"
	RemoteNotFound   RemoteState = "not_found"
)

// RemoteStatus is what the POS knows about an order we submitted.
type RemoteStatus struct {
	State      RemoteState
	PosOrderID string
}

type createOrderRequest struct {
	OrganizationID string      `json:"organizationId"`
	Order          createOrder `json:"order"`
}

type createOrder struct {
	ID    string            `json:"id"`
	Items []createOrderItem `json:"items"`
}

type createOrderItem struct {
	ProductID string      `json:"productId"`
	Amount    int         `json:"amount"`
	Price     json.Number `json:"price"`
	Type      string      `json:"type"`
}

type createOrderResponse struct {
	CorrelationID string `json:"correlationId"`
	OrderInfo     struct {
		ID             string `json:"id"`
		CreationStatus string `json:"creationStatus"`
	} `json:"orderInfo"`
}

// SubmitOrder sends the order to the POS and returns the POS order id. The
// order id travels with the request so the POS can deduplicate retries.
//
// A *TimeoutError means the POS may have accepted the order.
func (c *Client) SubmitOrder(ctx context.Context, order *domain.Order) (string, error) {
	req := createOrderRequest{
		OrganizationID: c.cfg.OrganizationID,
		Order: createOrder{
			ID:    order.ID.String(),
			Items: make([]createOrderItem, 0, len(order.Lines)),
		},
	}
	for _, l := range order.Lines {
		req.Order.Items = append(req.Order.Items, createOrderItem{
			ProductID: l.ProductID,
			Amount:    l.Quantity,
			Price:     json.Number(l.UnitPrice.String()),
			Type:      "Product",
		})
	}

	var resp createOrderResponse
	if err := c.call(ctx, "submit order", "/api/1/orders/create", req, &resp, true); err != nil {
		return "", err
	}

	if resp.OrderInfo.CreationStatus == creationError {
		return "", &UpstreamError{Op: "submit order", StatusCode: http.StatusOK, Err: errors.New("order rejected by pos")}
	}
	if resp.OrderInfo.ID == "" {
		return "", &TimeoutError{Op: "submit order", Err: fmt.Errorf("%w: missing order id", errMalformed)}
	}
	return resp.OrderInfo.ID, nil
}

type orderStatusRequest struct {
	OrganizationID string   `json:"organizationId"`
	OrderIDs       []string `json:"orderIds"`
}

type orderStatusResponse struct {
	Orders []struct {
		ID             string `json:"id"`
		CreationStatus string `json:"creationStatus"`
		PosOrderID     string `json:"posOrderId"`
	} `json:"orders"`
}

// OrderStatus looks up an order previously sent with SubmitOrder.
func (c *Client) OrderStatus(ctx context.Context, orderID uuid.UUID) (RemoteStatus, error) {
	req := orderStatusRequest{OrganizationID: c.cfg.OrganizationID, OrderIDs: []string{orderID.String()}}

	var resp orderStatusResponse
	if err := c.call(ctx, "order status", "/api/1/orders/by_id", req, &resp, false); err != nil {
		return RemoteStatus{}, err
	}

	for _, o := range resp.Orders {
		if o.ID != orderID.String() {
			continue
		}
		switch o.CreationStatus {
		case creationSuccess:
			return RemoteStatus{State: RemoteConfirmed, PosOrderID: o.PosOrderID}, nil
		case creationError:
			return RemoteStatus{State: RemoteFailed}, nil
		default: // InProgress
			return RemoteStatus{State: RemoteInProgress, PosOrderID: o.PosOrderID}, nil
		}
	}
	return RemoteStatus{State: RemoteNotFound}, nil
}
