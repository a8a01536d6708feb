package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fjod/go_cart/ordering-service/internal/cart"
	"github.com/fjod/go_cart/ordering-service/internal/domain"
	"github.com/fjod/go_cart/ordering-service/internal/ledger"
	"github.com/fjod/go_cart/ordering-service/internal/pos"
)

// gatewayPOS accepts orders but answers /orders/create with a body that is
// not the POS payload, as a misbehaving proxy in front of it would.
type gatewayPOS struct {
	mu       sync.Mutex
	creates  int
	accepted map[string]bool
}

func (g *gatewayPOS) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/api/1/access_token":
		fmt.Fprint(w, `{"token": "tok", "expiresIn": 3600}`)

	case "/api/1/orders/create":
		var req struct {
			Order struct {
				ID string `json:"id"`
			} `json:"order"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		g.mu.Lock()
		g.creates++
		g.accepted[req.Order.ID] = true
		g.mu.Unlock()
		fmt.Fprint(w, `<html>gateway ok</html>`)

	case "/api/1/orders/by_id":
		var req struct {
			OrderIDs []string `json:"orderIds"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		g.mu.Lock()
		defer g.mu.Unlock()
		if len(req.OrderIDs) == 1 && g.accepted[req.OrderIDs[0]] {
			fmt.Fprintf(w, `{"orders": [{"id": %q, "creationStatus": "Success", "posOrderId": "POS-1"}]}`, req.OrderIDs[0])
			return
		}
		fmt.Fprint(w, `{"orders": []}`)

	default:
		http.NotFound(w, r)
	}
}

func (g *gatewayPOS) createCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.creates
}

func TestConfirm_UnreadableAcceptanceIsResolvedByReconcile(t *testing.T) {
	gateway := &gatewayPOS{accepted: make(map[string]bool)}
	srv := httptest.NewServer(gateway)
	t.Cleanup(srv.Close)

	client := pos.NewClient(pos.Config{
		BaseURL:        srv.URL,
		APILogin:       "login",
		OrganizationID: "org-1",
		CallTimeout:    time.Second,
	}, nil)
	carts := cart.NewService(cart.NewMemoryRepository(), nil, newMenuMock(), time.Minute, nil)
	orders := ledger.NewMemoryLedger()
	engine := NewEngine(carts, client, orders, Options{SubmitTimeout: 5 * time.Second}, nil)
	ctx := context.Background()

	_, err := engine.AddItem(ctx, "u1", "A", 2)
	require.NoError(t, err)
	_, err = engine.Checkout(ctx, "u1")
	require.NoError(t, err)

	order, err := engine.Confirm(ctx, "u1")
	require.ErrorIs(t, err, ErrOutcomeUnknown)
	assert.Nil(t, order)
	assert.Equal(t, StateAwaitingConfirmation, engine.State("u1"))

	pending, err := orders.PendingForUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCreated, pending.Status)

	_, err = engine.Confirm(ctx, "u1")
	require.ErrorIs(t, err, ErrOrderPending)
	assert.Equal(t, 1, gateway.createCount(), "the order is not sent twice")

	report, err := engine.Reconcile(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, ReconcileReport{Checked: 1, Confirmed: 1}, report)

	stored, err := orders.Get(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusConfirmed, stored.Status)
	assert.Equal(t, "POS-1", stored.PosOrderID)

	c, err := engine.Cart(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, c.IsEmpty())

	all, err := orders.ListByUser(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, all, 1)
}
