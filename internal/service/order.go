package service

import (
	"fmt"

	"github.com/efreitasn/minibourse/internal/domain"
	"github.com/efreitasn/minibourse/internal/engine"
	"github.com/efreitasn/minibourse/internal/session"
	"github.com/efreitasn/minibourse/internal/store"
)

// ValidOrderStatuses lists all valid order status values for validation.
var ValidOrderStatuses = map[domain.OrderStatus]bool{
	domain.OrderStatusOpen:            true,
	domain.OrderStatusPartiallyFilled: true,
	domain.OrderStatusFilled:          true,
	domain.OrderStatusCancelled:       true,
	domain.OrderStatusReplaced:        true,
}

// PlaceOrderRequest represents the input for order placement. The owning
// account is the caller's.
type PlaceOrderRequest struct {
	StockCode string
	Side      domain.OrderSide
	Type      domain.OrderType
	Price     *int64 // required for LO, must be nil for ATO/ATC
	Quantity  int64
}

// ModifyOrderRequest carries the new price and/or quantity of an order.
type ModifyOrderRequest struct {
	Price    *int64
	Quantity *int64
}

// OrderService runs order operations against the engine under a
// consistent session phase.
type OrderService struct {
	session  *session.Controller
	engine   *engine.Engine
	accounts *store.AccountStore
	orders   *store.OrderStore
}

// NewOrderService creates a new OrderService with the given dependencies.
func NewOrderService(
	controller *session.Controller,
	eng *engine.Engine,
	accounts *store.AccountStore,
	orders *store.OrderStore,
) *OrderService {
	return &OrderService{
		session:  controller,
		engine:   eng,
		accounts: accounts,
		orders:   orders,
	}
}

// PlaceOrder validates the request and submits it for the caller's account.
func (s *OrderService) PlaceOrder(caller domain.Caller, req PlaceOrderRequest) (*domain.Order, error) {
	if caller.AccountID == "" || !caller.Role.Can(domain.CapTrade) {
		return nil, domain.ErrCapabilityNotPermitted
	}
	if !req.Type.Valid() {
		return nil, &domain.ValidationError{
			Message: fmt.Sprintf("Unknown order type: %s. Must be one of: LO, ATO, ATC", req.Type),
		}
	}
	if !req.Side.Valid() {
		return nil, &domain.ValidationError{Message: "side must be 'buy' or 'sell'"}
	}
	if !stockCodeRegex.MatchString(req.StockCode) {
		return nil, &domain.ValidationError{Message: "stock_code must match ^[A-Z0-9]{1,10}$"}
	}

	var price int64
	switch {
	case req.Type.IsMarket() && req.Price != nil:
		return nil, fmt.Errorf("%w: %s orders must not include a price", domain.ErrInvalidPrice, req.Type)
	case !req.Type.IsMarket() && req.Price == nil:
		return nil, fmt.Errorf("%w: price is required for LO orders", domain.ErrInvalidPrice)
	case req.Price != nil:
		price = *req.Price
	}

	if !s.accounts.Exists(caller.AccountID) {
		return nil, domain.ErrAccountNotFound
	}

	var order *domain.Order
	err := s.session.Read(func(st domain.SessionState) error {
		var err error
		order, err = s.engine.Place(st.Phase, engine.PlaceRequest{
			AccountID: caller.AccountID,
			StockCode: req.StockCode,
			Side:      req.Side,
			Type:      req.Type,
			Price:     price,
			Quantity:  req.Quantity,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// GetOrder retrieves an order with its trades.
func (s *OrderService) GetOrder(caller domain.Caller, orderID int64) (*domain.Order, error) {
	order, err := s.engine.GetOrder(orderID)
	if err != nil {
		return nil, err
	}
	if !caller.CanAccess(order.AccountID) {
		return nil, domain.ErrOrderNotOwned
	}
	return order, nil
}

// CancelOrder cancels an open or partially filled order.
func (s *OrderService) CancelOrder(caller domain.Caller, orderID int64) (*domain.Order, error) {
	var order *domain.Order
	err := s.session.Read(func(st domain.SessionState) error {
		var err error
		order, err = s.engine.Cancel(st.Phase, orderID, caller)
		return err
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// ModifyOrder changes the price and/or quantity of a resting LO order.
// The returned order is the replacement when the change costs priority.
func (s *OrderService) ModifyOrder(caller domain.Caller, orderID int64, req ModifyOrderRequest) (*domain.Order, error) {
	var order *domain.Order
	err := s.session.Read(func(st domain.SessionState) error {
		var err error
		order, err = s.engine.Modify(st.Phase, orderID, caller, engine.ModifyRequest{
			Price:    req.Price,
			Quantity: req.Quantity,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// ListOrders returns a paginated list of orders for an account with
// optional status filtering.
func (s *OrderService) ListOrders(caller domain.Caller, accountID string, status *domain.OrderStatus, page, limit int) ([]*domain.Order, int, error) {
	if !caller.CanAccess(accountID) {
		return nil, 0, domain.ErrCapabilityNotPermitted
	}
	if !s.accounts.Exists(accountID) {
		return nil, 0, domain.ErrAccountNotFound
	}

	if status != nil && !ValidOrderStatuses[*status] {
		return nil, 0, &domain.ValidationError{
			Message: fmt.Sprintf("Invalid status filter: '%s'. Must be one of: open, partially_filled, filled, cancelled, replaced", *status),
		}
	}
	if page < 1 {
		return nil, 0, &domain.ValidationError{Message: "page must be >= 1"}
	}
	if limit < 1 || limit > 100 {
		return nil, 0, &domain.ValidationError{Message: "limit must be between 1 and 100"}
	}

	orders, total := s.orders.ListByAccount(accountID, status, page, limit)
	out := make([]*domain.Order, len(orders))
	for i, o := range orders {
		out[i] = s.engine.Snapshot(o)
	}
	return out, total, nil
}
