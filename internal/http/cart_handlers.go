package http

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"voice-commerce-service/internal/service/catalog"
	"voice-commerce-service/internal/store/cart"
)

func (a *api) listProducts(w http.ResponseWriter, r *http.Request) {
	term := r.URL.Query().Get("search")
	products := a.Catalog.Search(term)

	body := map[string]any{
		"products": products,
		"count":    len(products),
	}
	if term != "" {
		if re, err := catalog.FilterPattern(term); err == nil {
			body["searchTerm"] = term
			body["filterPattern"] = re.String()
		}
	}
	writeOK(w, http.StatusOK, body)
}

func (a *api) getCart(w http.ResponseWriter, r *http.Request) {
	writeOK(w, http.StatusOK, map[string]any{"cart": a.Carts.Get(userFrom(r.Context()).ID)})
}

func (a *api) addCartItem(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProductID *int `json:"productId"`
		Quantity  int  `json:"quantity"`
	}
	if err := decodeJSON(r, &req); err != nil || req.ProductID == nil {
		writeError(w, http.StatusBadRequest, "productId is required")
		return
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}

	p, ok := a.Catalog.Get(*req.ProductID)
	if !ok {
		writeError(w, http.StatusNotFound, "Product not found")
		return
	}

	userID := userFrom(r.Context()).ID
	item, count, err := a.Carts.AddItem(userID, cart.Item{
		ID:       p.ID,
		Name:     p.Name,
		Image:    p.Image,
		Price:    p.Price,
		Quantity: req.Quantity,
	})
	if err != nil {
		a.cartError(w, err)
		return
	}
	a.metrics.RecordCartAdd("api", req.Quantity)
	writeOK(w, http.StatusOK, map[string]any{
		"message": fmt.Sprintf("Added %s x%d to cart", p.Name, req.Quantity),
		"item":    item,
		"count":   count,
	})
}

func (a *api) updateCartItem(w http.ResponseWriter, r *http.Request) {
	productID, ok := productIDParam(w, r)
	if !ok {
		return
	}
	var req struct {
		Delta int `json:"delta"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	userID := userFrom(r.Context()).ID
	item, kept, err := a.Carts.UpdateQuantity(userID, productID, req.Delta)
	if err != nil {
		a.cartError(w, err)
		return
	}
	body := map[string]any{"removed": !kept, "cart": a.Carts.Get(userID)}
	if kept {
		body["item"] = item
	}
	writeOK(w, http.StatusOK, body)
}

func (a *api) removeCartItem(w http.ResponseWriter, r *http.Request) {
	productID, ok := productIDParam(w, r)
	if !ok {
		return
	}
	userID := userFrom(r.Context()).ID
	if err := a.Carts.Remove(userID, productID); err != nil {
		a.cartError(w, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"message": "Item removed", "cart": a.Carts.Get(userID)})
}

func (a *api) clearCart(w http.ResponseWriter, r *http.Request) {
	if err := a.Carts.Clear(userFrom(r.Context()).ID); err != nil {
		a.cartError(w, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"message": "Cart cleared"})
}

func (a *api) cartError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, cart.ErrInvalidQuantity):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, cart.ErrItemNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		a.logger.Error().Err(err).Msg("Cart store failure")
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func productIDParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "productId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid product id")
		return 0, false
	}
	return id, true
}
