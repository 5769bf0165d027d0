// Package dispatcher applies recognized intents to the storefront.
package dispatcher

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"voice-commerce-service/internal/observability/metrics"
	"voice-commerce-service/internal/service/catalog"
	"voice-commerce-service/internal/service/interpreter"
	"voice-commerce-service/internal/store/cart"
)

// Action tells the client what to do with an Outcome.
type Action string

const (
	ActionNone            Action = "none"
	ActionNavigate        Action = "navigate"
	ActionSearch          Action = "search"
	ActionAddToCart       Action = "add_to_cart"
	ActionClearTranscript Action = "clear_transcript"
	// ActionNotice shows a transient message and changes nothing.
	ActionNotice Action = "notice"
)

// Pages maps destinations to storefront paths.
var Pages = map[interpreter.Destination]string{
	interpreter.DestinationHome:     "/index.html",
	interpreter.DestinationProducts: "/products.html",
	interpreter.DestinationCart:     "/cart.html",
}

// Outcome is what a transcript did, in client terms.
type Outcome struct {
	Action     Action `json:"action"`
	Intent     string `json:"intent"`
	Reason     string `json:"reason,omitempty"`
	Transcript string `json:"transcript,omitempty"`

	// Interim is set for non-final transcripts, which only update the display.
	Interim bool `json:"interim,omitempty"`

	Page          string `json:"page,omitempty"`
	Message       string `json:"message,omitempty"`
	Notice        string `json:"notice,omitempty"`
	StopListening bool   `json:"stopListening,omitempty"`

	SearchTerm    string            `json:"searchTerm,omitempty"`
	FilterPattern string            `json:"filterPattern,omitempty"`
	Products      []catalog.Product `json:"products,omitempty"`

	CartItem  *cart.Item `json:"cartItem,omitempty"`
	CartCount int        `json:"cartCount,omitempty"`
}

// Catalog is the product lookup the dispatcher needs.
type Catalog interface {
	ByIndex(spoken int) (catalog.Product, bool)
	Search(term string) []catalog.Product
}

// CartStore receives add-to-cart intents.
type CartStore interface {
	AddItem(userID string, item cart.Item) (cart.Item, int, error)
}

// Dispatcher is stateless and safe for concurrent use; per-session ordering
// is the caller's job.
type Dispatcher struct {
	catalog Catalog
	carts   CartStore
	metrics *metrics.Metrics
}

func New(c Catalog, carts CartStore) *Dispatcher {
	return &Dispatcher{catalog: c, carts: carts, metrics: metrics.DefaultMetrics}
}

// Dispatch turns a classification into an Outcome. Only cart failures are
// returned as errors; everything the user said wrong becomes a notice.
func (d *Dispatcher) Dispatch(ctx context.Context, userID string, res interpreter.Result) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}
	start := time.Now()

	out := Outcome{
		Action:     ActionNone,
		Intent:     res.Intent.Kind.String(),
		Reason:     string(res.Reason),
		Transcript: res.Text,
	}

	var err error
	switch res.Intent.Kind {
	case interpreter.KindNavigate:
		d.navigate(&out, res.Intent.Destination)
	case interpreter.KindSearch:
		d.search(&out, res.Intent.Term)
	case interpreter.KindAddToCart:
		err = d.addToCart(&out, userID, res.Intent)
	case interpreter.KindClearTranscript:
		out.Action = ActionClearTranscript
	case interpreter.KindNone:
		if res.Reason == interpreter.ReasonInvalidParameters {
			out.Action = ActionNotice
			out.Notice = invalidNotice(res.Attempted)
		}
	}
	if err != nil {
		return Outcome{}, err
	}

	d.metrics.RecordDispatch(string(out.Action), time.Since(start).Seconds())
	return out, nil
}

func (d *Dispatcher) navigate(out *Outcome, dest interpreter.Destination) {
	page := Pages[dest]
	out.Action = ActionNavigate
	out.Page = page
	out.Message = fmt.Sprintf("Navigating to %s page...", strings.TrimSuffix(path.Base(page), ".html"))
	out.StopListening = true
}

func (d *Dispatcher) search(out *Outcome, term string) {
	out.Action = ActionSearch
	out.SearchTerm = term
	if re, err := catalog.FilterPattern(term); err == nil {
		out.FilterPattern = re.String()
	}
	out.Products = d.catalog.Search(term)
	out.Message = fmt.Sprintf("Found %d products for %q", len(out.Products), term)
}

func (d *Dispatcher) addToCart(out *Outcome, userID string, in interpreter.Intent) error {
	product, ok := d.resolve(in)
	if !ok {
		out.Action = ActionNotice
		out.Reason = string(interpreter.ReasonInvalidParameters)
		out.Notice = notFoundNotice(in)
		return nil
	}

	item, count, err := d.carts.AddItem(userID, cart.Item{
		ID:       product.ID,
		Name:     product.Name,
		Image:    product.Image,
		Price:    product.Price,
		Quantity: in.Quantity,
	})
	if err != nil {
		return fmt.Errorf("add %s to cart: %w", product.Name, err)
	}
	d.metrics.RecordCartAdd("voice", in.Quantity)

	out.Action = ActionAddToCart
	out.CartItem = &item
	out.CartCount = count
	out.Message = fmt.Sprintf("Added %d x %s to cart", in.Quantity, product.Name)
	return nil
}

// resolve finds the product for a numbered or named add-to-cart intent. A
// name resolves to the first product it matches as a whole word.
func (d *Dispatcher) resolve(in interpreter.Intent) (catalog.Product, bool) {
	if in.ProductIndex > 0 {
		return d.catalog.ByIndex(in.ProductIndex)
	}
	if in.ProductName == "" {
		return catalog.Product{}, false
	}
	matches := d.catalog.Search(in.ProductName)
	if len(matches) == 0 {
		return catalog.Product{}, false
	}
	return matches[0], true
}

func invalidNotice(attempted *interpreter.Intent) string {
	if attempted == nil {
		return "Sorry, I couldn't understand that request."
	}
	if attempted.Quantity < interpreter.MinQuantity || attempted.Quantity > interpreter.MaxQuantity {
		return fmt.Sprintf("Quantity must be between %d and %d.", interpreter.MinQuantity, interpreter.MaxQuantity)
	}
	return notFoundNotice(*attempted)
}

func notFoundNotice(in interpreter.Intent) string {
	if in.ProductName != "" {
		return fmt.Sprintf("Product %q not found.", in.ProductName)
	}
	return fmt.Sprintf("Product %d not found.", in.ProductIndex)
}
