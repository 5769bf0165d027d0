// Package interpreter turns finalized voice transcripts into storefront intents.
package interpreter

import "fmt"

// Kind identifies the variant carried by an Intent.
type Kind int

const (
	// KindNone - nothing recognized.
	KindNone Kind = iota
	// KindNavigate - move to one of the storefront pages.
	KindNavigate
	// KindSearch - filter the product list by a spoken term.
	KindSearch
	// KindAddToCart - put a product in the cart.
	KindAddToCart
	// KindClearTranscript - wipe the transcript shown to the user.
	KindClearTranscript
)

// String returns the wire name of the kind.
func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindNavigate:
		return "navigate"
	case KindSearch:
		return "search"
	case KindAddToCart:
		return "add_to_cart"
	case KindClearTranscript:
		return "clear_transcript"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Destination is a navigation target.
type Destination int

const (
	DestinationNone Destination = iota
	DestinationHome
	DestinationProducts
	DestinationCart
)

// String returns the page name of the destination.
func (d Destination) String() string {
	switch d {
	case DestinationHome:
		return "home"
	case DestinationProducts:
		return "products"
	case DestinationCart:
		return "cart"
	default:
		return ""
	}
}

// Intent is a tagged variant; only the fields of its Kind are meaningful.
type Intent struct {
	Kind        Kind
	Destination Destination // KindNavigate
	Term        string      // KindSearch, passed through unescaped
	// KindAddToCart. ProductIndex is 1-based as spoken; it is 0 when the
	// product was named instead of numbered.
	ProductIndex int
	ProductName  string
	Quantity     int
}

func None() Intent { return Intent{Kind: KindNone} }

func Navigate(d Destination) Intent { return Intent{Kind: KindNavigate, Destination: d} }

func Search(term string) Intent { return Intent{Kind: KindSearch, Term: term} }

func AddToCart(productIndex, quantity int) Intent {
	return Intent{Kind: KindAddToCart, ProductIndex: productIndex, Quantity: quantity}
}

// AddNamedToCart is the by-name form of AddToCart ("add sunhat quantity 2").
func AddNamedToCart(name string, quantity int) Intent {
	return Intent{Kind: KindAddToCart, ProductName: name, Quantity: quantity}
}

func ClearTranscriptDisplay() Intent { return Intent{Kind: KindClearTranscript} }

// Reason explains why a Result carries no intent.
type Reason string

const (
	// ReasonNoMatch - no rule matched; ignored upstream.
	ReasonNoMatch Reason = "no_match"
	// ReasonInvalidParameters - add-to-cart grammar matched but the values are out of range.
	ReasonInvalidParameters Reason = "invalid_parameters"
	// ReasonDuplicateSuppressed - same final transcript inside the debounce window.
	ReasonDuplicateSuppressed Reason = "duplicate_suppressed"
)

// Result is the outcome of one classification.
type Result struct {
	Intent Intent
	// Reason is empty when Intent was recognized.
	Reason Reason
	// Attempted holds the parsed add-to-cart values when Reason is
	// ReasonInvalidParameters so the caller can explain what was wrong.
	Attempted *Intent
	// Text is the normalized transcript the decision was made on.
	Text string
}

// Recognized reports whether the result carries an actionable intent.
func (r Result) Recognized() bool {
	return r.Intent.Kind != KindNone
}
