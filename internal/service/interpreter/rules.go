package interpreter

import (
	"regexp"
	"strconv"
	"strings"
)

const (
	MinQuantity = 1
	MaxQuantity = 5
)

var productTriggers = []string{
	"show products",
	"open products",
	"products",
	"product page",
	"go to products",
	"view products",
	"see products",
	"browse products",
	"show me products",
	"take me to products",
	"where are products",
	"product list",
	"items list",
	"view items",
	"show items",
	"what do you sell",
	"show catalog",
	"view catalog",
}

var cartTriggers = []string{
	"cart",
	"my cart",
	"view cart",
	"open cart",
	"shopping cart",
	"go to cart",
	"show cart",
	"see my cart",
	"browse cart",
	"where is my cart",
	"shopping bag",
	"view my items",
	"what's in my cart",
	"checkout",
	"review cart",
}

var homeTriggers = []string{
	"home",
	"main page",
	"go home",
	"index",
	"return home",
	"back to home",
	"start over",
	"main menu",
	"home screen",
	"homepage",
	"go to main",
	"take me home",
}

// Evaluation order decides ties: Products > Cart > Home.
var navigationRules = []struct {
	destination Destination
	triggers    []string
}{
	{DestinationProducts, productTriggers},
	{DestinationCart, cartTriggers},
	{DestinationHome, homeTriggers},
}

// Triggers returns a copy of the phrase set for a destination.
func Triggers(d Destination) []string {
	for _, rule := range navigationRules {
		if rule.destination == d {
			return append([]string(nil), rule.triggers...)
		}
	}
	return nil
}

var numberWords = map[string]int{
	"one":   1,
	"two":   2,
	"three": 3,
	"four":  4,
	"five":  5,
	"six":   6,
	"seven": 7,
	"eight": 8,
	"nine":  9,
	"ten":   10,
}

const numberToken = `(\d+|one|two|three|four|five|six|seven|eight|nine|ten)`

var (
	searchPattern  = regexp.MustCompile(`search for (.+)`)
	tersePattern   = regexp.MustCompile(`\b(?:a|add)\s*(\d+)(?:\s*(?:quantity|q)(?:\s*(\d+)|\s+([a-z]+))|\s+(\d+))?`)
	verbosePattern = regexp.MustCompile(`adding product number ` + numberToken + `(?:\s+quantity\s+` + numberToken + `)?\b`)
	namedPattern   = regexp.MustCompile(`^add\s+(.+?)(?:\s+quantity\s+` + numberToken + `)?$`)
)

// Normalize lower-cases and trims a transcript, collapses inner whitespace and
// drops the sentence punctuation hosted transcription tends to append.
func Normalize(text string) string {
	text = strings.ToLower(strings.TrimSpace(text))
	text = strings.TrimRight(text, ".!?, ")
	return strings.Join(strings.Fields(text), " ")
}

// triggerMatches accepts equality, the text containing the trigger, or the
// trigger containing the text.
func triggerMatches(text, trigger string) bool {
	return text == trigger || strings.Contains(text, trigger) || strings.Contains(trigger, text)
}

func matchDestination(text string) (Destination, bool) {
	for _, rule := range navigationRules {
		for _, trigger := range rule.triggers {
			if triggerMatches(text, trigger) {
				return rule.destination, true
			}
		}
	}
	return DestinationNone, false
}

// parseNumber reads a digit run or a number word; -1 when unparseable.
func parseNumber(token string) int {
	if n, ok := numberWords[token]; ok {
		return n
	}
	n, err := strconv.Atoi(token)
	if err != nil {
		return -1
	}
	return n
}

// match applies the rules after normalization and dedup.
func match(text string) Result {
	if strings.Contains(text, "clear") {
		return Result{Intent: ClearTranscriptDisplay(), Text: text}
	}

	if dest, ok := matchDestination(text); ok {
		return Result{Intent: Navigate(dest), Text: text}
	}

	if m := searchPattern.FindStringSubmatch(text); m != nil {
		if term := strings.TrimSpace(m[1]); term != "" {
			return Result{Intent: Search(term), Text: text}
		}
	}

	if intent, ok := matchAddToCart(text); ok {
		return validateAddToCart(intent, text)
	}

	return Result{Intent: None(), Reason: ReasonNoMatch, Text: text}
}

func matchAddToCart(text string) (Intent, bool) {
	if m := tersePattern.FindStringSubmatch(text); m != nil {
		// A word after the quantity keyword that is not a number gives -1, which
		// fails validation instead of defaulting to one.
		quantity := 1
		for _, token := range m[2:] {
			if token != "" {
				quantity = parseNumber(token)
				break
			}
		}
		return AddToCart(parseNumber(m[1]), quantity), true
	}

	if m := verbosePattern.FindStringSubmatch(text); m != nil {
		quantity := 1
		if m[2] != "" {
			quantity = parseNumber(m[2])
		}
		return AddToCart(parseNumber(m[1]), quantity), true
	}

	if m := namedPattern.FindStringSubmatch(text); m != nil {
		quantity := 1
		if m[2] != "" {
			quantity = parseNumber(m[2])
		}
		return AddNamedToCart(strings.TrimSpace(m[1]), quantity), true
	}

	return Intent{}, false
}

func validateAddToCart(intent Intent, text string) Result {
	validIndex := intent.ProductName != "" || intent.ProductIndex >= 1
	validQuantity := intent.Quantity >= MinQuantity && intent.Quantity <= MaxQuantity
	if validIndex && validQuantity {
		return Result{Intent: intent, Text: text}
	}
	attempted := intent
	return Result{
		Intent:    None(),
		Reason:    ReasonInvalidParameters,
		Attempted: &attempted,
		Text:      text,
	}
}
