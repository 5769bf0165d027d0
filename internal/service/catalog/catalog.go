// Package catalog holds the storefront product list and the spoken-search filter.
package catalog

import (
	"fmt"
	"os"
	"path"
	"regexp"
	"strings"
	"sync"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

// DefaultPrice is used for products that do not declare one.
const DefaultPrice = 20.0

// Product is one storefront item. ID is the 0-based position in the catalog.
type Product struct {
	ID    int     `json:"id" yaml:"-"`
	Name  string  `json:"name" yaml:"name"`
	Image string  `json:"image" yaml:"image"`
	Price float64 `json:"price" yaml:"price"`
}

// defaultImages is the product grid shipped with the storefront.
var defaultImages = []string{
	"kitchen-paper-towels-30-pack.jpg",
	"countertop-blender-64-oz.jpg",
	"double-elongated-twist-french-wire-earrings.webp",
	"men-navigator-sunglasses-brown.jpg",
	"round-sunglasses-black.jpg",
	"non-stick-cooking-set-15-pieces.webp",
	"women-knit-ballet-flat-black.jpg",
	"6-piece-non-stick-baking-set.webp",
	"cotton-bath-towels-teal.webp",
	"6-piece-white-dinner-plate-set.jpg",
	"knit-athletic-sneakers-pink.webp",
	"women-beach-sandals.jpg",
	"blackout-curtain-set-beige.webp",
	"sky-flower-stud-earrings.webp",
	"trash-can-with-foot-pedal-50-liter.jpg",
	"men-chino-pants-beige.jpg",
	"electric-glass-and-steel-hot-water-kettle.webp",
	"women-chiffon-beachwear-coverup-black.jpg",
	"straw-sunhat.webp",
	"duvet-cover-set-blue-twin.jpg",
	"facial-tissue-2-ply-18-boxes.jpg",
	"men-golf-polo-t-shirt-blue.jpg",
	"men-slim-fit-summer-shorts-gray.jpg",
	"knit-athletic-sneakers-gray.jpg",
	"bathroom-rug.jpg",
	"floral-mixing-bowl-set.jpg",
	"women-french-terry-fleece-jogger-camo.jpg",
	"plain-hooded-fleece-sweatshirt-yellow.jpg",
	"round-airtight-food-storage-containers.jpg",
	"vanity-mirror-silver.jpg",
	"coffeemaker-with-glass-carafe-black.jpg",
	"black-2-slot-toaster.jpg",
	"liquid-laundry-detergent-plain.jpg",
	"women-chunky-beanie-gray.webp",
	"men-cozy-fleece-zip-up-hoodie-red.jpg",
	"blackout-curtains-black.jpg",
	"men-athletic-shoes-green.jpg",
	"adults-plain-cotton-tshirt-2-pack-teal.jpg",
	"athletic-cotton-socks-6-pairs.jpg",
	"umbrella.jpg",
	"luxury-tower-set-6-piece.jpg",
	"women-stretch-popover-hoodie-black.jpg",
	"backpack.jpg",
	"intermediate-composite-basketball.jpg",
}

// NameFromImage derives a display name from an image file name:
// "straw-sunhat.webp" becomes "Straw Sunhat".
func NameFromImage(filename string) string {
	base := strings.TrimSuffix(filename, path.Ext(filename))
	// Casers are stateful, so one is built per call.
	return cases.Title(language.English).String(strings.Join(strings.Split(base, "-"), " "))
}

// Catalog is a concurrency-safe product list.
type Catalog struct {
	mu       sync.RWMutex
	products []Product
}

// Default returns the built-in storefront catalog.
func Default() *Catalog {
	products := make([]Product, len(defaultImages))
	for i, img := range defaultImages {
		products[i] = Product{
			ID:    i,
			Name:  NameFromImage(img),
			Image: img,
			Price: DefaultPrice,
		}
	}
	return &Catalog{products: products}
}

// New builds a catalog from the given products, renumbering IDs by position.
func New(products []Product) *Catalog {
	c := &Catalog{}
	c.replace(products)
	return c
}

type catalogFile struct {
	Products []Product `yaml:"products"`
}

// Load reads a YAML catalog file.
func Load(file string) (*Catalog, error) {
	products, err := readFile(file)
	if err != nil {
		return nil, err
	}
	return New(products), nil
}

// Reload replaces the product list with the contents of file. The current
// list is kept when the file cannot be read or is empty.
func (c *Catalog) Reload(file string) error {
	products, err := readFile(file)
	if err != nil {
		return err
	}
	c.replace(products)
	return nil
}

func readFile(file string) ([]Product, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	var cf catalogFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", file, err)
	}
	if len(cf.Products) == 0 {
		return nil, fmt.Errorf("catalog %s has no products", file)
	}
	return cf.Products, nil
}

func (c *Catalog) replace(products []Product) {
	next := make([]Product, len(products))
	for i, p := range products {
		p.ID = i
		if p.Name == "" && p.Image != "" {
			p.Name = NameFromImage(p.Image)
		}
		if p.Price == 0 {
			p.Price = DefaultPrice
		}
		next[i] = p
	}
	c.mu.Lock()
	c.products = next
	c.mu.Unlock()
}

// Len returns the number of products.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.products)
}

// All returns a copy of every product.
func (c *Catalog) All() []Product {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Product(nil), c.products...)
}

// Get looks a product up by its 0-based ID.
func (c *Catalog) Get(id int) (Product, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if id < 0 || id >= len(c.products) {
		return Product{}, false
	}
	return c.products[id], true
}

// ByIndex looks a product up by its 1-based spoken position.
func (c *Catalog) ByIndex(spoken int) (Product, bool) {
	return c.Get(spoken - 1)
}

// FilterPattern builds the whole-word, case-insensitive pattern used to
// filter product names. Regex metacharacters in term are escaped.
func FilterPattern(term string) (*regexp.Regexp, error) {
	term = strings.TrimSpace(term)
	return regexp.Compile(`(?i)\b` + regexp.QuoteMeta(term) + `\b`)
}

// Search returns products whose name contains term as a whole word.
// An empty term returns every product.
func (c *Catalog) Search(term string) []Product {
	if strings.TrimSpace(term) == "" {
		return c.All()
	}
	re, err := FilterPattern(term)
	if err != nil {
		return nil
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []Product
	for _, p := range c.products {
		if re.MatchString(p.Name) {
			out = append(out, p)
		}
	}
	return out
}
