package repo

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/alkahf/storefront/internal/catalog"
	"github.com/alkahf/storefront/internal/docstore"
	"github.com/alkahf/storefront/internal/pricing"
)

// productDoc is the stored shape of books and packs.
type productDoc struct {
	Title         string         `json:"title"`
	Images        []string       `json:"images"`
	Price         pricing.Money  `json:"price"`
	PromoPrice    *pricing.Money `json:"promoPrice"`
	Stock         int            `json:"stock"`
	Language      string         `json:"language"`
	Edition       string         `json:"edition"`
	Category      string         `json:"category"`
	Author        string         `json:"author"`
	Description   string         `json:"description"`
	IncludedBooks []string       `json:"includedBooks"`
}

// ProductRepo reads books and packs from the document store.
type ProductRepo struct {
	Docs *docstore.Store
}

// ListProducts implements catalog.Reader.
func (r ProductRepo) ListProducts(ctx context.Context, kind catalog.Kind, category string) ([]catalog.Product, error) {
	var filter map[string]any
	if category = strings.TrimSpace(category); category != "" {
		filter = map[string]any{"category": category}
	}
	docs, err := r.Docs.Find(ctx, kind.Collection(), filter, docstore.FindOptions{OrderBy: "title"})
	if err != nil {
		return nil, storageErr("list "+kind.Collection(), err)
	}
	out := make([]catalog.Product, 0, len(docs))
	for _, d := range docs {
		p, err := decodeProduct(kind, d)
		if err != nil {
			return nil, storageErr("decode "+kind.Collection(), err)
		}
		out = append(out, p)
	}
	return out, nil
}

// GetProduct implements catalog.Reader.
func (r ProductRepo) GetProduct(ctx context.Context, kind catalog.Kind, id string) (catalog.Product, error) {
	d, err := r.Docs.Get(ctx, kind.Collection(), id)
	if errors.Is(err, docstore.ErrNotFound) {
		return catalog.Product{}, catalog.ErrNotFound
	}
	if err != nil {
		return catalog.Product{}, storageErr("get "+kind.Collection(), err)
	}
	p, err := decodeProduct(kind, d)
	if err != nil {
		return catalog.Product{}, storageErr("decode "+kind.Collection(), err)
	}
	return p, nil
}

func decodeProduct(kind catalog.Kind, d docstore.Document) (catalog.Product, error) {
	var doc productDoc
	if err := d.Decode(&doc); err != nil {
		return catalog.Product{}, fmt.Errorf("product %s: %w", d.ID, err)
	}
	if doc.Price.IsNegative() {
		return catalog.Product{}, fmt.Errorf("product %s: negative price", d.ID)
	}
	p := catalog.Product{
		ID:       d.ID,
		Kind:     kind,
		Title:    doc.Title,
		Images:   doc.Images,
		Price:    doc.Price,
		Stock:    max(doc.Stock, 0),
		Language: doc.Language,
		Edition:  doc.Edition,
		Category: doc.Category,
	}
	if doc.PromoPrice != nil && !doc.PromoPrice.IsNegative() {
		p.PromoPrice = doc.PromoPrice
	}
	if kind == catalog.KindPack {
		p.Pack = &catalog.PackInfo{IncludedBooks: doc.IncludedBooks, Description: doc.Description}
	} else {
		p.Book = &catalog.BookInfo{Author: doc.Author, Description: doc.Description}
	}
	return p, nil
}
