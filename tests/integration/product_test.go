//go:build integration

package integration

import (
	"net/http"
	"testing"
)

func TestListProducts(t *testing.T) {
	resp := doGet(t, "/api/products")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	products := decodeJSON[[]productResponse](t, resp)
	if len(products) != 5 {
		t.Fatalf("expected 5 products, got %d", len(products))
	}
}

func TestListProducts_CategoryFilter(t *testing.T) {
	resp := doGet(t, "/api/products?category=protein")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	products := decodeJSON[[]productResponse](t, resp)
	if len(products) != 2 {
		t.Fatalf("expected 2 protein products, got %d", len(products))
	}
	for _, p := range products {
		if p.Category != "protein" {
			t.Errorf("product %s: category %q, want protein", p.ID, p.Category)
		}
	}
}

func TestGetProduct(t *testing.T) {
	resp := doGet(t, "/api/products/whey-vanilla")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	p := decodeJSON[productResponse](t, resp)

	if p.ID != "whey-vanilla" {
		t.Errorf("id: got %q", p.ID)
	}
	if len(p.Sizes) != 3 {
		t.Fatalf("expected 3 sizes, got %d", len(p.Sizes))
	}
	var oneKG *sizeResponse
	for i := range p.Sizes {
		if p.Sizes[i].Label == "1kg" {
			oneKG = &p.Sizes[i]
		}
	}
	if oneKG == nil {
		t.Fatal("1kg size not found")
	}
	if oneKG.Price != 599 {
		t.Errorf("1kg price: got %v, want 599", oneKG.Price)
	}
	if !oneKG.InStock {
		t.Error("1kg should be in stock")
	}
	if !p.InStock {
		t.Error("product should be in stock")
	}
}

func TestGetProduct_NotFound(t *testing.T) {
	resp := doGet(t, "/api/products/no-such-product")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	errResp := decodeJSON[errorResponse](t, resp)
	if errResp.Code != 404 {
		t.Errorf("error code: got %d, want 404", errResp.Code)
	}
}
