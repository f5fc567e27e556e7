package model

import "github.com/shopspring/decimal"

// Product is the catalog's view of a product at lookup time.
type Product struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
}
