// seed inserts a test customer and a small product catalog into the local dev database,
// then prints a bearer token for that customer.
// Run: go run ./cmd/seed
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ErlanBelekov/replenishment/internal/infrastructure/postgres"
	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
)

const (
	seedCustomerID = "cust_seed"
	seedEmail      = "seed@test.local"
	seedName       = "Seed Customer"
)

type productSpec struct {
	id     string
	name   string
	price  string
	weight int
}

var products = []productSpec{
	// light: a few of these stay under 1kg
	{"coffee-beans-250g", "Coffee beans 250g", "9.99", 250},
	{"paper-filters", "Paper filters (100)", "3.50", 100},
	{"toothpaste", "Toothpaste", "2.99", 120},

	// medium
	{"dog-food-4kg", "Dog food 4kg", "24.90", 4000},
	{"detergent-3l", "Laundry detergent 3L", "12.49", 3100},

	// heavy / freight once multiplied
	{"cat-litter-10kg", "Cat litter 10kg", "15.00", 10000},
	{"water-case", "Mineral water case 24x1.5L", "8.99", 36500},
}

func main() {
	ctx := context.Background()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL is not set, run: direnv allow")
	}

	pool, err := postgres.NewPool(ctx, dbURL, "replenishment-seed")
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer pool.Close()

	if _, err := pool.Exec(ctx, `
		INSERT INTO customers (id, email, name)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET email = EXCLUDED.email, name = EXCLUDED.name, updated_at = NOW()`,
		seedCustomerID, seedEmail, seedName,
	); err != nil {
		log.Fatalf("upsert customer: %v", err)
	}

	for _, p := range products {
		price, err := decimal.NewFromString(p.price)
		if err != nil {
			log.Fatalf("price %s: %v", p.id, err)
		}
		if _, err := pool.Exec(ctx, `
			INSERT INTO products (id, name, price, weight_grams)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, price = EXCLUDED.price, weight_grams = EXCLUDED.weight_grams`,
			p.id, p.name, price, p.weight,
		); err != nil {
			log.Fatalf("upsert product %s: %v", p.id, err)
		}
	}

	fmt.Println("Seed complete")
	fmt.Println()
	fmt.Printf("  Customer:  %s (%s)\n", seedCustomerID, seedEmail)
	fmt.Printf("  Products:  %d\n", len(products))
	for _, p := range products {
		fmt.Printf("    %-20s %6s  %dg\n", p.id, p.price, p.weight)
	}
	fmt.Println()

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		fmt.Println("  JWT_SECRET is not set, skipping token")
		return
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   seedCustomerID,
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
	}).SignedString([]byte(secret))
	if err != nil {
		log.Fatalf("sign token: %v", err)
	}

	fmt.Println("How to test:")
	fmt.Println()
	fmt.Printf("    export JWT=%s\n", token)
	fmt.Println()
	fmt.Println("    curl -s -X POST http://localhost:8080/replenishments \\")
	fmt.Println("      -H \"Authorization: Bearer $JWT\" -H 'Content-Type: application/json' \\")
	fmt.Println(`      -d '{"payment_method":"pm_card_visa","shipping_country":"US",`)
	fmt.Println(`           "items":[{"product_id":"coffee-beans-250g","quantity":2},{"product_id":"paper-filters","quantity":1}],`)
	fmt.Println(`           "interval":1,"unit":"day","times":3}'`)
	fmt.Println()
	fmt.Println("  With ENV=local the worker charges through the approving local gateway and logs")
	fmt.Println("  emails instead of sending them. The first charge fires one interval after creation.")
}
