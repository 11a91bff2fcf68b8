// Command main seeds the marketplace chat database with demo data.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"marketplace/internal/bootstrap"
	"marketplace/internal/config"
	"marketplace/internal/seed"
)

func main() {
	defaults := seed.DefaultOptions()
	sellers := flag.Int("sellers", defaults.Sellers, "Number of individual sellers to create")
	buyers := flag.Int("buyers", defaults.Buyers, "Number of buyers to create")
	products := flag.Int("products", defaults.ProductsPerSeller, "Products listed by each seller")
	chats := flag.Int("chats", defaults.ChatsPerBuyer, "Chats opened by each buyer")
	password := flag.String("password", defaults.Password, "Password shared by every seeded account")
	randomSeed := flag.Int64("seed", 0, "Random seed for reproducible data (0 picks one)")
	shouldClean := flag.Bool("clean", false, "Delete chats, products and users before seeding")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if cfg.IsProduction() {
		log.Fatalf("Refusing to seed a %s database", cfg.Env)
	}

	db, _, err := bootstrap.InitRuntime(cfg, bootstrap.Options{})
	if err != nil {
		log.Fatalf("Failed to initialize runtime: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	res, err := seed.Marketplace(ctx, db, seed.Options{
		Sellers:           *sellers,
		Buyers:            *buyers,
		ProductsPerSeller: *products,
		ChatsPerBuyer:     *chats,
		Password:          *password,
		RandomSeed:        *randomSeed,
		Clean:             *shouldClean,
	})
	if err != nil {
		log.Fatalf("Seeding failed: %v", err)
	}

	log.Printf("Seeded %d products, %d chats and %d seller replies", len(res.Products), res.Chats, res.Replies)
	log.Printf("Official store: %s (id %d)", res.Official.Email, res.Official.ID)
	if len(res.Buyers) > 0 {
		log.Printf("Sample buyer: %s (id %d)", res.Buyers[0].Email, res.Buyers[0].ID)
	}
	log.Printf("All seeded accounts use the password: %s", *password)
}
