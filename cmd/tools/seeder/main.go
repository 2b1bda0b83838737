// Command seeder loads catalog and promotion documents from a JSON fixture
// into the document store. The fixture maps collection names to documents
// keyed by id:
//
//	{"books": {"b1": {"title": "Candide", "price": 20, "stock": 3}}}
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"slices"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/alkahf/storefront/internal/docstore"
)

var seedable = []string{"books", "packs", "promotions"}

func main() {
	path := flag.String("file", "seed.json", "fixture to load")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL is not set")
	}

	raw, err := os.ReadFile(*path)
	if err != nil {
		log.Fatalf("read fixture: %v", err)
	}
	var fixture map[string]map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fixture); err != nil {
		log.Fatalf("decode fixture: %v", err)
	}

	if err := docstore.Migrate(dbURL); err != nil {
		log.Fatalf("migrate: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		log.Fatalf("connect database: %v", err)
	}
	defer pool.Close()
	docs := docstore.New(pool)

	err = docs.InTx(ctx, func(tx *docstore.Store) error {
		for collection, byID := range fixture {
			if !slices.Contains(seedable, collection) {
				log.Printf("skipping unknown collection %q", collection)
				continue
			}
			for id, doc := range byID {
				if err := tx.Put(ctx, collection, id, doc); err != nil {
					return err
				}
			}
			log.Printf("seeded %d %s", len(byID), collection)
		}
		return nil
	})
	if err != nil {
		log.Fatalf("seed: %v", err)
	}
	log.Println("Seeding completed successfully!")
}
