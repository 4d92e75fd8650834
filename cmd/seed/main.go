// Command main runs the document store seeder for Sologram.
package main

import (
	"context"
	"flag"
	"log"

	"github.com/joho/godotenv"

	"sologram/internal/config"
	"sologram/internal/seed"
	"sologram/internal/store"
	"sologram/internal/store/firestore"
)

func main() {
	numUsers := flag.Int("users", 25, "Number of users to create")
	numPosts := flag.Int("posts", 100, "Number of posts to create")
	flag.Parse()

	log.Println("Document store seeder")
	log.Printf("Target: %d users, %d posts\n", *numUsers, *numPosts)

	_ = godotenv.Load()
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Seeding an in-memory store would be pointless; this tool targets the
	// persistent backend only.
	if cfg.GoogleProjectID == "" {
		log.Fatal("Seeding requires GOOGLE_PROJECT_ID to be configured")
	}

	ctx := context.Background()
	var st store.Store
	st, err = firestore.Open(ctx, cfg.GoogleProjectID, cfg.GoogleCredentialsFile)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer func() { _ = st.Close() }()

	users, err := seed.NewSeeder(st).SeedSocialMesh(ctx, *numUsers, *numPosts)
	if err != nil {
		log.Fatalf("Seeding failed: %v", err)
	}

	log.Printf("Seeded %d users and %d posts", len(users), *numPosts)
}
