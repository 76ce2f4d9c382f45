// Command keyadmin manages gateway API keys.
//
// Create a key (the plaintext is printed exactly once and never stored):
//
//	keyadmin -db gateway.db -owner alice
//
// Deactivate a key by ID:
//
//	keyadmin -db gateway.db -deactivate 4f9f1c2e-...
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/promgate/llm-gateway/internal/auth"
	"github.com/promgate/llm-gateway/internal/keystore"
	"github.com/promgate/llm-gateway/internal/keystore/sqlite"
)

func main() {
	var (
		dbPath     = flag.String("db", "gateway.db", "path to the keystore database")
		owner      = flag.String("owner", "", "create a new key for this owner")
		deactivate = flag.String("deactivate", "", "deactivate the key with this ID")
	)
	flag.Parse()

	if (*owner == "") == (*deactivate == "") {
		fmt.Fprintln(os.Stderr, "usage: keyadmin -db <path> (-owner <name> | -deactivate <id>)")
		os.Exit(2)
	}

	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("keyadmin: %v", err)
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch {
	case *owner != "":
		if err := createKey(ctx, store, *owner); err != nil {
			log.Fatalf("keyadmin: %v", err)
		}
	case *deactivate != "":
		if err := store.Deactivate(ctx, *deactivate); err != nil {
			log.Fatalf("keyadmin: %v", err)
		}
		fmt.Printf("key %s deactivated\n", *deactivate)
	}
}

func createKey(ctx context.Context, store keystore.Store, owner string) error {
	plaintext, err := auth.GenerateKey()
	if err != nil {
		return err
	}

	key := &keystore.APIKey{
		ID:        uuid.NewString(),
		HashedKey: auth.HashKey(plaintext),
		Owner:     owner,
		IsActive:  true,
		CreatedAt: time.Now().UTC(),
	}
	if err := store.Create(ctx, key); err != nil {
		return err
	}

	fmt.Printf("id:    %s\n", key.ID)
	fmt.Printf("owner: %s\n", key.Owner)
	fmt.Printf("key:   %s\n", plaintext)
	fmt.Println("store this key now; it cannot be recovered later")
	return nil
}
