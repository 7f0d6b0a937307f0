package stores_test

import (
	"context"
	"fmt"
	"log"

	"github.com/stagecast/stagecast/pkg/stores"
)

// ExampleNewSQLiteStore demonstrates creating and initializing a store.
func ExampleNewSQLiteStore() {
	store, err := stores.NewSQLiteStore(stores.Config{
		Path: ":memory:",
	})
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		log.Fatal(err)
	}
	if err := store.Migrate(ctx); err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	fmt.Println("Store initialized successfully")
	// Output: Store initialized successfully
}

// ExampleSQLiteStore_CreatePass demonstrates recording a pass.
func ExampleSQLiteStore_CreatePass() {
	store, _ := stores.NewSQLiteStore(stores.Config{Path: ":memory:"})
	ctx := context.Background()
	_ = store.Init(ctx)
	_ = store.Migrate(ctx)
	defer store.Close()

	pass := &stores.Pass{
		DocumentPath: "/stages/deploy.yaml",
		Environment:  "prod",
		Driver:       stores.DriverEager,
		StagesTotal:  4,
	}
	if err := store.CreatePass(ctx, pass); err != nil {
		log.Fatal(err)
	}

	fmt.Println(pass.Status)
	// Output: running
}
