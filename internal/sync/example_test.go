package sync_test

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/spf13/afero"

	"github.com/loomnotes/loom/internal/reconcile"
	"github.com/loomnotes/loom/internal/remote"
	"github.com/loomnotes/loom/internal/sync"
)

// This example pushes local projects to a remote store.
// It documents usage and is not run as a test.
func ExampleNew() {
	ctx := context.Background()

	store, err := remote.Open(ctx, "file:loom.db")
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	if err := store.InitSchema(ctx); err != nil {
		log.Fatal(err)
	}

	syncer := sync.New(afero.NewOsFs(), store, sync.Options{})
	report, err := syncer.Push(ctx, reconcile.Session{CreatorID: 1, ProjectRoot: "projects"}, sync.PushOptions{})
	if err != nil {
		log.Fatal(err)
	}

	fmt.Println("inserted:", report.Totals().Inserted)
}

// This example pulls everything changed in the last week.
func ExampleSyncer_Pull() {
	ctx := context.Background()

	store, err := remote.Open(ctx, "file:loom.db")
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	since, err := sync.ParseSince("last week", time.Now())
	if err != nil {
		log.Fatal(err)
	}

	syncer := sync.New(afero.NewOsFs(), store, sync.Options{})
	res, err := syncer.Pull(ctx, reconcile.Session{CreatorID: 1, ProjectRoot: "projects"}, sync.PullOptions{Since: since})
	if err != nil {
		log.Fatal(err)
	}

	if res.NeedsReload() {
		fmt.Println("reload", res.Written)
	}
}
