// Copyright 2026 The Switchboard Authors
// SPDX-License-Identifier: Apache-2.0

package coord_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/switchboard-io/switchboard/coord"
	"github.com/switchboard-io/switchboard/lib/testutil"
)

// storeFactory opens a fresh store of one implementation. Every
// key/value and pub/sub contract test runs against all factories so
// the two implementations cannot drift apart.
type storeFactory struct {
	name string
	open func(t *testing.T) coord.Store
}

func factories() []storeFactory {
	return []storeFactory{
		{
			name: "memory",
			open: func(t *testing.T) coord.Store {
				t.Helper()
				store := coord.NewMemory()
				t.Cleanup(func() { store.Close() })
				return store
			},
		},
		{
			name: "sqlite",
			open: func(t *testing.T) coord.Store {
				t.Helper()
				store, err := coord.OpenSQLite(coord.SQLiteConfig{
					Path: filepath.Join(t.TempDir(), "coord.db"),
				})
				if err != nil {
					t.Fatalf("OpenSQLite: %v", err)
				}
				t.Cleanup(func() { store.Close() })
				return store
			},
		},
	}
}

func TestSetGetRoundtrip(t *testing.T) {
	t.Parallel()
	for _, factory := range factories() {
		t.Run(factory.name, func(t *testing.T) {
			t.Parallel()
			store := factory.open(t)
			ctx := context.Background()

			if err := store.Set(ctx, "session/ses_a/info", []byte("first")); err != nil {
				t.Fatalf("Set: %v", err)
			}
			if err := store.Set(ctx, "session/ses_a/info", []byte("second")); err != nil {
				t.Fatalf("Set (overwrite): %v", err)
			}

			value, err := store.Get(ctx, "session/ses_a/info")
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if !bytes.Equal(value, []byte("second")) {
				t.Errorf("Get = %q, want %q", value, "second")
			}
		})
	}
}

func TestGetMissingKey(t *testing.T) {
	t.Parallel()
	for _, factory := range factories() {
		t.Run(factory.name, func(t *testing.T) {
			t.Parallel()
			store := factory.open(t)

			_, err := store.Get(context.Background(), "session/nope/info")
			if !errors.Is(err, coord.ErrNotFound) {
				t.Fatalf("Get missing key: err = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	t.Parallel()
	for _, factory := range factories() {
		t.Run(factory.name, func(t *testing.T) {
			t.Parallel()
			store := factory.open(t)
			ctx := context.Background()

			if err := store.Set(ctx, "tracked/ses_a", []byte("x")); err != nil {
				t.Fatalf("Set: %v", err)
			}
			if err := store.Delete(ctx, "tracked/ses_a"); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			if err := store.Delete(ctx, "tracked/ses_a"); err != nil {
				t.Fatalf("Delete (missing): %v", err)
			}
			if _, err := store.Get(ctx, "tracked/ses_a"); !errors.Is(err, coord.ErrNotFound) {
				t.Fatalf("Get after delete: err = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestListPrefix(t *testing.T) {
	t.Parallel()
	for _, factory := range factories() {
		t.Run(factory.name, func(t *testing.T) {
			t.Parallel()
			store := factory.open(t)
			ctx := context.Background()

			// Deliberately interleaved insert order; List must come
			// back in ascending key order regardless.
			entries := map[string]string{
				"session/ses_b/message/msg_2": "b2",
				"session/ses_a/message/msg_1": "a1",
				"session/ses_a/message/msg_9": "a9",
				"session/ses_a/status":        "busy",
				"ticket/T-100/session":        "ses_a",
			}
			for key, value := range entries {
				if err := store.Set(ctx, key, []byte(value)); err != nil {
					t.Fatalf("Set %s: %v", key, err)
				}
			}

			results, err := store.List(ctx, "session/ses_a/message/")
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			wantKeys := []string{
				"session/ses_a/message/msg_1",
				"session/ses_a/message/msg_9",
			}
			if len(results) != len(wantKeys) {
				t.Fatalf("List returned %d entries, want %d: %+v", len(results), len(wantKeys), results)
			}
			for i, want := range wantKeys {
				if results[i].Key != want {
					t.Errorf("results[%d].Key = %q, want %q", i, results[i].Key, want)
				}
			}

			empty, err := store.List(ctx, "session/ses_c/")
			if err != nil {
				t.Fatalf("List (no matches): %v", err)
			}
			if len(empty) != 0 {
				t.Errorf("List with no matches = %+v, want empty", empty)
			}
		})
	}
}

func TestPublishDeliversInOrder(t *testing.T) {
	t.Parallel()
	for _, factory := range factories() {
		t.Run(factory.name, func(t *testing.T) {
			t.Parallel()
			store := factory.open(t)
			ctx := context.Background()

			subscription, err := store.Subscribe(ctx, "events/session/ses_a")
			if err != nil {
				t.Fatalf("Subscribe: %v", err)
			}
			defer subscription.Close()

			const messageCount = 100
			for i := range messageCount {
				payload := fmt.Appendf(nil, "event-%03d", i)
				if err := store.Publish(ctx, "events/session/ses_a", payload); err != nil {
					t.Fatalf("Publish %d: %v", i, err)
				}
			}

			for i := range messageCount {
				message := testutil.RequireReceive(t, subscription.Events(), 5*time.Second,
					"message %d", i)
				want := fmt.Sprintf("event-%03d", i)
				if string(message.Payload) != want {
					t.Fatalf("message %d payload = %q, want %q", i, message.Payload, want)
				}
			}
		})
	}
}

func TestChannelIsolation(t *testing.T) {
	t.Parallel()
	for _, factory := range factories() {
		t.Run(factory.name, func(t *testing.T) {
			t.Parallel()
			store := factory.open(t)
			ctx := context.Background()

			sessionA, err := store.Subscribe(ctx, "events/session/ses_a")
			if err != nil {
				t.Fatalf("Subscribe ses_a: %v", err)
			}
			defer sessionA.Close()

			sessionB, err := store.Subscribe(ctx, "events/session/ses_b")
			if err != nil {
				t.Fatalf("Subscribe ses_b: %v", err)
			}
			defer sessionB.Close()

			if err := store.Publish(ctx, "events/session/ses_a", []byte("only-for-a")); err != nil {
				t.Fatalf("Publish: %v", err)
			}

			message := testutil.RequireReceive(t, sessionA.Events(), 5*time.Second, "ses_a delivery")
			if string(message.Payload) != "only-for-a" {
				t.Errorf("payload = %q, want only-for-a", message.Payload)
			}

			select {
			case leaked := <-sessionB.Events():
				t.Fatalf("ses_b received %q, want nothing", leaked.Payload)
			default:
			}
		})
	}
}

func TestSlowConsumerTerminated(t *testing.T) {
	t.Parallel()
	for _, factory := range factories() {
		t.Run(factory.name, func(t *testing.T) {
			t.Parallel()
			store := factory.open(t)
			ctx := context.Background()

			subscription, err := store.Subscribe(ctx, "events/global")
			if err != nil {
				t.Fatalf("Subscribe: %v", err)
			}

			// Never consume: overflow the delivery buffer. Publishing
			// must never block or fail while doing so.
			for i := range 400 {
				if err := store.Publish(ctx, "events/global", fmt.Appendf(nil, "%d", i)); err != nil {
					t.Fatalf("Publish %d: %v", i, err)
				}
			}

			// Drain; the channel must be closed after the buffered
			// backlog, and the reason must identify the overflow.
			drained := 0
			for range subscription.Events() {
				drained++
				if drained > 1000 {
					t.Fatal("events channel never closed")
				}
			}
			if !errors.Is(subscription.Err(), coord.ErrSlowConsumer) {
				t.Fatalf("Err() = %v, want ErrSlowConsumer", subscription.Err())
			}

			// The store itself is still healthy for other subscribers.
			fresh, err := store.Subscribe(ctx, "events/global")
			if err != nil {
				t.Fatalf("Subscribe after overflow: %v", err)
			}
			fresh.Close()
		})
	}
}

func TestSubscriptionCloseIsIdempotent(t *testing.T) {
	t.Parallel()
	for _, factory := range factories() {
		t.Run(factory.name, func(t *testing.T) {
			t.Parallel()
			store := factory.open(t)

			subscription, err := store.Subscribe(context.Background(), "events/global")
			if err != nil {
				t.Fatalf("Subscribe: %v", err)
			}
			subscription.Close()
			subscription.Close()

			if _, open := <-subscription.Events(); open {
				t.Fatal("events channel still open after Close")
			}
			if subscription.Err() != nil {
				t.Fatalf("Err() = %v, want nil for caller-initiated close", subscription.Err())
			}
		})
	}
}

func TestCloseMakesStoreUnavailable(t *testing.T) {
	t.Parallel()
	for _, factory := range factories() {
		t.Run(factory.name, func(t *testing.T) {
			t.Parallel()
			store := factory.open(t)
			ctx := context.Background()

			subscription, err := store.Subscribe(ctx, "events/global")
			if err != nil {
				t.Fatalf("Subscribe: %v", err)
			}

			if err := store.Close(); err != nil {
				t.Fatalf("Close: %v", err)
			}

			if err := store.Set(ctx, "k", []byte("v")); !errors.Is(err, coord.ErrUnavailable) {
				t.Errorf("Set after close: err = %v, want ErrUnavailable", err)
			}
			if _, err := store.Get(ctx, "k"); !errors.Is(err, coord.ErrUnavailable) {
				t.Errorf("Get after close: err = %v, want ErrUnavailable", err)
			}
			if _, err := store.List(ctx, ""); !errors.Is(err, coord.ErrUnavailable) {
				t.Errorf("List after close: err = %v, want ErrUnavailable", err)
			}
			if err := store.Publish(ctx, "events/global", nil); !errors.Is(err, coord.ErrUnavailable) {
				t.Errorf("Publish after close: err = %v, want ErrUnavailable", err)
			}
			if _, err := store.Subscribe(ctx, "events/global"); !errors.Is(err, coord.ErrUnavailable) {
				t.Errorf("Subscribe after close: err = %v, want ErrUnavailable", err)
			}

			testutil.RequireClosed(t, channelDone(subscription), 5*time.Second,
				"subscription should end on store close")
			if !errors.Is(subscription.Err(), coord.ErrUnavailable) {
				t.Errorf("subscription Err() = %v, want ErrUnavailable", subscription.Err())
			}
		})
	}
}

func TestMemoryCopiesValues(t *testing.T) {
	t.Parallel()
	store := coord.NewMemory()
	defer store.Close()
	ctx := context.Background()

	original := []byte("immutable")
	if err := store.Set(ctx, "k", original); err != nil {
		t.Fatalf("Set: %v", err)
	}
	original[0] = 'X'

	value, err := store.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(value) != "immutable" {
		t.Errorf("stored value aliased the caller's buffer: %q", value)
	}

	value[0] = 'Y'
	again, err := store.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get (second): %v", err)
	}
	if string(again) != "immutable" {
		t.Errorf("returned value aliased the store's buffer: %q", again)
	}
}

func TestSQLiteStateSurvivesReopen(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "coord.db")
	ctx := context.Background()

	store, err := coord.OpenSQLite(coord.SQLiteConfig{Path: path})
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	if err := store.Set(ctx, "session/ses_a/info", []byte("persisted")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := coord.OpenSQLite(coord.SQLiteConfig{Path: path})
	if err != nil {
		t.Fatalf("OpenSQLite (reopen): %v", err)
	}
	defer reopened.Close()

	value, err := reopened.Get(ctx, "session/ses_a/info")
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if string(value) != "persisted" {
		t.Errorf("Get = %q, want %q", value, "persisted")
	}
}

// channelDone adapts a subscription's Events channel to a done-style
// channel that closes when delivery ends.
func channelDone(subscription *coord.Subscription) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		for range subscription.Events() {
		}
		close(done)
	}()
	return done
}
