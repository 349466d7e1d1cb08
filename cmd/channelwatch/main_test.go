package main

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestServeStopsOthersOnFailure(t *testing.T) {
	boom := errors.New("schedule sweep: bad expression")
	stopped := make(chan struct{})

	done := make(chan error, 1)
	go func() {
		done <- serve(context.Background(),
			func(context.Context) error { return boom },
			func(ctx context.Context) error {
				<-ctx.Done()
				close(stopped)
				return nil
			},
		)
	}()

	select {
	case err := <-done:
		if !errors.Is(err, boom) {
			t.Fatalf("expected %v, got %v", boom, err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("serve did not return after a component failed")
	}
	select {
	case <-stopped:
	default:
		t.Error("surviving component was not cancelled")
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		block := func(ctx context.Context) error {
			<-ctx.Done()
			return nil
		}
		done <- serve(ctx, block, block)
	}()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("serve did not return after cancel")
	}
}
