package rejected

import (
	"context"
	"testing"
)

func TestMemoryStoreAddContains(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if ok, _ := s.Contains(ctx, "7"); ok {
		t.Fatal("empty store must not contain anything")
	}
	if err := s.Add(ctx, "7"); err != nil {
		t.Fatal(err)
	}
	if ok, _ := s.Contains(ctx, "7"); !ok {
		t.Fatal("added id missing")
	}
	// Adding twice is harmless.
	if err := s.Add(ctx, "7"); err != nil {
		t.Fatal(err)
	}
	if ok, _ := s.Contains(ctx, "8"); ok {
		t.Fatal("unrelated id reported")
	}
}

func TestSetKeyIsPerIdentity(t *testing.T) {
	if setKey("driver-1") == setKey("driver-2") {
		t.Fatal("identities must not share a rejected set")
	}
	if setKey("driver-1") != "rejected_rides:driver-1" {
		t.Fatalf("key = %s", setKey("driver-1"))
	}
}
