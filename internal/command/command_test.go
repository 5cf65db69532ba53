package command

import (
	"context"
	"errors"
	"testing"

	"github.com/kfatkin/CodePipeline-Slack-Hooks/internal/envelope"
	"github.com/kfatkin/CodePipeline-Slack-Hooks/internal/hookerr"
	"github.com/kfatkin/CodePipeline-Slack-Hooks/internal/route"
	"github.com/kfatkin/CodePipeline-Slack-Hooks/internal/storage/memory"
)

type failingStore struct {
	*memory.Store
	gets int
}

func (f *failingStore) Get(ctx context.Context, key string) (route.Route, bool, error) {
	f.gets++
	return route.Route{}, false, errors.New("throttled")
}

func TestLookupKey(t *testing.T) {
	cases := map[string]string{
		"Deploy Staging":          "deploy staging",
		"  deploy   STAGING now ": "deploy staging",
		"deploy\tstaging":         "deploy staging",
		"deploy":                  "deploy ",
		"":                        "",
		"   ":                     "",
	}
	for text, want := range cases {
		if got := LookupKey(text); got != want {
			t.Fatalf("LookupKey(%q) = %q, want %q", text, got, want)
		}
	}
}

func TestResolveFound(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	want := route.Route{Key: "deploy staging", LambdaTarget: "deployer", ResponseMessage: "On it"}
	if err := store.Put(ctx, want); err != nil {
		t.Fatal(err)
	}
	r := NewResolver(store, "bss")

	got, err := r.Resolve(ctx, &envelope.CommandForm{Command: "/bss", Text: "Deploy Staging"})
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if got.Key != "deploy staging" || got.LambdaTarget != "deployer" {
		t.Fatalf("unexpected route: %+v", got)
	}
}

func TestResolveUnknown(t *testing.T) {
	ctx := context.Background()
	r := NewResolver(memory.New(), "bss")

	cases := []*envelope.CommandForm{
		nil,
		{Command: "/other", Text: "deploy staging"},
		{Command: "/bss", Text: "deploy staging"},
		{Command: "/bss", Text: ""},
	}
	for _, form := range cases {
		got, err := r.Resolve(ctx, form)
		if err != nil {
			t.Fatalf("Resolve(%+v) error: %v", form, err)
		}
		if !got.IsUnknown() {
			t.Fatalf("Resolve(%+v) = %+v, want unknown", form, got)
		}
	}
}

func TestResolveStoreFailureIsNotMasked(t *testing.T) {
	store := &failingStore{Store: memory.New()}
	r := NewResolver(store, "/bss")
	if r.Command() != "/bss" {
		t.Fatalf("expected /bss, got %s", r.Command())
	}

	_, err := r.Resolve(context.Background(), &envelope.CommandForm{Command: "/bss", Text: "deploy staging"})
	if err == nil {
		t.Fatal("expected store error")
	}
	if !errors.Is(err, hookerr.Downstream) {
		t.Fatalf("expected downstream error, got %v", err)
	}
	if store.gets != 1 {
		t.Fatalf("expected one lookup, got %d", store.gets)
	}
}
