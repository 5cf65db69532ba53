package hookerr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestStatusCodeByKind(t *testing.T) {
	cases := map[Kind]int{
		KindAuthentication:   http.StatusUnauthorized,
		KindPermission:       http.StatusForbidden,
		KindMalformedPayload: http.StatusBadRequest,
		KindUnknownRoute:     http.StatusNotFound,
		KindDownstream:       http.StatusBadGateway,
		KindDelegation:       http.StatusBadGateway,
	}
	for kind, want := range cases {
		if got := New(kind, "op", nil).StatusCode(); got != want {
			t.Fatalf("kind %s: expected %d, got %d", kind, want, got)
		}
	}
}

func TestStatusOverride(t *testing.T) {
	err := &Error{Kind: KindDownstream, Status: http.StatusTeapot}
	if err.StatusCode() != http.StatusTeapot {
		t.Fatalf("expected override status, got %d", err.StatusCode())
	}
}

func TestErrorsIsMatchesKindThroughWrapping(t *testing.T) {
	base := errors.New("throttled")
	err := fmt.Errorf("resolve: %w", Downstreamf(base, "get route %q", "deploy staging"))

	if !errors.Is(err, Downstream) {
		t.Fatal("expected errors.Is to match downstream kind")
	}
	if errors.Is(err, Authentication) {
		t.Fatal("did not expect authentication kind to match")
	}
	if !errors.Is(err, base) {
		t.Fatal("expected underlying cause to remain reachable")
	}
	if KindOf(err) != KindDownstream {
		t.Fatalf("expected downstream kind, got %q", KindOf(err))
	}
}

func TestStatusCodeFallback(t *testing.T) {
	if got := StatusCode(errors.New("plain"), http.StatusBadGateway); got != http.StatusBadGateway {
		t.Fatalf("expected fallback status, got %d", got)
	}
	if got := StatusCode(New(KindUnknownRoute, "trigger", nil), 0); got != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", got)
	}
}

func TestErrorMessage(t *testing.T) {
	err := New(KindDelegation, "invoke arn:aws:lambda:eu-west-1:1:function:x", errors.New("boom"))
	want := "delegation: invoke arn:aws:lambda:eu-west-1:1:function:x: boom"
	if err.Error() != want {
		t.Fatalf("expected %q, got %q", want, err.Error())
	}
}
