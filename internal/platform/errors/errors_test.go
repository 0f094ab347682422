package errors

import (
	stderrors "errors"
	"fmt"
	"testing"
)

func TestErrorIsMatchesByCode(t *testing.T) {
	base := New(CodeNotFound, "offer not found")
	other := New(CodeNotFound, "delivery not found")
	if !stderrors.Is(base, other) {
		t.Fatal("expected errors with the same code to match")
	}
	if stderrors.Is(base, New(CodeNotOwner, "not owner")) {
		t.Fatal("expected errors with different codes not to match")
	}
}

func TestKindOfClassifiesWrappedErrors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Kind
	}{
		{name: "nil", err: nil, want: KindUnspecified},
		{name: "validation", err: New(CodeItemsEmpty, "items required"), want: KindValidation},
		{name: "not found", err: New(CodeNotFound, "missing"), want: KindNotFound},
		{name: "authorization", err: New(CodeNotOwner, "not owner"), want: KindAuthorization},
		{name: "state", err: New(CodeOfferInvalidStatusTransition, "bad"), want: KindState},
		{name: "wrapped state", err: fmt.Errorf("approve: %w", New(CodeConcurrentModification, "race")), want: KindState},
		{name: "notification", err: New(CodeNotificationDelivery, "send failed"), want: KindNotificationDelivery},
		{name: "plain", err: stderrors.New("boom"), want: KindInternal},
		{name: "unknown code", err: New(CodeUnknown, "??"), want: KindInternal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := KindOf(tc.err); got != tc.want {
				t.Fatalf("KindOf = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestWrapKeepsCause(t *testing.T) {
	cause := stderrors.New("disk full")
	err := Wrap(CodeUnknown, "write failed", cause)
	if !stderrors.Is(err, cause) {
		t.Fatal("expected wrapped cause to be reachable")
	}
	if !IsKind(err, KindInternal) {
		t.Fatalf("kind = %v, want internal", KindOf(err))
	}
}

func TestWithMetadata(t *testing.T) {
	err := WithMetadata(CodeOfferInvalidStatusTransition, "offer status transition not allowed", map[string]string{"FromStatus": "approved"})
	domainErr, ok := As(fmt.Errorf("ctx: %w", err))
	if !ok {
		t.Fatal("expected domain error")
	}
	if domainErr.Metadata["FromStatus"] != "approved" {
		t.Fatalf("metadata = %v", domainErr.Metadata)
	}
}
