package core

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	goerrors "github.com/goliatone/go-errors"
)

func TestMapError_AssignsStableCodes(t *testing.T) {
	cases := []struct {
		err      error
		textCode string
		status   int
	}{
		{fmt.Errorf("%w: tx_1", ErrNotFound), TransactionErrorNotFound, http.StatusNotFound},
		{fmt.Errorf("%w: no process", ErrConfiguration), TransactionErrorConfiguration, http.StatusInternalServerError},
		{fmt.Errorf("%w: free -> paid", ErrInvalidTransition), TransactionErrorInvalidTransition, http.StatusBadRequest},
		{fmt.Errorf("%w: stripe", ErrPaymentNotConfigured), TransactionErrorPaymentNotConfigured, http.StatusUnprocessableEntity},
		{fmt.Errorf("%w: raced", ErrConflict), TransactionErrorConflict, http.StatusConflict},
		{stderrors.New("core: transaction id is required"), TransactionErrorBadInput, http.StatusBadRequest},
	}
	for _, tc := range cases {
		mapped := MapError(tc.err)
		if mapped.TextCode != tc.textCode {
			t.Fatalf("%v: expected %q, got %q", tc.err, tc.textCode, mapped.TextCode)
		}
		if mapped.Code != tc.status {
			t.Fatalf("%v: expected status %d, got %d", tc.err, tc.status, mapped.Code)
		}
	}
	if MapError(nil) != nil {
		t.Fatalf("nil errors map to nil")
	}
}

func TestMapError_KeepsRichErrors(t *testing.T) {
	rich := goerrors.New("listing unavailable", goerrors.CategoryConflict).WithTextCode("LISTING_CLOSED")
	mapped := MapError(rich)
	if mapped.TextCode != "LISTING_CLOSED" {
		t.Fatalf("expected existing text code, got %q", mapped.TextCode)
	}
	if mapped.Code != http.StatusConflict {
		t.Fatalf("expected conflict status, got %d", mapped.Code)
	}
}
