package fault

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestKindOf(t *testing.T) {
	boom := errors.New("boom")
	cases := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, ""},
		{"catalog", Catalog("b", "p/", boom), KindCatalog},
		{"read", Read("b", "k", boom), KindRead},
		{"decode", Decode("b", "k", boom), KindDecode},
		{"empty", Empty("b", "k"), KindEmptyObject},
		{"wrapped decode", fmt.Errorf("outer: %w", Decode("b", "k", boom)), KindDecode},
		{"canceled", context.Canceled, KindCanceled},
		{"deadline", fmt.Errorf("get: %w", context.DeadlineExceeded), KindCanceled},
		{"plain", boom, KindRead},
		{"bare empty sentinel", ErrEmptyObject, KindEmptyObject},
	}
	for _, tc := range cases {
		if got := KindOf(tc.err); got != tc.want {
			t.Errorf("%s: expected %q, got %q", tc.name, tc.want, got)
		}
	}
}

func TestRetryable(t *testing.T) {
	if !Retryable(KindRead) || !Retryable(KindDecode) {
		t.Fatal("read and decode failures should be retryable")
	}
	if Retryable(KindEmptyObject) || Retryable(KindCatalog) || Retryable(KindCanceled) {
		t.Fatal("empty, catalog and canceled failures must be terminal")
	}
}

func TestErrorMessageAndUnwrap(t *testing.T) {
	boom := errors.New("boom")
	err := Read("bucket", "a/b.jpg", boom)
	if !strings.Contains(err.Error(), "bucket/a/b.jpg") {
		t.Fatalf("unexpected message: %s", err.Error())
	}
	if !errors.Is(err, boom) {
		t.Fatal("expected Unwrap to expose the cause")
	}
	if !errors.Is(Empty("b", "k"), ErrEmptyObject) {
		t.Fatal("expected empty error to match sentinel")
	}
}

func TestClassify(t *testing.T) {
	if Classify("b", "k", nil) != nil {
		t.Fatal("nil error should classify to nil")
	}
	orig := Decode("b", "k", errors.New("bad"))
	if got := Classify("b", "k", fmt.Errorf("wrap: %w", orig)); got != orig {
		t.Fatal("expected existing fault to be returned as-is")
	}
	got := Classify("b", "k", context.Canceled)
	if got.Kind != KindCanceled || got.Key != "k" {
		t.Fatalf("unexpected classification: %+v", got)
	}
	got = Classify("b", "k", Read("b", "k", context.Canceled))
	if got.Kind != KindCanceled || got.Op != "read" {
		t.Fatalf("cancellation should override read kind: %+v", got)
	}
}
