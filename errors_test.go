package recall

import (
	"errors"
	"fmt"
	"testing"

	"github.com/bbiangul/recall/rerr"
)

func TestIsKindMatchesWrappedErrors(t *testing.T) {
	inner := errors.New("disk full")
	err := fmt.Errorf("writing document: %w", rerr.Wrap(KindStorage, inner, "writing document"))

	if !IsKind(err, KindStorage) {
		t.Errorf("IsKind(err, KindStorage) = false, want true")
	}
	if IsKind(err, KindNetwork) {
		t.Errorf("IsKind(err, KindNetwork) = true, want false")
	}
}

func TestIsKindFalseForPlainErrors(t *testing.T) {
	err := errors.New("plain failure")
	if IsKind(err, KindStorage) {
		t.Errorf("IsKind(plain error, KindStorage) = true, want false")
	}
}

func TestSentinelErrorsCarryExpectedKind(t *testing.T) {
	if !IsKind(ErrNotFound, KindNotFound) {
		t.Errorf("ErrNotFound should carry KindNotFound")
	}
	if !IsKind(ErrTrialLimit, KindTrialLimit) {
		t.Errorf("ErrTrialLimit should carry KindTrialLimit")
	}
}
