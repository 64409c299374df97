package errkind

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsClassifiesWrappedError(t *testing.T) {
	t.Parallel()

	base := New(Parse, "config.Load", errors.New("bad toml"))
	wrapped := fmt.Errorf("loading config: %w", base)

	if !Is(wrapped, Parse) {
		t.Errorf("expected Is(wrapped, Parse) to be true")
	}
	if Is(wrapped, Timeout) {
		t.Errorf("expected Is(wrapped, Timeout) to be false")
	}
	if Is(errors.New("unrelated"), Parse) {
		t.Errorf("expected Is on a plain error to be false")
	}
}
