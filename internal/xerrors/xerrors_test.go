package xerrors

import (
	"errors"
	"runtime"
	"strings"
	"testing"
)

var errSentinel = errors.New("sentinel")

func stackContains(pcs []uintptr, substr string) bool {
	frames := runtime.CallersFrames(pcs)
	for {
		fr, more := frames.Next()
		if strings.Contains(fr.Function, substr) {
			return true
		}
		if !more {
			break
		}
	}
	return false
}

// New / Newf

func TestNew_HasStackWithCaller(t *testing.T) {
	err := New("boom")
	if err.Error() != "boom" {
		t.Fatalf("Error() = %q", err.Error())
	}
	pcs := StackPCs(err)
	if len(pcs) == 0 {
		t.Fatal("stack should be non-empty")
	}
	if !stackContains(pcs, "TestNew_HasStackWithCaller") {
		t.Fatal("stack should contain calling function")
	}
}

func TestNewf_FormatsMessage(t *testing.T) {
	err := Newf("invalid port %d for %s", 99999, "server")
	if want := "invalid port 99999 for server"; err.Error() != want {
		t.Fatalf("Error() = %q, want %q", err.Error(), want)
	}
}

// WithStack / EnsureTrace

func TestWithStack_Nil(t *testing.T) {
	if WithStack(nil) != nil {
		t.Fatal("WithStack(nil) should return nil")
	}
	if EnsureTrace(nil) != nil {
		t.Fatal("EnsureTrace(nil) should return nil")
	}
}

func TestWithStack_PreservesIdentity(t *testing.T) {
	err := WithStack(errSentinel)
	if !errors.Is(err, errSentinel) {
		t.Fatal("errors.Is should find sentinel")
	}
	if err.Error() != "sentinel" {
		t.Fatalf("Error() = %q", err.Error())
	}
}

func TestEnsureTrace_DoesNotRestack(t *testing.T) {
	first := New("once")
	if got := EnsureTrace(first); got != first {
		t.Fatal("EnsureTrace should return already-stacked error unchanged")
	}

	plain := errors.New("plain")
	if len(StackPCs(EnsureTrace(plain))) == 0 {
		t.Fatal("EnsureTrace should add a stack to a plain error")
	}
}

// Wrap / Wrapf

func TestWrap_MessageAndUnwrap(t *testing.T) {
	err := Wrap(errSentinel, "load config")
	if err.Error() != "load config: sentinel" {
		t.Fatalf("Error() = %q", err.Error())
	}
	if !errors.Is(err, errSentinel) {
		t.Fatal("wrapped error should unwrap to sentinel")
	}

	var hp interface{ PC() uintptr }
	if !errors.As(err, &hp) || hp.PC() == 0 {
		t.Fatal("Wrap should record caller PC")
	}
}

func TestWrapf_Nil(t *testing.T) {
	if Wrapf(nil, "x %d", 1) != nil {
		t.Fatal("Wrapf(nil) should return nil")
	}
	if Wrap(nil, "x") != nil {
		t.Fatal("Wrap(nil) should return nil")
	}
}

// StackText

func TestStackText(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantFirst string
		wantStack bool
	}{
		{"nil", nil, "", false},
		{"plain", errors.New("plain failure"), "plain failure", false},
		{"stacked", New("stacked failure"), "stacked failure", true},
		{"wrapped stacked", Wrap(New("inner"), "outer"), "outer: inner", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := StackText(tt.err)
			first, rest, _ := strings.Cut(got, "\n")
			if first != tt.wantFirst {
				t.Fatalf("first line = %q, want %q", first, tt.wantFirst)
			}
			if tt.wantStack && !strings.Contains(rest, "TestStackText") {
				t.Fatalf("stack text missing caller frame:\n%s", got)
			}
			if !tt.wantStack && rest != "" {
				t.Fatalf("unexpected stack text:\n%s", got)
			}
		})
	}
}
