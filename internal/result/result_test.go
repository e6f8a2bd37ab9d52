package result

import "testing"

func TestSuccessZeroValue(t *testing.T) {
	var r Result
	if !r.IsSuccess() {
		t.Fatalf("zero value Result must be Success")
	}
	if r.IsFailure() {
		t.Fatalf("zero value Result must not report failure")
	}
}

func TestRoundTripModuleAndDescription(t *testing.T) {
	cases := []Result{
		ResFileNotFound,
		AsyncInvalidPriority,
		UKernTimeout,
		MemDoubleFree,
		ResBuiEntryExhaustion,
	}
	for _, r := range cases {
		if r.IsSuccess() {
			t.Fatalf("%v: expected failure", r)
		}
		got := New(r.Module(), r.Description())
		if got != r {
			t.Fatalf("round trip mismatch: got %v want %v", got, r)
		}
	}
}

func TestDistinctModulesDoNotCollide(t *testing.T) {
	if ResFileNotFound == AsyncIncomplete {
		t.Fatalf("results from different modules with the same description must differ")
	}
}

func TestStringIncludesModuleName(t *testing.T) {
	s := ResFileNotFound.String()
	if s != "res::FileNotFound" {
		t.Fatalf("unexpected string form: %s", s)
	}
}

func TestAbortPanicsOnFailureOnly(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on failure result")
		}
	}()
	Abort(ResFileNotFound, "test")
}

func TestAbortNoPanicOnSuccess(t *testing.T) {
	Abort(Success, "test")
}
