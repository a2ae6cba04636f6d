package faultline_test

import (
	"fmt"
	"regexp"
	"strings"
	"testing"

	"github.com/sharnoff/faultline"
)

func concatLines(lines ...string) string {
	return strings.Join(lines, "\n")
}

func frameLine(idx int, pc uintptr, function, location string) string {
	return fmt.Sprintf("    [%d]   0x%016x: %s%s| %s", idx, pc, function, strings.Repeat(" ", 60-len(function)), location)
}

func TestStackFormatVarieties(t *testing.T) {
	t.Parallel()

	expected := concatLines(
		frameLine(0, 0x4a1b2c, "packagename.foo", "/path/to/package/foo.go:37"),
		frameLine(1, 0x4a1b3d, "packagename.bar", "/path/to/package/bar.go:0"),
		frameLine(2, 0, "packagename.baz", "??:0"),
		frameLine(3, 0x10, "??", "/unknown/function/path.go:45"),
		frameLine(4, 0, "??", "??:0"),
		"",
	)

	st := faultline.StackTrace{
		Frames: []faultline.StackFrame{
			{PC: 0x4a1b2c, Function: "packagename.foo", File: "/path/to/package/foo.go", Line: 37},
			{PC: 0x4a1b3d, Function: "packagename.bar", File: "/path/to/package/bar.go"},
			{Function: "packagename.baz"},
			{PC: 0x10, File: "/unknown/function/path.go", Line: 45},
			{},
		},
	}

	got := st.String()

	if got != expected {
		t.Fail()
		t.Log(
			"--- BEGIN expected formatting ---\n",
			fmt.Sprintf("%q", expected),
			"\n--- END expected formatting. BEGIN actual formatting ---\n",
			fmt.Sprintf("%q", got),
		)
	}
}

func TestStackEmptyFormat(t *testing.T) {
	t.Parallel()

	var st faultline.StackTrace
	assert(st.String() == "<empty, possibly corrupt>\n")
	assert(st.Empty())

	withParent := faultline.StackTrace{Parent: &faultline.StackTrace{}}
	assert(withParent.String() == "<empty, possibly corrupt>\n--- spawned from ---\n<empty, possibly corrupt>\n")
	assert(withParent.Empty())
}

func TestStackParentsFormat(t *testing.T) {
	t.Parallel()

	expected := concatLines(
		frameLine(0, 1, "packagename.Foo", "/path/to/package/foo.go:37"),
		frameLine(1, 2, "packagename.Bar", "/path/to/package/bar.go:45"),
		"--- spawned from ---",
		frameLine(0, 3, "packagename2.Baz", "/path/to/package2/baz.go:52"),
		"--- spawned from ---",
		frameLine(0, 4, "packagename3.Abc", "/path/to/package3/abc.go:66"),
		"",
	)

	st := faultline.StackTrace{
		Frames: []faultline.StackFrame{
			{PC: 1, Function: "packagename.Foo", File: "/path/to/package/foo.go", Line: 37},
			{PC: 2, Function: "packagename.Bar", File: "/path/to/package/bar.go", Line: 45},
		},
		Parent: &faultline.StackTrace{
			Frames: []faultline.StackFrame{
				{PC: 3, Function: "packagename2.Baz", File: "/path/to/package2/baz.go", Line: 52},
			},
			Parent: &faultline.StackTrace{
				Frames: []faultline.StackFrame{
					{PC: 4, Function: "packagename3.Abc", File: "/path/to/package3/abc.go", Line: 66},
				},
			},
		},
	}

	got := st.String()

	if got != expected {
		t.Fail()
		t.Log(
			"--- BEGIN expected formatting ---\n",
			fmt.Sprintf("%q", expected),
			"\n--- END expected formatting. BEGIN actual formatting ---\n",
			fmt.Sprintf("%q", got),
		)
	}
}

func validateStackTrace(t *testing.T, expected, got faultline.StackTrace) {
	for depth := 0; ; depth += 1 {
		if (expected.Parent == nil) != (got.Parent == nil) {
			t.Fatalf(
				"mismatched at depth %d, whether has parent: expected %v, got %v",
				depth, expected.Parent != nil, got.Parent != nil,
			)
		}

		if len(expected.Frames) > len(got.Frames) || expected.Parent != nil && len(expected.Frames) != len(got.Frames) {
			t.Fatalf(
				"mismatched at depth %d, number of frames: expected %d, got %d",
				depth, len(expected.Frames), len(got.Frames),
			)
		}

		for i := range expected.Frames {
			e := expected.Frames[i]
			g := got.Frames[i]

			// check .File
			if matched, err := regexp.Match(fmt.Sprint("^", e.File, "$"), []byte(g.File)); !matched || err != nil {
				if err != nil {
					panic(fmt.Errorf("bad regex for expected at depth %d, Frames[%d].Function: %w", depth, i, err))
				}

				t.Fatalf("mismatched at depth %d, Frames[%d].File: expected match for %q, got %q", depth, i, e.File, g.File)
			}

			// check .Function
			if matched, err := regexp.Match(fmt.Sprint("^", e.Function, "$"), []byte(g.Function)); !matched || err != nil {
				if err != nil {
					panic(fmt.Errorf("bad regex for expected at depth %d, Frames[%d].Function: %w", depth, i, err))
				}

				t.Fatalf("mismatched at depth %d, Frames[%d].Function: expected match for %q, got %q", depth, i, e.Function, g.Function)
			}

			// check .Line
			if (e.Line == 0) != (g.Line == 0) {
				expectedKind := "!= 0"
				if e.Line == 0 {
					expectedKind = "== 0"
				}
				t.Fatalf("mismatched at depth %d, Frames[%d].Line: expected %s, got %d", depth, i, expectedKind, g.Line)
			}
		}

		if expected.Parent == nil {
			return
		}

		expected = *expected.Parent
		got = *got.Parent
	}
}

func TestStackBasicCreation(t *testing.T) {
	t.Parallel()

	expected := faultline.StackTrace{
		Frames: []faultline.StackFrame{
			{Function: `.*/faultline_test.TestStackBasicCreation.func1`, File: `.*/stack_test\.go`, Line: 1},
			{Function: `.*/faultline_test.TestStackBasicCreation.func2`, File: `.*/stack_test\.go`, Line: 1},
			{Function: `.*/faultline_test.TestStackBasicCreation.func3`, File: `.*/stack_test\.go`, Line: 1},
			{Function: `.*/faultline_test.TestStackBasicCreation`, File: `.*/stack_test\.go`, Line: 1},
		},
	}

	func1 := func() faultline.StackTrace {
		return faultline.GetStackTrace(nil, 0)
	}
	func2 := func() faultline.StackTrace {
		return func1()
	}
	func3 := func() faultline.StackTrace {
		return func2()
	}

	got := func3()

	validateStackTrace(t, expected, got)
}

func TestStackPartialSkip(t *testing.T) {
	t.Parallel()

	expected := faultline.StackTrace{
		Frames: []faultline.StackFrame{
			{Function: `.*/faultline_test.TestStackPartialSkip.func3`, File: `.*/stack_test\.go`, Line: 1},
			{Function: `.*/faultline_test.TestStackPartialSkip.func4`, File: `.*/stack_test\.go`, Line: 1},
			{Function: `.*/faultline_test.TestStackPartialSkip`, File: `.*/stack_test\.go`, Line: 1},
		},
	}

	func1 := func() faultline.StackTrace {
		return faultline.GetStackTrace(nil, 2)
	}
	func2 := func() faultline.StackTrace {
		return func1()
	}
	func3 := func() faultline.StackTrace {
		return func2()
	}
	func4 := func() faultline.StackTrace {
		return func3()
	}

	got := func4()

	validateStackTrace(t, expected, got)
}

func TestStackSkipTooManyIsEmpty(t *testing.T) {
	t.Parallel()

	st := faultline.GetStackTrace(nil, 100000) // pick a big number to skip all frames
	if len(st.Frames) != 0 {
		t.Fatal("expected no frames, got", len(st.Frames))
	}
}

func TestStackMultiCreation(t *testing.T) {
	t.Parallel()

	expected := faultline.StackTrace{
		Frames: []faultline.StackFrame{
			{Function: `.*/faultline_test.TestStackMultiCreation.func3`, File: `.*/stack_test\.go`, Line: 1},
			{Function: `.*/faultline_test.TestStackMultiCreation.func1`, File: `.*/stack_test\.go`, Line: 1},
			{Function: `runtime\.goexit`, File: `.*`, Line: 1},
		},
		Parent: &faultline.StackTrace{
			Frames: []faultline.StackFrame{
				{Function: `.*/faultline_test.TestStackMultiCreation.func4`, File: `.*/stack_test\.go`, Line: 1},
				{Function: `.*/faultline_test.TestStackMultiCreation.func5`, File: `.*/stack_test\.go`, Line: 1},
				{Function: `.*/faultline_test.TestStackMultiCreation.func1`, File: `.*/stack_test\.go`, Line: 1},
				{Function: `runtime\.goexit`, File: `.*`, Line: 1},
			},
			Parent: &faultline.StackTrace{
				Frames: []faultline.StackFrame{
					{Function: `.*/faultline_test.TestStackMultiCreation.func6`, File: `.*/stack_test\.go`, Line: 1},
					{Function: `.*/faultline_test.TestStackMultiCreation.func7`, File: `.*/stack_test\.go`, Line: 1},
					{Function: `.*/faultline_test.TestStackMultiCreation`, File: `.*/stack_test\.go`, Line: 1},
				},
			},
		},
	}

	send := func(ch chan faultline.StackTrace, parent faultline.StackTrace, f func(faultline.StackTrace) faultline.StackTrace) {
		ch <- f(parent)
	}

	spawnWithStack := func(p *faultline.StackTrace, f func(faultline.StackTrace) faultline.StackTrace) faultline.StackTrace {
		parent := faultline.GetStackTrace(p, 1) // skip this function and the inner go func

		ch := make(chan faultline.StackTrace)
		go send(ch, parent, f)
		return <-ch
	}

	func3 := func(parent faultline.StackTrace) faultline.StackTrace {
		return faultline.GetStackTrace(&parent, 0)
	}
	func4 := func(parent faultline.StackTrace) faultline.StackTrace {
		return spawnWithStack(&parent, func3)
	}
	func5 := func(parent faultline.StackTrace) faultline.StackTrace {
		return func4(parent)
	}
	func6 := func() faultline.StackTrace {
		return spawnWithStack(nil, func5)
	}
	func7 := func() faultline.StackTrace {
		return func6()
	}

	got := func7()

	validateStackTrace(t, expected, got)
}

func TestStackCreateAfterRecover(t *testing.T) {
	t.Parallel()

	expected := faultline.StackTrace{
		Frames: []faultline.StackFrame{
			{Function: `.*faultline_test.TestStackCreateAfterRecover.func1`, File: `.*/stack_test\.go`, Line: 1},
			{Function: `.*faultline_test.TestStackCreateAfterRecover.func2`, File: `.*/stack_test\.go`, Line: 1},
			{Function: `.*faultline_test.TestStackCreateAfterRecover.func3`, File: `.*/stack_test\.go`, Line: 1},
		},
	}

	func1 := func() {
		panic("")
	}

	func2 := func() {
		func1()
	}

	var func4 func()

	func3 := func() {
		defer func4()
		func2()
	}

	var stack faultline.StackTrace
	func4 = func() {
		if recover() != nil {
			stack = faultline.GetStackTrace(nil, 2)
		}
	}

	func3()
	got := stack

	validateStackTrace(t, expected, got)
}


func TestStackDepthCapped(t *testing.T) {
	t.Parallel()

	var recurse func(n int) faultline.StackTrace
	recurse = func(n int) faultline.StackTrace {
		if n == 0 {
			return faultline.GetStackTrace(nil, 0)
		}
		return recurse(n - 1)
	}

	st := recurse(3 * faultline.MaxFrames)
	if len(st.Frames) != faultline.MaxFrames {
		t.Fatalf("expected %d frames, got %d", faultline.MaxFrames, len(st.Frames))
	}
	for _, f := range st.Frames {
		assert(strings.HasSuffix(f.Function, "TestStackDepthCapped.func1"))
	}
}

type brokenSymbolizer struct{}

func (brokenSymbolizer) Symbolize([]uintptr) []faultline.StackFrame {
	panic("symbol tables are gone")
}

// not parallel: replaces the process-wide symbolizer
func TestStackCaptureNeverPanics(t *testing.T) {
	old := faultline.SetSymbolizer(brokenSymbolizer{})
	defer faultline.SetSymbolizer(old)

	st := faultline.GetStackTrace(nil, 0)
	assert(len(st.Frames) == 0)
	assert(st.String() == "<empty, possibly corrupt>\n")
}

func TestCaptureRawFramesResolvesLater(t *testing.T) {
	t.Parallel()

	buf := make([]uintptr, faultline.MaxFrames)
	pcs := faultline.CaptureRawFrames(0, buf)
	assert(len(pcs) != 0)

	frames := faultline.RuntimeSymbolizer{}.Symbolize(pcs)
	assert(len(frames) >= len(pcs))
	assert(strings.HasSuffix(frames[0].Function, "TestCaptureRawFramesResolvesLater"))
	assert(frames[0].Line != 0)

	// a buffer that's too small is filled, innermost first
	small := faultline.CaptureRawFrames(0, make([]uintptr, 1))
	assert(len(small) == 1)
	smallFrames := faultline.RuntimeSymbolizer{}.Symbolize(small)
	assert(smallFrames[0].Function == frames[0].Function)
}
