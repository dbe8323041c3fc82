package frame

import (
	"errors"
	"testing"
)

func TestMergeOuterKeepsBothSides(t *testing.T) {
	a := New("SWE", "SWE_units")
	a.Append(date(1, 0), "TNY", C("SWE", 10.0), C("SWE_units", "in"))
	a.Append(date(2, 0), "TNY", C("SWE", 11.0), C("SWE_units", "in"))

	b := New("TEMP", "TEMP_units")
	b.Append(date(2, 0), "TNY", C("TEMP", 1.0), C("TEMP_units", "degC"))
	b.Append(date(3, 0), "TNY", C("TEMP", 2.0), C("TEMP_units", "degC"))

	out, err := Merge(a, b)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if out.Len() != 3 {
		t.Fatalf("len = %d, want 3", out.Len())
	}

	// Day 1: SWE only, TEMP missing.
	if _, ok := out.Row(0).Value("TEMP"); ok {
		t.Fatal("day 1 should have no TEMP")
	}
	// Day 2: both.
	if v, _ := out.Row(1).Float("SWE"); v != 11.0 {
		t.Fatalf("day 2 SWE = %v", v)
	}
	if v, _ := out.Row(1).Float("TEMP"); v != 1.0 {
		t.Fatalf("day 2 TEMP = %v", v)
	}
	// Day 3: TEMP only.
	if _, ok := out.Row(2).Value("SWE"); ok {
		t.Fatal("day 3 should have no SWE")
	}
}

func TestMergePrefersLeftOnSharedColumns(t *testing.T) {
	a := New("SWE", "SWE_units")
	a.Append(date(1, 0), "TNY", C("SWE", 10.0), C("SWE_units", "in"))

	b := New("SWE", "SWE_units")
	b.Append(date(1, 0), "TNY", C("SWE", 99.0), C("SWE_units", "mm"))

	out, err := Merge(a, b)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if v, _ := out.Row(0).Float("SWE"); v != 10.0 {
		t.Fatalf("SWE = %v, want left value 10", v)
	}
	if v, _ := out.Row(0).Value("SWE_units"); v != "in" {
		t.Fatalf("SWE_units = %v, want left value", v)
	}
}

func TestMergeRejectsDuplicateIndexRows(t *testing.T) {
	a := New("SWE")
	a.Append(date(1, 0), "TNY", C("SWE", 10.0))
	a.Append(date(1, 0), "TNY", C("SWE", 10.5))

	b := New("TEMP")
	b.Append(date(1, 0), "TNY", C("TEMP", 1.0))

	if _, err := Merge(a, b); !errors.Is(err, ErrMergeIntegrity) {
		t.Fatalf("err = %v, want ErrMergeIntegrity", err)
	}
}

func TestMergeEmptySidePassesThrough(t *testing.T) {
	a := New("SWE")
	a.Append(date(1, 0), "TNY", C("SWE", 10.0))

	out, err := Merge(a, nil)
	if err != nil || out != a {
		t.Fatalf("merge with nil right: %v %v", out, err)
	}
	out, err = Merge(nil, a)
	if err != nil || out != a {
		t.Fatalf("merge with nil left: %v %v", out, err)
	}
}

func TestMergeMultiSite(t *testing.T) {
	a := New("SWE")
	a.Append(date(1, 0), "A", C("SWE", 1.0))
	b := New("SWE")
	b.Append(date(1, 0), "B", C("SWE", 2.0))

	out, err := Merge(a, b)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if out.Len() != 2 {
		t.Fatalf("len = %d, want 2", out.Len())
	}
	if out.Row(0).Site != "A" || out.Row(1).Site != "B" {
		t.Fatalf("sites = %s, %s", out.Row(0).Site, out.Row(1).Site)
	}
}

func TestJoinPrefersLeftAndSuffixesCollisions(t *testing.T) {
	left := New("SWE", ColQualityCode)
	left.Append(date(1, 0), "TNY", C("SWE", 10.0), C(ColQualityCode, "V"))

	right := New("TEMP", ColQualityCode)
	right.Append(date(1, 0), "TNY", C("TEMP", 1.0), C(ColQualityCode, "P"))

	out, err := Join(left, right, false)
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if v, _ := out.Row(0).Value(ColQualityCode); v != "V" {
		t.Fatalf("quality_code = %v, want left", v)
	}
	if v, _ := out.Row(0).Value(ColQualityCode + "_unused"); v != "P" {
		t.Fatalf("quality_code_unused = %v", v)
	}

	trimmed, err := Join(left, right, true)
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if trimmed.HasColumn(ColQualityCode + "_unused") {
		t.Fatal("dropUnused kept the suffixed column")
	}
	if v, _ := trimmed.Row(0).Float("TEMP"); v != 1.0 {
		t.Fatalf("TEMP = %v", v)
	}
}

func TestJoinDropsRightOnlyRows(t *testing.T) {
	left := New("SWE")
	left.Append(date(1, 0), "TNY", C("SWE", 10.0))

	right := New("TEMP")
	right.Append(date(1, 0), "TNY", C("TEMP", 1.0))
	right.Append(date(2, 0), "TNY", C("TEMP", 2.0))

	out, err := Join(left, right, true)
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if out.Len() != 1 {
		t.Fatalf("len = %d, want 1 (right-only rows dropped)", out.Len())
	}
}

func TestAppendStacksRows(t *testing.T) {
	a := New("SWE")
	a.Append(date(1, 0), "A", C("SWE", 1.0))
	b := New("SWE", "TEMP")
	b.Append(date(1, 0), "B", C("SWE", 2.0), C("TEMP", 3.0))

	out := Append(a, b)
	if out.Len() != 2 {
		t.Fatalf("len = %d, want 2", out.Len())
	}
	if !out.HasColumn("TEMP") {
		t.Fatal("TEMP column lost")
	}
	if Append(nil, a) != a || Append(a, nil) != a {
		t.Fatal("nil side should pass through")
	}
}
