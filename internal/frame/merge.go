package frame

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
)

// ErrMergeIntegrity is returned when a merge would leave duplicate
// (datetime, site) rows in the result. Duplicates indicate either a
// datasource anomaly or an adapter reshaping bug and are never silently
// deduplicated.
var ErrMergeIntegrity = errors.New("duplicate (datetime, site) rows after merge")

// unusedSuffix marks right-hand columns that collided with a left-hand
// column during a prefer-left join.
const unusedSuffix = "_unused"

// Join combines two frames column-wise on the (datetime, site) index,
// preferring the left frame. A nil input returns the other frame unchanged.
// Right-hand columns that collide with left-hand names are kept under a
// "_unused" suffix; dropUnused removes them from the result. Rows only
// present on the right are dropped.
func Join(left, right *Frame, dropUnused bool) (*Frame, error) {
	if left == nil {
		return right, nil
	}
	if right == nil {
		return left, nil
	}

	renamed := make(map[string]string, len(right.columns))
	for _, c := range right.columns {
		name := c
		if left.HasColumn(c) {
			name = c + unusedSuffix
			if right.HasColumn(name) || left.HasColumn(name) {
				err := fmt.Errorf("joining frames failed: column %q already exists", name)
				log.Printf("ERROR: %v", err)
				return nil, err
			}
		}
		renamed[c] = name
	}

	byKey := make(map[key][]Row, right.Len())
	for _, r := range right.rows {
		k := rowKey(r)
		byKey[k] = append(byKey[k], r)
	}

	out := New(left.columns...)
	for _, c := range right.columns {
		out.ensureColumn(renamed[c])
	}
	for _, lr := range left.rows {
		matches := byKey[rowKey(lr)]
		if len(matches) == 0 {
			out.rows = append(out.rows, cloneRow(lr))
			continue
		}
		for _, rr := range matches {
			nr := cloneRow(lr)
			for _, c := range right.columns {
				if v, ok := rr.Cells[c]; ok {
					nr.Cells[renamed[c]] = v
				}
			}
			out.rows = append(out.rows, nr)
		}
	}

	if dropUnused {
		kept := make([]string, 0, len(out.columns))
		for _, c := range out.columns {
			if !strings.Contains(c, unusedSuffix) {
				kept = append(kept, c)
			}
		}
		out = out.Filter(kept...)
	}
	return out, nil
}

// Merge combines two time-indexed frames with an ordered outer merge on the
// (datetime, site) index: rows present on only one side keep nil cells for
// the other side's columns, shared columns prefer the left value when both
// are set, and the result is sorted ascending. A nil or empty input returns
// the other frame unchanged. If the merged result holds duplicate index
// pairs the merge fails with ErrMergeIntegrity.
func Merge(a, b *Frame) (*Frame, error) {
	if a.Len() == 0 {
		return b, nil
	}
	if b.Len() == 0 {
		return a, nil
	}

	out := New(a.columns...)
	for _, c := range b.columns {
		out.ensureColumn(c)
	}

	aByKey := groupRows(a)
	bByKey := groupRows(b)

	keys := make([]key, 0, len(aByKey)+len(bByKey))
	for k := range aByKey {
		keys = append(keys, k)
	}
	for k := range bByKey {
		if _, seen := aByKey[k]; !seen {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].unix != keys[j].unix {
			return keys[i].unix < keys[j].unix
		}
		return keys[i].site < keys[j].site
	})

	for _, k := range keys {
		ar, br := aByKey[k], bByKey[k]
		switch {
		case len(ar) == 0:
			for _, r := range br {
				out.rows = append(out.rows, cloneRow(r))
			}
		case len(br) == 0:
			for _, r := range ar {
				out.rows = append(out.rows, cloneRow(r))
			}
		default:
			// Duplicated keys multiply out, exactly like a relational
			// outer merge. The integrity check below rejects the result.
			for _, ra := range ar {
				for _, rb := range br {
					nr := cloneRow(ra)
					for _, c := range b.columns {
						if _, set := nr.Cells[c]; set && nr.Cells[c] != nil {
							continue
						}
						if v, ok := rb.Cells[c]; ok {
							nr.Cells[c] = v
						}
					}
					out.rows = append(out.rows, nr)
				}
			}
		}
	}

	if err := checkUnique(out); err != nil {
		log.Printf("ERROR: merging frames failed: %v", err)
		return nil, err
	}
	return out, nil
}

// Append stacks two frames row-wise. A nil input returns the other frame.
// No uniqueness is enforced; callers de-duplicate afterwards when needed.
func Append(a, b *Frame) *Frame {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	out := New(a.columns...)
	for _, c := range b.columns {
		out.ensureColumn(c)
	}
	for _, r := range a.rows {
		out.rows = append(out.rows, cloneRow(r))
	}
	for _, r := range b.rows {
		out.rows = append(out.rows, cloneRow(r))
	}
	return out
}

func groupRows(f *Frame) map[key][]Row {
	m := make(map[key][]Row, f.Len())
	for _, r := range f.rows {
		k := rowKey(r)
		m[k] = append(m[k], r)
	}
	return m
}

func cloneRow(r Row) Row {
	nr := Row{Time: r.Time, Site: r.Site, Cells: make(map[string]any, len(r.Cells))}
	for c, v := range r.Cells {
		nr.Cells[c] = v
	}
	return nr
}

func checkUnique(f *Frame) error {
	seen := make(map[key]struct{}, f.Len())
	for _, r := range f.rows {
		k := rowKey(r)
		if _, dup := seen[k]; dup {
			return fmt.Errorf("%w: %s site %s", ErrMergeIntegrity,
				r.Time.UTC().Format("2006-01-02T15:04:05Z"), r.Site)
		}
		seen[k] = struct{}{}
	}
	return nil
}
