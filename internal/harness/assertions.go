package harness

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/roach88/watergrant/internal/address"
	"github.com/roach88/watergrant/internal/model"
	"github.com/roach88/watergrant/internal/store"
)

// AssertionContext carries what assertions read from.
type AssertionContext struct {
	Store *store.Store
	Ctx   context.Context
}

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Subject  string
	Expected string
	Actual   string
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s", e.Type)
	if e.Subject != "" {
		fmt.Fprintf(&buf, " (%s)", e.Subject)
	}
	fmt.Fprintf(&buf, "\n  Expected: %s\n  Actual: %s", e.Expected, e.Actual)
	return buf.String()
}

// EvaluateAssertions runs every assertion and returns the failure
// messages. An empty slice means all passed.
func EvaluateAssertions(assertions []Assertion, actx *AssertionContext) []string {
	errs := []string{}
	for i, a := range assertions {
		if err := evaluate(actx, a); err != nil {
			errs = append(errs, fmt.Sprintf("assertion %d: %v", i, err))
		}
	}
	return errs
}

func evaluate(actx *AssertionContext, a Assertion) error {
	switch a.Type {
	case AssertVersions:
		return assertVersions(actx, a)
	case AssertAsOf:
		return assertAsOf(actx, a)
	case AssertAbsent:
		return assertAbsent(actx, a)
	case AssertChildren:
		return assertChildren(actx, a)
	case AssertTip:
		return assertTip(actx, a)
	case AssertIntervals:
		return assertIntervals(actx)
	default:
		return fmt.Errorf("unknown assertion type: %s", a.Type)
	}
}

// assertVersions compares every stored row of an entity, oldest first.
func assertVersions(actx *AssertionContext, a Assertion) error {
	kind, err := address.ParseKind(a.Kind)
	if err != nil {
		return err
	}

	var rows []any
	switch kind {
	case address.KindAdmin:
		history, err := actx.Store.AdminHistory(actx.Ctx, a.Key)
		if err != nil {
			return err
		}
		rows = toAny(history)
	case address.KindUser:
		history, err := actx.Store.UserHistory(actx.Ctx, a.Key)
		if err != nil {
			return err
		}
		rows = toAny(history)
	case address.KindSensor:
		snap, err := actx.Store.Dump(actx.Ctx)
		if err != nil {
			return err
		}
		for _, r := range snap.Sensors {
			if r.SensorID == a.Key {
				rows = append(rows, r)
			}
		}
	}

	return compareVersions(AssertVersions, a.Kind+" "+a.Key, rows, a.Versions)
}

// assertAsOf checks the fields of the version valid at a height.
func assertAsOf(actx *AssertionContext, a Assertion) error {
	v, err := versionAt(actx, a)
	if err != nil {
		return &AssertionError{
			Type:     AssertAsOf,
			Subject:  subject(a),
			Expected: fmt.Sprintf("%v", a.Expect),
			Actual:   err.Error(),
		}
	}
	actual, err := fieldMap(v)
	if err != nil {
		return err
	}
	if field, ok := matchFields(actual, a.Expect); !ok {
		return &AssertionError{
			Type:     AssertAsOf,
			Subject:  subject(a),
			Expected: fmt.Sprintf("%s=%v", field, a.Expect[field]),
			Actual:   fmt.Sprintf("%s=%v", field, actual[field]),
		}
	}
	return nil
}

// assertAbsent checks that no version is valid at a height.
func assertAbsent(actx *AssertionContext, a Assertion) error {
	v, err := versionAt(actx, a)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}
	return &AssertionError{
		Type:     AssertAbsent,
		Subject:  subject(a),
		Expected: "no version",
		Actual:   fmt.Sprintf("%+v", v),
	}
}

// assertChildren compares every stored child row of one kind for a sensor,
// in insertion order.
func assertChildren(actx *AssertionContext, a Assertion) error {
	snap, err := actx.Store.Dump(actx.Ctx)
	if err != nil {
		return err
	}

	var rows []any
	switch a.Child {
	case "locations":
		for _, r := range snap.Locations {
			if r.SensorID == a.Key {
				rows = append(rows, r)
			}
		}
	case "owners":
		for _, r := range snap.Owners {
			if r.SensorID == a.Key {
				rows = append(rows, r)
			}
		}
	case "measurements":
		for _, r := range snap.Measurements {
			if r.SensorID == a.Key {
				rows = append(rows, r)
			}
		}
	default:
		return fmt.Errorf("unknown child %q", a.Child)
	}

	return compareVersions(AssertChildren, a.Key+" "+a.Child, rows, a.Versions)
}

// assertTip checks the highest stored block.
func assertTip(actx *AssertionContext, a Assertion) error {
	num, err := actx.Store.MaxBlockNum(actx.Ctx)
	if err != nil {
		return &AssertionError{
			Type:     AssertTip,
			Expected: fmt.Sprintf("%d %s", a.Num, a.ID),
			Actual:   err.Error(),
		}
	}
	b, err := actx.Store.Block(actx.Ctx, num)
	if err != nil {
		return err
	}
	if b.Num != a.Num || b.ID != a.ID {
		return &AssertionError{
			Type:     AssertTip,
			Expected: fmt.Sprintf("%d %s", a.Num, a.ID),
			Actual:   fmt.Sprintf("%d %s", b.Num, b.ID),
		}
	}
	return nil
}

// assertIntervals checks that every key's rows form a valid history.
func assertIntervals(actx *AssertionContext) error {
	snap, err := actx.Store.Dump(actx.Ctx)
	if err != nil {
		return err
	}
	if err := snap.CheckIntervals(); err != nil {
		return &AssertionError{
			Type:     AssertIntervals,
			Expected: "valid intervals",
			Actual:   err.Error(),
		}
	}
	return nil
}

func versionAt(actx *AssertionContext, a Assertion) (any, error) {
	kind, err := address.ParseKind(a.Kind)
	if err != nil {
		return nil, err
	}

	var height int64
	if a.Height != nil {
		height = *a.Height
	} else if height, err = actx.Store.MaxBlockNum(actx.Ctx); err != nil {
		return nil, err
	}

	switch kind {
	case address.KindAdmin:
		return actx.Store.Admin(actx.Ctx, a.Key, height)
	case address.KindUser:
		return actx.Store.User(actx.Ctx, a.Key, height)
	default:
		return actx.Store.Sensor(actx.Ctx, a.Key, height)
	}
}

// compareVersions checks rows against expectations by count, interval and
// field subset.
func compareVersions(typ, subj string, rows []any, want []VersionExpect) error {
	if len(rows) != len(want) {
		return &AssertionError{
			Type:     typ,
			Subject:  subj,
			Expected: fmt.Sprintf("%d rows", len(want)),
			Actual:   fmt.Sprintf("%d rows", len(rows)),
		}
	}

	for i, w := range want {
		actual, err := fieldMap(rows[i])
		if err != nil {
			return err
		}
		end, err := parseEnd(w.End)
		if err != nil {
			return err
		}

		iv := intervalOf(rows[i])
		if iv.Start != w.Start || iv.End != end {
			return &AssertionError{
				Type:     typ,
				Subject:  fmt.Sprintf("%s row %d", subj, i),
				Expected: fmt.Sprintf("[%d, %s)", w.Start, w.End),
				Actual:   fmt.Sprintf("[%d, %s)", iv.Start, formatEnd(iv.End)),
			}
		}
		if field, ok := matchFields(actual, w.Fields); !ok {
			return &AssertionError{
				Type:     typ,
				Subject:  fmt.Sprintf("%s row %d", subj, i),
				Expected: fmt.Sprintf("%s=%v", field, w.Fields[field]),
				Actual:   fmt.Sprintf("%s=%v", field, actual[field]),
			}
		}
	}
	return nil
}

func intervalOf(row any) model.Interval {
	switch r := row.(type) {
	case model.AdminVersion:
		return r.Interval
	case model.UserVersion:
		return r.Interval
	case store.SensorRow:
		return r.Interval
	case store.LocationRow:
		return r.Interval
	case store.OwnerRow:
		return r.Interval
	case store.MeasurementRow:
		return r.Interval
	}
	return model.Interval{}
}

// fieldMap flattens a row into its JSON field names.
func fieldMap(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal row: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal row: %w", err)
	}
	return m, nil
}

// matchFields reports whether every expected field equals the actual one.
// On mismatch it returns the first differing field in name order.
func matchFields(actual, expected map[string]any) (string, bool) {
	if len(expected) == 0 {
		return "", true
	}
	// Round-trip so YAML ints compare equal to JSON numbers.
	normalized, err := fieldMap(expected)
	if err != nil {
		return "", false
	}

	keys := make([]string, 0, len(normalized))
	for k := range normalized {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if !reflect.DeepEqual(actual[k], normalized[k]) {
			return k, false
		}
	}
	return "", true
}

func parseEnd(s string) (int64, error) {
	if s == "open" {
		return model.OpenBlock, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("end must be a block number or \"open\": %q", s)
	}
	return n, nil
}

func formatEnd(end int64) string {
	if end == model.OpenBlock {
		return "open"
	}
	return strconv.FormatInt(end, 10)
}

func subject(a Assertion) string {
	s := a.Kind + " " + a.Key
	if a.Height != nil {
		s += fmt.Sprintf(" at %d", *a.Height)
	}
	return s
}

func toAny[T any](rows []T) []any {
	out := make([]any, len(rows))
	for i, r := range rows {
		out[i] = r
	}
	return out
}
