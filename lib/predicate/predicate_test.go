package predicate

import (
	"testing"

	"github.com/ValentinKolb/dCache/lib/index"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func employees(t *testing.T) *index.AttributeIndex {
	t.Helper()
	types, err := index.ParseTypeInfoMap("Employee(Name:string,Salary:int,Remote:bool)")
	require.NoError(t, err)
	ti, _ := types.ByName("Employee")
	ai := index.NewAttributeIndex("Employee", ti, index.AttributeIndexOptions{})

	add := func(key, name string, salary int64, tags ...string) {
		info := &index.IndexInformation{}
		values := map[string]index.Value{"Name": index.String(name), "Salary": index.Int(salary)}
		require.NoError(t, ai.AddToIndex(key, values, info))
		ai.AddTags(key, tags, info)
		ai.AddNamedTags(key, map[string]index.Value{"level": index.Int(salary / 10000)}, info)
	}
	add("e1", "Ann", 60000, "vip", "remote")
	add("e2", "Bob", 40000, "remote")
	add("e3", "Cid", 75000)
	return ai
}

func keys(ks ...string) KeySet {
	m := make(KeySet, len(ks))
	for _, k := range ks {
		m[k] = struct{}{}
	}
	return m
}

func TestPredicates(t *testing.T) {
	src := employees(t)

	inverted := func(p Predicate) Predicate { p.Invert(); return p }

	tests := []struct {
		name string
		p    Predicate
		want KeySet
	}{
		{"all", NewAll(), keys("e1", "e2", "e3")},
		{"gt", NewCompare("Salary", index.GreaterThan, Const(50000)), keys("e1", "e3")},
		{"gt string operand is coerced", NewCompare("Salary", index.GreaterThan, Const("50000")), keys("e1", "e3")},
		{"not gt", inverted(NewCompare("Salary", index.GreaterThan, Const(50000))), keys("e2")},
		{"like", NewCompare("Name", index.Like, Const("B*")), keys("e2")},
		{"in", NewIn("Name", Const("Ann"), Const("Cid")), keys("e1", "e3")},
		{"between", NewBetween("Salary", Const(40000), Const(60000)), keys("e1", "e2")},
		{"is null", NewIsNull("Remote"), keys("e1", "e2", "e3")},
		{"and", NewAnd(NewCompare("Salary", index.GreaterThan, Const(50000)), NewHasTags(false, "remote")), keys("e1")},
		{"or", NewOr(NewCompare("Name", index.Equals, Const("Bob")), NewCompare("Salary", index.GreaterEquals, Const(75000))), keys("e2", "e3")},
		{"tags any", NewHasTags(false, "vip", "remote"), keys("e1", "e2")},
		{"tags all", NewHasTags(true, "vip", "remote"), keys("e1")},
		{"named tag", NewNamedTag("level", index.GreaterEquals, Const(6)), keys("e1", "e3")},
		{"missing named tag", NewNamedTag("nope", index.Equals, Const(1)), keys()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.p.ReEvaluate(src, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got, tt.p.String())
		})
	}
}

func TestPredicateParameters(t *testing.T) {
	src := employees(t)
	p := NewCompare("Salary", index.GreaterThan, Param("min"))

	got, err := p.ReEvaluate(src, Bindings{"min": index.Int(70000)})
	require.NoError(t, err)
	assert.Equal(t, keys("e3"), got)

	_, err = p.ReEvaluate(src, nil)
	assert.ErrorIs(t, err, ErrUnboundParameter)
}

func TestPredicateErrors(t *testing.T) {
	src := employees(t)

	_, err := NewCompare("Age", index.Equals, Const(1)).ReEvaluate(src, nil)
	assert.ErrorIs(t, err, index.ErrAttributeNotDefined)

	_, err = NewCompare("Salary", index.Equals, Const("lots")).ReEvaluate(src, nil)
	var ce *index.ConversionError
	assert.ErrorAs(t, err, &ce)
}

func TestPredicateString(t *testing.T) {
	p := NewAnd(NewCompare("Salary", index.GreaterThan, Const(50000)), NewCompare("Name", index.Equals, Param("n")))
	assert.Equal(t, "(Salary > 50000 AND Name = ?n)", p.String())
	p.Invert()
	assert.Equal(t, "NOT ((Salary > 50000 AND Name = ?n))", p.String())
}

func TestSpecBuild(t *testing.T) {
	src := employees(t)

	p, err := Parse([]byte(`{"op":"and","children":[
		{"op":"gt","attr":"Salary","value":50000},
		{"op":"not","children":[{"op":"tags","tags":["vip"]}]}]}`))
	require.NoError(t, err)

	got, err := p.ReEvaluate(src, nil)
	require.NoError(t, err)
	assert.Equal(t, keys("e3"), got)

	for _, bad := range []string{
		`{"op":"gt"}`,
		`{"op":"and"}`,
		`{"op":"between","attr":"Salary","values":[1]}`,
		`{"op":"frobnicate","attr":"x"}`,
		`not json`,
	} {
		_, err := Parse([]byte(bad))
		assert.Error(t, err, bad)
	}
}

func TestSpecRoundTrip(t *testing.T) {
	spec := Spec{Op: "namedtag", Attr: "level", Cmp: ">=", Value: 6}
	parsed, err := ParseSpec(spec.JSON())
	require.NoError(t, err)
	assert.Equal(t, "level", parsed.Attr)

	p, err := parsed.Build()
	require.NoError(t, err)
	got, err := p.ReEvaluate(employees(t), nil)
	require.NoError(t, err)
	assert.Equal(t, keys("e1", "e3"), got)
}
