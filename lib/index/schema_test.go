package index

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTypeInfoMap(t *testing.T) {
	m, err := ParseTypeInfoMap("Employee(Name:string, Salary:int, Hired:datetime); Department; Worker=Employee")
	require.NoError(t, err)
	require.Equal(t, 2, m.Len())

	emp, ok := m.ByName("Employee")
	require.True(t, ok)
	assert.Equal(t, 1, emp.Handle)
	assert.True(t, emp.HasAttributes())

	salary, ok := emp.Attribute("Salary")
	require.True(t, ok)
	assert.Equal(t, TypeInt, salary.Type)

	dept, ok := m.ByHandle(2)
	require.True(t, ok)
	assert.Equal(t, "Department", dept.Name)
	assert.False(t, dept.HasAttributes())

	worker, ok := m.ByName("Worker")
	require.True(t, ok)
	assert.Same(t, emp, worker, "aliases resolve to the canonical type")
	assert.Equal(t, "Employee", m.Canonical("Worker"))

	again, err := ParseTypeInfoMap(m.String())
	require.NoError(t, err)
	assert.Equal(t, m.String(), again.String())
}

func TestParseTypeInfoMapErrors(t *testing.T) {
	for _, def := range []string{
		"Employee(Salary)",
		"Employee(Salary:money)",
		"Employee(Salary:int",
		"A;A",
		"B=Missing",
		"E(X:int,X:int)",
	} {
		_, err := ParseTypeInfoMap(def)
		assert.Error(t, err, def)
	}
}

func TestTypeInfoValues(t *testing.T) {
	m, err := ParseTypeInfoMap("Employee(Name:string,Salary:int)")
	require.NoError(t, err)
	emp, _ := m.ByName("Employee")

	values, err := emp.Values(&MetaInfo{TypeName: "Employee", Attributes: map[string]any{"Salary": "60000"}})
	require.NoError(t, err)
	assert.Equal(t, Int(60000), values["Salary"])
	assert.True(t, values["Name"].IsNull())

	_, err = emp.Values(&MetaInfo{Attributes: map[string]any{"Salary": "lots"}})
	var ce *ConversionError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "Employee", ce.TypeName)
	assert.Equal(t, "Salary", ce.Attribute)
}

func TestTypeOfPrefersHandle(t *testing.T) {
	m, err := ParseTypeInfoMap("A(x:int);B(y:int)")
	require.NoError(t, err)
	assert.Equal(t, "B", m.TypeOf(&MetaInfo{TypeName: "A", TypeHandle: 2}))
	assert.Equal(t, "A", m.TypeOf(&MetaInfo{TypeName: "A"}))
	assert.Equal(t, "Other", m.TypeOf(&MetaInfo{TypeName: "Other"}))
}
