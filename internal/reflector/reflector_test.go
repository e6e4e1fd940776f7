package reflector

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type sample struct{}

func TestTypeInfo(t *testing.T) {
	want := "github.com/streamhaus/evr-go/internal/reflector.sample"

	require.Equal(t, want, TypeInfoOf(sample{}).Name)
	require.Equal(t, want, TypeInfoOf(&sample{}).Name, "pointers resolve to the element type")
	require.Equal(t, want, TypeInfoFor[sample]().Name)
	require.Equal(t, want, TypeInfoFor[*sample]().Name)
}

func TestTypeInfo_Nil(t *testing.T) {
	require.Equal(t, TypeInfo{}, TypeInfoForType(nil))
}
