package record

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCanCoerce(t *testing.T) {
	require.True(t, CanCoerce(TypeInt4, TypeInt4, CoerceImplicit))
	require.True(t, CanCoerce(TypeInt4, TypeInt8, CoerceImplicit))
	require.True(t, CanCoerce(TypeInt4, TypeFloat8, CoerceImplicit))
	require.False(t, CanCoerce(TypeFloat8, TypeInt4, CoerceImplicit))
	require.True(t, CanCoerce(TypeFloat8, TypeInt4, CoerceAssignment))

	// unknown literals go anywhere
	require.True(t, CanCoerce(TypeUnknown, TypeTimestamp, CoerceImplicit))

	require.True(t, CanCoerce(TypeText, TypeVarchar, CoerceImplicit))
	require.True(t, CanCoerce(TypeInt4, TypeText, CoerceAssignment))
	require.False(t, CanCoerce(TypeText, TypeInt4, CoerceAssignment))

	require.False(t, CanCoerce(TypeBool, TypeInt4, CoerceAssignment))
	require.False(t, CanCoerce(TypeBool, TypeTimestamp, CoerceExplicit))
}

func TestFormatType(t *testing.T) {
	require.Equal(t, "integer", FormatType(TypeInt4))
	require.Equal(t, "boolean", FormatType(TypeBool))
	require.Equal(t, "type 424242", FormatType(Oid(424242)))
}

func TestTypeByName(t *testing.T) {
	id, ok := TypeByName("int")
	require.True(t, ok)
	require.Equal(t, TypeInt4, id)

	_, ok = TypeByName("geometry")
	require.False(t, ok)
}

func TestOidGenerator_UniqueAndAboveBootstrap(t *testing.T) {
	g := NewOidGenerator(7)

	const workers, perWorker = 8, 500
	var mu sync.Mutex
	seen := make(map[Oid]struct{}, workers*perWorker)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]Oid, 0, perWorker)
			for i := 0; i < perWorker; i++ {
				local = append(local, g.Next())
			}
			mu.Lock()
			defer mu.Unlock()
			for _, id := range local {
				seen[id] = struct{}{}
			}
		}()
	}
	wg.Wait()

	require.Len(t, seen, workers*perWorker)
	for id := range seen {
		require.Greater(t, uint64(id), uint64(1<<32))
	}
}
