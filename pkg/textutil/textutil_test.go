package textutil

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClosest(t *testing.T) {
	candidates := []string{"Bases de Dados", "Projeto", "Redes de Comunicação"}

	closest, ok := Closest("Bases de dados", candidates)
	require.True(t, ok)
	require.Equal(t, "Bases de Dados", closest)

	closest, ok = Closest("Projecto", candidates)
	require.True(t, ok)
	require.Equal(t, "Projeto", closest)

	_, ok = Closest("anything", nil)
	require.False(t, ok)
}
