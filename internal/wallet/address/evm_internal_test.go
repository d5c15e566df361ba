package address

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBIP44Path(t *testing.T) {
	indices, err := parseBIP44Path("m/44'/60'/0'/0/0")
	require.NoError(t, err)
	assert.Equal(t, []uint32{0x8000002c, 0x8000003c, 0x80000000, 0, 0}, indices)

	for _, bad := range []string{"", "m", "44'/60'", "m/x/0", "m/44''/0", "m/-1"} {
		_, err := parseBIP44Path(bad)
		assert.Error(t, err, bad)
	}
}
