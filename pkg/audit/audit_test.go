package audit

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendWritesHeaderOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.csv")
	l := New(path)

	l.Append(time.Now(), EventNewWindow, 1, 2)
	l.Append(time.Now(), EventUpdate, 3, 4)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, header, rows[0])
	assert.Equal(t, "new_window", rows[1][1])
	assert.Equal(t, "1", rows[1][2])
	assert.Equal(t, "update", rows[2][1])
}
