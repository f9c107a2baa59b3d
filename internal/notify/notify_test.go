package notify

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/betbot/tradelink/internal/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileAppender_AppendsLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "pending.txt")
	a := NewFileAppender()

	require.NoError(t, a.AppendNumber(path, "offer-1"))
	require.NoError(t, a.AppendNumber(path, " offer-2 "))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "offer-1\noffer-2\n", string(b))
}

func TestFileAppender_EmptyPathIsNoop(t *testing.T) {
	assert.NoError(t, NewFileAppender().AppendNumber("", "offer-1"))
}

func TestMulti_FansOut(t *testing.T) {
	var got []string
	n := ports.NotifierFunc(func(title, body string) { got = append(got, title+"|"+body) })
	Multi{n, nil, NewLogNotifier("alice"), n}.Notify("t", "b")
	assert.Equal(t, []string{"t|b", "t|b"}, got)
}
