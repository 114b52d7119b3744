package bridge

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeParser writes a shell script standing in for the node parser.
func fakeParser(t *testing.T, body string) *Bridge {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	path := filepath.Join(t.TempDir(), "parser.sh")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return New(path, WithCommand("sh"))
}

func TestParse(t *testing.T) {
	b := fakeParser(t, `cat > /dev/null
echo '{"direction":"TD","nodes":[{"id":"A","label":"Start"},{"id":"B","label":"End"}],"edges":[{"src":"A","dst":"B","label":"go"}]}'
`)
	require.True(t, b.Available())

	stats, err := b.Parse(context.Background(), "graph TD\n  A --> B")
	require.NoError(t, err)
	assert.Equal(t, "TD", stats.Direction)
	assert.Len(t, stats.Nodes, 2)
	assert.Equal(t, Edge{Src: "A", Dst: "B", Label: "go"}, stats.Edges[0])

	v := stats.Validation()
	assert.True(t, v.Valid())
	assert.Equal(t, 2, v.Nodes)
	assert.Equal(t, 1, v.Edges)
}

func TestParseEchoesInput(t *testing.T) {
	// The script sees the code on stdin.
	b := fakeParser(t, `read first
if [ "$first" = "graph LR" ]; then echo '{"direction":"LR","nodes":[],"edges":[]}'; else exit 3; fi
`)
	stats, err := b.Parse(context.Background(), "graph LR\n  A --> B")
	require.NoError(t, err)
	assert.Equal(t, "LR", stats.Direction)
}

func TestParseRejected(t *testing.T) {
	b := fakeParser(t, `cat > /dev/null
echo "Parse error on line 2" >&2
exit 1
`)
	_, err := b.Parse(context.Background(), "graph TD\n  A -->")
	require.ErrorIs(t, err, ErrParse)
	assert.Contains(t, err.Error(), "Parse error on line 2")

	v, err := b.Validate(context.Background(), "graph TD\n  A -->")
	require.NoError(t, err)
	assert.False(t, v.Valid())
}

func TestParseEmptyOutput(t *testing.T) {
	b := fakeParser(t, "cat > /dev/null\n")
	_, err := b.Parse(context.Background(), "graph TD")
	assert.ErrorIs(t, err, ErrParse)
}

func TestUnavailable(t *testing.T) {
	b := New(filepath.Join(t.TempDir(), "missing.mjs"))
	assert.False(t, b.Available())
	_, err := b.Parse(context.Background(), "graph TD")
	assert.ErrorIs(t, err, ErrUnavailable)
	_, err = b.Validate(context.Background(), "graph TD")
	assert.ErrorIs(t, err, ErrUnavailable)

	b = New("parser.mjs", WithCommand("definitely-not-a-real-interpreter"))
	assert.False(t, b.Available())
}

func TestWriteScript(t *testing.T) {
	path, err := WriteScript(t.TempDir())
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, Script, data)
	assert.NotEmpty(t, Script)
}
