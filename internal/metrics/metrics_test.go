package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoop(t *testing.T) {
	var m Metrics = Noop{}
	m.ObserveOperation("reindex", "ok", 0.1)
	m.AddArtifactsIndexed("s:r", 3)
	m.AddStreamBytes("in", 10)
}

func TestProm(t *testing.T) {
	p := NewProm("artvault")
	p.ObserveOperation("reindex", "ok", 0.25)
	p.ObserveOperation("reindex", "error", 0.5)
	p.AddArtifactsIndexed("storage0:releases", 3)
	p.AddArtifactsIndexed("storage0:releases", 2)
	p.AddStreamBytes("out", 1024)

	assert.Equal(t, 1.0, testutil.ToFloat64(p.operations.WithLabelValues("reindex", "ok")))
	assert.Equal(t, 5.0, testutil.ToFloat64(p.indexed.WithLabelValues("storage0:releases")))
	assert.Equal(t, 1024.0, testutil.ToFloat64(p.bytes.WithLabelValues("out")))

	// Two registries never collide.
	other := NewProm("artvault")
	assert.Equal(t, 0.0, testutil.ToFloat64(other.bytes.WithLabelValues("out")))
}

func TestProm_WriteTextfile(t *testing.T) {
	p := NewProm("artvault")
	p.ObserveOperation("pack", "ok", 0.01)

	path := filepath.Join(t.TempDir(), "artvault.prom")
	require.NoError(t, p.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), `artvault_repository_operations_total{op="pack",status="ok"} 1`))
}
