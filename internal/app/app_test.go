package app

import (
	"bytes"
	"context"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/llmc/pkg/container"
	"github.com/samcharles93/llmc/pkg/llmc"
)

func writeTensorFile(t *testing.T, dir string, n int) string {
	t.Helper()
	meta := []byte(`{"w":{"dtype":"F32","shape":[` + strconv.Itoa(n) + `],"data_offsets":[0,` + strconv.Itoa(4*n) + `]}}`)
	raw := binary.LittleEndian.AppendUint64(nil, uint64(len(meta)))
	raw = append(raw, meta...)
	for i := range n {
		v := float32(math.Sin(float64(i)/40)) * 0.05
		raw = binary.LittleEndian.AppendUint32(raw, math.Float32bits(v))
	}
	path := filepath.Join(dir, "model.safetensors")
	require.NoError(t, os.WriteFile(path, raw, 0o644))
	return path
}

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func runCmd(t *testing.T, cmd *cli.Command, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd.Writer = &stdout
	cmd.ErrWriter = &stderr
	err := cmd.Run(context.Background(), append([]string{cmd.Name}, args...))
	return stdout.String(), err
}

func inspectFile(t *testing.T, path string) *llmc.Report {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	r, err := llmc.Inspect(data, container.LayoutAuto)
	require.NoError(t, err)
	return r
}

func TestLossyRoundTrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	in := writeTensorFile(t, dir, 2000)
	cfg := writeConfig(t, dir, "")
	packed := filepath.Join(dir, "model.llmc")
	back := filepath.Join(dir, "back.safetensors")

	out, err := runCmd(t, NewLossyCommand(), "--config", cfg, "-c", in, packed)
	require.NoError(t, err)
	require.Contains(t, out, "quantized")

	out, err = runCmd(t, NewLossyCommand(), "--config", cfg, "-d", packed, back)
	require.NoError(t, err)
	require.Contains(t, out, "->")

	orig, err := os.ReadFile(in)
	require.NoError(t, err)
	got, err := os.ReadFile(back)
	require.NoError(t, err)
	require.Len(t, got, len(orig))
	metaEnd := 8 + binary.LittleEndian.Uint64(orig[:8])
	require.Equal(t, orig[:metaEnd], got[:metaEnd], "metadata must survive unchanged")
}

func TestLosslessRoundTripBitExact(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		args []string
	}{
		{"zstd", []string{"--workers", "2", "--window-log", "20"}},
		{"lz4 blocks", []string{"--backend", "lz4", "--block-size", "1024"}},
		{"legacy", []string{"--layout", "legacy", "--workers", "2", "--window-log", "20"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			dir := t.TempDir()
			in := writeTensorFile(t, dir, 3000)
			cfg := writeConfig(t, dir, "")
			packed := filepath.Join(dir, "model.llmcz")
			back := filepath.Join(dir, "back.safetensors")

			args := append([]string{"--config", cfg, "-c"}, tc.args...)
			_, err := runCmd(t, NewLosslessCommand(), append(args, in, packed)...)
			require.NoError(t, err)

			// Decompression detects the layout from the file.
			_, err = runCmd(t, NewLosslessCommand(), "--config", cfg, "-d", packed, back)
			require.NoError(t, err)

			orig, err := os.ReadFile(in)
			require.NoError(t, err)
			got, err := os.ReadFile(back)
			require.NoError(t, err)
			require.True(t, bytes.Equal(orig, got), "round trip is not bit-exact")
		})
	}
}

func TestFloat16FromConfig(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	in := writeTensorFile(t, dir, 100)
	cfg := writeConfig(t, dir, "float16: true\n")
	packed := filepath.Join(dir, "model.llmc")

	_, err := runCmd(t, NewLossyCommand(), "--config", cfg, "-c", in, packed)
	require.NoError(t, err)
	require.Equal(t, container.MethodFloat16.String(), inspectFile(t, packed).Method)
}

func TestFlagAfterPositionalArguments(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	in := writeTensorFile(t, dir, 100)
	cfg := writeConfig(t, dir, "")
	packed := filepath.Join(dir, "model.llmc")

	out, err := runCmd(t, NewLossyCommand(), "--config", cfg, "-c", in, packed, "--float16")
	require.NoError(t, err)
	require.Contains(t, out, container.MethodFloat16.String())
	require.Equal(t, container.MethodFloat16.String(), inspectFile(t, packed).Method)
}

func TestConfigAppliesOnlyWhenFlagUnset(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	in := writeTensorFile(t, dir, 500)
	cfg := writeConfig(t, dir, "backend: none\nworkers: 2\nlog_level: warn\n")

	fromConfig := filepath.Join(dir, "config.llmcz")
	_, err := runCmd(t, NewLosslessCommand(), "--config", cfg, "-c", in, fromConfig)
	require.NoError(t, err)
	require.Equal(t, "none", inspectFile(t, fromConfig).Backend)

	fromFlag := filepath.Join(dir, "flag.llmcz")
	_, err = runCmd(t, NewLosslessCommand(), "--config", cfg, "--backend", "lz4", "-c", in, fromFlag)
	require.NoError(t, err)
	require.Equal(t, "lz4", inspectFile(t, fromFlag).Backend)
}

func TestUsageErrors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	in := writeTensorFile(t, dir, 10)
	cfg := writeConfig(t, dir, "")
	out := filepath.Join(dir, "out")

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"both modes", []string{"-c", "-d", in, out}, "mutually exclusive"},
		{"no mode", []string{in, out}, "specify -c"},
		{"one argument", []string{"-c", in}, "expected <input> <output>"},
		{"bad layout", []string{"--layout", "sideways", "-c", in, out}, "unknown layout"},
		{"bad log level", []string{"--log-level", "loud", "-c", in, out}, "log level"},
		{"missing input", []string{"-c", filepath.Join(dir, "nope"), out}, "i/o error"},
	}
	for _, tc := range tests {
		_, err := runCmd(t, NewLossyCommand(), append([]string{"--config", cfg}, tc.args...)...)
		require.Error(t, err, tc.name)
		require.Contains(t, err.Error(), tc.want, tc.name)
	}
	_, err := os.Stat(out)
	require.True(t, os.IsNotExist(err), "failed runs must not leave output behind")
}

func TestLosslessRejectsBadBackend(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	in := writeTensorFile(t, dir, 10)
	cfg := writeConfig(t, dir, "")

	_, err := runCmd(t, NewLosslessCommand(), "--config", cfg, "--backend", "brotli", "-c", in, filepath.Join(dir, "out"))
	require.ErrorContains(t, err, "unknown entropy backend")

	_, err = runCmd(t, NewLosslessCommand(), "--config", cfg, "--layout", "legacy", "--backend", "lz4", "-c", in, filepath.Join(dir, "out"))
	require.Error(t, err)
}

func TestMissingExplicitConfigFails(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	_, err := runCmd(t, NewLossyCommand(), "--config", filepath.Join(dir, "missing.yaml"), "version")
	require.ErrorContains(t, err, "read config")
}

func TestInspectCommand(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	in := writeTensorFile(t, dir, 64)
	cfg := writeConfig(t, dir, "")
	packed := filepath.Join(dir, "model.llmcz")

	_, err := runCmd(t, NewLosslessCommand(), "--config", cfg, "--block-size", "64", "--workers", "2", "--window-log", "20", "-c", in, packed)
	require.NoError(t, err)

	out, err := runCmd(t, NewLosslessCommand(), "--config", cfg, "inspect", "--json", packed)
	require.NoError(t, err)
	var report llmc.Report
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	require.Equal(t, llmc.KindContainer, report.Kind)
	require.Equal(t, "lossless", report.Pipeline)
	require.Len(t, report.Blocks, 4)
	require.EqualValues(t, 64, report.NumValues)

	out, err = runCmd(t, NewLossyCommand(), "--config", cfg, "inspect", in)
	require.NoError(t, err)
	require.Contains(t, out, "Kind:      tensors")
	require.Contains(t, out, "F32")

	out, err = runCmd(t, NewLosslessCommand(), "--config", cfg, "inspect", "--blocks", packed)
	require.NoError(t, err)
	require.Contains(t, out, "[3]")
}

func TestVersionCommand(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfg := writeConfig(t, dir, "")
	out, err := runCmd(t, NewLosslessCommand(), "--config", cfg, "version")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(out, "version:"), out)
}

func TestLoadConfig(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	cfg, err := LoadConfig(filepath.Join(dir, "missing.yaml"), false)
	require.NoError(t, err)
	require.Nil(t, cfg.Backend)

	_, err = LoadConfig(filepath.Join(dir, "missing.yaml"), true)
	require.Error(t, err)

	bad := writeConfig(t, dir, "level: [not, a, number]\n")
	_, err = LoadConfig(bad, false)
	require.ErrorContains(t, err, "parse config")

	good := filepath.Join(dir, "good.yaml")
	require.NoError(t, os.WriteFile(good, []byte("level: 3\nlong_distance: false\nmax_body_size: 4096\n"), 0o644))
	cfg, err = LoadConfig(good, true)
	require.NoError(t, err)
	require.Equal(t, 3, *cfg.Level)
	require.False(t, *cfg.LongDistance)
	require.EqualValues(t, 4096, *cfg.MaxBodySize)
}

func TestDecodeLayout(t *testing.T) {
	t.Parallel()

	lossy := newSettings(container.PipelineLossy)
	lossless := newSettings(container.PipelineLossless)

	got, err := lossy.decodeLayout([]byte("LLMC"))
	require.NoError(t, err)
	require.Equal(t, container.LayoutTagged, got)

	got, err = lossy.decodeLayout([]byte{1, 2})
	require.NoError(t, err)
	require.Equal(t, container.LayoutLegacyLossy, got)

	got, err = lossless.decodeLayout(nil)
	require.NoError(t, err)
	require.Equal(t, container.LayoutLegacyLossless, got)

	lossless.layout = "tagged"
	got, err = lossless.decodeLayout(nil)
	require.NoError(t, err)
	require.Equal(t, container.LayoutTagged, got)

	lossless.layout = "diagonal"
	_, err = lossless.decodeLayout(nil)
	require.Error(t, err)
}

func TestServerConfigFromFile(t *testing.T) {
	t.Parallel()

	level, blockSize, ld := 5, 4096, false
	s := newSettings(container.PipelineLossy)
	s.cfg = Config{Level: &level, BlockSize: &blockSize, LongDistance: &ld}

	cfg := s.serverConfig(1 << 20)
	require.EqualValues(t, 1<<20, cfg.MaxBodySize)
	require.Equal(t, 5, cfg.Entropy.Level)
	require.Equal(t, 4096, cfg.BlockSize)
	require.False(t, cfg.Entropy.LongDistance)
}

func TestFormatBytes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   uint64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1536, "1.50 KiB"},
		{5 << 20, "5.00 MiB"},
		{3 << 30, "3.00 GiB"},
	}
	for _, tc := range tests {
		require.Equal(t, tc.want, formatBytes(tc.in))
	}
}
