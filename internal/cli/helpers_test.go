package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/vaultkeeper/internal/config"
	"github.com/dmitrijs2005/vaultkeeper/internal/logging"
	"github.com/dmitrijs2005/vaultkeeper/internal/totp"
	"github.com/dmitrijs2005/vaultkeeper/internal/usbkey"
	"github.com/stretchr/testify/require"
)

// stubPasswords makes readPassword return pws in order, then io.EOF.
func stubPasswords(t *testing.T, pws ...string) {
	t.Helper()
	orig := readPassword
	var mu sync.Mutex
	queue := append([]string(nil), pws...)
	readPassword = func(int) ([]byte, error) {
		mu.Lock()
		defer mu.Unlock()
		if len(queue) == 0 {
			return nil, io.EOF
		}
		pw := queue[0]
		queue = queue[1:]
		return []byte(pw), nil
	}
	t.Cleanup(func() { readPassword = orig })
}

// fakeLister is a usbkey.Lister whose device set can change during a test.
type fakeLister struct {
	mu      sync.Mutex
	devices []usbkey.Device
}

func (l *fakeLister) set(devices ...usbkey.Device) {
	l.mu.Lock()
	l.devices = devices
	l.mu.Unlock()
}

func (l *fakeLister) ListDevices(context.Context) ([]usbkey.Device, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]usbkey.Device(nil), l.devices...), nil
}

func stubLister(t *testing.T, l usbkey.Lister) {
	t.Helper()
	orig := newLister
	newLister = func() usbkey.Lister { return l }
	t.Cleanup(func() { newLister = orig })
}

func testDevice(t *testing.T, serial string) usbkey.Device {
	t.Helper()
	d, err := usbkey.NewDevice(0x1050, 0x0407, serial, "Yubico", "YubiKey")
	require.NoError(t, err)
	return d
}

// testEnv is a data directory with a config file selecting fast KDF costs.
type testEnv struct {
	dir    string
	config string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWith(t, nil)
}

// newTestEnvWith is newTestEnv with extra config file keys. Relative path
// values are resolved against the data directory.
func newTestEnvWith(t *testing.T, extra map[string]string) *testEnv {
	t.Helper()
	dir := t.TempDir()
	cfg := map[string]any{
		"data_dir":  dir,
		"log_level": "error",
		"kdf":       map[string]any{"time": 1, "memory_kib": 8192, "threads": 1},
	}
	for k, v := range extra {
		cfg[k] = filepath.Join(dir, v)
	}
	b, err := json.Marshal(cfg)
	require.NoError(t, err)
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, b, 0o600))
	return &testEnv{dir: dir, config: path}
}

type result struct {
	code int
	out  string
	err  string
}

// run executes the CLI with stdin as the line input.
func (e *testEnv) run(t *testing.T, stdin io.Reader, args ...string) result {
	t.Helper()
	return e.runTo(t, &bytes.Buffer{}, stdin, args...)
}

// runTo is run with a caller-owned stdout buffer.
func (e *testEnv) runTo(t *testing.T, out *bytes.Buffer, stdin io.Reader, args ...string) result {
	t.Helper()
	if stdin == nil {
		stdin = strings.NewReader("")
	}
	var errOut bytes.Buffer
	full := append([]string{"--config", e.config}, args...)
	code := Execute(context.Background(), full, IO{In: stdin, Out: out, Err: &errOut})
	return result{code: code, out: out.String(), err: errOut.String()}
}

func (e *testEnv) path(name string) string {
	return filepath.Join(e.dir, name)
}

var secretRe = regexp.MustCompile(`Secret: (\S+)`)

// codeReader answers a TOTP prompt with a code for the secret printed to
// out. It is read lazily, after the command has printed the secret.
type codeReader struct {
	out  *bytes.Buffer
	buf  *strings.Reader
	skew time.Duration
}

func (r *codeReader) Read(p []byte) (int, error) {
	if r.buf == nil {
		m := secretRe.FindStringSubmatch(r.out.String())
		if m == nil {
			return 0, io.EOF
		}
		r.buf = strings.NewReader(codeFor(m[1], r.skew) + "\n")
	}
	return r.buf.Read(p)
}

func codeFor(secret string, skew time.Duration) string {
	v, err := totp.New(secret)
	if err != nil {
		panic(err)
	}
	code, err := v.GenerateCode(time.Now().Add(skew))
	if err != nil {
		panic(err)
	}
	return code
}

// newTestApp builds an App directly, for tests below the command layer.
func newTestApp(t *testing.T, lister usbkey.Lister, in io.Reader, out io.Writer) *App {
	t.Helper()
	stubLister(t, lister)

	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.DataDir = t.TempDir()
	cfg.KDF = config.KDF{Time: 1, MemoryKiB: 8192, Threads: 1}
	cfg.Resolve()

	a, err := NewApp(cfg, logging.NewNopLogger(), IO{In: in, Out: out, Err: io.Discard})
	require.NoError(t, err)
	return a
}
