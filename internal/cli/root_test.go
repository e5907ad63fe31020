package cli

import (
	"bytes"
	"os"
	"regexp"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var addedRe = regexp.MustCompile(`Entry added: (\S+)`)

func initVault(t *testing.T, e *testEnv, pass string) {
	t.Helper()
	stubPasswords(t, pass, pass)
	res := e.run(t, nil, "init")
	require.Equal(t, 0, res.code, res.err)
	require.Contains(t, res.out, "Vault created at "+e.path("vault.enc"))
}

func addEntry(t *testing.T, e *testEnv, pass, password string, args ...string) string {
	t.Helper()
	stubPasswords(t, pass, password)
	res := e.run(t, nil, append([]string{"add"}, args...)...)
	require.Equal(t, 0, res.code, res.err)
	m := addedRe.FindStringSubmatch(res.out)
	require.NotNil(t, m, res.out)
	return m[1]
}

func TestInit_RefusesSecondVault(t *testing.T) {
	e := newTestEnv(t)
	initVault(t, e, "Correct1!")

	stubPasswords(t, "Other1!", "Other1!")
	res := e.run(t, nil, "init")
	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.err, "Error: a vault already exists")
}

func TestInit_MismatchedConfirmation(t *testing.T) {
	e := newTestEnv(t)
	stubPasswords(t, "Correct1!", "Correct2!")

	res := e.run(t, nil, "init")
	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.err, "passphrases do not match")
	assert.NoFileExists(t, e.path("vault.enc"))
}

func TestCommands_WithoutVault(t *testing.T) {
	e := newTestEnv(t)
	stubPasswords(t, "Correct1!")

	res := e.run(t, nil, "list")
	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.err, "no vault found")
}

func TestEntryLifecycle(t *testing.T) {
	e := newTestEnv(t)
	initVault(t, e, "Correct1!")

	id := addEntry(t, e, "Correct1!", "s3cret",
		"--title", "GitHub", "--username", "octo", "--url", "https://github.com", "--tags", "dev, work")

	stubPasswords(t, "Correct1!")
	res := e.run(t, nil, "list")
	require.Equal(t, 0, res.code, res.err)
	assert.Contains(t, res.out, id)
	assert.Contains(t, res.out, "GitHub")
	assert.Contains(t, res.out, "dev,work")
	assert.Contains(t, res.out, "general")

	stubPasswords(t, "Correct1!")
	res = e.run(t, nil, "get", id)
	require.Equal(t, 0, res.code, res.err)
	assert.Contains(t, res.out, "********")
	assert.NotContains(t, res.out, "s3cret")

	stubPasswords(t, "Correct1!")
	res = e.run(t, nil, "get", id, "--show-password")
	require.Equal(t, 0, res.code, res.err)
	assert.Contains(t, res.out, "s3cret")

	stubPasswords(t, "Correct1!")
	res = e.run(t, nil, "search", "GIT")
	require.Equal(t, 0, res.code, res.err)
	assert.Contains(t, res.out, id)

	stubPasswords(t, "Correct1!")
	res = e.run(t, nil, "search", "nomatch")
	require.Equal(t, 0, res.code, res.err)
	assert.Contains(t, res.out, "No entries found.")

	stubPasswords(t, "Correct1!", "n3w-pass")
	res = e.run(t, nil, "update", id, "--username", "hubot", "--password")
	require.Equal(t, 0, res.code, res.err)
	assert.Contains(t, res.out, "Entry updated: "+id)

	stubPasswords(t, "Correct1!")
	res = e.run(t, nil, "get", id, "-s")
	require.Equal(t, 0, res.code, res.err)
	assert.Contains(t, res.out, "hubot")
	assert.Contains(t, res.out, "n3w-pass")
	assert.Contains(t, res.out, "https://github.com")

	stubPasswords(t, "Correct1!")
	res = e.run(t, nil, "delete", id)
	require.Equal(t, 0, res.code, res.err)
	assert.Contains(t, res.out, "Entry deleted: "+id)

	stubPasswords(t, "Correct1!")
	res = e.run(t, nil, "delete", id)
	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.err, "Error: not found")
}

func TestAdd_PromptsForTitle(t *testing.T) {
	e := newTestEnv(t)
	initVault(t, e, "Correct1!")

	stubPasswords(t, "Correct1!", "pw")
	res := e.run(t, strings.NewReader("Mail\n"), "add")
	require.Equal(t, 0, res.code, res.err)
	assert.Contains(t, res.out, "Title:")

	stubPasswords(t, "Correct1!")
	res = e.run(t, nil, "list")
	assert.Contains(t, res.out, "Mail")
}

func TestAdd_RejectsEmptyPassword(t *testing.T) {
	e := newTestEnv(t)
	initVault(t, e, "Correct1!")

	stubPasswords(t, "Correct1!", "")
	res := e.run(t, nil, "add", "--title", "Mail")
	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.err, "validation error")
}

func TestUnlock_WrongPassphrase(t *testing.T) {
	e := newTestEnv(t)
	initVault(t, e, "Correct1!")

	stubPasswords(t, "Wrong1!")
	res := e.run(t, nil, "list")
	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.err, "Error: failed to unlock")
}

func TestUpdate_UnknownID(t *testing.T) {
	e := newTestEnv(t)
	initVault(t, e, "Correct1!")

	stubPasswords(t, "Correct1!")
	res := e.run(t, nil, "update", "missing", "--title", "x")
	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.err, "Error: not found")
}

func TestExportImport(t *testing.T) {
	src := newTestEnv(t)
	initVault(t, src, "Correct1!")
	id := addEntry(t, src, "Correct1!", "s3cret", "--title", "GitHub")

	out := src.path("export.json")
	stubPasswords(t, "Correct1!")
	res := src.run(t, nil, "export", "--output", out)
	require.Equal(t, 0, res.code, res.err)
	assert.Contains(t, res.out, "Exported 1 entries")

	info, err := os.Stat(out)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(data), "UNENCRYPTED EXPORT")
	assert.Contains(t, string(data), "s3cret")

	dst := newTestEnv(t)
	initVault(t, dst, "Other1!")
	stubPasswords(t, "Other1!")
	res = dst.run(t, nil, "import", out)
	require.Equal(t, 0, res.code, res.err)
	assert.Contains(t, res.out, "Imported 1 entries.")

	stubPasswords(t, "Other1!")
	res = dst.run(t, nil, "list")
	assert.Contains(t, res.out, "GitHub")
	assert.NotContains(t, res.out, id)
}

func TestExport_ToStdout(t *testing.T) {
	e := newTestEnv(t)
	initVault(t, e, "Correct1!")
	addEntry(t, e, "Correct1!", "s3cret", "--title", "GitHub")

	stubPasswords(t, "Correct1!")
	res := e.run(t, nil, "export")
	require.Equal(t, 0, res.code, res.err)
	assert.Contains(t, res.out, `"warning"`)
	assert.Contains(t, res.out, "s3cret")
}

func TestPasswd(t *testing.T) {
	e := newTestEnv(t)
	initVault(t, e, "Correct1!")
	addEntry(t, e, "Correct1!", "s3cret", "--title", "GitHub")

	stubPasswords(t, "Correct1!", "Newpass2!", "Newpass2!")
	res := e.run(t, nil, "passwd")
	require.Equal(t, 0, res.code, res.err)
	assert.Contains(t, res.out, "Master passphrase changed.")
	assert.NoFileExists(t, e.path(".session"))

	stubPasswords(t, "Correct1!")
	res = e.run(t, nil, "list")
	assert.Equal(t, 1, res.code)

	stubPasswords(t, "Newpass2!")
	res = e.run(t, nil, "list")
	require.Equal(t, 0, res.code, res.err)
	assert.Contains(t, res.out, "GitHub")
}

func TestTOTPFlow(t *testing.T) {
	e := newTestEnv(t)
	initVault(t, e, "Correct1!")

	res := e.run(t, nil, "totp", "status")
	require.Equal(t, 0, res.code, res.err)
	assert.Contains(t, res.out, "TOTP: disabled")

	stubPasswords(t, "Correct1!")
	out := &bytes.Buffer{}
	res = e.runTo(t, out, &codeReader{out: out}, "totp", "enable", "--account", "me@example.com")
	require.Equal(t, 0, res.code, res.err)
	assert.Contains(t, res.out, "otpauth://totp/")
	assert.Contains(t, res.out, "TOTP enabled.")
	secret := secretRe.FindStringSubmatch(res.out)[1]
	assert.FileExists(t, e.path("totp.enc"))

	res = e.run(t, nil, "totp", "status")
	assert.Contains(t, res.out, "TOTP: enabled")

	// Wrong code.
	stubPasswords(t, "Correct1!")
	res = e.run(t, strings.NewReader(codeFor(secret, -10*time.Minute)+"\n"), "list")
	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.err, "Error: failed to unlock")

	stubPasswords(t, "Correct1!")
	res = e.run(t, strings.NewReader(codeFor(secret, 0)+"\n"), "list")
	require.Equal(t, 0, res.code, res.err)
	assert.Contains(t, res.out, "Authenticator code:")

	// The verification is remembered by the session.
	stubPasswords(t, "Correct1!")
	res = e.run(t, nil, "list")
	require.Equal(t, 0, res.code, res.err)
	assert.NotContains(t, res.out, "Authenticator code:")

	res = e.run(t, nil, "lock")
	require.Equal(t, 0, res.code, res.err)

	stubPasswords(t, "Correct1!")
	res = e.run(t, nil, "list")
	assert.Equal(t, 1, res.code)

	stubPasswords(t, "Correct1!")
	res = e.run(t, strings.NewReader(codeFor(secret, 0)+"\n"), "totp", "disable")
	require.Equal(t, 0, res.code, res.err)
	assert.Contains(t, res.out, "TOTP disabled.")
	assert.NoFileExists(t, e.path("totp.enc"))

	res = e.run(t, nil, "lock")
	require.Equal(t, 0, res.code, res.err)
	stubPasswords(t, "Correct1!")
	res = e.run(t, nil, "list")
	require.Equal(t, 0, res.code, res.err)
}

func TestTOTP_SurvivesPasswd(t *testing.T) {
	e := newTestEnv(t)
	initVault(t, e, "Correct1!")

	stubPasswords(t, "Correct1!")
	out := &bytes.Buffer{}
	res := e.runTo(t, out, &codeReader{out: out}, "totp", "enable")
	require.Equal(t, 0, res.code, res.err)
	secret := secretRe.FindStringSubmatch(res.out)[1]

	stubPasswords(t, "Correct1!", "Newpass2!", "Newpass2!")
	res = e.run(t, strings.NewReader(codeFor(secret, 0)+"\n"), "passwd")
	require.Equal(t, 0, res.code, res.err)

	stubPasswords(t, "Newpass2!")
	res = e.run(t, strings.NewReader(codeFor(secret, 0)+"\n"), "list")
	require.Equal(t, 0, res.code, res.err)
}

func TestTOTP_EnableTwice(t *testing.T) {
	e := newTestEnv(t)
	initVault(t, e, "Correct1!")

	stubPasswords(t, "Correct1!")
	out := &bytes.Buffer{}
	res := e.runTo(t, out, &codeReader{out: out}, "totp", "enable")
	require.Equal(t, 0, res.code, res.err)

	res = e.run(t, nil, "totp", "enable")
	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.err, "totp is already enabled")
}

func TestUSBKeyFlow(t *testing.T) {
	lister := &fakeLister{}
	stubLister(t, lister)
	key := testDevice(t, "ABC123")

	e := newTestEnv(t)
	initVault(t, e, "Correct1!")

	res := e.run(t, nil, "usbkey", "list")
	require.Equal(t, 0, res.code, res.err)
	assert.Contains(t, res.out, "No USB devices found.")

	stubPasswords(t, "Correct1!")
	res = e.run(t, nil, "usbkey", "register")
	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.err, "Error: no key detected")

	lister.set(key)
	res = e.run(t, nil, "usbkey", "list")
	assert.Contains(t, res.out, "ABC123")

	stubPasswords(t, "Correct1!")
	res = e.run(t, nil, "usbkey", "register")
	require.Equal(t, 0, res.code, res.err)
	assert.Contains(t, res.out, "Registered")

	res = e.run(t, nil, "usbkey", "status")
	assert.Contains(t, res.out, "State: connected")

	res = e.run(t, nil, "usbkey", "check")
	require.Equal(t, 0, res.code, res.err)
	assert.Equal(t, "USB key detected.\n", res.out)

	stubPasswords(t, "Correct1!")
	res = e.run(t, nil, "list")
	require.Equal(t, 0, res.code, res.err)

	lister.set()
	stubPasswords(t, "Correct1!")
	res = e.run(t, nil, "list")
	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.err, "Error: no key detected")

	res = e.run(t, nil, "usbkey", "check")
	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.err, "Error: no key detected")

	res = e.run(t, nil, "usbkey", "status")
	assert.Contains(t, res.out, "State: disconnected")

	lister.set(testDevice(t, "OTHER1"))
	stubPasswords(t, "Correct1!")
	res = e.run(t, nil, "list")
	assert.Equal(t, 1, res.code)

	lister.set(key)
	stubPasswords(t, "Correct1!")
	res = e.run(t, nil, "usbkey", "unregister")
	require.Equal(t, 0, res.code, res.err)
	assert.NoFileExists(t, e.path("config.usbkey"))

	lister.set()
	stubPasswords(t, "Correct1!")
	res = e.run(t, nil, "list")
	require.Equal(t, 0, res.code, res.err)
}

func TestUSBKey_SurvivesPasswd(t *testing.T) {
	lister := &fakeLister{}
	stubLister(t, lister)
	lister.set(testDevice(t, "ABC123"))

	e := newTestEnv(t)
	initVault(t, e, "Correct1!")
	stubPasswords(t, "Correct1!")
	res := e.run(t, nil, "usbkey", "register")
	require.Equal(t, 0, res.code, res.err)

	stubPasswords(t, "Correct1!", "Newpass2!", "Newpass2!")
	res = e.run(t, nil, "passwd")
	require.Equal(t, 0, res.code, res.err)

	stubPasswords(t, "Newpass2!")
	res = e.run(t, nil, "list")
	require.Equal(t, 0, res.code, res.err)
}

func TestUSBKeyRegister_PicksBySerial(t *testing.T) {
	lister := &fakeLister{}
	stubLister(t, lister)
	lister.set(testDevice(t, "ONE"), testDevice(t, "TWO"))

	e := newTestEnv(t)
	initVault(t, e, "Correct1!")

	stubPasswords(t, "Correct1!")
	res := e.run(t, nil, "usbkey", "register")
	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.err, "--serial")

	stubPasswords(t, "Correct1!")
	res = e.run(t, nil, "usbkey", "register", "--serial", "TWO")
	require.Equal(t, 0, res.code, res.err)
	assert.Contains(t, res.out, "S/N TWO")
}

func TestUSBKeyUnregister_NothingRegistered(t *testing.T) {
	stubLister(t, &fakeLister{})
	e := newTestEnv(t)
	initVault(t, e, "Correct1!")

	res := e.run(t, nil, "usbkey", "unregister")
	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.err, "Error: not found")
}

func TestUSBKey_DamagedRegistrationBlocksUnlock(t *testing.T) {
	lister := &fakeLister{}
	stubLister(t, lister)
	lister.set(testDevice(t, "ABC123"))

	e := newTestEnv(t)
	initVault(t, e, "Correct1!")
	stubPasswords(t, "Correct1!")
	res := e.run(t, nil, "usbkey", "register")
	require.Equal(t, 0, res.code, res.err)
	res = e.run(t, nil, "lock")
	require.Equal(t, 0, res.code, res.err)

	require.NoError(t, os.WriteFile(e.path("config.usbkey"), []byte(`{"challenge":"broken"}`), 0o600))

	stubPasswords(t, "Correct1!")
	res = e.run(t, nil, "list")
	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.err, "Error: failed to unlock")

	res = e.run(t, nil, "usbkey", "status")
	require.Equal(t, 0, res.code, res.err)
	assert.Contains(t, res.out, "registration damaged")

	res = e.run(t, nil, "usbkey", "check")
	assert.Equal(t, 1, res.code)

	require.NoError(t, os.Remove(e.path("config.usbkey")))
	stubPasswords(t, "Correct1!")
	res = e.run(t, nil, "list")
	require.Equal(t, 0, res.code, res.err)
}

// readOnlyDir makes dir unwritable for the rest of the test.
func readOnlyDir(t *testing.T, dir string) {
	t.Helper()
	if runtime.GOOS == "windows" || os.Geteuid() == 0 {
		t.Skip("directory permissions are not enforced")
	}
	require.NoError(t, os.Chmod(dir, 0o500))
	t.Cleanup(func() { _ = os.Chmod(dir, 0o700) })
}

func TestPasswd_TOTPWriteFailureKeepsOldPassphrase(t *testing.T) {
	e := newTestEnvWith(t, map[string]string{"totp_secret_path": "factors/totp.enc"})
	initVault(t, e, "Correct1!")

	stubPasswords(t, "Correct1!")
	out := &bytes.Buffer{}
	res := e.runTo(t, out, &codeReader{out: out}, "totp", "enable")
	require.Equal(t, 0, res.code, res.err)
	secret := secretRe.FindStringSubmatch(res.out)[1]

	vaultBefore, err := os.ReadFile(e.path("vault.enc"))
	require.NoError(t, err)
	totpBefore, err := os.ReadFile(e.path("factors/totp.enc"))
	require.NoError(t, err)

	readOnlyDir(t, e.path("factors"))

	stubPasswords(t, "Correct1!", "Newpass2!", "Newpass2!")
	res = e.run(t, strings.NewReader(codeFor(secret, 0)+"\n"), "passwd")
	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.err, "re-seal totp secret")

	vaultAfter, err := os.ReadFile(e.path("vault.enc"))
	require.NoError(t, err)
	assert.Equal(t, vaultBefore, vaultAfter)
	totpAfter, err := os.ReadFile(e.path("factors/totp.enc"))
	require.NoError(t, err)
	assert.Equal(t, totpBefore, totpAfter)

	res = e.run(t, nil, "lock")
	require.Equal(t, 0, res.code, res.err)

	stubPasswords(t, "Newpass2!")
	res = e.run(t, strings.NewReader(codeFor(secret, 0)+"\n"), "list")
	assert.Equal(t, 1, res.code)

	stubPasswords(t, "Correct1!")
	res = e.run(t, strings.NewReader(codeFor(secret, 0)+"\n"), "list")
	require.Equal(t, 0, res.code, res.err)
}

func TestPasswd_USBKeyWriteFailureRollsBackTOTP(t *testing.T) {
	lister := &fakeLister{}
	stubLister(t, lister)
	lister.set(testDevice(t, "ABC123"))

	e := newTestEnvWith(t, map[string]string{"token_config_path": "token/config.usbkey"})
	initVault(t, e, "Correct1!")

	stubPasswords(t, "Correct1!")
	out := &bytes.Buffer{}
	res := e.runTo(t, out, &codeReader{out: out}, "totp", "enable")
	require.Equal(t, 0, res.code, res.err)
	secret := secretRe.FindStringSubmatch(res.out)[1]

	stubPasswords(t, "Correct1!")
	res = e.run(t, strings.NewReader(codeFor(secret, 0)+"\n"), "usbkey", "register")
	require.Equal(t, 0, res.code, res.err)

	totpBefore, err := os.ReadFile(e.path("totp.enc"))
	require.NoError(t, err)

	readOnlyDir(t, e.path("token"))

	stubPasswords(t, "Correct1!", "Newpass2!", "Newpass2!")
	res = e.run(t, nil, "passwd")
	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.err, "re-register usb key")

	totpAfter, err := os.ReadFile(e.path("totp.enc"))
	require.NoError(t, err)
	assert.Equal(t, totpBefore, totpAfter)

	res = e.run(t, nil, "lock")
	require.Equal(t, 0, res.code, res.err)

	stubPasswords(t, "Correct1!")
	res = e.run(t, strings.NewReader(codeFor(secret, 0)+"\n"), "list")
	require.Equal(t, 0, res.code, res.err)
}

func TestExecute_UnknownCommand(t *testing.T) {
	e := newTestEnv(t)
	res := e.run(t, nil, "frobnicate")
	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.err, "Error:")
}
