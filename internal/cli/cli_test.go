package cli

import (
	"bytes"
	"context"
	"net"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/pquerna/otp/totp"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/payease/payease/internal/config"
	"github.com/payease/payease/internal/logging"
	"github.com/payease/payease/internal/server"
)

type harness struct {
	url       string
	tokenFile string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { cache.Close() })

	srv, err := server.New(config.Config{
		AppName:              "PayEase",
		AppEnv:               "test",
		SessionSecret:        "0123456789abcdef0123456789abcdef",
		SessionTTL:           time.Hour,
		ChallengeTTL:         5 * time.Minute,
		EnrollmentTTL:        10 * time.Minute,
		ChallengeMaxAttempts: 5,
		IdempotencyTTL:       time.Hour,
		CollaboratorTimeout:  2 * time.Second,
		LowBalanceThreshold:  1_000,
		LoginRatePerMinute:   100,
		TOTPIssuer:           "PayEase",
	}, nil, cache, logging.Discard())
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })

	return &harness{url: "http://" + ln.Addr().String(), tokenFile: filepath.Join(t.TempDir(), "session")}
}

func (h *harness) run(stdin string, args ...string) (string, error) {
	root := NewRoot("test")
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(append([]string{"--api", h.url, "--token-file", h.tokenFile}, args...))
	err := root.Execute()
	return out.String(), err
}

func capture(t *testing.T, pattern, output string) string {
	t.Helper()
	m := regexp.MustCompile(pattern).FindStringSubmatch(output)
	require.Len(t, m, 2, "no match for %q in %q", pattern, output)
	return m[1]
}

func TestCLISessionAndPayment(t *testing.T) {
	h := newHarness(t)

	out, err := h.run("hunter2hunter2\n", "register", "--email", "alan@example.com", "--first-name", "Alan", "--last-name", "Turing")
	require.NoError(t, err)
	assert.Contains(t, out, "registered alan@example.com")

	_, err = h.run("", "whoami")
	require.Error(t, err)
	assert.Equal(t, "not signed in, run `payease login` first", Describe(err))

	_, err = h.run("", "login", "--email", "alan@example.com", "--password", "wrong-password")
	require.Error(t, err)
	assert.Equal(t, "Invalid email or password", Describe(err))

	out, err = h.run("", "login", "--email", "alan@example.com", "--password", "hunter2hunter2")
	require.NoError(t, err)
	assert.Contains(t, out, "signed in as alan@example.com")

	out, err = h.run("", "whoami")
	require.NoError(t, err)
	assert.Contains(t, out, "Alan Turing <alan@example.com>")
	assert.Contains(t, out, "two-factor: off")

	out, err = h.run("", "pay", "--amount", "700", "--description", "tea", "--wait")
	require.NoError(t, err)
	ref := capture(t, `submitted (\S+)`, out)
	assert.Contains(t, out, ref+": failed")
	assert.Contains(t, out, "reason:  insufficient funds")

	out, err = h.run("", "verify-payment", ref)
	require.NoError(t, err)
	assert.Contains(t, out, ref+": failed")

	_, err = h.run("", "pay", "--amount", "0")
	require.Error(t, err)
	assert.Contains(t, Describe(err), "amount")

	out, err = h.run("", "logout")
	require.NoError(t, err)
	assert.Contains(t, out, "signed out")

	_, err = h.run("", "verify-payment", ref)
	require.Error(t, err)
	assert.Equal(t, "not signed in, run `payease login` first", Describe(err))
}

func TestCLIAuthenticatorTwoFactor(t *testing.T) {
	h := newHarness(t)

	_, err := h.run("", "register", "--email", "hedy@example.com", "--password", "frequency-hop", "--first-name", "Hedy", "--last-name", "Lamarr")
	require.NoError(t, err)
	_, err = h.run("", "login", "--email", "hedy@example.com", "--password", "frequency-hop")
	require.NoError(t, err)

	out, err := h.run("", "enroll-2fa", "--method", "authenticator")
	require.NoError(t, err)
	secret := capture(t, `secret:\s+(\S+)`, out)

	code, err := totp.GenerateCode(secret, time.Now())
	require.NoError(t, err)
	out, err = h.run("", "confirm-2fa", "--method", "authenticator", "--code", code)
	require.NoError(t, err)
	assert.Contains(t, out, "two-factor authentication enabled (2FA_AUTHENTICATOR)")

	_, err = h.run("", "logout")
	require.NoError(t, err)

	out, err = h.run("", "login", "--email", "hedy@example.com", "--password", "frequency-hop")
	require.NoError(t, err)
	assert.Contains(t, out, "two-factor verification required (2FA_AUTHENTICATOR)")
	tempToken := capture(t, `temp token: (\S+)`, out)

	_, err = h.run("", "whoami")
	require.Error(t, err, "a pending challenge is not a session")

	code, err = totp.GenerateCode(secret, time.Now())
	require.NoError(t, err)
	out, err = h.run("", "verify-2fa", "--temp-token", tempToken, "--code", code)
	require.NoError(t, err)
	assert.Contains(t, out, "signed in as hedy@example.com")

	out, err = h.run("", "whoami")
	require.NoError(t, err)
	assert.Contains(t, out, "two-factor: 2FA_AUTHENTICATOR")

	_, err = h.run("", "verify-2fa", "--temp-token", tempToken, "--code", code)
	require.Error(t, err)
	assert.Equal(t, "Verification expired, please sign in again", Describe(err))
}
