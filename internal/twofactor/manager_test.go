package twofactor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/pquerna/otp/totp"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/payease/payease/internal/apperror"
	"github.com/payease/payease/internal/auth"
	"github.com/payease/payease/internal/identity"
	"github.com/payease/payease/internal/logging"
	"github.com/payease/payease/internal/notification"
)

const testPassword = "s3cret-passw0rd"

type captureNotifier struct {
	ch  chan notification.Message
	err error
}

func newCaptureNotifier() *captureNotifier {
	return &captureNotifier{ch: make(chan notification.Message, 32)}
}

func (c *captureNotifier) Notify(_ context.Context, m notification.Message) error {
	c.ch <- m
	return c.err
}

func (c *captureNotifier) next(t *testing.T) notification.Message {
	t.Helper()
	select {
	case m := <-c.ch:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("expected a notification")
		return notification.Message{}
	}
}

func (c *captureNotifier) none(t *testing.T) {
	t.Helper()
	select {
	case m := <-c.ch:
		t.Fatalf("unexpected notification %+v", m)
	case <-time.After(100 * time.Millisecond):
	}
}

type fixture struct {
	mgr    *Manager
	ids    *identity.Service
	issuer *auth.Issuer
	notes  *captureNotifier
}

type stores struct {
	challenges  ChallengeStore
	enrollments EnrollmentStore
}

func memoryStores(*testing.T) stores {
	return stores{NewMemoryChallengeStore(), NewMemoryEnrollmentStore()}
}

func redisStores(t *testing.T) stores {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return stores{NewRedisChallengeStore(client), NewRedisEnrollmentStore(client)}
}

var backends = map[string]func(*testing.T) stores{
	"memory": memoryStores,
	"redis":  redisStores,
}

func newFixture(t *testing.T, s stores, cfg Config) *fixture {
	t.Helper()
	ids := identity.NewService(identity.NewMemoryRepository(), identity.WithHashCost(bcrypt.MinCost))
	issuer := auth.NewIssuer(auth.IssuerConfig{Secret: "0123456789abcdef0123456789abcdef", TTL: time.Hour},
		auth.NewMemorySessionStore(), ids, logging.Discard())
	notes := newCaptureNotifier()
	mgr := NewManager(cfg, Deps{
		Credentials: ids,
		Accounts:    ids,
		Sessions:    issuer,
		Challenges:  s.challenges,
		Enrollments: s.enrollments,
		Notices:     notification.NewDispatcher(notes, time.Second, logging.Discard()),
		Logger:      logging.Discard(),
	})
	return &fixture{mgr: mgr, ids: ids, issuer: issuer, notes: notes}
}

func (f *fixture) register(t *testing.T, email string) identity.Account {
	t.Helper()
	account, err := f.ids.Register(context.Background(), identity.Registration{
		Email: email, Password: testPassword, FirstName: "Test", LastName: "User",
	})
	require.NoError(t, err)
	return account
}

func (f *fixture) enableAuthenticator(t *testing.T, account identity.Account) string {
	t.Helper()
	key, err := totp.Generate(totp.GenerateOpts{Issuer: "PayEase", AccountName: account.Email})
	require.NoError(t, err)
	tf, err := identity.TwoFactorEnabled(identity.MethodAuthenticator, key.Secret())
	require.NoError(t, err)
	require.NoError(t, f.ids.UpdateTwoFactor(context.Background(), account.ID, tf))
	return key.Secret()
}

func (f *fixture) enableEmail(t *testing.T, account identity.Account) {
	t.Helper()
	tf, err := identity.TwoFactorEnabled(identity.MethodEmail, "")
	require.NoError(t, err)
	require.NoError(t, f.ids.UpdateTwoFactor(context.Background(), account.ID, tf))
}

func currentCode(t *testing.T, secret string) string {
	t.Helper()
	code, err := totp.GenerateCode(secret, time.Now())
	require.NoError(t, err)
	return code
}

func wrongCode(secret string) string {
	v := NewCodeVerifier()
	for i := 0; ; i++ {
		code := fmt.Sprintf("%06d", i)
		if !v.Check(identity.MethodAuthenticator, secret, code) {
			return code
		}
	}
}

func TestInitiateWithoutTwoFactorIssuesSession(t *testing.T) {
	f := newFixture(t, memoryStores(t), Config{})
	account := f.register(t, "plain@example.com")

	outcome, err := f.mgr.Initiate(context.Background(), "plain@example.com", testPassword)
	require.NoError(t, err)
	require.Nil(t, outcome.Challenge)
	require.NotNil(t, outcome.Session)

	got, err := f.issuer.Authenticate(context.Background(), outcome.Session.Token)
	require.NoError(t, err)
	require.Equal(t, account.ID, got.ID)
}

func TestInitiateWithTwoFactorNeverIssuesSession(t *testing.T) {
	f := newFixture(t, memoryStores(t), Config{})
	f.enableAuthenticator(t, f.register(t, "totp@example.com"))
	f.enableEmail(t, f.register(t, "mail@example.com"))

	for email, method := range map[string]identity.Method{
		"totp@example.com": identity.MethodAuthenticator,
		"mail@example.com": identity.MethodEmail,
	} {
		outcome, err := f.mgr.Initiate(context.Background(), email, testPassword)
		require.NoError(t, err)
		require.Nil(t, outcome.Session)
		require.Nil(t, outcome.Account)
		require.NotNil(t, outcome.Challenge)
		require.Equal(t, method, outcome.Challenge.Method)

		_, err = f.issuer.Authenticate(context.Background(), outcome.Challenge.TempToken)
		require.ErrorIs(t, err, apperror.ErrInvalidSession)
	}
}

func TestInitiateRejectsBadCredentials(t *testing.T) {
	f := newFixture(t, memoryStores(t), Config{})
	f.register(t, "someone@example.com")

	_, err := f.mgr.Initiate(context.Background(), "someone@example.com", "wrong-password")
	require.ErrorIs(t, err, apperror.ErrInvalidCredentials)
	_, err = f.mgr.Initiate(context.Background(), "nobody@example.com", testPassword)
	require.ErrorIs(t, err, apperror.ErrInvalidCredentials)
}

func TestAuthenticatorWrongCodeThenRightCodeThenReuse(t *testing.T) {
	for name, backend := range backends {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, backend(t), Config{})
			account := f.register(t, "ada@example.com")
			secret := f.enableAuthenticator(t, account)
			ctx := context.Background()

			outcome, err := f.mgr.Initiate(ctx, "ada@example.com", testPassword)
			require.NoError(t, err)
			token := outcome.Challenge.TempToken

			_, err = f.mgr.Verify(ctx, token, wrongCode(secret))
			require.ErrorIs(t, err, apperror.ErrInvalidCode)

			session, err := f.mgr.Verify(ctx, token, currentCode(t, secret))
			require.NoError(t, err)
			got, err := f.issuer.Authenticate(ctx, session.Token)
			require.NoError(t, err)
			require.Equal(t, account.ID, got.ID)

			_, err = f.mgr.Verify(ctx, token, currentCode(t, secret))
			require.ErrorIs(t, err, apperror.ErrChallengeExpired)
		})
	}
}

func TestInitiateAgainInvalidatesPreviousChallenge(t *testing.T) {
	for name, backend := range backends {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, backend(t), Config{})
			secret := f.enableAuthenticator(t, f.register(t, "ada@example.com"))
			ctx := context.Background()

			first, err := f.mgr.Initiate(ctx, "ada@example.com", testPassword)
			require.NoError(t, err)
			second, err := f.mgr.Initiate(ctx, "ada@example.com", testPassword)
			require.NoError(t, err)
			require.NotEqual(t, first.Challenge.TempToken, second.Challenge.TempToken)

			_, err = f.mgr.Verify(ctx, first.Challenge.TempToken, currentCode(t, secret))
			require.ErrorIs(t, err, apperror.ErrChallengeExpired)

			_, err = f.mgr.Verify(ctx, second.Challenge.TempToken, currentCode(t, secret))
			require.NoError(t, err)
		})
	}
}

func TestConcurrentVerifyHasSingleWinner(t *testing.T) {
	for name, backend := range backends {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, backend(t), Config{MaxAttempts: 16})
			secret := f.enableAuthenticator(t, f.register(t, "ada@example.com"))
			ctx := context.Background()

			outcome, err := f.mgr.Initiate(ctx, "ada@example.com", testPassword)
			require.NoError(t, err)
			code := currentCode(t, secret)

			var (
				wg        sync.WaitGroup
				successes atomic.Int32
				expired   atomic.Int32
			)
			for i := 0; i < 16; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := f.mgr.Verify(ctx, outcome.Challenge.TempToken, code)
					switch {
					case err == nil:
						successes.Add(1)
					case errors.Is(err, apperror.ErrChallengeExpired):
						expired.Add(1)
					default:
						t.Errorf("unexpected error: %v", err)
					}
				}()
			}
			wg.Wait()
			require.EqualValues(t, 1, successes.Load())
			require.EqualValues(t, 15, expired.Load())
		})
	}
}

type countingVerifier struct {
	calls atomic.Int32
}

func (v *countingVerifier) Check(identity.Method, string, string) bool {
	v.calls.Add(1)
	return false
}

func TestConcurrentWrongCodesStopAtCeiling(t *testing.T) {
	for name, backend := range backends {
		t.Run(name, func(t *testing.T) {
			s := backend(t)
			f := newFixture(t, s, Config{})
			f.enableAuthenticator(t, f.register(t, "ada@example.com"))
			verifier := &countingVerifier{}
			mgr := NewManager(Config{MaxAttempts: 3}, Deps{
				Credentials: f.ids,
				Accounts:    f.ids,
				Sessions:    f.issuer,
				Challenges:  s.challenges,
				Enrollments: s.enrollments,
				Verifier:    verifier,
				Logger:      logging.Discard(),
			})
			ctx := context.Background()

			outcome, err := mgr.Initiate(ctx, "ada@example.com", testPassword)
			require.NoError(t, err)

			var wg sync.WaitGroup
			for i := 0; i < 64; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := mgr.Verify(ctx, outcome.Challenge.TempToken, "000000")
					if !errors.Is(err, apperror.ErrInvalidCode) {
						t.Errorf("expected invalid code, got %v", err)
					}
				}()
			}
			wg.Wait()
			require.EqualValues(t, 3, verifier.calls.Load())

			rec, err := s.challenges.Get(ctx, outcome.Challenge.TempToken)
			require.NoError(t, err)
			require.Equal(t, 3, rec.Attempts)
		})
	}
}

type flakySessions struct {
	*auth.Issuer
	failures atomic.Int32
}

func (s *flakySessions) IssueSession(ctx context.Context, accountID string) (auth.Session, error) {
	if s.failures.Add(-1) >= 0 {
		return auth.Session{}, fmt.Errorf("%w: session store: connection refused", apperror.ErrVerificationUnavailable)
	}
	return s.Issuer.IssueSession(ctx, accountID)
}

func TestSessionStoreFailureKeepsChallenge(t *testing.T) {
	s := memoryStores(t)
	f := newFixture(t, s, Config{})
	secret := f.enableAuthenticator(t, f.register(t, "ada@example.com"))
	sessions := &flakySessions{Issuer: f.issuer}
	sessions.failures.Store(1)
	mgr := NewManager(Config{}, Deps{
		Credentials: f.ids,
		Accounts:    f.ids,
		Sessions:    sessions,
		Challenges:  s.challenges,
		Enrollments: s.enrollments,
		Logger:      logging.Discard(),
	})
	ctx := context.Background()

	outcome, err := mgr.Initiate(ctx, "ada@example.com", testPassword)
	require.NoError(t, err)
	token := outcome.Challenge.TempToken

	_, err = mgr.Verify(ctx, token, currentCode(t, secret))
	require.ErrorIs(t, err, apperror.ErrVerificationUnavailable)

	session, err := mgr.Verify(ctx, token, currentCode(t, secret))
	require.NoError(t, err)
	_, err = f.issuer.Authenticate(ctx, session.Token)
	require.NoError(t, err)

	_, err = mgr.Verify(ctx, token, currentCode(t, secret))
	require.ErrorIs(t, err, apperror.ErrChallengeExpired)
}

func TestRetryCeilingLocksChallengeUntilExpiry(t *testing.T) {
	f := newFixture(t, memoryStores(t), Config{MaxAttempts: 3})
	secret := f.enableAuthenticator(t, f.register(t, "ada@example.com"))
	ctx := context.Background()

	outcome, err := f.mgr.Initiate(ctx, "ada@example.com", testPassword)
	require.NoError(t, err)
	token := outcome.Challenge.TempToken

	for i := 0; i < 3; i++ {
		_, err = f.mgr.Verify(ctx, token, wrongCode(secret))
		require.ErrorIs(t, err, apperror.ErrInvalidCode)
	}
	_, err = f.mgr.Verify(ctx, token, currentCode(t, secret))
	require.ErrorIs(t, err, apperror.ErrInvalidCode)
}

func TestExpiredChallenge(t *testing.T) {
	f := newFixture(t, memoryStores(t), Config{ChallengeTTL: time.Minute})
	secret := f.enableAuthenticator(t, f.register(t, "ada@example.com"))
	f.mgr.now = func() time.Time { return time.Now().Add(-2 * time.Minute) }

	outcome, err := f.mgr.Initiate(context.Background(), "ada@example.com", testPassword)
	require.NoError(t, err)

	_, err = f.mgr.Verify(context.Background(), outcome.Challenge.TempToken, currentCode(t, secret))
	require.ErrorIs(t, err, apperror.ErrChallengeExpired)

	_, err = f.mgr.Verify(context.Background(), "unknown-token", "123456")
	require.ErrorIs(t, err, apperror.ErrChallengeExpired)
}

func TestEmailCodeDispatchedOncePerChallenge(t *testing.T) {
	f := newFixture(t, memoryStores(t), Config{})
	account := f.register(t, "mail@example.com")
	f.enableEmail(t, account)
	ctx := context.Background()

	outcome, err := f.mgr.Initiate(ctx, "mail@example.com", testPassword)
	require.NoError(t, err)

	msg := f.notes.next(t)
	require.Equal(t, notification.KindTwoFactorCode, msg.Kind)
	require.Equal(t, account.ID, msg.AccountID)
	code := msg.Payload["code"]
	require.Len(t, code, 6)

	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}
	_, err = f.mgr.Verify(ctx, outcome.Challenge.TempToken, wrong)
	require.ErrorIs(t, err, apperror.ErrInvalidCode)
	f.notes.none(t)

	_, err = f.mgr.Verify(ctx, outcome.Challenge.TempToken, code)
	require.NoError(t, err)
}

func TestEmailDispatchFailureDoesNotFailInitiate(t *testing.T) {
	f := newFixture(t, memoryStores(t), Config{})
	f.enableEmail(t, f.register(t, "mail@example.com"))
	f.notes.err = errors.New("smtp unreachable")

	outcome, err := f.mgr.Initiate(context.Background(), "mail@example.com", testPassword)
	require.NoError(t, err)
	require.NotNil(t, outcome.Challenge)
	f.notes.next(t)
}

func TestAuthenticatorEnrollment(t *testing.T) {
	for name, backend := range backends {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, backend(t), Config{})
			account := f.register(t, "ada@example.com")
			ctx := context.Background()

			prov, err := f.mgr.Enroll(ctx, account, identity.MethodAuthenticator)
			require.NoError(t, err)
			require.NotEmpty(t, prov.Secret)
			require.True(t, strings.HasPrefix(prov.URL, "otpauth://totp/"))
			require.True(t, strings.HasPrefix(prov.QRCode, "data:image/png;base64,"))

			stored, err := f.ids.FindByID(ctx, account.ID)
			require.NoError(t, err)
			require.Equal(t, identity.TwoFactorDisabled(), stored.TwoFactor)

			err = f.mgr.ConfirmEnrollment(ctx, account, identity.MethodAuthenticator, wrongCode(prov.Secret))
			require.ErrorIs(t, err, apperror.ErrInvalidCode)
			err = f.mgr.ConfirmEnrollment(ctx, account, identity.MethodEmail, currentCode(t, prov.Secret))
			require.ErrorIs(t, err, apperror.ErrEnrollmentConflict)

			stored, err = f.ids.FindByID(ctx, account.ID)
			require.NoError(t, err)
			require.False(t, stored.TwoFactor.Enabled)
			require.Empty(t, stored.TwoFactor.Method)

			require.NoError(t, f.mgr.ConfirmEnrollment(ctx, account, identity.MethodAuthenticator, currentCode(t, prov.Secret)))
			stored, err = f.ids.FindByID(ctx, account.ID)
			require.NoError(t, err)
			require.True(t, stored.TwoFactor.Enabled)
			require.Equal(t, identity.MethodAuthenticator, stored.TwoFactor.Method)
			require.Equal(t, prov.Secret, stored.TwoFactor.Secret)

			err = f.mgr.ConfirmEnrollment(ctx, account, identity.MethodAuthenticator, currentCode(t, prov.Secret))
			require.ErrorIs(t, err, apperror.ErrEnrollmentConflict)
		})
	}
}

func TestEmailEnrollment(t *testing.T) {
	f := newFixture(t, memoryStores(t), Config{})
	account := f.register(t, "mail@example.com")
	ctx := context.Background()

	prov, err := f.mgr.Enroll(ctx, account, identity.MethodEmail)
	require.NoError(t, err)
	require.Empty(t, prov.Secret)
	require.Empty(t, prov.QRCode)

	code := f.notes.next(t).Payload["code"]
	require.NoError(t, f.mgr.ConfirmEnrollment(ctx, account, identity.MethodEmail, code))

	stored, err := f.ids.FindByID(ctx, account.ID)
	require.NoError(t, err)
	require.Equal(t, identity.TwoFactor{Enabled: true, Method: identity.MethodEmail}, stored.TwoFactor)

	outcome, err := f.mgr.Initiate(ctx, "mail@example.com", testPassword)
	require.NoError(t, err)
	require.NotNil(t, outcome.Challenge)
}

func TestConfirmWithoutPendingEnrollment(t *testing.T) {
	f := newFixture(t, memoryStores(t), Config{})
	account := f.register(t, "ada@example.com")

	err := f.mgr.ConfirmEnrollment(context.Background(), account, identity.MethodAuthenticator, "123456")
	require.ErrorIs(t, err, apperror.ErrEnrollmentConflict)

	_, err = f.mgr.Enroll(context.Background(), account, identity.Method("SMS"))
	require.ErrorIs(t, err, apperror.ErrValidation)
}

func TestEnrollAgainReplacesPendingSecret(t *testing.T) {
	f := newFixture(t, memoryStores(t), Config{})
	account := f.register(t, "ada@example.com")
	ctx := context.Background()

	first, err := f.mgr.Enroll(ctx, account, identity.MethodAuthenticator)
	require.NoError(t, err)
	second, err := f.mgr.Enroll(ctx, account, identity.MethodAuthenticator)
	require.NoError(t, err)
	require.NotEqual(t, first.Secret, second.Secret)

	require.NoError(t, f.mgr.ConfirmEnrollment(ctx, account, identity.MethodAuthenticator, currentCode(t, second.Secret)))
	stored, err := f.ids.FindByID(ctx, account.ID)
	require.NoError(t, err)
	require.Equal(t, second.Secret, stored.TwoFactor.Secret)
}
