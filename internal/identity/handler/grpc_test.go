package handler

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"multi-entity-auth/backend/internal/devoutbox"
	"multi-entity-auth/backend/internal/entity"
	identityrepo "multi-entity-auth/backend/internal/identity/repository"
	identityservice "multi-entity-auth/backend/internal/identity/service"
	"multi-entity-auth/backend/internal/security"
	"multi-entity-auth/backend/internal/server/interceptors"
	sessionrepo "multi-entity-auth/backend/internal/session/repository"
	sessionservice "multi-entity-auth/backend/internal/session/service"
)

const strongPassword = "Str0ng!Pass"

type fixture struct {
	client   *Client
	outbox   *devoutbox.MemoryStore
	sessions *sessionservice.SessionService
}

func newFixture(t *testing.T, def entity.Definition, withOutbox bool) *fixture {
	t.Helper()
	tokens, err := security.NewTestTokenProvider()
	require.NoError(t, err)
	sessions := sessionservice.NewSessionService(sessionrepo.NewMemoryRepository(), tokens)

	var outbox *devoutbox.MemoryStore
	var opts []identityservice.Option
	if withOutbox {
		outbox = devoutbox.NewMemoryStore(time.Hour, 24*time.Hour)
		opts = append(opts, identityservice.WithNotifier(outbox))
	}
	auth := identityservice.NewAuthService(
		&entity.Resolved{Definition: def, Repository: identityrepo.NewMemoryRepository(def.Name)},
		sessions,
		security.NewHasher(4),
		identityservice.Config{},
		opts...,
	)

	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(interceptors.AuthUnary(sessions, def.Name, PublicMethods)))
	srv.RegisterService(&ServiceDesc, NewServer(auth, sessions, outbox, nil))
	lis := bufconn.Listen(1 << 20)
	go func() { _ = srv.Serve(lis) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = conn.Close()
		srv.Stop()
	})
	return &fixture{client: NewClient(conn), outbox: outbox, sessions: sessions}
}

func authed(token string) context.Context {
	return metadata.AppendToOutgoingContext(context.Background(), "authorization", "Bearer "+token)
}

func (f *fixture) register(t *testing.T, email string) *RegisterResponse {
	t.Helper()
	var resp RegisterResponse
	require.NoError(t, f.client.Invoke(context.Background(), "Register", &RegisterRequest{
		Email: email, Password: strongPassword, FirstName: "A", LastName: "B",
	}, &resp))
	return &resp
}

func (f *fixture) login(t *testing.T, email, password string) *LoginResponse {
	t.Helper()
	var resp LoginResponse
	require.NoError(t, f.client.Invoke(context.Background(), "Login", &LoginRequest{
		Email: email, Password: password, Device: &Device{Name: "laptop", Type: "desktop"},
	}, &resp))
	return &resp
}

func TestScenario_RegisterLoginLogout(t *testing.T) {
	f := newFixture(t, entity.Builtin[0], false)

	reg := f.register(t, "a@x.com")
	assert.Equal(t, "a@x.com", reg.Identity.Email)
	assert.Nil(t, reg.Tokens, "no device, no session")
	assert.Equal(t, 5, reg.PasswordScore)

	login := f.login(t, "a@x.com", strongPassword)
	require.NotNil(t, login.Tokens)
	assert.True(t, login.Session.Active)
	assert.Equal(t, "laptop", login.Session.DeviceName)

	var me IdentityResponse
	require.NoError(t, f.client.Invoke(authed(login.Tokens.AccessToken), "Me", &Empty{}, &me))
	assert.Equal(t, reg.Identity.ID, me.Identity.ID)

	var v ValidateTokenResponse
	require.NoError(t, f.client.Invoke(context.Background(), "ValidateToken", &ValidateTokenRequest{Token: login.Tokens.AccessToken}, &v))
	assert.True(t, v.Valid)
	assert.Equal(t, "users", v.AuthEntity)
	assert.Equal(t, login.Session.ID, v.Session.ID)

	require.NoError(t, f.client.Invoke(authed(login.Tokens.AccessToken), "Logout", &Empty{}, &Empty{}))

	v = ValidateTokenResponse{}
	require.NoError(t, f.client.Invoke(context.Background(), "ValidateToken", &ValidateTokenRequest{Token: login.Tokens.AccessToken}, &v))
	assert.False(t, v.Valid)
	assert.Empty(t, v.IdentityID)

	err := f.client.Invoke(authed(login.Tokens.AccessToken), "Me", &Empty{}, &IdentityResponse{})
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
}

func TestRegister_Errors(t *testing.T) {
	f := newFixture(t, entity.Builtin[0], false)
	f.register(t, "taken@x.com")

	err := f.client.Invoke(context.Background(), "Register", &RegisterRequest{Email: "weak@x.com", Password: "password"}, &RegisterResponse{})
	st := status.Convert(err)
	require.Equal(t, codes.InvalidArgument, st.Code())
	var violations int
	for _, d := range st.Details() {
		if br, ok := d.(*errdetails.BadRequest); ok {
			violations = len(br.GetFieldViolations())
			for _, v := range br.GetFieldViolations() {
				assert.Equal(t, "password", v.GetField())
			}
		}
	}
	assert.Equal(t, 3, violations, "uppercase, number and special character rules fail")

	err = f.client.Invoke(context.Background(), "Register", &RegisterRequest{Email: "Taken@X.com", Password: strongPassword}, &RegisterResponse{})
	assert.Equal(t, codes.AlreadyExists, status.Code(err))

	err = f.client.Invoke(context.Background(), "Register", &RegisterRequest{Password: strongPassword}, &RegisterResponse{})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	err = f.client.Invoke(context.Background(), "Register", &RegisterRequest{Email: "not-an-email", Password: strongPassword}, &RegisterResponse{})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
	err = f.client.Invoke(context.Background(), "Register", &RegisterRequest{Email: "long@x.com", Password: "Aa1!" + strings.Repeat("x", 80)}, &RegisterResponse{})
	st = status.Convert(err)
	require.Equal(t, codes.InvalidArgument, st.Code(), "a password past the bcrypt limit is a client error")
	var tooLong bool
	for _, d := range st.Details() {
		if br, ok := d.(*errdetails.BadRequest); ok {
			for _, v := range br.GetFieldViolations() {
				tooLong = tooLong || v.GetDescription() == security.MsgPasswordTooLong
			}
		}
	}
	assert.True(t, tooLong, "the length violation is reported")
}

func TestRegister_WithDeviceOpensSession(t *testing.T) {
	f := newFixture(t, entity.Builtin[0], false)
	var resp RegisterResponse
	require.NoError(t, f.client.Invoke(context.Background(), "Register", &RegisterRequest{
		Email: "d@x.com", Password: strongPassword, Device: &Device{Name: "phone"},
	}, &resp))
	require.NotNil(t, resp.Tokens)
	require.NotNil(t, resp.Session)
	assert.Equal(t, "phone", resp.Session.DeviceName)
}

func TestLogin_FailuresAndLockout(t *testing.T) {
	f := newFixture(t, entity.Builtin[0], false)
	f.register(t, "a@x.com")

	err := f.client.Invoke(context.Background(), "Login", &LoginRequest{Email: "nobody@x.com", Password: strongPassword}, &LoginResponse{})
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	for i := 0; i < identityservice.DefaultMaxLoginAttempts; i++ {
		err = f.client.Invoke(context.Background(), "Login", &LoginRequest{Email: "a@x.com", Password: "Wr0ng!Pass"}, &LoginResponse{})
		require.Equal(t, codes.Unauthenticated, status.Code(err), "attempt %d", i+1)
	}

	err = f.client.Invoke(context.Background(), "Login", &LoginRequest{Email: "a@x.com", Password: strongPassword}, &LoginResponse{})
	st := status.Convert(err)
	require.Equal(t, codes.ResourceExhausted, st.Code())
	assert.Contains(t, st.Message(), "15 minutes")
	var retry *errdetails.RetryInfo
	for _, d := range st.Details() {
		if ri, ok := d.(*errdetails.RetryInfo); ok {
			retry = ri
		}
	}
	require.NotNil(t, retry)
	assert.Equal(t, 15*time.Minute, retry.GetRetryDelay().AsDuration())
}

func TestLogin_SingleSessionPerEntity(t *testing.T) {
	f := newFixture(t, entity.Builtin[0], false)
	f.register(t, "a@x.com")
	first := f.login(t, "a@x.com", strongPassword)
	second := f.login(t, "a@x.com", strongPassword)

	var sessions SessionsResponse
	require.NoError(t, f.client.Invoke(authed(second.Tokens.AccessToken), "GetActiveSessions", &Empty{}, &sessions))
	require.Len(t, sessions.Sessions, 1)
	assert.Equal(t, second.Session.ID, sessions.Sessions[0].ID)

	err := f.client.Invoke(authed(first.Tokens.AccessToken), "GetActiveSessions", &Empty{}, &SessionsResponse{})
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
}

func TestRefresh(t *testing.T) {
	f := newFixture(t, entity.Builtin[0], false)
	f.register(t, "a@x.com")
	login := f.login(t, "a@x.com", strongPassword)

	var refreshed RefreshResponse
	require.NoError(t, f.client.Invoke(context.Background(), "Refresh", &RefreshRequest{RefreshToken: login.Tokens.RefreshToken}, &refreshed))
	assert.Equal(t, login.Session.ID, refreshed.Session.ID)
	assert.NotEqual(t, login.Tokens.RefreshToken, refreshed.Tokens.RefreshToken)

	var me IdentityResponse
	require.NoError(t, f.client.Invoke(authed(refreshed.Tokens.AccessToken), "Me", &Empty{}, &me))

	err := f.client.Invoke(context.Background(), "Refresh", &RefreshRequest{RefreshToken: "garbage"}, &RefreshResponse{})
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
}

func TestChangePassword_KeepsCallingSession(t *testing.T) {
	f := newFixture(t, entity.Builtin[0], false)
	f.register(t, "a@x.com")
	login := f.login(t, "a@x.com", strongPassword)
	ctx := authed(login.Tokens.AccessToken)

	err := f.client.Invoke(ctx, "ChangePassword", &ChangePasswordRequest{CurrentPassword: "Wr0ng!Pass", NewPassword: "N3w!Passw0rd"}, &CountResponse{})
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	err = f.client.Invoke(ctx, "ChangePassword", &ChangePasswordRequest{CurrentPassword: strongPassword, NewPassword: strongPassword}, &CountResponse{})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	var count CountResponse
	require.NoError(t, f.client.Invoke(ctx, "ChangePassword", &ChangePasswordRequest{CurrentPassword: strongPassword, NewPassword: "N3w!Passw0rd"}, &count))
	assert.Equal(t, int64(0), count.Count)

	require.NoError(t, f.client.Invoke(ctx, "Me", &Empty{}, &IdentityResponse{}), "calling session survives")
	f.login(t, "a@x.com", "N3w!Passw0rd")
}

func TestLogoutScopes(t *testing.T) {
	f := newFixture(t, entity.Builtin[0], false)
	f.register(t, "a@x.com")
	login := f.login(t, "a@x.com", strongPassword)

	_, err := f.sessions.CreateSession(context.Background(), sessionservice.CreateParams{
		IdentityID: "vendor-1", Email: "a@x.com", AuthEntity: "vendors", Role: "vendor",
	})
	require.NoError(t, err)

	var count CountResponse
	require.NoError(t, f.client.Invoke(authed(login.Tokens.AccessToken), "LogoutAllEntities", &Empty{}, &count))
	assert.Equal(t, int64(2), count.Count)

	login = f.login(t, "a@x.com", strongPassword)
	count = CountResponse{}
	require.NoError(t, f.client.Invoke(authed(login.Tokens.AccessToken), "LogoutEntity", &Empty{}, &count))
	assert.Equal(t, int64(1), count.Count)
}

func TestPasswordResetThroughDevOutbox(t *testing.T) {
	f := newFixture(t, entity.Builtin[0], true)
	f.register(t, "a@x.com")
	login := f.login(t, "a@x.com", strongPassword)

	require.NoError(t, f.client.Invoke(context.Background(), "RequestPasswordReset", &EmailRequest{Email: "nobody@x.com"}, &Empty{}))
	require.NoError(t, f.client.Invoke(context.Background(), "RequestPasswordReset", &EmailRequest{Email: "A@x.com"}, &Empty{}))

	err := f.client.Invoke(context.Background(), "GetDevOutbox", &DevOutboxRequest{Email: "nobody@x.com", Kind: "password_reset"}, &DevOutboxResponse{})
	assert.Equal(t, codes.NotFound, status.Code(err))

	var msg DevOutboxResponse
	require.NoError(t, f.client.Invoke(context.Background(), "GetDevOutbox", &DevOutboxRequest{Email: "a@x.com", Kind: "password_reset"}, &msg))
	require.NotEmpty(t, msg.Secret)

	err = f.client.Invoke(context.Background(), "ResetPassword", &ResetPasswordRequest{Token: "wrong", NewPassword: "N3w!Passw0rd"}, &Empty{})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	require.NoError(t, f.client.Invoke(context.Background(), "ResetPassword", &ResetPasswordRequest{Token: msg.Secret, NewPassword: "N3w!Passw0rd"}, &Empty{}))

	err = f.client.Invoke(authed(login.Tokens.AccessToken), "Me", &Empty{}, &IdentityResponse{})
	assert.Equal(t, codes.Unauthenticated, status.Code(err), "reset ends existing sessions")
	f.login(t, "a@x.com", "N3w!Passw0rd")
}

func TestEmailVerificationThroughDevOutbox(t *testing.T) {
	f := newFixture(t, entity.Builtin[0], true)
	f.register(t, "a@x.com")
	require.NoError(t, f.client.Invoke(context.Background(), "RequestEmailVerification", &EmailRequest{Email: "a@x.com"}, &Empty{}))

	var msg DevOutboxResponse
	require.NoError(t, f.client.Invoke(context.Background(), "GetDevOutbox", &DevOutboxRequest{Email: "a@x.com", Kind: "email_verification"}, &msg))

	err := f.client.Invoke(context.Background(), "VerifyEmail", &VerifyEmailRequest{Email: "a@x.com", Code: "000000x"}, &Empty{})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
	require.NoError(t, f.client.Invoke(context.Background(), "VerifyEmail", &VerifyEmailRequest{Email: "a@x.com", Code: msg.Secret}, &Empty{}))

	login := f.login(t, "a@x.com", strongPassword)
	var me IdentityResponse
	require.NoError(t, f.client.Invoke(authed(login.Tokens.AccessToken), "Me", &Empty{}, &me))
	assert.True(t, me.Identity.EmailVerified)

	err = f.client.Invoke(context.Background(), "GetDevOutbox", &DevOutboxRequest{Email: "a@x.com", Kind: "other"}, &DevOutboxResponse{})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestDevOutboxDisabled(t *testing.T) {
	f := newFixture(t, entity.Builtin[0], false)
	err := f.client.Invoke(context.Background(), "GetDevOutbox", &DevOutboxRequest{Email: "a@x.com", Kind: "password_reset"}, &DevOutboxResponse{})
	assert.Equal(t, codes.Unimplemented, status.Code(err))
}

func TestAdminRPCs(t *testing.T) {
	users := newFixture(t, entity.Builtin[0], false)
	users.register(t, "a@x.com")
	user := users.login(t, "a@x.com", strongPassword)
	err := users.client.Invoke(authed(user.Tokens.AccessToken), "GetSessionStats", &SessionStatsRequest{}, &SessionStatsResponse{})
	assert.Equal(t, codes.PermissionDenied, status.Code(err))
	err = users.client.Invoke(context.Background(), "PurgeExpiredSessions", &Empty{}, &CountResponse{})
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	admins := newFixture(t, entity.Builtin[1], false)
	admins.register(t, "root@x.com")
	admin := admins.login(t, "root@x.com", strongPassword)
	ctx := authed(admin.Tokens.AccessToken)

	var stats SessionStatsResponse
	require.NoError(t, admins.client.Invoke(ctx, "GetSessionStats", &SessionStatsRequest{}, &stats))
	assert.Equal(t, int64(1), stats.Stats.TotalActive)
	assert.Equal(t, int64(1), stats.Stats.ByEntity["admins"])

	var purged CountResponse
	require.NoError(t, admins.client.Invoke(ctx, "PurgeExpiredSessions", &Empty{}, &purged))
	assert.Equal(t, int64(0), purged.Count)
	require.NoError(t, admins.client.Invoke(ctx, "PurgeInactiveSessions", &PurgeInactiveRequest{}, &purged))
	err = admins.client.Invoke(ctx, "PurgeInactiveSessions", &PurgeInactiveRequest{DaysOld: -1}, &CountResponse{})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	err = users.client.Invoke(ctx, "Me", &Empty{}, &IdentityResponse{})
	assert.Equal(t, codes.Unauthenticated, status.Code(err), "admin token is not valid on the users service")
}

func TestServer_NotConfigured(t *testing.T) {
	s := NewServer(nil, nil, nil, nil)
	_, err := s.Login(context.Background(), &LoginRequest{Email: "a@x.com"})
	assert.Equal(t, codes.Unimplemented, status.Code(err))
	_, err = s.GetDevOutbox(context.Background(), &DevOutboxRequest{})
	assert.Equal(t, codes.Unimplemented, status.Code(err))
}
