package handler

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "auth.v1.AuthService"

// FullMethod returns the full gRPC method name for an AuthService RPC.
func FullMethod(rpc string) string { return "/" + ServiceName + "/" + rpc }

// Service is the AuthService RPC surface.
type Service interface {
	Register(context.Context, *RegisterRequest) (*RegisterResponse, error)
	Login(context.Context, *LoginRequest) (*LoginResponse, error)
	Logout(context.Context, *Empty) (*Empty, error)
	LogoutEntity(context.Context, *Empty) (*CountResponse, error)
	LogoutAllEntities(context.Context, *Empty) (*CountResponse, error)
	Refresh(context.Context, *RefreshRequest) (*RefreshResponse, error)
	ValidateToken(context.Context, *ValidateTokenRequest) (*ValidateTokenResponse, error)
	RequestPasswordReset(context.Context, *EmailRequest) (*Empty, error)
	ResetPassword(context.Context, *ResetPasswordRequest) (*Empty, error)
	ChangePassword(context.Context, *ChangePasswordRequest) (*CountResponse, error)
	RequestEmailVerification(context.Context, *EmailRequest) (*Empty, error)
	VerifyEmail(context.Context, *VerifyEmailRequest) (*Empty, error)
	Me(context.Context, *Empty) (*IdentityResponse, error)
	GetActiveSessions(context.Context, *Empty) (*SessionsResponse, error)
	GetSessionStats(context.Context, *SessionStatsRequest) (*SessionStatsResponse, error)
	PurgeExpiredSessions(context.Context, *Empty) (*CountResponse, error)
	PurgeInactiveSessions(context.Context, *PurgeInactiveRequest) (*CountResponse, error)
	GetDevOutbox(context.Context, *DevOutboxRequest) (*DevOutboxResponse, error)
}

// PublicMethods need no access token.
var PublicMethods = map[string]bool{
	FullMethod("Register"):                 true,
	FullMethod("Login"):                    true,
	FullMethod("Refresh"):                  true,
	FullMethod("ValidateToken"):            true,
	FullMethod("RequestPasswordReset"):     true,
	FullMethod("ResetPassword"):            true,
	FullMethod("RequestEmailVerification"): true,
	FullMethod("VerifyEmail"):              true,
	FullMethod("GetDevOutbox"):             true,
}

// RateLimitedMethods are the credential-accepting public RPCs throttled per client IP.
var RateLimitedMethods = map[string]bool{
	FullMethod("Register"):                 true,
	FullMethod("Login"):                    true,
	FullMethod("Refresh"):                  true,
	FullMethod("RequestPasswordReset"):     true,
	FullMethod("ResetPassword"):            true,
	FullMethod("RequestEmailVerification"): true,
	FullMethod("VerifyEmail"):              true,
}

// AdminMethods require the admin role and are audited.
var AdminMethods = map[string]bool{
	FullMethod("GetSessionStats"):       true,
	FullMethod("PurgeExpiredSessions"):  true,
	FullMethod("PurgeInactiveSessions"): true,
}

func unary[Req, Resp any](name string, call func(Service, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			svc := srv.(Service)
			if interceptor == nil {
				return call(svc, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(name)}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(svc, ctx, req.(*Req))
			})
		},
	}
}

// ServiceDesc describes AuthService for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*Service)(nil),
	Methods: []grpc.MethodDesc{
		unary("Register", Service.Register),
		unary("Login", Service.Login),
		unary("Logout", Service.Logout),
		unary("LogoutEntity", Service.LogoutEntity),
		unary("LogoutAllEntities", Service.LogoutAllEntities),
		unary("Refresh", Service.Refresh),
		unary("ValidateToken", Service.ValidateToken),
		unary("RequestPasswordReset", Service.RequestPasswordReset),
		unary("ResetPassword", Service.ResetPassword),
		unary("ChangePassword", Service.ChangePassword),
		unary("RequestEmailVerification", Service.RequestEmailVerification),
		unary("VerifyEmail", Service.VerifyEmail),
		unary("Me", Service.Me),
		unary("GetActiveSessions", Service.GetActiveSessions),
		unary("GetSessionStats", Service.GetSessionStats),
		unary("PurgeExpiredSessions", Service.PurgeExpiredSessions),
		unary("PurgeInactiveSessions", Service.PurgeInactiveSessions),
		unary("GetDevOutbox", Service.GetDevOutbox),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "auth/v1/auth.json",
}

// Client calls AuthService over a connection using the JSON codec.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient returns a Client over cc.
func NewClient(cc grpc.ClientConnInterface) *Client { return &Client{cc: cc} }

// Invoke calls rpc with in and decodes the reply into out.
func (c *Client) Invoke(ctx context.Context, rpc string, in, out any, opts ...grpc.CallOption) error {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	return c.cc.Invoke(ctx, FullMethod(rpc), in, out, opts...)
}
