package auth

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// metadataAuthorization is the lowercase gRPC metadata key for the bearer
// token; gRPC normalizes metadata keys to lowercase.
const metadataAuthorization = "authorization"

// metadataCorrelationID is the lowercase gRPC metadata key for the
// correlation ID.
const metadataCorrelationID = "x-correlation-id"

// UnaryServerInterceptor returns a gRPC unary server interceptor that
// authenticates every call.
//
// The interceptor extracts the bearer token from the "authorization"
// metadata, verifies it with the validator, maps its claims to a
// [Principal], optionally loads access through the access cache, and
// stores the principal in the handler context.
//
// Calls without a token or with an invalid one fail with a gRPC
// Unauthenticated error. The access cache may be nil.
func UnaryServerInterceptor(validator *TokenValidator, mapper *ClaimsMapper, access *AccessCache) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		ctx, err := authenticateGRPC(ctx, validator, mapper, access)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// StreamServerInterceptor returns a gRPC stream server interceptor that
// performs the same authentication as [UnaryServerInterceptor], wrapping
// the stream to carry the enriched context.
func StreamServerInterceptor(validator *TokenValidator, mapper *ClaimsMapper, access *AccessCache) grpc.StreamServerInterceptor {
	return func(
		srv any,
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		ctx, err := authenticateGRPC(ss.Context(), validator, mapper, access)
		if err != nil {
			return err
		}
		return handler(srv, &wrappedServerStream{ServerStream: ss, ctx: ctx})
	}
}

// UnaryClientInterceptor returns a gRPC unary client interceptor that
// propagates the caller's bearer token and correlation ID from the context
// to outgoing call metadata.
//
// If no token is in the context, the call proceeds without authorization
// metadata, leaving the downstream service to decide whether to accept an
// unauthenticated call.
func UnaryClientInterceptor() grpc.UnaryClientInterceptor {
	return func(
		ctx context.Context,
		method string,
		req, reply any,
		cc *grpc.ClientConn,
		invoker grpc.UnaryInvoker,
		opts ...grpc.CallOption,
	) error {
		ctx = propagateGRPC(ctx)
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

// StreamClientInterceptor returns a gRPC stream client interceptor that
// performs the same propagation as [UnaryClientInterceptor].
func StreamClientInterceptor() grpc.StreamClientInterceptor {
	return func(
		ctx context.Context,
		desc *grpc.StreamDesc,
		cc *grpc.ClientConn,
		method string,
		streamer grpc.Streamer,
		opts ...grpc.CallOption,
	) (grpc.ClientStream, error) {
		ctx = propagateGRPC(ctx)
		return streamer(ctx, desc, cc, method, opts...)
	}
}

// authenticateGRPC extracts and verifies the bearer token from incoming
// gRPC metadata and enriches the context with the resulting principal.
func authenticateGRPC(ctx context.Context, validator *TokenValidator, mapper *ClaimsMapper, access *AccessCache) (context.Context, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ctx, status.Error(codes.Unauthenticated, "missing metadata")
	}

	values := md.Get(metadataAuthorization)
	if len(values) == 0 {
		return ctx, status.Error(codes.Unauthenticated, "missing authorization metadata")
	}
	token := ExtractBearerToken(values[0], BearerPrefix)
	if token == "" {
		return ctx, status.Error(codes.Unauthenticated, "invalid authorization format")
	}

	claims, err := validator.Decode(ctx, token)
	if err != nil {
		return ctx, status.Error(codes.Unauthenticated, "token validation failed")
	}
	principal, err := mapper.BuildPrincipal(claims)
	if err != nil {
		return ctx, status.Error(codes.Unauthenticated, "token claims rejected")
	}
	if access != nil {
		if err := access.LoadAccess(ctx, principal); err != nil {
			return ctx, status.Error(codes.Unavailable, "access lookup failed")
		}
	}

	ctx = ContextWithPrincipal(ctx, principal)
	ctx = ContextWithToken(ctx, token)

	if ids := md.Get(metadataCorrelationID); len(ids) > 0 && ids[0] != "" {
		ctx = ContextWithCorrelationID(ctx, ids[0])
	}

	return ctx, nil
}

// propagateGRPC copies the bearer token and correlation ID from the context
// into outgoing gRPC metadata, merging with any metadata already set.
func propagateGRPC(ctx context.Context) context.Context {
	var pairs []string
	if token, ok := TokenFromContext(ctx); ok {
		pairs = append(pairs, metadataAuthorization, BearerPrefix+token)
	}
	if correlationID, ok := CorrelationIDFromContext(ctx); ok {
		pairs = append(pairs, metadataCorrelationID, correlationID)
	}
	if len(pairs) == 0 {
		return ctx
	}

	md := metadata.Pairs(pairs...)
	if existing, ok := metadata.FromOutgoingContext(ctx); ok {
		md = metadata.Join(existing, md)
	}
	return metadata.NewOutgoingContext(ctx, md)
}

// wrappedServerStream wraps a grpc.ServerStream to override its Context
// method, since ServerStream.Context() returns the original stream context
// without the principal added by the interceptor.
type wrappedServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

// Context returns the wrapped context containing the principal.
func (w *wrappedServerStream) Context() context.Context {
	return w.ctx
}

// grpcRoleGate rejects calls whose principal lacks access. Shared by
// [RequireRoleUnaryInterceptor] and [RequirePermissionUnaryInterceptor].
func grpcRoleGate(allowed func(*Principal) bool) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		principal, ok := PrincipalFromContext(ctx)
		if !ok {
			return nil, status.Error(codes.Unauthenticated, "no authenticated principal")
		}
		if !allowed(principal) {
			return nil, status.Error(codes.PermissionDenied, "forbidden")
		}
		return handler(ctx, req)
	}
}

// RequireRoleUnaryInterceptor returns a unary interceptor rejecting calls
// whose principal lacks the given role. Chain it after
// [UnaryServerInterceptor].
func RequireRoleUnaryInterceptor(role string) grpc.UnaryServerInterceptor {
	return grpcRoleGate(func(p *Principal) bool { return p.HasRole(role) })
}

// RequirePermissionUnaryInterceptor returns a unary interceptor rejecting
// calls whose principal lacks the given permission. Chain it after
// [UnaryServerInterceptor].
func RequirePermissionUnaryInterceptor(permission string) grpc.UnaryServerInterceptor {
	return grpcRoleGate(func(p *Principal) bool { return p.HasPermission(permission) })
}
