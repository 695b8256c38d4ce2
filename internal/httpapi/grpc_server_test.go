package httpapi

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"agenthub.io/internal/auth"
	"agenthub.io/internal/gate"
)

const bufSize = 1024 * 1024

func startBufGRPC(t *testing.T, server *grpc.Server) (*grpc.ClientConn, func()) {
	t.Helper()

	listener := bufconn.Listen(bufSize)
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			t.Logf("grpc serve error: %v", err)
		}
	}()

	dialer := func(ctx context.Context, _ string) (net.Conn, error) {
		return listener.Dial()
	}
	conn, err := grpc.DialContext(
		context.Background(),
		"bufnet",
		grpc.WithContextDialer(dialer),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial bufnet: %v", err)
	}

	cleanup := func() {
		server.GracefulStop()
		_ = conn.Close()
		_ = listener.Close()
	}
	return conn, cleanup
}

func testGate(t *testing.T) (*gate.Gate, *auth.TokenService) {
	t.Helper()
	tokens, err := auth.NewTokenService("grpc-access", "grpc-refresh")
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	return gate.New(tokens), tokens
}

func TestGRPCHealthIsPublic(t *testing.T) {
	g, _ := testGate(t)
	conn, cleanup := startBufGRPC(t, NewGRPCServer(g, ReadyProbe{}, nil))
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		t.Fatalf("Check error: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("unexpected status: %s", resp.GetStatus())
	}
}

type failingReadiness struct{}

func (f failingReadiness) Check(context.Context) error { return errors.New("boom") }

func TestGRPCHealthFailure(t *testing.T) {
	g, _ := testGate(t)
	conn, cleanup := startBufGRPC(t, NewGRPCServer(g, failingReadiness{}, nil))
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
	if err == nil {
		t.Fatal("expected health check error")
	}
	st, ok := status.FromError(err)
	if !ok || st.Code() != codes.Unavailable {
		t.Fatalf("unexpected status: %v", err)
	}
}

func TestUnaryAuthInterceptor(t *testing.T) {
	g, tokens := testGate(t)
	const method = "/agenthub.v1.Credentials/Resolve"
	interceptor := UnaryAuthInterceptor(g, map[string]gate.Requirement{
		method: gate.RequirePermission(auth.PermManageCredentials),
	})

	issue := func(persona auth.Persona) string {
		roles := auth.DefaultRoles(persona)
		tok, _, err := tokens.IssueAccessToken(auth.Principal{
			ID: "u-" + string(persona), Persona: persona, Roles: roles, Permissions: auth.PermissionsForRoles(roles),
		})
		if err != nil {
			t.Fatalf("IssueAccessToken: %v", err)
		}
		return tok
	}

	var seen auth.Principal
	handler := func(ctx context.Context, req any) (any, error) {
		seen, _ = auth.PrincipalFromContext(ctx)
		return "ok", nil
	}
	call := func(authz string) error {
		ctx := context.Background()
		if authz != "" {
			ctx = metadata.NewIncomingContext(ctx, metadata.Pairs("authorization", authz))
		}
		_, err := interceptor(ctx, nil, &grpc.UnaryServerInfo{FullMethod: method}, handler)
		return err
	}

	cases := []struct {
		name  string
		authz string
		want  codes.Code
	}{
		{"missing", "", codes.Unauthenticated},
		{"garbage", "Bearer nope", codes.Unauthenticated},
		{"end user", "Bearer " + issue(auth.PersonaEndUser), codes.PermissionDenied},
		{"builder", "Bearer " + issue(auth.PersonaBuilder), codes.OK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := call(tc.authz)
			if status.Code(err) != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
	if seen.ID != "u-builder" {
		t.Fatalf("principal not attached: %+v", seen)
	}
}
