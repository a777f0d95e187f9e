package andyweb_test

import (
	"context"
	"testing"

	andyweb "github.com/CallMeChewy/AndyWeb"
	"github.com/CallMeChewy/AndyWeb/store/memstore"
)

func BenchmarkValidateSession(b *testing.B) {
	ctx := context.Background()
	engine, err := andyweb.New().WithConfig(testConfig()).WithStore(memstore.New()).Build()
	if err != nil {
		b.Fatalf("Build failed: %v", err)
	}
	defer engine.Close()

	if _, err := engine.Register(ctx, andyweb.RegisterRequest{Email: "bench@bowersworld.com", Password: "bench-password"}); err != nil {
		b.Fatalf("Register failed: %v", err)
	}
	res, err := engine.Login(ctx, "bench@bowersworld.com", "bench-password")
	if err != nil {
		b.Fatalf("Login failed: %v", err)
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := engine.ValidateSession(ctx, res.SessionToken); err != nil {
			b.Fatalf("ValidateSession failed: %v", err)
		}
	}
}
