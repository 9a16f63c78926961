package device

import (
	"context"
	"fmt"
	"testing"
)

// setupBenchRegistry creates a registry pre-populated with n devices.
func setupBenchRegistry(b *testing.B, n int) *Registry {
	b.Helper()
	repo := NewMockRepository()
	ctx := context.Background()

	for i := 0; i < n; i++ {
		dev := testDevice(fmt.Sprintf("dev-%04d", i))
		if i%3 == 0 {
			dev.Protocol = ProtocolModbus
			dev.Address = Address{"unit_id": 1, "coil": i}
		}
		if err := repo.Upsert(ctx, dev); err != nil {
			b.Fatalf("creating device %d: %v", i, err)
		}
	}

	reg := NewRegistry(repo)
	if err := reg.RefreshCache(ctx); err != nil {
		b.Fatalf("refreshing cache: %v", err)
	}
	return reg
}

func BenchmarkRegistryResolve(b *testing.B) {
	reg := setupBenchRegistry(b, 100)
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		reg.Resolve(ctx, "dev-0050") //nolint:errcheck // benchmark
	}
}

func BenchmarkRegistryResolve_Parallel(b *testing.B) {
	reg := setupBenchRegistry(b, 100)
	ctx := context.Background()

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			reg.Resolve(ctx, "dev-0050") //nolint:errcheck // benchmark
		}
	})
}

func BenchmarkRegistryRefreshCache(b *testing.B) {
	reg := setupBenchRegistry(b, 500)
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		reg.RefreshCache(ctx) //nolint:errcheck // benchmark
	}
}
