package discovery

import "testing"

func TestDefaultAddrs(t *testing.T) {
	if got := DefaultGRPCAddr(ServiceWorker); got != "worker:8089" {
		t.Fatalf("grpc addr = %q, want %q", got, "worker:8089")
	}
	if got := DefaultListenAddr(ServiceWorker); got != ":8089" {
		t.Fatalf("listen addr = %q, want %q", got, ":8089")
	}
	if got := DefaultGRPCAddr("unknown"); got != "" {
		t.Fatalf("unknown addr = %q, want empty", got)
	}
}

func TestOrDefaultPrefersValue(t *testing.T) {
	tests := []struct {
		name  string
		value string
		fn    func(string, string) string
		want  string
	}{
		{name: "grpc override", value: " localhost:9000 ", fn: OrDefaultGRPCAddr, want: "localhost:9000"},
		{name: "grpc default", value: " ", fn: OrDefaultGRPCAddr, want: "worker:8089"},
		{name: "listen override", value: "127.0.0.1:0", fn: OrDefaultListenAddr, want: "127.0.0.1:0"},
		{name: "listen default", value: "", fn: OrDefaultListenAddr, want: ":8089"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.fn(tc.value, ServiceWorker); got != tc.want {
				t.Fatalf("addr = %q, want %q", got, tc.want)
			}
		})
	}
}
