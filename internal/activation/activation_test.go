package activation

import (
	"net"
	"testing"
)

func env(vars map[string]string) func(string) string {
	return func(k string) string { return vars[k] }
}

func TestActivatedFDs(t *testing.T) {
	tests := []struct {
		name    string
		vars    map[string]string
		want    int
		wantErr bool
	}{
		{name: "no environment", vars: nil, want: 0},
		{name: "other process", vars: map[string]string{"LISTEN_PID": "99999", "LISTEN_FDS": "1"}, want: 0},
		{name: "this process", vars: map[string]string{"LISTEN_PID": "42", "LISTEN_FDS": "2"}, want: 2},
		{name: "missing fds", vars: map[string]string{"LISTEN_PID": "42"}, want: 0},
		{name: "zero fds", vars: map[string]string{"LISTEN_PID": "42", "LISTEN_FDS": "0"}, want: 0},
		{name: "negative fds", vars: map[string]string{"LISTEN_PID": "42", "LISTEN_FDS": "-1"}, want: 0},
		{name: "invalid pid", vars: map[string]string{"LISTEN_PID": "abc", "LISTEN_FDS": "1"}, wantErr: true},
		{name: "invalid fds", vars: map[string]string{"LISTEN_PID": "42", "LISTEN_FDS": "x"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := activatedFDs(env(tt.vars), 42)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("activatedFDs() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestListeners_NoEnvironment(t *testing.T) {
	t.Setenv("LISTEN_PID", "")
	t.Setenv("LISTEN_FDS", "")

	listeners, err := Listeners()
	if err != nil {
		t.Fatalf("Listeners() unexpected error: %v", err)
	}
	if listeners != nil {
		t.Errorf("expected nil listeners, got %v", listeners)
	}
}

func TestListen_FallsBackToAddress(t *testing.T) {
	t.Setenv("LISTEN_PID", "")

	l, activated, err := Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() unexpected error: %v", err)
	}
	defer func() {
		_ = l.Close()
	}()

	if activated {
		t.Error("expected a plain listener, got an activated one")
	}
	if _, ok := l.Addr().(*net.TCPAddr); !ok {
		t.Errorf("expected TCP address, got %T", l.Addr())
	}
}

func TestListen_InvalidEnvironment(t *testing.T) {
	t.Setenv("LISTEN_PID", "not-a-number")

	if _, _, err := Listen("127.0.0.1:0"); err == nil {
		t.Error("expected error for invalid LISTEN_PID, got nil")
	}
}
