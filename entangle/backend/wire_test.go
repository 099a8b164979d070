package backend

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"reflect"
	"testing"
	"time"

	"github.com/alan-christopher/entangle/entangle/circuit"
	"github.com/rs/zerolog"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

func TestSendReceive(t *testing.T) {
	l, r := net.Pipe()
	alice := &framer{rw: l}
	bob := &framer{rw: r}
	msg, err := structpb.NewStruct(map[string]interface{}{
		"job_id": "abc",
		"counts": map[string]interface{}{"00": 3, "11": 5},
	})
	if err != nil {
		t.Fatalf("Building message: %v", err)
	}
	msg2 := new(structpb.Struct)

	// net.Pipe() doesn't do any sort of buffering, so we perform these
	// operations asynchronously.
	wErr := make(chan error, 1)
	rErr := make(chan error, 1)
	go func() { wErr <- alice.Write(msg) }()
	go func() { rErr <- bob.Read(msg2) }()

	if err := <-wErr; err != nil {
		t.Fatalf("error writing message: %v", err)
	}
	if err := <-rErr; err != nil {
		t.Fatalf("error reading message: %v", err)
	}
	if !proto.Equal(msg2, msg) {
		t.Errorf("Message mangled in transit: got %v, want %v", msg2, msg)
	}
}

func TestOversizedFrameRejected(t *testing.T) {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, int32(1<<20))
	f := &framer{rw: &buf, maxBytes: 1024}
	if err := f.Read(new(structpb.Struct)); err == nil {
		t.Errorf("Read of oversized frame did not fail.")
	}
}

func TestRequestRoundTrip(t *testing.T) {
	c := circuit.New("teleport", 3, 3).
		Rotate(circuit.RY, 0.25, 0).
		H(1).CX(1, 2).CX(0, 1).H(0).
		Measure(0, 0).Measure(1, 1).
		IfBit(1, 1, circuit.X, 2).IfBit(0, 1, circuit.Z, 2).
		Measure(2, 2)
	s, err := request{JobID: "j", Shots: 17, Circuit: c}.encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := decodeRequest(s)
	if err != nil {
		t.Fatalf("decodeRequest: %v", err)
	}
	if got.JobID != "j" || got.Shots != 17 {
		t.Errorf("got job %q shots %d, want j 17", got.JobID, got.Shots)
	}
	if !reflect.DeepEqual(got.Circuit, c) {
		t.Errorf("circuit mangled: got %+v, want %+v", got.Circuit, c)
	}
}

func TestDecodeRejectsUnknownGate(t *testing.T) {
	s, err := request{JobID: "j", Shots: 4, Circuit: circuit.New("ccx", 3, 3).Apply("ccx", 0, 1, 2).MeasureAll()}.encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := decodeRequest(s); !errors.Is(err, ErrInvalidCircuit) {
		t.Errorf("decodeRequest of unknown gate: got %v, want %v", err, ErrInvalidCircuit)
	}
}

// pipeDialer serves every dialed connection from b over an in-memory pipe.
func pipeDialer(b Backend) func(ctx context.Context, network, addr string) (net.Conn, error) {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		client, server := net.Pipe()
		go ServeConn(context.Background(), server, b)
		return client, nil
	}
}

func TestRemoteMatchesLocal(t *testing.T) {
	sim := newTestSimulator(t, SimulatorOpts{Seed: 11})
	remote, err := NewRemote(RemoteOpts{
		Addr:      "device:7070",
		MaxQubits: 5,
		Dial:      pipeDialer(sim),
		Logger:    zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("NewRemote: %v", err)
	}
	c := circuit.New("ghz", 3, 3).H(0).CX(0, 1).CX(1, 2).MeasureAll()
	got, err := remote.Submit(context.Background(), c, 512)
	if err != nil {
		t.Fatalf("remote Submit: %v", err)
	}
	want, err := sim.Submit(context.Background(), c, 512)
	if err != nil {
		t.Fatalf("local Submit: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestRemoteErrors(t *testing.T) {
	sim := newTestSimulator(t, SimulatorOpts{Seed: 1, MaxQubits: 2})
	failDial := func(ctx context.Context, network, addr string) (net.Conn, error) {
		return nil, errors.New("connection refused")
	}
	tcs := []struct {
		name      string
		maxQubits int
		dial      func(ctx context.Context, network, addr string) (net.Conn, error)
		c         *circuit.Circuit
		want      error
	}{
		{
			name:      "dial failure",
			maxQubits: 4,
			dial:      failDial,
			c:         circuit.New("x", 1, 1).MeasureAll(),
			want:      ErrBackendUnavailable,
		},
		{
			name:      "device capacity",
			maxQubits: 4,
			dial:      pipeDialer(sim),
			c:         circuit.New("wide", 3, 3).MeasureAll(),
			want:      ErrCapacityExceeded,
		},
		{
			name:      "rejected locally",
			maxQubits: 1,
			dial:      failDial,
			c:         circuit.New("wide", 3, 3).MeasureAll(),
			want:      ErrCapacityExceeded,
		},
		{
			name:      "invalid",
			maxQubits: 4,
			dial:      failDial,
			c:         circuit.New("silent", 1, 1),
			want:      ErrInvalidCircuit,
		},
	}
	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			r, err := NewRemote(RemoteOpts{Addr: "device:7070", MaxQubits: tc.maxQubits, Dial: tc.dial})
			if err != nil {
				t.Fatalf("NewRemote: %v", err)
			}
			if _, err := r.Submit(context.Background(), tc.c, 10); !errors.Is(err, tc.want) {
				t.Errorf("got %v, want %v", err, tc.want)
			}
		})
	}
}

func TestServeOverTCP(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("cannot listen on loopback: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	sim := newTestSimulator(t, SimulatorOpts{Seed: 5})
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, l, sim, zerolog.Nop()) }()

	remote, err := NewRemote(RemoteOpts{Addr: l.Addr().String(), MaxQubits: 4})
	if err != nil {
		t.Fatalf("NewRemote: %v", err)
	}
	counts, err := remote.Submit(ctx, circuit.New("x", 1, 1).X(0).MeasureAll(), 64)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !reflect.DeepEqual(counts, Counts{"1": 64}) {
		t.Errorf("got %v, want map[1:64]", counts)
	}
	cancel()
	if err := <-done; err != nil {
		t.Errorf("Serve returned %v after cancel", err)
	}
}

// listenSilent accepts connections and reads requests without ever
// answering them.
func listenSilent(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("cannot listen on loopback: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				io.Copy(io.Discard, conn)
			}()
		}
	}()
	return l.Addr().String()
}

func TestFallbackPastSilentDevice(t *testing.T) {
	remote, err := NewRemote(RemoteOpts{Addr: listenSilent(t), MaxQubits: 4})
	if err != nil {
		t.Fatalf("NewRemote: %v", err)
	}
	opts := ReliableOpts{Timeout: 100 * time.Millisecond, MaxAttempts: 1}
	hw := NewReliable(remote, opts)
	sim := NewReliable(newTestSimulator(t, SimulatorOpts{Seed: 6}), opts)
	breaker := NewCircuitBreaker(3, time.Hour, 1)
	f, err := NewFallback(PreferAuto, hw, sim, breaker, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewFallback: %v", err)
	}

	c := circuit.New("x", 1, 1).X(0).MeasureAll()
	for i := 0; i < 4; i++ {
		counts, err := f.Submit(context.Background(), c, 32)
		if err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
		if !reflect.DeepEqual(counts, Counts{"1": 32}) {
			t.Errorf("submit %d: got %v, want map[1:32]", i, counts)
		}
	}
	if got := breaker.State(); got != BreakerOpen {
		t.Errorf("breaker is %v after repeated device timeouts, want open", got)
	}
}
