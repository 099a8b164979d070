package backend

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/alan-christopher/entangle/entangle/circuit"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"google.golang.org/protobuf/types/known/structpb"
)

var DefaultDialTimeout = 5 * time.Second

// A RemoteOpts packages together the arguments for NewRemote.
type RemoteOpts struct {
	// Addr is the host:port of the device gateway. Must be non-empty.
	Addr string

	// Name identifies the device. Defaults to "remote:" + Addr.
	Name string

	// MaxQubits is the device's qubit count. Must be positive; circuits wider
	// than this are rejected before anything is sent.
	MaxQubits int

	// DialTimeout bounds connection setup. Defaults to DefaultDialTimeout.
	DialTimeout time.Duration

	// Dial overrides how connections are made. Defaults to a net.Dialer.
	Dial func(ctx context.Context, network, addr string) (net.Conn, error)

	Logger zerolog.Logger
}

// A Remote submits circuits to a device gateway speaking the framed wire
// protocol served by Serve. Each submit uses its own connection.
type Remote struct {
	addr      string
	name      string
	maxQubits int
	timeout   time.Duration
	dial      func(ctx context.Context, network, addr string) (net.Conn, error)
	log       zerolog.Logger
}

// NewRemote returns a Remote configured by opts, or an error if the options
// are nonsensical.
func NewRemote(opts RemoteOpts) (*Remote, error) {
	if opts.Addr == "" {
		return nil, errors.New("must provide Addr")
	}
	if opts.MaxQubits <= 0 {
		return nil, fmt.Errorf("MaxQubits must be positive, got %d", opts.MaxQubits)
	}
	name := opts.Name
	if name == "" {
		name = "remote:" + opts.Addr
	}
	timeout := opts.DialTimeout
	if timeout == 0 {
		timeout = DefaultDialTimeout
	}
	dial := opts.Dial
	if dial == nil {
		d := &net.Dialer{}
		dial = d.DialContext
	}
	return &Remote{
		addr:      opts.Addr,
		name:      name,
		maxQubits: opts.MaxQubits,
		timeout:   timeout,
		dial:      dial,
		log:       opts.Logger.With().Str("backend", name).Logger(),
	}, nil
}

func (r *Remote) Name() string   { return r.name }
func (r *Remote) MaxQubits() int { return r.maxQubits }

// Submit sends c to the device and waits for its counts. Transport failures,
// including ctx expiring, are reported as ErrBackendUnavailable.
func (r *Remote) Submit(ctx context.Context, c *circuit.Circuit, shots int) (Counts, error) {
	if err := Check(c, shots, r.maxQubits); err != nil {
		return nil, err
	}
	jobID := uuid.Must(uuid.NewV7()).String()
	log := r.log.With().Str("job", jobID).Logger()

	dialCtx, cancel := context.WithTimeout(ctx, r.timeout)
	conn, err := r.dial(dialCtx, "tcp", r.addr)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("%w: dialing %s: %v", ErrBackendUnavailable, r.addr, err)
	}
	defer conn.Close()
	if dl, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(dl); err != nil {
			return nil, fmt.Errorf("%w: setting deadline on %s: %v", ErrBackendUnavailable, r.addr, err)
		}
	}
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			// Unblock any pending read or write. A failure here means the
			// connection is already closed.
			_ = conn.SetDeadline(time.Unix(1, 0))
		case <-stop:
		}
	}()

	req, err := request{JobID: jobID, Shots: shots, Circuit: c}.encode()
	if err != nil {
		return nil, fmt.Errorf("%w: encoding request: %v", ErrInvalidCircuit, err)
	}
	f := &framer{rw: conn}
	log.Debug().Str("circuit", c.Name).Int("shots", shots).Msg("submitting")
	if err := f.Write(req); err != nil {
		return nil, r.transportErr(ctx, "sending request", err)
	}
	msg := &structpb.Struct{}
	if err := f.Read(msg); err != nil {
		return nil, r.transportErr(ctx, "receiving response", err)
	}
	resp, err := decodeResponse(msg)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed response: %v", ErrBackendUnavailable, err)
	}
	// Requests the gateway could not decode come back without a job id.
	if resp.JobID != jobID && resp.JobID != "" {
		return nil, fmt.Errorf("%w: response for job %s, want %s", ErrBackendUnavailable, resp.JobID, jobID)
	}
	if resp.Code != "" {
		log.Debug().Str("code", resp.Code).Str("message", resp.Message).Msg("device rejected job")
		return nil, codeError(resp.Code, resp.Message)
	}
	if got := resp.Counts.Total(); got != shots {
		return nil, fmt.Errorf("%w: device returned %d shots, want %d", ErrBackendUnavailable, got, shots)
	}
	return resp.Counts, nil
}

func (r *Remote) transportErr(ctx context.Context, doing string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		err = ctxErr
	}
	return fmt.Errorf("%w: %s: %v", ErrBackendUnavailable, doing, err)
}
