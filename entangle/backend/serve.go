package backend

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/rs/zerolog"
	"google.golang.org/protobuf/types/known/structpb"
)

// Serve accepts connections on l and answers each framed request by
// submitting it to b, until ctx is done. It closes l on return.
func Serve(ctx context.Context, l net.Listener, b Backend, log zerolog.Logger) error {
	go func() {
		<-ctx.Done()
		l.Close()
	}()
	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accepting: %w", err)
		}
		go func() {
			if err := ServeConn(ctx, conn, b); err != nil {
				log.Warn().Err(err).Str("remote", conn.RemoteAddr().String()).Msg("serving connection")
			}
		}()
	}
}

// ServeConn answers a single request on conn, then closes it. Backend errors
// travel back to the caller as coded responses; only transport and framing
// problems are returned.
func ServeConn(ctx context.Context, conn net.Conn, b Backend) error {
	defer conn.Close()
	f := &framer{rw: conn}
	msg := &structpb.Struct{}
	if err := f.Read(msg); err != nil {
		return fmt.Errorf("receiving request: %w", err)
	}
	resp := response{}
	req, err := decodeRequest(msg)
	if err != nil {
		resp.Code, resp.Message = codeInvalid, err.Error()
	} else {
		resp.JobID = req.JobID
		counts, err := b.Submit(ctx, req.Circuit, req.Shots)
		if err != nil {
			resp.Code, resp.Message = errorCode(err), err.Error()
		} else {
			resp.Counts = counts
		}
	}
	out, err := resp.encode()
	if err != nil {
		return fmt.Errorf("encoding response: %w", err)
	}
	if err := f.Write(out); err != nil {
		return fmt.Errorf("sending response: %w", err)
	}
	if resp.Code == codeInternal {
		return errors.New(resp.Message)
	}
	return nil
}
