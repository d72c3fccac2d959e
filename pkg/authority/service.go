package authority

import (
	"context"
	"errors"
	"time"

	"github.com/pbus-protocol/pbus-go/pkg/bus"
	"github.com/pbus-protocol/pbus-go/pkg/frame"
)

// Service errors.
var (
	// ErrNoCore indicates a service without a protocol core.
	ErrNoCore = errors.New("authority: protocol core is required")

	// ErrNoLink indicates a service without a bus link.
	ErrNoLink = errors.New("authority: bus link is required")
)

// DefaultStepInterval is the Run polling cadence when the caller does
// not specify one.
const DefaultStepInterval = time.Millisecond

// Service drives an Authority from a polled bus link, one step at a
// time, the same way the device controller drives its router.
type Service struct {
	auth *Authority
	link bus.Link
	asm  *frame.Assembler
}

// NewService wraps an authority and its bus link.
func NewService(a *Authority, link bus.Link) (*Service, error) {
	if a == nil {
		return nil, ErrNoCore
	}
	if link == nil {
		return nil, ErrNoLink
	}
	return &Service{
		auth: a,
		link: link,
		asm:  frame.NewAssembler(),
	}, nil
}

// Authority returns the wrapped protocol core, for operator commands
// between steps.
func (s *Service) Authority() *Authority {
	return s.auth
}

// Step runs one service tick: the clock, then at most one bus frame.
func (s *Service) Step() {
	s.auth.Tick()
	if f, ok := s.poll(); ok {
		s.auth.HandleBus(f)
	}
}

// poll produces at most one frame: first from buffered bytes, then
// after reading at most one new chunk. Structural failures feed the
// abuse monitor; everything on this link is hostile.
func (s *Service) poll() (*frame.Frame, bool) {
	fed := false
	for {
		f, err := s.asm.Next()
		if err == nil {
			return f, true
		}
		if !errors.Is(err, frame.ErrNoFrame) {
			s.auth.NoteBusMalformed()
			return nil, false
		}
		if fed {
			return nil, false
		}
		chunk, rerr := s.link.Recv()
		if rerr != nil {
			return nil, false
		}
		s.asm.Feed(chunk)
		fed = true
	}
}

// Run drives Step on a fixed interval until ctx ends and returns the
// context's error. The calling goroutine owns the service for the
// duration.
func (s *Service) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultStepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Step()
		}
	}
}
