package email

import (
	"context"
	"errors"
	"fmt"
)

type unavailable struct {
	name   string
	reason string
}

// NewUnavailable returns a transport that fails every send.
// Health checks report it as down with reason.
func NewUnavailable(name, reason string) Transport {
	return &unavailable{name: name, reason: reason}
}

func (u *unavailable) Name() string { return u.name }

func (u *unavailable) Send(context.Context, Message) (string, error) {
	return "", errors.Join(ErrTransport, u.err())
}

func (u *unavailable) Verify(context.Context) error {
	return u.err()
}

func (u *unavailable) err() error {
	return fmt.Errorf("%w: %s", ErrTransportUnavailable, u.reason)
}
