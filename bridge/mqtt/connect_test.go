package mqtt

import (
	"context"
	"errors"
	"testing"
	"time"

	is2 "github.com/matryer/is"
)

// Nothing listens on port 1, so Connect has to give up with ErrConnectionFailed.
func TestConnect_Unreachable(t *testing.T) {
	is := is2.New(t)
	_, err := Connect(context.Background(), Params{
		Broker:         "127.0.0.1",
		Port:           1,
		Clientid:       "unreachable",
		ConnectTimeout: 2 * time.Second,
	})
	is.True(errors.Is(err, ErrConnectionFailed))
}

func TestConnect_Cancelled(t *testing.T) {
	is := is2.New(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Connect(ctx, Params{
		Broker:         "127.0.0.1",
		Port:           1,
		Clientid:       "cancelled",
		ConnectTimeout: 2 * time.Second,
	})
	is.True(errors.Is(err, ErrConnectionFailed))
}
