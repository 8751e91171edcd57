package middleware

import (
	"context"
	"errors"
	"testing"

	"github.com/semihalev/sdnsfwd/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type dummy struct{}

func (d *dummy) ServeDNS(ctx context.Context, ch *Chain) { ch.Next(ctx) }
func (d *dummy) Name() string                           { return "dummy" }

type lifecycle struct {
	dummy
	started bool
	err     error
	ran     chan struct{}
}

func (l *lifecycle) Start(context.Context) error {
	l.started = true
	return l.err
}

func (l *lifecycle) Run(ctx context.Context) {
	close(l.ran)
	<-ctx.Done()
}

func Test_Middleware(t *testing.T) {
	Register("dummy", func(*config.Config) Handler {
		return &dummy{}
	})

	d := Get("dummy")
	assert.Nil(t, d)

	assert.Error(t, Setup(nil))

	cfg := &config.Config{}

	err := Setup(cfg)
	assert.NoError(t, err)

	err = Setup(cfg)
	assert.Error(t, err)

	assert.Equal(t, []string{"dummy"}, List())
	assert.Len(t, Handlers(), 1)

	d = Get("dummy")
	assert.NotNil(t, d)

	d = Get("none")
	assert.Nil(t, d)
}

func Test_Lifecycle(t *testing.T) {
	l := &lifecycle{ran: make(chan struct{})}
	handlers := []Handler{&dummy{}, l}

	require.NoError(t, Start(context.Background(), handlers))
	assert.True(t, l.started)

	runners := Runners(handlers)
	require.Len(t, runners, 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		runners[0].Run(ctx)
		close(done)
	}()

	<-l.ran
	cancel()
	<-done

	l.err = errors.New("start failed")
	assert.Error(t, Start(context.Background(), handlers))
}
