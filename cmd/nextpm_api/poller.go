package main

import (
	"context"
	"errors"
	"time"

	"github.com/NotCoffee418/nextpm_monitor/pkg/nextpm"
	"github.com/sirupsen/logrus"
)

type pollTarget interface {
	IsConnected() bool
	Connect(ctx context.Context) error
	Status() nextpm.Status
	ReadEnvironment(ctx context.Context) (*nextpm.Environment, error)
	ReadConcentrations(ctx context.Context, window nextpm.Window) (*nextpm.ConcentrationReading, error)
	ReadBins(ctx context.Context, window nextpm.Window) (*nextpm.BinsReading, error)
}

// poller refreshes the sensor values on a fixed interval and reconnects
// when the bridge went away.
type poller struct {
	target   pollTarget
	window   nextpm.Window
	interval time.Duration
	log      *logrus.Logger
}

func (p *poller) run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *poller) tick(ctx context.Context) {
	if !p.target.IsConnected() {
		if err := p.target.Connect(ctx); err != nil && !errors.Is(err, nextpm.ErrAlreadyConnected) {
			p.log.Debugf("Sensor not reachable, retrying in %v", p.interval)
			return
		}
	}

	// Results land in the state cache, only failures matter here
	if _, err := p.target.ReadEnvironment(ctx); err != nil {
		p.logFailure("TRH", err)
		return
	}
	if _, err := p.target.ReadConcentrations(ctx, p.window); err != nil {
		p.logFailure("PM", err)
		return
	}
	if p.target.Status().Device.BinsSupported {
		if _, err := p.target.ReadBins(ctx, p.window); err != nil {
			p.logFailure("BINS", err)
		}
	}
}

func (p *poller) logFailure(command string, err error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, nextpm.ErrNotConnected) {
		return
	}
	p.log.WithField("command", command).Debugf("Poll failed: %v", err)
}
