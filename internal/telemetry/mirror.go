package telemetry

import (
	"context"

	"github.com/apex/log"
)

type ReadingPublisher interface {
	PublishReading(f Facility, r Reading) error
}

// Mirror republishes every stored reading. Publish failures are logged and
// never fail the store write.
type Mirror struct {
	Store
	publisher ReadingPublisher
}

func NewMirror(store Store, publisher ReadingPublisher) *Mirror {
	return &Mirror{Store: store, publisher: publisher}
}

func (m *Mirror) Update(ctx context.Context, f Facility, r Reading) error {
	if err := m.Store.Update(ctx, f, r); err != nil {
		return err
	}
	if m.publisher != nil {
		if err := m.publisher.PublishReading(f, r); err != nil {
			log.WithField("facility", f).WithError(err).Warn("mirror publish failed")
		}
	}
	return nil
}
