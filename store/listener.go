// Copyright 2025 The indexer-go Authors
// This file is part of the indexer-go library.
//
// The indexer-go library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The indexer-go library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the indexer-go library. If not, see <http://www.gnu.org/licenses/>.

package store

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/log"
	"github.com/jackc/pgx/v5"
)

// reconnectDelay paces LISTEN connection re-establishment after a drop.
const reconnectDelay = 5 * time.Second

// Listener turns the store's LISTEN/NOTIFY channels into typed event feeds.
// Consumers subscribe with buffered channels; payloads that fail to parse
// are logged and dropped, never crashing the loop.
type Listener struct {
	connect func(ctx context.Context) (*pgx.Conn, error)
	logger  log.Logger

	receiptFeed   event.FeedOf[ReceiptNotification]
	denyFeed      event.FeedOf[DenyNotification]
	costModelFeed event.FeedOf[CostModelNotification]
	scope         event.SubscriptionScope

	startOnce sync.Once
	stopOnce  sync.Once
	quit      chan struct{}
	done      chan struct{}
}

// NewListener builds a listener over its own dedicated connection; the
// pool's connections cannot sit on a blocking LISTEN.
func NewListener(databaseURL string, logger log.Logger) *Listener {
	if logger == nil {
		logger = log.Root()
	}
	return &Listener{
		connect: func(ctx context.Context) (*pgx.Conn, error) {
			return pgx.Connect(ctx, databaseURL)
		},
		logger: logger.New("component", "store-listener"),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// SubscribeReceipts delivers TAP receipt change events.
func (l *Listener) SubscribeReceipts(ch chan<- ReceiptNotification) event.Subscription {
	return l.scope.Track(l.receiptFeed.Subscribe(ch))
}

// SubscribeDenylist delivers denylist change events.
func (l *Listener) SubscribeDenylist(ch chan<- DenyNotification) event.Subscription {
	return l.scope.Track(l.denyFeed.Subscribe(ch))
}

// SubscribeCostModels delivers cost-model change events.
func (l *Listener) SubscribeCostModels(ch chan<- CostModelNotification) event.Subscription {
	return l.scope.Track(l.costModelFeed.Subscribe(ch))
}

// Start launches the notification loop.
func (l *Listener) Start(ctx context.Context) {
	l.startOnce.Do(func() {
		go l.loop(ctx)
	})
}

// Stop terminates the loop and unsubscribes all consumers.
func (l *Listener) Stop() {
	l.stopOnce.Do(func() { close(l.quit) })
	<-l.done
	l.scope.Close()
}

func (l *Listener) loop(ctx context.Context) {
	defer close(l.done)
	for {
		select {
		case <-l.quit:
			return
		case <-ctx.Done():
			return
		default:
		}
		if err := l.listen(ctx); err != nil {
			l.logger.Warn("Notification connection lost", "err", err)
		}
		select {
		case <-l.quit:
			return
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
	}
}

func (l *Listener) listen(ctx context.Context) error {
	conn, err := l.connect(ctx)
	if err != nil {
		return err
	}
	defer conn.Close(context.Background())

	for _, channel := range []string{ReceiptNotificationChannel, DenyNotificationChannel, CostModelNotificationChannel} {
		if _, err := conn.Exec(ctx, "LISTEN "+channel); err != nil {
			return err
		}
	}

	// WaitForNotification blocks until a payload or a connection error; the
	// quit channel is honored by cancelling the wait.
	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-l.quit:
			cancel()
		case <-waitCtx.Done():
		}
	}()

	for {
		notification, err := conn.WaitForNotification(waitCtx)
		if err != nil {
			if waitCtx.Err() != nil {
				return nil
			}
			return err
		}
		l.dispatch(notification.Channel, notification.Payload)
	}
}

func (l *Listener) dispatch(channel, payload string) {
	switch channel {
	case ReceiptNotificationChannel:
		n, err := parseReceiptNotification(payload)
		if err != nil {
			l.logger.Warn("Dropping malformed receipt notification", "payload", payload, "err", err)
			return
		}
		l.receiptFeed.Send(n)
	case DenyNotificationChannel:
		n, err := parseDenyNotification(payload)
		if err != nil {
			l.logger.Warn("Dropping malformed denylist notification", "payload", payload, "err", err)
			return
		}
		l.denyFeed.Send(n)
	case CostModelNotificationChannel:
		n, err := parseCostModelNotification(payload)
		if err != nil {
			l.logger.Warn("Dropping malformed cost model notification", "payload", payload, "err", err)
			return
		}
		l.costModelFeed.Send(n)
	}
}
