package firestore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"
)

// TxFunc runs inside a Firestore transaction and may be invoked more than once on contention.
type TxFunc func(ctx context.Context, tx *firestore.Transaction) error

// RunTransaction runs fn with the provider's attempt and timeout limits. A caller deadline shorter
// than the configured timeout is kept.
func (p *Provider) RunTransaction(ctx context.Context, fn TxFunc) error {
	if fn == nil {
		return errors.New("firestore: transaction function is nil")
	}
	client, err := p.Client(ctx)
	if err != nil {
		return err
	}

	ctx, cancel := boundedContext(ctx, p.txTimeout)
	defer cancel()

	var opts []firestore.TransactionOption
	if p.txAttempts > 0 {
		opts = append(opts, firestore.MaxAttempts(p.txAttempts))
	}
	return WrapError("transaction", client.RunTransaction(ctx, fn, opts...))
}

func boundedContext(ctx context.Context, limit time.Duration) (context.Context, context.CancelFunc) {
	if limit <= 0 {
		return ctx, func() {}
	}
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) <= limit {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, limit)
}
