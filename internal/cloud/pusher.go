package cloud

import (
	"context"
	"errors"

	"github.com/roach88/tillpos/internal/syncwire"
)

// LocalPusher applies pushes straight to a ledger in the same process,
// answering the way the HTTP endpoint would. It satisfies syncer.Pusher.
type LocalPusher struct {
	Ledger   *Ledger
	TenantID string
}

// Push applies req for the pusher's tenant. Rejections come back as an
// unsuccessful response, not as an error.
func (p LocalPusher) Push(ctx context.Context, req syncwire.PushRequest) (syncwire.PushResponse, error) {
	n, err := p.Ledger.ApplyBatch(ctx, p.TenantID, req.Items)
	if err != nil {
		be := asBatchError(err)
		return syncwire.PushResponse{Error: &syncwire.ErrorBody{Code: be.Code, Message: be.Message}}, nil
	}
	return syncwire.PushResponse{Success: true, ProcessedCount: n}, nil
}

func asBatchError(err error) *BatchError {
	var be *BatchError
	if errors.As(err, &be) {
		return be
	}
	return &BatchError{Code: syncwire.CodeInternal, Message: "batch could not be applied", Err: err}
}
