package books

import (
	"context"
	"time"

	"billsync/internal/model"
)

const (
	maxRetries    = 3
	retryBaseWait = time.Second
)

type sleepFunc func(ctx context.Context, d time.Duration) error

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// withRetry replays fn while the books API reports throttling: at most
// three retries, waiting 1s, 2s, 4s between attempts. Any other fault,
// and the throttling fault once retries are spent, propagate unchanged.
func withRetry[T any](ctx context.Context, sleep sleepFunc, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	for attempt := 0; ; attempt++ {
		res, err := fn(ctx)
		if err == nil {
			return res, nil
		}
		if !IsRateLimit(err) || attempt >= maxRetries {
			return zero, err
		}
		if sleepErr := sleep(ctx, retryBaseWait<<attempt); sleepErr != nil {
			return zero, err
		}
	}
}

// Retrier wraps an API so every call goes through the same throttling
// policy. The pipeline talks to the books system only through this.
type Retrier struct {
	api   API
	sleep sleepFunc
}

func NewRetrier(api API) *Retrier {
	return &Retrier{api: api, sleep: sleepCtx}
}

func (r *Retrier) FindCustomerByName(ctx context.Context, name string) (*model.Entity, error) {
	return withRetry(ctx, r.sleep, func(ctx context.Context) (*model.Entity, error) {
		return r.api.FindCustomerByName(ctx, name)
	})
}

func (r *Retrier) CreateCustomer(ctx context.Context, spec CustomerSpec) (*model.Entity, error) {
	return withRetry(ctx, r.sleep, func(ctx context.Context) (*model.Entity, error) {
		return r.api.CreateCustomer(ctx, spec)
	})
}

func (r *Retrier) FindVendorByName(ctx context.Context, name string) (*model.Entity, error) {
	return withRetry(ctx, r.sleep, func(ctx context.Context) (*model.Entity, error) {
		return r.api.FindVendorByName(ctx, name)
	})
}

func (r *Retrier) CreateVendor(ctx context.Context, name string) (*model.Entity, error) {
	return withRetry(ctx, r.sleep, func(ctx context.Context) (*model.Entity, error) {
		return r.api.CreateVendor(ctx, name)
	})
}

func (r *Retrier) FindDepartmentByName(ctx context.Context, name string) (*model.Entity, error) {
	return withRetry(ctx, r.sleep, func(ctx context.Context) (*model.Entity, error) {
		return r.api.FindDepartmentByName(ctx, name)
	})
}

func (r *Retrier) FindClassByName(ctx context.Context, name string) (*model.Entity, error) {
	return withRetry(ctx, r.sleep, func(ctx context.Context) (*model.Entity, error) {
		return r.api.FindClassByName(ctx, name)
	})
}

func (r *Retrier) DefaultExpenseAccount(ctx context.Context) (*model.Entity, error) {
	return withRetry(ctx, r.sleep, func(ctx context.Context) (*model.Entity, error) {
		return r.api.DefaultExpenseAccount(ctx)
	})
}

func (r *Retrier) CreateBill(ctx context.Context, bill *model.Bill) (string, error) {
	return withRetry(ctx, r.sleep, func(ctx context.Context) (string, error) {
		return r.api.CreateBill(ctx, bill)
	})
}

func (r *Retrier) CreateInvoice(ctx context.Context, invoice *model.Invoice) (string, error) {
	return withRetry(ctx, r.sleep, func(ctx context.Context) (string, error) {
		return r.api.CreateInvoice(ctx, invoice)
	})
}

func (r *Retrier) UploadAttachment(ctx context.Context, att Attachment) (string, error) {
	return withRetry(ctx, r.sleep, func(ctx context.Context) (string, error) {
		return r.api.UploadAttachment(ctx, att)
	})
}
