package device

import (
	"context"
	"errors"
	"fmt"

	"github.com/nerrad567/devmgr/internal/notify"
)

// BatchRequest creates Quantity devices labelled Prefix-N for N counting up
// from InitialSuffix, all bound to the same templates.
type BatchRequest struct {
	Prefix        string  `json:"devicesPrefix"`
	Quantity      int     `json:"quantity"`
	InitialSuffix int     `json:"initialSuffixNumber"`
	Templates     []int64 `json:"templates"`
}

// Validate checks the request shape before any device is attempted.
func (r BatchRequest) Validate(tenant string) error {
	switch {
	case r.Prefix == "":
		return withDetail(ErrInvalidBatchPrefix, "devicesPrefix must be a non-empty string")
	case r.Quantity <= 0:
		return withDetail(ErrInvalidBatchQuantity, "quantity must be a positive integer")
	case r.InitialSuffix < 0:
		return withDetail(ErrInvalidBatchSuffix, "initialSuffixNumber must not be negative")
	case len(r.Templates) == 0:
		return withDetail(ErrInvalidBatchTemplates, "templates must be a non-empty list")
	case tenant == "":
		return withDetail(ErrInvalidBatchTenant, "tenant is required")
	}
	return nil
}

// BatchFailure is one device of a batch that could not be created.
type BatchFailure struct {
	Label  string `json:"label"`
	Reason string `json:"reason"`
}

// BatchResult reports every device of a batch as created or failed.
type BatchResult struct {
	Successes        []*View        `json:"successes"`
	Failures         []BatchFailure `json:"failures"`
	DevicesWithError bool           `json:"devicesWithError"`
}

// CreateDevicesInBatch stages every device of the batch in one unit of work.
//
// A device that breaks a business rule is recorded as a failure and the
// batch goes on. Any other error aborts the batch with nothing committed.
// After the single commit a create event is published for each success,
// in label order. Failures are never announced.
func (s *Service) CreateDevicesInBatch(ctx context.Context, tenant string, req BatchRequest) (*BatchResult, error) {
	if err := req.Validate(tenant); err != nil {
		return nil, err
	}

	res := &BatchResult{Successes: []*View{}, Failures: []BatchFailure{}}
	err := inTx(ctx, s.store, tenant, func(tx Tx) error {
		for n := req.InitialSuffix; n < req.InitialSuffix+req.Quantity; n++ {
			label := fmt.Sprintf("%s-%d", req.Prefix, n)
			staged, err := s.assembler.Insert(ctx, tx, Spec{Label: label, Templates: req.Templates})
			if err != nil {
				var be *BusinessError
				if !errors.As(err, &be) {
					return fmt.Errorf("creating %s: %w", label, err)
				}
				s.logger.Debug("batch device rejected", "tenant", tenant, "label", label, "reason", be.Reason)
				res.Failures = append(res.Failures, BatchFailure{Label: label, Reason: be.Reason})
				continue
			}
			res.Successes = append(res.Successes, staged.View())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	res.DevicesWithError = len(res.Failures) > 0

	for _, v := range res.Successes {
		s.notifier.Publish(ctx, notify.DeviceEvent(notify.KindCreate, tenant, v.ID, v))
	}
	if s.batches != nil {
		s.batches.WriteBatchResult(tenant, len(res.Successes), len(res.Failures))
	}
	s.logger.Info("batch created",
		"tenant", tenant,
		"prefix", req.Prefix,
		"successes", len(res.Successes),
		"failures", len(res.Failures),
	)
	return res, nil
}
