package cyclegan_go

import (
	"github.com/pkg/errors"
)

var (
	// ErrEmptyDataset Dataset has no samples (e.g. folder without images)
	ErrEmptyDataset = errors.New("dataset is empty")
	// ErrDomainLengthMismatch Domains yield different number of batches under strict pairing
	ErrDomainLengthMismatch = errors.New("domains have different number of batches")
	// ErrNonFiniteLoss Loss became NaN or Inf
	ErrNonFiniteLoss = errors.New("loss is not finite")
	// ErrShapeMismatch Tensor has unexpected shape
	ErrShapeMismatch = errors.New("shape mismatch")
)
