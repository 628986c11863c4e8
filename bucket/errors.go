package bucket

import (
	"github.com/hashicorp/go-multierror"
)

// joinErrors aggregates every failure a ForAll fan-out produced so a
// caller using errors.As/errors.Is against the result can still observe
// each underlying replica failure, not just the first one.
func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	var merr *multierror.Error
	for _, err := range errs {
		merr = multierror.Append(merr, err)
	}
	return merr.ErrorOrNil()
}
