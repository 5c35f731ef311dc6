package wxerr

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyMatchesWrappedSentinel(t *testing.T) {
	cases := []struct {
		err  error
		want Kind
	}{
		{nil, KindUnknown},
		{fmt.Errorf("fetch: %w", ErrTransientUnavailable), KindTransientUnavailable},
		{fmt.Errorf("fetch: %w", ErrHardFailure), KindHardFailure},
		{fmt.Errorf("gate1: %w", ErrValidationRejected), KindValidationRejected},
		{fmt.Errorf("registry: %w", ErrUnknownModel), KindUnknownModel},
		{fmt.Errorf("registry: %w", ErrUnknownVariable), KindUnknownVariable},
		{fmt.Errorf("grid: %w", ErrUnknownCoverage), KindUnknownCoverage},
		{fmt.Errorf("layout: %w", ErrInvalidRunID), KindInvalidRunID},
		{fmt.Errorf("sample: %w", ErrRateLimited), KindRateLimited},
		{fmt.Errorf("plain error, no sentinel"), KindInternal},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, Classify(c.err))
	}
}

func TestTransientOnlyMatchesTransientSentinel(t *testing.T) {
	assert.True(t, Transient(fmt.Errorf("fetch: %w", ErrTransientUnavailable)))
	assert.False(t, Transient(fmt.Errorf("fetch: %w", ErrHardFailure)))
	assert.False(t, Transient(nil))
}
