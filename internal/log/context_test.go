// SPDX-License-Identifier: MIT

package log

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequestIDRoundTrip(t *testing.T) {
	ctx := ContextWithRequestID(context.Background(), "req-7")
	assert.Equal(t, "req-7", RequestIDFromContext(ctx))
	assert.Empty(t, RequestIDFromContext(context.Background()))
}

func TestBatchIDRoundTrip(t *testing.T) {
	ctx := ContextWithBatchID(context.Background(), "bulk_abcd1234")
	assert.Equal(t, "bulk_abcd1234", BatchIDFromContext(ctx))
	assert.Empty(t, BatchIDFromContext(context.Background()))
}

func TestNilContextSafe(t *testing.T) {
	//nolint:staticcheck // nil is the case under test
	assert.Empty(t, RequestIDFromContext(nil))
	ctx := ContextWithRequestID(nil, "req-8")
	assert.Equal(t, "req-8", RequestIDFromContext(ctx))
}
