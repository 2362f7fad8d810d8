package context

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextValues(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, GetTenantID(ctx))

	ctx = SetRequestID(ctx, "req-1")
	ctx = SetTenantID(ctx, "tenant")
	ctx = SetRunID(ctx, "run-1")
	ctx = SetMethod(ctx, "POST")
	ctx = SetRoute(ctx, "/api/v1/reconcile")

	assert.Equal(t, "req-1", GetRequestID(ctx))
	assert.Equal(t, "tenant", GetTenantID(ctx))
	assert.Equal(t, "run-1", GetRunID(ctx))
	assert.Equal(t, "POST", GetMethod(ctx))
	assert.Equal(t, "/api/v1/reconcile", GetRoute(ctx))
}
