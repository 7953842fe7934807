package tracing

import (
	"context"
	"testing"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/stretchr/testify/require"

	"example.com/backstage/services/auctions/config"
)

func TestNewContextCarriesTransaction(t *testing.T) {
	txn := &newrelic.Transaction{}
	ctx := NewContext(context.Background(), txn)
	require.Same(t, txn, newrelic.FromContext(ctx))
}

func TestNewContextWithoutTransaction(t *testing.T) {
	ctx := context.Background()
	require.Equal(t, ctx, NewContext(ctx, nil))
	require.Nil(t, newrelic.FromContext(NewContext(ctx, nil)))
}

func TestStartSegmentWithoutTransactionIsNoop(t *testing.T) {
	end := StartSegment(context.Background(), "noop")
	require.NotPanics(t, end)
}

func TestNewTracerWithoutLicenseIsDisabled(t *testing.T) {
	tr, err := NewTracer(config.TracingConfig{AppName: "auctions"})
	require.NoError(t, err)
	require.Nil(t, tr.StartTransaction("x"))
	require.Nil(t, tr.Application())
}
