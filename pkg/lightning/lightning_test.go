package lightning

import (
	"testing"

	"github.com/lightningnetwork/lnd/lnrpc"
	"github.com/stretchr/testify/require"
)

func TestFromWireStateMapsAllTerminalStates(t *testing.T) {
	require.Equal(t, StateOpen, fromWireState(lnrpc.Invoice_OPEN))
	require.Equal(t, StateAccepted, fromWireState(lnrpc.Invoice_ACCEPTED))
	require.Equal(t, StateSettled, fromWireState(lnrpc.Invoice_SETTLED))
	require.Equal(t, StateCanceled, fromWireState(lnrpc.Invoice_CANCELED))
}

func TestMacaroonCredAttachesMetadata(t *testing.T) {
	cred := macaroonCred("deadbeef")
	md, err := cred.GetRequestMetadata(nil)
	require.NoError(t, err)
	require.Equal(t, "deadbeef", md["macaroon"])
	require.True(t, cred.RequireTransportSecurity())
}
