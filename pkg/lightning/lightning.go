// Package lightning implements the HOLD-invoice handler collaborator
// (component I, §4.7): adding a hold invoice against a payment hash the
// smart-chain side already committed to, watching it for acceptance, and
// settling or cancelling it once the corresponding on-chain leg resolves.
// Grounded on the teacher's gRPC client-wiring style
// (src/chainadapter/rpc/client.go's TLS+credential setup), built against
// lnd's invoicesrpc/lnrpc wire types.
package lightning

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"github.com/lightningnetwork/lnd/lnrpc"
	"github.com/lightningnetwork/lnd/lnrpc/invoicesrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/metadata"
)

// InvoiceState mirrors lnrpc.Invoice_InvoiceState without leaking the wire
// package into handler code.
type InvoiceState int

const (
	StateOpen InvoiceState = iota
	StateAccepted
	StateSettled
	StateCanceled
)

func fromWireState(s lnrpc.Invoice_InvoiceState) InvoiceState {
	switch s {
	case lnrpc.Invoice_ACCEPTED:
		return StateAccepted
	case lnrpc.Invoice_SETTLED:
		return StateSettled
	case lnrpc.Invoice_CANCELED:
		return StateCanceled
	default:
		return StateOpen
	}
}

// InvoiceUpdate is one observation delivered by Client.Subscribe.
type InvoiceUpdate struct {
	State    InvoiceState
	AmtPaidMsat int64
}

// Client is the narrow HOLD-invoice surface the FromBtcLn/ToBtcLn handlers
// need. It is satisfied both by *LNDClient and by test fakes.
type Client interface {
	// AddHoldInvoice creates a HOLD invoice for paymentHash, payable up to
	// expiry seconds in the future, locked to cltvExpiryDelta final CLTV.
	AddHoldInvoice(ctx context.Context, paymentHash [32]byte, amountMsat int64, memo string, expiry time.Duration, cltvExpiryDelta uint32) (paymentRequest string, err error)
	// Subscribe streams state transitions for paymentHash until ctx is
	// cancelled or the invoice reaches a terminal state.
	Subscribe(ctx context.Context, paymentHash [32]byte) (<-chan InvoiceUpdate, error)
	// Settle releases the HOLD invoice by revealing preimage.
	Settle(ctx context.Context, preimage [32]byte) error
	// Cancel releases the hold without paying it.
	Cancel(ctx context.Context, paymentHash [32]byte) error
	// HtlcExpiryHeight returns the lowest absolute block height at which any
	// currently-held HTLC for paymentHash times out, used by the FromBtcLn
	// handler's minCltv check (§4.7 step 2).
	HtlcExpiryHeight(ctx context.Context, paymentHash [32]byte) (uint32, error)
}

// LNDClient talks to a single LND node's invoices subserver over gRPC,
// authenticated with a TLS certificate and macaroon the way every lnd
// client tool does it.
type LNDClient struct {
	conn   *grpc.ClientConn
	client invoicesrpc.InvoicesClient
	lnd    lnrpc.LightningClient
}

// Dial opens a TLS+macaroon-authenticated connection to an LND node's
// invoices RPC.
func Dial(host, tlsCertPath, macaroonPath string) (*LNDClient, error) {
	creds, err := credentials.NewClientTLSFromFile(tlsCertPath, "")
	if err != nil {
		// Fall back to a fresh cert pool holding only the provided cert;
		// host-name verification stays on.
		pool := x509.NewCertPool()
		pem, readErr := os.ReadFile(tlsCertPath)
		if readErr != nil {
			return nil, fmt.Errorf("lightning: read tls cert: %w", err)
		}
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("lightning: parse tls cert: %w", err)
		}
		creds = credentials.NewTLS(&tls.Config{RootCAs: pool})
	}

	macaroonHex, err := os.ReadFile(macaroonPath)
	if err != nil {
		return nil, fmt.Errorf("lightning: read macaroon: %w", err)
	}

	conn, err := grpc.NewClient(host,
		grpc.WithTransportCredentials(creds),
		grpc.WithPerRPCCredentials(macaroonCred(hex.EncodeToString(macaroonHex))),
	)
	if err != nil {
		return nil, fmt.Errorf("lightning: dial %s: %w", host, err)
	}

	return &LNDClient{conn: conn, client: invoicesrpc.NewInvoicesClient(conn), lnd: lnrpc.NewLightningClient(conn)}, nil
}

func (c *LNDClient) Close() error { return c.conn.Close() }

// Conn exposes the underlying connection so the composition root can build
// other subserver stubs (walletrpc for PSBTSigner, lnrpc.LightningClient
// for ChannelLiquidity) against the same dialed node.
func (c *LNDClient) Conn() *grpc.ClientConn { return c.conn }

// LightningClient exposes the lnrpc.LightningClient stub this connection
// already holds, for collaborators that only need channel/wallet queries.
func (c *LNDClient) LightningClient() lnrpc.LightningClient { return c.lnd }

type macaroonCred string

func (m macaroonCred) GetRequestMetadata(ctx context.Context, uri ...string) (map[string]string, error) {
	return map[string]string{"macaroon": string(m)}, nil
}

func (m macaroonCred) RequireTransportSecurity() bool { return true }

func (c *LNDClient) AddHoldInvoice(ctx context.Context, paymentHash [32]byte, amountMsat int64, memo string, expiry time.Duration, cltvExpiryDelta uint32) (string, error) {
	resp, err := c.client.AddHoldInvoice(ctx, &invoicesrpc.AddHoldInvoiceRequest{
		Hash:       paymentHash[:],
		ValueMsat:  amountMsat,
		Memo:       memo,
		Expiry:     int64(expiry.Seconds()),
		CltvExpiry: uint64(cltvExpiryDelta),
	})
	if err != nil {
		return "", fmt.Errorf("lightning: add hold invoice: %w", err)
	}
	return resp.PaymentRequest, nil
}

func (c *LNDClient) Subscribe(ctx context.Context, paymentHash [32]byte) (<-chan InvoiceUpdate, error) {
	stream, err := c.client.SubscribeSingleInvoice(ctx, &invoicesrpc.SubscribeSingleInvoiceRequest{
		RHash: paymentHash[:],
	})
	if err != nil {
		return nil, fmt.Errorf("lightning: subscribe invoice: %w", err)
	}

	updates := make(chan InvoiceUpdate, 8)
	go func() {
		defer close(updates)
		for {
			inv, err := stream.Recv()
			if err != nil {
				return
			}
			update := InvoiceUpdate{State: fromWireState(inv.State), AmtPaidMsat: inv.AmtPaidMsat}
			select {
			case updates <- update:
			case <-ctx.Done():
				return
			}
			if update.State == StateSettled || update.State == StateCanceled {
				return
			}
		}
	}()
	return updates, nil
}

func (c *LNDClient) Settle(ctx context.Context, preimage [32]byte) error {
	_, err := c.client.SettleInvoice(ctx, &invoicesrpc.SettleInvoiceMsg{Preimage: preimage[:]})
	if err != nil {
		return fmt.Errorf("lightning: settle invoice: %w", err)
	}
	return nil
}

func (c *LNDClient) Cancel(ctx context.Context, paymentHash [32]byte) error {
	_, err := c.client.CancelInvoice(ctx, &invoicesrpc.CancelInvoiceMsg{PaymentHash: paymentHash[:]})
	if err != nil {
		return fmt.Errorf("lightning: cancel invoice: %w", err)
	}
	return nil
}

func (c *LNDClient) HtlcExpiryHeight(ctx context.Context, paymentHash [32]byte) (uint32, error) {
	inv, err := c.lnd.LookupInvoice(ctx, &lnrpc.PaymentHash{RHash: paymentHash[:]})
	if err != nil {
		return 0, fmt.Errorf("lightning: lookup invoice: %w", err)
	}
	var lowest uint32
	for _, htlc := range inv.Htlcs {
		if htlc.State != lnrpc.InvoiceHTLCState_ACCEPTED {
			continue
		}
		if lowest == 0 || uint32(htlc.ExpiryHeight) < lowest {
			lowest = uint32(htlc.ExpiryHeight)
		}
	}
	if lowest == 0 {
		return 0, fmt.Errorf("lightning: no held htlc for payment hash")
	}
	return lowest, nil
}

var _ Client = (*LNDClient)(nil)

// withOutgoingMacaroon is a convenience for callers that need to attach the
// macaroon to a context manually (e.g. for RPCs not wrapped by this
// package).
func withOutgoingMacaroon(ctx context.Context, macaroonHex string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, "macaroon", macaroonHex)
}
