package lightning

import (
	"context"
	"fmt"
	"time"

	"github.com/lightningnetwork/lnd/lnrpc"
	"github.com/lightningnetwork/lnd/lnrpc/routerrpc"
	"google.golang.org/grpc"
)

// PaymentOutcome is the terminal result of a Lightning payment attempt, the
// "bitcoin payout" collaborator for the ToBtcLn direction (§4.6): the
// preimage itself is the release secret the handler signs the smart-chain
// claim with.
type PaymentOutcome struct {
	Succeeded bool
	Preimage  [32]byte
	FailureReason string
}

// Payer is the narrow send-payment surface the ToBtcLn handler needs from
// an LND node's router subserver.
type Payer interface {
	// PayInvoice attempts payment of paymentRequest up to feeLimitSats in
	// routing fees, blocking until the payment reaches a terminal state or
	// ctx is cancelled.
	PayInvoice(ctx context.Context, paymentRequest string, feeLimitSats int64, timeout time.Duration) (*PaymentOutcome, error)
}

// LNDPayer drives lnd's routerrpc.SendPaymentV2, the same streaming
// send-and-track call every lnd client tool uses for a blocking pay.
type LNDPayer struct {
	client routerrpc.RouterClient
}

func NewLNDPayer(conn *grpc.ClientConn) *LNDPayer {
	return &LNDPayer{client: routerrpc.NewRouterClient(conn)}
}

func (p *LNDPayer) PayInvoice(ctx context.Context, paymentRequest string, feeLimitSats int64, timeout time.Duration) (*PaymentOutcome, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	stream, err := p.client.SendPaymentV2(ctx, &routerrpc.SendPaymentRequest{
		PaymentRequest: paymentRequest,
		FeeLimitSat:    feeLimitSats,
		TimeoutSeconds: int32(timeout.Seconds()),
	})
	if err != nil {
		return nil, fmt.Errorf("lightning: send payment: %w", err)
	}

	for {
		update, err := stream.Recv()
		if err != nil {
			return nil, fmt.Errorf("lightning: payment stream: %w", err)
		}
		switch update.Status {
		case lnrpc.Payment_SUCCEEDED:
			var preimage [32]byte
			copy(preimage[:], mustDecodeHex(update.PaymentPreimage))
			return &PaymentOutcome{Succeeded: true, Preimage: preimage}, nil
		case lnrpc.Payment_FAILED:
			return &PaymentOutcome{Succeeded: false, FailureReason: update.FailureReason.String()}, nil
		}
	}
}

func mustDecodeHex(s string) []byte {
	b := make([]byte, len(s)/2)
	for i := range b {
		var v byte
		fmt.Sscanf(s[i*2:i*2+2], "%02x", &v)
		b[i] = v
	}
	return b
}

var _ Payer = (*LNDPayer)(nil)
