// Command intermediaryd is the swap intermediary's composition root: it
// loads the bootstrap configuration, dials every collaborator (Bitcoin
// full node, LND, and one chain adapter per configured smart chain), wires
// the four direction handlers against them, and runs each direction's
// event demultiplexer and watchdog loops until an interrupt signal asks
// for a graceful shutdown. Grounded on the teacher's main entrypoint
// structure (cmd/arcsign/main.go's mode-dispatch top level), generalized
// from a one-shot CLI invocation into a long-running daemon following the
// concurrency model that SPEC_FULL.md §1 carries over.
package main

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ethereum/go-ethereum/common"
	solanago "github.com/gagliardetto/solana-go"

	"github.com/btcswap/intermediary/internal/config"
	"github.com/btcswap/intermediary/pkg/bitcoinrpc"
	"github.com/btcswap/intermediary/pkg/chainadapter"
	"github.com/btcswap/intermediary/pkg/chainadapter/ethereum"
	"github.com/btcswap/intermediary/pkg/chainadapter/metrics"
	"github.com/btcswap/intermediary/pkg/chainadapter/rpc"
	"github.com/btcswap/intermediary/pkg/chainadapter/solana"
	"github.com/btcswap/intermediary/pkg/demux"
	"github.com/btcswap/intermediary/pkg/handler/frombtc"
	"github.com/btcswap/intermediary/pkg/handler/frombtcln"
	"github.com/btcswap/intermediary/pkg/handler/policy"
	"github.com/btcswap/intermediary/pkg/handler/tobtc"
	"github.com/btcswap/intermediary/pkg/handler/tobtcln"
	"github.com/btcswap/intermediary/pkg/lightning"
	"github.com/btcswap/intermediary/pkg/payout"
	"github.com/btcswap/intermediary/pkg/pricing"
	"github.com/btcswap/intermediary/pkg/relaysync"
	"github.com/btcswap/intermediary/pkg/swapstore"
	"github.com/btcswap/intermediary/pkg/walletkeys"
)

func main() {
	log, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "intermediaryd: logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	configPath := "intermediaryd.yaml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	if err := run(log, configPath); err != nil {
		log.Fatal("intermediaryd exited with error", zap.Error(err))
	}
}

func run(log *zap.Logger, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	network, err := networkParams(cfg.Bitcoin.Network)
	if err != nil {
		return err
	}

	btcHealth := rpc.NewSimpleHealthTracker()
	btcRPCClient, err := rpc.NewHTTPRPCClient([]string{cfg.Bitcoin.RPCEndpoint}, 30*time.Second, btcHealth)
	if err != nil {
		return fmt.Errorf("dial bitcoin rpc: %w", err)
	}
	bitcoinClient := bitcoinrpc.New(btcRPCClient)

	policyCfg, err := policy.FromConfig(cfg.Fees)
	if err != nil {
		return fmt.Errorf("parse fee policy: %w", err)
	}
	feeConfig, err := feeConfigFromPolicy(cfg.Fees)
	if err != nil {
		return fmt.Errorf("parse pricing bounds: %w", err)
	}

	oracle := &pricing.StaticOracle{
		SatsPerTokenPPB: map[string]int64{},
		NativeValuePPB:  map[string]int64{},
	}

	store, err := swapstore.NewFileStore(cfg.Storage.Directory)
	if err != nil {
		return fmt.Errorf("open swap store: %w", err)
	}

	btcSigner, payoutSigner, err := buildBitcoinSigning(cfg, network)
	if err != nil {
		return err
	}
	changeAddress := cfg.Intermediary.ChangeAddress
	if changeAddress == "" {
		changeAddress = btcSigner.GetAddress()
	}

	var lnClient *lightning.LNDClient
	var payer lightning.Payer
	var liquidity *lightning.ChannelLiquidity
	if cfg.Lightning.Host != "" {
		lnClient, err = lightning.Dial(cfg.Lightning.Host, cfg.Lightning.TLSCertPath, cfg.Lightning.MacaroonPath)
		if err != nil {
			return fmt.Errorf("dial lightning node: %w", err)
		}
		defer lnClient.Close()

		payer = lightning.NewLNDPayer(lnClient.Conn())
		liquidity = lightning.NewChannelLiquidity(lnClient.LightningClient())
		// An LND node's own wallet signs Bitcoin payouts when one is
		// configured, in preference to the standalone HD wallet.
		payoutSigner = lightning.NewPSBTSigner(lnClient.Conn())
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var wg sync.WaitGroup
	for chainID, chainCfg := range cfg.Chains {
		chainCfg := chainCfg
		wired, err := wireChain(chainID, chainCfg, bitcoinClient)
		if err != nil {
			return fmt.Errorf("wire chain %s: %s", chainID, err)
		}

		demuxInst := demux.New(log, wired.adapter)

		tobtcLimits := tobtc.Limits{
			MinConfirmations:   1,
			MaxConfirmations:   6,
			MaxConfirmTarget:   6,
			MaxOutputScriptLen: 64,
			ActiveChannels:     activeChannelCounter(ctx, liquidity),
		}
		tobtcHandler := tobtc.New(tobtc.Handler{
			Log:        log.With(zap.String("chain", chainID), zap.String("direction", "tobtc")),
			Adapter:    wired.adapter,
			Store:      store,
			Demux:      demuxInst,
			BitcoinRPC: bitcoinClient,
			PayoutEngine: &payout.Engine{
				RPC:     bitcoinClient,
				Signer:  payoutSigner,
				Network: network,
			},
			Oracle:       oracle,
			Vault:        wired.vault,
			Signer:       wired.signer,
			Synchronizer: wired.synchronizer,
			Policy:       policyCfg,
			Fees:         feeConfig,
			Limits:       tobtcLimits,
			ChangeType:   changeTypeFromConfig(cfg.Intermediary.ChangeType),
			ChangeAddr:   changeAddress,
			Network:      network,
		})

		var tobtclnHandler *tobtcln.Handler
		var frombtclnHandler *frombtcln.Handler
		if payer != nil && liquidity != nil && lnClient != nil {
			tobtclnHandler = &tobtcln.Handler{
				Log:     log.With(zap.String("chain", chainID), zap.String("direction", "tobtcln")),
				Adapter: wired.adapter,
				Store:   store,
				Demux:   demuxInst,
				Payer:   payer,
				Oracle:  oracle,
				Vault:   wired.vault,
				Signer:  wired.signer,
				Policy:  policyCfg,
				Fees:    feeConfig,
				Limits: tobtcln.Limits{
					MaxFeePPM:            30_000,
					MinFeeSats:           10,
					InvoiceDecodeTimeout: 5 * time.Second,
				},
			}

			frombtclnHandler = &frombtcln.Handler{
				Log:       log.With(zap.String("chain", chainID), zap.String("direction", "frombtcln")),
				Adapter:   wired.adapter,
				Store:     store,
				Demux:     demuxInst,
				Lightning: lnClient,
				Liquidity: liquidity,
				Vault:     wired.vault,
				Oracle:    oracle,
				Signer:    wired.signer,
				BlockTip:  bitcoinClient,
				Policy:    policyCfg,
				Fees:      feeConfig,
				Limits: frombtcln.Limits{
					MaxInvoiceExpiry: time.Hour,
					CltvDeltaMargin:  18,
				},
			}
		} else {
			log.Warn("lightning not configured, skipping tobtcln/frombtcln for chain", zap.String("chain", chainID))
		}

		frombtcHandler := &frombtc.Handler{
			Log:            log.With(zap.String("chain", chainID), zap.String("direction", "frombtc")),
			Adapter:        wired.adapter,
			Store:          store,
			Demux:          demuxInst,
			BitcoinRPC:     bitcoinClient,
			Vault:          wired.vault,
			Oracle:         oracle,
			Signer:         wired.signer,
			Synchronizer:   wired.synchronizer,
			Policy:         policyCfg,
			Fees:           feeConfig,
			Limits: frombtc.Limits{
				MinConfirmations: 1,
				MaxConfirmations: 6,
				QuoteExpiry:      time.Hour,
				PollInterval:     cfg.Watchdog.ProcessBtcTxsInterval,
			},
			DepositAddress: cfg.Intermediary.DepositAddress,
			Network:        network,
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := demuxInst.Run(ctx); err != nil && ctx.Err() == nil {
				log.Error("demux stopped", zap.String("chain", chainID), zap.Error(err))
			}
		}()

		runWatchdog(ctx, &wg, cfg.Watchdog.ProcessPastSwapsInterval, func() {
			tobtcHandler.ProcessPastSwaps(ctx)
			if tobtclnHandler != nil {
				tobtclnHandler.ProcessPastSwaps(ctx)
			}
			if frombtclnHandler != nil {
				frombtclnHandler.ProcessPastSwaps(ctx)
			}
			frombtcHandler.ProcessPastSwaps(ctx)
		})
		runWatchdog(ctx, &wg, cfg.Watchdog.ProcessBtcTxsInterval, func() {
			tobtcHandler.ProcessBtcTxs(ctx)
			frombtcHandler.ProcessBtcTxs(ctx)
		})

		log.Info("chain wired", zap.String("chain", chainID), zap.String("kind", chainCfg.Kind))
	}

	<-ctx.Done()
	log.Info("shutdown signal received, waiting for goroutines to drain")
	wg.Wait()
	return nil
}

// runWatchdog ticks fn on interval until ctx is cancelled. A non-positive
// interval disables the watchdog (treated as "not configured").
func runWatchdog(ctx context.Context, wg *sync.WaitGroup, interval time.Duration, fn func()) {
	if interval <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fn()
			}
		}
	}()
}

// activeChannelCounter adapts ChannelLiquidity's ctx-taking method to the
// func() int64 shape tobtc.Limits.ActiveChannels expects; a nil liquidity
// (no Lightning node configured) reports zero anchor-channel reserves.
func activeChannelCounter(ctx context.Context, liquidity *lightning.ChannelLiquidity) func() int64 {
	return func() int64 {
		if liquidity == nil {
			return 0
		}
		return liquidity.ActiveChannelCount(ctx)
	}
}

func networkParams(name string) (*chaincfg.Params, error) {
	switch name {
	case "mainnet":
		return &chaincfg.MainNetParams, nil
	case "testnet3":
		return &chaincfg.TestNet3Params, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	default:
		return nil, fmt.Errorf("intermediaryd: unknown bitcoin network %q", name)
	}
}

func changeTypeFromConfig(kind string) payout.ChangeType {
	if kind == "p2tr" {
		return payout.ChangeP2TR
	}
	return payout.ChangeP2WPKH
}

func feeConfigFromPolicy(c config.FeePolicyConfig) (pricing.FeeConfig, error) {
	baseFee, err := c.BaseFee()
	if err != nil {
		return pricing.FeeConfig{}, err
	}
	min, max, err := c.AmountBounds()
	if err != nil {
		return pricing.FeeConfig{}, err
	}
	return pricing.FeeConfig{
		BaseFee:   baseFee,
		FeePPM:    big.NewInt(c.FeePPM),
		MinAmount: min,
		MaxAmount: max,
	}, nil
}

// buildBitcoinSigning derives the intermediary's standalone HD Bitcoin key
// and its PSBT-signer bridge. The Lightning node's wallet, when configured,
// takes over payout signing instead (see run's lnClient branch); this is
// the fallback path §4.5 step 2 needs when no Lightning node backs a chain.
func buildBitcoinSigning(cfg *config.Config, network *chaincfg.Params) (*walletkeys.Signer, payout.Signer, error) {
	mnemonic := os.Getenv(cfg.Intermediary.MnemonicEnv)
	if mnemonic == "" {
		return nil, nil, fmt.Errorf("intermediaryd: environment variable %q is unset or empty", cfg.Intermediary.MnemonicEnv)
	}
	source, err := walletkeys.NewMnemonicKeySource(mnemonic, "", network)
	if err != nil {
		return nil, nil, fmt.Errorf("derive bitcoin key source: %w", err)
	}
	const payoutDerivationPath = "m/84'/0'/0'/0/0"
	btcSigner, err := walletkeys.NewSigner(source, payoutDerivationPath, network)
	if err != nil {
		return nil, nil, fmt.Errorf("derive bitcoin payout signer: %w", err)
	}
	return btcSigner, walletkeys.NewPSBTSigner(btcSigner), nil
}

// wiredChain bundles one configured chain's adapter-layer collaborators.
type wiredChain struct {
	adapter      chainadapter.ChainAdapter
	synchronizer chainadapter.RelaySynchronizer
	vault        *vaultAdapter
	signer       chainadapter.Signer
}

func wireChain(chainID string, cc config.ChainConfig, bitcoinClient *bitcoinrpc.Client) (*wiredChain, error) {
	health := rpc.NewSimpleHealthTracker()
	baseClient, err := rpc.NewHTTPRPCClient(cc.RPCEndpoints, 30*time.Second, health)
	if err != nil {
		return nil, fmt.Errorf("dial rpc endpoints: %w", err)
	}
	metricsRecorder := metrics.NewPrometheusMetrics()

	switch cc.Kind {
	case "evm":
		var extra struct {
			NetworkID int64 `yaml:"networkId"`
		}
		if err := cc.Extra.Decode(&extra); err != nil {
			return nil, fmt.Errorf("decode evm extra config: %w", err)
		}
		contract := common.HexToAddress(cc.IntermediaryAddress)
		adapter := ethereum.NewAdapter(chainID, extra.NetworkID, contract, baseClient, metricsRecorder)
		rpcHelper := ethereum.NewRPCHelper(rpc.NewMetricsRPCClient(baseClient, metricsRecorder))
		driver := ethereum.NewRelayDriver(chainID, extra.NetworkID, contract, rpcHelper)
		synchronizer := relaysync.New(driver, bitcoinClient)

		keyHex, err := os.ReadFile(cc.SignerKeyPath)
		if err != nil {
			return nil, fmt.Errorf("read evm signer key: %w", err)
		}
		signer, err := ethereum.NewEthereumSigner(string(keyHex), extra.NetworkID)
		if err != nil {
			return nil, fmt.Errorf("build evm signer: %w", err)
		}

		return &wiredChain{
			adapter:      adapter,
			synchronizer: synchronizer,
			vault:        &vaultAdapter{ethereumAdapter: adapter, intermediary: cc.IntermediaryAddress},
			signer:       signer,
		}, nil

	case "solana":
		var extra struct {
			ProgramID string `yaml:"programId"`
		}
		if err := cc.Extra.Decode(&extra); err != nil {
			return nil, fmt.Errorf("decode solana extra config: %w", err)
		}
		programID, err := solanago.PublicKeyFromBase58(extra.ProgramID)
		if err != nil {
			return nil, fmt.Errorf("parse solana program id: %w", err)
		}
		adapter := solana.NewAdapter(chainID, programID, baseClient, metricsRecorder)
		rpcHelper := solana.NewRPCHelper(rpc.NewMetricsRPCClient(baseClient, metricsRecorder))
		driver := solana.NewRelayDriver(chainID, programID, rpcHelper)
		synchronizer := relaysync.New(driver, bitcoinClient)

		keyBytes, err := os.ReadFile(cc.SignerKeyPath)
		if err != nil {
			return nil, fmt.Errorf("read solana signer key: %w", err)
		}
		signer, err := solana.NewSigner(string(keyBytes))
		if err != nil {
			return nil, fmt.Errorf("build solana signer: %w", err)
		}

		return &wiredChain{
			adapter:      adapter,
			synchronizer: synchronizer,
			vault:        &vaultAdapter{solanaAdapter: adapter, intermediary: cc.IntermediaryAddress},
			signer:       signer,
		}, nil

	default:
		return nil, fmt.Errorf("unknown chain kind %q", cc.Kind)
	}
}

// vaultAdapter satisfies each direction handler's VaultChecker/VaultBalance
// interfaces (ctx, chainID, token string) by delegating to whichever
// concrete chain adapter backs this chain and the intermediary address
// that chain was wired with; the handler-supplied chainID is the chain
// this vaultAdapter already belongs to and is accepted but not consulted.
type vaultAdapter struct {
	ethereumAdapter *ethereum.Adapter
	solanaAdapter   *solana.Adapter
	intermediary    string
}

func (v *vaultAdapter) IsVaultInitialized(ctx context.Context, chainID, token string) (bool, error) {
	if v.ethereumAdapter != nil {
		return v.ethereumAdapter.IsVaultInitialized(ctx, v.intermediary, token)
	}
	mint, err := solanago.PublicKeyFromBase58(token)
	if err != nil {
		return false, fmt.Errorf("vaultAdapter: invalid mint %q: %w", token, err)
	}
	intermediary, err := solanago.PublicKeyFromBase58(v.intermediary)
	if err != nil {
		return false, fmt.Errorf("vaultAdapter: invalid intermediary address %q: %w", v.intermediary, err)
	}
	return v.solanaAdapter.IsVaultInitialized(ctx, intermediary, mint)
}

func (v *vaultAdapter) AvailableBalance(ctx context.Context, chainID, token string) (*big.Int, error) {
	if v.ethereumAdapter != nil {
		return v.ethereumAdapter.AvailableBalance(ctx, v.intermediary, token)
	}
	mint, err := solanago.PublicKeyFromBase58(token)
	if err != nil {
		return nil, fmt.Errorf("vaultAdapter: invalid mint %q: %w", token, err)
	}
	balance, err := v.solanaAdapter.AvailableBalance(ctx, mint)
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetUint64(balance), nil
}
