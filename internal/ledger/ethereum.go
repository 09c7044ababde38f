package ledger

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"

	"scrubapi/internal/config"
	"scrubapi/internal/hasher"
)

// registryABI describes the single method of the provenance registry contract.
const registryABI = `[{"type":"function","name":"storeFile","stateMutability":"nonpayable",
"inputs":[{"name":"fileHash","type":"string"},{"name":"ipfsHash","type":"string"},{"name":"metadata","type":"string"}],
"outputs":[]}]`

// chainBackend is the subset of *ethclient.Client the anchorer needs.
type chainBackend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	Close()
}

// Ethereum anchors fingerprints by calling storeFile on an EVM contract.
type Ethereum struct {
	rpcURL   string
	key      *ecdsa.PrivateKey
	keyErr   error
	from     common.Address
	contract common.Address
	abi      abi.ABI
	timeout  time.Duration
	poll     time.Duration
	log      zerolog.Logger
	now      func() time.Time
	dial     func(ctx context.Context, url string) (chainBackend, error)
}

// NewEthereum validates the contract address. A missing or malformed private
// key is not fatal here; every Anchor then fails with CodeCredentialMissing.
func NewEthereum(cfg config.LedgerConfig, log zerolog.Logger) (*Ethereum, error) {
	if !common.IsHexAddress(cfg.ContractAddress) {
		return nil, fmt.Errorf("ledger: invalid contract address %q", cfg.ContractAddress)
	}
	parsed, err := abi.JSON(strings.NewReader(registryABI))
	if err != nil {
		return nil, fmt.Errorf("ledger: parse abi: %w", err)
	}

	e := &Ethereum{
		rpcURL:   cfg.RPCURL,
		contract: common.HexToAddress(cfg.ContractAddress),
		abi:      parsed,
		timeout:  cfg.Timeout,
		poll:     cfg.ReceiptPoll,
		log:      log,
		now:      time.Now,
		dial: func(ctx context.Context, url string) (chainBackend, error) {
			c, err := ethclient.DialContext(ctx, url)
			if err != nil {
				return nil, err
			}
			return c, nil
		},
	}
	if e.timeout <= 0 {
		e.timeout = time.Minute
	}
	if e.poll <= 0 {
		e.poll = 2 * time.Second
	}

	switch {
	case cfg.PrivateKey == "":
		e.keyErr = errors.New("LEDGER_PRIVATE_KEY is not set")
	default:
		key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
		if err != nil {
			e.keyErr = fmt.Errorf("parse private key: %w", err)
			break
		}
		e.key = key
		e.from = crypto.PubkeyToAddress(key.PublicKey)
	}
	if e.keyErr != nil {
		log.Warn().Err(e.keyErr).Msg("live ledger has no usable signing key, anchors will fail")
	}
	return e, nil
}

func (e *Ethereum) Mode() Mode { return ModeLive }

// Anchor submits one storeFile transaction and waits for it to be mined.
func (e *Ethereum) Anchor(ctx context.Context, fp hasher.Fingerprint, contentID string, d Descriptor) (*Receipt, error) {
	if e.keyErr != nil {
		return nil, newError(CodeCredentialMissing, e.keyErr)
	}
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	client, err := e.dial(ctx, e.rpcURL)
	if err != nil {
		return nil, newError(CodeUnreachable, fmt.Errorf("dial rpc: %w", err))
	}
	defer client.Close()

	chainID, err := client.ChainID(ctx)
	if err != nil {
		return nil, newError(CodeUnreachable, fmt.Errorf("chain id: %w", err))
	}

	meta, err := json.Marshal(d)
	if err != nil {
		return nil, newError(CodeSubmissionRejected, err)
	}
	data, err := e.abi.Pack("storeFile", fp.String(), contentID, string(meta))
	if err != nil {
		return nil, newError(CodeSubmissionRejected, fmt.Errorf("pack call: %w", err))
	}

	nonce, err := client.PendingNonceAt(ctx, e.from)
	if err != nil {
		return nil, newError(CodeUnreachable, fmt.Errorf("nonce: %w", err))
	}
	gasPrice, err := client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, newError(CodeUnreachable, fmt.Errorf("gas price: %w", err))
	}
	gas, err := client.EstimateGas(ctx, ethereum.CallMsg{
		From:     e.from,
		To:       &e.contract,
		GasPrice: gasPrice,
		Data:     data,
	})
	if err != nil {
		return nil, classify(fmt.Errorf("estimate gas: %w", err))
	}

	balance, err := client.BalanceAt(ctx, e.from, nil)
	if err != nil {
		return nil, newError(CodeUnreachable, fmt.Errorf("balance: %w", err))
	}
	cost := new(big.Int).Mul(gasPrice, new(big.Int).SetUint64(gas))
	if balance.Cmp(cost) < 0 {
		return nil, newError(CodeInsufficientBalance, fmt.Errorf("balance %s wei below estimated cost %s wei", balance, cost))
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gas,
		To:       &e.contract,
		Value:    big.NewInt(0),
		Data:     data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), e.key)
	if err != nil {
		return nil, newError(CodeSubmissionRejected, fmt.Errorf("sign: %w", err))
	}
	if err := client.SendTransaction(ctx, signed); err != nil {
		return nil, classify(fmt.Errorf("send: %w", err))
	}
	e.log.Info().Str("tx", signed.Hash().Hex()).Uint64("nonce", nonce).Msg("anchor submitted")

	receipt, err := e.waitMined(ctx, client, signed.Hash())
	if err != nil {
		return nil, err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, newError(CodeSubmissionRejected, fmt.Errorf("transaction %s reverted", signed.Hash().Hex()))
	}

	r := &Receipt{
		TransactionID: signed.Hash().Hex(),
		Mode:          ModeLive,
		ChainID:       chainID.Uint64(),
		GasUsed:       receipt.GasUsed,
		AnchoredAt:    e.now().UTC(),
	}
	if receipt.BlockNumber != nil {
		r.BlockNumber = receipt.BlockNumber.Uint64()
	}
	return r, nil
}

func (e *Ethereum) waitMined(ctx context.Context, client chainBackend, hash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(e.poll)
	defer ticker.Stop()
	for {
		receipt, err := client.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			e.log.Debug().Err(err).Str("tx", hash.Hex()).Msg("receipt lookup failed, retrying")
		}
		select {
		case <-ctx.Done():
			return nil, newError(CodeUnreachable, fmt.Errorf("waiting for %s: %w", hash.Hex(), ctx.Err()))
		case <-ticker.C:
		}
	}
}

func classify(err error) *Error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "insufficient funds"):
		return newError(CodeInsufficientBalance, err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return newError(CodeUnreachable, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return newError(CodeUnreachable, err)
	}
	return newError(CodeSubmissionRejected, err)
}
