package ledger

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	id "certledger/pkg/domain"
)

// registryABI is the subset of the certificate registry contract we call.
const registryABI = `[
  {"type":"function","name":"issueCertificate","stateMutability":"nonpayable",
   "inputs":[{"name":"certificateId","type":"string"},{"name":"ipfsHash","type":"string"},{"name":"studentWallet","type":"address"}],
   "outputs":[]},
  {"type":"function","name":"revokeCertificate","stateMutability":"nonpayable",
   "inputs":[{"name":"certificateId","type":"string"}],
   "outputs":[]},
  {"type":"function","name":"getCertificate","stateMutability":"view",
   "inputs":[{"name":"certificateId","type":"string"}],
   "outputs":[{"name":"ipfsHash","type":"string"},{"name":"studentWallet","type":"address"},{"name":"revoked","type":"bool"},{"name":"issuedAt","type":"uint256"}]}
]`

// EthereumConfig configures the contract client.
type EthereumConfig struct {
	RPCURL          string
	ContractAddress string
	PrivateKey      string
	ChainID         int64
	ReceiptTimeout  time.Duration
}

// Ethereum talks to the registry contract over JSON-RPC.
type Ethereum struct {
	client         *ethclient.Client
	contract       *bind.BoundContract
	signer         *bind.TransactOpts
	receiptTimeout time.Duration
	logger         *slog.Logger

	// sendMu serializes submissions so concurrent writes do not race on the
	// account nonce. Receipts are awaited outside the lock.
	sendMu sync.Mutex
}

// NewEthereum dials the RPC endpoint and binds the registry contract.
func NewEthereum(ctx context.Context, cfg EthereumConfig, logger *slog.Logger) (*Ethereum, error) {
	if !common.IsHexAddress(cfg.ContractAddress) {
		return nil, fmt.Errorf("invalid contract address %q", cfg.ContractAddress)
	}
	parsed, err := abi.JSON(strings.NewReader(registryABI))
	if err != nil {
		return nil, fmt.Errorf("parse registry abi: %w", err)
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse ledger private key: %w", err)
	}
	signer, err := bind.NewKeyedTransactorWithChainID(key, big.NewInt(cfg.ChainID))
	if err != nil {
		return nil, fmt.Errorf("build transactor: %w", err)
	}
	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial ledger rpc: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	receiptTimeout := cfg.ReceiptTimeout
	if receiptTimeout <= 0 {
		receiptTimeout = 2 * time.Minute
	}

	address := common.HexToAddress(cfg.ContractAddress)
	logger.Info("ledger client bound",
		"contract", address.Hex(),
		"signer", signerAddress(key).Hex(),
		"chain_id", cfg.ChainID,
	)
	return &Ethereum{
		client:         client,
		contract:       bind.NewBoundContract(address, parsed, client, client, client),
		signer:         signer,
		receiptTimeout: receiptTimeout,
		logger:         logger,
	}, nil
}

func (e *Ethereum) Issue(ctx context.Context, certID id.CertificateID, contentHash, wallet string) (*Receipt, error) {
	if !common.IsHexAddress(wallet) {
		return nil, NewError(KindPermanent, "issue", fmt.Sprintf("invalid wallet address %q", wallet), nil)
	}
	return e.transact(ctx, "issue", "issueCertificate", certID.String(), contentHash, common.HexToAddress(wallet))
}

func (e *Ethereum) Revoke(ctx context.Context, certID id.CertificateID) (*Receipt, error) {
	return e.transact(ctx, "revoke", "revokeCertificate", certID.String())
}

func (e *Ethereum) GetRecord(ctx context.Context, certID id.CertificateID) (*Record, error) {
	var out []any
	err := e.contract.Call(&bind.CallOpts{Context: ctx}, &out, "getCertificate", certID.String())
	if err != nil {
		if isMissingRecord(err) {
			return nil, ErrRecordNotFound
		}
		return nil, classify("get", err)
	}
	if len(out) != 4 {
		return nil, NewError(KindPermanent, "get", fmt.Sprintf("unexpected output arity %d", len(out)), nil)
	}
	hash, _ := out[0].(string)
	wallet, _ := out[1].(common.Address)
	revoked, _ := out[2].(bool)
	issuedAt, _ := out[3].(*big.Int)
	if hash == "" {
		return nil, ErrRecordNotFound
	}
	rec := &Record{
		ContentHash:   hash,
		WalletAddress: wallet.Hex(),
		Revoked:       revoked,
	}
	if issuedAt != nil {
		rec.IssuedAt = time.Unix(issuedAt.Int64(), 0).UTC()
	}
	return rec, nil
}

// Close releases the RPC connection.
func (e *Ethereum) Close() {
	e.client.Close()
}

func (e *Ethereum) transact(ctx context.Context, op, method string, params ...any) (*Receipt, error) {
	tx, err := e.send(ctx, method, params...)
	if err != nil {
		return nil, classify(op, err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, e.receiptTimeout)
	defer cancel()
	receipt, err := bind.WaitMined(waitCtx, e.client, tx)
	if err != nil {
		// The transaction may still land; a retry reads the ledger first.
		return nil, NewError(KindTransient, op, "receipt not observed for "+tx.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, NewError(KindPermanent, op, "transaction reverted: "+tx.Hash().Hex(), nil)
	}
	return &Receipt{Reference: id.TxReference(tx.Hash().Hex()), Confirmed: true}, nil
}

func (e *Ethereum) send(ctx context.Context, method string, params ...any) (*types.Transaction, error) {
	e.sendMu.Lock()
	defer e.sendMu.Unlock()

	opts := *e.signer
	opts.Context = ctx
	return e.contract.Transact(&opts, method, params...)
}

func signerAddress(key *ecdsa.PrivateKey) common.Address {
	return crypto.PubkeyToAddress(key.PublicKey)
}

func isMissingRecord(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "execution reverted") &&
		(strings.Contains(msg, "not exist") || strings.Contains(msg, "not found"))
}

// classify maps RPC and contract errors onto the two kinds.
func classify(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return NewError(KindTransient, op, "timed out", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return NewError(KindTransient, op, "node unreachable", err)
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "execution reverted"):
		return NewError(KindPermanent, op, "contract rejected call", err)
	case strings.Contains(msg, "insufficient funds"):
		return NewError(KindPermanent, op, "signer has insufficient funds", err)
	case strings.Contains(msg, "invalid sender"), strings.Contains(msg, "invalid chain id"):
		return NewError(KindPermanent, op, "signer rejected", err)
	default:
		// nonce races, underpriced replacements, rate limits and unknown
		// transport errors
		return NewError(KindTransient, op, "call failed", err)
	}
}
