package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"OminisNode/internal/models"

	"cosmossdk.io/errors"
	"cosmossdk.io/math"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

type EVMConfig struct {
	Endpoint       string
	ChainID        int64
	Core           string
	OrderBook      string
	Verifier       string
	Key            *ecdsa.PrivateKey
	ReceiptTimeout time.Duration
	GasLimit       uint64
}

type contract struct {
	name    string
	address common.Address
	abi     abi.ABI
	bound   *bind.BoundContract
}

// EVM talks to the protocol contracts over a JSON-RPC endpoint. It serves as
// EventSource, Client and, over a websocket endpoint, as a log Streamer.
type EVM struct {
	endpoint       string
	client         *ethclient.Client
	contracts      map[string]*contract
	key            *ecdsa.PrivateKey
	from           common.Address
	chainID        *big.Int
	receiptTimeout time.Duration
	gasLimit       uint64

	mu         sync.Mutex
	blockTimes map[uint64]time.Time
}

func DialEVM(ctx context.Context, cfg EVMConfig) (*EVM, error) {
	client, err := ethclient.DialContext(ctx, cfg.Endpoint)
	if err != nil {
		return nil, errors.Wrapf(models.ErrTransientLedger, "dial %s: %v", cfg.Endpoint, err)
	}
	e, err := newEVM(client, cfg)
	if err != nil {
		client.Close()
		return nil, err
	}
	if cfg.ChainID > 0 {
		e.chainID = big.NewInt(cfg.ChainID)
	} else if e.key != nil {
		id, err := client.ChainID(ctx)
		if err != nil {
			client.Close()
			return nil, errors.Wrapf(models.ErrTransientLedger, "chain id: %v", err)
		}
		e.chainID = id
	}
	return e, nil
}

func newEVM(client *ethclient.Client, cfg EVMConfig) (*EVM, error) {
	e := &EVM{
		endpoint:       cfg.Endpoint,
		client:         client,
		contracts:      map[string]*contract{},
		key:            cfg.Key,
		receiptTimeout: cfg.ReceiptTimeout,
		gasLimit:       cfg.GasLimit,
		blockTimes:     map[uint64]time.Time{},
	}
	if e.receiptTimeout <= 0 {
		e.receiptTimeout = 2 * time.Minute
	}
	if cfg.Key != nil {
		e.from = crypto.PubkeyToAddress(cfg.Key.PublicKey)
	}
	for name, def := range map[string]struct{ addr, abi string }{
		contractCore:      {cfg.Core, coreABI},
		contractOrderBook: {cfg.OrderBook, orderBookABI},
		contractVerifier:  {cfg.Verifier, verifierABI},
	} {
		c, err := newContract(name, def.addr, def.abi, client)
		if err != nil {
			return nil, err
		}
		if c != nil {
			e.contracts[name] = c
		}
	}
	if len(e.contracts) == 0 {
		return nil, fmt.Errorf("no contract addresses configured")
	}
	return e, nil
}

func newContract(name, addr, abiJSON string, backend bind.ContractBackend) (*contract, error) {
	if strings.TrimSpace(addr) == "" {
		return nil, nil
	}
	if !common.IsHexAddress(addr) {
		return nil, fmt.Errorf("%s address %q is not a hex address", name, addr)
	}
	parsed, err := abi.JSON(strings.NewReader(abiJSON))
	if err != nil {
		return nil, fmt.Errorf("parse %s abi: %w", name, err)
	}
	address := common.HexToAddress(addr)
	c := &contract{name: name, address: address, abi: parsed}
	if backend != nil {
		c.bound = bind.NewBoundContract(address, parsed, backend, backend, backend)
	}
	return c, nil
}

func (e *EVM) Close() {
	e.client.Close()
}

func (e *EVM) Endpoint() string {
	return e.endpoint
}

// Identity is the signing address, empty for a read-only adapter.
func (e *EVM) Identity() string {
	if e.key == nil {
		return ""
	}
	return e.from.Hex()
}

func (e *EVM) CurrentHeight(ctx context.Context) (uint64, error) {
	h, err := e.client.BlockNumber(ctx)
	if err != nil {
		return 0, errors.Wrapf(models.ErrTransientLedger, "block number: %v", err)
	}
	return h, nil
}

func (e *EVM) EventsInRange(ctx context.Context, kind EventKind, from, to uint64) ([]Event, error) {
	def, ok := eventDefs[kind]
	if !ok {
		return nil, nil
	}
	c, ok := e.contracts[def.contract]
	if !ok {
		return nil, nil
	}
	ev, ok := c.abi.Events[string(kind)]
	if !ok {
		return nil, nil
	}
	q := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{c.address},
		Topics:    [][]common.Hash{{ev.ID}},
	}
	logs, err := e.client.FilterLogs(ctx, q)
	if err != nil {
		return nil, errors.Wrapf(models.ErrTransientLedger, "filter %s %d..%d: %v", kind, from, to, err)
	}
	out := make([]Event, 0, len(logs))
	for _, lg := range logs {
		if lg.Removed {
			continue
		}
		decoded, err := decodeLog(kind, c.abi, lg)
		if err != nil {
			return nil, err
		}
		decoded.BlockTime, err = e.blockTime(ctx, lg.BlockNumber)
		if err != nil {
			return nil, err
		}
		out = append(out, decoded)
	}
	return out, nil
}

func (e *EVM) blockTime(ctx context.Context, height uint64) (time.Time, error) {
	e.mu.Lock()
	t, ok := e.blockTimes[height]
	e.mu.Unlock()
	if ok {
		return t, nil
	}
	header, err := e.client.HeaderByNumber(ctx, new(big.Int).SetUint64(height))
	if err != nil {
		return time.Time{}, errors.Wrapf(models.ErrTransientLedger, "header %d: %v", height, err)
	}
	t = time.Unix(int64(header.Time), 0).UTC()
	e.mu.Lock()
	if len(e.blockTimes) > 4096 {
		e.blockTimes = map[uint64]time.Time{}
	}
	e.blockTimes[height] = t
	e.mu.Unlock()
	return t, nil
}

func (e *EVM) method(name string) (*contract, error) {
	cname, ok := methodContracts[name]
	if !ok {
		return nil, fmt.Errorf("unknown contract method %q", name)
	}
	c, ok := e.contracts[cname]
	if !ok {
		return nil, fmt.Errorf("%s contract is not configured for %q", cname, name)
	}
	return c, nil
}

func (e *EVM) Read(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	c, err := e.method(method)
	if err != nil {
		return nil, err
	}
	var out []interface{}
	if err := c.bound.Call(&bind.CallOpts{Context: ctx}, &out, method, args...); err != nil {
		return nil, classifyCallError(method, err)
	}
	return out, nil
}

// Call signs and sends a transaction, then waits a bounded time for it to be
// mined. A timed-out wait yields ErrAmbiguousReceipt with the tx hash set.
func (e *EVM) Call(ctx context.Context, method string, args ...interface{}) (*Receipt, error) {
	c, err := e.method(method)
	if err != nil {
		return nil, err
	}
	if e.key == nil {
		return nil, errors.Wrapf(models.ErrPrecondition, "no signing key configured for %s", method)
	}
	opts, err := bind.NewKeyedTransactorWithChainID(e.key, e.chainID)
	if err != nil {
		return nil, err
	}
	opts.Context = ctx
	opts.GasLimit = e.gasLimit

	tx, err := c.bound.Transact(opts, method, args...)
	if err != nil {
		return nil, classifyCallError(method, err)
	}
	rcpt := &Receipt{TxHash: tx.Hash().Hex()}

	waitCtx, cancel := context.WithTimeout(ctx, e.receiptTimeout)
	defer cancel()
	mined, err := bind.WaitMined(waitCtx, e.client, tx)
	if err != nil {
		return rcpt, errors.Wrapf(models.ErrAmbiguousReceipt, "%s tx %s: %v", method, rcpt.TxHash, err)
	}
	rcpt.Success = mined.Status == types.ReceiptStatusSuccessful
	if mined.BlockNumber != nil {
		rcpt.BlockNumber = mined.BlockNumber.Uint64()
	}
	return rcpt, nil
}

// classifyCallError separates ledger rejections from transport failures.
func classifyCallError(method string, err error) error {
	msg := err.Error()
	if strings.Contains(msg, "revert") {
		return errors.Wrapf(models.ErrPrecondition, "%s rejected by ledger: %s", method, msg)
	}
	return errors.Wrapf(models.ErrTransientLedger, "%s: %s", method, msg)
}

func decodeLog(kind EventKind, contractABI abi.ABI, lg types.Log) (Event, error) {
	ev, ok := contractABI.Events[string(kind)]
	if !ok {
		return Event{}, fmt.Errorf("event %s not in abi", kind)
	}
	if len(lg.Topics) == 0 || lg.Topics[0] != ev.ID {
		return Event{}, fmt.Errorf("log %s#%d is not %s", lg.TxHash.Hex(), lg.Index, kind)
	}
	values := map[string]interface{}{}
	if err := contractABI.UnpackIntoMap(values, ev.Name, lg.Data); err != nil {
		return Event{}, fmt.Errorf("unpack %s data: %w", kind, err)
	}
	var indexed abi.Arguments
	for _, arg := range ev.Inputs {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	if err := abi.ParseTopicsIntoMap(values, indexed, lg.Topics[1:]); err != nil {
		return Event{}, fmt.Errorf("unpack %s topics: %w", kind, err)
	}

	out := Event{
		Kind:     kind,
		Amount:   math.ZeroInt(),
		Height:   lg.BlockNumber,
		LogIndex: lg.Index,
		TxHash:   lg.TxHash.Hex(),
	}
	id, ok := values["orderId"].(*big.Int)
	if !ok || !id.IsUint64() {
		return Event{}, fmt.Errorf("%s log %s has no usable orderId", kind, lg.TxHash.Hex())
	}
	out.OrderID = id.Uint64()

	f := eventDefs[kind].fields
	if a, ok := values[f.Account].(common.Address); ok {
		out.Account = a.Hex()
	}
	if b, ok := values[f.Amount].(*big.Int); ok {
		out.Amount = math.NewIntFromBigInt(b)
	}
	if h, ok := values[f.Hash].([32]byte); ok {
		out.Hash = common.Hash(h).Hex()
	}
	if s, ok := values[f.Text].(string); ok {
		out.Text = s
	}
	if b, ok := values[f.Flag].(bool); ok {
		out.Flag = b
	}
	if v, ok := values[f.ProblemType].(uint8); ok {
		out.ProblemType = v
	}
	if v, ok := values[f.TimeTier].(uint8); ok {
		out.TimeTier = v
	}
	return out, nil
}
