package chain

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"OminisNode/internal/models"

	cerrors "cosmossdk.io/errors"
	"cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Contracts implements Ledger on top of a raw Client.
type Contracts struct {
	Client Client
	// BatchSize bounds each paginated pending-id read.
	BatchSize uint64
	// SettleOnVerify submits through verifyAndSettle and falls back to
	// submitVerificationResult when the ledger rejects it.
	SettleOnVerify bool
}

func NewContracts(client Client) *Contracts {
	return &Contracts{Client: client, BatchSize: 20, SettleOnVerify: true}
}

type rawOrder struct {
	Id          *big.Int
	Issuer      common.Address
	ProblemHash [32]byte
	ProblemType uint8
	TimeTier    uint8
	Status      uint8
	Reward      *big.Int
	CreatedAt   *big.Int
	Deadline    *big.Int
	Solver      common.Address
}

func (r rawOrder) record() OrderRecord {
	rec := OrderRecord{
		ID:          bigUint64(r.Id),
		Issuer:      r.Issuer.Hex(),
		ProblemHash: common.Hash(r.ProblemHash).Hex(),
		ProblemType: r.ProblemType,
		TimeTier:    r.TimeTier,
		Status:      r.Status,
		Reward:      bigInt(r.Reward),
		CreatedAt:   unixTime(r.CreatedAt),
		Deadline:    unixTime(r.Deadline),
	}
	if r.Solver != (common.Address{}) {
		rec.Solver = r.Solver.Hex()
	}
	return rec
}

type rawChallenge struct {
	Challenger    common.Address
	Stake         *big.Int
	Reason        string
	ChallengeTime *big.Int
	Resolved      bool
	ChallengerWon bool
}

func (c *Contracts) Identity() string {
	return c.Client.Identity()
}

func (c *Contracts) GetOrder(ctx context.Context, id uint64) (*OrderRecord, error) {
	out, err := c.Client.Read(ctx, "getOrder", new(big.Int).SetUint64(id))
	if err != nil {
		return nil, err
	}
	raw, err := single[rawOrder](out, "getOrder")
	if err != nil {
		return nil, err
	}
	if raw.Issuer == (common.Address{}) {
		return nil, cerrors.Wrapf(models.ErrUnknownOrder, "order %d", id)
	}
	rec := raw.record()
	return &rec, nil
}

func (c *Contracts) OpenOrders(ctx context.Context, offset, limit uint64) ([]OrderRecord, error) {
	out, err := c.Client.Read(ctx, "getOpenOrders", new(big.Int).SetUint64(offset), new(big.Int).SetUint64(limit))
	if err != nil {
		return nil, err
	}
	raws, err := single[[]rawOrder](out, "getOpenOrders")
	if err != nil {
		return nil, err
	}
	recs := make([]OrderRecord, 0, len(raws))
	for _, r := range raws {
		recs = append(recs, r.record())
	}
	return recs, nil
}

func (c *Contracts) OrderBot(ctx context.Context, id uint64) (string, error) {
	out, err := c.Client.Read(ctx, "getOrderBot", new(big.Int).SetUint64(id))
	if err != nil {
		return "", err
	}
	addr, err := single[common.Address](out, "getOrderBot")
	if err != nil {
		return "", err
	}
	if addr == (common.Address{}) {
		return "", nil
	}
	return addr.Hex(), nil
}

func (c *Contracts) PendingVerifications(ctx context.Context) ([]uint64, error) {
	return c.pendingIDs(ctx, "getPendingVerificationsCount", "getPendingVerifications")
}

func (c *Contracts) PendingChallenges(ctx context.Context) ([]uint64, error) {
	return c.pendingIDs(ctx, "getPendingChallengesCount", "getPendingChallenges")
}

func (c *Contracts) pendingIDs(ctx context.Context, countMethod, pageMethod string) ([]uint64, error) {
	out, err := c.Client.Read(ctx, countMethod)
	if err != nil {
		return nil, err
	}
	countBig, err := single[*big.Int](out, countMethod)
	if err != nil {
		return nil, err
	}
	count := bigUint64(countBig)
	batch := c.BatchSize
	if batch == 0 {
		batch = 20
	}
	ids := make([]uint64, 0, count)
	for offset := uint64(0); offset < count; offset += batch {
		out, err := c.Client.Read(ctx, pageMethod, new(big.Int).SetUint64(offset), new(big.Int).SetUint64(batch))
		if err != nil {
			return nil, err
		}
		page, err := single[[]*big.Int](out, pageMethod)
		if err != nil {
			return nil, err
		}
		for _, id := range page {
			ids = append(ids, bigUint64(id))
		}
	}
	return ids, nil
}

func (c *Contracts) VerificationRequest(ctx context.Context, id uint64) (*VerificationRequest, error) {
	out, err := c.Client.Read(ctx, "getVerificationRequest", new(big.Int).SetUint64(id))
	if err != nil {
		return nil, err
	}
	if len(out) != 6 {
		return nil, fmt.Errorf("getVerificationRequest: want 6 values, got %d", len(out))
	}
	req := &VerificationRequest{OrderID: id}
	if req.Solution, err = convert[string](out[0]); err != nil {
		return nil, err
	}
	if req.ProblemType, err = convert[uint8](out[1]); err != nil {
		return nil, err
	}
	reqTime, err := convert[*big.Int](out[2])
	if err != nil {
		return nil, err
	}
	req.RequestTime = unixTime(reqTime)
	if req.IsProcessed, err = convert[bool](out[3]); err != nil {
		return nil, err
	}
	if req.IsCorrect, err = convert[bool](out[4]); err != nil {
		return nil, err
	}
	if req.Reason, err = convert[string](out[5]); err != nil {
		return nil, err
	}
	return req, nil
}

func (c *Contracts) Challenge(ctx context.Context, id uint64) (*ChallengeRecord, error) {
	out, err := c.Client.Read(ctx, "getChallenge", new(big.Int).SetUint64(id))
	if err != nil {
		return nil, err
	}
	raw, err := single[rawChallenge](out, "getChallenge")
	if err != nil {
		return nil, err
	}
	if raw.Challenger == (common.Address{}) {
		return nil, cerrors.Wrapf(models.ErrNotFound, "challenge for order %d", id)
	}
	return &ChallengeRecord{
		OrderID:       id,
		Challenger:    raw.Challenger.Hex(),
		Stake:         bigInt(raw.Stake),
		Reason:        raw.Reason,
		ChallengeTime: unixTime(raw.ChallengeTime),
		Resolved:      raw.Resolved,
		ChallengerWon: raw.ChallengerWon,
	}, nil
}

func (c *Contracts) AcceptOrder(ctx context.Context, id uint64) (*Receipt, error) {
	return c.Client.Call(ctx, "acceptOrder", new(big.Int).SetUint64(id))
}

func (c *Contracts) CommitSolution(ctx context.Context, id uint64, commitHash [32]byte) (*Receipt, error) {
	return c.Client.Call(ctx, "commitSolution", new(big.Int).SetUint64(id), commitHash)
}

func (c *Contracts) RevealSolution(ctx context.Context, id uint64, solution string, salt [32]byte) (*Receipt, error) {
	return c.Client.Call(ctx, "revealSolution", new(big.Int).SetUint64(id), solution, salt)
}

func (c *Contracts) SubmitVerification(ctx context.Context, id uint64, isCorrect bool, reason string) (*Receipt, error) {
	orderID := new(big.Int).SetUint64(id)
	if c.SettleOnVerify {
		rcpt, err := c.Client.Call(ctx, "verifyAndSettle", orderID, isCorrect, reason)
		if err == nil || !models.IsPrecondition(err) {
			return rcpt, err
		}
	}
	return c.Client.Call(ctx, "submitVerificationResult", orderID, isCorrect, reason)
}

func (c *Contracts) ResolveChallenge(ctx context.Context, id uint64, challengerWon bool) (*Receipt, error) {
	return c.Client.Call(ctx, "resolveChallenge", new(big.Int).SetUint64(id), challengerWon)
}

func single[T any](out []interface{}, method string) (T, error) {
	var zero T
	if len(out) != 1 {
		return zero, fmt.Errorf("%s: want 1 value, got %d", method, len(out))
	}
	return convert[T](out[0])
}

// convert maps an abi-decoded value onto T, turning the converter's panics into errors.
func convert[T any](in interface{}) (out T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("convert %T to %T: %v", in, out, r)
		}
	}()
	if in == nil {
		return out, fmt.Errorf("convert nil to %T", out)
	}
	if v, ok := in.(T); ok {
		return v, nil
	}
	return *abi.ConvertType(in, new(T)).(*T), nil
}

func bigUint64(v *big.Int) uint64 {
	if v == nil || !v.IsUint64() {
		return 0
	}
	return v.Uint64()
}

func bigInt(v *big.Int) math.Int {
	if v == nil {
		return math.ZeroInt()
	}
	return math.NewIntFromBigInt(v)
}

func unixTime(v *big.Int) time.Time {
	if v == nil || v.Sign() == 0 {
		return time.Time{}
	}
	return time.Unix(v.Int64(), 0).UTC()
}
