package settlementd

import (
	"fmt"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/web5lab/payout-ai/config"
	"github.com/web5lab/payout-ai/core/events"
	"github.com/web5lab/payout-ai/native/common"
	"github.com/web5lab/payout-ai/native/escrow"
	"github.com/web5lab/payout-ai/native/invest"
	"github.com/web5lab/payout-ai/native/offering"
	"github.com/web5lab/payout-ai/native/oracle"
	"github.com/web5lab/payout-ai/native/payout"
	"github.com/web5lab/payout-ai/storage"
)

// NodeParams carries everything needed to wire the settlement pipeline.
type NodeParams struct {
	DB             storage.Database
	Emitter        events.Emitter
	ChainID        uint64
	Admin          [20]byte
	Vault          [20]byte
	Treasury       [20]byte
	Pool           [20]byte
	SaleTreasury   [20]byte
	PrincipalAsset string
	PayoutRateBps  uint64
	PenaltyBps     uint64
	PayoutPeriod   uint64
	MaturityDelay  int64
	MaxQuoteAge    time.Duration
}

// Node bundles the four settlement engines over a shared state backend with
// all cross-engine authority wired: the investment manager is the only
// entrance to the offering engine, the offering engine is the only caller of
// escrow deposits and payout registration.
type Node struct {
	State     *storage.State
	Authority *common.Authority
	Escrow    *escrow.Engine
	Offerings *offering.Engine
	Payouts   *payout.Engine
	Manager   *invest.Manager
	Oracle    *oracle.Manual

	offeringAddr [20]byte
	investAddr   [20]byte
}

// moduleAddress derives a deterministic account address for an internal
// module from its name.
func moduleAddress(name string) [20]byte {
	var out [20]byte
	digest := ethcrypto.Keccak256([]byte("payout-ai/module/" + name))
	copy(out[:], digest[12:])
	return out
}

// cancelFanout flips the global escrow refund switch and records the
// per-offering refund signal when a round is cancelled.
type cancelFanout struct {
	manager    *invest.Manager
	custody    *escrow.Engine
	moduleAddr [20]byte
}

func (c cancelFanout) SignalRefunds(caller [20]byte, offeringID [32]byte) error {
	if err := c.manager.SignalRefunds(caller, offeringID); err != nil {
		return err
	}
	return c.custody.EnableRefunds(c.moduleAddr)
}

// NewNode wires the engines over the supplied database.
func NewNode(params NodeParams) (*Node, error) {
	if params.DB == nil {
		return nil, fmt.Errorf("settlementd: database required")
	}
	emitter := params.Emitter
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}

	state := storage.NewState(params.DB)
	authority := common.NewAuthority()
	offeringAddr := moduleAddress("offering")
	investAddr := moduleAddress("invest")

	authority.Grant(common.RoleAdmin, params.Admin)
	// The manager settles refunds through escrow and the offering module
	// flips the refund switch on cancellation; both run under admin
	// capability.
	authority.Grant(common.RoleAdmin, investAddr)
	authority.Grant(common.RoleAdmin, offeringAddr)
	authority.Grant(common.RoleRouter, investAddr)

	escrowEngine := escrow.NewEngine()
	escrowEngine.SetState(state)
	escrowEngine.SetAuthority(authority)
	escrowEngine.SetVault(params.Vault)
	escrowEngine.SetEmitter(emitter)

	payoutEngine := payout.NewEngine(params.PayoutRateBps, params.PenaltyBps)
	payoutEngine.SetState(state)
	payoutEngine.SetRegistrar(offeringAddr)
	payoutEngine.SetPool(params.Pool)
	payoutEngine.SetTreasury(params.Treasury)
	payoutEngine.SetPrincipalAsset(params.PrincipalAsset)
	payoutEngine.SetEmitter(emitter)

	manager := invest.NewManager(params.ChainID)
	manager.SetState(state)
	manager.SetAuthority(authority)
	manager.SetCustody(escrowEngine)
	manager.SetAddress(investAddr)
	manager.SetOfferingModule(offeringAddr)
	manager.SetEmitter(emitter)

	offeringEngine := offering.NewEngine()
	offeringEngine.SetState(state)
	offeringEngine.SetAuthority(authority)
	offeringEngine.SetCustody(escrowEngine)
	offeringEngine.SetPayouts(payoutEngine)
	offeringEngine.SetRefundSignaler(cancelFanout{
		manager:    manager,
		custody:    escrowEngine,
		moduleAddr: offeringAddr,
	})
	offeringEngine.SetModuleAddress(offeringAddr)
	offeringEngine.SetRouter(investAddr)
	offeringEngine.SetSaleTreasury(params.SaleTreasury)
	offeringEngine.SetPayoutTerms(params.PayoutPeriod, params.MaturityDelay)
	offeringEngine.SetMaxQuoteAge(params.MaxQuoteAge)
	offeringEngine.SetEmitter(emitter)

	manager.SetOfferings(offeringEngine)

	return &Node{
		State:        state,
		Authority:    authority,
		Escrow:       escrowEngine,
		Offerings:    offeringEngine,
		Payouts:      payoutEngine,
		Manager:      manager,
		Oracle:       oracle.NewManual(),
		offeringAddr: offeringAddr,
		investAddr:   investAddr,
	}, nil
}

// OfferingModule returns the module address the offering engine acts under.
func (n *Node) OfferingModule() [20]byte { return n.offeringAddr }

// InvestModule returns the module address the investment manager acts under.
func (n *Node) InvestModule() [20]byte { return n.investAddr }

// CreateOffering registers a round, binds its escrow routing and registers a
// price source for every whitelisted payment asset.
func (n *Node) CreateOffering(def *offering.Offering) (*offering.Offering, error) {
	created, err := n.Offerings.Create(def)
	if err != nil {
		return nil, err
	}
	n.Escrow.BindOffering(created.ID, n.offeringAddr)
	for asset := range created.PaymentAssets {
		if err := n.Offerings.SetTokenOracle(asset, n.Oracle); err != nil {
			return nil, err
		}
	}
	return created, nil
}

// ApplySeeds creates every offering declared in the seed file. Seeds that
// collide with an existing round are skipped.
func (n *Node) ApplySeeds(seeds []config.OfferingSeed) (int, error) {
	created := 0
	for _, seed := range seeds {
		def, err := seedToOffering(seed)
		if err != nil {
			return created, err
		}
		if _, err := n.CreateOffering(def); err != nil {
			continue
		}
		created++
	}
	return created, nil
}

func seedToOffering(seed config.OfferingSeed) (*offering.Offering, error) {
	owner, err := config.ParseAddress(seed.Owner)
	if err != nil {
		return nil, fmt.Errorf("seed owner: %w", err)
	}
	min, err := config.ParseUnitAmount(seed.MinInvestment)
	if err != nil {
		return nil, fmt.Errorf("seed minInvestment: %w", err)
	}
	max, err := config.ParseUnitAmount(seed.MaxInvestment)
	if err != nil {
		return nil, fmt.Errorf("seed maxInvestment: %w", err)
	}
	softCap, err := config.ParseUnitAmount(seed.SoftCap)
	if err != nil {
		return nil, fmt.Errorf("seed softCap: %w", err)
	}
	raiseCap, err := config.ParseUnitAmount(seed.FundraisingCap)
	if err != nil {
		return nil, fmt.Errorf("seed fundraisingCap: %w", err)
	}
	price, err := config.ParseUnitAmount(seed.PricePerToken)
	if err != nil {
		return nil, fmt.Errorf("seed pricePerToken: %w", err)
	}
	return &offering.Offering{
		Owner:          owner,
		SaleAsset:      seed.SaleAsset,
		MinInvestment:  min,
		MaxInvestment:  max,
		SoftCap:        softCap,
		FundraisingCap: raiseCap,
		PricePerToken:  price,
		StartTime:      seed.StartTime,
		EndTime:        seed.EndTime,
		PayoutEnabled:  seed.PayoutEnabled,
		PaymentAssets:  seed.PaymentAssets,
	}, nil
}
