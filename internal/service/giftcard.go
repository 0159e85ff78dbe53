package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tixello/marketplace-core/internal/model"
	"github.com/tixello/marketplace-core/internal/repository"
	"github.com/tixello/marketplace-core/internal/utils"
)

// GiftCardStore is the slice of the gift card repository the service
// needs.
type GiftCardStore interface {
	Issue(ctx context.Context, g *model.GiftCard) error
	GetByCode(ctx context.Context, clientID uint64, code string) (*model.GiftCard, error)
	Debit(ctx context.Context, cardID uint64, amount decimal.Decimal, reference, description string) (*model.BalanceTransaction, error)
	Credit(ctx context.Context, cardID uint64, amount decimal.Decimal, reference, description string) (*model.BalanceTransaction, error)
	Transactions(ctx context.Context, cardID uint64) ([]model.BalanceTransaction, error)
}

// GiftCardService issues and redeems gift cards.  Redemption applies
// at most the card's remaining balance, so a partial cover is a
// success that reports the applied amount back to the caller.
type GiftCardService struct {
	cards GiftCardStore
}

// NewGiftCardService wires a GiftCardService.
func NewGiftCardService(cards GiftCardStore) *GiftCardService {
	return &GiftCardService{cards: cards}
}

// Issue creates an active card with the given face value and an
// optional PIN and expiry.  The generated code is on the returned
// card; the clear PIN is never stored.
func (s *GiftCardService) Issue(ctx context.Context, clientID uint64, amount decimal.Decimal, currency, pin string, expiresAt *time.Time) (*model.GiftCard, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("gift card amount must be positive")
	}
	code, err := utils.RandomCode(16)
	if err != nil {
		return nil, err
	}
	var pinHash string
	if pin != "" {
		if pinHash, err = utils.HashPIN(pin); err != nil {
			return nil, err
		}
	}
	g := &model.GiftCard{
		ClientID:      clientID,
		Code:          strings.ToUpper(code),
		PINHash:       pinHash,
		InitialAmount: amount.Round(2),
		Balance:       amount.Round(2),
		Currency:      currency,
		Status:        model.GiftCardActive,
		ExpiresAt:     expiresAt,
	}
	if err := s.cards.Issue(ctx, g); err != nil {
		return nil, err
	}
	return g, nil
}

// Redeem debits up to requested from the card and returns the ledger
// row recording what was actually applied.  A card covering only part
// of the requested amount is drained rather than rejected; the caller
// settles the remainder by other means.  A wrong PIN or an unusable
// card redeems nothing.
func (s *GiftCardService) Redeem(ctx context.Context, clientID uint64, code, pin string, requested decimal.Decimal, reference string) (*model.BalanceTransaction, error) {
	if !requested.IsPositive() {
		return nil, fmt.Errorf("redemption amount must be positive")
	}
	g, err := s.cards.GetByCode(ctx, clientID, code)
	if err != nil {
		return nil, err
	}
	if g.PINHash != "" && !utils.CheckPIN(g.PINHash, pin) {
		return nil, fmt.Errorf("gift card %s: pin mismatch: %w", g.Code, repository.ErrGiftCardNotUsable)
	}
	if !g.Usable(time.Now().UTC()) {
		return nil, fmt.Errorf("gift card %s is %s: %w", g.Code, g.Status, repository.ErrGiftCardNotUsable)
	}
	applied := requested.Round(2)
	if g.Balance.LessThan(applied) {
		applied = g.Balance
	}
	return s.cards.Debit(ctx, g.ID, applied, reference, "redemption")
}

// Refund credits a previously redeemed amount back onto the card.
// Credits are capped at the card's face value by the store.
func (s *GiftCardService) Refund(ctx context.Context, clientID uint64, code string, amount decimal.Decimal, reference string) (*model.BalanceTransaction, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("refund amount must be positive")
	}
	g, err := s.cards.GetByCode(ctx, clientID, code)
	if err != nil {
		return nil, err
	}
	return s.cards.Credit(ctx, g.ID, amount.Round(2), reference, "redemption refund")
}

// Get returns the card and its transaction log.  The PIN hash is
// blanked before the card leaves the service.
func (s *GiftCardService) Get(ctx context.Context, clientID uint64, code string) (*model.GiftCard, []model.BalanceTransaction, error) {
	g, err := s.cards.GetByCode(ctx, clientID, code)
	if err != nil {
		return nil, nil, err
	}
	txs, err := s.cards.Transactions(ctx, g.ID)
	if err != nil {
		return nil, nil, err
	}
	g.PINHash = ""
	return g, txs, nil
}
