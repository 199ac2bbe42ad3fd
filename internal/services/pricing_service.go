package services

import (
	"fmt"
	"strings"

	"github.com/smarttransit/flight-reservation-backend/internal/models"
)

// PricingAggregator reduces priced offers into one Pricing value
type PricingAggregator struct{}

// NewPricingAggregator creates a new PricingAggregator
func NewPricingAggregator() *PricingAggregator {
	return &PricingAggregator{}
}

// Aggregate totals the offers and allocates the total across passengers.
// Each fare component is split evenly over the passengers of its type in
// booking order, and the last passenger absorbs any remainder.
func (a *PricingAggregator) Aggregate(offers []models.Offer, passengers []models.Passenger) (*models.Pricing, error) {
	if len(offers) == 0 {
		return nil, models.NewValidationError(models.CodeInvalidRequest, "no offers to price")
	}
	if len(passengers) == 0 {
		return nil, models.NewValidationError(models.CodeInvalidRequest, "no passengers to price")
	}

	currency := strings.ToUpper(offers[0].Currency)
	if currency == "" {
		return nil, models.NewValidationError(models.CodeInvalidRequest, "offer currency is required")
	}

	// Passenger indexes per type, in booking order
	byType := make(map[models.PassengerType][]int)
	for i, p := range passengers {
		byType[p.Type] = append(byType[p.Type], i)
	}

	pricing := &models.Pricing{Currency: currency}
	allocated := make([]int64, len(passengers))

	for _, offer := range offers {
		if strings.ToUpper(offer.Currency) != currency {
			return nil, models.NewValidationError(models.CodeMixedCurrency,
				fmt.Sprintf("offer %s is priced in %s, expected %s", offer.ID, offer.Currency, currency))
		}

		// Each offer starts from the first passenger of every type
		cursor := make(map[models.PassengerType]int)
		for _, fare := range offer.Fares {
			taxes, err := sumNonNegative(fare.Taxes, "tax")
			if err != nil {
				return nil, err
			}
			fees, err := sumNonNegative(fare.Fees, "fee")
			if err != nil {
				return nil, err
			}
			discounts, err := sumNonNegative(fare.Discounts, "discount")
			if err != nil {
				return nil, err
			}
			if fare.Base < 0 {
				return nil, models.NewValidationError(models.CodeInvalidRequest, "base fare cannot be negative")
			}

			pricing.Base += fare.Base
			pricing.Taxes += taxes
			pricing.Fees += fees
			pricing.Discounts += discounts

			group := fare.Base + taxes + fees - discounts
			indexes := byType[fare.PassengerType]
			start := cursor[fare.PassengerType]
			if fare.Count <= 0 || start+fare.Count > len(indexes) {
				return nil, models.NewValidationError(models.CodePassengerCountMismatch,
					fmt.Sprintf("offer %s prices %d %s passengers that are not being booked", offer.ID, fare.Count, fare.PassengerType))
			}
			members := indexes[start : start+fare.Count]
			cursor[fare.PassengerType] = start + fare.Count

			share := group / int64(len(members))
			for _, idx := range members[:len(members)-1] {
				allocated[idx] += share
			}
			allocated[members[len(members)-1]] += group - share*int64(len(members)-1)
		}
	}

	pricing.Total = pricing.Base + pricing.Taxes + pricing.Fees - pricing.Discounts
	if pricing.Total < 0 {
		return nil, models.NewValidationError(models.CodeInvalidRequest, "discounts exceed the fare")
	}

	var sum int64
	for _, amount := range allocated {
		sum += amount
	}
	allocated[len(allocated)-1] += pricing.Total - sum

	pricing.Allocations = make([]models.PassengerAllocation, len(passengers))
	for i, amount := range allocated {
		pricing.Allocations[i] = models.PassengerAllocation{PassengerIndex: i, Amount: amount}
	}

	return pricing, nil
}

func sumNonNegative(amounts []int64, kind string) (int64, error) {
	var total int64
	for _, v := range amounts {
		if v < 0 {
			return 0, models.NewValidationError(models.CodeInvalidRequest, kind+" amounts cannot be negative")
		}
		total += v
	}
	return total, nil
}
