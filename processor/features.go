package processor

import (
	"math"

	"github.com/shopspring/decimal"

	"oddsflow/models"
)

// ProbabilityPlaces is the number of decimal places kept for implied probabilities.
const ProbabilityPlaces = 4

var one = decimal.NewFromInt(1)

// ImpliedProbability returns 1/price rounded half-to-even to four places.
// The price is taken at its shortest decimal representation, so 3.5 is
// exactly 3.5 and not the nearest binary double. ok is false for prices that
// are not finite and positive.
func ImpliedProbability(price float64) (prob float64, ok bool) {
	if !validPrice(price) {
		return 0, false
	}
	return one.Div(decimal.NewFromFloat(price)).RoundBank(ProbabilityPlaces).InexactFloat64(), true
}

// AddImpliedProbability attaches the implied probability to every row. Rows
// with a non-positive price are returned in rejected, each carrying an
// *models.InvalidPriceError, and are left out of priced. Processing never
// stops on a rejected row.
func AddImpliedProbability(rows []models.FlatRow) (priced []models.PricedRow, rejected []models.RejectedRow) {
	priced = make([]models.PricedRow, 0, len(rows))
	for _, row := range rows {
		prob, ok := ImpliedProbability(row.Price)
		if !ok {
			rejected = append(rejected, models.RejectedRow{
				Row: row,
				Err: &models.InvalidPriceError{MatchID: row.MatchID, Selection: row.Selection, Price: row.Price},
			})
			continue
		}
		priced = append(priced, models.PricedRow{FlatRow: row, ImpliedProb: prob})
	}
	return priced, rejected
}

func validPrice(price float64) bool {
	return price > 0 && !math.IsInf(price, 0) && !math.IsNaN(price)
}
