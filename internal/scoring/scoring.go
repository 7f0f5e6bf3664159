/**
 * @description
 * Pure scoring and pricing calculations feeding the application workflow:
 * a bounded credit score derived from applicant attributes, and the amortized
 * monthly installment (EMI) for loan terms.
 *
 * Both functions are side-effect free. The score's random perturbation comes
 * from an injected Perturber so callers control seeding and tests stay
 * deterministic.
 *
 * @dependencies
 * - github.com/shopspring/decimal: exact decimal arithmetic for money and rates.
 */

package scoring

import (
	"errors"

	"github.com/shopspring/decimal"
)

const (
	baseScore = 650
	minScore  = 300
	maxScore  = 850

	// perturbSpan yields a symmetric perturbation in [-25, +25].
	perturbSpan   = 51
	perturbOffset = 25
)

// Perturber supplies the bounded random adjustment applied to each score.
// *rand.Rand satisfies it; tests substitute a fixed implementation.
type Perturber interface {
	Intn(n int) int
}

// Applicant carries the attributes the score is computed from. Money values
// are whole currency units as decimals (the caller converts from cents).
type Applicant struct {
	MonthlyIncome   decimal.Decimal
	EmploymentYears int
	ExistingDebt    decimal.Decimal
}

var (
	income10k = decimal.NewFromInt(10000)
	income7k  = decimal.NewFromInt(7000)
	income5k  = decimal.NewFromInt(5000)
	income3k  = decimal.NewFromInt(3000)

	dtiLow  = decimal.RequireFromString("0.30")
	dtiHigh = decimal.RequireFromString("0.50")

	twelve  = decimal.NewFromInt(12)
	one     = decimal.NewFromInt(1)
	rateDiv = decimal.NewFromInt(1200)
)

// CreditScore computes the bounded [300, 850] score for an applicant:
// a 650 base adjusted by income bracket, employment stability and
// debt-to-income ratio, plus a symmetric perturbation of at most ±25.
func CreditScore(a Applicant, rng Perturber) int {
	score := baseScore

	switch {
	case a.MonthlyIncome.GreaterThanOrEqual(income10k):
		score += 100
	case a.MonthlyIncome.GreaterThanOrEqual(income7k):
		score += 80
	case a.MonthlyIncome.GreaterThanOrEqual(income5k):
		score += 60
	case a.MonthlyIncome.GreaterThanOrEqual(income3k):
		score += 40
	}

	switch {
	case a.EmploymentYears >= 5:
		score += 50
	case a.EmploymentYears >= 2:
		score += 30
	case a.EmploymentYears >= 1:
		score += 15
	}

	if a.ExistingDebt.IsPositive() && a.MonthlyIncome.IsPositive() {
		annualIncome := a.MonthlyIncome.Mul(twelve)
		ratio := a.ExistingDebt.DivRound(annualIncome, 2)
		switch {
		case ratio.LessThanOrEqual(dtiLow):
			score += 30
		case ratio.LessThanOrEqual(dtiHigh):
			score += 10
		default:
			score -= 50
		}
	} else {
		score += 40
	}

	score += rng.Intn(perturbSpan) - perturbOffset

	if score < minScore {
		return minScore
	}
	if score > maxScore {
		return maxScore
	}
	return score
}

// MonthlyInstallment computes the amortized payment
// EMI = P*r*(1+r)^n / ((1+r)^n - 1), with r the periodic rate
// (annual percentage / 1200) and n the term in months. A zero rate
// degenerates to P/n. The result is rounded to 2 decimal places.
func MonthlyInstallment(principal, annualRatePct decimal.Decimal, termMonths int) (decimal.Decimal, error) {
	if termMonths <= 0 {
		return decimal.Zero, errors.New("term months must be positive")
	}
	if principal.IsNegative() || annualRatePct.IsNegative() {
		return decimal.Zero, errors.New("principal and rate must be non-negative")
	}

	n := decimal.NewFromInt(int64(termMonths))
	r := annualRatePct.DivRound(rateDiv, 10)
	if r.IsZero() {
		// The general formula divides by zero at r == 0.
		return principal.DivRound(n, 2), nil
	}

	pow := one.Add(r).Pow(n)
	numerator := principal.Mul(r).Mul(pow)
	denominator := pow.Sub(one)
	return numerator.DivRound(denominator, 2), nil
}

// InstallmentCents is the minor-unit convenience wrapper the workflow uses:
// principal in cents and the rate in basis points, EMI back in cents.
func InstallmentCents(principalCents, rateBps int64, termMonths int) (int64, error) {
	principal := decimal.New(principalCents, -2)
	rate := decimal.New(rateBps, -2)
	emi, err := MonthlyInstallment(principal, rate, termMonths)
	if err != nil {
		return 0, err
	}
	return emi.Shift(2).Round(0).IntPart(), nil
}
