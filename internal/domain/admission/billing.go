package admission

import (
	"fmt"
	"math"
	"time"
)

const (
	PolicyFlat    = "flat"
	PolicyPerDiem = "per_diem"
)

// BillingPolicy computes total charges for an admission.
type BillingPolicy interface {
	Name() string
	Total(a *Admission, now time.Time) float64
	// DateSensitive reports whether the total depends on the length of stay.
	DateSensitive() bool
}

// FlatPolicy charges admission_Fee - discount.
type FlatPolicy struct{}

func (FlatPolicy) Name() string        { return PolicyFlat }
func (FlatPolicy) DateSensitive() bool { return false }

func (FlatPolicy) Total(a *Admission, _ time.Time) float64 {
	return roundCharges(a.Financials.AdmissionFee - a.Financials.Discount)
}

// PerDiemPolicy charges admission_Fee + pdCharges per started day - discount.
// Days run to the discharge date, or to now while the stay is open.
type PerDiemPolicy struct{}

func (PerDiemPolicy) Name() string        { return PolicyPerDiem }
func (PerDiemPolicy) DateSensitive() bool { return true }

func (PerDiemPolicy) Total(a *Admission, now time.Time) float64 {
	end := now
	if a.Details.DischargeDate != nil {
		end = *a.Details.DischargeDate
	}
	days := DaysBetween(a.Details.AdmissionDate, end)
	return roundCharges(a.Financials.AdmissionFee + a.Ward.PDCharges*float64(days) - a.Financials.Discount)
}

func roundCharges(v float64) float64 {
	if v < 0 {
		return 0
	}
	return math.Round(v*100) / 100
}

func PolicyByName(name string) (BillingPolicy, error) {
	switch name {
	case PolicyFlat, "":
		return FlatPolicy{}, nil
	case PolicyPerDiem:
		return PerDiemPolicy{}, nil
	default:
		return nil, fmt.Errorf("unknown billing policy %q", name)
	}
}

// Change describes what a write touched, deciding whether totals are
// recomputed.
type Change struct {
	IsNew             bool
	DischargeChanged  bool
	FinancialsChanged bool
}

type Calculator struct {
	policy BillingPolicy
}

func NewCalculator(p BillingPolicy) *Calculator {
	if p == nil {
		p = FlatPolicy{}
	}
	return &Calculator{policy: p}
}

func (c *Calculator) Policy() BillingPolicy { return c.policy }

// Apply recomputes a.Financials.TotalCharges when the change requires it and
// reports whether it did.
func (c *Calculator) Apply(a *Admission, now time.Time, ch Change) bool {
	recompute := ch.IsNew || ch.FinancialsChanged || (ch.DischargeChanged && c.policy.DateSensitive())
	if !recompute {
		return false
	}
	a.Financials.TotalCharges = c.policy.Total(a, now)
	return true
}
