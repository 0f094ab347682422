// Package domain holds the procurement entities, their status machines, and
// the validation rules applied before anything is persisted.
//
// Quantities carry three fractional digits and money carries two; both are
// shopspring decimals so totals reconcile exactly with their items.
package domain
