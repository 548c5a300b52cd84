package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/shopspring/decimal"

	"github.com/Kenblair1226/bitfinex-lending-bot/internal/funding"
)

// Status prints the latest persisted snapshot, either as a per-currency
// overview or, when a currency is given, fund by fund. Read-only: it
// never touches diff or debounce state.
func (a *App) Status(ctx context.Context, currency string) error {
	snap, cleanup, err := a.loadSnapshot(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	if currency != "" {
		return printCurrency(snap, strings.ToUpper(currency))
	}
	return printOverview(snap)
}

// FilteredStatus prints only the funds in the given lifecycle status.
func (a *App) FilteredStatus(ctx context.Context, status funding.Status) error {
	snap, cleanup, err := a.loadSnapshot(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Currency\tFund ID\tAmount\tRate% APR\tPeriod")

	n := 0
	for _, currency := range sortedCurrencies(snap) {
		for _, f := range sortedFunds(snap.Currencies[currency]) {
			if f.Status != status {
				continue
			}
			n++
			fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%d\n",
				f.Currency, orDash(f.FundID), f.Amount.String(), f.Rate.StringFixed(2), f.Period)
		}
	}
	writer.Flush()

	if n == 0 {
		fmt.Fprintf(os.Stdout, "no %s funds\n", status)
	}
	return nil
}

func (a *App) loadSnapshot(ctx context.Context) (*funding.Snapshot, func(), error) {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	if store == nil {
		return nil, nil, errors.New("database not configured; cannot query funding status")
	}

	snap, err := store.LoadSnapshot(ctx)
	if err != nil {
		closeStore()
		return nil, nil, err
	}
	if snap == nil {
		closeStore()
		return nil, nil, errors.New("no snapshot recorded yet; run the monitor first")
	}
	return snap, closeStore, nil
}

func printOverview(snap *funding.Snapshot) error {
	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Currency\tActive\tOffered\tIdle\tLoaned\tOffered Amt\tAvg Loan Rate%")

	for _, currency := range sortedCurrencies(snap) {
		var (
			active, offered, idle int
			loaned, offeredAmt    decimal.Decimal
			rateSum               decimal.Decimal
		)
		for _, f := range snap.Currencies[currency] {
			switch f.Status {
			case funding.StatusActive:
				active++
				loaned = loaned.Add(f.Amount)
				rateSum = rateSum.Add(f.Rate)
			case funding.StatusOffered:
				offered++
				offeredAmt = offeredAmt.Add(f.Amount)
			case funding.StatusInactive:
				idle++
			}
		}

		avgRate := "-"
		if active > 0 {
			avgRate = rateSum.Div(decimal.NewFromInt(int64(active))).StringFixed(2)
		}

		fmt.Fprintf(writer, "%s\t%d\t%d\t%d\t%s\t%s\t%s\n",
			currency, active, offered, idle, loaned.String(), offeredAmt.String(), avgRate)
	}
	writer.Flush()

	fmt.Fprintf(os.Stdout, "\nsnapshot taken at %s\n", snap.TakenAt.UTC().Format("2006-01-02 15:04:05 MST"))
	return nil
}

func printCurrency(snap *funding.Snapshot, currency string) error {
	funds := snap.Funds(currency)
	if funds == nil {
		return fmt.Errorf("currency %s not observed in latest snapshot", currency)
	}
	if len(funds) == 0 {
		fmt.Fprintf(os.Stdout, "%s: no funds\n", currency)
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Fund ID\tStatus\tAmount\tRate% APR\tPeriod")
	for _, f := range sortedFunds(funds) {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%d\n",
			orDash(f.FundID), f.Status, f.Amount.String(), f.Rate.StringFixed(2), f.Period)
	}
	writer.Flush()
	return nil
}

func sortedCurrencies(snap *funding.Snapshot) []string {
	currencies := make([]string, 0, len(snap.Currencies))
	for c := range snap.Currencies {
		currencies = append(currencies, c)
	}
	sort.Strings(currencies)
	return currencies
}

func sortedFunds(funds map[string]funding.Fund) []funding.Fund {
	keys := make([]string, 0, len(funds))
	for k := range funds {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]funding.Fund, 0, len(keys))
	for _, k := range keys {
		out = append(out, funds[k])
	}
	return out
}

func orDash(v string) string {
	if v == "" {
		return "-"
	}
	return v
}
