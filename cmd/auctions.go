package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"example.com/backstage/services/auctions/internal/models"
)

var asJSON bool

var auctionCmd = &cobra.Command{
	Use:     "auctions",
	Aliases: []string{"auction"},
	Short:   "Inspect and repair individual auctions",
}

var showAuctionCmd = &cobra.Command{
	Use:   "show <auction-id>",
	Short: "Print an auction with its bids, offers, jobs and payments",
	Args:  cobra.ExactArgs(1),
	RunE:  runShowAuction,
}

var settleAuctionCmd = &cobra.Command{
	Use:   "settle <auction-id>",
	Short: "Retry settlement of a sold auction",
	Args:  cobra.ExactArgs(1),
	RunE:  runSettleAuction,
}

func init() {
	auctionCmd.PersistentFlags().BoolVar(&asJSON, "json", false, "output JSON")
	auctionCmd.AddCommand(showAuctionCmd, settleAuctionCmd)
	rootCmd.AddCommand(auctionCmd)
}

func withApp(fn func(ctx context.Context, a *app) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	// one-off commands never alter the schema
	cfg.DB.AutoMigrate = false

	a, err := bootstrap(cfg)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	defer a.close(ctx)

	return fn(ctx, a)
}

func runShowAuction(cmd *cobra.Command, args []string) error {
	id, err := uuid.Parse(args[0])
	if err != nil {
		return errors.Wrap(err, "invalid auction id")
	}
	return withApp(func(ctx context.Context, a *app) error {
		auc, err := a.auctionRepo.Get(ctx, id)
		if err != nil {
			return err
		}
		jobs, err := a.jobs.ListForAuction(ctx, id)
		if err != nil {
			return err
		}
		payments, err := a.payments.ListForAuction(ctx, id)
		if err != nil {
			return err
		}

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]interface{}{
				"auction":  auc,
				"jobs":     jobs,
				"payments": payments,
			})
		}
		printAuction(auc, jobs, payments)
		return nil
	})
}

func runSettleAuction(cmd *cobra.Command, args []string) error {
	id, err := uuid.Parse(args[0])
	if err != nil {
		return errors.Wrap(err, "invalid auction id")
	}
	return withApp(func(ctx context.Context, a *app) error {
		if err := a.settlements.Retry(ctx, id); err != nil {
			return err
		}
		auc, err := a.auctionRepo.Get(ctx, id)
		if err != nil {
			return err
		}
		log.Info().
			Str("auction_id", id.String()).
			Str("payment_status", string(auc.PaymentStatus)).
			Int64("commission", auc.CommissionAmount).
			Msg("settlement retried")
		return nil
	})
}

func optional[T any](v *T) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprint(*v)
}

func printAuction(a *models.Auction, jobs []models.ScheduledJob, payments []models.PaymentAuthorization) {
	summary := table.NewWriter()
	summary.SetOutputMirror(os.Stdout)
	summary.SetTitle(a.Title)
	summary.AppendRows([]table.Row{
		{"ID", a.ID},
		{"Seller", a.SellerID},
		{"Mode", a.SaleMode},
		{"Status", a.Status},
		{"Window", a.StartDate.Format(time.RFC3339) + " .. " + a.EndDate.Format(time.RFC3339)},
		{"Start / current", fmt.Sprintf("%d / %d", a.StartPrice, a.CurrentPrice)},
		{"Reserve", optional(a.ReservePrice)},
		{"Buy now", optional(a.BuyNowPrice)},
		{"Winner", optional(a.WinnerID)},
		{"Final price", optional(a.FinalPrice)},
		{"Payment", a.PaymentStatus},
		{"Commission", a.CommissionAmount},
		{"Version", a.Version},
	})
	summary.Render()

	if len(a.Bids) > 0 {
		bids := table.NewWriter()
		bids.SetOutputMirror(os.Stdout)
		bids.AppendHeader(table.Row{"Bidder", "Amount", "Time", "Buy now"})
		for _, b := range a.Bids {
			bids.AppendRow(table.Row{b.BidderID, b.Amount, b.Timestamp.Format(time.RFC3339), b.IsBuyNow})
		}
		bids.Render()
	}

	if len(a.Offers) > 0 {
		offers := table.NewWriter()
		offers.SetOutputMirror(os.Stdout)
		offers.AppendHeader(table.Row{"ID", "Buyer", "Amount", "Status", "Counter", "Expires"})
		for _, o := range a.Offers {
			counter := "-"
			if o.CounterOffer != nil {
				counter = fmt.Sprint(o.CounterOffer.Amount)
			}
			offers.AppendRow(table.Row{o.ID, o.BuyerID, o.Amount, o.Status, counter, o.ExpiresAt.Format(time.RFC3339)})
		}
		offers.Render()
	}

	if len(jobs) > 0 {
		jt := table.NewWriter()
		jt.SetOutputMirror(os.Stdout)
		jt.AppendHeader(table.Row{"Kind", "Fire at", "Status", "Attempts", "Last error"})
		for _, j := range jobs {
			jt.AppendRow(table.Row{j.Kind, j.FireAt.Format(time.RFC3339), j.Status, j.Attempts, optional(j.LastError)})
		}
		jt.Render()
	}

	if len(payments) > 0 {
		pt := table.NewWriter()
		pt.SetOutputMirror(os.Stdout)
		pt.AppendHeader(table.Row{"Kind", "Bidder", "Amount", "Status", "Intent", "Failure"})
		for _, p := range payments {
			pt.AppendRow(table.Row{p.Kind, p.BidderID, p.Amount, p.Status, p.ExternalIntentID, optional(p.FailureReason)})
		}
		pt.Render()
	}
}
