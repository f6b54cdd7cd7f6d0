package main

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/Checker-Finance/wikifolio-adapter/internal/service"
	"github.com/Checker-Finance/wikifolio-adapter/internal/wikifolio"
)

func newWikifolioCmd(rc *rootConfig) *cobra.Command {
	var details bool
	cmd := &cobra.Command{
		Use:   "wikifolio <symbol|id>",
		Short: "Show a wikifolio",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := rc.withTimeout(cmd)
			defer cancel()
			data, err := rc.svc.Wikifolio(ctx, args[0], details)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), data)
		},
	}
	cmd.Flags().BoolVar(&details, "details", false, "also scrape the wikifolio page")
	return cmd
}

func newPriceCmd(rc *rootConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "price <symbol|id>",
		Short: "Show the certificate bid/ask",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := rc.withTimeout(cmd)
			defer cancel()
			price, err := rc.svc.Price(ctx, args[0], true)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), price)
		},
	}
}

func newPortfolioCmd(rc *rootConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "portfolio <symbol|id>",
		Short: "Show current holdings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := rc.withTimeout(cmd)
			defer cancel()
			portfolio, err := rc.svc.Portfolio(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), portfolio)
		},
	}
}

func newTradesCmd(rc *rootConfig) *cobra.Command {
	var params wikifolio.TradesParams
	cmd := &cobra.Command{
		Use:   "trades <symbol|id>",
		Short: "Show trade history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := rc.withTimeout(cmd)
			defer cancel()
			page, err := rc.svc.Trades(ctx, args[0], params)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), page)
		},
	}
	cmd.Flags().IntVar(&params.Page, "page", 0, "page number")
	cmd.Flags().IntVar(&params.PageSize, "page-size", 0, "trades per page")
	return cmd
}

func newSearchCmd(rc *rootConfig) *cobra.Command {
	var (
		params     wikifolio.SearchParams
		investable bool
		realMoney  bool
	)
	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search wikifolios",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				params.Query = args[0]
			}
			if cmd.Flags().Changed("investable") {
				params.Investable = &investable
			}
			if cmd.Flags().Changed("real-money") {
				params.RealMoney = &realMoney
			}
			ctx, cancel := rc.withTimeout(cmd)
			defer cancel()
			results, err := rc.svc.Search(ctx, params)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), results)
		},
	}
	cmd.Flags().StringSliceVar(&params.Tags, "tag", nil, "tag filter, repeatable")
	cmd.Flags().StringVar(&params.SortBy, "sort-by", "", "topwikis, newestwiki, perfever, ...")
	cmd.Flags().StringVar(&params.SortOrder, "sort-order", "", "asc or desc")
	cmd.Flags().IntVar(&params.StartValue, "start", 0, "result offset")
	cmd.Flags().BoolVar(&investable, "investable", false, "only investable wikifolios")
	cmd.Flags().BoolVar(&realMoney, "real-money", false, "only real-money wikifolios")
	return cmd
}

func newUserCmd(rc *rootConfig) *cobra.Command {
	var listWikifolios bool
	cmd := &cobra.Command{
		Use:   "user <nickname>",
		Short: "Show a trader profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := rc.withTimeout(cmd)
			defer cancel()
			user := rc.svc.Client().User(args[0])
			if err := user.Details(ctx, true); err != nil {
				return err
			}
			if !listWikifolios {
				return printJSON(cmd.OutOrStdout(), user.Data())
			}
			wikifolios, err := user.Wikifolios(ctx)
			if err != nil {
				return err
			}
			out := make([]wikifolio.WikifolioData, 0, len(wikifolios))
			for _, w := range wikifolios {
				out = append(out, w.Data())
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"user":       user.Data(),
				"wikifolios": out,
				"watchlist":  user.Watchlist(),
			})
		},
	}
	cmd.Flags().BoolVar(&listWikifolios, "wikifolios", false, "also list the profile's wikifolios")
	return cmd
}

func newOrdersCmd(rc *rootConfig) *cobra.Command {
	var params wikifolio.OrdersParams
	cmd := &cobra.Command{
		Use:   "orders <symbol|id>",
		Short: "List open orders",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := rc.withTimeout(cmd)
			defer cancel()
			orders, err := rc.svc.ListOrders(ctx, args[0], params)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), orders)
		},
	}
	cmd.Flags().IntVar(&params.Page, "page", 0, "page number")
	cmd.Flags().IntVar(&params.PageSize, "page-size", 0, "orders per page")
	return cmd
}

// priceFlag is an optional decimal price flag.
type priceFlag struct {
	value *decimal.Decimal
}

func (p *priceFlag) String() string {
	if p.value == nil {
		return ""
	}
	return p.value.String()
}

func (p *priceFlag) Set(s string) error {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("invalid price %q: %w", s, err)
	}
	p.value = &d
	return nil
}

func (p *priceFlag) Type() string { return "decimal" }

func newPlaceCmd(rc *rootConfig, side wikifolio.Side) *cobra.Command {
	var (
		orderType string
		amount    string
		isin      string
		expires   time.Duration
		limit     priceFlag
		stop      priceFlag
		slLimit   priceFlag
		slStop    priceFlag
		tpLimit   priceFlag
	)
	cmd := &cobra.Command{
		Use:   side.String() + " <symbol|id>",
		Short: "Place a " + side.String() + " order on an owned wikifolio",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			qty, err := decimal.NewFromString(amount)
			if err != nil {
				return fmt.Errorf("invalid amount %q: %w", amount, err)
			}
			order := service.PlaceOrderCommand{
				Wikifolio:            args[0],
				Side:                 side.String(),
				OrderType:            orderType,
				Amount:               qty,
				ISIN:                 isin,
				LimitPrice:           limit.value,
				StopPrice:            stop.value,
				StopLossLimitPrice:   slLimit.value,
				StopLossStopPrice:    slStop.value,
				TakeProfitLimitPrice: tpLimit.value,
			}
			if expires > 0 {
				at := time.Now().Add(expires)
				order.ExpiresAt = &at
			}

			ctx, cancel := rc.withTimeout(cmd)
			defer cancel()
			evt, err := rc.svc.PlaceOrder(ctx, order)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), evt)
		},
	}
	cmd.Flags().StringVar(&orderType, "type", "quote", "limit, stop or quote")
	cmd.Flags().StringVar(&amount, "amount", "", "number of units")
	cmd.Flags().StringVar(&isin, "isin", "", "underlying ISIN")
	cmd.Flags().DurationVar(&expires, "expires-in", 0, "order validity, e.g. 72h")
	cmd.Flags().Var(&limit, "limit", "limit price")
	cmd.Flags().Var(&stop, "stop", "stop price")
	cmd.Flags().Var(&slLimit, "sl-limit", "stop-loss limit price")
	cmd.Flags().Var(&slStop, "sl-stop", "stop-loss stop price")
	cmd.Flags().Var(&tpLimit, "tp-limit", "take-profit limit price")
	_ = cmd.MarkFlagRequired("amount")
	_ = cmd.MarkFlagRequired("isin")
	return cmd
}

func newCancelCmd(rc *rootConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <symbol|id> <order-id>",
		Short: "Remove an open order",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := rc.withTimeout(cmd)
			defer cancel()
			result, err := rc.svc.CancelOrder(ctx, service.CancelOrderCommand{Wikifolio: args[0], OrderID: args[1]})
			if result != nil {
				if perr := printJSON(cmd.OutOrStdout(), result); perr != nil {
					return perr
				}
			}
			return err
		},
	}
}
