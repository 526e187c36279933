package main

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/vbauerster/mpb/v8"

	"github.com/spherical-ai/nwshop/internal/lists"
	"github.com/spherical-ai/nwshop/internal/preferences"
	"github.com/spherical-ai/nwshop/internal/resolve"
	"github.com/spherical-ai/nwshop/internal/retrieval"
	"github.com/spherical-ai/nwshop/internal/storage"
)

func newResolveCmd() *cobra.Command {
	var (
		prefContext string
		recipe      string
	)

	cmd := &cobra.Command{
		Use:   "resolve <item>",
		Short: "Resolve a grocery item to a catalog product",
		Example: `  nwshop resolve "coconut milk"
  nwshop resolve "coconut milk" --recipe "Thai Curry"
  nwshop resolve rice --context baking --json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			stop := ui.Spinner("Resolving...")
			start := time.Now()
			res, err := a.Engine.Resolve(ctx, resolve.Request{
				GenericName:   strings.Join(args, " "),
				Context:       prefContext,
				RecipeContext: recipe,
			})
			stop()
			if err != nil {
				return err
			}

			if ok, err := ui.JSON(res); ok {
				return err
			}
			printResult(res)
			ui.KeyValue("Took", FormatDuration(time.Since(start)))
			return nil
		},
	}

	cmd.Flags().StringVar(&prefContext, "context", "", "preference context (default: default)")
	cmd.Flags().StringVar(&recipe, "recipe", "", "recipe the item is for")

	return cmd
}

func printResult(res *resolve.Result) {
	ui.Section(res.GenericName)
	if res.Resolved {
		ui.Success("%s", res.ProductName)
		if res.Brand != "" {
			ui.KeyValue("Brand", res.Brand)
		}
		ui.KeyValue("Price", formatPrice(res.Price))
	} else {
		ui.Warning("Not resolved")
	}
	ui.KeyValue("Source", res.Source)
	if res.Strategy != "" {
		ui.KeyValue("Strategy", res.Strategy)
	}
	ui.KeyValue("Confidence", fmt.Sprintf("%.2f", res.Confidence))

	if len(res.Candidates) == 0 {
		return
	}
	rows := make([][]string, len(res.Candidates))
	for i, c := range res.Candidates {
		rows[i] = []string{
			strconv.FormatInt(c.ID, 10),
			c.Name,
			formatNullPrice(c.Price),
			string(c.MatchType),
			fmt.Sprintf("%.2f", c.Score),
		}
	}
	ui.Table([]string{"ID", "Product", "Price", "Match", "Score"}, rows)
}

func newSearchCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the catalog with full-text and vector search",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			query := strings.Join(args, " ")
			lexical, err := a.Lexical.Search(ctx, query, limit)
			if err != nil {
				return err
			}
			var semantic []retrieval.SemanticHit
			if a.Semantic != nil {
				semantic, err = a.Semantic.Search(ctx, query, limit)
				if err != nil {
					logger.Warn().Err(err).Msg("semantic search failed")
					ui.Warning("Semantic search unavailable: %v", err)
				}
			}
			merged := retrieval.Merge(lexical, semantic)

			if ok, err := ui.JSON(merged); ok {
				return err
			}
			if len(merged) == 0 {
				ui.Warning("No products match %q", query)
				return nil
			}
			rows := make([][]string, len(merged))
			for i, c := range merged {
				stock := "yes"
				if !c.InStock {
					stock = "no"
				}
				rows[i] = []string{strconv.FormatInt(c.ID, 10), c.Name, c.Brand, formatNullPrice(c.Price), stock, string(c.MatchType)}
			}
			ui.Table([]string{"ID", "Product", "Brand", "Price", "In stock", "Match"}, rows)
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "results per search method")

	return cmd
}

type preferenceView struct {
	GenericName string           `json:"genericName"`
	Context     string           `json:"context"`
	ProductID   int64            `json:"productId"`
	ProductName string           `json:"productName"`
	Brand       string           `json:"brand,omitempty"`
	Price       *decimal.Decimal `json:"price,omitempty"`
	Confidence  float64          `json:"confidence"`
	Source      string           `json:"source"`
	Strategy    string           `json:"strategy"`
	Candidates  []int64          `json:"candidates,omitempty"`
	UpdatedAt   time.Time        `json:"updatedAt"`
}

func viewPreference(p storage.Preference) preferenceView {
	v := preferenceView{
		GenericName: p.GenericName,
		Context:     p.Context,
		ProductID:   p.ProductID,
		ProductName: p.ProductName,
		Brand:       p.Brand,
		Confidence:  p.Confidence,
		Source:      string(p.Source),
		Strategy:    string(p.Strategy),
		Candidates:  p.CandidateIDs,
		UpdatedAt:   p.UpdatedAt,
	}
	if p.Price.Valid {
		v.Price = &p.Price.Decimal
	}
	return v
}

func printPreferences(prefs []storage.Preference) error {
	views := make([]preferenceView, len(prefs))
	for i, p := range prefs {
		views[i] = viewPreference(p)
	}
	if ok, err := ui.JSON(views); ok {
		return err
	}
	if len(views) == 0 {
		ui.Info("No preferences saved")
		return nil
	}
	rows := make([][]string, len(views))
	for i, v := range views {
		rows[i] = []string{v.GenericName, v.Context, v.ProductName, formatPrice(v.Price), v.Strategy, v.Source, fmt.Sprintf("%.2f", v.Confidence)}
	}
	ui.Table([]string{"Item", "Context", "Product", "Price", "Strategy", "Source", "Confidence"}, rows)
	return nil
}

func newPrefCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pref",
		Short: "Manage brand preferences",
	}

	cmd.AddCommand(newPrefSetCmd())
	cmd.AddCommand(newPrefGetCmd())
	cmd.AddCommand(newPrefListCmd())
	cmd.AddCommand(newPrefSuggestCmd())

	return cmd
}

func newPrefSetCmd() *cobra.Command {
	var (
		params     preferences.SetParams
		strategy   string
		source     string
		confidence float64
		candidates []int64
	)

	cmd := &cobra.Command{
		Use:   "set <item> <product-id>",
		Short: "Save a preferred product for an item",
		Example: `  nwshop pref set "coconut milk" 42
  nwshop pref set rice 7 --strategy lowest_price --candidate 7 --candidate 9`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			productID, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid product id %q: %w", args[1], err)
			}

			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			params.GenericName = args[0]
			params.ProductID = productID
			params.Strategy = storage.Strategy(strategy)
			params.Source = storage.PreferenceSource(source)
			params.CandidateIDs = candidates
			if cmd.Flags().Changed("confidence") {
				params.Confidence = &confidence
			}

			pref, err := a.Preferences.Set(ctx, params)
			if err != nil {
				return err
			}
			if ok, err := ui.JSON(viewPreference(*pref)); ok {
				return err
			}
			ui.Success("%s -> %s", pref.GenericName, pref.ProductName)
			return nil
		},
	}

	cmd.Flags().StringVar(&params.Context, "context", "", "preference context")
	cmd.Flags().StringVar(&strategy, "strategy", "", "fixed, lowest_price or on_special")
	cmd.Flags().StringVar(&source, "source", "", "explicit, history, wizard or swap")
	cmd.Flags().Float64Var(&confidence, "confidence", preferences.DefaultConfidence, "confidence in [0,1]")
	cmd.Flags().Int64SliceVar(&candidates, "candidate", nil, "candidate product id for dynamic strategies (repeatable)")
	cmd.Flags().StringVar(&params.Notes, "notes", "", "free-form notes")

	return cmd
}

func newPrefGetCmd() *cobra.Command {
	var prefContext string

	cmd := &cobra.Command{
		Use:   "get <item>",
		Short: "Show the preference for an item",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			name := strings.Join(args, " ")
			if prefContext == "" {
				prefs, err := a.Preferences.ListByName(ctx, name)
				if err != nil {
					return err
				}
				return printPreferences(prefs)
			}

			pref, err := a.Preferences.Get(ctx, name, prefContext)
			if err != nil {
				return err
			}
			return printPreferences([]storage.Preference{*pref})
		},
	}

	cmd.Flags().StringVar(&prefContext, "context", "", "only this context (falls back to default)")

	return cmd
}

func newPrefListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all preferences",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			prefs, err := a.Preferences.List(ctx)
			if err != nil {
				return err
			}
			return printPreferences(prefs)
		},
	}
}

func newPrefSuggestCmd() *cobra.Command {
	var apply bool

	cmd := &cobra.Command{
		Use:   "suggest",
		Short: "Suggest preferences from purchase history",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			suggestions, err := a.Suggester.Suggest(ctx)
			if err != nil {
				return err
			}

			applied := 0
			if apply {
				for _, sg := range suggestions {
					if _, err := a.Suggester.Apply(ctx, sg); err != nil {
						logger.Warn().Err(err).Str("item", sg.GenericName).Msg("apply suggestion failed")
						continue
					}
					applied++
				}
			}

			if ok, err := ui.JSON(map[string]interface{}{"suggestions": suggestions, "applied": applied}); ok {
				return err
			}
			if len(suggestions) == 0 {
				ui.Info("No suggestions: not enough consistent purchases yet")
				return nil
			}
			rows := make([][]string, len(suggestions))
			for i, sg := range suggestions {
				rows[i] = []string{
					sg.GenericName,
					sg.ProductName,
					formatNullPrice(sg.Price),
					fmt.Sprintf("%d/%d", sg.BuyCount, sg.TotalBuys),
					fmt.Sprintf("%d%%", sg.Share),
					fmt.Sprintf("%.2f", sg.Confidence),
				}
			}
			ui.Table([]string{"Item", "Product", "Price", "Buys", "Share", "Confidence"}, rows)
			if apply {
				ui.Success("Applied %d of %d suggestions", applied, len(suggestions))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&apply, "apply", false, "save every suggestion as a preference")

	return cmd
}

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Work with imported purchase history",
	}

	cmd.AddCommand(newHistoryMatchCmd())
	cmd.AddCommand(newHistoryFrequencyCmd())

	return cmd
}

func newHistoryMatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "match <purchase-id>",
		Short: "Match the raw lines of a purchase to catalog products",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			purchaseID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid purchase id %q: %w", args[0], err)
			}

			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			bar := ui.ItemProgress("Matching")
			report, err := a.Matcher.MatchPurchase(ctx, purchaseID, bar.Update)
			bar.Finish()
			if err != nil {
				return err
			}

			if ok, err := ui.JSON(report); ok {
				return err
			}
			rows := make([][]string, len(report.Results))
			for i, r := range report.Results {
				rows[i] = []string{r.Item, string(r.Status), r.MatchedTo, fmt.Sprintf("%.2f", r.Confidence)}
			}
			ui.Table([]string{"Item", "Status", "Matched to", "Confidence"}, rows)
			ui.Success("Matched %d of %d items, %d flagged for review", report.Matched, report.Total, report.Flagged)
			return nil
		},
	}
}

func newHistoryFrequencyCmd() *cobra.Command {
	var top int

	cmd := &cobra.Command{
		Use:   "frequency",
		Short: "Recompute purchase frequency per item",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.Frequency.Update(ctx)
			if err != nil {
				return err
			}
			entries, err := a.Frequency.Top(ctx, top)
			if err != nil {
				return err
			}

			if outputJSON {
				type entry struct {
					GenericName     string    `json:"genericName"`
					AvgDaysBetween  *float64  `json:"avgDaysBetween"`
					LastPurchased   time.Time `json:"lastPurchased"`
					PurchaseCount   int       `json:"purchaseCount"`
					TypicalQuantity float64   `json:"typicalQuantity"`
				}
				out := make([]entry, len(entries))
				for i, e := range entries {
					out[i] = entry{e.GenericName, nil, e.LastPurchased, e.PurchaseCount, e.TypicalQuantity}
					if e.AvgDaysBetween.Valid {
						out[i].AvgDaysBetween = &e.AvgDaysBetween.Float64
					}
				}
				_, err := ui.JSON(map[string]interface{}{"updated": n, "top": out})
				return err
			}

			ui.Success("Updated frequency for %d items", n)
			rows := make([][]string, len(entries))
			for i, e := range entries {
				every := "-"
				if e.AvgDaysBetween.Valid {
					every = fmt.Sprintf("%.1f days", e.AvgDaysBetween.Float64)
				}
				rows[i] = []string{e.GenericName, strconv.Itoa(e.PurchaseCount), every, e.LastPurchased.Format("2006-01-02"), strconv.FormatFloat(e.TypicalQuantity, 'f', -1, 64)}
			}
			ui.Table([]string{"Item", "Purchases", "Every", "Last", "Typical qty"}, rows)
			return nil
		},
	}

	cmd.Flags().IntVarP(&top, "top", "n", 20, "number of items to show")

	return cmd
}

func newEmbedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "embed",
		Short: "Embed catalog products that have no vector yet",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			backfiller, err := a.Backfiller()
			if err != nil {
				return err
			}

			bars := ui.Bars()
			var (
				mu  sync.Mutex
				bar *mpb.Bar
			)
			result, err := backfiller.Backfill(ctx, func(done, total int) {
				mu.Lock()
				defer mu.Unlock()
				if bar == nil {
					bar = bars.Add("embedding", int64(total))
				}
				if bar != nil {
					bar.SetCurrent(int64(done))
				}
			})
			if bar != nil && err != nil {
				bar.Abort(false)
			}
			bars.Wait()
			if err != nil {
				return err
			}

			if ok, err := ui.JSON(result); ok {
				return err
			}
			if result.Pending == 0 {
				ui.Info("All products already embedded")
			} else {
				ui.Success("Embedded %d of %d products in %s", result.Embedded, result.Pending, FormatDuration(result.Duration))
			}
			if result.Failed > 0 {
				ui.Warning("%d products failed and will be retried next run", result.Failed)
			}
			ui.KeyValue("Coverage", fmt.Sprintf("%d / %d", result.CoverageDone, result.CoverageTotal))
			ui.KeyValue("Batch", result.BatchID)
			return nil
		},
	}
}

func newListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Build shopping lists",
	}
	cmd.AddCommand(newListBuildCmd())
	return cmd
}

func newListBuildCmd() *cobra.Command {
	var (
		recipeIDs   []int64
		recipeNames []string
		items       []string
		name        string
	)

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build a shopping list from recipes and extra items",
		Example: `  nwshop list build --recipe "Thai Curry" --item "milk=2L"
  nwshop list build --recipe-id 3 --recipe-id 4 --name "Weekend"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(recipeIDs)+len(recipeNames)+len(items) == 0 {
				return fmt.Errorf("nothing to build: pass --recipe, --recipe-id or --item")
			}

			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			req := lists.BuildRequest{RecipeIDs: recipeIDs, RecipeNames: recipeNames, Name: name}
			for _, it := range items {
				n, q, _ := strings.Cut(it, "=")
				req.ManualItems = append(req.ManualItems, lists.ManualItem{Name: strings.TrimSpace(n), Quantity: strings.TrimSpace(q)})
			}

			stop := ui.Spinner("Building list...")
			list, err := a.Lists.Build(ctx, req)
			stop()
			if err != nil {
				return err
			}

			if ok, err := ui.JSON(list); ok {
				return err
			}
			ui.Section(list.Name)
			rows := make([][]string, len(list.Items))
			for i, it := range list.Items {
				product := it.DisplayName
				if !it.Resolved {
					product = "(unresolved)"
				}
				rows[i] = []string{it.GenericName, it.Quantity, product, formatPrice(it.EstimatedPrice), it.Source}
			}
			ui.Table([]string{"Item", "Qty", "Product", "Price", "From"}, rows)
			ui.KeyValue("List ID", list.ID)
			ui.KeyValue("Estimated total", "$"+list.EstimatedTotal.StringFixed(2))
			if list.UnresolvedCount > 0 {
				ui.Warning("%d items need a product chosen", list.UnresolvedCount)
			}
			return nil
		},
	}

	cmd.Flags().Int64SliceVar(&recipeIDs, "recipe-id", nil, "recipe id (repeatable)")
	cmd.Flags().StringArrayVar(&recipeNames, "recipe", nil, "recipe name (repeatable)")
	cmd.Flags().StringArrayVar(&items, "item", nil, "extra item as name or name=quantity (repeatable)")
	cmd.Flags().StringVar(&name, "name", "", "list name")

	return cmd
}

func formatPrice(p *decimal.Decimal) string {
	if p == nil {
		return "-"
	}
	return "$" + p.StringFixed(2)
}

func formatNullPrice(p decimal.NullDecimal) string {
	if !p.Valid {
		return "-"
	}
	return "$" + p.Decimal.StringFixed(2)
}
