/*
Copyright © 2025 blacktop

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in
all copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
THE SOFTWARE.
*/
package cmd

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/AlecAivazis/survey/v2"
	"github.com/AlecAivazis/survey/v2/terminal"
	"github.com/MakeNowJust/heredoc/v2"
	"github.com/apex/log"
	"github.com/blacktop/ipastore/internal/appstore"
	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func init() {
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(lookupCmd)

	searchCmd.Flags().StringP("country", "c", "", "Store country code")
	searchCmd.Flags().IntP("limit", "l", 10, "Maximum number of results (1-20)")
	searchCmd.Flags().BoolP("json", "j", false, "Output as JSON")
	searchCmd.Flags().BoolP("purchase", "p", false, "Purchase the selected apps")
	viper.BindPFlag("search.country", searchCmd.Flags().Lookup("country"))
	viper.BindPFlag("search.limit", searchCmd.Flags().Lookup("limit"))
	viper.BindPFlag("search.json", searchCmd.Flags().Lookup("json"))
	viper.BindPFlag("search.purchase", searchCmd.Flags().Lookup("purchase"))

	lookupCmd.Flags().StringP("country", "c", "", "Store country code")
	lookupCmd.Flags().BoolP("json", "j", false, "Output as JSON")
	viper.BindPFlag("lookup.country", lookupCmd.Flags().Lookup("country"))
	viper.BindPFlag("lookup.json", lookupCmd.Flags().Lookup("json"))
}

var searchCmd = &cobra.Command{
	Use:           "search <TERM>",
	Short:         "Search the App Store",
	Args:          cobra.MinimumNArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	Example: heredoc.Doc(`
		# Search the US store
		❯ ipastore search --country US signal

		# Pick results to acquire a license for
		❯ ipastore search --purchase signal`),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		limit := viper.GetInt("search.limit")
		if limit < 1 || limit > appstore.AppStoreSearchLimit {
			return fmt.Errorf("--limit must be between 1-%d", appstore.AppStoreSearchLimit)
		}

		client, closeFn, err := newClient(ctx)
		if err != nil {
			return err
		}
		defer closeFn()

		res, err := client.Store.Search(ctx, appstore.SearchQuery{
			Term:    strings.Join(args, " "),
			Country: viper.GetString("search.country"),
			Limit:   limit,
		})
		if err != nil {
			return err
		}
		if viper.GetBool("search.json") {
			return printJSON(res)
		}
		apps, err := res.Apps()
		if err != nil {
			return err
		}
		if len(apps) == 0 {
			log.Warn("No apps found")
			return nil
		}
		if !viper.GetBool("search.purchase") {
			for _, app := range apps {
				printApp(&app)
			}
			return nil
		}

		var choices []string
		for _, app := range apps {
			choices = append(choices, fmt.Sprintf("%s (%s) v%s [%d]", app.Name, app.BundleID, app.Version, app.ID))
		}
		var picked []int
		if err := survey.AskOne(&survey.MultiSelect{
			Message:  "Select what app(s) to purchase:",
			Options:  choices,
			PageSize: 15,
		}, &picked); err != nil {
			if errors.Is(err, terminal.InterruptErr) {
				log.Warn("Exiting...")
				return nil
			}
			return err
		}
		for _, idx := range picked {
			app := apps[idx]
			if _, err := client.Store.Purchase(ctx, int64(app.ID)); err != nil {
				log.WithError(err).WithField("app", app.Name).Error("Purchase failed")
				continue
			}
			log.WithField("app", app.Name).Info("Purchase request has been submitted")
		}
		return nil
	},
}

var lookupCmd = &cobra.Command{
	Use:           "lookup <BUNDLE_ID>",
	Short:         "Lookup an app by bundle ID",
	Args:          cobra.ExactArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		client, closeFn, err := newClient(ctx)
		if err != nil {
			return err
		}
		defer closeFn()

		app, err := client.Store.Lookup(ctx, args[0], viper.GetString("lookup.country"))
		if err != nil {
			return err
		}
		if viper.GetBool("lookup.json") {
			return printJSON(app)
		}
		printApp(app)
		return nil
	},
}

func printApp(app *appstore.App) {
	size := app.Size
	if n, err := strconv.ParseUint(app.Size, 10, 64); err == nil {
		size = humanize.IBytes(n)
	}
	fmt.Printf("%s %s\n", color.New(color.Bold, color.FgHiBlue).Sprint(app.Name), color.New(color.Faint).Sprintf("(%s)", app.BundleID))
	fmt.Printf("    ID:       %d\n", app.ID)
	fmt.Printf("    Version:  %s (%s)\n", app.Version, app.ReleaseDate)
	fmt.Printf("    Seller:   %s\n", app.SellerName)
	fmt.Printf("    Price:    %s\n", app.FormattedPrice)
	if size != "" {
		fmt.Printf("    Size:     %s\n", size)
	}
	if app.RatingCount > 0 {
		fmt.Printf("    Rating:   %.1f (%d)\n", app.Rating, app.RatingCount)
	}
}
