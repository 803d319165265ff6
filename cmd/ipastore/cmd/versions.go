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
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/briandowns/spinner"
	"github.com/blacktop/ipastore/internal/appstore"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"
)

func init() {
	rootCmd.AddCommand(versionsCmd)
	versionsCmd.AddCommand(legacyCmd)

	versionsCmd.Flags().Int64P("start", "s", 0, "External version ID to page from")
	versionsCmd.Flags().StringP("direction", "d", appstore.DirectionNext, "Page direction (next, prev)")
	versionsCmd.Flags().IntP("count", "n", -1, "Page size (1-20, -1 for the whole history)")
	versionsCmd.Flags().BoolP("json", "j", false, "Output as JSON")
	viper.BindPFlag("versions.start", versionsCmd.Flags().Lookup("start"))
	viper.BindPFlag("versions.direction", versionsCmd.Flags().Lookup("direction"))
	viper.BindPFlag("versions.count", versionsCmd.Flags().Lookup("count"))
	viper.BindPFlag("versions.json", versionsCmd.Flags().Lookup("json"))

	legacyCmd.Flags().String("source", "", "Third-party source to query (default races all of them)")
	legacyCmd.Flags().IntP("limit", "l", 0, "Maximum number of versions")
	legacyCmd.Flags().BoolP("json", "j", false, "Output as JSON")
	viper.BindPFlag("versions.legacy.source", legacyCmd.Flags().Lookup("source"))
	viper.BindPFlag("versions.legacy.limit", legacyCmd.Flags().Lookup("limit"))
	viper.BindPFlag("versions.legacy.json", legacyCmd.Flags().Lookup("json"))
}

var versionsCmd = &cobra.Command{
	Use:           "versions <APP_ID>",
	Short:         "Page through the version history of an app",
	Args:          cobra.ExactArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	Example: heredoc.Doc(`
		# Whole history
		❯ ipastore versions 874139669

		# Resolve the build labels of the 5 versions before a version ID
		❯ ipastore versions 874139669 --start 858912345 --direction prev --count 5`),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		appID, err := parseAppID(args[0])
		if err != nil {
			return err
		}
		direction := viper.GetString("versions.direction")
		if direction != appstore.DirectionNext && direction != appstore.DirectionPrev {
			return fmt.Errorf("--direction must be 'next' or 'prev'")
		}
		count := viper.GetInt("versions.count")
		if count != -1 && (count < 1 || count > appstore.AppStoreSearchLimit) {
			return fmt.Errorf("--count must be between 1-%d", appstore.AppStoreSearchLimit)
		}

		client, closeFn, err := newClient(ctx)
		if err != nil {
			return err
		}
		defer closeFn()

		var s *spinner.Spinner
		if term.IsTerminal(int(os.Stderr.Fd())) {
			s = spinner.New(spinner.CharSets[38], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
			s.Prefix = color.BlueString("   • Resolving versions... ")
			s.Start()
		}
		page, err := client.Store.Versions(ctx, appstore.VersionsQuery{
			AppID:          appID,
			StartVersionID: viper.GetInt64("versions.start"),
			Direction:      direction,
			Count:          count,
		})
		if s != nil {
			s.Stop()
		}
		if err != nil {
			return err
		}
		if viper.GetBool("versions.json") {
			return printJSON(page)
		}
		for _, v := range page.Data {
			switch {
			case v.Err != "":
				fmt.Printf("%12d  %s\n", v.ID, color.RedString(v.Err))
			default:
				fmt.Printf("%12d  %s\n", v.ID, v.Label)
			}
		}
		fmt.Printf("%s %d\n", color.New(color.Faint).Sprint("total:"), page.Total)
		return nil
	},
}

var legacyCmd = &cobra.Command{
	Use:           "legacy <APP_ID>",
	Short:         "Version history from the third-party sources",
	Args:          cobra.ExactArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		if _, err := parseAppID(args[0]); err != nil {
			return err
		}

		client, closeFn, err := newClient(ctx)
		if err != nil {
			return err
		}
		defer closeFn()

		var hist *appstore.VersionHistory
		if source := viper.GetString("versions.legacy.source"); source != "" {
			hist, err = client.Versions.Lookup(ctx, args[0], source)
		} else {
			hist, err = client.Versions.Race(ctx, args[0], viper.GetInt("versions.legacy.limit"))
		}
		if err != nil {
			return fmt.Errorf("failed to query %s: %w", strings.Join(client.Versions.Sources(), ", "), err)
		}
		if viper.GetBool("versions.legacy.json") {
			return printJSON(hist)
		}
		for _, v := range hist.Data {
			fmt.Printf("%12d  %s\n", v.ID, v.Label)
		}
		fmt.Printf("%s %d (%s)\n", color.New(color.Faint).Sprint("total:"), hist.Total, hist.Source)
		return nil
	},
}
