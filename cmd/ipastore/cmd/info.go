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
	"strconv"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/apex/log"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func init() {
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(purchaseCmd)

	infoCmd.Flags().Int64P("version-id", "v", 0, "External version ID (default is the latest)")
	infoCmd.Flags().BoolP("json", "j", false, "Output as JSON")
	viper.BindPFlag("info.version-id", infoCmd.Flags().Lookup("version-id"))
	viper.BindPFlag("info.json", infoCmd.Flags().Lookup("json"))
}

func parseAppID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid app ID: %s", arg)
	}
	return id, nil
}

var infoCmd = &cobra.Command{
	Use:           "info <APP_ID>",
	Short:         "Get the download information of an app version",
	Args:          cobra.ExactArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	Example: heredoc.Doc(`
		# Latest version
		❯ ipastore info 874139669

		# A specific version
		❯ ipastore info 874139669 --version-id 858912345 --json`),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		appID, err := parseAppID(args[0])
		if err != nil {
			return err
		}

		client, closeFn, err := newClient(ctx)
		if err != nil {
			return err
		}
		defer closeFn()

		info, err := client.Store.AppInfo(ctx, appID, viper.GetInt64("info.version-id"))
		if err != nil {
			return err
		}
		if viper.GetBool("info.json") {
			return printJSON(info)
		}
		fmt.Printf("%s %s\n", color.New(color.Bold, color.FgHiBlue).Sprint(info.Name), color.New(color.Faint).Sprintf("(%s)", info.BundleID))
		fmt.Printf("    Version:     %s (%s)\n", info.DisplayVersion, info.BuildVersion)
		fmt.Printf("    Version ID:  %d\n", info.ExternalVersionID)
		fmt.Printf("    Versions:    %d\n", len(info.ExternalVersionIDList))
		fmt.Printf("    Minimum OS:  %s\n", info.MinimumOSVersion)
		fmt.Printf("    Size:        %s\n", info.FileSizeHuman)
		fmt.Printf("    URL:         %s\n", info.URL)
		return nil
	},
}

var purchaseCmd = &cobra.Command{
	Use:           "purchase <APP_ID>",
	Short:         "Acquire a license for a free app",
	Args:          cobra.ExactArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		appID, err := parseAppID(args[0])
		if err != nil {
			return err
		}

		client, closeFn, err := newClient(ctx)
		if err != nil {
			return err
		}
		defer closeFn()

		if _, err := client.Store.Purchase(ctx, appID); err != nil {
			return err
		}
		log.WithField("app", appID).Info("Purchase request has been submitted")
		return nil
	},
}
