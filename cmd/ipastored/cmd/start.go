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

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/apex/log"
	"github.com/blacktop/ipastore/internal/config"
	"github.com/blacktop/ipastore/internal/daemon"
	"github.com/caarlos0/ctrlc"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func init() {
	rootCmd.AddCommand(startCmd)

	startCmd.Flags().String("host", "", "Address to listen on")
	startCmd.Flags().IntP("port", "p", 0, "Port to listen on")
	startCmd.Flags().String("socket", "", "Unix socket to listen on")
	startCmd.Flags().Bool("debug", false, "Enable debug logging")
	startCmd.Flags().String("backend", "", "Cache backend (memory, local, keyring, sqlite, redis)")
	viper.BindPFlag("daemon.host", startCmd.Flags().Lookup("host"))
	viper.BindPFlag("daemon.port", startCmd.Flags().Lookup("port"))
	viper.BindPFlag("daemon.socket", startCmd.Flags().Lookup("socket"))
	viper.BindPFlag("daemon.debug", startCmd.Flags().Lookup("debug"))
	viper.BindPFlag("storage.backend", startCmd.Flags().Lookup("backend"))
}

// startCmd represents the start command
var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the daemon",
	Example: heredoc.Doc(`
		# Listen on the default unix socket
		❯ ipastored start

		# Listen on a TCP port with a sqlite cache
		❯ ipastored start --port 3000 --backend sqlite
	`),
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		conf, err := config.LoadConfig()
		if err != nil {
			return err
		}

		dae := daemon.NewDaemon(conf)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		if err := ctrlc.Default.Run(ctx, dae.Start); err != nil {
			if errors.As(err, &ctrlc.ErrorCtrlC{}) {
				log.Warn("Shutting down daemon...")
				return dae.Stop()
			}
			return err
		}
		return dae.Stop()
	},
}
