package cmd

import (
	"context"

	"github.com/maastricht-university/edmo-mood/orchestrator"
	"github.com/maastricht-university/edmo-mood/server"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Watch the camera and expose the emotion signal over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWatch(cmd.Context(), func(ctx context.Context, s *stack, p *orchestrator.Poller) error {
			h := server.NewHandler(p, s.modelInfo, log)
			return server.Serve(ctx, conf.Server.Addr, h.Mux(), log)
		})
	},
}

func init() {
	f := serveCmd.Flags()
	f.String("addr", "", "listen address (overrides server.addr)")
	f.BoolVar(&noExport, "no-export", false, "skip writing the history bundle on exit")
	v.BindPFlag("server.addr", f.Lookup("addr"))
	rootCmd.AddCommand(serveCmd)
}
