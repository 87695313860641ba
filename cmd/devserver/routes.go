package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"lambda-route-proxy/internal/config"
	"lambda-route-proxy/internal/exampleapp"
	"lambda-route-proxy/internal/router"
)

func newRoutesCmd(opts *serveOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "routes",
		Short: "Validate the route table and print it",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*opts)
			if err != nil {
				return err
			}
			routes, err := config.LoadRouteConfig(cfg.RoutesFile)
			if err != nil {
				return err
			}

			logger := config.NewLogger(cfg.Log)
			logger.SetLevel(logrus.ErrorLevel)
			table, err := router.NewTable(routes, exampleapp.NewRegistry(nil, cfg.RateLimit), logger)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "METHOD\tPATH\tHANDLER\tAUTH\tBOUND")
			for _, route := range table.Routes() {
				fmt.Fprintf(w, "%s\t%s\t%s\t%v\t%v\n",
					route.Method, route.Path, route.Handler, table.RequiresAuth(route), route.Module() != nil)
			}
			return w.Flush()
		},
	}
}
