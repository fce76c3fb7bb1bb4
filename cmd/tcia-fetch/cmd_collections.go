package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/medcohort/tcia-fetch/internal/subspecialty"
)

var collectionsMapped bool

// collectionsCmd lists the collections the archive currently offers.
var collectionsCmd = &cobra.Command{
	Use:   "collections",
	Short: "List available collections",
	RunE:  runCollections,
}

func init() {
	collectionsCmd.Flags().BoolVar(&collectionsMapped, "mapped", false, "List from the subspecialty map instead of querying the API")
}

func runCollections(cmd *cobra.Command, args []string) error {
	if collectionsMapped {
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		defer w.Flush()
		fmt.Fprintln(w, "COLLECTION\tSUBSPECIALTIES")
		for _, c := range subspecialty.All() {
			fmt.Fprintf(w, "%s\t%s\n", c, strings.Join(subspecialty.Lookup(c), ","))
		}
		return nil
	}

	client, err := newClient()
	if err != nil {
		return err
	}
	names, err := client.ListCollections(cmd.Context())
	if err != nil {
		return err
	}
	for _, name := range names {
		fmt.Println(name)
	}
	return nil
}
