package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"bitbucket.org/mmdatafocus/retail_backend/config"
	"bitbucket.org/mmdatafocus/retail_backend/models"
	"bitbucket.org/mmdatafocus/retail_backend/workflow"
	"github.com/sirupsen/logrus"
)

// Cross-checks every product of a business (or all businesses) against the
// stock invariant: summary balance == total_in - total_out == open layer
// quantity == ledger sum. Exit code 1 when any product disagrees.
func main() {
	businessID := flag.String("business-id", "", "Optional: business id (uuid); defaults to all businesses")
	flag.Parse()

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}
	logger := logrus.New()
	ctx := context.Background()

	var businessIDs []string
	if strings.TrimSpace(*businessID) != "" {
		businessIDs = []string{strings.TrimSpace(*businessID)}
	} else {
		var businesses []*models.Business
		if err := db.Find(&businesses).Error; err != nil {
			fmt.Fprintf(os.Stderr, "list businesses: %v\n", err)
			os.Exit(1)
		}
		for _, b := range businesses {
			businessIDs = append(businessIDs, b.ID.String())
		}
	}

	broken := 0
	for _, id := range businessIDs {
		inconsistencies, err := workflow.VerifyStockConsistency(ctx, db, logger, id)
		if err != nil {
			fmt.Fprintf(os.Stderr, "verify business %s: %v\n", id, err)
			os.Exit(1)
		}
		if len(inconsistencies) == 0 {
			fmt.Printf("business %s: OK\n", id)
			continue
		}
		broken++
		fmt.Printf("business %s: %d product(s) inconsistent\n", id, len(inconsistencies))
		for _, inc := range inconsistencies {
			fmt.Printf("  product %d: summary=%s in-out=%s layers=%s ledger=%s\n",
				inc.ProductId,
				inc.SummaryBalance.String(),
				inc.SummaryInOut.String(),
				inc.LayerBalance.String(),
				inc.LedgerBalance.String())
		}
	}

	if broken > 0 {
		os.Exit(1)
	}
}
