// ghostctl drives a ghostcart service from the command line: sign and
// submit intents, watch monitoring jobs, and inspect the audit trail.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"ghostcart/pkg/mandate"
	"ghostcart/sdk/go/ghostcart"
)

const usage = `usage:
  ghostctl intent submit --user <id> --secret <user_secret> --query <text> --max-price-cents <n> [--max-delivery-days <n>] [--expires-in <duration>]
  ghostctl jobs list --user <id> [--active]
  ghostctl jobs cancel --job <id> --user <id>
  ghostctl txns list [--user <id>]
  ghostctl products search [--query <text>] [--max-price-cents <n>]

  --base-url defaults to $GHOSTCART_URL or http://localhost:8000`

func main() {
	if len(os.Args) < 3 {
		fail(usage)
	}
	switch os.Args[1] + " " + os.Args[2] {
	case "intent submit":
		runIntentSubmit(os.Args[3:])
	case "jobs list":
		runJobsList(os.Args[3:])
	case "jobs cancel":
		runJobsCancel(os.Args[3:])
	case "txns list":
		runTxnsList(os.Args[3:])
	case "products search":
		runProductsSearch(os.Args[3:])
	default:
		fail(usage)
	}
}

func baseURLFlag(fs *flag.FlagSet) *string {
	def := os.Getenv("GHOSTCART_URL")
	if def == "" {
		def = "http://localhost:8000"
	}
	return fs.String("base-url", def, "service base url")
}

func runIntentSubmit(args []string) {
	fs := flag.NewFlagSet("intent submit", flag.ExitOnError)
	baseURL := baseURLFlag(fs)
	user := fs.String("user", "", "user id")
	secret := fs.String("secret", "", "user signing secret")
	query := fs.String("query", "", "product query")
	maxPrice := fs.Int64("max-price-cents", 0, "landed-cost ceiling in cents")
	maxDelivery := fs.Int("max-delivery-days", 5, "delivery ceiling in days")
	expiresIn := fs.Duration("expires-in", 24*time.Hour, "authorization window")
	_ = fs.Parse(args)
	if *user == "" || *secret == "" || *query == "" || *maxPrice <= 0 {
		fail("--user, --secret, --query, and --max-price-cents are required")
	}

	exp := time.Now().UTC().Add(*expiresIn)
	intent := &mandate.Intent{
		MandateID:    mandate.NewIntentID(mandate.ScenarioDeferred),
		MandateType:  "intent",
		UserID:       *user,
		Scenario:     mandate.ScenarioDeferred,
		ProductQuery: *query,
		Constraints: &mandate.Constraints{
			MaxPriceCents:   *maxPrice,
			MaxDeliveryDays: *maxDelivery,
			Currency:        "USD",
		},
		Expiration: &exp,
	}
	signer := ghostcart.NewSigner(*user, *secret)
	if err := signer.SignIntent(intent); err != nil {
		fail("sign intent: " + err.Error())
	}

	resp, err := ghostcart.NewClient(*baseURL).SubmitIntent(context.Background(), intent)
	if err != nil {
		fail(err.Error())
	}
	printJSON(map[string]any{
		"status":         "SUBMITTED",
		"intent_id":      resp.Intent.MandateID,
		"monitoring_job": resp.MonitoringJob,
	})
}

func runJobsList(args []string) {
	fs := flag.NewFlagSet("jobs list", flag.ExitOnError)
	baseURL := baseURLFlag(fs)
	user := fs.String("user", "", "user id")
	active := fs.Bool("active", false, "active jobs only")
	_ = fs.Parse(args)
	if *user == "" {
		fail("--user is required")
	}

	jobs, err := ghostcart.NewClient(*baseURL).ListJobs(context.Background(), *user, *active)
	if err != nil {
		fail(err.Error())
	}
	printJSON(map[string]any{"jobs": jobs})
}

func runJobsCancel(args []string) {
	fs := flag.NewFlagSet("jobs cancel", flag.ExitOnError)
	baseURL := baseURLFlag(fs)
	jobID := fs.String("job", "", "job id")
	user := fs.String("user", "", "user id")
	_ = fs.Parse(args)
	if *jobID == "" || *user == "" {
		fail("--job and --user are required")
	}

	job, err := ghostcart.NewClient(*baseURL).CancelJob(context.Background(), *jobID, *user)
	if err != nil {
		fail(err.Error())
	}
	printJSON(map[string]any{"status": "CANCELLED", "job": job})
}

func runTxnsList(args []string) {
	fs := flag.NewFlagSet("txns list", flag.ExitOnError)
	baseURL := baseURLFlag(fs)
	user := fs.String("user", "", "user id (optional)")
	_ = fs.Parse(args)

	txns, err := ghostcart.NewClient(*baseURL).ListTransactions(context.Background(), *user)
	if err != nil {
		fail(err.Error())
	}
	printJSON(map[string]any{"transactions": txns})
}

func runProductsSearch(args []string) {
	fs := flag.NewFlagSet("products search", flag.ExitOnError)
	baseURL := baseURLFlag(fs)
	query := fs.String("query", "", "product query")
	maxPrice := fs.Int64("max-price-cents", 0, "sticker price ceiling")
	_ = fs.Parse(args)

	products, err := ghostcart.NewClient(*baseURL).SearchProducts(context.Background(), *query, *maxPrice)
	if err != nil {
		fail(err.Error())
	}
	printJSON(map[string]any{"products": products})
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func fail(message string) {
	fmt.Fprintln(os.Stderr, strings.TrimSpace(message))
	os.Exit(1)
}
