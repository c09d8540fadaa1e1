package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/vanshika/wastelca/internal/generator"
)

func main() {
	cfg := generator.DefaultConfig()
	var (
		orgs         = flag.Int("organizations", cfg.NumOrganizations, "number of organizations to generate")
		clients      = flag.Int("clients", cfg.ClientsPerOrg, "clients per organization")
		vehicles     = flag.Int("vehicles", cfg.VehiclesPerOrg, "vehicles per organization")
		transactions = flag.Int("transactions", cfg.NumTransactions, "number of transaction lines to generate")
		year         = flag.Int("year", cfg.Year, "year the transactions fall into")
		nearMatch    = flag.Float64("near-match-chance", cfg.NearMatchChance, "probability that a descriptor deviates from the reference label")
		secondary    = flag.Float64("secondary-client-chance", cfg.SecondaryClientPct, "probability that an outbound line names a secondary client")
		seed         = flag.Int64("seed", cfg.Seed, "random seed for deterministic generation")
		outputDir    = flag.String("output-dir", "data", "directory to write the dataset files to")
		writeStdout  = flag.Bool("stdout", false, "write combined dataset to stdout instead of files")
	)
	flag.Parse()

	genCfg := generator.Config{
		NumOrganizations:   *orgs,
		ClientsPerOrg:      *clients,
		VehiclesPerOrg:     *vehicles,
		NumTransactions:    *transactions,
		Year:               *year,
		NearMatchChance:    clampProbability(*nearMatch),
		SecondaryClientPct: clampProbability(*secondary),
		Seed:               *seed,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	dataset, err := generator.New(genCfg).Generate(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "generation failed: %v\n", err)
		os.Exit(1)
	}

	if *writeStdout {
		if err := json.NewEncoder(os.Stdout).Encode(dataset); err != nil {
			fmt.Fprintf(os.Stderr, "failed to write dataset to stdout: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := generator.WriteDataset(dataset, *outputDir); err != nil {
		fmt.Fprintf(os.Stderr, "failed to write dataset: %v\n", err)
		os.Exit(1)
	}

	fmt.Fprintf(os.Stdout, "Generated %d organizations, %d entities and %d transactions into %s\n",
		len(dataset.Organizations), len(dataset.Entities), len(dataset.Transactions), *outputDir)
}

func clampProbability(value float64) float64 {
	if value < 0 {
		return 0
	}
	if value > 1 {
		return 1
	}
	return value
}
