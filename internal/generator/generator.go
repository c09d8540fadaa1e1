package generator

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vanshika/wastelca/internal/service"
)

// Dataset contains the generated organizations, reference entities and
// transaction lines.
type Dataset struct {
	Organizations []service.OrganizationInput `json:"organizations"`
	Entities      []service.EntityInput       `json:"entities"`
	Transactions  []service.TransactionInput  `json:"transactions"`
}

// Generator produces synthetic imports whose descriptors only approximately
// match the reference labels, so candidate ranking has work to do.
type Generator struct {
	cfg       Config
	rand      *rand.Rand
	fragments nameFragments
}

// New returns a configured Generator instance.
func New(cfg Config) *Generator {
	defaults := DefaultConfig()
	if cfg.NumOrganizations <= 0 {
		cfg.NumOrganizations = defaults.NumOrganizations
	}
	if cfg.ClientsPerOrg <= 0 {
		cfg.ClientsPerOrg = defaults.ClientsPerOrg
	}
	if cfg.VehiclesPerOrg <= 0 {
		cfg.VehiclesPerOrg = defaults.VehiclesPerOrg
	}
	if cfg.NumTransactions <= 0 {
		cfg.NumTransactions = defaults.NumTransactions
	}
	if cfg.Year <= 0 {
		cfg.Year = defaults.Year
	}
	if cfg.NearMatchChance < 0 {
		cfg.NearMatchChance = 0
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}

	return &Generator{
		cfg:       cfg,
		rand:      rand.New(rand.NewSource(cfg.Seed)),
		fragments: defaultNameFragments(),
	}
}

type orgPools struct {
	inbound  []service.EntityInput
	outbound []service.EntityInput
	vehicles []service.EntityInput
}

// Generate synthesises a dataset. It respects context cancellation.
func (g *Generator) Generate(ctx context.Context) (Dataset, error) {
	var ds Dataset

	items := make([]service.EntityInput, 0, len(g.fragments.items))
	for i, label := range g.fragments.items {
		item := service.EntityInput{
			ID:    g.newID(),
			Kind:  "line_item",
			Code:  fmt.Sprintf("EWC-%02d", i+1),
			Label: label,
		}
		items = append(items, item)
		ds.Entities = append(ds.Entities, item)
	}

	pools := make(map[string]*orgPools, g.cfg.NumOrganizations)
	orgCodes := make([]string, 0, g.cfg.NumOrganizations)
	for i := 0; i < g.cfg.NumOrganizations; i++ {
		if err := ctx.Err(); err != nil {
			return Dataset{}, err
		}
		code := fmt.Sprintf("ORG%d", i+1)
		orgCodes = append(orgCodes, code)
		ds.Organizations = append(ds.Organizations, service.OrganizationInput{
			Code: code,
			Name: g.companyName() + " Waste Services",
		})

		pool := &orgPools{}
		for j := 0; j < g.cfg.ClientsPerOrg; j++ {
			direction := "inbound"
			if j%2 == 1 {
				direction = "outbound"
			}
			client := service.EntityInput{
				ID:               g.newID(),
				Kind:             "client",
				Code:             fmt.Sprintf("%s-C%03d", code, j+1),
				Label:            g.companyName(),
				OrganizationCode: code,
				Direction:        direction,
			}
			if direction == "inbound" {
				pool.inbound = append(pool.inbound, client)
			} else {
				pool.outbound = append(pool.outbound, client)
			}
			ds.Entities = append(ds.Entities, client)
		}
		for j := 0; j < g.cfg.VehiclesPerOrg; j++ {
			vehicle := service.EntityInput{
				ID:               g.newID(),
				Kind:             "vehicle",
				Code:             g.plate(),
				Label:            g.fragments.vehicles[g.rand.Intn(len(g.fragments.vehicles))],
				OrganizationCode: code,
				Capacity:         decimal.NewFromInt(int64(4 + g.rand.Intn(22))),
				Unit:             "t",
			}
			pool.vehicles = append(pool.vehicles, vehicle)
			ds.Entities = append(ds.Entities, vehicle)
		}
		pools[code] = pool
	}

	lineCounter := make(map[string]int)
	ds.Transactions = make([]service.TransactionInput, 0, g.cfg.NumTransactions)
	for i := 0; i < g.cfg.NumTransactions; i++ {
		if err := ctx.Err(); err != nil {
			return Dataset{}, err
		}
		org := orgCodes[g.rand.Intn(len(orgCodes))]
		pool := pools[org]

		direction := "inbound"
		clients := pool.inbound
		if g.rand.Float64() < 0.4 && len(pool.outbound) > 0 {
			direction = "outbound"
			clients = pool.outbound
		}

		document := fmt.Sprintf("%s-%d-%05d", org, g.cfg.Year, 1+g.rand.Intn(g.cfg.NumTransactions/3+1))
		lineCounter[document]++

		item := items[g.rand.Intn(len(items))]
		client := clients[g.rand.Intn(len(clients))]
		descriptors := []string{g.describe(item.Label), g.describe(client.Label)}
		if len(pool.vehicles) > 0 {
			vehicle := pool.vehicles[g.rand.Intn(len(pool.vehicles))]
			descriptors = append(descriptors, g.describe(vehicle.Code))
		}
		if direction == "outbound" && g.rand.Float64() < g.cfg.SecondaryClientPct {
			descriptors = append(descriptors, "via "+g.describe(g.companyName()))
		}

		ds.Transactions = append(ds.Transactions, service.TransactionInput{
			OrganizationCode: org,
			Direction:        direction,
			DocumentNumber:   document,
			LineNumber:       lineCounter[document],
			OccurredOn:       time.Date(g.cfg.Year, time.Month(1+g.rand.Intn(12)), 1+g.rand.Intn(28), 0, 0, 0, 0, time.UTC),
			Descriptors:      descriptors,
			Weight:           decimal.NewFromFloat(0.05 + g.rand.Float64()*12).Round(3),
			Unit:             "t",
		})
	}

	return ds, nil
}

// newID draws a v4 UUID from the seeded source so runs are reproducible.
func (g *Generator) newID() string {
	id, err := uuid.NewRandomFromReader(g.rand)
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// describe returns label as an operator would type it: sometimes exact,
// sometimes abbreviated, re-cased or with a typo.
func (g *Generator) describe(label string) string {
	if g.rand.Float64() >= g.cfg.NearMatchChance {
		return label
	}
	switch g.rand.Intn(4) {
	case 0:
		return strings.ToUpper(label)
	case 1:
		return g.typo(label)
	case 2:
		return abbreviate(label)
	default:
		return strings.ToLower(label) + " " + g.fragments.suffixes[g.rand.Intn(len(g.fragments.suffixes))]
	}
}

func (g *Generator) typo(label string) string {
	runes := []rune(label)
	if len(runes) < 4 {
		return label
	}
	i := 1 + g.rand.Intn(len(runes)-2)
	switch g.rand.Intn(3) {
	case 0:
		runes[i], runes[i+1] = runes[i+1], runes[i]
	case 1:
		runes = append(runes[:i], runes[i+1:]...)
	default:
		runes = append(runes[:i+1], runes[i:]...)
	}
	return string(runes)
}

func abbreviate(label string) string {
	words := strings.Fields(label)
	for i, w := range words {
		if len(w) > 5 {
			words[i] = w[:4] + "."
		}
	}
	return strings.Join(words, " ")
}

func (g *Generator) companyName() string {
	return fmt.Sprintf("%s %s", g.fragments.prefixes[g.rand.Intn(len(g.fragments.prefixes))],
		g.fragments.trades[g.rand.Intn(len(g.fragments.trades))])
}

func (g *Generator) plate() string {
	letters := "ABCDEFGHJKLMNPRSTUVWXYZ"
	return fmt.Sprintf("%c%c-%04d", letters[g.rand.Intn(len(letters))], letters[g.rand.Intn(len(letters))], g.rand.Intn(10000))
}

type nameFragments struct {
	items    []string
	prefixes []string
	trades   []string
	vehicles []string
	suffixes []string
}

func defaultNameFragments() nameFragments {
	return nameFragments{
		items: []string{
			"Mixed Paper", "Cardboard Packaging", "Clear Glass", "Green Glass", "PET Bottles",
			"HDPE Containers", "Aluminium Cans", "Ferrous Scrap", "Wood Pallets", "Food Waste",
			"Garden Waste", "Construction Rubble", "Electronic Waste", "Textiles", "Residual Waste",
		},
		prefixes: []string{"Northside", "Riverbend", "Greenfield", "Harbor", "Summit", "Oakridge", "Lakeshore", "Westgate", "Pinecrest", "Eastbrook"},
		trades:   []string{"Logistics", "Foods", "Manufacturing", "Retail", "Construction", "Hospital", "Hotels", "Printing", "Brewery", "Plastics"},
		vehicles: []string{"Rear Loader", "Roll-off Truck", "Skip Loader", "Compactor", "Box Van", "Hooklift"},
		suffixes: []string{"ltd", "gmbh", "inc", "co", "bale", "loose"},
	}
}
