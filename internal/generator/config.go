package generator

// Config drives the synthetic data generator.
type Config struct {
	NumOrganizations   int
	ClientsPerOrg      int
	VehiclesPerOrg     int
	NumTransactions    int
	Year               int
	NearMatchChance    float64
	SecondaryClientPct float64
	Seed               int64
}

// DefaultConfig returns settings that produce a small but realistic import:
// a few organizations, one year of movements and noisy descriptors.
func DefaultConfig() Config {
	return Config{
		NumOrganizations:   3,
		ClientsPerOrg:      25,
		VehiclesPerOrg:     6,
		NumTransactions:    5000,
		Year:               2024,
		NearMatchChance:    0.4,
		SecondaryClientPct: 0.3,
		Seed:               42,
	}
}
