package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/daon-network/broker-gateway/internal/db"
	"github.com/daon-network/broker-gateway/internal/models"
)

var brokerFlags struct {
	dbPath           string
	domain           string
	name             string
	tier             string
	hourlyLimit      int64
	dailyLimit       int64
	requireSignature bool
	publicKey        string
	reason           string
	activate         bool
}

var brokerCmd = &cobra.Command{
	Use:   "broker",
	Short: "Manage registered brokers",
}

var brokerCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Register a new broker",
	RunE:  runBrokerCreate,
}

var brokerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered brokers",
	RunE:  runBrokerList,
}

var brokerActivateCmd = &cobra.Command{
	Use:   "activate <broker-id>",
	Short: "Mark a pending broker active",
	Args:  cobra.ExactArgs(1),
	RunE:  runBrokerActivate,
}

var brokerSuspendCmd = &cobra.Command{
	Use:   "suspend <broker-id>",
	Short: "Suspend a broker",
	Args:  cobra.ExactArgs(1),
	RunE:  runBrokerSuspend,
}

var brokerReinstateCmd = &cobra.Command{
	Use:   "reinstate <broker-id>",
	Short: "Lift a broker suspension",
	Args:  cobra.ExactArgs(1),
	RunE:  runBrokerReinstate,
}

var brokerRevokeCmd = &cobra.Command{
	Use:   "revoke <broker-id>",
	Short: "Permanently revoke a broker",
	Args:  cobra.ExactArgs(1),
	RunE:  runBrokerRevoke,
}

func init() {
	rootCmd.AddCommand(brokerCmd)
	brokerCmd.AddCommand(brokerCreateCmd, brokerListCmd, brokerActivateCmd, brokerSuspendCmd, brokerReinstateCmd, brokerRevokeCmd)

	brokerCmd.PersistentFlags().StringVar(&brokerFlags.dbPath, "db", getEnv("BROKERGATE_DB", "brokergate.db"), "database path")

	brokerCreateCmd.Flags().StringVar(&brokerFlags.domain, "domain", "", "broker domain (required, unique)")
	brokerCreateCmd.Flags().StringVar(&brokerFlags.name, "name", "", "broker display name")
	brokerCreateCmd.Flags().StringVar(&brokerFlags.tier, "tier", models.TierCommunity, "certification tier (community, standard, enterprise)")
	brokerCreateCmd.Flags().Int64Var(&brokerFlags.hourlyLimit, "hourly-limit", 1000, "max requests per hour")
	brokerCreateCmd.Flags().Int64Var(&brokerFlags.dailyLimit, "daily-limit", 10000, "max requests per day")
	brokerCreateCmd.Flags().BoolVar(&brokerFlags.requireSignature, "require-signature", false, "require Ed25519 request signatures")
	brokerCreateCmd.Flags().StringVar(&brokerFlags.publicKey, "public-key", "", "base64 Ed25519 public key")
	brokerCreateCmd.Flags().BoolVar(&brokerFlags.activate, "activate", false, "mark the broker active immediately")
	brokerCreateCmd.MarkFlagRequired("domain")

	brokerSuspendCmd.Flags().StringVar(&brokerFlags.reason, "reason", "manual suspension", "suspension reason")
}

func runBrokerCreate(cmd *cobra.Command, args []string) error {
	switch brokerFlags.tier {
	case models.TierCommunity, models.TierStandard, models.TierEnterprise:
	default:
		return fmt.Errorf("unknown tier %q", brokerFlags.tier)
	}
	if brokerFlags.requireSignature && brokerFlags.publicKey == "" {
		return fmt.Errorf("--require-signature needs --public-key")
	}

	database, err := db.Open(brokerFlags.dbPath)
	if err != nil {
		return err
	}
	defer database.Close()

	status := models.StatusPending
	if brokerFlags.activate {
		status = models.StatusActive
	}
	name := brokerFlags.name
	if name == "" {
		name = brokerFlags.domain
	}
	b := &models.Broker{
		Domain:           brokerFlags.domain,
		DisplayName:      name,
		Tier:             brokerFlags.tier,
		Status:           status,
		Enabled:          true,
		RateLimitHourly:  brokerFlags.hourlyLimit,
		RateLimitDaily:   brokerFlags.dailyLimit,
		RequireSignature: brokerFlags.requireSignature,
	}
	if brokerFlags.publicKey != "" {
		b.PublicKey = &brokerFlags.publicKey
	}

	id, err := db.CreateBroker(database, b)
	if err != nil {
		return fmt.Errorf("create broker: %w", err)
	}

	fmt.Printf("Broker created: id=%d domain=%s tier=%s status=%s\n", id, b.Domain, b.Tier, b.Status)
	if status == models.StatusPending {
		fmt.Println("Activate with: brokergate broker activate", id)
	}
	return nil
}

func runBrokerList(cmd *cobra.Command, args []string) error {
	database, err := db.Open(brokerFlags.dbPath)
	if err != nil {
		return err
	}
	defer database.Close()

	brokers, err := db.ListBrokers(database)
	if err != nil {
		return err
	}
	if len(brokers) == 0 {
		fmt.Println("No brokers registered.")
		return nil
	}

	fmt.Printf("%-5s %-30s %-12s %-10s %-8s %s\n", "ID", "DOMAIN", "TIER", "STATUS", "SIGNED", "CREATED")
	for _, b := range brokers {
		status := b.Status
		if b.SuspendedAt != nil {
			status = "suspended"
		}
		if b.RevokedAt != nil {
			status = "revoked"
		}
		fmt.Printf("%-5d %-30s %-12s %-10s %-8t %s\n",
			b.ID, b.Domain, b.Tier, status, b.RequireSignature,
			time.Unix(b.CreatedAt, 0).UTC().Format(time.RFC3339))
	}
	return nil
}

func runBrokerActivate(cmd *cobra.Command, args []string) error {
	id, err := parseBrokerID(args[0])
	if err != nil {
		return err
	}
	database, err := db.Open(brokerFlags.dbPath)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := db.ActivateBroker(database, id); err != nil {
		return err
	}
	fmt.Printf("Broker %d active.\n", id)
	return nil
}

func runBrokerSuspend(cmd *cobra.Command, args []string) error {
	id, err := parseBrokerID(args[0])
	if err != nil {
		return err
	}
	database, err := db.Open(brokerFlags.dbPath)
	if err != nil {
		return err
	}
	defer database.Close()

	performed, err := db.SuspendBroker(database, id, brokerFlags.reason)
	if err != nil {
		return err
	}
	if !performed {
		fmt.Fprintf(os.Stderr, "Broker %d is already suspended or revoked.\n", id)
		return nil
	}
	fmt.Printf("Broker %d suspended.\n", id)
	return nil
}

func runBrokerReinstate(cmd *cobra.Command, args []string) error {
	id, err := parseBrokerID(args[0])
	if err != nil {
		return err
	}
	database, err := db.Open(brokerFlags.dbPath)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := db.ReinstateBroker(database, id); err != nil {
		return err
	}
	fmt.Printf("Broker %d reinstated.\n", id)
	return nil
}

func runBrokerRevoke(cmd *cobra.Command, args []string) error {
	id, err := parseBrokerID(args[0])
	if err != nil {
		return err
	}
	database, err := db.Open(brokerFlags.dbPath)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := db.RevokeBroker(database, id); err != nil {
		return err
	}
	fmt.Printf("Broker %d revoked. Its API keys no longer authenticate.\n", id)
	return nil
}

func parseBrokerID(s string) (int64, error) {
	var id int64
	if _, err := fmt.Sscanf(s, "%d", &id); err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid broker id %q", s)
	}
	return id, nil
}
