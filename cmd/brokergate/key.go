package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/daon-network/broker-gateway/internal/auth"
	"github.com/daon-network/broker-gateway/internal/db"
)

var keyFlags struct {
	dbPath   string
	brokerID int64
	scopes   []string
	ttl      time.Duration
}

var keyCmd = &cobra.Command{
	Use:   "key",
	Short: "Manage broker API keys",
}

var keyIssueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Issue an API key for a broker",
	RunE:  runKeyIssue,
}

var keyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a broker's API keys",
	RunE:  runKeyList,
}

var keyRevokeCmd = &cobra.Command{
	Use:   "revoke <key-id>",
	Short: "Revoke an API key",
	Args:  cobra.ExactArgs(1),
	RunE:  runKeyRevoke,
}

func init() {
	rootCmd.AddCommand(keyCmd)
	keyCmd.AddCommand(keyIssueCmd, keyListCmd, keyRevokeCmd)

	keyCmd.PersistentFlags().StringVar(&keyFlags.dbPath, "db", getEnv("BROKERGATE_DB", "brokergate.db"), "database path")

	keyIssueCmd.Flags().Int64Var(&keyFlags.brokerID, "broker", 0, "broker id (required)")
	keyIssueCmd.Flags().StringSliceVar(&keyFlags.scopes, "scope", []string{"content:write", "content:read"}, "granted scopes")
	keyIssueCmd.Flags().DurationVar(&keyFlags.ttl, "ttl", 0, "key lifetime (0 = no expiry)")
	keyIssueCmd.MarkFlagRequired("broker")

	keyListCmd.Flags().Int64Var(&keyFlags.brokerID, "broker", 0, "broker id (required)")
	keyListCmd.MarkFlagRequired("broker")
}

func runKeyIssue(cmd *cobra.Command, args []string) error {
	database, err := db.Open(keyFlags.dbPath)
	if err != nil {
		return err
	}
	defer database.Close()

	broker, err := db.GetBroker(database, keyFlags.brokerID)
	if err != nil {
		return err
	}
	if broker == nil {
		return fmt.Errorf("broker %d not found", keyFlags.brokerID)
	}
	if broker.RevokedAt != nil {
		return fmt.Errorf("broker %d is revoked", keyFlags.brokerID)
	}

	displayKey, prefix, hash, err := auth.GenerateCredential()
	if err != nil {
		return fmt.Errorf("generate credential: %w", err)
	}

	var expiresAt *int64
	if keyFlags.ttl > 0 {
		t := time.Now().Add(keyFlags.ttl).Unix()
		expiresAt = &t
	}

	id, err := db.CreateAPIKey(database, broker.ID, prefix, hash, keyFlags.scopes, expiresAt)
	if err != nil {
		return fmt.Errorf("store key: %w", err)
	}

	fmt.Printf("API KEY CREATED for %s (save this, it will not be shown again):\n", broker.Domain)
	fmt.Println(displayKey)
	fmt.Println()
	fmt.Printf("  key id:  %d\n", id)
	fmt.Printf("  prefix:  %s\n", prefix)
	fmt.Printf("  scopes:  %s\n", strings.Join(keyFlags.scopes, ", "))
	if expiresAt != nil {
		fmt.Printf("  expires: %s\n", time.Unix(*expiresAt, 0).UTC().Format(time.RFC3339))
	}
	return nil
}

func runKeyList(cmd *cobra.Command, args []string) error {
	database, err := db.Open(keyFlags.dbPath)
	if err != nil {
		return err
	}
	defer database.Close()

	keys, err := db.ListAPIKeysByBroker(database, keyFlags.brokerID)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		fmt.Println("No keys issued.")
		return nil
	}

	fmt.Printf("%-5s %-14s %-10s %-10s %s\n", "ID", "PREFIX", "REQUESTS", "STATE", "LAST USED")
	for _, k := range keys {
		state := "live"
		if k.RevokedAt != nil {
			state = "revoked"
		} else if k.ExpiresAt != nil && *k.ExpiresAt <= time.Now().Unix() {
			state = "expired"
		}
		lastUsed := "-"
		if k.LastUsedAt != nil {
			lastUsed = time.Unix(*k.LastUsedAt, 0).UTC().Format(time.RFC3339)
		}
		fmt.Printf("%-5d %-14s %-10d %-10s %s\n", k.ID, k.KeyPrefix, k.RequestCount, state, lastUsed)
	}

	total, err := db.CountAPIKeys(database)
	if err != nil {
		return err
	}
	fmt.Printf("\n%d unrevoked keys across all brokers\n", total)
	return nil
}

func runKeyRevoke(cmd *cobra.Command, args []string) error {
	id, err := parseBrokerID(args[0])
	if err != nil {
		return fmt.Errorf("invalid key id %q", args[0])
	}
	database, err := db.Open(keyFlags.dbPath)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := db.RevokeAPIKey(database, id); err != nil {
		return err
	}
	fmt.Printf("Key %d revoked.\n", id)
	return nil
}
