package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"storeops/pkg/domain"
	"storeops/pkg/store"
	"storeops/pkg/tenant"
)

func openStore() (*store.GormStore, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return store.NewGormStore(cfg.DatabaseURL)
}

func storesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stores",
		Short: "Register stores and sender bindings",
	}
	cmd.AddCommand(storesAddCmd(), storesShowCmd(), storesLinkCmd())
	return cmd
}

func storesAddCmd() *cobra.Command {
	var (
		name     string
		sheetID  string
		vendors  []string
		inactive bool
	)
	cmd := &cobra.Command{
		Use:   "add <store-code>",
		Short: "Create or replace a store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := buildStore(args[0], name, sheetID, vendors, !inactive)
			if err != nil {
				return err
			}
			db, err := openStore()
			if err != nil {
				return err
			}
			defer db.Close()
			if err := db.SaveStore(cmd.Context(), st); err != nil {
				return fmt.Errorf("save store: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), st)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&sheetID, "sheet", "", "spreadsheet id receiving confirmed records")
	cmd.Flags().StringArrayVar(&vendors, "vendor", nil, "vendor contact as NAME=PHONE (repeatable)")
	cmd.Flags().BoolVar(&inactive, "inactive", false, "register the store as inactive")
	_ = cmd.MarkFlagRequired("sheet")
	return cmd
}

func storesShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <store-code>",
		Short: "Print a registered store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openStore()
			if err != nil {
				return err
			}
			defer db.Close()
			st, found, err := db.GetStore(cmd.Context(), strings.ToUpper(strings.TrimSpace(args[0])))
			if err != nil {
				return fmt.Errorf("get store: %w", err)
			}
			if !found {
				return fmt.Errorf("store %s not found", args[0])
			}
			return printJSON(cmd.OutOrStdout(), st)
		},
	}
}

func storesLinkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "link <sender-id> <store-code>",
		Short: "Bind a sender to a store",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openStore()
			if err != nil {
				return err
			}
			defer db.Close()
			st, err := tenant.NewResolver(db, db).Link(cmd.Context(), strings.TrimSpace(args[0]), args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s linked to %s (%s)\n", args[0], st.ID, st.Name)
			return nil
		},
	}
}

// buildStore validates flag input into a domain.Store.
func buildStore(code, name, sheetID string, vendors []string, active bool) (domain.Store, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return domain.Store{}, fmt.Errorf("store code required")
	}
	if codes := tenant.StoreCodes(code); len(codes) != 1 || codes[0] != code {
		return domain.Store{}, fmt.Errorf("store code %q must look like S001", code)
	}
	sheetID = strings.TrimSpace(sheetID)
	if sheetID == "" {
		return domain.Store{}, fmt.Errorf("sheet id required")
	}
	contacts := make(map[string]string, len(vendors))
	for _, v := range vendors {
		vendor, phone, ok := strings.Cut(v, "=")
		vendor, phone = strings.TrimSpace(vendor), strings.TrimSpace(phone)
		if !ok || vendor == "" || phone == "" {
			return domain.Store{}, fmt.Errorf("invalid vendor %q (want NAME=PHONE)", v)
		}
		contacts[vendor] = phone
	}
	if strings.TrimSpace(name) == "" {
		name = code
	}
	now := time.Now().UTC()
	return domain.Store{
		ID:             code,
		Name:           strings.TrimSpace(name),
		SheetID:        sheetID,
		VendorContacts: contacts,
		Active:         active,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}
