package kv

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/polystore/polystore/lib/storage"
	"github.com/spf13/cobra"
)

var (
	createCmd = &cobra.Command{
		Use:   "create [key] [document]",
		Short: "Creates a record (document given as JSON)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			doc, err := parseDoc(args[1])
			if err != nil {
				return err
			}
			if created, err := store.Create(cmd.Context(), key, doc); err != nil {
				return err
			} else if !created {
				fmt.Printf("key=%s already exists\n", key)
			} else {
				fmt.Println("created successfully")
			}
			return nil
		},
	}
	getCmd = &cobra.Command{
		Use:   "get [key]",
		Short: "Reads the record for a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			record, err := store.FindOne(cmd.Context(), storage.Match{Key: key})
			if err != nil {
				return err
			}
			if record == nil {
				fmt.Printf("key=%s, found=false\n", key)
				return nil
			}
			return printJSON(record)
		},
	}
	findCmd = &cobra.Command{
		Use:   "find [prefix]",
		Short: "Lists all records, optionally restricted to a key prefix",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := storage.Match{}
			if len(args) == 1 {
				filter.Prefix = args[0]
			}
			records, err := store.Find(cmd.Context(), filter)
			if err != nil {
				return err
			}
			fmt.Printf("found %d record(s)\n", len(records))
			return printJSON(records)
		},
	}
	updateCmd = &cobra.Command{
		Use:   "update [key] [document]",
		Short: "Merges a JSON document into the record for a key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			doc, err := parseDoc(args[1])
			if err != nil {
				return err
			}
			if updated, err := store.UpdateOne(cmd.Context(), storage.Match{Key: key}, doc); err != nil {
				return err
			} else if !updated {
				fmt.Printf("key=%s, found=false\n", key)
			} else {
				fmt.Println("updated successfully")
			}
			return nil
		},
	}
	delCmd = &cobra.Command{
		Use:   "del [key]",
		Short: "Deletes the record for a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			if deleted, err := store.Delete(cmd.Context(), storage.Match{Key: key}); err != nil {
				return err
			} else if !deleted {
				fmt.Printf("key=%s, found=false\n", key)
			} else {
				fmt.Println("deleted successfully")
			}
			return nil
		},
	}
	infoCmd = &cobra.Command{
		Use:   "info",
		Short: "Prints metadata about the bound backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return printJSON(store.Info())
		},
	}
	watchCmd = &cobra.Command{
		Use:   "watch [operation...]",
		Short: "Streams change notifications until interrupted (defaults to all mutating operations)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ops, err := resolveOps(args)
			if err != nil {
				return err
			}

			listener := func(ev storage.Event) {
				_ = printJSON(ev)
			}
			for _, op := range ops {
				if err := store.On(op, listener); err != nil {
					return err
				}
			}

			fmt.Println("watching... (ctrl-c to stop)")
			sig := make(chan os.Signal, 1)
			signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

			select {
			case <-sig:
			case <-cmd.Context().Done():
			}

			for _, op := range ops {
				_ = store.Off(op, listener)
			}
			return nil
		},
	}
)

// parseDoc parses a command line argument as a JSON document
func parseDoc(arg string) (map[string]interface{}, error) {
	var doc map[string]interface{}
	if err := json.Unmarshal([]byte(arg), &doc); err != nil {
		return nil, fmt.Errorf("document must be a JSON object: %w", err)
	}
	return doc, nil
}

// printJSON prints a value as indented JSON
func printJSON(v interface{}) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

// resolveOps maps operation names to their flags, defaulting to every
// mutating operation the backend supports
func resolveOps(names []string) ([]storage.Operation, error) {
	supported := store.Info().Capabilities & storage.OpsMutating

	if len(names) == 0 {
		return supported.Each(), nil
	}

	ops := make([]storage.Operation, 0, len(names))
	for _, name := range names {
		found := false
		for _, op := range storage.OpsMutating.Each() {
			if op.String() == name {
				if !supported.Contains(op) {
					return nil, fmt.Errorf("operation %s is not supported by this backend", name)
				}
				ops = append(ops, op)
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("unknown operation %s", name)
		}
	}
	return ops, nil
}
