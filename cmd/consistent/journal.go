// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/AleutianAI/consistent/pkg/consistent"
	"github.com/AleutianAI/consistent/pkg/journal"
	"github.com/AleutianAI/consistent/pkg/ux"
	"github.com/spf13/cobra"
)

var errNoJournal = errors.New("no journal configured: set journal.path or pass --path")

type journalFlags struct {
	path    string
	limit   int
	jsonOut bool
}

func newJournalCmd(a *app) *cobra.Command {
	f := &journalFlags{}
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "List the most recent reconciled batches",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJournal(cmd, a, f)
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&f.path, "path", "", "journal directory (overrides journal.path)")
	fl.IntVarP(&f.limit, "limit", "n", 20, "number of records, 0 for all")
	fl.BoolVar(&f.jsonOut, "json", false, "print records as JSON")
	return cmd
}

func runJournal(cmd *cobra.Command, a *app, f *journalFlags) error {
	jc := a.cfg.JournalConfig()
	if f.path != "" {
		jc.Path = f.path
		jc.InMemory = false
	}
	if jc.Path == "" {
		return errNoJournal
	}
	jc.Logger = a.logger.Slog()

	j, err := journal.Open(jc)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer j.Close()

	records, err := j.List(cmd.Context(), f.limit)
	if err != nil {
		return err
	}

	if f.jsonOut {
		if records == nil {
			records = []consistent.BatchRecord{}
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	}

	p := ux.NewPrinter(cmd.OutOrStdout())
	if len(records) == 0 {
		p.Status(ux.IconPending, "journal is empty")
		return nil
	}
	for _, rec := range records {
		icon := ux.IconSuccess
		if rec.Outcome == consistent.OutcomeRejected {
			icon = ux.IconWarning
		}
		p.Status(icon, fmt.Sprintf("#%d %s batch=%s intents=%d runtime=%s",
			rec.Seq, rec.Outcome, rec.BatchID, len(rec.Intents), rec.RuntimeID))
	}
	p.Summary("journal", []ux.Field{
		{Label: "records", Value: strconv.FormatUint(j.Len(), 10)},
		{Label: "shown", Value: strconv.Itoa(len(records))},
	})
	return nil
}
