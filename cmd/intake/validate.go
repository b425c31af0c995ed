package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Mindburn-Labs/intake/pkg/contracts"
	"github.com/Mindburn-Labs/intake/pkg/schema"
	"github.com/Mindburn-Labs/intake/pkg/validation"
)

// ErrDataInvalid is returned after the report when the data failed validation.
var ErrDataInvalid = errors.New("data does not satisfy the definition")

// ValidationReport is what validate prints.
type ValidationReport struct {
	DefinitionID string                 `json:"definitionId"`
	Valid        bool                   `json:"valid"`
	Summary      string                 `json:"summary,omitempty"`
	Errors       []contracts.FieldError `json:"errors,omitempty"`
	NextActions  []contracts.NextAction `json:"nextActions,omitempty"`
	Unmapped     []string               `json:"unmapped,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(_ *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <definitions-dir> <definition-id> <data.json>",
		Short: "Validate a JSON document against a form definition",
		Long: `Validate a JSON object of field values against one form definition
without creating a submission.

Keys of the object may be dot-paths. The report lists field errors in
display order with one next action per error. The exit code is non-zero
when the data is invalid.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := runValidate(cmd, args[0], args[1], args[2])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(report); err != nil {
				return err
			}
			if !report.Valid {
				return ErrDataInvalid
			}
			return nil
		},
	}
	return cmd
}

func runValidate(cmd *cobra.Command, dir, definitionID, dataPath string) (*ValidationReport, error) {
	defs, err := schema.LoadDir(dir)
	if err != nil {
		return nil, err
	}
	def, err := defs.Lookup(cmd.Context(), definitionID)
	if err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(dataPath)
	if err != nil {
		return nil, fmt.Errorf("read data: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var data map[string]any
	if err := dec.Decode(&data); err != nil {
		return nil, fmt.Errorf("%s: data must be a JSON object: %w", dataPath, err)
	}

	r := validation.Validate(def.Schema, data)
	return &ValidationReport{
		DefinitionID: def.ID(),
		Valid:        r.Valid,
		Summary:      validation.Summary(r.Errors),
		Errors:       r.Errors,
		NextActions:  validation.Guide(def.Schema, r.Errors),
		Unmapped:     r.Unmapped,
	}, nil
}
